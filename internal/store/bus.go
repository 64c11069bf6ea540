package store

import "sync"

// Bus broadcasts values to every subscription attached at the moment of
// publication. Each subscription has its own unbounded FIFO queue drained by
// a dedicated goroutine, so Publish never blocks on a slow reader and a slow
// reader never delays the others. Late subscribers do not see earlier values.
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewBus creates an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe attaches a new subscriber. Subscribing to a closed bus returns an
// already closed subscription.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	s := newSubscription(b)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.Close()
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s
}

// Publish enqueues v for every currently attached subscriber and returns.
// Publishing on a closed bus is a no-op.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		s.push(v)
	}
}

// Len returns the number of attached subscribers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches and closes every subscription.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription[T], 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*Subscription[T]]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (b *Bus[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription receives the values published on a Bus after it was attached.
type Subscription[T any] struct {
	bus *Bus[T]
	out chan T

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	closed bool

	done chan struct{}
	once sync.Once
}

func newSubscription[T any](bus *Bus[T]) *Subscription[T] {
	s := &Subscription[T]{
		bus:  bus,
		out:  make(chan T),
		done: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// C returns the delivery channel. It is closed once the subscription is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Close detaches the subscription and drops anything not yet delivered.
// It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		if s.bus != nil {
			s.bus.remove(s)
		}
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, v)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *Subscription[T]) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
