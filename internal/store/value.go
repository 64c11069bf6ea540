package store

import "sync"

// Value is a current-value subject: subscribers receive the value held at
// subscription time first, then every later Set in order. Set always
// notifies, even when the value does not change.
type Value[T any] struct {
	mu  sync.Mutex
	v   T
	bus *Bus[T]
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, bus: NewBus[T]()}
}

// Get returns the current value.
func (p *Value[T]) Get() T {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v
}

// Set replaces the current value and notifies subscribers.
func (p *Value[T]) Set(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.v = v
	p.bus.Publish(v)
}

// Subscribe attaches a subscriber primed with the current value.
func (p *Value[T]) Subscribe() *Subscription[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.bus.Subscribe()
	s.push(p.v)
	return s
}

// Close closes every subscription. The value stays readable.
func (p *Value[T]) Close() {
	p.bus.Close()
}
