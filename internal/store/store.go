// Package store provides the generic action → effect → event pipeline that
// every screen is built on: a Store owns an inbound action queue, an outbound
// event bus and the loading/error projections shared by its observers.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spiffcs/firststep/internal/log"
)

// Operation is an asynchronous unit of work run inside a Call envelope.
// Events produced by the operation are published before it returns.
type Operation func(ctx context.Context) error

// Handler interprets actions. It is the only place a concrete store adds
// behavior: each action maps to one Call, or to a synchronous side effect.
type Handler[E, A any] interface {
	Handle(ctx context.Context, s *Store[E, A], action A)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[E, A any] func(ctx context.Context, s *Store[E, A], action A)

// Handle calls f(ctx, s, action).
func (f HandlerFunc[E, A]) Handle(ctx context.Context, s *Store[E, A], action A) {
	f(ctx, s, action)
}

// envelope is one Call invocation: the operation and what a retry runs.
type envelope struct {
	op    Operation
	retry Operation
}

// inbound is what travels through the store's inbox. Exactly one of action
// or envelope is meaningful.
type inbound[A any] struct {
	action A
	env    *envelope
}

// Store is a generic container parameterized by an event type E and an
// action type A. A single actor goroutine handles every action and executes
// every Call envelope in arrival order, so loading/error mutation and event
// publication never run concurrently within one store.
type Store[E, A any] struct {
	name    string
	handler Handler[E, A]
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inbox   *Bus[inbound[A]]
	events  *Bus[E]
	loading *Value[bool]
	errs    *Value[*AppError]

	done chan struct{}
}

// Option configures a Store.
type Option func(*options)

type options struct {
	name   string
	logger *slog.Logger
	ctx    context.Context
}

// WithName sets the name used to attribute log lines.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger. Defaults to the global logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithContext sets the parent context handed to operations. Canceling it has
// the same effect on operations as Close.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
	}
}

// New creates a store and starts its actor.
func New[E, A any](handler Handler[E, A], opts ...Option) *Store[E, A] {
	o := options{
		name: "store",
		ctx:  context.Background(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Logger()
	}

	ctx, cancel := context.WithCancel(o.ctx)
	s := &Store[E, A]{
		name:    o.name,
		handler: handler,
		log:     o.logger.With("store", o.name),
		ctx:     ctx,
		cancel:  cancel,
		inbox:   NewBus[inbound[A]](),
		events:  NewBus[E](),
		loading: NewValue(false),
		errs:    NewValue[*AppError](nil),
		done:    make(chan struct{}),
	}

	go s.run(s.inbox.Subscribe())
	return s
}

// Name returns the store name.
func (s *Store[E, A]) Name() string {
	return s.name
}

// Dispatch enqueues an action. It never blocks and never fails; the outcome
// is observed through Events, Loading and Errors.
func (s *Store[E, A]) Dispatch(action A) {
	s.log.Debug("dispatch", "action", fmt.Sprintf("%T", action))
	s.inbox.Publish(inbound[A]{action: action})
}

// Events subscribes to the store's events. The caller must Close the
// subscription when it is done with it.
func (s *Store[E, A]) Events() *Subscription[E] {
	return s.events.Subscribe()
}

// Publish broadcasts an event to the current subscribers.
func (s *Store[E, A]) Publish(event E) {
	s.log.Debug("event", "event", fmt.Sprint(event))
	s.events.Publish(event)
}

// Loading is true while a Call envelope is executing.
func (s *Store[E, A]) Loading() *Value[bool] {
	return s.loading
}

// Errors holds the error of the last failed Call, or nil.
func (s *Store[E, A]) Errors() *Value[*AppError] {
	return s.errs
}

// Retry re-runs the operation behind the current error. It returns false
// when no error is present or the error cannot be retried.
func (s *Store[E, A]) Retry() bool {
	return s.errs.Get().Retry()
}

// DismissError clears the error projection without retrying.
func (s *Store[E, A]) DismissError() {
	s.errs.Set(nil)
}

// Call runs op inside the loading/error envelope. It must only be called
// from Handle, where it executes on the store's actor and returns once the
// envelope is complete.
func (s *Store[E, A]) Call(op Operation, opts ...CallOption) {
	env := &envelope{op: op, retry: op}
	for _, opt := range opts {
		opt(env)
	}
	s.execute(env)
}

// CallOption configures a single Call.
type CallOption func(*envelope)

// WithRetry sets the operation a retry runs. Defaults to the original
// operation.
func WithRetry(op Operation) CallOption {
	return func(e *envelope) {
		if op != nil {
			e.retry = op
		}
	}
}

// Close stops the actor, cancels in-flight operations and closes every
// subscription handed out by the store.
func (s *Store[E, A]) Close() {
	s.cancel()
	s.inbox.Close()
	<-s.done
	s.events.Close()
	s.loading.Close()
	s.errs.Close()
}

func (s *Store[E, A]) run(inbox *Subscription[inbound[A]]) {
	defer close(s.done)

	for msg := range inbox.C() {
		if msg.env != nil {
			s.execute(msg.env)
			continue
		}
		s.handler.Handle(s.ctx, s, msg.action)
	}
}

func (s *Store[E, A]) execute(env *envelope) {
	s.errs.Set(nil)
	s.loading.Set(true)

	err := s.invoke(env.op)
	s.loading.Set(false)
	if err == nil {
		return
	}

	s.log.Warn("operation failed", "error", err)
	again := &envelope{op: env.retry, retry: env.retry}
	s.errs.Set(&AppError{
		Kind:      ErrorGeneric,
		Message:   DefaultErrorMessage,
		Retryable: true,
		retry: func() {
			s.inbox.Publish(inbound[A]{env: again})
		},
		cause: err,
	})
}

func (s *Store[E, A]) invoke(op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(s.ctx)
}
