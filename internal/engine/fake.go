package engine

import (
	"context"
	"errors"
	"sync"
)

// Fake is an in-process engine used in tests and when no engine
// credentials are configured. Events are pushed with Emit; outbound
// messages are recorded for inspection.
type Fake struct {
	mu       sync.Mutex
	events   chan Event
	sent     []any
	started  bool
	startErr error
}

func NewFake() *Fake {
	return &Fake{events: make(chan Event, 64)}
}

// FailStartWith makes the next Start call return err.
func (f *Fake) FailStartWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

func (f *Fake) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		err := f.startErr
		f.startErr = nil
		return err
	}
	f.started = true
	return nil
}

func (f *Fake) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	return nil
}

func (f *Fake) Send(_ context.Context, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return errors.New("engine not connected")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *Fake) Events() <-chan Event { return f.events }

// Emit pushes an event to the consumer, as the remote engine would.
func (f *Fake) Emit(evt Event) { f.events <- evt }

// CloseEvents ends the stream, simulating the engine hanging up.
func (f *Fake) CloseEvents() { close(f.events) }

// Sent returns a copy of every outbound message so far.
func (f *Fake) Sent() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

// Started reports whether the fake engine is currently connected.
func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}
