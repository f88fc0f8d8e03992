package integrity

import (
	"context"
	"errors"
	"sync"
)

// ErrSignalUnsupported is returned by Subscribe for a source the environment
// cannot observe.
var ErrSignalUnsupported = errors.New("signal source unsupported")

// FullscreenFunc performs a fullscreen transition.
type FullscreenFunc func(ctx context.Context) error

// Dispatcher is an in-process Environment: events pushed through Emit are
// fanned out to the current subscribers of their signal. Transports embed it
// and provide the fullscreen primitives.
type Dispatcher struct {
	mu          sync.Mutex
	nextID      int
	handlers    map[Signal]map[int]Handler
	unsupported map[Signal]bool
	fullscreen  bool
	confirmed   bool

	requestFn FullscreenFunc
	exitFn    FullscreenFunc
}

// NewDispatcher creates a dispatcher. Nil fullscreen funcs succeed trivially.
func NewDispatcher(request, exit FullscreenFunc) *Dispatcher {
	return &Dispatcher{
		handlers:    make(map[Signal]map[int]Handler),
		unsupported: make(map[Signal]bool),
		requestFn:   request,
		exitFn:      exit,
	}
}

// NewConfirmingDispatcher creates a dispatcher whose fullscreen requests only
// ask for the transition. The state changes when a fullscreen event reports it.
func NewConfirmingDispatcher(request, exit FullscreenFunc) *Dispatcher {
	d := NewDispatcher(request, exit)
	d.confirmed = true
	return d
}

// Disable marks a signal source as unavailable for future subscriptions.
func (d *Dispatcher) Disable(signal Signal) {
	d.mu.Lock()
	d.unsupported[signal] = true
	d.mu.Unlock()
}

// Subscribe implements Environment.
func (d *Dispatcher) Subscribe(signal Signal, h Handler) (Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unsupported[signal] {
		return nil, ErrSignalUnsupported
	}
	if d.handlers[signal] == nil {
		d.handlers[signal] = make(map[int]Handler)
	}
	d.nextID++
	id := d.nextID
	d.handlers[signal][id] = h

	var once sync.Once
	return SubscriptionFunc(func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers[signal], id)
			d.mu.Unlock()
		})
	}), nil
}

// Subscribers returns the number of live subscriptions for a signal.
func (d *Dispatcher) Subscribers(signal Signal) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[signal])
}

// Emit delivers ev to every subscriber of ev.Signal. Fullscreen events also
// update the tracked fullscreen state.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.Lock()
	if ev.Signal == SignalFullscreen {
		d.fullscreen = ev.FullscreenActive
	}
	hs := make([]Handler, 0, len(d.handlers[ev.Signal]))
	for _, h := range d.handlers[ev.Signal] {
		hs = append(hs, h)
	}
	d.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// RequestFullscreen implements Environment.
func (d *Dispatcher) RequestFullscreen(ctx context.Context) error {
	if d.requestFn != nil {
		if err := d.requestFn(ctx); err != nil {
			return err
		}
	}
	if d.confirmed {
		return nil
	}
	d.mu.Lock()
	d.fullscreen = true
	d.mu.Unlock()
	return nil
}

// ExitFullscreen implements Environment.
func (d *Dispatcher) ExitFullscreen(ctx context.Context) error {
	if d.exitFn != nil {
		if err := d.exitFn(ctx); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.fullscreen = false
	d.mu.Unlock()
	return nil
}

// IsFullscreen implements Environment.
func (d *Dispatcher) IsFullscreen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fullscreen
}
