package websocket

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/stemsi/exstem-examroom/internal/integrity"
)

var (
	ErrNotAttached   = errors.New("no client attached")
	ErrSendFailed    = errors.New("client did not accept the message")
	ErrUnknownSignal = errors.New("unknown signal")
)

// Sender delivers an event to the connected browser without blocking.
type Sender interface {
	Send(v any) bool
}

// Environment is the integrity.Environment of one session, fed by the signals
// its browser reports over the socket. Fullscreen transitions are sent as
// commands; the browser reports the resulting state back as a signal.
type Environment struct {
	*integrity.Dispatcher

	mu     sync.Mutex
	sender Sender
}

// NewEnvironment creates an environment with no client attached.
func NewEnvironment() *Environment {
	e := &Environment{}
	e.Dispatcher = integrity.NewConfirmingDispatcher(e.command(FullscreenEnter), e.command(FullscreenExit))
	return e
}

func (e *Environment) command(cmd string) integrity.FullscreenFunc {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.mu.Lock()
		s := e.sender
		e.mu.Unlock()
		if s == nil {
			return ErrNotAttached
		}
		if !s.Send(FullscreenResponse{Event: EventFullscreen, Command: cmd}) {
			return ErrSendFailed
		}
		return nil
	}
}

// Attach makes s the current browser connection, replacing any previous one.
func (e *Environment) Attach(s Sender) {
	e.mu.Lock()
	e.sender = s
	e.mu.Unlock()
}

// Detach forgets s if it is still the current connection.
func (e *Environment) Detach(s Sender) {
	e.mu.Lock()
	if e.sender == s {
		e.sender = nil
	}
	e.mu.Unlock()
}

// MarkUnsupported disables the named sources. Unknown names are ignored.
func (e *Environment) MarkUnsupported(names []string) {
	for _, n := range names {
		s := integrity.Signal(n)
		if slices.Contains(integrity.Signals, s) {
			e.Disable(s)
		}
	}
}

// HandleSignal turns a reported browser change into an integrity event.
func (e *Environment) HandleSignal(req SignalRequest) error {
	if !slices.Contains(integrity.Signals, req.Signal) {
		return ErrUnknownSignal
	}
	e.Emit(integrity.Event{
		Signal:           req.Signal,
		Hidden:           req.Hidden,
		FullscreenActive: req.Active,
		PasteLength:      req.Length,
	})
	return nil
}
