package integrity

import "context"

// Signal names one of the observable environment sources.
type Signal string

const (
	SignalVisibility  Signal = "visibility"
	SignalFullscreen  Signal = "fullscreen"
	SignalContextMenu Signal = "context_menu"
	SignalCopy        Signal = "copy"
	SignalPaste       Signal = "paste"
)

// Signals lists every source the monitor observes once enabled.
var Signals = []Signal{SignalVisibility, SignalFullscreen, SignalContextMenu, SignalCopy, SignalPaste}

// Event is a raw environment observation. Only the field matching the signal
// is meaningful.
type Event struct {
	Signal           Signal
	Hidden           bool
	FullscreenActive bool
	PasteLength      int
}

// Handler receives events for a subscribed signal.
type Handler func(Event)

// Subscription is a disposable listener registration.
type Subscription interface {
	Unsubscribe()
}

// Environment is the capability surface of the student's browser: change
// notifications for each signal plus the fullscreen primitives.
type Environment interface {
	Subscribe(signal Signal, h Handler) (Subscription, error)
	RequestFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
	IsFullscreen() bool
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }
