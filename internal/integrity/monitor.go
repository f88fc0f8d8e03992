// Package integrity classifies browser environment signals into activity and
// violations for a running exam session.
package integrity

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/activitylog"
	"github.com/stemsi/exstem-examroom/internal/model"
)

// DefaultMaxViolations applies when Config.MaxViolations is not positive.
const DefaultMaxViolations = 5

// Config controls classification.
type Config struct {
	RequireFullscreen bool
	MaxViolations     int
}

// Limit returns the violation ceiling in effect.
func (c Config) Limit() int {
	if c.MaxViolations <= 0 {
		return DefaultMaxViolations
	}
	return c.MaxViolations
}

// Callbacks are invoked outside the monitor's lock.
type Callbacks struct {
	OnViolation            func(kind model.ViolationKind, count int)
	OnMaxViolationsReached func(count int)
}

// Monitor observes an Environment and writes every signal to the activity log.
// It holds no exam state beyond the violation counter.
type Monitor struct {
	env       Environment
	log       *activitylog.Log
	callbacks Callbacks
	logger    zerolog.Logger

	mu      sync.Mutex
	cfg     Config
	enabled bool
	subs    map[Signal]Subscription
	count   int
	fired   bool
	// pending is set while a fullscreen request awaits the browser's answer.
	pending bool
}

// NewMonitor creates a disabled monitor.
func NewMonitor(env Environment, log *activitylog.Log, callbacks Callbacks, logger zerolog.Logger) *Monitor {
	return &Monitor{
		env:       env,
		log:       log,
		callbacks: callbacks,
		logger:    logger.With().Str("component", "integrity_monitor").Logger(),
		subs:      make(map[Signal]Subscription, len(Signals)),
	}
}

// Enable starts observing every signal source. Sources that cannot be
// observed are logged and skipped. Calling Enable twice is a no-op.
func (m *Monitor) Enable(cfg Config) {
	m.mu.Lock()
	if m.enabled {
		m.mu.Unlock()
		return
	}
	m.cfg = cfg
	m.enabled = true
	m.mu.Unlock()

	for _, s := range Signals {
		m.Start(s)
	}
}

// Start begins observing a single source.
func (m *Monitor) Start(signal Signal) {
	m.mu.Lock()
	_, active := m.subs[signal]
	enabled := m.enabled
	m.mu.Unlock()
	if !enabled || active {
		return
	}

	sub, err := m.env.Subscribe(signal, func(ev Event) {
		ev.Signal = signal
		m.handle(ev)
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("signal", string(signal)).Msg("Signal source unavailable")
		m.log.Append("monitor_unavailable", map[string]any{
			"signal": string(signal),
			"error":  err.Error(),
		})
		return
	}

	m.mu.Lock()
	_, active = m.subs[signal]
	if !m.enabled || active {
		m.mu.Unlock()
		sub.Unsubscribe()
		return
	}
	m.subs[signal] = sub
	m.mu.Unlock()
}

// Stop detaches a single source without touching the others.
func (m *Monitor) Stop(signal Signal) {
	m.mu.Lock()
	sub, ok := m.subs[signal]
	delete(m.subs, signal)
	m.mu.Unlock()

	if ok {
		sub.Unsubscribe()
	}
}

// Disable detaches every source. Once it returns no further entries or
// violations are recorded from environment signals.
func (m *Monitor) Disable() {
	m.mu.Lock()
	m.enabled = false
	subs := m.subs
	m.subs = make(map[Signal]Subscription, len(Signals))
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Enabled reports whether the monitor is observing.
func (m *Monitor) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// ViolationCount returns the number of violations seen so far.
func (m *Monitor) ViolationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// RequestFullscreen asks the environment to enter fullscreen. Failure is
// logged as activity and never returned. When the environment settles the
// transition later, fullscreen_entered waits for the first fullscreen signal.
func (m *Monitor) RequestFullscreen(ctx context.Context) {
	m.mu.Lock()
	m.pending = true
	m.mu.Unlock()

	if err := m.env.RequestFullscreen(ctx); err != nil {
		m.mu.Lock()
		m.pending = false
		m.mu.Unlock()
		m.logger.Debug().Err(err).Msg("Fullscreen request failed")
		m.log.Append(model.ActionFullscreenFailed, map[string]any{"error": err.Error()})
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.pending {
		// The browser already answered.
		return
	}
	if m.env.IsFullscreen() {
		m.pending = false
		m.log.Append(model.ActionFullscreenEntered, nil)
		return
	}
	m.log.Append(model.ActionFullscreenRequested, nil)
}

// ExitFullscreen leaves fullscreen if the environment is in it.
func (m *Monitor) ExitFullscreen(ctx context.Context) {
	if !m.env.IsFullscreen() {
		return
	}
	if err := m.env.ExitFullscreen(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("Fullscreen exit failed")
		m.log.Append(model.ActionFullscreenExitFailed, map[string]any{"error": err.Error()})
		return
	}
	m.log.Append(model.ActionFullscreenExited, nil)
}

func (m *Monitor) handle(ev Event) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}

	if ev.Signal == SignalFullscreen && m.pending {
		m.pending = false
		if ev.FullscreenActive {
			m.log.Append(model.ActionFullscreenEntered, nil)
		} else {
			m.log.Append(model.ActionFullscreenFailed, map[string]any{"error": "fullscreen not entered"})
		}
		m.mu.Unlock()
		return
	}

	kind, violation := m.classify(ev)
	if !violation {
		m.log.Append(benignAction(ev), nil)
		m.mu.Unlock()
		return
	}

	m.count++
	count := m.count
	reached := !m.fired && count >= m.cfg.Limit()
	if reached {
		m.fired = true
	}

	meta := map[string]any{"violationCount": count}
	if ev.Signal == SignalPaste {
		meta["action"] = "paste"
		meta["length"] = ev.PasteLength
	}
	m.log.Append(kind.Action(), meta)
	if reached {
		m.log.Append(model.ActionMaxViolations, map[string]any{"count": count})
	}
	m.mu.Unlock()

	m.logger.Info().Str("kind", string(kind)).Int("count", count).Msg("Violation recorded")

	if m.callbacks.OnViolation != nil {
		m.callbacks.OnViolation(kind, count)
	}
	if reached && m.callbacks.OnMaxViolationsReached != nil {
		m.callbacks.OnMaxViolationsReached(count)
	}
}

// classify must be called with m.mu held.
func (m *Monitor) classify(ev Event) (model.ViolationKind, bool) {
	switch ev.Signal {
	case SignalVisibility:
		if ev.Hidden {
			return model.ViolationTabSwitch, true
		}
	case SignalFullscreen:
		if !ev.FullscreenActive && m.cfg.RequireFullscreen {
			return model.ViolationFullscreenExit, true
		}
	case SignalPaste:
		return model.ViolationCopyPaste, true
	}
	return "", false
}

func benignAction(ev Event) string {
	switch ev.Signal {
	case SignalVisibility:
		return model.ActionVisibilityVisible
	case SignalFullscreen:
		if ev.FullscreenActive {
			return model.ActionFullscreenActive
		}
		return model.ActionFullscreenInactive
	case SignalContextMenu:
		return model.ActionRightClickAttempt
	case SignalCopy:
		return model.ActionCopyAttempt
	default:
		return "signal_" + string(ev.Signal)
	}
}
