package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-examroom/internal/model"
)

// ErrSessionExists is returned when registering a duplicate session ID.
var ErrSessionExists = errors.New("session already registered")

// Registry holds the live sessions of this process so a reconnecting client
// reattaches to the same controller. Submitted sessions are evicted after the
// retention period, and sessions nobody starts within startTimeout are dropped.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[uuid.UUID]*Controller
	retention    time.Duration
	startTimeout time.Duration
	logger       zerolog.Logger
}

// NewRegistry creates an empty registry. A zero startTimeout keeps unstarted
// sessions until shutdown.
func NewRegistry(retention, startTimeout time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions:     make(map[uuid.UUID]*Controller),
		retention:    retention,
		startTimeout: startTimeout,
		logger:       logger.With().Str("component", "session_registry").Logger(),
	}
}

// Add registers c and schedules its eviction once it is done.
func (r *Registry) Add(c *Controller) error {
	r.mu.Lock()
	if _, ok := r.sessions[c.ID()]; ok {
		r.mu.Unlock()
		return ErrSessionExists
	}
	r.sessions[c.ID()] = c
	r.mu.Unlock()

	go r.evictWhenDone(c)
	return nil
}

func (r *Registry) evictWhenDone(c *Controller) {
	if r.startTimeout > 0 {
		select {
		case <-c.Done():
		case <-time.After(r.startTimeout):
			if c.Status() == model.SessionStatusLoading {
				r.Remove(c.ID())
				r.logger.Debug().Str("session_id", c.ID().String()).Msg("Session never started, evicted")
				return
			}
			<-c.Done()
		}
	} else {
		<-c.Done()
	}
	if r.retention > 0 {
		time.Sleep(r.retention)
	}
	r.Remove(c.ID())
	r.logger.Debug().Str("session_id", c.ID().String()).Msg("Session evicted")
}

// Get returns the session with the given ID.
func (r *Registry) Get(id uuid.UUID) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[id]
	return c, ok
}

// Remove forgets a session.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// ListByExam returns the registered sessions of an exam.
func (r *Registry) ListByExam(examID uuid.UUID) []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Controller
	for _, c := range r.sessions {
		if c.exam.ID == examID {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown auto-submits every session still in progress and waits for their
// submissions to resolve or ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	sessions := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		sessions = append(sessions, c)
	}
	r.mu.RUnlock()

	submitted := 0
	for _, c := range sessions {
		if c.AutoSubmit(ctx) {
			submitted++
		}
	}
	r.logger.Info().Int("sessions", len(sessions)).Int("auto_submitted", submitted).Msg("Shutting down sessions")

	for _, c := range sessions {
		if c.Status() == model.SessionStatusLoading {
			continue
		}
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
