package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-examroom/internal/integrity"
	"github.com/stemsi/exstem-examroom/internal/model"
)

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry(0, 0, zerolog.Nop())
	f := newFixture(t, integrity.Config{})

	require.NoError(t, reg.Add(f.ctrl))
	assert.ErrorIs(t, reg.Add(f.ctrl), ErrSessionExists)

	got, ok := reg.Get(f.ctrl.ID())
	require.True(t, ok)
	assert.Same(t, f.ctrl, got)

	f.start(t)
	f.ctrl.AutoSubmit(context.Background())
	waitDone(t, f.ctrl)

	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRegistryEvictsUnstartedSessions(t *testing.T) {
	reg := NewRegistry(time.Hour, 20*time.Millisecond, zerolog.Nop())
	f := newFixture(t, integrity.Config{})
	require.NoError(t, reg.Add(f.ctrl))

	assert.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestRegistryShutdownSubmitsRunningSessions(t *testing.T) {
	reg := NewRegistry(time.Hour, 0, zerolog.Nop())

	running := newFixture(t, integrity.Config{})
	idle := newFixture(t, integrity.Config{})
	require.NoError(t, reg.Add(running.ctrl))
	require.NoError(t, reg.Add(idle.ctrl))
	running.start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, reg.Shutdown(ctx))

	assert.Equal(t, model.SessionStatusSubmitted, running.ctrl.Status())
	assert.Equal(t, model.SessionStatusLoading, idle.ctrl.Status())
	calls := running.sink.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].AutoSubmitted)
}
