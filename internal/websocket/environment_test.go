package websocket

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-examroom/internal/integrity"
)

type fakeSender struct {
	mu     sync.Mutex
	sent   []any
	refuse bool
}

func (f *fakeSender) Send(v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return false
	}
	f.sent = append(f.sent, v)
	return true
}

func TestFullscreenCommands(t *testing.T) {
	env := NewEnvironment()
	ctx := context.Background()

	assert.ErrorIs(t, env.RequestFullscreen(ctx), ErrNotAttached)
	assert.False(t, env.IsFullscreen())

	s := &fakeSender{}
	env.Attach(s)
	require.NoError(t, env.RequestFullscreen(ctx))
	assert.False(t, env.IsFullscreen(), "entered only once the browser reports it")
	require.NoError(t, env.HandleSignal(SignalRequest{Signal: integrity.SignalFullscreen, Active: true}))
	assert.True(t, env.IsFullscreen())
	require.NoError(t, env.ExitFullscreen(ctx))
	assert.False(t, env.IsFullscreen())

	require.Len(t, s.sent, 2)
	assert.Equal(t, FullscreenResponse{Event: EventFullscreen, Command: FullscreenEnter}, s.sent[0])
	assert.Equal(t, FullscreenResponse{Event: EventFullscreen, Command: FullscreenExit}, s.sent[1])

	s.refuse = true
	assert.ErrorIs(t, env.RequestFullscreen(ctx), ErrSendFailed)
}

func TestDetachOnlyForgetsCurrentSender(t *testing.T) {
	env := NewEnvironment()
	old, current := &fakeSender{}, &fakeSender{}
	env.Attach(old)
	env.Attach(current)
	env.Detach(old)

	require.NoError(t, env.RequestFullscreen(context.Background()))
	assert.Empty(t, old.sent)
	assert.Len(t, current.sent, 1)

	env.Detach(current)
	assert.ErrorIs(t, env.RequestFullscreen(context.Background()), ErrNotAttached)
}

func TestHandleSignal(t *testing.T) {
	env := NewEnvironment()
	var got []integrity.Event
	_, err := env.Subscribe(integrity.SignalPaste, func(ev integrity.Event) { got = append(got, ev) })
	require.NoError(t, err)

	require.NoError(t, env.HandleSignal(SignalRequest{Signal: integrity.SignalPaste, Length: 12}))
	assert.ErrorIs(t, env.HandleSignal(SignalRequest{Signal: "keyboard"}), ErrUnknownSignal)

	require.Len(t, got, 1)
	assert.Equal(t, 12, got[0].PasteLength)

	require.NoError(t, env.HandleSignal(SignalRequest{Signal: integrity.SignalFullscreen, Active: true}))
	assert.True(t, env.IsFullscreen())
}

func TestMarkUnsupported(t *testing.T) {
	env := NewEnvironment()
	env.MarkUnsupported([]string{"fullscreen", "bogus"})

	_, err := env.Subscribe(integrity.SignalFullscreen, func(integrity.Event) {})
	assert.ErrorIs(t, err, integrity.ErrSignalUnsupported)
	_, err = env.Subscribe(integrity.SignalCopy, func(integrity.Event) {})
	assert.NoError(t, err)
}
