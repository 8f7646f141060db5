package playback

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

type fakeBackend struct {
	connected  bool
	reconnects int
	err        error
}

func (b *fakeBackend) Connected() bool { return b.connected }

func (b *fakeBackend) Reconnect(ctx context.Context) error {
	b.reconnects++
	if b.err != nil {
		return b.err
	}
	b.connected = true
	return nil
}

func TestMonitor_ConnectedDoesNothing(t *testing.T) {
	b := &fakeBackend{connected: true}
	m := NewMonitor(b, time.Minute, 3)

	assert.True(t, m.Check(context.Background()))
	assert.Zero(t, b.reconnects)
}

func TestMonitor_ReconnectsLostBackend(t *testing.T) {
	b := &fakeBackend{}
	m := NewMonitor(b, time.Minute, 3)

	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, 1, b.reconnects)
	assert.Zero(t, m.Failures())
}

func TestMonitor_BoundedAttempts(t *testing.T) {
	b := &fakeBackend{err: errors.New("connection refused")}
	m := NewMonitor(b, time.Minute, 3)

	for i := 0; i < 10; i++ {
		assert.False(t, m.Check(context.Background()))
	}
	assert.Equal(t, 3, b.reconnects)
	assert.Equal(t, 3, m.Failures())

	// The backend comes back on its own; the budget resets.
	b.connected = true
	assert.True(t, m.Check(context.Background()))
	assert.Zero(t, m.Failures())

	b.connected = false
	assert.False(t, m.Check(context.Background()))
	assert.Equal(t, 4, b.reconnects)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	b := &fakeBackend{}
	m := NewMonitor(b, 5*time.Millisecond, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Check(context.Background()) }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
