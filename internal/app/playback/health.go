package playback

import (
	"context"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// Backend is an audio backend node that can lose and regain its connection.
type Backend interface {
	Connected() bool
	Reconnect(ctx context.Context) error
}

// Monitor periodically reconnects a lost backend, giving up after a bounded
// number of consecutive failures until the backend is seen connected again.
type Monitor struct {
	backend     Backend
	interval    time.Duration
	maxAttempts int

	mu       sync.Mutex
	failures int
}

// NewMonitor creates a health monitor.
func NewMonitor(backend Backend, interval time.Duration, maxAttempts int) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Monitor{backend: backend, interval: interval, maxAttempts: maxAttempts}
}

// Run checks the backend every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one health tick and reports whether the backend is connected afterwards.
func (m *Monitor) Check(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend.Connected() {
		if m.failures > 0 {
			zlog.Info().Msgf("health: backend recovered after %d failed attempts", m.failures)
		}
		m.failures = 0
		return true
	}
	if m.failures >= m.maxAttempts {
		zlog.Debug().Msgf("health: backend down, reconnect attempts exhausted (%d)", m.failures)
		return false
	}

	if err := m.backend.Reconnect(ctx); err != nil {
		m.failures++
		zlog.Warn().Msgf("health: reconnect failed, attempt=%d/%d error=%v", m.failures, m.maxAttempts, err)
		return false
	}
	zlog.Info().Msg("health: backend reconnected")
	m.failures = 0
	return true
}

// Failures returns the current number of consecutive failed reconnects.
func (m *Monitor) Failures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}
