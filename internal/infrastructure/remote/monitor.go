package remote

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fleetinspect/internal/bootstrap/logging"
	"fleetinspect/internal/errs"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the health of the back office as last probed.
type Status struct {
	Online       bool
	LastCheck    time.Time
	LastSuccess  *time.Time
	LastFailure  *time.Time
	FailureCount int
	AvgLatency   time.Duration
}

// Monitor probes the back office health endpoint and reports offline to
// online transitions, which are the moments worth draining the queue.
type Monitor struct {
	mu       sync.RWMutex
	pinger   Pinger
	interval time.Duration
	status   Status

	latencySum   time.Duration
	latencyCount int

	online chan struct{}
}

func NewMonitor(pinger Pinger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		pinger:   pinger,
		interval: interval,
		online:   make(chan struct{}, 1),
	}
}

// Online delivers one signal per offline to online transition. Signals are
// coalesced when nobody is listening.
func (m *Monitor) Online() <-chan struct{} { return m.online }

func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status.Online
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "remote.monitor"))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(logCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(logCtx)
		}
	}
}

// Check runs one probe and returns whether the back office is reachable.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.pinger == nil {
		return false
	}
	start := time.Now()
	err := m.pinger.Ping(ctx)
	latency := time.Since(start)

	m.mu.Lock()
	wasOnline := m.status.Online
	now := time.Now()
	m.status.LastCheck = now
	if err != nil {
		m.status.Online = false
		m.status.FailureCount++
		m.status.LastFailure = &now
	} else {
		m.status.Online = true
		m.status.FailureCount = 0
		m.status.LastSuccess = &now
		m.latencySum += latency
		m.latencyCount++
		m.status.AvgLatency = m.latencySum / time.Duration(m.latencyCount)
	}
	online := m.status.Online
	m.mu.Unlock()

	switch {
	case online && !wasOnline:
		logging.Info(ctx, "back office reachable", slog.Duration("latency", latency))
		select {
		case m.online <- struct{}{}:
		default:
		}
	case !online && wasOnline:
		logging.Warn(ctx, "back office unreachable", slog.Any("err", errs.Loggable(err)))
	}
	return online
}
