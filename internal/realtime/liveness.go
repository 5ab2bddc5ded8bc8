package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat-live/internal/metrics"
)

// LivenessMonitor pings every open connection once per interval. A connection
// that has not answered the previous ping by the next tick is handed to
// onDead. This is the only mechanism that detects peers which vanished
// without closing their socket.
type LivenessMonitor struct {
	interval  time.Duration
	writeWait time.Duration
	conns     func() []*Connection
	onDead    func(*Connection)
	metrics   *metrics.Registry
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewLivenessMonitor creates a monitor over the connections returned by conns.
func NewLivenessMonitor(interval, writeWait time.Duration, conns func() []*Connection, onDead func(*Connection), m *metrics.Registry, log zerolog.Logger) *LivenessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &LivenessMonitor{
		interval:  interval,
		writeWait: writeWait,
		conns:     conns,
		onDead:    onDead,
		metrics:   m,
		log:       log.With().Str("component", "liveness").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the heartbeat loop in the calling goroutine until ctx is done or
// Stop is called. It returns at once if Stop already ran.
func (m *LivenessMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.interval).Msg("Liveness monitor started")

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-ctx.Done():
			m.log.Info().Msg("Liveness monitor stopping")
			return
		case <-m.ctx.Done():
			m.log.Info().Msg("Liveness monitor stopped")
			return
		}
	}
}

// Stop ends the heartbeat loop and waits for it to return.
func (m *LivenessMonitor) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// sweep performs one heartbeat cycle.
func (m *LivenessMonitor) sweep() {
	defer recoverPanic(m.log, "liveness-sweep")

	conns := m.conns()
	deadline := time.Now().Add(m.writeWait)
	reaped := 0

	for _, c := range conns {
		if !c.probe() {
			reaped++
			m.metrics.HeartbeatsReaped.Inc()
			c.log.Info().Time("last_pong_at", c.LastPongAt()).Msg("Heartbeat missed; terminating connection")
			m.onDead(c)
			continue
		}

		// A failed ping leaves the flag cleared, so the next tick reaps it.
		if err := c.ping(deadline); err != nil && !isExpectedCloseError(err) {
			c.log.Debug().Err(err).Msg("Ping failed")
		}
	}

	if reaped > 0 {
		m.log.Info().Int("connections", len(conns)).Int("reaped", reaped).Msg("Heartbeat sweep")
	}
}
