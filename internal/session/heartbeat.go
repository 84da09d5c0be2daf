package session

import (
	"time"

	"github.com/rs/zerolog/log"
)

// HeartbeatMonitor drives every time-based transition: liveness probes, peer
// connection timeouts, reconnection grace expiry, stalled negotiations, and
// forced session expiry. Each tick snapshots the registry and injects a sweep
// into every session's serialized path.
type HeartbeatMonitor struct {
	registry *Registry
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
	done     chan struct{}
}

func NewHeartbeatMonitor(registry *Registry, interval time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		registry: registry,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (m *HeartbeatMonitor) Start() {
	go m.run()
}

// Stop halts the loop and waits for a sweep in progress to finish.
func (m *HeartbeatMonitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *HeartbeatMonitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.interval).Msg("heartbeat monitor started")
	for {
		select {
		case <-ticker.C:
			m.SweepOnce()
		case <-m.stop:
			return
		}
	}
}

// SweepOnce runs a single sweep over every live session.
func (m *HeartbeatMonitor) SweepOnce() {
	now := m.now()
	for _, s := range m.registry.Sessions() {
		s.Sweep(now)
	}
}
