package websocket

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Monitor pings every connection each interval and evicts the ones that
// did not answer the previous ping.
type Monitor struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger
}

func NewMonitor(manager *Manager, logger *zap.Logger) *Monitor {
	return &Monitor{
		manager:  manager,
		interval: manager.opts.PingInterval,
		logger:   logger,
	}
}

func (mon *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	mon.logger.Info("Liveness monitor started", zap.Duration("interval", mon.interval))

	for {
		select {
		case <-ticker.C:
			mon.Sweep()
		case <-ctx.Done():
			mon.logger.Info("Liveness monitor stopped")
			return
		}
	}
}

// Sweep runs one liveness pass and returns the number of evicted clients.
// Eviction only closes the socket; the client's read pump then runs the
// disconnect teardown, so a slow gateway never holds up the sweep.
func (mon *Monitor) Sweep() int {
	m := mon.manager
	evicted := 0

	for _, c := range m.registry.All() {
		if c.evicted.Load() {
			continue
		}

		if !c.alive.Load() {
			mon.logger.Info("Evicting unresponsive client",
				zap.String("clientID", c.ID),
				zap.String("role", string(c.Role())),
				zap.String("deviceID", c.DeviceID()))

			if m.metrics != nil {
				m.metrics.LivenessEvictions.Inc()
			}

			c.evicted.Store(true)
			c.Close()
			evicted++
			continue
		}

		c.alive.Store(false)
		if err := c.ping(time.Now().Add(m.opts.WriteWait)); err != nil {
			mon.logger.Debug("Ping failed", zap.Error(err), zap.String("clientID", c.ID))
		}
	}

	return evicted
}
