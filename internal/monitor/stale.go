// Package monitor holds the background reconciliation loops: the stale
// monitor that retires instances whose heartbeat lapsed, and the schema
// syncer that replays failed mirrors to the artifact registry. Both loops are
// the operator-facing half of the registration flow's weak guarantees — the
// flow itself never retries, these do.
package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pipestream-ai/platform-registration/internal/store"
	"github.com/pipestream-ai/platform-registration/pkg/metrics"
)

// StaleStore is the store slice the stale monitor needs.
type StaleStore interface {
	FindStaleServices(ctx context.Context) ([]*store.ServiceModule, error)
	MarkUnhealthy(ctx context.Context, serviceID string) error
}

// StaleMonitor periodically scans for ACTIVE rows whose heartbeat fell
// outside the window and marks them UNHEALTHY. Rows are never deleted here;
// flipping the status keeps the history and lets a late heartbeat recover the
// instance.
type StaleMonitor struct {
	store    StaleStore
	interval time.Duration
	log      *zap.Logger
}

// NewStaleMonitor builds a monitor sweeping at the given interval.
func NewStaleMonitor(staleStore StaleStore, interval time.Duration, log *zap.Logger) *StaleMonitor {
	return &StaleMonitor{store: staleStore, interval: interval, log: log}
}

// Run sweeps until ctx is cancelled. One sweep runs immediately so a restart
// does not wait a full interval to catch rows that went stale during the
// outage.
func (m *StaleMonitor) Run(ctx context.Context) {
	m.log.Info("Starting stale service monitor", zap.Duration("interval", m.interval))

	m.sweep(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Stale service monitor stopped")
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *StaleMonitor) sweep(ctx context.Context) {
	stale, err := m.store.FindStaleServices(ctx)
	if err != nil {
		m.log.Warn("Stale scan failed", zap.Error(err))
		return
	}
	if len(stale) == 0 {
		return
	}

	m.log.Info("Found stale services", zap.Int("count", len(stale)))
	for _, module := range stale {
		err := m.store.MarkUnhealthy(ctx, module.ServiceID)
		switch {
		case err == nil:
			metrics.StaleServicesMarked.Inc()
			m.log.Warn("Marked stale service unhealthy",
				zap.String("service_id", module.ServiceID),
				zap.Time("last_heartbeat", module.LastHeartbeat))
		case errors.Is(err, store.ErrNotFound):
			// Deleted between the scan and the update; nothing to do.
		default:
			m.log.Error("Failed to mark service unhealthy",
				zap.String("service_id", module.ServiceID), zap.Error(err))
		}
	}
}
