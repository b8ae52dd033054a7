package consul

import (
	"context"
	"time"

	"go.uber.org/zap"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
)

// Convergence knobs. The delay grows by one second per attempt from the base
// and is capped; with ten attempts the full wait is 72 seconds, comfortably
// past a cold JVM or container start.
const (
	healthCheckAttempts = 10
	healthBaseDelay     = 3 * time.Second
	healthMaxDelay      = 10 * time.Second
)

// NodeLister is the slice of Client the checker needs. Satisfied by *Client.
type NodeLister interface {
	HealthyNodes(ctx context.Context, serviceName string) ([]Node, error)
}

// HealthChecker polls the agent until a freshly registered instance shows up
// as passing. Registration alone is not enough: the agent needs a few check
// rounds before it trusts a new instance, and callers must not report success
// until it does.
type HealthChecker struct {
	nodes NodeLister
	log   *zap.Logger

	// sleep is swapped out in tests to avoid real waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHealthChecker builds a checker over the given node lister.
func NewHealthChecker(nodes NodeLister, log *zap.Logger) *HealthChecker {
	return &HealthChecker{nodes: nodes, log: log, sleep: sleepContext}
}

// WaitForHealthy blocks until serviceID is listed among the passing instances
// of its service, or until the attempts are exhausted. Query errors count as
// a failed attempt. Returns false immediately for ids the service name cannot
// be recovered from, and when ctx is cancelled mid-wait.
func (h *HealthChecker) WaitForHealthy(ctx context.Context, serviceID string) bool {
	serviceName, err := registrationv1.ServiceNameFromID(serviceID)
	if err != nil {
		h.log.Warn("Cannot derive service name for health check",
			zap.String("service_id", serviceID), zap.Error(err))
		return false
	}

	for attempt := 1; attempt <= healthCheckAttempts; attempt++ {
		if h.isPassing(ctx, serviceID, serviceName) {
			h.log.Info("Service reported healthy",
				zap.String("service_id", serviceID), zap.Int("attempt", attempt))
			return true
		}

		delay := healthBaseDelay + time.Duration(attempt-1)*time.Second
		if delay > healthMaxDelay {
			delay = healthMaxDelay
		}
		h.log.Debug("Service not healthy yet, waiting",
			zap.String("service_id", serviceID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := h.sleep(ctx, delay); err != nil {
			h.log.Warn("Health wait cancelled",
				zap.String("service_id", serviceID), zap.Error(err))
			return false
		}
	}

	h.log.Warn("Service did not become healthy in time",
		zap.String("service_id", serviceID),
		zap.Int("attempts", healthCheckAttempts))
	return false
}

func (h *HealthChecker) isPassing(ctx context.Context, serviceID, serviceName string) bool {
	nodes, err := h.nodes.HealthyNodes(ctx, serviceName)
	if err != nil {
		h.log.Warn("Health query failed",
			zap.String("service", serviceName), zap.Error(err))
		return false
	}
	for _, node := range nodes {
		if node.ServiceID == serviceID {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
