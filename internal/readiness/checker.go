// Package readiness aggregates liveness probes against the three backends the
// hub cannot run without: the registry database, the discovery agent and the
// schema registry. The aggregate is DOWN as soon as any one of them is.
package readiness

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each backend probe independently.
const probeTimeout = 2 * time.Second

// Status is the health of one backend or of the aggregate.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// Probe is the outcome of one backend check.
type Probe struct {
	Status  Status `json:"status"`
	Details string `json:"details,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is the aggregate readiness report.
type Result struct {
	Name   string           `json:"name"`
	Status Status           `json:"status"`
	Checks map[string]Probe `json:"checks"`
}

// Up reports whether every backend probe passed.
func (r *Result) Up() bool { return r.Status == StatusUp }

// DB is the slice of the store's connection pool the checker probes.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Agent probes the discovery agent's self endpoint.
type Agent interface {
	AgentInfo(ctx context.Context) error
}

// Registry probes the schema registry's system info endpoint.
type Registry interface {
	IsHealthy(ctx context.Context) bool
}

// Checker runs the three backend probes concurrently.
type Checker struct {
	db       DB
	agent    Agent
	registry Registry
	log      *zap.Logger
}

func New(db DB, agent Agent, registry Registry, log *zap.Logger) *Checker {
	return &Checker{db: db, agent: agent, registry: registry, log: log}
}

// Check probes all backends and returns the aggregate. Each probe gets its
// own deadline, so a hung backend costs at most probeTimeout.
func (c *Checker) Check(ctx context.Context) *Result {
	result := &Result{
		Name:   "dependent-services",
		Status: StatusUp,
		Checks: make(map[string]Probe, 3),
	}

	var mu sync.Mutex
	record := func(name string, probe Probe) {
		mu.Lock()
		defer mu.Unlock()
		result.Checks[name] = probe
		if probe.Status == StatusDown {
			result.Status = StatusDown
		}
	}

	var g errgroup.Group
	g.Go(func() error { record("postgres", c.checkPostgres(ctx)); return nil })
	g.Go(func() error { record("consul", c.checkConsul(ctx)); return nil })
	g.Go(func() error { record("apicurio", c.checkApicurio(ctx)); return nil })
	// Probes report through record and never fail the group.
	_ = g.Wait()

	if !result.Up() {
		c.log.Warn("Readiness check failed", zap.Any("checks", result.Checks))
	}
	return result
}

func (c *Checker) checkPostgres(ctx context.Context) Probe {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var one int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return Probe{Status: StatusDown, Error: err.Error()}
	}
	return Probe{Status: StatusUp, Details: "Service registry database is accessible"}
}

func (c *Checker) checkConsul(ctx context.Context) Probe {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := c.agent.AgentInfo(ctx); err != nil {
		return Probe{Status: StatusDown, Error: "Failed to connect to Consul: " + err.Error()}
	}
	return Probe{Status: StatusUp, Details: "Connected to Consul agent"}
}

func (c *Checker) checkApicurio(ctx context.Context) Probe {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if !c.registry.IsHealthy(ctx) {
		return Probe{Status: StatusDown, Error: "Schema registry health check failed"}
	}
	return Probe{Status: StatusUp, Details: "Schema registry is accessible"}
}
