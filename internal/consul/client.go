// Package consul wraps the discovery agent's HTTP API. The agent owns the
// liveness view of every instance; registration here always carries a gRPC
// health check so the agent can converge on its own.
package consul

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Check cadence for the gRPC health check the agent runs against each
// registered instance.
const (
	checkInterval        = "10s"
	checkDeregisterAfter = "1m"
)

// Registration is everything the agent needs to start tracking an instance.
// Capabilities are translated into "capability:<name>" tags and the version
// is injected into the metadata before the request goes out.
type Registration struct {
	ServiceID    string
	ServiceName  string
	Host         string
	Port         int
	Version      string
	Tags         []string
	Metadata     map[string]string
	Capabilities []string
}

// Node is one healthy instance as reported by the agent.
type Node struct {
	ServiceID string
	Name      string
	Address   string
	Port      int
	Tags      []string
	Meta      map[string]string
}

// Client is a thin, stateless wrapper over the agent API. One instance is
// shared; it is safe for concurrent use.
type Client struct {
	consul *api.Client
	log    *zap.Logger
}

// New connects to the agent at address ("host:port").
func New(address string, log *zap.Logger) (*Client, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	consul, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return &Client{consul: consul, log: log}, nil
}

// Register adds an instance to the agent's catalog with a gRPC health check
// against host:port. Failures never raise; the error is logged and false is
// returned.
func (c *Client) Register(ctx context.Context, reg Registration) bool {
	tags := make([]string, 0, len(reg.Tags)+len(reg.Capabilities))
	tags = append(tags, reg.Tags...)
	for _, capability := range reg.Capabilities {
		tags = append(tags, "capability:"+capability)
	}

	meta := make(map[string]string, len(reg.Metadata)+1)
	for k, v := range reg.Metadata {
		meta[k] = v
	}
	meta["version"] = reg.Version

	registration := &api.AgentServiceRegistration{
		ID:      reg.ServiceID,
		Name:    reg.ServiceName,
		Address: reg.Host,
		Port:    reg.Port,
		Tags:    tags,
		Meta:    meta,
		Check: &api.AgentServiceCheck{
			Name:                           reg.ServiceName + " gRPC Health Check",
			GRPC:                           fmt.Sprintf("%s:%d", reg.Host, reg.Port),
			Interval:                       checkInterval,
			DeregisterCriticalServiceAfter: checkDeregisterAfter,
		},
	}

	c.log.Info("Registering service with Consul", zap.String("service_id", reg.ServiceID))

	opts := api.ServiceRegisterOpts{}.WithContext(ctx)
	if err := c.consul.Agent().ServiceRegisterOpts(registration, opts); err != nil {
		c.log.Error("Failed to register service",
			zap.String("service_id", reg.ServiceID), zap.Error(err))
		return false
	}
	c.log.Info("Successfully registered service", zap.String("service_id", reg.ServiceID))
	return true
}

// Deregister removes an instance from the agent's catalog. Failures are
// logged and reported as false.
func (c *Client) Deregister(ctx context.Context, serviceID string) bool {
	c.log.Info("Unregistering service from Consul", zap.String("service_id", serviceID))

	opts := (&api.QueryOptions{}).WithContext(ctx)
	if err := c.consul.Agent().ServiceDeregisterOpts(serviceID, opts); err != nil {
		c.log.Error("Failed to unregister service",
			zap.String("service_id", serviceID), zap.Error(err))
		return false
	}
	c.log.Info("Successfully unregistered service", zap.String("service_id", serviceID))
	return true
}

// HealthyNodes lists the instances of serviceName whose checks are passing.
func (c *Client) HealthyNodes(ctx context.Context, serviceName string) ([]Node, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := c.consul.Health().Service(serviceName, "", true, opts)
	if err != nil {
		return nil, fmt.Errorf("query healthy nodes for %s: %w", serviceName, err)
	}

	nodes := make([]Node, 0, len(entries))
	for _, entry := range entries {
		svc := entry.Service
		if svc == nil {
			continue
		}
		nodes = append(nodes, Node{
			ServiceID: svc.ID,
			Name:      svc.Service,
			Address:   svc.Address,
			Port:      svc.Port,
			Tags:      svc.Tags,
			Meta:      svc.Meta,
		})
	}
	return nodes, nil
}

// CatalogServices returns the sorted set of service names the agent knows.
func (c *Client) CatalogServices(ctx context.Context) ([]string, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	services, _, err := c.consul.Catalog().Services(opts)
	if err != nil {
		return nil, fmt.Errorf("list catalog services: %w", err)
	}

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// AgentInfo probes the agent's self endpoint, for readiness. The underlying
// call has no context support, so the wait is bounded here instead.
func (c *Client) AgentInfo(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		_, err := c.consul.Agent().Self()
		errc <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("consul agent info: %w", err)
		}
		return nil
	}
}
