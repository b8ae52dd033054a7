// Package discovery serves the read side of the hub: listing, lookup,
// resolution and watch streams over the instances the discovery agent
// currently reports healthy. Nothing here touches the store; the agent is the
// single source of liveness truth.
package discovery

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
	"github.com/pipestream-ai/platform-registration/internal/consul"
)

// capabilityPrefix marks the tags that carry capabilities; the prefix is
// stripped before capabilities are surfaced to callers.
const capabilityPrefix = "capability:"

// moduleTag marks an instance as a module rather than a plain service.
const moduleTag = "module"

// Agent is the slice of the discovery client the surface reads from.
type Agent interface {
	HealthyNodes(ctx context.Context, serviceName string) ([]consul.Node, error)
	CatalogServices(ctx context.Context) ([]string, error)
}

// Surface answers discovery queries against the agent's live catalog.
type Surface struct {
	agent Agent
	log   *zap.Logger

	watchInterval time.Duration
}

// New builds a Surface polling watch streams at the default cadence.
func New(agent Agent, log *zap.Logger) *Surface {
	return &Surface{agent: agent, log: log, watchInterval: WatchInterval}
}

// ListServices snapshots every healthy non-module instance. Failures never
// surface to the caller: a per-name health query failure drops that name from
// the snapshot, and a catalog failure yields an empty snapshot.
func (s *Surface) ListServices(ctx context.Context) (*registrationv1.ServiceListResponse, error) {
	names, err := s.agent.CatalogServices(ctx)
	if err != nil {
		s.log.Error("Failed to list services from Consul", zap.Error(err))
		return emptyServiceList(), nil
	}

	results := make([][]*registrationv1.ServiceDetails, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			nodes, err := s.agent.HealthyNodes(gctx, name)
			if err != nil {
				s.log.Warn("Skipping service with failed health query",
					zap.String("service", name), zap.Error(err))
				return nil
			}
			details := make([]*registrationv1.ServiceDetails, 0, len(nodes))
			for _, node := range nodes {
				if isModule(node.Tags) {
					continue
				}
				details = append(details, toServiceDetails(node))
			}
			results[i] = details
			return nil
		})
	}
	// Per-name failures are swallowed above, so Wait cannot fail.
	_ = g.Wait()

	all := make([]*registrationv1.ServiceDetails, 0, len(names))
	for _, list := range results {
		all = append(all, list...)
	}
	return &registrationv1.ServiceListResponse{
		Services:   all,
		AsOf:       time.Now(),
		TotalCount: len(all),
	}, nil
}

// ListModules snapshots every healthy module instance, with the same
// degrade-to-empty failure handling as ListServices.
func (s *Surface) ListModules(ctx context.Context) (*registrationv1.ModuleListResponse, error) {
	names, err := s.agent.CatalogServices(ctx)
	if err != nil {
		s.log.Error("Failed to list modules from Consul", zap.Error(err))
		return emptyModuleList(), nil
	}

	results := make([][]*registrationv1.ModuleDetails, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			nodes, err := s.agent.HealthyNodes(gctx, name)
			if err != nil {
				s.log.Warn("Skipping module with failed health query",
					zap.String("service", name), zap.Error(err))
				return nil
			}
			details := make([]*registrationv1.ModuleDetails, 0, len(nodes))
			for _, node := range nodes {
				if !isModule(node.Tags) {
					continue
				}
				details = append(details, toModuleDetails(node))
			}
			results[i] = details
			return nil
		})
	}
	_ = g.Wait()

	all := make([]*registrationv1.ModuleDetails, 0, len(names))
	for _, list := range results {
		all = append(all, list...)
	}
	return &registrationv1.ModuleListResponse{
		Modules:    all,
		AsOf:       time.Now(),
		TotalCount: len(all),
	}, nil
}

// GetService looks up one service instance by name (first healthy match) or
// by exact instance id.
func (s *Surface) GetService(ctx context.Context, req *registrationv1.ServiceLookupRequest) (*registrationv1.ServiceDetails, error) {
	switch {
	case req.ServiceName != "":
		s.log.Debug("Looking up service by name", zap.String("service", req.ServiceName))
		return s.getServiceByName(ctx, req.ServiceName)
	case req.ServiceID != "":
		s.log.Debug("Looking up service by ID", zap.String("service_id", req.ServiceID))
		return s.getServiceByID(ctx, req.ServiceID)
	default:
		return nil, status.Error(codes.InvalidArgument, "Must provide service name or ID")
	}
}

// GetModule looks up one module instance by name or id; instances without the
// module tag are invisible here.
func (s *Surface) GetModule(ctx context.Context, req *registrationv1.ServiceLookupRequest) (*registrationv1.ModuleDetails, error) {
	switch {
	case req.ServiceName != "":
		s.log.Debug("Looking up module by name", zap.String("module", req.ServiceName))
		return s.getModuleByName(ctx, req.ServiceName)
	case req.ServiceID != "":
		s.log.Debug("Looking up module by ID", zap.String("service_id", req.ServiceID))
		return s.getModuleByID(ctx, req.ServiceID)
	default:
		return nil, status.Error(codes.InvalidArgument, "Must provide module name or ID")
	}
}

func (s *Surface) getServiceByName(ctx context.Context, name string) (*registrationv1.ServiceDetails, error) {
	nodes, err := s.agent.HealthyNodes(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, status.Errorf(codes.NotFound, "Service not found: %s", name)
	}
	return toServiceDetails(nodes[0]), nil
}

func (s *Surface) getServiceByID(ctx context.Context, id string) (*registrationv1.ServiceDetails, error) {
	// The agent has no lookup by instance id; recover the name and match.
	name, err := registrationv1.ServiceNameFromID(id)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid service ID format: %s", id)
	}

	nodes, err := s.agent.HealthyNodes(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if node.ServiceID == id {
			return toServiceDetails(node), nil
		}
	}
	return nil, status.Errorf(codes.NotFound, "Service instance not found: %s", id)
}

func (s *Surface) getModuleByName(ctx context.Context, name string) (*registrationv1.ModuleDetails, error) {
	nodes, err := s.agent.HealthyNodes(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if isModule(node.Tags) {
			return toModuleDetails(node), nil
		}
	}
	return nil, status.Errorf(codes.NotFound, "Module not found: %s", name)
}

func (s *Surface) getModuleByID(ctx context.Context, id string) (*registrationv1.ModuleDetails, error) {
	name, err := registrationv1.ServiceNameFromID(id)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid module ID format: %s", id)
	}

	nodes, err := s.agent.HealthyNodes(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if node.ServiceID == id && isModule(node.Tags) {
			return toModuleDetails(node), nil
		}
	}
	return nil, status.Errorf(codes.NotFound, "Module instance not found: %s", id)
}

// ResolveService picks one concrete instance of a service, narrowing the
// healthy set by required tags and capabilities and optionally preferring a
// local address. The response always reports why the selection went the way
// it did; backend failures resolve to found=false rather than an error.
func (s *Surface) ResolveService(ctx context.Context, req *registrationv1.ServiceResolveRequest) (*registrationv1.ServiceResolveResponse, error) {
	resp := &registrationv1.ServiceResolveResponse{
		ServiceName: req.ServiceName,
		ResolvedAt:  time.Now(),
	}

	nodes, err := s.agent.HealthyNodes(ctx, req.ServiceName)
	if err != nil {
		s.log.Error("Failed to resolve service",
			zap.String("service", req.ServiceName), zap.Error(err))
		resp.SelectionReason = "Error resolving service: " + err.Error()
		return resp, nil
	}
	if len(nodes) == 0 {
		resp.SelectionReason = "No healthy instances found"
		return resp, nil
	}

	candidates := nodes
	if len(req.RequiredTags) > 0 {
		candidates = filterNodes(candidates, func(n consul.Node) bool {
			return containsAll(n.Tags, req.RequiredTags)
		})
	}
	if len(req.RequiredCapabilities) > 0 {
		candidates = filterNodes(candidates, func(n consul.Node) bool {
			_, caps := splitTags(n.Tags)
			return containsAll(caps, req.RequiredCapabilities)
		})
	}
	if len(candidates) == 0 {
		resp.TotalInstances = len(nodes)
		resp.HealthyInstances = len(nodes)
		resp.SelectionReason = "No instances match the required criteria"
		return resp, nil
	}

	selected := candidates[0]
	reason := "Selected first available healthy instance"
	if req.PreferLocal {
		for _, node := range candidates {
			if node.Address == "localhost" || node.Address == "127.0.0.1" {
				selected = node
				reason = "Selected local instance as requested"
				break
			}
		}
	}

	tags, caps := splitTags(selected.Tags)
	resp.Found = true
	resp.ServiceID = selected.ServiceID
	resp.Host = selected.Address
	resp.Port = selected.Port
	resp.Version = selected.Meta["version"]
	resp.Metadata = selected.Meta
	resp.Tags = tags
	resp.Capabilities = caps
	resp.TotalInstances = len(nodes)
	resp.HealthyInstances = len(candidates)
	resp.SelectionReason = reason

	s.log.Info("Resolved service",
		zap.String("service", req.ServiceName),
		zap.String("service_id", selected.ServiceID),
		zap.String("reason", reason))
	return resp, nil
}

func toServiceDetails(node consul.Node) *registrationv1.ServiceDetails {
	tags, caps := splitTags(node.Tags)
	return &registrationv1.ServiceDetails{
		ServiceID:    node.ServiceID,
		ServiceName:  node.Name,
		Host:         node.Address,
		Port:         node.Port,
		Version:      node.Meta["version"],
		Tags:         tags,
		Capabilities: caps,
		Metadata:     node.Meta,
	}
}

func toModuleDetails(node consul.Node) *registrationv1.ModuleDetails {
	tags, caps := splitTags(node.Tags)
	return &registrationv1.ModuleDetails{
		ServiceID:    node.ServiceID,
		ModuleName:   node.Name,
		Host:         node.Address,
		Port:         node.Port,
		Version:      node.Meta["version"],
		Tags:         tags,
		Capabilities: caps,
		Metadata:     node.Meta,
		DisplayName:  node.Meta["display-name"],
		Description:  node.Meta["description"],
		InputFormat:  node.Meta["input-format"],
		OutputFormat: node.Meta["output-format"],
	}
}

// splitTags separates plain tags from capability tags, stripping the prefix
// from the latter.
func splitTags(tags []string) (plain, capabilities []string) {
	for _, tag := range tags {
		if strings.HasPrefix(tag, capabilityPrefix) {
			capabilities = append(capabilities, strings.TrimPrefix(tag, capabilityPrefix))
		} else {
			plain = append(plain, tag)
		}
	}
	return plain, capabilities
}

func isModule(tags []string) bool {
	for _, tag := range tags {
		if tag == moduleTag {
			return true
		}
	}
	return false
}

func containsAll(haystack, needles []string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, s := range haystack {
		set[s] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}

func filterNodes(nodes []consul.Node, keep func(consul.Node) bool) []consul.Node {
	out := make([]consul.Node, 0, len(nodes))
	for _, node := range nodes {
		if keep(node) {
			out = append(out, node)
		}
	}
	return out
}

func emptyServiceList() *registrationv1.ServiceListResponse {
	return &registrationv1.ServiceListResponse{AsOf: time.Now()}
}

func emptyModuleList() *registrationv1.ModuleListResponse {
	return &registrationv1.ModuleListResponse{AsOf: time.Now()}
}
