package registrationv1

import "time"

// ServiceRegistrationRequest describes a plain service instance to be
// registered with the discovery agent.
type ServiceRegistrationRequest struct {
	ServiceName  string
	Host         string
	Port         int
	Version      string
	Tags         []string
	Metadata     map[string]string
	Capabilities []string
}

// ServiceRegistrationMetadata is the self-description a module returns from
// its GetServiceRegistration RPC. All fields are optional; JSONConfigSchema
// carries the module's own config schema when it has one.
type ServiceRegistrationMetadata struct {
	ModuleName       string
	Version          string
	DisplayName      string
	Description      string
	Owner            string
	DocumentationURL string
	Tags             []string
	Dependencies     []string
	Metadata         map[string]string
	JSONConfigSchema string
}

// ModuleRegistrationRequest registers a module: a service that implements the
// PipeStepProcessor capability and carries a JSON configuration schema.
type ModuleRegistrationRequest struct {
	ModuleName string
	Host       string
	Port       int
	Version    string
	Metadata   map[string]string

	// Optional caller-supplied self-description used to enrich the discovery
	// agent entry. The authoritative copy is always fetched from the module
	// itself after it converges healthy.
	ServiceRegistrationMetadata *ServiceRegistrationMetadata
}

// UnregisterRequest identifies an instance by its registration triple.
type UnregisterRequest struct {
	ServiceName string
	Host        string
	Port        int
}

// UnregisterResponse is the unary reply to an unregister call.
type UnregisterResponse struct {
	Success   bool
	Message   string
	Timestamp time.Time
}

// ServiceDetails is one healthy instance as reported by the discovery agent.
type ServiceDetails struct {
	ServiceID    string
	ServiceName  string
	Host         string
	Port         int
	Version      string
	Tags         []string
	Capabilities []string
	Metadata     map[string]string
}

// ModuleDetails is ServiceDetails for instances tagged "module", plus the
// module-specific fields the agent carries in its metadata.
type ModuleDetails struct {
	ServiceID    string
	ModuleName   string
	Host         string
	Port         int
	Version      string
	Tags         []string
	Capabilities []string
	Metadata     map[string]string
	DisplayName  string
	Description  string
	InputFormat  string
	OutputFormat string
}

// ServiceListResponse is a point-in-time snapshot of all known services.
type ServiceListResponse struct {
	Services   []*ServiceDetails
	AsOf       time.Time
	TotalCount int
}

// ModuleListResponse is a point-in-time snapshot of all known modules.
type ModuleListResponse struct {
	Modules    []*ModuleDetails
	AsOf       time.Time
	TotalCount int
}

// ServiceLookupRequest selects an instance either by name (first healthy
// match) or by exact instance id. Exactly one of the fields is set.
type ServiceLookupRequest struct {
	ServiceName string
	ServiceID   string
}

// ServiceResolveRequest asks for one concrete instance of a service,
// optionally constrained by tags and capabilities.
type ServiceResolveRequest struct {
	ServiceName          string
	PreferLocal          bool
	RequiredTags         []string
	RequiredCapabilities []string
}

// ServiceResolveResponse reports the selected instance and why it was chosen.
// When Found is false only the counts and SelectionReason are meaningful.
type ServiceResolveResponse struct {
	Found            bool
	ServiceName      string
	ServiceID        string
	Host             string
	Port             int
	Version          string
	Tags             []string
	Capabilities     []string
	Metadata         map[string]string
	TotalInstances   int
	HealthyInstances int
	SelectionReason  string
	ResolvedAt       time.Time
}

// ModuleSchemaRequest fetches a module's configuration schema. Version is
// optional; empty means latest.
type ModuleSchemaRequest struct {
	ModuleName string
	Version    string
}

// ModuleSchemaResponse carries the schema text plus provenance metadata
// describing which layer produced it.
type ModuleSchemaResponse struct {
	ModuleName    string
	SchemaJSON    string
	SchemaVersion string
	ArtifactID    string
	Metadata      map[string]string
	UpdatedAt     time.Time
}
