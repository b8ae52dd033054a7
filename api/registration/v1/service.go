// Package registrationv1 defines the registration hub's RPC surface: the
// request, response and event records exchanged with callers, the stream
// interfaces backing the server-streaming methods, and the deterministic id
// derivations shared by every component. Transport bindings live in
// internal/server; handlers implement RegistrationService directly.
package registrationv1

import "context"

// RegistrationService is the full RPC surface of the hub. Server-streaming
// methods take the stream as an argument and return only transport-level
// send failures; domain failures are delivered in-band as FAILED events.
type RegistrationService interface {
	RegisterService(ctx context.Context, req *ServiceRegistrationRequest, stream EventStream) error
	RegisterModule(ctx context.Context, req *ModuleRegistrationRequest, stream EventStream) error
	UnregisterService(ctx context.Context, req *UnregisterRequest) (*UnregisterResponse, error)
	UnregisterModule(ctx context.Context, req *UnregisterRequest) (*UnregisterResponse, error)

	ListServices(ctx context.Context) (*ServiceListResponse, error)
	ListModules(ctx context.Context) (*ModuleListResponse, error)
	GetService(ctx context.Context, req *ServiceLookupRequest) (*ServiceDetails, error)
	GetModule(ctx context.Context, req *ServiceLookupRequest) (*ModuleDetails, error)
	ResolveService(ctx context.Context, req *ServiceResolveRequest) (*ServiceResolveResponse, error)
	WatchServices(ctx context.Context, stream ServiceWatchStream) error
	WatchModules(ctx context.Context, stream ModuleWatchStream) error

	GetModuleSchema(ctx context.Context, req *ModuleSchemaRequest) (*ModuleSchemaResponse, error)
}
