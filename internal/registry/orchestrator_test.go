package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
	"github.com/pipestream-ai/platform-registration/internal/apicurio"
	"github.com/pipestream-ai/platform-registration/internal/consul"
	"github.com/pipestream-ai/platform-registration/internal/modulestub"
	"github.com/pipestream-ai/platform-registration/internal/store"
)

type captureStream struct {
	events  []*registrationv1.RegistrationEvent
	sendErr error
}

func (s *captureStream) Send(ev *registrationv1.RegistrationEvent) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureStream) types() []registrationv1.EventType {
	types := make([]registrationv1.EventType, 0, len(s.events))
	for _, ev := range s.events {
		types = append(types, ev.EventType)
	}
	return types
}

type fakeRegistrar struct {
	registerOK    bool
	deregisterOK  bool
	registered    []consul.Registration
	deregistered  []string
	registerCalls int
}

func (f *fakeRegistrar) Register(_ context.Context, reg consul.Registration) bool {
	f.registerCalls++
	f.registered = append(f.registered, reg)
	return f.registerOK
}

func (f *fakeRegistrar) Deregister(_ context.Context, serviceID string) bool {
	f.deregistered = append(f.deregistered, serviceID)
	return f.deregisterOK
}

type fakeHealth struct {
	healthy bool
}

func (f *fakeHealth) WaitForHealthy(context.Context, string) bool { return f.healthy }

type fakeModuleStore struct {
	module *store.ServiceModule
	err    error

	gotName     string
	gotSchema   string
	gotMetadata map[string]string
	calls       int
}

func (f *fakeModuleStore) RegisterModule(_ context.Context, serviceName, host string, port int, version string, metadata map[string]string, jsonSchema string) (*store.ServiceModule, error) {
	f.calls++
	f.gotName = serviceName
	f.gotSchema = jsonSchema
	f.gotMetadata = metadata
	if f.err != nil {
		return nil, f.err
	}
	if f.module != nil {
		return f.module, nil
	}
	return &store.ServiceModule{
		ServiceID:      registrationv1.ServiceID(serviceName, host, port),
		ServiceName:    serviceName,
		Host:           host,
		Port:           port,
		Version:        version,
		ConfigSchemaID: registrationv1.SchemaID(serviceName, version),
		Status:         store.StatusActive,
	}, nil
}

type fakeSchemaRegistry struct {
	artifact *apicurio.Artifact
	err      error
	calls    int
}

func (f *fakeSchemaRegistry) CreateOrUpdate(context.Context, string, string, string) (*apicurio.Artifact, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.artifact, nil
}

type emittedEvent struct {
	topic      string
	serviceID  string
	artifactID string
}

type fakeEvents struct {
	emitted []emittedEvent
}

func (f *fakeEvents) EmitServiceRegistered(serviceID, _, _ string, _ int, _ string) {
	f.emitted = append(f.emitted, emittedEvent{topic: "service-registered", serviceID: serviceID})
}

func (f *fakeEvents) EmitServiceUnregistered(serviceID, _ string) {
	f.emitted = append(f.emitted, emittedEvent{topic: "service-unregistered", serviceID: serviceID})
}

func (f *fakeEvents) EmitModuleRegistered(serviceID, _, _ string, _ int, _, _, artifactID string) {
	f.emitted = append(f.emitted, emittedEvent{topic: "module-registered", serviceID: serviceID, artifactID: artifactID})
}

func (f *fakeEvents) EmitModuleUnregistered(serviceID, _ string) {
	f.emitted = append(f.emitted, emittedEvent{topic: "module-unregistered", serviceID: serviceID})
}

type fakeStubClient struct {
	meta   *registrationv1.ServiceRegistrationMetadata
	err    error
	closed bool
}

func (f *fakeStubClient) GetServiceRegistration(context.Context) (*registrationv1.ServiceRegistrationMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

func (f *fakeStubClient) Close() error {
	f.closed = true
	return nil
}

type fakeStubFactory struct {
	client  *fakeStubClient
	openErr error
}

func (f *fakeStubFactory) Open(context.Context, string) (modulestub.Client, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.client, nil
}

type orchestratorFixture struct {
	registrar *fakeRegistrar
	health    *fakeHealth
	modules   *fakeModuleStore
	schemas   *fakeSchemaRegistry
	events    *fakeEvents
	stubs     *fakeStubFactory
}

func newFixture() *orchestratorFixture {
	return &orchestratorFixture{
		registrar: &fakeRegistrar{registerOK: true, deregisterOK: true},
		health:    &fakeHealth{healthy: true},
		modules:   &fakeModuleStore{},
		schemas: &fakeSchemaRegistry{artifact: &apicurio.Artifact{
			ArtifactID: "splitter-config-v1_0_0",
			GlobalID:   7,
			Version:    "1.0.0",
		}},
		events: &fakeEvents{},
		stubs:  &fakeStubFactory{client: &fakeStubClient{meta: &registrationv1.ServiceRegistrationMetadata{}}},
	}
}

func (f *orchestratorFixture) orchestrator() *Orchestrator {
	return NewOrchestrator(f.registrar, f.health, f.modules, f.schemas, f.events, f.stubs, zap.NewNop())
}

func TestRegisterServiceHappyPath(t *testing.T) {
	f := newFixture()
	stream := &captureStream{}

	err := f.orchestrator().RegisterService(context.Background(), &registrationv1.ServiceRegistrationRequest{
		ServiceName:  "orders",
		Host:         "10.0.0.4",
		Port:         9090,
		Version:      "1.2.0",
		Tags:         []string{"api"},
		Capabilities: []string{"search"},
	}, stream)
	require.NoError(t, err)

	assert.Equal(t, []registrationv1.EventType{
		registrationv1.EventStarted,
		registrationv1.EventValidated,
		registrationv1.EventConsulRegistered,
		registrationv1.EventHealthCheckConfigured,
		registrationv1.EventConsulHealthy,
		registrationv1.EventCompleted,
	}, stream.types())
	assert.Equal(t, "orders-10-0-0-4-9090", stream.events[2].ServiceID)

	require.Len(t, f.registrar.registered, 1)
	reg := f.registrar.registered[0]
	assert.Equal(t, "orders-10-0-0-4-9090", reg.ServiceID)
	assert.Equal(t, []string{"api"}, reg.Tags)
	assert.Equal(t, []string{"search"}, reg.Capabilities)
	assert.Equal(t, "1.2.0", reg.Version)

	require.Len(t, f.events.emitted, 1)
	assert.Equal(t, "service-registered", f.events.emitted[0].topic)
	assert.Equal(t, "orders-10-0-0-4-9090", f.events.emitted[0].serviceID)
}

func TestRegisterServiceInvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  *registrationv1.ServiceRegistrationRequest
	}{
		{name: "missing name", req: &registrationv1.ServiceRegistrationRequest{Host: "h", Port: 1}},
		{name: "missing host", req: &registrationv1.ServiceRegistrationRequest{ServiceName: "s", Port: 1}},
		{name: "zero port", req: &registrationv1.ServiceRegistrationRequest{ServiceName: "s", Host: "h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			stream := &captureStream{}

			err := f.orchestrator().RegisterService(context.Background(), tt.req, stream)
			require.NoError(t, err)

			last := stream.events[len(stream.events)-1]
			assert.Equal(t, registrationv1.EventFailed, last.EventType)
			assert.Equal(t, "Invalid service registration request", last.Message)
			assert.Zero(t, f.registrar.registerCalls)
			assert.Empty(t, f.events.emitted)
		})
	}
}

func TestRegisterServiceConsulFailure(t *testing.T) {
	f := newFixture()
	f.registrar.registerOK = false
	stream := &captureStream{}

	err := f.orchestrator().RegisterService(context.Background(), &registrationv1.ServiceRegistrationRequest{
		ServiceName: "orders", Host: "10.0.0.4", Port: 9090,
	}, stream)
	require.NoError(t, err)

	assert.Equal(t, []registrationv1.EventType{
		registrationv1.EventStarted,
		registrationv1.EventValidated,
		registrationv1.EventFailed,
	}, stream.types())
	assert.Empty(t, f.registrar.deregistered)
	assert.Empty(t, f.events.emitted)
}

func TestRegisterServiceHealthFailureCompensates(t *testing.T) {
	f := newFixture()
	f.health.healthy = false
	stream := &captureStream{}

	err := f.orchestrator().RegisterService(context.Background(), &registrationv1.ServiceRegistrationRequest{
		ServiceName: "orders", Host: "10.0.0.4", Port: 9090,
	}, stream)
	require.NoError(t, err)

	assert.Equal(t, []registrationv1.EventType{
		registrationv1.EventStarted,
		registrationv1.EventValidated,
		registrationv1.EventConsulRegistered,
		registrationv1.EventHealthCheckConfigured,
		registrationv1.EventFailed,
	}, stream.types())
	assert.Equal(t, []string{"orders-10-0-0-4-9090"}, f.registrar.deregistered)
	assert.Empty(t, f.events.emitted)
}

func TestRegisterModuleSynthesizesDefaultSchema(t *testing.T) {
	f := newFixture()
	stream := &captureStream{}

	err := f.orchestrator().RegisterModule(context.Background(), &registrationv1.ModuleRegistrationRequest{
		ModuleName: "splitter",
		Host:       "127.0.0.1",
		Port:       7000,
		Version:    "1.0.0",
	}, stream)
	require.NoError(t, err)

	assert.Equal(t, []registrationv1.EventType{
		registrationv1.EventStarted,
		registrationv1.EventValidated,
		registrationv1.EventConsulRegistered,
		registrationv1.EventHealthCheckConfigured,
		registrationv1.EventConsulHealthy,
		registrationv1.EventMetadataRetrieved,
		registrationv1.EventSchemaValidated,
		registrationv1.EventDatabaseSaved,
		registrationv1.EventApicurioRegistered,
		registrationv1.EventCompleted,
	}, stream.types())

	// No schema from the module means a synthesized OpenAPI 3.1 document.
	assert.Contains(t, f.modules.gotSchema, `"openapi": "3.1.0"`)
	assert.Contains(t, f.modules.gotSchema, "splitter Configuration")
	assert.True(t, f.stubs.client.closed)

	require.Len(t, f.registrar.registered, 1)
	reg := f.registrar.registered[0]
	assert.Contains(t, reg.Tags, "module")
	assert.Contains(t, reg.Tags, "document-processor")
	assert.Equal(t, []string{"PipeStepProcessor"}, reg.Capabilities)

	require.Len(t, f.events.emitted, 1)
	assert.Equal(t, "module-registered", f.events.emitted[0].topic)
	assert.Equal(t, "splitter-config-v1_0_0", f.events.emitted[0].artifactID)
}

func TestRegisterModuleUsesModuleProvidedSchema(t *testing.T) {
	f := newFixture()
	f.stubs.client.meta = &registrationv1.ServiceRegistrationMetadata{
		JSONConfigSchema: `{"custom":true}`,
		DisplayName:      "Splitter",
		Tags:             []string{"nlp"},
	}
	stream := &captureStream{}

	err := f.orchestrator().RegisterModule(context.Background(), &registrationv1.ModuleRegistrationRequest{
		ModuleName: "splitter", Host: "127.0.0.1", Port: 7000, Version: "1.0.0",
	}, stream)
	require.NoError(t, err)

	assert.Equal(t, `{"custom":true}`, f.modules.gotSchema)
	assert.Equal(t, "Splitter", f.modules.gotMetadata["display_name"])
	assert.Equal(t, "nlp", f.modules.gotMetadata["tags"])
	assert.Equal(t, registrationv1.EventCompleted, stream.events[len(stream.events)-1].EventType)
}

func TestRegisterModuleApicurioOutageDegrades(t *testing.T) {
	f := newFixture()
	f.schemas.err = errors.New("registry returned 503")
	stream := &captureStream{}

	err := f.orchestrator().RegisterModule(context.Background(), &registrationv1.ModuleRegistrationRequest{
		ModuleName: "splitter", Host: "127.0.0.1", Port: 7000, Version: "1.0.0",
	}, stream)
	require.NoError(t, err)

	types := stream.types()
	assert.Equal(t, []registrationv1.EventType{
		registrationv1.EventStarted,
		registrationv1.EventValidated,
		registrationv1.EventConsulRegistered,
		registrationv1.EventHealthCheckConfigured,
		registrationv1.EventConsulHealthy,
		registrationv1.EventMetadataRetrieved,
		registrationv1.EventSchemaValidated,
		registrationv1.EventDatabaseSaved,
		registrationv1.EventSchemaValidated,
		registrationv1.EventCompleted,
	}, types)
	assert.Equal(t, "Apicurio registry sync skipped (failure)", stream.events[8].Message)

	// The registration still completes and the emitted event carries no
	// artifact id.
	require.Len(t, f.events.emitted, 1)
	assert.Equal(t, "module-registered", f.events.emitted[0].topic)
	assert.Empty(t, f.events.emitted[0].artifactID)
	assert.Empty(t, f.registrar.deregistered)
}

func TestRegisterModuleHealthFailureCompensatesBeforeStore(t *testing.T) {
	f := newFixture()
	f.health.healthy = false
	stream := &captureStream{}

	err := f.orchestrator().RegisterModule(context.Background(), &registrationv1.ModuleRegistrationRequest{
		ModuleName: "splitter", Host: "127.0.0.1", Port: 7000, Version: "1.0.0",
	}, stream)
	require.NoError(t, err)

	assert.Equal(t, []registrationv1.EventType{
		registrationv1.EventStarted,
		registrationv1.EventValidated,
		registrationv1.EventConsulRegistered,
		registrationv1.EventHealthCheckConfigured,
		registrationv1.EventFailed,
	}, stream.types())
	assert.Equal(t, []string{"splitter-127-0-0-1-7000"}, f.registrar.deregistered)
	assert.Zero(t, f.modules.calls)
	assert.Empty(t, f.events.emitted)
}

func TestRegisterModuleMetadataFailureCompensates(t *testing.T) {
	f := newFixture()
	f.stubs.openErr = errors.New("no healthy instance of module splitter")
	stream := &captureStream{}

	err := f.orchestrator().RegisterModule(context.Background(), &registrationv1.ModuleRegistrationRequest{
		ModuleName: "splitter", Host: "127.0.0.1", Port: 7000, Version: "1.0.0",
	}, stream)
	require.NoError(t, err)

	last := stream.events[len(stream.events)-1]
	assert.Equal(t, registrationv1.EventFailed, last.EventType)
	assert.Equal(t, "Registration failed", last.Message)
	assert.Contains(t, last.ErrorDetail, "no healthy instance")
	assert.Equal(t, []string{"splitter-127-0-0-1-7000"}, f.registrar.deregistered)
	assert.Zero(t, f.modules.calls)
}

func TestRegisterModuleStoreFailureDoesNotCompensate(t *testing.T) {
	f := newFixture()
	f.modules.err = errors.New("connection reset")
	stream := &captureStream{}

	err := f.orchestrator().RegisterModule(context.Background(), &registrationv1.ModuleRegistrationRequest{
		ModuleName: "splitter", Host: "127.0.0.1", Port: 7000, Version: "1.0.0",
	}, stream)
	require.NoError(t, err)

	last := stream.events[len(stream.events)-1]
	assert.Equal(t, registrationv1.EventFailed, last.EventType)

	// The agent entry stays; the stale monitor reconciles it.
	assert.Empty(t, f.registrar.deregistered)
	assert.Zero(t, f.schemas.calls)
	assert.Empty(t, f.events.emitted)
}

func TestUnregisterService(t *testing.T) {
	f := newFixture()

	resp, err := f.orchestrator().UnregisterService(context.Background(), &registrationv1.UnregisterRequest{
		ServiceName: "orders", Host: "10.0.0.4", Port: 9090,
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "Service unregistered successfully", resp.Message)
	assert.Equal(t, []string{"orders-10-0-0-4-9090"}, f.registrar.deregistered)
	require.Len(t, f.events.emitted, 1)
	assert.Equal(t, "service-unregistered", f.events.emitted[0].topic)
}

func TestUnregisterServiceFailure(t *testing.T) {
	f := newFixture()
	f.registrar.deregisterOK = false

	resp, err := f.orchestrator().UnregisterService(context.Background(), &registrationv1.UnregisterRequest{
		ServiceName: "orders", Host: "10.0.0.4", Port: 9090,
	})
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, "Failed to unregister service", resp.Message)
	assert.Empty(t, f.events.emitted)
}

func TestUnregisterModule(t *testing.T) {
	f := newFixture()

	resp, err := f.orchestrator().UnregisterModule(context.Background(), &registrationv1.UnregisterRequest{
		ServiceName: "splitter", Host: "127.0.0.1", Port: 7000,
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "Module unregistered successfully", resp.Message)
	require.Len(t, f.events.emitted, 1)
	assert.Equal(t, "module-unregistered", f.events.emitted[0].topic)
	assert.Equal(t, "splitter-127-0-0-1-7000", f.events.emitted[0].serviceID)
}

func TestRegisterServiceStreamSendFailureStopsFlow(t *testing.T) {
	f := newFixture()
	stream := &captureStream{sendErr: errors.New("transport closed")}

	err := f.orchestrator().RegisterService(context.Background(), &registrationv1.ServiceRegistrationRequest{
		ServiceName: "orders", Host: "10.0.0.4", Port: 9090,
	}, stream)
	require.Error(t, err)
	assert.Zero(t, f.registrar.registerCalls)
}
