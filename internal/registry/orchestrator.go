// Package registry implements the registration state machine. It drives the
// discovery agent, the health convergence loop, the module's own metadata
// RPC, the relational store and the schema registry in a fixed order, and
// streams one progress event per stage to the caller.
//
// Failures are always delivered in-band as a terminal FAILED event; the
// stream itself only errors when the transport does. Compensation is
// deliberately asymmetric: up to metadata retrieval a failure rolls the agent
// registration back, from the store write on the agent entry is left to the
// stale monitor.
package registry

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
	"github.com/pipestream-ai/platform-registration/internal/apicurio"
	"github.com/pipestream-ai/platform-registration/internal/consul"
	"github.com/pipestream-ai/platform-registration/internal/modulestub"
	"github.com/pipestream-ai/platform-registration/internal/store"
	"github.com/pipestream-ai/platform-registration/pkg/metrics"
)

// Modules present themselves to the pipeline with these fixed markers; the
// discovery surface filters on the "module" tag.
var moduleTags = []string{"module", "document-processor"}

const moduleCapability = "PipeStepProcessor"

const compensateTimeout = 10 * time.Second

// Registrar registers and deregisters instances with the discovery agent.
type Registrar interface {
	Register(ctx context.Context, reg consul.Registration) bool
	Deregister(ctx context.Context, serviceID string) bool
}

// HealthWaiter blocks until a freshly registered instance reports healthy.
type HealthWaiter interface {
	WaitForHealthy(ctx context.Context, serviceID string) bool
}

// ModuleStore persists module rows together with their config schemas.
type ModuleStore interface {
	RegisterModule(ctx context.Context, serviceName, host string, port int, version string, metadata map[string]string, jsonSchema string) (*store.ServiceModule, error)
}

// SchemaRegistry mirrors config schemas to the artifact registry.
type SchemaRegistry interface {
	CreateOrUpdate(ctx context.Context, serviceName, version, jsonSchema string) (*apicurio.Artifact, error)
}

// EventPublisher announces lifecycle transitions on the bus, fire-and-forget.
type EventPublisher interface {
	EmitServiceRegistered(serviceID, serviceName, host string, port int, version string)
	EmitServiceUnregistered(serviceID, serviceName string)
	EmitModuleRegistered(serviceID, moduleName, host string, port int, version, schemaID, artifactID string)
	EmitModuleUnregistered(serviceID, moduleName string)
}

// Orchestrator coordinates the collaborators; it never mutates persistent
// state itself.
type Orchestrator struct {
	registrar Registrar
	health    HealthWaiter
	modules   ModuleStore
	schemas   SchemaRegistry
	events    EventPublisher
	stubs     modulestub.Factory
	log       *zap.Logger
}

// NewOrchestrator wires the registration state machine.
func NewOrchestrator(
	registrar Registrar,
	health HealthWaiter,
	modules ModuleStore,
	schemas SchemaRegistry,
	events EventPublisher,
	stubs modulestub.Factory,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		registrar: registrar,
		health:    health,
		modules:   modules,
		schemas:   schemas,
		events:    events,
		stubs:     stubs,
		log:       log,
	}
}

// RegisterService runs the plain-service state machine:
// STARTED → VALIDATED → CONSUL_REGISTERED → HEALTH_CHECK_CONFIGURED →
// CONSUL_HEALTHY → COMPLETED.
func (o *Orchestrator) RegisterService(ctx context.Context, req *registrationv1.ServiceRegistrationRequest, stream registrationv1.EventStream) error {
	serviceID := registrationv1.ServiceID(req.ServiceName, req.Host, req.Port)

	o.log.Info("Starting service registration",
		zap.String("service", req.ServiceName), zap.String("service_id", serviceID))
	if err := sendEvent(stream, registrationv1.EventStarted, serviceID, "Starting service registration", ""); err != nil {
		return err
	}

	if !validRequest(req.ServiceName, req.Host, req.Port) {
		return o.fail(stream, "service", serviceID, "Invalid service registration request", "Missing required fields")
	}
	if err := sendEvent(stream, registrationv1.EventValidated, "", "Service registration request validated", ""); err != nil {
		return err
	}

	if !o.registrar.Register(ctx, serviceRegistration(serviceID, req)) {
		return o.fail(stream, "service", serviceID, "Failed to register with Consul", "Consul registration returned false")
	}
	if err := sendEvent(stream, registrationv1.EventConsulRegistered, serviceID, "Service registered with Consul", ""); err != nil {
		return err
	}
	if err := sendEvent(stream, registrationv1.EventHealthCheckConfigured, "", "Health check configured", ""); err != nil {
		return err
	}

	if !o.health.WaitForHealthy(ctx, serviceID) {
		o.deregisterBestEffort(serviceID)
		return o.fail(stream, "service", serviceID, "Service registered but failed health checks",
			"Service did not become healthy within timeout period. Check service logs and connectivity.")
	}
	if err := sendEvent(stream, registrationv1.EventConsulHealthy, "", "Service reported healthy by Consul", ""); err != nil {
		return err
	}

	o.events.EmitServiceRegistered(serviceID, req.ServiceName, req.Host, req.Port, req.Version)
	metrics.RegistrationsTotal.WithLabelValues("service", "completed").Inc()
	o.log.Info("Service registration completed", zap.String("service_id", serviceID))
	return sendEvent(stream, registrationv1.EventCompleted, serviceID, "Service registration completed successfully", "")
}

// RegisterModule runs the module state machine. It extends the service flow
// with metadata retrieval from the module itself, schema selection, the
// store write and the registry mirror. The mirror step is best-effort: its
// failure degrades the stream but never the registration.
func (o *Orchestrator) RegisterModule(ctx context.Context, req *registrationv1.ModuleRegistrationRequest, stream registrationv1.EventStream) error {
	serviceID := registrationv1.ServiceID(req.ModuleName, req.Host, req.Port)

	o.log.Info("Starting module registration",
		zap.String("module", req.ModuleName), zap.String("service_id", serviceID))
	if err := sendEvent(stream, registrationv1.EventStarted, serviceID, "Starting module registration", ""); err != nil {
		return err
	}

	if !validRequest(req.ModuleName, req.Host, req.Port) {
		return o.fail(stream, "module", serviceID, "Invalid module registration request", "Missing required fields")
	}
	if err := sendEvent(stream, registrationv1.EventValidated, "", "Module registration request validated", ""); err != nil {
		return err
	}

	if !o.registrar.Register(ctx, moduleRegistration(serviceID, req)) {
		return o.fail(stream, "module", serviceID, "Failed to register with Consul", "Consul registration failed")
	}
	if err := sendEvent(stream, registrationv1.EventConsulRegistered, serviceID, "Module registered with Consul", ""); err != nil {
		return err
	}
	if err := sendEvent(stream, registrationv1.EventHealthCheckConfigured, "", "Health check configured", ""); err != nil {
		return err
	}

	if !o.health.WaitForHealthy(ctx, serviceID) {
		o.deregisterBestEffort(serviceID)
		return o.fail(stream, "module", serviceID, "Module failed health checks",
			"Module did not become healthy within timeout period")
	}
	if err := sendEvent(stream, registrationv1.EventConsulHealthy, "", "Module reported healthy by Consul", ""); err != nil {
		return err
	}

	meta, err := o.fetchModuleMetadata(ctx, req.ModuleName)
	if err != nil {
		o.deregisterBestEffort(serviceID)
		return o.fail(stream, "module", serviceID, "Registration failed", err.Error())
	}
	if err := sendEvent(stream, registrationv1.EventMetadataRetrieved, "", "Module metadata retrieved", ""); err != nil {
		return err
	}

	schema := chooseSchema(meta, req.ModuleName)
	if err := sendEvent(stream, registrationv1.EventSchemaValidated, "", "Schema validated or synthesized", ""); err != nil {
		return err
	}

	module, err := o.modules.RegisterModule(ctx, req.ModuleName, req.Host, req.Port, req.Version, storeMetadata(meta), schema)
	if err != nil {
		// No agent rollback from here on; the stale monitor reconciles the
		// leftover agent entry.
		return o.fail(stream, "module", serviceID, "Registration failed", err.Error())
	}
	if err := sendEvent(stream, registrationv1.EventDatabaseSaved, module.ServiceID, "Module registration saved to database", ""); err != nil {
		return err
	}

	artifactID := ""
	if artifact, err := o.schemas.CreateOrUpdate(ctx, req.ModuleName, req.Version, schema); err != nil {
		o.log.Warn("Apicurio registration failed, continuing without registry sync",
			zap.String("module", req.ModuleName),
			zap.String("version", req.Version),
			zap.Error(err))
		if err := sendEvent(stream, registrationv1.EventSchemaValidated, "", "Apicurio registry sync skipped (failure)", ""); err != nil {
			return err
		}
	} else {
		artifactID = artifact.ArtifactID
		if err := sendEvent(stream, registrationv1.EventApicurioRegistered, "", "Schema registered in Apicurio", ""); err != nil {
			return err
		}
	}

	o.events.EmitModuleRegistered(module.ServiceID, req.ModuleName, req.Host, req.Port, req.Version, module.ConfigSchemaID, artifactID)
	metrics.RegistrationsTotal.WithLabelValues("module", "completed").Inc()
	o.log.Info("Module registration completed", zap.String("service_id", module.ServiceID))
	return sendEvent(stream, registrationv1.EventCompleted, module.ServiceID, "Module registration completed successfully", "")
}

// UnregisterService removes the instance from the discovery agent. The store
// row is untouched; row deletion is an administrative path.
func (o *Orchestrator) UnregisterService(ctx context.Context, req *registrationv1.UnregisterRequest) (*registrationv1.UnregisterResponse, error) {
	serviceID := registrationv1.ServiceID(req.ServiceName, req.Host, req.Port)

	if !o.registrar.Deregister(ctx, serviceID) {
		metrics.UnregistrationsTotal.WithLabelValues("service", "failed").Inc()
		return unregisterResponse(false, "Failed to unregister service"), nil
	}

	o.events.EmitServiceUnregistered(serviceID, req.ServiceName)
	metrics.UnregistrationsTotal.WithLabelValues("service", "completed").Inc()
	return unregisterResponse(true, "Service unregistered successfully"), nil
}

// UnregisterModule is UnregisterService with the module topic and wording.
func (o *Orchestrator) UnregisterModule(ctx context.Context, req *registrationv1.UnregisterRequest) (*registrationv1.UnregisterResponse, error) {
	serviceID := registrationv1.ServiceID(req.ServiceName, req.Host, req.Port)

	if !o.registrar.Deregister(ctx, serviceID) {
		metrics.UnregistrationsTotal.WithLabelValues("module", "failed").Inc()
		return unregisterResponse(false, "Failed to unregister module"), nil
	}

	o.events.EmitModuleUnregistered(serviceID, req.ServiceName)
	metrics.UnregistrationsTotal.WithLabelValues("module", "completed").Inc()
	return unregisterResponse(true, "Module unregistered successfully"), nil
}

func (o *Orchestrator) fetchModuleMetadata(ctx context.Context, moduleName string) (*registrationv1.ServiceRegistrationMetadata, error) {
	client, err := o.stubs.Open(ctx, moduleName)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			o.log.Warn("Failed to close module stub",
				zap.String("module", moduleName), zap.Error(cerr))
		}
	}()
	return client.GetServiceRegistration(ctx)
}

// deregisterBestEffort compensates a partial registration. It runs on a
// detached context: the caller's context is often already cancelled or
// expired when compensation is needed.
func (o *Orchestrator) deregisterBestEffort(serviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), compensateTimeout)
	defer cancel()

	if o.registrar.Deregister(ctx, serviceID) {
		o.log.Info("Rolled back Consul registration", zap.String("service_id", serviceID))
		return
	}
	o.log.Error("Failed to roll back Consul registration", zap.String("service_id", serviceID))
}

func (o *Orchestrator) fail(stream registrationv1.EventStream, kind, serviceID, message, detail string) error {
	metrics.RegistrationsTotal.WithLabelValues(kind, "failed").Inc()
	o.log.Warn("Registration failed",
		zap.String("kind", kind),
		zap.String("service_id", serviceID),
		zap.String("reason", message),
		zap.String("detail", detail))
	return sendEvent(stream, registrationv1.EventFailed, serviceID, message, detail)
}

func sendEvent(stream registrationv1.EventStream, eventType registrationv1.EventType, serviceID, message, errorDetail string) error {
	return stream.Send(&registrationv1.RegistrationEvent{
		EventType:   eventType,
		ServiceID:   serviceID,
		Message:     message,
		ErrorDetail: errorDetail,
		Timestamp:   time.Now(),
	})
}

func validRequest(name, host string, port int) bool {
	return name != "" && host != "" && port > 0
}

func serviceRegistration(serviceID string, req *registrationv1.ServiceRegistrationRequest) consul.Registration {
	return consul.Registration{
		ServiceID:    serviceID,
		ServiceName:  req.ServiceName,
		Host:         req.Host,
		Port:         req.Port,
		Version:      req.Version,
		Tags:         req.Tags,
		Metadata:     req.Metadata,
		Capabilities: req.Capabilities,
	}
}

// moduleRegistration reshapes a module request into the service registration
// sent to the agent. The embedded self-description, when the caller supplied
// one, enriches the agent entry; the authoritative copy is still fetched from
// the module after health convergence.
func moduleRegistration(serviceID string, req *registrationv1.ModuleRegistrationRequest) consul.Registration {
	tags := make([]string, 0, len(moduleTags)+4)
	tags = append(tags, moduleTags...)

	metadata := make(map[string]string, len(req.Metadata)+5)
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	if meta := req.ServiceRegistrationMetadata; meta != nil {
		metadata["module-name"] = meta.ModuleName
		metadata["module-version"] = meta.Version
		if meta.JSONConfigSchema != "" {
			metadata["json-config-schema"] = meta.JSONConfigSchema
		}
		if meta.DisplayName != "" {
			metadata["display-name"] = meta.DisplayName
		}
		if meta.Description != "" {
			metadata["description"] = meta.Description
		}
		tags = append(tags, meta.Tags...)
	}

	return consul.Registration{
		ServiceID:    serviceID,
		ServiceName:  req.ModuleName,
		Host:         req.Host,
		Port:         req.Port,
		Version:      req.Version,
		Tags:         tags,
		Metadata:     metadata,
		Capabilities: []string{moduleCapability},
	}
}

func chooseSchema(meta *registrationv1.ServiceRegistrationMetadata, moduleName string) string {
	if strings.TrimSpace(meta.JSONConfigSchema) != "" {
		return meta.JSONConfigSchema
	}
	return registrationv1.DefaultConfigSchema(moduleName)
}

// storeMetadata flattens the module's self-description into the row's
// free-form metadata map. List values are comma-joined.
func storeMetadata(meta *registrationv1.ServiceRegistrationMetadata) map[string]string {
	m := make(map[string]string, len(meta.Metadata)+6)
	for k, v := range meta.Metadata {
		m[k] = v
	}
	if meta.DisplayName != "" {
		m["display_name"] = meta.DisplayName
	}
	if meta.Description != "" {
		m["description"] = meta.Description
	}
	if meta.Owner != "" {
		m["owner"] = meta.Owner
	}
	if meta.DocumentationURL != "" {
		m["documentation_url"] = meta.DocumentationURL
	}
	if len(meta.Tags) > 0 {
		m["tags"] = strings.Join(meta.Tags, ",")
	}
	if len(meta.Dependencies) > 0 {
		m["dependencies"] = strings.Join(meta.Dependencies, ",")
	}
	return m
}

func unregisterResponse(success bool, message string) *registrationv1.UnregisterResponse {
	return &registrationv1.UnregisterResponse{
		Success:   success,
		Message:   message,
		Timestamp: time.Now(),
	}
}
