// Package schemas serves module configuration schemas through a layered
// lookup: the relational store first, then the artifact registry, then the
// module itself. Each layer is allowed to fail; only when all three do is the
// miss surfaced to the caller.
package schemas

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
	"github.com/pipestream-ai/platform-registration/internal/apicurio"
	"github.com/pipestream-ai/platform-registration/internal/modulestub"
	"github.com/pipestream-ai/platform-registration/internal/store"
)

// SchemaStore is the store slice the retriever reads from.
type SchemaStore interface {
	FindSchemaByID(ctx context.Context, schemaID string) (*store.ConfigSchema, error)
	FindLatestSchemaByServiceName(ctx context.Context, serviceName string) (*store.ConfigSchema, error)
}

// ArtifactRegistry is the registry slice used as the second layer.
type ArtifactRegistry interface {
	GetSchema(ctx context.Context, serviceName, version string) (string, error)
	GetArtifactMetadata(ctx context.Context, serviceName string) (*apicurio.ArtifactMetadata, error)
}

// Retriever performs the layered schema lookup.
type Retriever struct {
	store    SchemaStore
	registry ArtifactRegistry
	stubs    modulestub.Factory
	log      *zap.Logger
}

// NewRetriever builds a retriever over the three lookup layers.
func NewRetriever(schemaStore SchemaStore, registry ArtifactRegistry, stubs modulestub.Factory, log *zap.Logger) *Retriever {
	return &Retriever{store: schemaStore, registry: registry, stubs: stubs, log: log}
}

// GetModuleSchema resolves the schema for a module. An empty version means
// the latest. The store is authoritative; the registry covers rows the store
// lost; asking the module itself is the measure of last resort.
func (r *Retriever) GetModuleSchema(ctx context.Context, req *registrationv1.ModuleSchemaRequest) (*registrationv1.ModuleSchemaResponse, error) {
	name := req.ModuleName
	version := req.Version

	r.log.Info("Retrieving module schema",
		zap.String("module", name),
		zap.String("version", orLatest(version)))

	schema, err := r.fromStore(ctx, name, version)
	switch {
	case err == nil:
		return storeResponse(schema), nil
	case errors.Is(err, store.ErrNotFound):
		r.log.Debug("Schema not in store, trying registry",
			zap.String("module", name), zap.String("version", orLatest(version)))
		resp, regErr := r.fromRegistry(ctx, name, version)
		if regErr == nil {
			return resp, nil
		}
		r.log.Warn("Registry lookup failed, falling back to module",
			zap.String("module", name), zap.Error(regErr))
	default:
		r.log.Warn("Store lookup failed, falling back to module",
			zap.String("module", name), zap.Error(err))
	}

	return r.fromModule(ctx, name)
}

func (r *Retriever) fromStore(ctx context.Context, name, version string) (*store.ConfigSchema, error) {
	if version == "" {
		return r.store.FindLatestSchemaByServiceName(ctx, name)
	}
	return r.store.FindSchemaByID(ctx, registrationv1.SchemaID(name, version))
}

func storeResponse(schema *store.ConfigSchema) *registrationv1.ModuleSchemaResponse {
	metadata := map[string]string{"sync_status": string(schema.SyncStatus)}
	if schema.CreatedBy != "" {
		metadata["created_by"] = schema.CreatedBy
	}

	return &registrationv1.ModuleSchemaResponse{
		ModuleName:    schema.ServiceName,
		SchemaJSON:    schema.JSONSchema,
		SchemaVersion: schema.SchemaVersion,
		ArtifactID:    schema.ApicurioArtifactID,
		Metadata:      metadata,
		UpdatedAt:     schema.CreatedAt,
	}
}

func (r *Retriever) fromRegistry(ctx context.Context, name, version string) (*registrationv1.ModuleSchemaResponse, error) {
	content, err := r.registry.GetSchema(ctx, name, version)
	if err != nil {
		return nil, err
	}

	resp := &registrationv1.ModuleSchemaResponse{
		ModuleName:    name,
		SchemaJSON:    content,
		SchemaVersion: orLatest(version),
		Metadata:      map[string]string{},
	}

	meta, err := r.registry.GetArtifactMetadata(ctx, name)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		resp.ArtifactID = meta.ArtifactID
		if meta.Owner != "" {
			resp.Metadata["owner"] = meta.Owner
		}
		if meta.Name != "" {
			resp.Metadata["name"] = meta.Name
		}
		if meta.Description != "" {
			resp.Metadata["description"] = meta.Description
		}
		resp.UpdatedAt = meta.ModifiedOn
	}
	return resp, nil
}

func (r *Retriever) fromModule(ctx context.Context, name string) (*registrationv1.ModuleSchemaResponse, error) {
	r.log.Info("Falling back to direct module call for schema", zap.String("module", name))

	meta, err := r.askModule(ctx, name)
	if err != nil {
		r.log.Error("Failed to get schema from module",
			zap.String("module", name), zap.Error(err))
		return nil, status.Errorf(codes.NotFound,
			"Module schema not found: %s. Module may not be running or registered.", name)
	}

	resp := &registrationv1.ModuleSchemaResponse{
		ModuleName: name,
		Metadata:   map[string]string{"source": "module-direct"},
		UpdatedAt:  time.Now(),
	}

	if strings.TrimSpace(meta.JSONConfigSchema) != "" {
		resp.SchemaJSON = meta.JSONConfigSchema
	} else {
		resp.SchemaJSON = registrationv1.DefaultConfigSchema(name)
	}

	if strings.TrimSpace(meta.Version) != "" {
		resp.SchemaVersion = meta.Version
	} else {
		resp.SchemaVersion = "unknown"
	}

	if meta.DisplayName != "" {
		resp.Metadata["display_name"] = meta.DisplayName
	}
	if meta.Description != "" {
		resp.Metadata["description"] = meta.Description
	}
	if meta.Owner != "" {
		resp.Metadata["owner"] = meta.Owner
	}
	return resp, nil
}

func (r *Retriever) askModule(ctx context.Context, name string) (*registrationv1.ServiceRegistrationMetadata, error) {
	client, err := r.stubs.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			r.log.Warn("Failed to close module stub",
				zap.String("module", name), zap.Error(cerr))
		}
	}()
	return client.GetServiceRegistration(ctx)
}

func orLatest(version string) string {
	if version == "" {
		return "latest"
	}
	return version
}
