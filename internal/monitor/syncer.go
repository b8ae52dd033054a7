package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pipestream-ai/platform-registration/internal/apicurio"
	"github.com/pipestream-ai/platform-registration/internal/store"
	"github.com/pipestream-ai/platform-registration/pkg/metrics"
)

// SyncStore is the store slice the schema syncer needs.
type SyncStore interface {
	FindSchemasNeedingSync(ctx context.Context) ([]*store.ConfigSchema, error)
	MarkSchemaSynced(ctx context.Context, schemaID, artifactID string, globalID int64) error
	MarkSchemaSyncFailed(ctx context.Context, schemaID, syncError string) error
}

// SchemaRegistry mirrors schema content to the artifact registry.
type SchemaRegistry interface {
	CreateOrUpdate(ctx context.Context, serviceName, version, jsonSchema string) (*apicurio.Artifact, error)
}

// SchemaSyncer replays schema rows stuck in PENDING, FAILED or OUT_OF_SYNC
// into the artifact registry. CreateOrUpdate is idempotent, so replaying an
// already mirrored row is harmless.
type SchemaSyncer struct {
	store    SyncStore
	registry SchemaRegistry
	interval time.Duration
	log      *zap.Logger
}

// NewSchemaSyncer builds a syncer sweeping at the given interval.
func NewSchemaSyncer(syncStore SyncStore, registry SchemaRegistry, interval time.Duration, log *zap.Logger) *SchemaSyncer {
	return &SchemaSyncer{store: syncStore, registry: registry, interval: interval, log: log}
}

// Run sweeps until ctx is cancelled, starting with an immediate sweep.
func (s *SchemaSyncer) Run(ctx context.Context) {
	s.log.Info("Starting schema sync reconciler", zap.Duration("interval", s.interval))

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Schema sync reconciler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *SchemaSyncer) sweep(ctx context.Context) {
	schemas, err := s.store.FindSchemasNeedingSync(ctx)
	if err != nil {
		s.log.Warn("Schema sync scan failed", zap.Error(err))
		return
	}
	if len(schemas) == 0 {
		return
	}

	s.log.Info("Replaying unsynced schemas", zap.Int("count", len(schemas)))
	for _, schema := range schemas {
		s.replay(ctx, schema)
	}
}

func (s *SchemaSyncer) replay(ctx context.Context, schema *store.ConfigSchema) {
	artifact, err := s.registry.CreateOrUpdate(ctx, schema.ServiceName, schema.SchemaVersion, schema.JSONSchema)
	if err != nil {
		metrics.SchemaSyncAttempts.WithLabelValues("failed").Inc()
		s.log.Warn("Schema sync attempt failed",
			zap.String("schema_id", schema.SchemaID),
			zap.String("previous_status", string(schema.SyncStatus)),
			zap.Error(err))
		if markErr := s.store.MarkSchemaSyncFailed(ctx, schema.SchemaID, err.Error()); markErr != nil {
			s.log.Error("Failed to record sync failure",
				zap.String("schema_id", schema.SchemaID), zap.Error(markErr))
		}
		return
	}

	if err := s.store.MarkSchemaSynced(ctx, schema.SchemaID, artifact.ArtifactID, artifact.GlobalID); err != nil {
		s.log.Error("Failed to record sync success",
			zap.String("schema_id", schema.SchemaID), zap.Error(err))
		return
	}
	metrics.SchemaSyncAttempts.WithLabelValues("synced").Inc()
	s.log.Info("Schema synced to registry",
		zap.String("schema_id", schema.SchemaID),
		zap.String("artifact_id", artifact.ArtifactID),
		zap.Int64("global_id", artifact.GlobalID))
}
