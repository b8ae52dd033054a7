// Package store is the relational system of record for service and module
// registrations. Rows here are authoritative even when the discovery agent
// or the artifact registry disagree.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
	"github.com/pipestream-ai/platform-registration/internal/apicurio"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// SchemaMirror is the slice of the artifact-registry client used to mirror
// schema rows. *apicurio.Client satisfies it.
type SchemaMirror interface {
	CreateOrUpdate(ctx context.Context, serviceName, version, jsonSchema string) (*apicurio.Artifact, error)
}

// Store wraps the shared connection pool. All mutations run inside explicit
// transactions; reads go straight to the pool.
type Store struct {
	db     *sql.DB
	mirror SchemaMirror
	log    *zap.Logger
}

// New creates a store. mirror may be nil, in which case saved schemas stay
// PENDING until the sync reconciler picks them up.
func New(db *sql.DB, mirror SchemaMirror, log *zap.Logger) *Store {
	return &Store{db: db, mirror: mirror, log: log}
}

// DB exposes the pool for readiness probes.
func (s *Store) DB() *sql.DB {
	return s.db
}

const moduleColumns = `service_id, service_name, host, port, version, config_schema_id, metadata, registered_at, last_heartbeat, status`

const schemaColumns = `schema_id, service_name, schema_version, json_schema, created_at, created_by, apicurio_artifact_id, apicurio_global_id, sync_status, last_sync_attempt, sync_error`

// RegisterModule upserts a module row and, when jsonSchema is non-empty, the
// schema row it references, all in one transaction. Existing schema rows are
// reused untouched; existing module rows get their mutable fields merged and
// their heartbeat and status refreshed. The call is idempotent.
func (s *Store) RegisterModule(ctx context.Context, serviceName, host string, port int, version string, metadata map[string]string, jsonSchema string) (*ServiceModule, error) {
	serviceID := registrationv1.ServiceID(serviceName, host, port)

	metaJSON, err := toJSONB(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.Error("Failed to begin transaction", zap.Error(err))
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var schemaID sql.NullString
	if jsonSchema != "" {
		id := registrationv1.SchemaID(serviceName, version)
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT schema_id FROM config_schemas WHERE schema_id = $1`, id,
		).Scan(&existing)
		switch {
		case err == nil:
			schemaID = sql.NullString{String: existing, Valid: true}
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO config_schemas (schema_id, service_name, schema_version, json_schema, created_at, sync_status)
				 VALUES ($1, $2, $3, $4, NOW(), $5)`,
				id, serviceName, version, jsonSchema, SyncPending,
			); err != nil {
				return nil, fmt.Errorf("insert config schema: %w", err)
			}
			schemaID = sql.NullString{String: id, Valid: true}
		default:
			return nil, err
		}
	}

	var module *ServiceModule
	existing, err := scanModule(tx.QueryRowContext(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE service_id = $1`, serviceID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.log.Info("Creating new module registration", zap.String("service_id", serviceID))
		module, err = scanModule(tx.QueryRowContext(ctx,
			`INSERT INTO modules (service_id, service_name, host, port, version, config_schema_id, metadata, registered_at, last_heartbeat, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), $8)
			 RETURNING `+moduleColumns,
			serviceID, serviceName, host, port, version, schemaID, metaJSON, StatusActive))
		if err != nil {
			return nil, fmt.Errorf("insert module: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		if moduleChanged(existing, version, metadata, schemaID) {
			s.log.Info("Updating existing module registration", zap.String("service_id", serviceID))
		} else {
			s.log.Debug("Module unchanged, only updating heartbeat", zap.String("service_id", serviceID))
		}
		module, err = scanModule(tx.QueryRowContext(ctx,
			`UPDATE modules
			 SET version = $2, metadata = $3, config_schema_id = COALESCE($4, config_schema_id),
			     last_heartbeat = NOW(), status = $5
			 WHERE service_id = $1
			 RETURNING `+moduleColumns,
			serviceID, version, metaJSON, schemaID, StatusActive))
		if err != nil {
			return nil, fmt.Errorf("update module: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.log.Error("Failed to commit transaction", zap.Error(err))
		return nil, err
	}
	return module, nil
}

func moduleChanged(existing *ServiceModule, version string, metadata map[string]string, schemaID sql.NullString) bool {
	if existing.Version != version {
		return true
	}
	if !maps.Equal(existing.Metadata, metadata) {
		return true
	}
	if schemaID.Valid && existing.ConfigSchemaID != schemaID.String {
		return true
	}
	return false
}

// SaveSchema inserts a schema row and attempts a best-effort mirror to the
// artifact registry. A mirror failure marks the row FAILED but never rolls
// back the insert.
func (s *Store) SaveSchema(ctx context.Context, serviceName, version, jsonSchema string) (*ConfigSchema, error) {
	schema := &ConfigSchema{
		SchemaID:      registrationv1.SchemaID(serviceName, version),
		ServiceName:   serviceName,
		SchemaVersion: version,
		JSONSchema:    jsonSchema,
		SyncStatus:    SyncPending,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO config_schemas (schema_id, service_name, schema_version, json_schema, created_at, sync_status)
		 VALUES ($1, $2, $3, $4, NOW(), $5)
		 RETURNING created_at`,
		schema.SchemaID, serviceName, version, jsonSchema, SyncPending,
	).Scan(&schema.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert config schema: %w", err)
	}

	if s.mirror == nil {
		return schema, nil
	}

	artifact, err := s.mirror.CreateOrUpdate(ctx, serviceName, version, jsonSchema)
	if err != nil {
		s.log.Warn("Failed to sync schema to Apicurio",
			zap.String("schema_id", schema.SchemaID), zap.Error(err))
		if markErr := s.MarkSchemaSyncFailed(ctx, schema.SchemaID, err.Error()); markErr != nil {
			s.log.Error("Failed to record sync failure",
				zap.String("schema_id", schema.SchemaID), zap.Error(markErr))
		}
		schema.SyncStatus = SyncFailed
		schema.SyncError = err.Error()
		return schema, nil
	}

	if err := s.MarkSchemaSynced(ctx, schema.SchemaID, artifact.ArtifactID, artifact.GlobalID); err != nil {
		return nil, err
	}
	schema.SyncStatus = SyncSynced
	schema.ApicurioArtifactID = artifact.ArtifactID
	schema.ApicurioGlobalID = artifact.GlobalID
	return schema, nil
}

// MarkSchemaSynced records a successful mirror to the artifact registry.
func (s *Store) MarkSchemaSynced(ctx context.Context, schemaID, artifactID string, globalID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE config_schemas
		 SET apicurio_artifact_id = $2, apicurio_global_id = $3, sync_status = $4,
		     last_sync_attempt = NOW(), sync_error = NULL
		 WHERE schema_id = $1`,
		schemaID, artifactID, globalID, SyncSynced)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkSchemaSyncFailed records a failed mirror attempt with its error text.
func (s *Store) MarkSchemaSyncFailed(ctx context.Context, schemaID, syncError string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE config_schemas
		 SET sync_status = $2, last_sync_attempt = NOW(), sync_error = $3
		 WHERE schema_id = $1`,
		schemaID, SyncFailed, syncError)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateHeartbeat refreshes the heartbeat of an existing instance and sets it
// back to ACTIVE.
func (s *Store) UpdateHeartbeat(ctx context.Context, serviceID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE modules SET last_heartbeat = NOW(), status = $2 WHERE service_id = $1`,
		serviceID, StatusActive)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// MarkUnhealthy flags an existing instance without touching its heartbeat.
func (s *Store) MarkUnhealthy(ctx context.Context, serviceID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE modules SET status = $2 WHERE service_id = $1`,
		serviceID, StatusUnhealthy)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UnregisterModule deletes the row for serviceID, reporting whether it
// existed.
func (s *Store) UnregisterModule(ctx context.Context, serviceID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM modules WHERE service_id = $1`, serviceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetActiveServices lists all rows with status ACTIVE.
func (s *Store) GetActiveServices(ctx context.Context) ([]*ServiceModule, error) {
	return s.queryModules(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE status = $1 ORDER BY service_id`,
		StatusActive)
}

// GetAllServices lists every row.
func (s *Store) GetAllServices(ctx context.Context) ([]*ServiceModule, error) {
	return s.queryModules(ctx,
		`SELECT `+moduleColumns+` FROM modules ORDER BY service_id`)
}

// FindStaleServices lists ACTIVE rows whose heartbeat fell outside the
// window.
func (s *Store) FindStaleServices(ctx context.Context) ([]*ServiceModule, error) {
	threshold := time.Now().Add(-HeartbeatWindow)
	return s.queryModules(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE status = $1 AND last_heartbeat < $2`,
		StatusActive, threshold)
}

// FindByID fetches one instance row.
func (s *Store) FindByID(ctx context.Context, serviceID string) (*ServiceModule, error) {
	module, err := scanModule(s.db.QueryRowContext(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE service_id = $1`, serviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return module, err
}

// FindSchemaByID fetches one schema row.
func (s *Store) FindSchemaByID(ctx context.Context, schemaID string) (*ConfigSchema, error) {
	schema, err := scanSchema(s.db.QueryRowContext(ctx,
		`SELECT `+schemaColumns+` FROM config_schemas WHERE schema_id = $1`, schemaID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return schema, err
}

// FindLatestSchemaByServiceName fetches the most recently created schema for
// a service.
func (s *Store) FindLatestSchemaByServiceName(ctx context.Context, serviceName string) (*ConfigSchema, error) {
	schema, err := scanSchema(s.db.QueryRowContext(ctx,
		`SELECT `+schemaColumns+` FROM config_schemas WHERE service_name = $1 ORDER BY created_at DESC LIMIT 1`,
		serviceName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return schema, err
}

// FindSchemasNeedingSync lists schema rows whose mirror is missing or behind.
func (s *Store) FindSchemasNeedingSync(ctx context.Context) ([]*ConfigSchema, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+schemaColumns+` FROM config_schemas WHERE sync_status IN ($1, $2, $3) ORDER BY created_at`,
		SyncPending, SyncFailed, SyncOutOfSync)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schemas []*ConfigSchema
	for rows.Next() {
		schema, err := scanSchema(rows)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, schema)
	}
	return schemas, rows.Err()
}

// CountServicesByStatus aggregates row counts per status.
func (s *Store) CountServicesByStatus(ctx context.Context) (map[ModuleStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM modules GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[ModuleStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[ModuleStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) queryModules(ctx context.Context, query string, args ...interface{}) ([]*ServiceModule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []*ServiceModule
	for rows.Next() {
		module, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	return modules, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanModule(row rowScanner) (*ServiceModule, error) {
	var (
		m        ServiceModule
		version  sql.NullString
		schemaID sql.NullString
		metadata []byte
		status   string
	)
	if err := row.Scan(&m.ServiceID, &m.ServiceName, &m.Host, &m.Port, &version,
		&schemaID, &metadata, &m.RegisteredAt, &m.LastHeartbeat, &status); err != nil {
		return nil, err
	}
	m.Version = version.String
	m.ConfigSchemaID = schemaID.String
	m.Status = ModuleStatus(status)

	meta, err := fromJSONB(metadata)
	if err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	m.Metadata = meta
	return &m, nil
}

func scanSchema(row rowScanner) (*ConfigSchema, error) {
	var (
		c          ConfigSchema
		createdBy  sql.NullString
		artifactID sql.NullString
		globalID   sql.NullInt64
		lastSync   sql.NullTime
		syncError  sql.NullString
		status     string
	)
	if err := row.Scan(&c.SchemaID, &c.ServiceName, &c.SchemaVersion, &c.JSONSchema,
		&c.CreatedAt, &createdBy, &artifactID, &globalID, &status, &lastSync, &syncError); err != nil {
		return nil, err
	}
	c.CreatedBy = createdBy.String
	c.ApicurioArtifactID = artifactID.String
	c.ApicurioGlobalID = globalID.Int64
	c.SyncStatus = SyncStatus(status)
	if lastSync.Valid {
		t := lastSync.Time
		c.LastSyncAttempt = &t
	}
	c.SyncError = syncError.String
	return &c, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// toJSONB marshals a metadata map to JSONB for Postgres.
func toJSONB(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// fromJSONB unmarshals JSONB from Postgres into a metadata map.
func fromJSONB(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return map[string]string{}, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}
