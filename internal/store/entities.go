package store

import (
	"time"
)

// ModuleStatus is the lifecycle status of a registered instance.
type ModuleStatus string

const (
	StatusActive      ModuleStatus = "ACTIVE"
	StatusInactive    ModuleStatus = "INACTIVE"
	StatusUnhealthy   ModuleStatus = "UNHEALTHY"
	StatusMaintenance ModuleStatus = "MAINTENANCE"
)

// SyncStatus tracks mirroring of a schema row to the artifact registry.
type SyncStatus string

const (
	SyncPending   SyncStatus = "PENDING"
	SyncSynced    SyncStatus = "SYNCED"
	SyncFailed    SyncStatus = "FAILED"
	SyncOutOfSync SyncStatus = "OUT_OF_SYNC"
)

// HeartbeatWindow is how recent a heartbeat must be for an instance to count
// as healthy. The stale scan uses the same cutoff.
const HeartbeatWindow = 30 * time.Second

// ServiceModule is the system-of-record row for one registered instance.
type ServiceModule struct {
	ServiceID      string            `db:"service_id"`
	ServiceName    string            `db:"service_name"`
	Host           string            `db:"host"`
	Port           int               `db:"port"`
	Version        string            `db:"version"`
	ConfigSchemaID string            `db:"config_schema_id"`
	Metadata       map[string]string `db:"metadata"`
	RegisteredAt   time.Time         `db:"registered_at"`
	LastHeartbeat  time.Time         `db:"last_heartbeat"`
	Status         ModuleStatus      `db:"status"`
}

// IsHealthy reports whether the instance heartbeated within the window.
func (m *ServiceModule) IsHealthy(now time.Time) bool {
	if m.LastHeartbeat.IsZero() {
		return false
	}
	return m.LastHeartbeat.After(now.Add(-HeartbeatWindow))
}

// ConfigSchema is a versioned JSON configuration schema owned by a service.
// The relational row is authoritative; the artifact registry holds a mirror
// whose state is tracked in SyncStatus.
type ConfigSchema struct {
	SchemaID           string     `db:"schema_id"`
	ServiceName        string     `db:"service_name"`
	SchemaVersion      string     `db:"schema_version"`
	JSONSchema         string     `db:"json_schema"`
	CreatedAt          time.Time  `db:"created_at"`
	CreatedBy          string     `db:"created_by"`
	ApicurioArtifactID string     `db:"apicurio_artifact_id"`
	ApicurioGlobalID   int64      `db:"apicurio_global_id"`
	SyncStatus         SyncStatus `db:"sync_status"`
	LastSyncAttempt    *time.Time `db:"last_sync_attempt"`
	SyncError          string     `db:"sync_error"`
}
