package registrationv1

import "time"

// EventType labels one stage of the registration state machine. Every stage
// emits exactly one event of its own type on success; any failure is
// delivered as a terminal FAILED event rather than a transport error.
type EventType string

const (
	EventStarted               EventType = "STARTED"
	EventValidated             EventType = "VALIDATED"
	EventConsulRegistered      EventType = "CONSUL_REGISTERED"
	EventHealthCheckConfigured EventType = "HEALTH_CHECK_CONFIGURED"
	EventConsulHealthy         EventType = "CONSUL_HEALTHY"
	EventMetadataRetrieved     EventType = "METADATA_RETRIEVED"
	EventSchemaValidated       EventType = "SCHEMA_VALIDATED"
	EventDatabaseSaved         EventType = "DATABASE_SAVED"
	EventApicurioRegistered    EventType = "APICURIO_REGISTERED"
	EventCompleted             EventType = "COMPLETED"
	EventFailed                EventType = "FAILED"
)

// RegistrationEvent is one element of a registration progress stream.
type RegistrationEvent struct {
	EventType   EventType
	ServiceID   string
	Message     string
	ErrorDetail string
	Timestamp   time.Time
}

// EventStream is the server side of a RegisterService/RegisterModule stream.
type EventStream interface {
	Send(*RegistrationEvent) error
}

// ServiceWatchStream receives service snapshots until the client cancels.
type ServiceWatchStream interface {
	Send(*ServiceListResponse) error
}

// ModuleWatchStream receives module snapshots until the client cancels.
type ModuleWatchStream interface {
	Send(*ModuleListResponse) error
}
