// Package selfreg registers the hub itself with the discovery agent at
// startup. It drives the local registration flow directly instead of dialing
// the hub's own RPC surface, which would be a circular dependency.
package selfreg

import (
	"context"

	"go.uber.org/zap"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
	"github.com/pipestream-ai/platform-registration/internal/config"
)

// Registrant runs a service registration, streaming progress events.
// Satisfied by *registry.Orchestrator.
type Registrant interface {
	RegisterService(ctx context.Context, req *registrationv1.ServiceRegistrationRequest, stream registrationv1.EventStream) error
}

// Service performs the hub's own registration when the config enables it.
type Service struct {
	registrant Registrant
	cfg        *config.Config
	log        *zap.Logger
}

// New builds the self-registration service.
func New(registrant Registrant, cfg *config.Config, log *zap.Logger) *Service {
	return &Service{registrant: registrant, cfg: cfg, log: log}
}

// Register runs the registration flow for the hub itself, logging every
// progress event. Disabled registration is a single info log. The hub must
// already be serving gRPC health when this runs: the agent's check probes it
// before the flow can converge.
func (s *Service) Register(ctx context.Context) {
	if !s.cfg.SelfRegistrationEnabled {
		s.log.Info("Service registration disabled")
		return
	}

	s.log.Info("Self-registering with Consul (local handler)",
		zap.String("service", s.cfg.SelfRegistrationServiceName),
		zap.String("host", s.cfg.SelfRegistrationHost),
		zap.Int("port", s.cfg.SelfRegistrationPort))

	sink := &logStream{log: s.log, serviceName: s.cfg.SelfRegistrationServiceName}
	if err := s.registrant.RegisterService(ctx, s.buildRequest(), sink); err != nil {
		s.log.Error("Self-registration failed", zap.Error(err))
		return
	}
	s.log.Debug("Self-registration stream completed")
}

func (s *Service) buildRequest() *registrationv1.ServiceRegistrationRequest {
	return &registrationv1.ServiceRegistrationRequest{
		ServiceName: s.cfg.SelfRegistrationServiceName,
		Host:        s.cfg.SelfRegistrationHost,
		Port:        s.cfg.SelfRegistrationPort,
		Version:     s.cfg.SelfRegistrationVersion,
		Metadata: map[string]string{
			"description":  s.cfg.SelfRegistrationDescription,
			"service-type": s.cfg.SelfRegistrationServiceType,
			"profile":      s.cfg.AppEnv,
		},
		Capabilities: s.cfg.SelfRegistrationCapabilities,
		Tags:         s.cfg.SelfRegistrationTags,
	}
}

// logStream forwards registration progress into the log. There is no remote
// caller to stream to, so the log is the audit trail.
type logStream struct {
	log         *zap.Logger
	serviceName string
}

func (l *logStream) Send(ev *registrationv1.RegistrationEvent) error {
	l.log.Info("Self-registration event",
		zap.String("event_type", string(ev.EventType)),
		zap.String("message", ev.Message))

	switch ev.EventType {
	case registrationv1.EventCompleted:
		l.log.Info("Successfully self-registered with Consul",
			zap.String("service", l.serviceName))
	case registrationv1.EventFailed:
		l.log.Error("Failed to self-register",
			zap.String("service", l.serviceName),
			zap.String("message", ev.Message),
			zap.String("details", ev.ErrorDetail))
	}
	return nil
}
