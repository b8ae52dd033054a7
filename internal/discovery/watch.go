package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	registrationv1 "github.com/pipestream-ai/platform-registration/api/registration/v1"
)

// WatchInterval is the poll cadence between snapshots on a watch stream. The
// first snapshot is always sent immediately.
const WatchInterval = 2 * time.Second

// WatchServices streams full service snapshots until the client cancels: one
// immediately, then one per tick. Upstream failures already degrade to empty
// snapshots inside ListServices, so the stream only ends on cancellation or a
// failed send.
func (s *Surface) WatchServices(ctx context.Context, stream registrationv1.ServiceWatchStream) error {
	s.log.Info("Starting service watch stream")

	snapshot, err := s.ListServices(ctx)
	if err != nil {
		snapshot = emptyServiceList()
	}
	s.log.Info("Sending initial service list", zap.Int("count", snapshot.TotalCount))
	if err := stream.Send(snapshot); err != nil {
		return err
	}

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Service watch stream cancelled by client")
			return nil
		case <-ticker.C:
			snapshot, err := s.ListServices(ctx)
			if err != nil {
				snapshot = emptyServiceList()
			}
			s.log.Debug("Service watch update", zap.Int("count", snapshot.TotalCount))
			if err := stream.Send(snapshot); err != nil {
				return err
			}
		}
	}
}

// WatchModules is WatchServices for module snapshots.
func (s *Surface) WatchModules(ctx context.Context, stream registrationv1.ModuleWatchStream) error {
	s.log.Info("Starting module watch stream")

	snapshot, err := s.ListModules(ctx)
	if err != nil {
		snapshot = emptyModuleList()
	}
	s.log.Info("Sending initial module list", zap.Int("count", snapshot.TotalCount))
	if err := stream.Send(snapshot); err != nil {
		return err
	}

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Module watch stream cancelled by client")
			return nil
		case <-ticker.C:
			snapshot, err := s.ListModules(ctx)
			if err != nil {
				snapshot = emptyModuleList()
			}
			s.log.Debug("Module watch update", zap.Int("count", snapshot.TotalCount))
			if err := stream.Send(snapshot); err != nil {
				return err
			}
		}
	}
}
