package command

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/adeyemio/smart-meter-service/internal/db"
)

// Store is the subset of the repository the command queue reads through
type Store interface {
	GetPendingCommands(ctx context.Context, deviceID string) ([]db.MeterCommand, error)
	AcknowledgeCommand(ctx context.Context, commandID int64) (bool, error)
	GetCommand(ctx context.Context, commandID int64) (*db.MeterCommand, error)
}

// Service exposes the command queue to the meter firmware, which polls for
// pending commands and acknowledges them after applying.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a new command service
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Pending hands out the queued commands for a device. Returned commands
// move to sent status, so polling twice does not deliver twice.
func (s *Service) Pending(ctx context.Context, deviceID string) ([]db.MeterCommand, error) {
	commands, err := s.store.GetPendingCommands(ctx, deviceID)
	if err != nil {
		s.logger.Error("failed to fetch pending commands", zap.Error(err), zap.String("device_id", deviceID))
		return nil, fmt.Errorf("failed to fetch pending commands: %w", err)
	}

	if len(commands) > 0 {
		s.logger.Info("handed out pending commands",
			zap.String("device_id", deviceID),
			zap.Int("count", len(commands)),
		)
	}

	return commands, nil
}

// Acknowledge settles a command the meter has applied. Returns false when
// the command does not exist or is already settled.
func (s *Service) Acknowledge(ctx context.Context, commandID int64) (bool, error) {
	acked, err := s.store.AcknowledgeCommand(ctx, commandID)
	if err != nil {
		s.logger.Error("failed to acknowledge command", zap.Error(err), zap.Int64("command_id", commandID))
		return false, fmt.Errorf("failed to acknowledge command: %w", err)
	}

	if acked {
		s.logger.Info("command acknowledged", zap.Int64("command_id", commandID))
	}

	return acked, nil
}

// Status returns a single command row, or nil when it does not exist
func (s *Service) Status(ctx context.Context, commandID int64) (*db.MeterCommand, error) {
	cmd, err := s.store.GetCommand(ctx, commandID)
	if err != nil {
		s.logger.Error("failed to fetch command", zap.Error(err), zap.Int64("command_id", commandID))
		return nil, fmt.Errorf("failed to fetch command: %w", err)
	}

	return cmd, nil
}
