package meter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adeyemio/smart-meter-service/internal/config"
	"github.com/adeyemio/smart-meter-service/internal/db"
)

// Store is the subset of the repository the meter service reads through
type Store interface {
	GetDeviceStatus(ctx context.Context, deviceID string) (*db.DeviceStatus, error)
	GetRecentReadings(ctx context.Context, deviceID string, limit int) ([]db.MeterReading, error)
	GetReadingsInRange(ctx context.Context, deviceID string, start, end time.Time) ([]db.MeterReading, error)
	GetAlerts(ctx context.Context, deviceID string, limit int) ([]db.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID int64) (bool, error)
	GetHourlyPowerAvg(ctx context.Context, deviceID string, hoursBack int) ([]db.HourlyPowerAvg, error)
	GetDailyPowerConsumption(ctx context.Context, deviceID string, daysBack int) ([]db.DailyPowerConsumption, error)
}

// StatusResult pairs the stored status row with the derived online flag
type StatusResult struct {
	Status *db.DeviceStatus `json:"status"`
	Online bool             `json:"online"`
}

// AlertsResult pairs recent alerts with the unacknowledged count
type AlertsResult struct {
	Alerts              []db.Alert `json:"alerts"`
	UnacknowledgedCount int        `json:"unacknowledged_count"`
}

// Service exposes device status, readings and alerts to the dashboard
type Service struct {
	store  Store
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new meter service
func NewService(store Store, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Status returns the latest device status and whether the device is online.
// A device that has never reported yields a nil status and online=false.
func (s *Service) Status(ctx context.Context, deviceID string) (StatusResult, error) {
	status, err := s.store.GetDeviceStatus(ctx, deviceID)
	if err != nil {
		s.logger.Error("failed to fetch device status", zap.Error(err), zap.String("device_id", deviceID))
		return StatusResult{}, fmt.Errorf("failed to fetch device status: %w", err)
	}
	if status == nil {
		return StatusResult{}, nil
	}

	return StatusResult{
		Status: status,
		Online: s.IsOnline(status.LastSeen),
	}, nil
}

// IsOnline reports whether a last-seen instant is recent enough to count the
// device as online. The boundary is strict: exactly the window is offline.
func (s *Service) IsOnline(lastSeen time.Time) bool {
	window := time.Duration(s.cfg.Status.OnlineWindowMinutes) * time.Minute
	return s.now().Sub(lastSeen) < window
}

// RecentReadings returns the latest readings, newest first. A limit of zero
// or less uses the configured default.
func (s *Service) RecentReadings(ctx context.Context, deviceID string, limit int) ([]db.MeterReading, error) {
	if limit <= 0 {
		limit = s.cfg.Status.ReadingsDefaultLimit
	}

	readings, err := s.store.GetRecentReadings(ctx, deviceID, limit)
	if err != nil {
		s.logger.Error("failed to fetch readings", zap.Error(err), zap.String("device_id", deviceID))
		return nil, fmt.Errorf("failed to fetch readings: %w", err)
	}

	return readings, nil
}

// ReadingsInRange returns readings between two instants, oldest first
func (s *Service) ReadingsInRange(ctx context.Context, deviceID string, start, end time.Time) ([]db.MeterReading, error) {
	readings, err := s.store.GetReadingsInRange(ctx, deviceID, start, end)
	if err != nil {
		s.logger.Error("failed to fetch readings in range", zap.Error(err), zap.String("device_id", deviceID))
		return nil, fmt.Errorf("failed to fetch readings: %w", err)
	}

	return readings, nil
}

// Alerts returns recent alerts and how many are unacknowledged
func (s *Service) Alerts(ctx context.Context, deviceID string, limit int) (AlertsResult, error) {
	if limit <= 0 {
		limit = s.cfg.Status.AlertsDefaultLimit
	}

	alerts, err := s.store.GetAlerts(ctx, deviceID, limit)
	if err != nil {
		s.logger.Error("failed to fetch alerts", zap.Error(err), zap.String("device_id", deviceID))
		return AlertsResult{}, fmt.Errorf("failed to fetch alerts: %w", err)
	}

	count := 0
	for _, alert := range alerts {
		if !alert.Acknowledged {
			count++
		}
	}

	return AlertsResult{Alerts: alerts, UnacknowledgedCount: count}, nil
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging an alert that
// is missing or already acknowledged returns false with no error.
func (s *Service) AcknowledgeAlert(ctx context.Context, alertID int64) (bool, error) {
	acked, err := s.store.AcknowledgeAlert(ctx, alertID)
	if err != nil {
		s.logger.Error("failed to acknowledge alert", zap.Error(err), zap.Int64("alert_id", alertID))
		return false, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	return acked, nil
}

// HourlyPowerAvg returns hourly average power buckets for the last hoursBack
// hours (default 24).
func (s *Service) HourlyPowerAvg(ctx context.Context, deviceID string, hoursBack int) ([]db.HourlyPowerAvg, error) {
	if hoursBack <= 0 {
		hoursBack = 24
	}

	buckets, err := s.store.GetHourlyPowerAvg(ctx, deviceID, hoursBack)
	if err != nil {
		s.logger.Error("failed to fetch hourly power", zap.Error(err), zap.String("device_id", deviceID))
		return nil, fmt.Errorf("failed to fetch hourly power: %w", err)
	}

	return buckets, nil
}

// DailyPowerConsumption returns daily consumption buckets for the last
// daysBack days (default 30).
func (s *Service) DailyPowerConsumption(ctx context.Context, deviceID string, daysBack int) ([]db.DailyPowerConsumption, error) {
	if daysBack <= 0 {
		daysBack = 30
	}

	buckets, err := s.store.GetDailyPowerConsumption(ctx, deviceID, daysBack)
	if err != nil {
		s.logger.Error("failed to fetch daily consumption", zap.Error(err), zap.String("device_id", deviceID))
		return nil, fmt.Errorf("failed to fetch daily consumption: %w", err)
	}

	return buckets, nil
}
