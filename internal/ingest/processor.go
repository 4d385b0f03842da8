package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adeyemio/smart-meter-service/internal/config"
	"github.com/adeyemio/smart-meter-service/internal/db"
	"github.com/adeyemio/smart-meter-service/internal/logging"
	"github.com/adeyemio/smart-meter-service/internal/realtime"
)

// RawReading is the message meter firmware publishes to the readings queue
type RawReading struct {
	RequestID   string    `json:"request_id"`
	DeviceID    string    `json:"device_id"`
	Voltage     float64   `json:"voltage"`
	Current     float64   `json:"current"`
	Power       float64   `json:"power"`
	TotalUnits  float64   `json:"total_units"`
	UnitLow     bool      `json:"unit_low"`
	RelayStatus bool      `json:"relay_status"`
	Date        string    `json:"date"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Store is the subset of the repository the processor writes through
type Store interface {
	InsertMeterReading(ctx context.Context, reading *db.MeterReading) error
	UpsertDeviceStatus(ctx context.Context, status *db.DeviceStatus) error
	InsertAlert(ctx context.Context, alert *db.Alert) error
	HasUnacknowledgedAlert(ctx context.Context, deviceID, alertType string) (bool, error)
}

// ChangeNotifier publishes row changes to the change feed
type ChangeNotifier interface {
	NotifyRowChange(ctx context.Context, table, action, deviceID string, row interface{}) error
}

// Processor turns raw meter messages into readings, status updates and
// alerts, then notifies the change feed.
type Processor struct {
	store     Store
	notifier  ChangeNotifier
	validator *Validator
	cfg       *config.Config
	logger    *zap.Logger
}

// NewProcessor creates a new ingest processor
func NewProcessor(store Store, notifier ChangeNotifier, validator *Validator, cfg *config.Config, logger *zap.Logger) *Processor {
	return &Processor{
		store:     store,
		notifier:  notifier,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessMessage handles one raw reading message. A returned error
// dead-letters the message.
func (p *Processor) ProcessMessage(ctx context.Context, routingKey string, body []byte) error {
	var msg RawReading
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal reading: %w", err)
	}

	reqLogger := logging.WithRequestID(p.logger, msg.RequestID)

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	readingTime, result := p.validator.ValidateReading(msg, receivedAt)
	if !result.IsValid {
		reqLogger.Error("rejected reading",
			zap.String("device_id", msg.DeviceID),
			zap.String("reason", result.Reason),
		)
		return fmt.Errorf("invalid reading: %s", result.Reason)
	}

	reading := &db.MeterReading{
		DeviceID:    msg.DeviceID,
		Voltage:     msg.Voltage,
		Current:     msg.Current,
		Power:       msg.Power,
		TotalUnits:  msg.TotalUnits,
		UnitLow:     msg.UnitLow,
		RelayStatus: msg.RelayStatus,
		CreatedAt:   readingTime,
	}
	if err := p.store.InsertMeterReading(ctx, reading); err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	status := &db.DeviceStatus{
		DeviceID:    msg.DeviceID,
		Voltage:     msg.Voltage,
		Current:     msg.Current,
		Power:       msg.Power,
		TotalUnits:  msg.TotalUnits,
		UnitLow:     msg.UnitLow,
		RelayStatus: msg.RelayStatus,
		LastSeen:    readingTime,
	}
	if err := p.store.UpsertDeviceStatus(ctx, status); err != nil {
		return fmt.Errorf("failed to upsert device status: %w", err)
	}

	raised := p.raiseAlerts(ctx, msg, reqLogger)

	// Change notifications are best effort; the rows are already committed
	p.notify(ctx, realtime.TableMeterReadings, realtime.ActionInsert, msg.DeviceID, reading, reqLogger)
	p.notify(ctx, realtime.TableDeviceStatus, realtime.ActionUpdate, msg.DeviceID, status, reqLogger)
	for i := range raised {
		p.notify(ctx, realtime.TableAlerts, realtime.ActionInsert, msg.DeviceID, &raised[i], reqLogger)
	}

	reqLogger.Info("reading ingested",
		zap.String("device_id", msg.DeviceID),
		zap.Float64("power", msg.Power),
		zap.Int("alerts_raised", len(raised)),
	)

	return nil
}

// raiseAlerts creates tamper and low-unit alerts for a reading. An alert is
// only raised while no unacknowledged alert of the same type is open, so a
// flag that stays up does not flood the table.
func (p *Processor) raiseAlerts(ctx context.Context, msg RawReading, logger *zap.Logger) []db.Alert {
	var raised []db.Alert

	// Relay open means the protective relay tripped
	if !msg.RelayStatus {
		alert := p.raiseAlert(ctx, msg.DeviceID, db.AlertTamper,
			"Tamper detected: protective relay is open", logger)
		if alert != nil {
			raised = append(raised, *alert)
		}
	}

	if msg.UnitLow || msg.TotalUnits <= p.cfg.Ingest.LowUnitThreshold {
		alert := p.raiseAlert(ctx, msg.DeviceID, db.AlertLowUnit,
			fmt.Sprintf("Units low: %.2f units remaining", msg.TotalUnits), logger)
		if alert != nil {
			raised = append(raised, *alert)
		}
	}

	return raised
}

func (p *Processor) raiseAlert(ctx context.Context, deviceID, alertType, message string, logger *zap.Logger) *db.Alert {
	open, err := p.store.HasUnacknowledgedAlert(ctx, deviceID, alertType)
	if err != nil {
		logger.Warn("failed to check open alerts", zap.Error(err), zap.String("alert_type", alertType))
		return nil
	}
	if open {
		return nil
	}

	alert := &db.Alert{
		DeviceID:  deviceID,
		AlertType: alertType,
		Message:   message,
	}
	if err := p.store.InsertAlert(ctx, alert); err != nil {
		logger.Error("failed to insert alert", zap.Error(err), zap.String("alert_type", alertType))
		return nil
	}

	logger.Info("alert raised",
		zap.String("device_id", deviceID),
		zap.String("alert_type", alertType),
	)
	return alert
}

func (p *Processor) notify(ctx context.Context, table, action, deviceID string, row interface{}, logger *zap.Logger) {
	if err := p.notifier.NotifyRowChange(ctx, table, action, deviceID, row); err != nil {
		logger.Warn("failed to notify change",
			zap.Error(err),
			zap.String("table", table),
		)
	}
}
