package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adeyemio/smart-meter-service/internal/db"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetDeviceStatus returns the current status row for a device, or nil when
// the device has never reported.
func (r *Repository) GetDeviceStatus(ctx context.Context, deviceID string) (*db.DeviceStatus, error) {
	query := `
		SELECT device_id, voltage, current, power, total_units, unit_low, relay_status, last_seen, created_at
		FROM device_status
		WHERE device_id = $1
	`

	var status db.DeviceStatus
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(
		&status.DeviceID,
		&status.Voltage,
		&status.Current,
		&status.Power,
		&status.TotalUnits,
		&status.UnitLow,
		&status.RelayStatus,
		&status.LastSeen,
		&status.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device status: %w", err)
	}

	return &status, nil
}

// UpsertDeviceStatus overwrites the current-state row for a device
func (r *Repository) UpsertDeviceStatus(ctx context.Context, status *db.DeviceStatus) error {
	query := `
		INSERT INTO device_status (device_id, voltage, current, power, total_units, unit_low, relay_status, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id) DO UPDATE SET
			voltage = EXCLUDED.voltage,
			current = EXCLUDED.current,
			power = EXCLUDED.power,
			total_units = EXCLUDED.total_units,
			unit_low = EXCLUDED.unit_low,
			relay_status = EXCLUDED.relay_status,
			last_seen = EXCLUDED.last_seen
	`

	_, err := r.pool.Exec(ctx, query,
		status.DeviceID,
		status.Voltage,
		status.Current,
		status.Power,
		status.TotalUnits,
		status.UnitLow,
		status.RelayStatus,
		status.LastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device status: %w", err)
	}

	return nil
}

// InsertMeterReading appends a reading and fills in its id and created_at
func (r *Repository) InsertMeterReading(ctx context.Context, reading *db.MeterReading) error {
	query := `
		INSERT INTO meter_readings (device_id, voltage, current, power, total_units, unit_low, relay_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = time.Now()
	}

	err := r.pool.QueryRow(ctx, query,
		reading.DeviceID,
		reading.Voltage,
		reading.Current,
		reading.Power,
		reading.TotalUnits,
		reading.UnitLow,
		reading.RelayStatus,
		reading.CreatedAt,
	).Scan(&reading.ID)
	if err != nil {
		return fmt.Errorf("failed to insert meter reading: %w", err)
	}

	return nil
}

// GetRecentReadings returns the latest readings for a device, newest first
func (r *Repository) GetRecentReadings(ctx context.Context, deviceID string, limit int) ([]db.MeterReading, error) {
	query := `
		SELECT id, device_id, voltage, current, power, total_units, unit_low, relay_status, created_at
		FROM meter_readings
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []db.MeterReading
	for rows.Next() {
		var reading db.MeterReading
		if err := rows.Scan(
			&reading.ID,
			&reading.DeviceID,
			&reading.Voltage,
			&reading.Current,
			&reading.Power,
			&reading.TotalUnits,
			&reading.UnitLow,
			&reading.RelayStatus,
			&reading.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}

// GetReadingsInRange returns readings between two instants, oldest first
func (r *Repository) GetReadingsInRange(ctx context.Context, deviceID string, start, end time.Time) ([]db.MeterReading, error) {
	query := `
		SELECT id, device_id, voltage, current, power, total_units, unit_low, relay_status, created_at
		FROM meter_readings
		WHERE device_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings in range: %w", err)
	}
	defer rows.Close()

	var readings []db.MeterReading
	for rows.Next() {
		var reading db.MeterReading
		if err := rows.Scan(
			&reading.ID,
			&reading.DeviceID,
			&reading.Voltage,
			&reading.Current,
			&reading.Power,
			&reading.TotalUnits,
			&reading.UnitLow,
			&reading.RelayStatus,
			&reading.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}

// GetAlerts returns the latest alerts for a device, newest first
func (r *Repository) GetAlerts(ctx context.Context, deviceID string, limit int) ([]db.Alert, error) {
	query := `
		SELECT id, device_id, alert_type, message, acknowledged, created_at
		FROM alerts
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []db.Alert
	for rows.Next() {
		var alert db.Alert
		if err := rows.Scan(
			&alert.ID,
			&alert.DeviceID,
			&alert.AlertType,
			&alert.Message,
			&alert.Acknowledged,
			&alert.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return alerts, nil
}

// InsertAlert raises a new alert and fills in its id and created_at
func (r *Repository) InsertAlert(ctx context.Context, alert *db.Alert) error {
	query := `
		INSERT INTO alerts (device_id, alert_type, message)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query, alert.DeviceID, alert.AlertType, alert.Message).
		Scan(&alert.ID, &alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

// AcknowledgeAlert marks an alert acknowledged. Returns false when the alert
// does not exist or was already acknowledged.
func (r *Repository) AcknowledgeAlert(ctx context.Context, alertID int64) (bool, error) {
	query := `
		UPDATE alerts
		SET acknowledged = TRUE
		WHERE id = $1 AND acknowledged = FALSE
	`

	tag, err := r.pool.Exec(ctx, query, alertID)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// HasUnacknowledgedAlert reports whether a device already has an open alert
// of the given type. Used to avoid raising duplicates while a flag stays up.
func (r *Repository) HasUnacknowledgedAlert(ctx context.Context, deviceID, alertType string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE device_id = $1 AND alert_type = $2 AND acknowledged = FALSE
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, deviceID, alertType).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query open alerts: %w", err)
	}

	return exists, nil
}

// GetHourlyPowerAvg calls the get_hourly_power_avg database function
func (r *Repository) GetHourlyPowerAvg(ctx context.Context, deviceID string, hoursBack int) ([]db.HourlyPowerAvg, error) {
	rows, err := r.pool.Query(ctx, `SELECT hour, average_power, readings_count FROM get_hourly_power_avg($1, $2)`, deviceID, hoursBack)
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly power average: %w", err)
	}
	defer rows.Close()

	var buckets []db.HourlyPowerAvg
	for rows.Next() {
		var bucket db.HourlyPowerAvg
		if err := rows.Scan(&bucket.Hour, &bucket.AveragePower, &bucket.ReadingsCount); err != nil {
			return nil, fmt.Errorf("failed to scan hourly bucket: %w", err)
		}
		buckets = append(buckets, bucket)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return buckets, nil
}

// GetDailyPowerConsumption calls the get_daily_power_consumption database function
func (r *Repository) GetDailyPowerConsumption(ctx context.Context, deviceID string, daysBack int) ([]db.DailyPowerConsumption, error) {
	rows, err := r.pool.Query(ctx, `SELECT date, total_consumption, average_power FROM get_daily_power_consumption($1, $2)`, deviceID, daysBack)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily power consumption: %w", err)
	}
	defer rows.Close()

	var buckets []db.DailyPowerConsumption
	for rows.Next() {
		var bucket db.DailyPowerConsumption
		if err := rows.Scan(&bucket.Date, &bucket.TotalConsumption, &bucket.AveragePower); err != nil {
			return nil, fmt.Errorf("failed to scan daily bucket: %w", err)
		}
		buckets = append(buckets, bucket)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return buckets, nil
}
