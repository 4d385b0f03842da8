package db

import (
	"encoding/json"
	"time"
)

// Alert kinds raised for a device.
const (
	AlertTamper  = "tamper"
	AlertLowUnit = "low_unit"
)

// Payment statuses for a unit purchase.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// Command statuses for a queued meter command.
const (
	CommandPending      = "pending"
	CommandSent         = "sent"
	CommandAcknowledged = "acknowledged"
	CommandFailed       = "failed"
)

// CommandAddUnits instructs the meter to credit purchased units.
const CommandAddUnits = "add_units"

// DeviceStatus is the single current-state row per device, overwritten by
// each new reading. Online is derived from LastSeen, never stored.
type DeviceStatus struct {
	DeviceID    string    `json:"device_id"`
	Voltage     float64   `json:"voltage"`
	Current     float64   `json:"current"`
	Power       float64   `json:"power"`
	TotalUnits  float64   `json:"total_units"`
	UnitLow     bool      `json:"unit_low"`
	RelayStatus bool      `json:"relay_status"`
	LastSeen    time.Time `json:"last_seen"`
	CreatedAt   time.Time `json:"created_at"`
}

// MeterReading is one append-only time-series sample from a meter.
type MeterReading struct {
	ID          int64     `json:"id"`
	DeviceID    string    `json:"device_id"`
	Voltage     float64   `json:"voltage"`
	Current     float64   `json:"current"`
	Power       float64   `json:"power"`
	TotalUnits  float64   `json:"total_units"`
	UnitLow     bool      `json:"unit_low"`
	RelayStatus bool      `json:"relay_status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Alert is a tamper or low-unit notification for a device. Acknowledged
// moves false to true exactly once; alerts are never deleted.
type Alert struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id"`
	AlertType    string    `json:"alert_type"`
	Message      string    `json:"message"`
	Acknowledged bool      `json:"acknowledged"`
	CreatedAt    time.Time `json:"created_at"`
}

// UnitPurchase records one purchase of electricity units. AppliedToMeter and
// AppliedAt are written by the meter-side consumer, not by this service.
type UnitPurchase struct {
	ID               int64     `json:"id"`
	DeviceID         string    `json:"device_id"`
	CustomerName     string    `json:"customer_name"`
	CustomerEmail    *string   `json:"customer_email,omitempty"`
	CustomerPhone    *string   `json:"customer_phone,omitempty"`
	UnitsPurchased   float64   `json:"units_purchased"`
	AmountPaid       float64   `json:"amount_paid"`
	PaymentMethod    string    `json:"payment_method"`
	PaymentReference *string   `json:"payment_reference,omitempty"`
	PaymentStatus    string    `json:"payment_status"`
	PurchaseDate     time.Time `json:"purchase_date"`
	AppliedToMeter   bool      `json:"applied_to_meter"`
	AppliedAt        *time.Time `json:"applied_at,omitempty"`
}

// MeterCommand is an instruction queued for a physical meter, consumed and
// acknowledged by the meter firmware.
type MeterCommand struct {
	ID          int64           `json:"id"`
	DeviceID    string          `json:"device_id"`
	CommandType string          `json:"command_type"`
	CommandData json.RawMessage `json:"command_data"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	RetryCount  int             `json:"retry_count"`
}

// HourlyPowerAvg is one bucket from get_hourly_power_avg.
type HourlyPowerAvg struct {
	Hour          time.Time `json:"hour"`
	AveragePower  float64   `json:"average_power"`
	ReadingsCount int       `json:"readings_count"`
}

// DailyPowerConsumption is one bucket from get_daily_power_consumption.
type DailyPowerConsumption struct {
	Date             time.Time `json:"date"`
	TotalConsumption float64   `json:"total_consumption"`
	AveragePower     float64   `json:"average_power"`
}
