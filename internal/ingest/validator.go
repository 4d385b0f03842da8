package ingest

import (
	"fmt"
	"time"

	"github.com/adeyemio/smart-meter-service/tools/timeparser"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

// Validator checks raw meter readings before they are persisted
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator with the specified timestamp tolerance
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// ValidateReading validates a raw reading and resolves its timestamp. The
// returned time is zero when the date could not be parsed.
func (v *Validator) ValidateReading(reading RawReading, receivedAt time.Time) (time.Time, ValidationResult) {
	result := ValidationResult{IsValid: true}

	if reading.DeviceID == "" {
		result.IsValid = false
		result.Reason = "empty device id"
		return time.Time{}, result
	}

	for name, value := range map[string]float64{
		"voltage":     reading.Voltage,
		"current":     reading.Current,
		"power":       reading.Power,
		"total_units": reading.TotalUnits,
	} {
		if value < 0 {
			result.IsValid = false
			result.Reason = fmt.Sprintf("negative %s detected", name)
			return time.Time{}, result
		}
	}

	// No date means the meter clock is unset; fall back to receipt time
	if reading.Date == "" {
		return receivedAt, result
	}

	readingTime, err := timeparser.ParseMeterTimestamp(reading.Date)
	if err != nil {
		result.IsValid = false
		result.Reason = fmt.Sprintf("invalid timestamp format: %v", err)
		return time.Time{}, result
	}

	if !timeparser.IsWithinTolerance(readingTime, receivedAt, v.timestampToleranceMinutes) {
		result.IsValid = false
		result.Reason = fmt.Sprintf("timestamp outside tolerance window (±%d minutes)", v.timestampToleranceMinutes)
		return readingTime, result
	}

	return readingTime, result
}
