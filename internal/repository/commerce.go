package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/adeyemio/smart-meter-service/internal/db"
)

// CreatePurchase inserts a purchase in pending status and fills in its id
// and purchase_date.
func (r *Repository) CreatePurchase(ctx context.Context, purchase *db.UnitPurchase) error {
	query := `
		INSERT INTO unit_purchases (
			device_id, customer_name, customer_email, customer_phone,
			units_purchased, amount_paid, payment_method, payment_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, purchase_date
	`

	err := r.pool.QueryRow(ctx, query,
		purchase.DeviceID,
		purchase.CustomerName,
		purchase.CustomerEmail,
		purchase.CustomerPhone,
		purchase.UnitsPurchased,
		purchase.AmountPaid,
		purchase.PaymentMethod,
		db.PaymentPending,
	).Scan(&purchase.ID, &purchase.PurchaseDate)
	if err != nil {
		return fmt.Errorf("failed to create purchase: %w", err)
	}

	purchase.PaymentStatus = db.PaymentPending
	return nil
}

// CompletePurchase stamps the payment reference and moves the purchase to
// completed status.
func (r *Repository) CompletePurchase(ctx context.Context, purchaseID int64, paymentReference string) error {
	query := `
		UPDATE unit_purchases
		SET payment_status = $1, payment_reference = $2
		WHERE id = $3
	`

	tag, err := r.pool.Exec(ctx, query, db.PaymentCompleted, paymentReference, purchaseID)
	if err != nil {
		return fmt.Errorf("failed to complete purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchase %d not found", purchaseID)
	}

	return nil
}

// GetPurchaseHistory returns the most recent purchases for a device,
// newest first.
func (r *Repository) GetPurchaseHistory(ctx context.Context, deviceID string, limit int) ([]db.UnitPurchase, error) {
	query := `
		SELECT id, device_id, customer_name, customer_email, customer_phone,
		       units_purchased, amount_paid, payment_method, payment_reference,
		       payment_status, purchase_date, applied_to_meter, applied_at
		FROM unit_purchases
		WHERE device_id = $1
		ORDER BY purchase_date DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchase history: %w", err)
	}
	defer rows.Close()

	var purchases []db.UnitPurchase
	for rows.Next() {
		var p db.UnitPurchase
		if err := rows.Scan(
			&p.ID,
			&p.DeviceID,
			&p.CustomerName,
			&p.CustomerEmail,
			&p.CustomerPhone,
			&p.UnitsPurchased,
			&p.AmountPaid,
			&p.PaymentMethod,
			&p.PaymentReference,
			&p.PaymentStatus,
			&p.PurchaseDate,
			&p.AppliedToMeter,
			&p.AppliedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return purchases, nil
}

// CreateUnitPurchaseCommand calls the create_unit_purchase_command database
// function and returns the new command id.
func (r *Repository) CreateUnitPurchaseCommand(ctx context.Context, deviceID string, units float64, purchaseID int64) (int64, error) {
	var commandID int64
	err := r.pool.QueryRow(ctx,
		`SELECT create_unit_purchase_command($1, $2, $3)`,
		deviceID, units, purchaseID,
	).Scan(&commandID)
	if err != nil {
		return 0, fmt.Errorf("failed to create unit purchase command: %w", err)
	}

	return commandID, nil
}

// GetPendingCommands calls the get_pending_commands database function. The
// function marks returned rows as sent, so each pending command is handed
// out once.
func (r *Repository) GetPendingCommands(ctx context.Context, deviceID string) ([]db.MeterCommand, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, device_id, command_type, command_data, status, created_at, retry_count FROM get_pending_commands($1)`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending commands: %w", err)
	}
	defer rows.Close()

	var commands []db.MeterCommand
	for rows.Next() {
		var cmd db.MeterCommand
		if err := rows.Scan(
			&cmd.ID,
			&cmd.DeviceID,
			&cmd.CommandType,
			&cmd.CommandData,
			&cmd.Status,
			&cmd.CreatedAt,
			&cmd.RetryCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		commands = append(commands, cmd)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return commands, nil
}

// AcknowledgeCommand calls the acknowledge_command database function.
// Returns false when the command does not exist or is already settled.
func (r *Repository) AcknowledgeCommand(ctx context.Context, commandID int64) (bool, error) {
	var acked bool
	err := r.pool.QueryRow(ctx, `SELECT acknowledge_command($1)`, commandID).Scan(&acked)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge command: %w", err)
	}

	return acked, nil
}

// GetCommand returns a single command row, or nil when it does not exist
func (r *Repository) GetCommand(ctx context.Context, commandID int64) (*db.MeterCommand, error) {
	query := `
		SELECT id, device_id, command_type, command_data, status, created_at, retry_count
		FROM meter_commands
		WHERE id = $1
	`

	var cmd db.MeterCommand
	err := r.pool.QueryRow(ctx, query, commandID).Scan(
		&cmd.ID,
		&cmd.DeviceID,
		&cmd.CommandType,
		&cmd.CommandData,
		&cmd.Status,
		&cmd.CreatedAt,
		&cmd.RetryCount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query command: %w", err)
	}

	return &cmd, nil
}
