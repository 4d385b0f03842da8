package purchase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adeyemio/smart-meter-service/internal/config"
	"github.com/adeyemio/smart-meter-service/internal/db"
)

// Store is the subset of the repository the purchase workflow writes through
type Store interface {
	CreatePurchase(ctx context.Context, purchase *db.UnitPurchase) error
	CompletePurchase(ctx context.Context, purchaseID int64, paymentReference string) error
	CreateUnitPurchaseCommand(ctx context.Context, deviceID string, units float64, purchaseID int64) (int64, error)
	GetPurchaseHistory(ctx context.Context, deviceID string, limit int) ([]db.UnitPurchase, error)
}

// HistoryResult is the purchase history with its aggregate projections.
// TotalUnits and TotalAmount only count completed purchases.
type HistoryResult struct {
	Purchases   []db.UnitPurchase `json:"purchases"`
	Count       int               `json:"count"`
	TotalUnits  float64           `json:"total_units"`
	TotalAmount float64           `json:"total_amount"`
}

// Service runs the purchase workflow: validate, record, mock-charge, and
// queue an add-units command for the meter.
type Service struct {
	store     Store
	validator *Validator
	cfg       *config.Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a new purchase service
func NewService(store Store, validator *Validator, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		validator: validator,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// UnitPrice returns the fixed price per unit
func (s *Service) UnitPrice() float64 {
	return s.cfg.Purchase.UnitPrice
}

// Create validates and executes a purchase, returning the new purchase id.
// A *ValidationError means the request was rejected before any write. A
// failure to queue the meter command after a completed payment is logged
// only; the purchase still succeeds.
func (s *Service) Create(ctx context.Context, deviceID string, req Request) (int64, error) {
	if err := s.validator.Validate(req); err != nil {
		return 0, err
	}

	amount := req.Units * s.cfg.Purchase.UnitPrice

	record := &db.UnitPurchase{
		DeviceID:       deviceID,
		CustomerName:   req.CustomerName,
		CustomerEmail:  optional(req.CustomerEmail),
		CustomerPhone:  optional(req.CustomerPhone),
		UnitsPurchased: req.Units,
		AmountPaid:     amount,
		PaymentMethod:  req.PaymentMethod,
	}
	if err := s.store.CreatePurchase(ctx, record); err != nil {
		s.logger.Error("failed to create purchase record", zap.Error(err), zap.String("device_id", deviceID))
		return 0, fmt.Errorf("failed to create purchase record: %w", err)
	}

	if err := s.processPayment(ctx, record.ID); err != nil {
		s.logger.Error("payment processing failed", zap.Error(err), zap.Int64("purchase_id", record.ID))
		return 0, fmt.Errorf("payment processing failed: %w", err)
	}

	// Queuing the command is not rolled back into the payment: a failure
	// here leaves a completed purchase with no command. Logged only.
	if _, err := s.store.CreateUnitPurchaseCommand(ctx, deviceID, req.Units, record.ID); err != nil {
		s.logger.Error("failed to queue add-units command after completed payment",
			zap.Error(err),
			zap.Int64("purchase_id", record.ID),
			zap.Float64("units", req.Units),
		)
	}

	s.logger.Info("purchase completed",
		zap.Int64("purchase_id", record.ID),
		zap.String("device_id", deviceID),
		zap.Float64("units", req.Units),
		zap.Float64("amount", amount),
	)

	return record.ID, nil
}

// processPayment is the mock payment gateway: it always succeeds, stamping a
// synthetic reference and completing the purchase.
func (s *Service) processPayment(ctx context.Context, purchaseID int64) error {
	reference := s.paymentReference()
	return s.store.CompletePurchase(ctx, purchaseID, reference)
}

func (s *Service) paymentReference() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
	return fmt.Sprintf("PAY_%d_%s", s.now().UnixMilli(), suffix)
}

// History returns up to the configured limit of most recent purchases for a
// device, newest first, with completed-only aggregates.
func (s *Service) History(ctx context.Context, deviceID string) (HistoryResult, error) {
	purchases, err := s.store.GetPurchaseHistory(ctx, deviceID, s.cfg.Status.PurchaseHistoryLimit)
	if err != nil {
		s.logger.Error("failed to fetch purchase history", zap.Error(err), zap.String("device_id", deviceID))
		return HistoryResult{}, fmt.Errorf("failed to fetch purchase history: %w", err)
	}

	result := HistoryResult{Purchases: purchases, Count: len(purchases)}
	for _, p := range purchases {
		if p.PaymentStatus == db.PaymentCompleted {
			result.TotalUnits += p.UnitsPurchased
			result.TotalAmount += p.AmountPaid
		}
	}

	return result, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
