package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/gamestore/internal/catalog/domain"
	"github.com/smallbiznis/gamestore/internal/clock"
	"github.com/smallbiznis/gamestore/internal/events"
	"github.com/smallbiznis/gamestore/internal/observability/logger"
	"github.com/smallbiznis/gamestore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	"github.com/smallbiznis/gamestore/internal/payment/gateway/paypal"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	"github.com/smallbiznis/gamestore/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrderCapturer finalizes an approved order at the gateway.
type OrderCapturer interface {
	CaptureOrder(ctx context.Context, orderID string) (*paypal.CaptureResult, error)
}

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           purchasedomain.Repository
	Catalog        catalogdomain.Service
	PayPal         OrderCapturer           `optional:"true"`
	Guard          *ratelimit.PurchaseGuard `optional:"true"`
	Publisher      events.Publisher        `optional:"true"`
	Metrics        *metrics.Metrics        `optional:"true"`
	GatewayMetrics *metrics.GatewayMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           purchasedomain.Repository
	catalog        catalogdomain.Service
	paypal         OrderCapturer
	guard          *ratelimit.PurchaseGuard
	publisher      events.Publisher
	metrics        *metrics.Metrics
	gatewayMetrics *metrics.GatewayMetrics
}

func NewService(p Params) *Service {
	publisher := p.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payment.capture"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		catalog:        p.Catalog,
		paypal:         p.PayPal,
		guard:          p.Guard,
		publisher:      publisher,
		metrics:        p.Metrics,
		gatewayMetrics: p.GatewayMetrics,
	}
}

type CaptureRequest struct {
	OrderID string
	UserID  string
	GameID  string
	Amount  int64
}

// Capture finalizes an approved order and records ownership. The ownership
// check and insert run in one transaction; the completed-owner unique index
// is the final authority.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (*purchasedomain.PurchaseRecord, error) {
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidOrderID
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, paymentdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	if s.paypal == nil {
		return nil, paymentdomain.ErrConfiguration
	}

	game, err := s.catalog.Get(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if price, _ := game.Price(catalogdomain.CurrencyUSD); price != req.Amount {
		return nil, paymentdomain.ErrInvalidAmount
	}

	log := logger.WithPurchase(logger.WithContext(ctx, s.log), paymentdomain.GatewayPayPal, orderID).
		With(zap.String("game_id", game.ID))

	owned, err := s.repo.FindCompletedByUserAndGame(ctx, s.db, userID, game.ID)
	if err != nil {
		s.gatewayMetrics.RecordStorageError("capture_precheck", err)
		return nil, err
	}
	if owned != nil {
		s.metrics.RecordPurchaseConflict(ctx, paymentdomain.GatewayPayPal, "capture")
		log.Info("capture skipped, game already owned")
		return nil, purchasedomain.ErrAlreadyOwned
	}

	result, err := s.paypal.CaptureOrder(ctx, orderID)
	if err != nil {
		log.Warn("capture failed", zap.Error(err))
		return nil, err
	}
	if result.Status != paypal.StatusCompleted {
		log.Warn("capture not completed", zap.String("gateway_status", result.Status))
		return nil, fmt.Errorf("%w: gateway status %s", paymentdomain.ErrPaymentNotCompleted, result.Status)
	}

	if err := s.matchCaptured(ctx, log, game.ID, req.Amount, result); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	record := &purchasedomain.PurchaseRecord{
		ID:             s.genID.Generate(),
		UserID:         userID,
		GameID:         game.ID,
		Amount:         result.Amount,
		Currency:       result.Currency,
		PaymentStatus:  purchasedomain.StatusCompleted,
		PaymentGateway: paymentdomain.GatewayPayPal,
		GatewayOrderID: orderID,
		PaymentDetails: datatypes.JSONMap(result.Raw),
		PurchaseDate:   now,
		UpdatedAt:      now,
	}
	if result.CaptureID != "" {
		captureID := result.CaptureID
		record.GatewayTransactionID = &captureID
	}

	err = s.guard.WithPurchaseLock(ctx, userID, game.ID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.repo.FindCompletedByUserAndGame(ctx, tx, userID, game.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return purchasedomain.ErrAlreadyOwned
			}
			return s.repo.Insert(ctx, tx, record)
		})
	})
	if err != nil {
		return nil, s.recordFailure(ctx, log, result, err)
	}

	s.metrics.RecordPurchaseTransition(ctx, paymentdomain.GatewayPayPal, string(purchasedomain.StatusCompleted))
	log.Info("purchase completed",
		zap.String("purchase_id", record.ID.String()),
		zap.String("gateway_transaction_id", result.CaptureID),
	)
	if err := s.publisher.PublishPurchaseCompleted(ctx, events.PurchaseCompletedFrom(record)); err != nil {
		log.Error("publish purchase.completed failed", zap.Error(err))
	}
	return record, nil
}

// matchCaptured rejects a capture whose order was created for another game
// or charged a different amount than the one being recorded.
func (s *Service) matchCaptured(ctx context.Context, log *zap.Logger, gameID string, amount int64, result *paypal.CaptureResult) error {
	var err error
	switch {
	case result.ReferenceID != gameID:
		err = fmt.Errorf("%w: captured order is for game %q", paymentdomain.ErrGatewayRejected, result.ReferenceID)
	case result.Currency != catalogdomain.CurrencyUSD || result.Amount != amount:
		err = fmt.Errorf("%w: captured %d %s, expected %d %s", paymentdomain.ErrInvalidAmount,
			result.Amount, result.Currency, amount, catalogdomain.CurrencyUSD)
	default:
		return nil
	}
	s.metrics.RecordPurchaseConflict(ctx, paymentdomain.GatewayPayPal, "capture_mismatch")
	log.Error("captured order does not match purchase, refund required",
		zap.String("gateway_transaction_id", result.CaptureID),
		zap.String("captured_game_id", result.ReferenceID),
		zap.Int64("captured_amount", result.Amount),
		zap.String("captured_currency", result.Currency),
		zap.Error(err),
	)
	return err
}

// recordFailure logs a capture that took funds but could not be recorded.
func (s *Service) recordFailure(ctx context.Context, log *zap.Logger, result *paypal.CaptureResult, err error) error {
	fields := []zap.Field{
		zap.String("gateway_transaction_id", result.CaptureID),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, purchasedomain.ErrAlreadyOwned):
		s.metrics.RecordPurchaseConflict(ctx, paymentdomain.GatewayPayPal, "capture_race")
		log.Error("payment captured for an already owned game, refund required", fields...)
		return purchasedomain.ErrAlreadyOwned
	case errors.Is(err, ratelimit.ErrLockNotAcquired):
		log.Error("payment captured but purchase lock not acquired, reconcile manually", fields...)
		return fmt.Errorf("%w: %w", purchasedomain.ErrStorage, err)
	default:
		s.gatewayMetrics.RecordStorageError("capture_insert", err)
		log.Error("payment captured but purchase not recorded, reconcile manually", fields...)
		if errors.Is(err, purchasedomain.ErrStorage) {
			return err
		}
		return fmt.Errorf("%w: %w", purchasedomain.ErrStorage, err)
	}
}
