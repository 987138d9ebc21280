package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/gamestore/internal/clock"
	"github.com/smallbiznis/gamestore/internal/config"
	"github.com/smallbiznis/gamestore/internal/events"
	"github.com/smallbiznis/gamestore/internal/observability/logger"
	"github.com/smallbiznis/gamestore/internal/observability/metrics"
	"github.com/smallbiznis/gamestore/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	"github.com/smallbiznis/gamestore/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outcome is how a notification was reconciled. Every outcome is acknowledged.
type Outcome string

const (
	OutcomeUpdated   Outcome = "updated"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomePending   Outcome = "pending"
)

var errDuplicatePayment = errors.New("duplicate payment for owned game")

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Cfg            config.Config
	Clock          clock.Clock
	Adapters       *adapters.Registry
	Repo           purchasedomain.Repository
	Guard          *ratelimit.PurchaseGuard `optional:"true"`
	Publisher      events.Publisher        `optional:"true"`
	Metrics        *metrics.Metrics        `optional:"true"`
	GatewayMetrics *metrics.GatewayMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	cfg            config.Config
	clock          clock.Clock
	adapters       *adapters.Registry
	repo           purchasedomain.Repository
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
		log:            p.Log.Named("payment.webhook"),
		cfg:            p.Cfg,
		clock:          p.Clock,
		adapters:       p.Adapters,
		repo:           p.Repo,
		guard:          p.Guard,
		publisher:      publisher,
		metrics:        p.Metrics,
		gatewayMetrics: p.GatewayMetrics,
	}
}

// Ingest authenticates, parses and applies one gateway notification. A nil
// error means the notification must be acknowledged with 2xx.
func (s *Service) Ingest(ctx context.Context, gateway, target string, payload []byte, headers http.Header) (Outcome, error) {
	gateway = strings.ToLower(strings.TrimSpace(gateway))
	outcome, err := s.ingest(ctx, gateway, target, payload, headers)

	label := string(outcome)
	switch {
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		label = "rejected"
	case errors.Is(err, paymentdomain.ErrInvalidPayload):
		label = "invalid"
	case err != nil:
		label = "error"
	}
	if gateway != "" && s.adapters.ProviderExists(gateway) {
		s.metrics.RecordWebhookNotification(ctx, gateway, label)
	}
	return outcome, err
}

func (s *Service) ingest(ctx context.Context, gateway, target string, payload []byte, headers http.Header) (Outcome, error) {
	if gateway == "" {
		return "", paymentdomain.ErrInvalidGateway
	}
	if s.adapters == nil || !s.adapters.ProviderExists(gateway) {
		return "", paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return "", paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(gateway, s.adapterConfig(gateway))
	if err != nil {
		s.log.Error("webhook adapter unavailable", zap.String("gateway", gateway), zap.Error(err))
		return "", err
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("gateway", gateway))
	if err := adapter.Verify(ctx, target, payload, headers); err != nil {
		log.Warn("notification rejected", zap.Error(err))
		return "", err
	}

	notification, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return OutcomeIgnored, nil
		}
		return "", err
	}
	if notification.Status == purchasedomain.StatusPending {
		log.Info("non-terminal notification acknowledged",
			zap.String("gateway_order_id", notification.GatewayOrderID),
			zap.String("gateway_status", notification.GatewayStatus),
		)
		return OutcomePending, nil
	}

	return s.apply(ctx, notification)
}

func (s *Service) adapterConfig(gateway string) paymentdomain.AdapterConfig {
	switch gateway {
	case paymentdomain.GatewayDoku:
		return paymentdomain.AdapterConfig{Config: map[string]any{
			"secret_key":        s.cfg.Doku.SecretKey,
			"signature_mode":    s.cfg.Doku.SignatureMode,
			"notification_path": s.cfg.Doku.NotificationPath,
		}}
	case paymentdomain.GatewayPayPal:
		return paymentdomain.AdapterConfig{Config: map[string]any{
			"webhook_id": s.cfg.PayPal.WebhookID,
		}}
	default:
		return paymentdomain.AdapterConfig{}
	}
}

// apply moves the matching record forward exactly once.
func (s *Service) apply(ctx context.Context, n *paymentdomain.Notification) (Outcome, error) {
	log := logger.WithPurchase(logger.WithContext(ctx, s.log), n.Gateway, n.GatewayOrderID).
		With(zap.String("gateway_status", n.GatewayStatus))

	record, err := s.repo.FindByGatewayOrderID(ctx, s.db, n.Gateway, n.GatewayOrderID)
	if err != nil {
		s.gatewayMetrics.RecordStorageError("webhook_lookup", err)
		return "", err
	}
	if record == nil {
		log.Warn("notification for unknown order acknowledged")
		return OutcomeNotFound, nil
	}

	var (
		outcome   Outcome
		completed *purchasedomain.PurchaseRecord
	)
	err = s.guard.WithPurchaseLock(ctx, record.UserID, record.GameID, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.LockByGatewayOrderID(ctx, tx, n.Gateway, n.GatewayOrderID)
			if err != nil {
				return err
			}
			if current == nil {
				outcome = OutcomeNotFound
				return nil
			}
			outcome, completed, err = s.transition(ctx, tx, current, n, log)
			return err
		})
	})
	if errors.Is(err, errDuplicatePayment) {
		return s.markDuplicatePayment(ctx, record, n, log)
	}
	if err != nil {
		if errors.Is(err, ratelimit.ErrLockNotAcquired) {
			// unacknowledged so the gateway redelivers
			log.Warn("purchase lock busy", zap.Error(err))
			return "", errors.Join(purchasedomain.ErrStorage, err)
		}
		s.gatewayMetrics.RecordStorageError("webhook_update", err)
		log.Error("notification not applied", zap.Error(err))
		return "", err
	}

	if outcome == OutcomeUpdated {
		status := purchasedomain.StatusFailed
		if completed != nil {
			status = purchasedomain.StatusCompleted
		}
		s.metrics.RecordPurchaseTransition(ctx, n.Gateway, string(status))
		log.Info("purchase updated from notification",
			zap.String("purchase_id", record.ID.String()),
			zap.String("payment_status", string(status)),
		)
	}
	if completed != nil {
		if err := s.publisher.PublishPurchaseCompleted(ctx, events.PurchaseCompletedFrom(completed)); err != nil {
			log.Error("publish purchase.completed failed", zap.Error(err))
		}
	}
	return outcome, nil
}

func (s *Service) transition(
	ctx context.Context,
	tx *gorm.DB,
	current *purchasedomain.PurchaseRecord,
	n *paymentdomain.Notification,
	log *zap.Logger,
) (Outcome, *purchasedomain.PurchaseRecord, error) {
	switch current.PaymentStatus {
	case purchasedomain.StatusCompleted:
		log.Info("notification for completed purchase acknowledged without change")
		return OutcomeDuplicate, nil, nil
	case purchasedomain.StatusFailed:
		if n.Status == purchasedomain.StatusFailed {
			return OutcomeDuplicate, nil, nil
		}
		log.Error("payment reported for a failed purchase, review manually",
			zap.String("purchase_id", current.ID.String()),
			zap.String("gateway_transaction_id", n.TransactionID),
		)
		return OutcomeIgnored, nil, nil
	}

	if n.Status == purchasedomain.StatusCompleted {
		owned, err := s.repo.FindCompletedByUserAndGame(ctx, tx, current.UserID, current.GameID)
		if err != nil {
			return "", nil, err
		}
		if owned != nil {
			return "", nil, errDuplicatePayment
		}
	}

	now := s.clock.Now()
	details := purchasedomain.MergeDetails(current.PaymentDetails, datatypes.JSONMap(n.Payload))
	var txID *string
	if n.TransactionID != "" {
		id := n.TransactionID
		txID = &id
	}

	updated, err := s.repo.UpdateStatusAndDetails(ctx, tx, purchasedomain.UpdateStatusParams{
		ID:            current.ID,
		From:          current.PaymentStatus,
		To:            n.Status,
		TransactionID: txID,
		Details:       details,
		UpdatedAt:     now,
	})
	if errors.Is(err, purchasedomain.ErrAlreadyOwned) {
		return "", nil, errDuplicatePayment
	}
	if err != nil {
		return "", nil, err
	}
	if !updated {
		return OutcomeDuplicate, nil, nil
	}

	if n.Status != purchasedomain.StatusCompleted {
		return OutcomeUpdated, nil, nil
	}
	next := *current
	next.PaymentStatus = n.Status
	next.PaymentDetails = details
	next.UpdatedAt = now
	if txID != nil {
		next.GatewayTransactionID = txID
	}
	return OutcomeUpdated, &next, nil
}

// markDuplicatePayment keeps the record pending and notes the second payment
// in its details so it can be refunded.
func (s *Service) markDuplicatePayment(ctx context.Context, record *purchasedomain.PurchaseRecord, n *paymentdomain.Notification, log *zap.Logger) (Outcome, error) {
	now := s.clock.Now()
	details := purchasedomain.MergeDetails(record.PaymentDetails, datatypes.JSONMap{
		"duplicate_payment": map[string]any{
			"gateway_status": n.GatewayStatus,
			"transaction_id": n.TransactionID,
			"received_at":    now,
			"notification":   n.Payload,
		},
	})

	s.metrics.RecordPurchaseConflict(ctx, n.Gateway, "webhook_duplicate_payment")
	log.Error("payment received for an already owned game, refund required",
		zap.String("purchase_id", record.ID.String()),
		zap.String("gateway_transaction_id", n.TransactionID),
	)

	if _, err := s.repo.UpdateDetails(ctx, s.db, record.ID, purchasedomain.StatusPending, details, now); err != nil {
		s.gatewayMetrics.RecordStorageError("webhook_duplicate_payment", err)
		return "", err
	}
	return OutcomeDuplicate, nil
}
