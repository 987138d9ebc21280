package status

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gamestore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Query identifies the purchase a caller is waiting on. Gateway may be empty,
// in which case every gateway is searched.
type Query struct {
	UserID         string
	GatewayOrderID string
	Gateway        string
	GameID         string
}

type StatusView struct {
	Status         purchasedomain.PaymentStatus `json:"status"`
	GatewayOrderID string                       `json:"gateway_order_id"`
	GameID         string                       `json:"game_id,omitempty"`
	PurchaseID     *snowflake.ID                `json:"purchase_id,omitempty"`
	UpdatedAt      *time.Time                   `json:"updated_at,omitempty"`
}

var gateways = []string{paymentdomain.GatewayDoku, paymentdomain.GatewayPayPal}

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Repo           purchasedomain.Repository
	GatewayMetrics *metrics.GatewayMetrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	repo           purchasedomain.Repository
	gatewayMetrics *metrics.GatewayMetrics
}

func NewService(p Params) *Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payment.status"),
		repo:           p.Repo,
		gatewayMetrics: p.GatewayMetrics,
	}
}

// Check reads the purchase record for the caller's order. When the record
// cannot be read and the game is known, ownership is queried directly.
func (s *Service) Check(ctx context.Context, q Query) (*StatusView, error) {
	q.UserID = strings.TrimSpace(q.UserID)
	q.GatewayOrderID = strings.TrimSpace(q.GatewayOrderID)
	q.Gateway = strings.ToLower(strings.TrimSpace(q.Gateway))
	q.GameID = strings.TrimSpace(q.GameID)
	if q.UserID == "" {
		return nil, paymentdomain.ErrInvalidUser
	}
	if q.GatewayOrderID == "" {
		return nil, paymentdomain.ErrInvalidOrderID
	}

	record, err := s.find(ctx, q)
	if err == nil && record != nil {
		return viewOf(record), nil
	}
	if err != nil {
		s.gatewayMetrics.RecordStorageError("status_lookup", err)
		s.log.Warn("status lookup failed",
			zap.String("gateway_order_id", q.GatewayOrderID),
			zap.Error(err),
		)
	}
	if q.GameID == "" {
		if err != nil {
			return nil, err
		}
		return nil, purchasedomain.ErrNotFound
	}
	return s.ownership(ctx, q)
}

// Status satisfies Checker.
func (s *Service) Status(ctx context.Context, q Query) (purchasedomain.PaymentStatus, error) {
	view, err := s.Check(ctx, q)
	if err != nil {
		return "", err
	}
	return view.Status, nil
}

func (s *Service) find(ctx context.Context, q Query) (*purchasedomain.PurchaseRecord, error) {
	candidates := gateways
	if q.Gateway != "" {
		candidates = []string{q.Gateway}
	}
	for _, gateway := range candidates {
		record, err := s.repo.FindByGatewayOrderID(ctx, s.db, gateway, q.GatewayOrderID)
		if err != nil {
			return nil, err
		}
		// other users' orders are indistinguishable from missing ones
		if record != nil && record.UserID == q.UserID {
			return record, nil
		}
	}
	return nil, nil
}

func (s *Service) ownership(ctx context.Context, q Query) (*StatusView, error) {
	owned, err := s.repo.FindCompletedByUserAndGame(ctx, s.db, q.UserID, q.GameID)
	if err != nil {
		s.gatewayMetrics.RecordStorageError("status_ownership", err)
		return nil, err
	}
	if owned == nil {
		return &StatusView{
			Status:         purchasedomain.StatusPending,
			GatewayOrderID: q.GatewayOrderID,
			GameID:         q.GameID,
		}, nil
	}
	view := viewOf(owned)
	view.GatewayOrderID = q.GatewayOrderID
	return view, nil
}

func viewOf(record *purchasedomain.PurchaseRecord) *StatusView {
	id := record.ID
	updated := record.UpdatedAt
	return &StatusView{
		Status:         record.PaymentStatus,
		GatewayOrderID: record.GatewayOrderID,
		GameID:         record.GameID,
		PurchaseID:     &id,
		UpdatedAt:      &updated,
	}
}

// Checker reports the current payment status for a query.
type Checker interface {
	Status(ctx context.Context, q Query) (purchasedomain.PaymentStatus, error)
}

type CheckerFunc func(ctx context.Context, q Query) (purchasedomain.PaymentStatus, error)

func (f CheckerFunc) Status(ctx context.Context, q Query) (purchasedomain.PaymentStatus, error) {
	return f(ctx, q)
}

// WithFallback asks secondary whenever primary fails. Context errors are
// returned as is.
func WithFallback(primary, secondary Checker) Checker {
	if secondary == nil {
		return primary
	}
	return CheckerFunc(func(ctx context.Context, q Query) (purchasedomain.PaymentStatus, error) {
		status, err := primary.Status(ctx, q)
		if err == nil {
			return status, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		fallback, fallbackErr := secondary.Status(ctx, q)
		if fallbackErr != nil {
			return "", errors.Join(err, fallbackErr)
		}
		return fallback, nil
	})
}
