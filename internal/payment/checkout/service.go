package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	catalogdomain "github.com/smallbiznis/gamestore/internal/catalog/domain"
	"github.com/smallbiznis/gamestore/internal/clock"
	"github.com/smallbiznis/gamestore/internal/config"
	"github.com/smallbiznis/gamestore/internal/observability/logger"
	"github.com/smallbiznis/gamestore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/gamestore/internal/payment/domain"
	"github.com/smallbiznis/gamestore/internal/payment/gateway/doku"
	"github.com/smallbiznis/gamestore/internal/payment/gateway/paypal"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrderCreator creates capture-pattern orders.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req paypal.OrderRequest) (*paypal.Order, error)
}

// PaymentCreator opens hosted payment pages.
type PaymentCreator interface {
	CreatePayment(ctx context.Context, req doku.PaymentRequest) (*doku.PaymentResponse, error)
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Cfg     config.Config
	Repo    purchasedomain.Repository
	Catalog catalogdomain.Service
	PayPal  OrderCreator     `optional:"true"`
	Doku    PaymentCreator   `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     config.Config
	repo    purchasedomain.Repository
	catalog catalogdomain.Service
	paypal  OrderCreator
	doku    PaymentCreator
	metrics *metrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("payment.checkout"),
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     p.Cfg,
		repo:    p.Repo,
		catalog: p.Catalog,
		paypal:  p.PayPal,
		doku:    p.Doku,
		metrics: p.Metrics,
	}
}

type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type InitiateRequest struct {
	Gateway   string
	UserID    string
	GameID    string
	Amount    int64
	Buyer     Buyer
	ReturnURL string
	CancelURL string
}

type InitiateResponse struct {
	Gateway       string     `json:"gateway"`
	OrderID       string     `json:"order_id"`
	PaymentURL    string     `json:"payment_url,omitempty"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
}

// CurrencyFor returns the currency each gateway charges in.
func CurrencyFor(gateway string) (string, bool) {
	switch gateway {
	case paymentdomain.GatewayPayPal:
		return catalogdomain.CurrencyUSD, true
	case paymentdomain.GatewayDoku:
		return catalogdomain.CurrencyIDR, true
	default:
		return "", false
	}
}

// Initiate asks the gateway to create an order or hosted payment for one game.
// Nothing is written when the gateway call fails.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	gateway := strings.ToLower(strings.TrimSpace(req.Gateway))
	currency, ok := CurrencyFor(gateway)
	if !ok {
		return nil, paymentdomain.ErrInvalidGateway
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, paymentdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	game, err := s.catalog.Get(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	price, _ := game.Price(currency)
	if req.Amount != price {
		return nil, paymentdomain.ErrInvalidAmount
	}

	owned, err := s.repo.FindCompletedByUserAndGame(ctx, s.db, userID, game.ID)
	if err != nil {
		return nil, err
	}
	if owned != nil {
		s.metrics.RecordPurchaseConflict(ctx, gateway, "checkout")
		return nil, purchasedomain.ErrAlreadyOwned
	}

	returnURL := strings.TrimSpace(req.ReturnURL)
	if returnURL == "" {
		returnURL = s.cfg.Checkout.ReturnURL
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("gateway", gateway),
		zap.String("game_id", game.ID),
	)

	var resp *InitiateResponse
	switch gateway {
	case paymentdomain.GatewayPayPal:
		resp, err = s.initiateOrder(ctx, userID, game, req, returnURL)
	case paymentdomain.GatewayDoku:
		resp, err = s.initiateHostedPayment(ctx, userID, game, req, returnURL)
	}
	if err != nil {
		log.Warn("checkout initiation failed", zap.Error(err))
		return nil, err
	}

	s.metrics.RecordCheckoutInitiated(ctx, gateway)
	log.Info("checkout initiated", zap.String("gateway_order_id", resp.OrderID))
	return resp, nil
}

func (s *Service) initiateOrder(ctx context.Context, userID string, game *catalogdomain.Game, req InitiateRequest, returnURL string) (*InitiateResponse, error) {
	if s.paypal == nil {
		return nil, paymentdomain.ErrConfiguration
	}
	cancelURL := strings.TrimSpace(req.CancelURL)
	if cancelURL == "" {
		cancelURL = returnURL
	}

	order, err := s.paypal.CreateOrder(ctx, paypal.OrderRequest{
		ReferenceID: game.ID,
		Amount:      req.Amount,
		Currency:    catalogdomain.CurrencyUSD,
		ReturnURL:   returnURL,
		CancelURL:   cancelURL,
		Description: game.Title,
	})
	if err != nil {
		return nil, err
	}
	return &InitiateResponse{
		Gateway:    paymentdomain.GatewayPayPal,
		OrderID:    order.ID,
		PaymentURL: order.ApproveURL,
		Amount:     req.Amount,
		Currency:   catalogdomain.CurrencyUSD,
	}, nil
}

// initiateHostedPayment opens the hosted page and records a pending purchase
// keyed by invoice number so that the notification can find it.
func (s *Service) initiateHostedPayment(ctx context.Context, userID string, game *catalogdomain.Game, req InitiateRequest, returnURL string) (*InitiateResponse, error) {
	if s.doku == nil {
		return nil, paymentdomain.ErrConfiguration
	}

	invoice := "INV-" + ulid.Make().String()
	payment, err := s.doku.CreatePayment(ctx, doku.PaymentRequest{
		InvoiceNumber: invoice,
		Amount:        req.Amount,
		CallbackURL:   returnURL,
		Customer: doku.Customer{
			ID:    userID,
			Name:  strings.TrimSpace(req.Buyer.Name),
			Email: strings.TrimSpace(req.Buyer.Email),
		},
		LineItems: []doku.LineItem{{Name: game.Title, Price: req.Amount, Quantity: 1}},
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	details := datatypes.JSONMap{
		"invoice_number": invoice,
		"payment_url":    payment.URL,
		"expired_date":   payment.ExpiredDate,
		"request_id":     payment.RequestID,
	}
	if payment.Raw != nil {
		details["response"] = payment.Raw
	}
	record := &purchasedomain.PurchaseRecord{
		ID:             s.genID.Generate(),
		UserID:         userID,
		GameID:         game.ID,
		Amount:         req.Amount,
		Currency:       catalogdomain.CurrencyIDR,
		PaymentStatus:  purchasedomain.StatusPending,
		PaymentGateway: paymentdomain.GatewayDoku,
		GatewayOrderID: invoice,
		PaymentDetails: details,
		PurchaseDate:   now,
		UpdatedAt:      now,
	}
	if err := s.repo.Insert(ctx, s.db, record); err != nil {
		// the hosted page exists but will expire unpaid without a record to reconcile against
		logger.WithPurchase(s.log, paymentdomain.GatewayDoku, invoice).Error("pending purchase not recorded", zap.Error(err))
		return nil, err
	}

	return &InitiateResponse{
		Gateway:       paymentdomain.GatewayDoku,
		OrderID:       invoice,
		PaymentURL:    payment.URL,
		InvoiceNumber: invoice,
		ExpiresAt:     payment.ExpiresAt,
		Amount:        req.Amount,
		Currency:      catalogdomain.CurrencyIDR,
	}, nil
}
