package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/gamestore/internal/catalog"
	catalogdomain "github.com/smallbiznis/gamestore/internal/catalog/domain"
	"github.com/smallbiznis/gamestore/internal/config"
	"github.com/smallbiznis/gamestore/internal/events"
	"github.com/smallbiznis/gamestore/internal/observability"
	obsmiddleware "github.com/smallbiznis/gamestore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/gamestore/internal/observability/metrics"
	obstracing "github.com/smallbiznis/gamestore/internal/observability/tracing"
	"github.com/smallbiznis/gamestore/internal/payment"
	"github.com/smallbiznis/gamestore/internal/payment/capture"
	"github.com/smallbiznis/gamestore/internal/payment/checkout"
	"github.com/smallbiznis/gamestore/internal/payment/status"
	"github.com/smallbiznis/gamestore/internal/payment/webhook"
	"github.com/smallbiznis/gamestore/internal/providers"
	"github.com/smallbiznis/gamestore/internal/providers/pdf"
	"github.com/smallbiznis/gamestore/internal/purchase"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	"github.com/smallbiznis/gamestore/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	catalog.Module,
	purchase.Module,
	events.Module,
	ratelimit.Module,
	providers.Module,
	payment.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{SkipPaths: obsCfg.TraceSkipPaths}))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	db          *gorm.DB
	log         *zap.Logger
	checkoutSvc *checkout.Service
	captureSvc  *capture.Service
	webhookSvc  *webhook.Service
	statusSvc   *status.Service
	catalogSvc  catalogdomain.Service
	purchases   purchasedomain.Repository
	receipts    pdf.Provider
	guard       *ratelimit.PurchaseGuard
	pollCfg     *config.CheckoutConfigHolder
	obsMetrics  *obsmetrics.Metrics
	gwMetrics   *obsmetrics.GatewayMetrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	DB          *gorm.DB
	Log         *zap.Logger
	CheckoutSvc *checkout.Service
	CaptureSvc  *capture.Service
	WebhookSvc  *webhook.Service
	StatusSvc   *status.Service
	CatalogSvc  catalogdomain.Service
	Purchases   purchasedomain.Repository
	Receipts    pdf.Provider                 `optional:"true"`
	Guard       *ratelimit.PurchaseGuard     `optional:"true"`
	PollCfg     *config.CheckoutConfigHolder `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics          `optional:"true"`
	GwMetrics   *obsmetrics.GatewayMetrics   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	receipts := p.Receipts
	if receipts == nil {
		receipts = pdf.New()
	}
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		db:          p.DB,
		log:         p.Log.Named("http"),
		checkoutSvc: p.CheckoutSvc,
		captureSvc:  p.CaptureSvc,
		webhookSvc:  p.WebhookSvc,
		statusSvc:   p.StatusSvc,
		catalogSvc:  p.CatalogSvc,
		purchases:   p.Purchases,
		receipts:    receipts,
		guard:       p.Guard,
		pollCfg:     p.PollCfg,
		obsMetrics:  p.ObsMetrics,
		gwMetrics:   p.GwMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	// -------- Checkout --------
	api.POST("/checkout", s.CheckoutRateLimit(), s.HandleCheckout)
	api.POST("/checkout/paypal/capture", s.HandleCapture)

	// -------- Purchases --------
	api.GET("/purchases/:order_id/status", s.HandlePurchaseStatus)
	api.GET("/purchases/:order_id/receipt", s.HandlePurchaseReceipt)
	api.GET("/library", s.HandleLibrary)
}

func (s *Server) registerWebhookRoutes() {
	// gateways authenticate with signatures, not bearer tokens
	s.engine.POST("/api/payments/webhooks/:gateway", s.HandlePaymentWebhook)
}
