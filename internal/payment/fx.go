package payment

import (
	"github.com/smallbiznis/gamestore/internal/payment/adapters"
	dokuadapter "github.com/smallbiznis/gamestore/internal/payment/adapters/doku"
	paypaladapter "github.com/smallbiznis/gamestore/internal/payment/adapters/paypal"
	"github.com/smallbiznis/gamestore/internal/payment/capture"
	"github.com/smallbiznis/gamestore/internal/payment/checkout"
	"github.com/smallbiznis/gamestore/internal/payment/gateway/doku"
	"github.com/smallbiznis/gamestore/internal/payment/gateway/paypal"
	"github.com/smallbiznis/gamestore/internal/payment/status"
	"github.com/smallbiznis/gamestore/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(paypal.NewClient),
	fx.Provide(doku.NewClient),
	fx.Provide(func(c *paypal.Client) checkout.OrderCreator { return c }),
	fx.Provide(func(c *paypal.Client) capture.OrderCapturer { return c }),
	fx.Provide(func(c *doku.Client) checkout.PaymentCreator { return c }),
	fx.Provide(func(log *zap.Logger, c *paypal.Client) *adapters.Registry {
		return adapters.NewRegistry(
			dokuadapter.NewFactory(log),
			paypaladapter.NewFactory(c),
		)
	}),
	fx.Provide(checkout.NewService),
	fx.Provide(capture.NewService),
	fx.Provide(webhook.NewService),
	fx.Provide(status.NewService),
)
