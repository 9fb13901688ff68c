package payment

import (
	"github.com/smallbiznis/iahome/internal/payment/repository"
	"github.com/smallbiznis/iahome/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(webhook.NewService),
)
