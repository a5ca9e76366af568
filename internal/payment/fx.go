package payment

import (
	"github.com/smallbiznis/carehub/internal/payment/adapters"
	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/smallbiznis/carehub/internal/payment/repository"
	paymentservice "github.com/smallbiznis/carehub/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(adapters.ProvideRegistry),
	fx.Provide(func(r *adapters.Registry) domain.GatewayResolver { return r }),
	fx.Provide(paymentservice.NewService),
)
