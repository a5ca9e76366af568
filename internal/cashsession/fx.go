package cashsession

import (
	"github.com/smallbiznis/carehub/internal/cashsession/repository"
	"github.com/smallbiznis/carehub/internal/cashsession/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cashsession.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
