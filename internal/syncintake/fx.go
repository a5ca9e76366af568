package syncintake

import (
	"github.com/smallbiznis/carehub/internal/syncintake/repository"
	"github.com/smallbiznis/carehub/internal/syncintake/service"
	"go.uber.org/fx"
)

var Module = fx.Module("syncintake.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
