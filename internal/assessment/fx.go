package assessment

import (
	"github.com/smallbiznis/gradewise/internal/assessment/repository"
	"github.com/smallbiznis/gradewise/internal/assessment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("assessment.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
