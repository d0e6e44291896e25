package usage

import (
	usagedomain "github.com/smallbiznis/gradewise/internal/usage/domain"
	"github.com/smallbiznis/gradewise/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(service.NewService),
	fx.Provide(func(svc usagedomain.Service) usagedomain.Recorder { return svc }),
)
