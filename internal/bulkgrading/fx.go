package bulkgrading

import (
	"github.com/smallbiznis/gradewise/internal/bulkgrading/service"
	"go.uber.org/fx"
)

var Module = fx.Module("bulkgrading.service",
	fx.Provide(service.NewService),
)
