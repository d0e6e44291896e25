package aigrading

import (
	"github.com/smallbiznis/gradewise/internal/aigrading/provider"
	"github.com/smallbiznis/gradewise/internal/aigrading/service"
	"go.uber.org/fx"
)

var Module = fx.Module("aigrading.service",
	fx.Provide(provider.NewOpenAI),
	fx.Provide(service.NewGrader),
)
