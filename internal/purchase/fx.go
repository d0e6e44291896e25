package purchase

import (
	"github.com/smallbiznis/gradewise/internal/purchase/repository"
	"github.com/smallbiznis/gradewise/internal/purchase/service"
	"github.com/smallbiznis/gradewise/internal/purchase/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
)
