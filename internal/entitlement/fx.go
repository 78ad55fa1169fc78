package entitlement

import (
	"go.uber.org/fx"

	"github.com/voxlate/voxlate/internal/entitlement/service"
)

var Module = fx.Module("entitlement",
	fx.Provide(service.New),
)
