package billing

import (
	"go.uber.org/fx"

	"github.com/voxlate/voxlate/internal/billing/service"
)

var Module = fx.Module("billing",
	fx.Provide(service.New),
)
