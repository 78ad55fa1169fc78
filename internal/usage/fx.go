package usage

import (
	"go.uber.org/fx"

	"github.com/voxlate/voxlate/internal/usage/service"
)

var Module = fx.Module("usage",
	fx.Provide(service.New),
)
