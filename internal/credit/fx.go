package credit

import (
	"go.uber.org/fx"

	"github.com/voxlate/voxlate/internal/credit/service"
)

var Module = fx.Module("credit",
	fx.Provide(
		service.NewStatsReader,
		service.New,
	),
)
