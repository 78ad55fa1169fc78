package relay

import "go.uber.org/fx"

var Module = fx.Module("relay",
	fx.Provide(New),
)
