package quota

import (
	"go.uber.org/fx"

	"github.com/voxlate/voxlate/internal/config"
)

var Module = fx.Module("quota",
	fx.Invoke(registerOverrides),
)

func registerOverrides(holder *config.PricingHolder) {
	holder.OnChange(func(cfg config.PricingConfig) {
		ApplyOverrides(OverridesFromConfig(cfg.QuotaOverrides))
	})
}
