package quota

import (
	"sync/atomic"

	"github.com/voxlate/voxlate/internal/config"
)

// activeTables holds the limit tables currently in effect. Empty until the
// first override is applied; readers fall back to the built-in defaults.
var activeTables atomic.Value

func tables() map[Tier]map[ResourceType]Quota {
	if t, ok := activeTables.Load().(map[Tier]map[ResourceType]Quota); ok {
		return t
	}
	return quotaTable
}

// ApplyOverrides layers individual (tier, resource) limits on top of the
// built-in defaults. Unknown tiers and resources are ignored. Passing an
// empty map restores the defaults.
func ApplyOverrides(overrides map[Tier]map[ResourceType]Quota) {
	if len(overrides) == 0 {
		activeTables.Store(quotaTable)
		return
	}

	merged := make(map[Tier]map[ResourceType]Quota, len(quotaTable))
	for tier, byResource := range quotaTable {
		copied := make(map[ResourceType]Quota, len(byResource))
		for r, q := range byResource {
			copied[r] = q
		}
		merged[tier] = copied
	}
	for tier, byResource := range overrides {
		if _, known := merged[tier]; !known {
			continue
		}
		for r, q := range byResource {
			if !r.Valid() {
				continue
			}
			merged[tier][r] = q
		}
	}
	activeTables.Store(merged)
}

// OverridesFromConfig converts the YAML override shape into limit tables.
func OverridesFromConfig(raw map[string]map[string]config.QuotaOverride) map[Tier]map[ResourceType]Quota {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[Tier]map[ResourceType]Quota, len(raw))
	for tier, byResource := range raw {
		converted := make(map[ResourceType]Quota, len(byResource))
		for resource, limits := range byResource {
			converted[ResourceType(resource)] = Quota{
				Daily:   limits.Daily,
				Monthly: limits.Monthly,
				Total:   limits.Total,
			}
		}
		out[Tier(tier)] = converted
	}
	return out
}
