// Package quota defines the subscription tiers, metered resource types, and
// the static per-tier limit tables used for admission control.
package quota

import (
	"strings"
	"time"

	entitlementdomain "github.com/voxlate/voxlate/internal/entitlement/domain"
)

// Tier is the effective subscription level of a user, derived from the set of
// active entitlements.
type Tier string

const (
	TierFree      Tier = "free"
	TierLite      Tier = "lite"
	TierPro       Tier = "pro"
	TierUnlimited Tier = "unlimited"

	// TierTrialCancelled overlays FREE when the user started a trial and then
	// switched auto-renew off. It is never resolved from entitlement IDs.
	TierTrialCancelled Tier = "trial_cancelled"
)

// ResourceType identifies a metered capability of the gateway.
type ResourceType string

const (
	ResourceTextTranslation  ResourceType = "text_translation"
	ResourceImageTranslation ResourceType = "image_translation"
	ResourceLiveTranslation  ResourceType = "live_translation"
	ResourceTTS              ResourceType = "tts"
	ResourceRecognition      ResourceType = "recognition"
)

// DurationMetered reports whether usage of the resource is counted in seconds
// of wall-clock session time instead of request counts.
func (r ResourceType) DurationMetered() bool {
	return r == ResourceLiveTranslation
}

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool {
	switch r {
	case ResourceTextTranslation, ResourceImageTranslation, ResourceLiveTranslation, ResourceTTS, ResourceRecognition:
		return true
	}
	return false
}

// Tier-defining entitlement identifiers as configured at the billing provider.
const (
	EntitlementLite      = "lite_member"
	EntitlementPro       = "pro_member"
	EntitlementUnlimited = "unlimited_member"
)

var tierByEntitlement = map[string]Tier{
	EntitlementLite:      TierLite,
	EntitlementPro:       TierPro,
	EntitlementUnlimited: TierUnlimited,
}

// TierDefiningIDs lists the entitlement identifiers that map to paid tiers.
func TierDefiningIDs() []string {
	return []string{EntitlementLite, EntitlementPro, EntitlementUnlimited}
}

// TierForEntitlement maps an entitlement identifier to the tier it grants.
func TierForEntitlement(id string) (Tier, bool) {
	tier, ok := tierByEntitlement[id]
	return tier, ok
}

// ResolveTier derives the effective tier from the active entitlement set.
// When several paid entitlements are held at once the highest wins.
func ResolveTier(active []entitlementdomain.Entitlement, now time.Time) Tier {
	best := TierFree
	for _, e := range active {
		if !e.ActiveAt(now) {
			continue
		}
		tier, ok := tierByEntitlement[e.EntitlementID]
		if !ok {
			continue
		}
		if rank(tier) > rank(best) {
			best = tier
		}
	}
	return best
}

// IsTrialCancelled reports whether any active tier-defining entitlement is a
// trial with auto-renew switched off. Such users fall back to the
// TRIAL_CANCELLED limit table instead of their nominal tier.
func IsTrialCancelled(active []entitlementdomain.Entitlement, now time.Time) bool {
	for _, e := range active {
		if !e.ActiveAt(now) {
			continue
		}
		if _, ok := tierByEntitlement[e.EntitlementID]; !ok {
			continue
		}
		if e.IsTrial && !e.AutoRenew {
			return true
		}
	}
	return false
}

// EffectiveTier applies the trial-cancelled overlay on top of ResolveTier.
func EffectiveTier(active []entitlementdomain.Entitlement, now time.Time) Tier {
	if IsTrialCancelled(active, now) {
		return TierTrialCancelled
	}
	return ResolveTier(active, now)
}

// MembershipExpiresAt returns the expiry of the entitlement backing the
// resolved tier, or nil for free users and perpetual memberships.
func MembershipExpiresAt(active []entitlementdomain.Entitlement, now time.Time) *time.Time {
	tier := ResolveTier(active, now)
	if tier == TierFree {
		return nil
	}
	var latest *time.Time
	for _, e := range active {
		if !e.ActiveAt(now) {
			continue
		}
		if tierByEntitlement[e.EntitlementID] != tier {
			continue
		}
		if e.ExpiresAt == nil {
			return nil
		}
		if latest == nil || e.ExpiresAt.After(*latest) {
			latest = e.ExpiresAt
		}
	}
	return latest
}

func rank(t Tier) int {
	switch t {
	case TierUnlimited:
		return 3
	case TierPro:
		return 2
	case TierLite:
		return 1
	default:
		return 0
	}
}

// Quota is the limit triple for one (tier, resource) pair. Values are request
// counts, except for duration-metered resources where they are seconds. A nil
// Total means no lifetime cap applies.
type Quota struct {
	Daily   int64
	Monthly int64
	Total   *int64
}

func total(n int64) *int64 { return &n }

var quotaTable = map[Tier]map[ResourceType]Quota{
	TierFree: {
		ResourceTextTranslation:  {Daily: 100, Monthly: 2000, Total: total(5000)},
		ResourceImageTranslation: {Daily: 20, Monthly: 300, Total: total(1000)},
		ResourceLiveTranslation:  {Daily: 300, Monthly: 3600, Total: total(7200)},
		ResourceTTS:              {Daily: 50, Monthly: 1000, Total: total(2000)},
		ResourceRecognition:      {Daily: 100, Monthly: 2000, Total: total(5000)},
	},
	TierTrialCancelled: {
		ResourceTextTranslation:  {Daily: 10, Monthly: 100, Total: total(200)},
		ResourceImageTranslation: {Daily: 5, Monthly: 50, Total: total(100)},
		ResourceLiveTranslation:  {Daily: 60, Monthly: 600, Total: total(1200)},
		ResourceTTS:              {Daily: 10, Monthly: 100, Total: total(200)},
		ResourceRecognition:      {Daily: 10, Monthly: 100, Total: total(200)},
	},
	TierLite: {
		ResourceTextTranslation:  {Daily: 500, Monthly: 10000},
		ResourceImageTranslation: {Daily: 100, Monthly: 2000},
		ResourceLiveTranslation:  {Daily: 1800, Monthly: 21600},
		ResourceTTS:              {Daily: 300, Monthly: 6000},
		ResourceRecognition:      {Daily: 500, Monthly: 10000},
	},
	TierPro: {
		ResourceTextTranslation:  {Daily: 2000, Monthly: 50000},
		ResourceImageTranslation: {Daily: 500, Monthly: 10000},
		ResourceLiveTranslation:  {Daily: 3600, Monthly: 86400},
		ResourceTTS:              {Daily: 1000, Monthly: 20000},
		ResourceRecognition:      {Daily: 2000, Monthly: 50000},
	},
	TierUnlimited: {
		ResourceTextTranslation:  {Daily: 10000, Monthly: 300000},
		ResourceImageTranslation: {Daily: 2000, Monthly: 60000},
		ResourceLiveTranslation:  {Daily: 10800, Monthly: 216000},
		ResourceTTS:              {Daily: 5000, Monthly: 150000},
		ResourceRecognition:      {Daily: 10000, Monthly: 300000},
	},
}

// QuotaFor looks up the limit triple for a (tier, resource) pair. Unknown
// pairs fall back to the FREE table.
func QuotaFor(tier Tier, resource ResourceType) Quota {
	t := tables()
	if byResource, ok := t[tier]; ok {
		if q, ok := byResource[resource]; ok {
			return q
		}
	}
	return t[TierFree][resource]
}

var resourceByPathPrefix = []struct {
	prefix   string
	resource ResourceType
}{
	{"/api/translate/text", ResourceTextTranslation},
	{"/api/translate/image", ResourceImageTranslation},
	{"/api/live", ResourceLiveTranslation},
	{"/api/tts", ResourceTTS},
	{"/api/recognize", ResourceRecognition},
}

// ResourceForPath maps a request path to the resource it meters. Paths outside
// the metered surface return false.
func ResourceForPath(path string) (ResourceType, bool) {
	for _, entry := range resourceByPathPrefix {
		if strings.HasPrefix(path, entry.prefix) {
			return entry.resource, true
		}
	}
	return "", false
}
