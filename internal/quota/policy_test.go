package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	entitlementdomain "github.com/voxlate/voxlate/internal/entitlement/domain"
)

func active(id string, opts ...func(*entitlementdomain.Entitlement)) entitlementdomain.Entitlement {
	e := entitlementdomain.Entitlement{
		UserID:        "user-1",
		EntitlementID: id,
		Status:        entitlementdomain.StatusActive,
		AutoRenew:     true,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func trial(e *entitlementdomain.Entitlement)       { e.IsTrial = true }
func noAutoRenew(e *entitlementdomain.Entitlement) { e.AutoRenew = false }
func expiresAt(t time.Time) func(*entitlementdomain.Entitlement) {
	return func(e *entitlementdomain.Entitlement) { e.ExpiresAt = &t }
}

func TestResolveTierHighestWins(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name string
		ents []entitlementdomain.Entitlement
		want Tier
	}{
		{"empty", nil, TierFree},
		{"lite only", []entitlementdomain.Entitlement{active(EntitlementLite)}, TierLite},
		{"lite and pro", []entitlementdomain.Entitlement{active(EntitlementLite), active(EntitlementPro)}, TierPro},
		{"all three", []entitlementdomain.Entitlement{active(EntitlementLite), active(EntitlementPro), active(EntitlementUnlimited)}, TierUnlimited},
		{"unknown id", []entitlementdomain.Entitlement{active("rc_promo")}, TierFree},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveTier(tc.ents, now))
		})
	}
}

func TestResolveTierIgnoresExpiredAndInactive(t *testing.T) {
	now := time.Now()

	expired := active(EntitlementPro, expiresAt(now.Add(-time.Hour)))
	superseded := active(EntitlementUnlimited)
	superseded.Status = entitlementdomain.StatusSuperseded

	ents := []entitlementdomain.Entitlement{expired, superseded, active(EntitlementLite)}
	assert.Equal(t, TierLite, ResolveTier(ents, now))
}

func TestTrialCancelledOverlay(t *testing.T) {
	now := time.Now()

	cancelled := []entitlementdomain.Entitlement{active(EntitlementPro, trial, noAutoRenew)}
	assert.True(t, IsTrialCancelled(cancelled, now))
	assert.Equal(t, TierTrialCancelled, EffectiveTier(cancelled, now))

	renewing := []entitlementdomain.Entitlement{active(EntitlementPro, trial)}
	assert.False(t, IsTrialCancelled(renewing, now), "renewing trial must not count as cancelled")
	assert.Equal(t, TierPro, EffectiveTier(renewing, now))

	// A trial flag on a non-tier-defining entitlement has no effect.
	promo := []entitlementdomain.Entitlement{active("rc_promo", trial, noAutoRenew)}
	assert.False(t, IsTrialCancelled(promo, now))
}

func TestMembershipExpiresAt(t *testing.T) {
	now := time.Now()
	soon := now.Add(24 * time.Hour)
	later := now.Add(30 * 24 * time.Hour)

	assert.Nil(t, MembershipExpiresAt(nil, now), "free user has no expiry")

	ents := []entitlementdomain.Entitlement{
		active(EntitlementPro, expiresAt(soon)),
		active(EntitlementPro, expiresAt(later)),
		active(EntitlementLite), // lower tier, ignored
	}
	got := MembershipExpiresAt(ents, now)
	require.NotNil(t, got)
	assert.True(t, got.Equal(later), "latest expiry wins")

	perpetual := []entitlementdomain.Entitlement{active(EntitlementUnlimited)}
	assert.Nil(t, MembershipExpiresAt(perpetual, now), "perpetual membership has no expiry")
}

func TestQuotaForFallsBackToFree(t *testing.T) {
	q := QuotaFor(TierPro, ResourceLiveTranslation)
	assert.Equal(t, int64(3600), q.Daily)
	assert.Equal(t, int64(86400), q.Monthly)
	assert.Nil(t, q.Total)

	free := QuotaFor(Tier("mystery"), ResourceTextTranslation)
	assert.Equal(t, int64(100), free.Daily)
	require.NotNil(t, free.Total)
	assert.Equal(t, int64(5000), *free.Total)

	cancelled := QuotaFor(TierTrialCancelled, ResourceLiveTranslation)
	assert.Less(t, cancelled.Daily, QuotaFor(TierFree, ResourceLiveTranslation).Daily,
		"trial-cancelled limits must be tighter than free")
}

func TestResourceForPath(t *testing.T) {
	cases := []struct {
		path string
		want ResourceType
		ok   bool
	}{
		{"/api/translate/text", ResourceTextTranslation, true},
		{"/api/translate/text/batch", ResourceTextTranslation, true},
		{"/api/translate/image", ResourceImageTranslation, true},
		{"/api/live", ResourceLiveTranslation, true},
		{"/api/tts", ResourceTTS, true},
		{"/api/recognize", ResourceRecognition, true},
		{"/api/quota", "", false},
		{"/health", "", false},
	}

	for _, tc := range cases {
		got, ok := ResourceForPath(tc.path)
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.want, got, tc.path)
	}
}

func TestDurationMetered(t *testing.T) {
	assert.True(t, ResourceLiveTranslation.DurationMetered())
	for _, r := range []ResourceType{ResourceTextTranslation, ResourceImageTranslation, ResourceTTS, ResourceRecognition} {
		assert.False(t, r.DurationMetered(), string(r))
	}
}
