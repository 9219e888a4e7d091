package tokens

import (
	"time"

	"github.com/sitesmith-dev/sitesmith/internal/models"
)

// Balance is the tier-specific view of an account's spendable tokens.
// Exactly one variant applies to an account at a time.
type Balance interface {
	// Bucket names the source a deduction against this balance is tagged with.
	Bucket() Source
	// Available returns the tokens spendable right now under the given caps.
	Available(caps Caps) int64
}

// FreeBalance is the free-tier monthly allowance.
type FreeBalance struct {
	UsedThisMonth int64
	ResetDate     time.Time
}

// Bucket implements Balance.
func (FreeBalance) Bucket() Source { return SourceFreeMonthly }

// Available implements Balance.
func (b FreeBalance) Available(caps Caps) int64 {
	left := caps.MonthlyFreeCap - b.UsedThisMonth
	if left < 0 {
		return 0
	}
	return left
}

// PremiumBalance is the premium-tier daily allowance.
type PremiumBalance struct {
	DailyRemaining *int64
	LastReset      *time.Time
}

// Bucket implements Balance.
func (PremiumBalance) Bucket() Source { return SourcePremiumDaily }

// Available implements Balance.
func (b PremiumBalance) Available(Caps) int64 {
	if b.DailyRemaining == nil {
		return 0
	}
	return *b.DailyRemaining
}

// PaidBalance is the purchased token balance.
type PaidBalance struct {
	Remaining int64
}

// Bucket implements Balance.
func (PaidBalance) Bucket() Source { return SourcePurchased }

// Available implements Balance.
func (b PaidBalance) Available(Caps) int64 { return b.Remaining }

// BalanceOf maps an account row to its tier's balance variant.
func BalanceOf(user *models.User) Balance {
	switch user.Tier {
	case models.TierPremiumMonthly:
		return PremiumBalance{DailyRemaining: user.DailyTokenLimit, LastReset: user.LastDailyReset}
	case models.TierPaidTokens:
		return PaidBalance{Remaining: user.TokensRemaining}
	default:
		return FreeBalance{UsedThisMonth: user.FreeTokensUsedThisMonth, ResetDate: user.FreeTokensResetDate}
	}
}

// Entitlement reports what an account may spend right now.
type Entitlement struct {
	CanUse          bool   `json:"can_use"`
	TokensAvailable int64  `json:"tokens_available"`
	TokenSource     Source `json:"token_source"`
}

// EntitlementFor computes the entitlement for an account snapshot without
// mutating state. Callers that need rollovers applied first go through
// Balance or Deduct.
func (e *Engine) EntitlementFor(user *models.User) Entitlement {
	balance := BalanceOf(user)
	available := balance.Available(e.caps)
	return Entitlement{
		CanUse:          available > 0,
		TokensAvailable: available,
		TokenSource:     balance.Bucket(),
	}
}
