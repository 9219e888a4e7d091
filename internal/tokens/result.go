package tokens

// Source identifies the balance bucket a deduction was charged against.
type Source string

// Bucket tags reported on successful deductions.
const (
	// SourcePremiumDaily charges the premium daily allowance.
	SourcePremiumDaily Source = "premium_daily"
	// SourceFreeMonthly charges the free monthly allowance.
	SourceFreeMonthly Source = "free_monthly"
	// SourcePurchased charges the purchased token balance.
	SourcePurchased Source = "purchased"
)

// Reason classifies a failed engine call.
type Reason string

// Failure reasons returned by the engine.
const (
	// ReasonAccountNotFound indicates the account does not exist.
	ReasonAccountNotFound Reason = "account_not_found"
	// ReasonDailyLimitReached indicates the daily allowance is fully spent.
	ReasonDailyLimitReached Reason = "daily_limit_reached"
	// ReasonDailyLimitExceeded indicates the cost exceeds the remaining daily allowance.
	ReasonDailyLimitExceeded Reason = "daily_limit_exceeded"
	// ReasonInsufficientFreeTokens indicates some free tokens remain but fewer than the cost.
	ReasonInsufficientFreeTokens Reason = "insufficient_free_tokens"
	// ReasonFreeQuotaExhausted indicates the free monthly allowance is fully spent.
	ReasonFreeQuotaExhausted Reason = "free_quota_exhausted"
	// ReasonInsufficientPurchasedTokens indicates the purchased balance cannot cover the cost.
	ReasonInsufficientPurchasedTokens Reason = "insufficient_purchased_tokens"
	// ReasonInvalidArgument indicates a non-positive amount was passed.
	ReasonInvalidArgument Reason = "invalid_argument"
	// ReasonPersistenceFailure indicates a storage error aborted the call.
	ReasonPersistenceFailure Reason = "persistence_failure"
)

// Result is the outcome of a Deduct or Credit call. Failures never leave
// partial state behind; the whole call is rolled back.
type Result struct {
	Success bool `json:"success"`

	TokenSource Source `json:"token_source,omitempty"` // Bucket charged on success.

	RemainingTokens *int64 `json:"remaining_tokens,omitempty"` // Bucket remainder after success, or exact availability on a quantity failure.
	FreeTokensLeft  *int64 `json:"free_tokens_left,omitempty"` // Free-tier availability, when the free bucket was consulted.

	Reason  Reason `json:"error,omitempty"`   // Failure classification.
	Message string `json:"message,omitempty"` // Human-readable detail for the caller.
}

// failure builds a failed Result.
func failure(reason Reason, message string) Result {
	return Result{Reason: reason, Message: message}
}

func int64Ptr(v int64) *int64 {
	return &v
}
