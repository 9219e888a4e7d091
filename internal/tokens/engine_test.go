package tokens

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sitesmith-dev/sitesmith/internal/db"
	"github.com/sitesmith-dev/sitesmith/internal/models"
	"gorm.io/gorm"
)

// fixedNow is the reference instant used by engine tests.
var fixedNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	engine := NewEngine(conn, Caps{MonthlyFreeCap: 10000, DailyPremiumCap: 30000})
	engine.now = func() time.Time { return fixedNow }
	return engine, conn
}

func createUser(t *testing.T, conn *gorm.DB, user *models.User) *models.User {
	t.Helper()
	if user.Username == "" {
		user.Username = "tester"
	}
	if user.Password == "" {
		user.Password = "hash"
	}
	if user.FreeTokensResetDate.IsZero() {
		user.FreeTokensResetDate = FirstOfNextMonth(fixedNow)
	}
	if errCreate := conn.Create(user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func reloadUser(t *testing.T, conn *gorm.DB, id uint64) *models.User {
	t.Helper()
	var user models.User
	if errFind := conn.First(&user, id).Error; errFind != nil {
		t.Fatalf("reload user: %v", errFind)
	}
	return &user
}

func countTransactions(t *testing.T, conn *gorm.DB, userID uint64) int64 {
	t.Helper()
	var count int64
	if errCount := conn.Model(&models.TokenTransaction{}).Where("user_id = ?", userID).Count(&count).Error; errCount != nil {
		t.Fatalf("count transactions: %v", errCount)
	}
	return count
}

func TestDeductAccountNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	res := engine.Deduct(context.Background(), 9999, 100, "smith-1", "generate page")
	if res.Success {
		t.Fatalf("expected failure for missing account")
	}
	if res.Reason != ReasonAccountNotFound {
		t.Fatalf("expected account_not_found, got %s", res.Reason)
	}
}

func TestDeductPaidExactBalance(t *testing.T) {
	engine, conn := newTestEngine(t)
	user := createUser(t, conn, &models.User{Tier: models.TierPaidTokens, TokensRemaining: 50})

	res := engine.Deduct(context.Background(), user.ID, 50, "smith-1", "generate page")
	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.Reason, res.Message)
	}
	if res.TokenSource != SourcePurchased {
		t.Fatalf("expected purchased source, got %s", res.TokenSource)
	}
	if res.RemainingTokens == nil || *res.RemainingTokens != 0 {
		t.Fatalf("expected 0 remaining, got %v", res.RemainingTokens)
	}

	after := reloadUser(t, conn, user.ID)
	if after.TokensRemaining != 0 {
		t.Fatalf("expected tokens_remaining 0, got %d", after.TokensRemaining)
	}
	if after.TotalTokensUsed != 50 {
		t.Fatalf("expected total_tokens_used 50, got %d", after.TotalTokensUsed)
	}

	var entry models.TokenTransaction
	if errFind := conn.Where("user_id = ?", user.ID).First(&entry).Error; errFind != nil {
		t.Fatalf("load ledger entry: %v", errFind)
	}
	if entry.Kind != models.TransactionUsage || entry.Amount != -50 {
		t.Fatalf("expected usage entry of -50, got %s %d", entry.Kind, entry.Amount)
	}
	if entry.Model != "smith-1" {
		t.Fatalf("expected model smith-1, got %q", entry.Model)
	}
}

func TestDeductPaidInsufficientLeavesStateUnchanged(t *testing.T) {
	engine, conn := newTestEngine(t)
	user := createUser(t, conn, &models.User{Tier: models.TierPaidTokens, TokensRemaining: 30})
	before := reloadUser(t, conn, user.ID)

	res := engine.Deduct(context.Background(), user.ID, 31, "smith-1", "generate page")
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Reason != ReasonInsufficientPurchasedTokens {
		t.Fatalf("expected insufficient_purchased_tokens, got %s", res.Reason)
	}
	if res.RemainingTokens == nil || *res.RemainingTokens != 30 {
		t.Fatalf("expected exact availability 30, got %v", res.RemainingTokens)
	}

	after := reloadUser(t, conn, user.ID)
	if after.TokensRemaining != before.TokensRemaining || after.TotalTokensUsed != before.TotalTokensUsed {
		t.Fatalf("balances changed on failed deduction")
	}
	if countTransactions(t, conn, user.ID) != 0 {
		t.Fatalf("expected no ledger entries on failure")
	}
}

func TestDeductFreeSuccess(t *testing.T) {
	engine, conn := newTestEngine(t)
	user := createUser(t, conn, &models.User{Tier: models.TierFree, FreeTokensUsedThisMonth: 400})

	res := engine.Deduct(context.Background(), user.ID, 600, "smith-1", "generate page")
	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.Reason, res.Message)
	}
	if res.TokenSource != SourceFreeMonthly {
		t.Fatalf("expected free_monthly source, got %s", res.TokenSource)
	}
	if res.FreeTokensLeft == nil || *res.FreeTokensLeft != 9000 {
		t.Fatalf("expected 9000 free tokens left, got %v", res.FreeTokensLeft)
	}

	after := reloadUser(t, conn, user.ID)
	if after.FreeTokensUsedThisMonth != 1000 {
		t.Fatalf("expected 1000 used, got %d", after.FreeTokensUsedThisMonth)
	}

	var entry models.TokenTransaction
	if errFind := conn.Where("user_id = ?", user.ID).First(&entry).Error; errFind != nil {
		t.Fatalf("load ledger entry: %v", errFind)
	}
	if entry.Description != "generate page (free tier)" {
		t.Fatalf("expected free-tier suffix, got %q", entry.Description)
	}
}

func TestDeductFreeInsufficientReportsExactRemainder(t *testing.T) {
	engine, conn := newTestEngine(t)
	user := createUser(t, conn, &models.User{Tier: models.TierFree, FreeTokensUsedThisMonth: 9500})

	res := engine.Deduct(context.Background(), user.ID, 600, "smith-1", "generate page")
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Reason != ReasonInsufficientFreeTokens {
		t.Fatalf("expected insufficient_free_tokens, got %s", res.Reason)
	}
	if res.FreeTokensLeft == nil || *res.FreeTokensLeft != 500 {
		t.Fatalf("expected free_tokens_left 500, got %v", res.FreeTokensLeft)
	}

	after := reloadUser(t, conn, user.ID)
	if after.FreeTokensUsedThisMonth != 9500 {
		t.Fatalf("expected usage unchanged at 9500, got %d", after.FreeTokensUsedThisMonth)
	}
	if countTransactions(t, conn, user.ID) != 0 {
		t.Fatalf("expected no ledger entries on failure")
	}
}

func TestDeductFreeQuotaExhausted(t *testing.T) {
	engine, conn := newTestEngine(t)
	user := createUser(t, conn, &models.User{Tier: models.TierFree, FreeTokensUsedThisMonth: 10000})

	res := engine.Deduct(context.Background(), user.ID, 1, "smith-1", "generate page")
	if res.Success || res.Reason != ReasonFreeQuotaExhausted {
		t.Fatalf("expected free_quota_exhausted, got success=%v reason=%s", res.Success, res.Reason)
	}
}

func TestDeductPremiumLimitExceeded(t *testing.T) {
	engine, conn := newTestEngine(t)
	limit := int64(100)
	today := fixedNow.Truncate(24 * time.Hour)
	user := createUser(t, conn, &models.User{
		Tier:            models.TierPremiumMonthly,
		DailyTokenLimit: &limit,
		LastDailyReset:  &today,
	})

	res := engine.Deduct(context.Background(), user.ID, 150, "smith-1", "generate page")
	if res.Success {
		t.Fatalf("expected failure")
	}
	if res.Reason != ReasonDailyLimitExceeded {
		t.Fatalf("expected daily_limit_exceeded, got %s", res.Reason)
	}
	if res.RemainingTokens == nil || *res.RemainingTokens != 100 {
		t.Fatalf("expected exact allowance 100, got %v", res.RemainingTokens)
	}

	after := reloadUser(t, conn, user.ID)
	if after.DailyTokenLimit == nil || *after.DailyTokenLimit != 100 {
		t.Fatalf("expected daily limit unchanged at 100, got %v", after.DailyTokenLimit)
	}
}

func TestDeductPremiumLimitReached(t *testing.T) {
	engine, conn := newTestEngine(t)
	limit := int64(0)
	today := fixedNow.Truncate(24 * time.Hour)
	user := createUser(t, conn, &models.User{
		Tier:            models.TierPremiumMonthly,
		DailyTokenLimit: &limit,
		LastDailyReset:  &today,
	})

	res := engine.Deduct(context.Background(), user.ID, 10, "smith-1", "generate page")
	if res.Success || res.Reason != ReasonDailyLimitReached {
		t.Fatalf("expected daily_limit_reached, got success=%v reason=%s", res.Success, res.Reason)
	}
}

func TestDeductPremiumSuccess(t *testing.T) {
	engine, conn := newTestEngine(t)
	limit := int64(500)
	today := fixedNow.Truncate(24 * time.Hour)
	user := createUser(t, conn, &models.User{
		Tier:            models.TierPremiumMonthly,
		DailyTokenLimit: &limit,
		LastDailyReset:  &today,
	})

	res := engine.Deduct(context.Background(), user.ID, 120, "smith-1", "generate page")
	if !res.Success {
		t.Fatalf("expected success, got %s: %s", res.Reason, res.Message)
	}
	if res.TokenSource != SourcePremiumDaily {
		t.Fatalf("expected premium_daily source, got %s", res.TokenSource)
	}
	if res.RemainingTokens == nil || *res.RemainingTokens != 380 {
		t.Fatalf("expected 380 remaining, got %v", res.RemainingTokens)
	}

	after := reloadUser(t, conn, user.ID)
	if after.DailyTokenLimit == nil || *after.DailyTokenLimit != 380 {
		t.Fatalf("expected stored limit 380, got %v", after.DailyTokenLimit)
	}
}

func TestMonthlyRollover(t *testing.T) {
	engine, conn := newTestEngine(t)
	user := createUser(t, conn, &models.User{
		Tier:                    models.TierFree,
		FreeTokensUsedThisMonth: 9000,
		FreeTokensResetDate:     fixedNow.AddDate(0, 0, -2),
	})

	ent, refreshed, errBalance := engine.Balance(context.Background(), user.ID)
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if refreshed.FreeTokensUsedThisMonth != 0 {
		t.Fatalf("expected usage reset to 0, got %d", refreshed.FreeTokensUsedThisMonth)
	}
	wantReset := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	if !refreshed.FreeTokensResetDate.UTC().Equal(wantReset) {
		t.Fatalf("expected reset date %v, got %v", wantReset, refreshed.FreeTokensResetDate)
	}
	if !ent.CanUse || ent.TokensAvailable != 10000 {
		t.Fatalf("expected full allowance after rollover, got %+v", ent)
	}
}

func TestDailyRollover(t *testing.T) {
	engine, conn := newTestEngine(t)
	spent := int64(10)
	yesterday := fixedNow.AddDate(0, 0, -1)
	user := createUser(t, conn, &models.User{
		Tier:            models.TierPremiumMonthly,
		DailyTokenLimit: &spent,
		LastDailyReset:  &yesterday,
	})

	ent, refreshed, errBalance := engine.Balance(context.Background(), user.ID)
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if refreshed.DailyTokenLimit == nil || *refreshed.DailyTokenLimit != 30000 {
		t.Fatalf("expected daily limit restored to 30000, got %v", refreshed.DailyTokenLimit)
	}
	today := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	if refreshed.LastDailyReset == nil || !refreshed.LastDailyReset.UTC().Equal(today) {
		t.Fatalf("expected last reset %v, got %v", today, refreshed.LastDailyReset)
	}
	if ent.TokensAvailable != 30000 {
		t.Fatalf("expected 30000 available, got %d", ent.TokensAvailable)
	}
}

func TestResetIdempotent(t *testing.T) {
	engine, conn := newTestEngine(t)
	yesterday := fixedNow.AddDate(0, 0, -1)
	spent := int64(10)
	user := createUser(t, conn, &models.User{
		Tier:                    models.TierPremiumMonthly,
		DailyTokenLimit:         &spent,
		LastDailyReset:          &yesterday,
		FreeTokensUsedThisMonth: 9000,
		FreeTokensResetDate:     fixedNow.AddDate(0, 0, -2),
	})

	if _, _, errFirst := engine.Balance(context.Background(), user.ID); errFirst != nil {
		t.Fatalf("first balance: %v", errFirst)
	}
	first := reloadUser(t, conn, user.ID)

	// Consume some allowance, then re-check with the same clock: the
	// second call must not roll over again.
	if res := engine.Deduct(context.Background(), user.ID, 100, "smith-1", "x"); !res.Success {
		t.Fatalf("deduct after rollover: %s", res.Reason)
	}
	if _, _, errSecond := engine.Balance(context.Background(), user.ID); errSecond != nil {
		t.Fatalf("second balance: %v", errSecond)
	}
	second := reloadUser(t, conn, user.ID)

	if second.DailyTokenLimit == nil || *second.DailyTokenLimit != 29900 {
		t.Fatalf("expected 29900 after deduct with no second rollover, got %v", second.DailyTokenLimit)
	}
	if !second.FreeTokensResetDate.Equal(first.FreeTokensResetDate) {
		t.Fatalf("monthly reset date moved on idempotent re-check")
	}
}

func TestDeductSpanningRolloverSeesPostRolloverBalance(t *testing.T) {
	engine, conn := newTestEngine(t)
	exhausted := int64(0)
	yesterday := fixedNow.AddDate(0, 0, -1)
	user := createUser(t, conn, &models.User{
		Tier:            models.TierPremiumMonthly,
		DailyTokenLimit: &exhausted,
		LastDailyReset:  &yesterday,
	})

	// Yesterday's allowance is spent, but the deduction arrives after the
	// day boundary and must see the refreshed allowance.
	res := engine.Deduct(context.Background(), user.ID, 200, "smith-1", "generate page")
	if !res.Success {
		t.Fatalf("expected success after lazy rollover, got %s: %s", res.Reason, res.Message)
	}
	if res.RemainingTokens == nil || *res.RemainingTokens != 29800 {
		t.Fatalf("expected 29800 remaining, got %v", res.RemainingTokens)
	}
}

func TestCreditThenDeductRoundTrip(t *testing.T) {
	engine, conn := newTestEngine(t)
	user := createUser(t, conn, &models.User{Tier: models.TierPaidTokens, TokensRemaining: 250})

	if res := engine.Credit(context.Background(), user.ID, 1000, models.TransactionPurchase, "test", ""); !res.Success {
		t.Fatalf("credit: %s", res.Reason)
	}
	if res := engine.Deduct(context.Background(), user.ID, 1000, "smith-1", "generate page"); !res.Success {
		t.Fatalf("deduct: %s", res.Reason)
	}

	after := reloadUser(t, conn, user.ID)
	if after.TokensRemaining != 250 {
		t.Fatalf("expected balance back to 250, got %d", after.TokensRemaining)
	}

	var entries []models.TokenTransaction
	if errFind := conn.Where("user_id = ?", user.ID).Order("id ASC").Find(&entries).Error; errFind != nil {
		t.Fatalf("load ledger: %v", errFind)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	if sum := entries[0].Amount + entries[1].Amount; sum != 0 {
		t.Fatalf("expected ledger entries to sum to zero, got %d", sum)
	}
}

func TestCreditIdempotentOnExternalRef(t *testing.T) {
	engine, conn := newTestEngine(t)
	user := createUser(t, conn, &models.User{Tier: models.TierPaidTokens})

	first := engine.Credit(context.Background(), user.ID, 1000, models.TransactionPurchase, "token pack", "cs_test_123")
	if !first.Success {
		t.Fatalf("first credit: %s", first.Reason)
	}
	second := engine.Credit(context.Background(), user.ID, 1000, models.TransactionPurchase, "token pack", "cs_test_123")
	if !second.Success {
		t.Fatalf("replayed credit: %s", second.Reason)
	}

	after := reloadUser(t, conn, user.ID)
	if after.TokensRemaining != 1000 {
		t.Fatalf("expected 1000 after replay, got %d", after.TokensRemaining)
	}
	if countTransactions(t, conn, user.ID) != 1 {
		t.Fatalf("expected a single ledger entry after replay")
	}
}

func TestCreditConcurrentReplaySingleEntry(t *testing.T) {
	conn, errOpen := db.Open(fmt.Sprintf("file:credit_replay_%d?mode=memory&cache=shared", time.Now().UnixNano()))
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	engine := NewEngine(conn, Caps{MonthlyFreeCap: 10000, DailyPremiumCap: 30000})
	engine.now = func() time.Time { return fixedNow }
	user := createUser(t, conn, &models.User{Tier: models.TierPaidTokens})

	// Two deliveries of one checkout session racing: the replay check
	// runs under the account row lock, so exactly one may credit.
	const workers = 4
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]Result, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = engine.Credit(context.Background(), user.ID, 500, models.TransactionPurchase, "token pack", "cs_race_1")
		}(i)
	}
	close(start)
	wg.Wait()

	for i, res := range results {
		if !res.Success {
			t.Fatalf("delivery %d failed: %s: %s", i, res.Reason, res.Message)
		}
	}
	after := reloadUser(t, conn, user.ID)
	if after.TokensRemaining != 500 {
		t.Fatalf("expected a single 500 credit, got balance %d", after.TokensRemaining)
	}
	if got := countTransactions(t, conn, user.ID); got != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", got)
	}
}

func TestCreditAccountNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)

	res := engine.Credit(context.Background(), 4242, 100, models.TransactionBonus, "welcome bonus", "")
	if res.Success || res.Reason != ReasonAccountNotFound {
		t.Fatalf("expected account_not_found, got success=%v reason=%s", res.Success, res.Reason)
	}
}

func TestInvalidAmounts(t *testing.T) {
	engine, conn := newTestEngine(t)
	user := createUser(t, conn, &models.User{Tier: models.TierPaidTokens, TokensRemaining: 10})

	if res := engine.Deduct(context.Background(), user.ID, 0, "smith-1", "x"); res.Reason != ReasonInvalidArgument {
		t.Fatalf("expected invalid_argument for zero cost, got %s", res.Reason)
	}
	if res := engine.Credit(context.Background(), user.ID, -5, models.TransactionBonus, "x", ""); res.Reason != ReasonInvalidArgument {
		t.Fatalf("expected invalid_argument for negative amount, got %s", res.Reason)
	}
}
