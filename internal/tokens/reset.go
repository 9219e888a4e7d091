package tokens

import (
	"time"

	"github.com/sitesmith-dev/sitesmith/internal/models"
	"gorm.io/gorm"
)

// FirstOfNextMonth returns 00:00 UTC on the first day of the month after t.
func FirstOfNextMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// startOfDay truncates t to 00:00 UTC.
func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// monthlyResetDue reports whether the free-tier monthly rollover is due.
func monthlyResetDue(user *models.User, now time.Time) bool {
	return !user.FreeTokensResetDate.IsZero() && !now.Before(user.FreeTokensResetDate)
}

// dailyResetDue reports whether the premium daily rollover is due. An unset
// last-reset date counts as the epoch, so the first check always rolls over.
func dailyResetDue(user *models.User, now time.Time) bool {
	if user.Tier != models.TierPremiumMonthly {
		return false
	}
	last := time.Time{}
	if user.LastDailyReset != nil {
		last = *user.LastDailyReset
	}
	return startOfDay(now).After(startOfDay(last))
}

// applyResets performs any due rollovers inside the caller's transaction,
// persisting each change and re-reading the row afterwards. Both rollovers
// are idempotent: a second call with the same now is a no-op.
func (e *Engine) applyResets(tx *gorm.DB, user *models.User, now time.Time) (*models.User, error) {
	if monthlyResetDue(user, now) {
		if errUpdate := tx.Model(user).Updates(map[string]any{
			"free_tokens_used_this_month": 0,
			"free_tokens_reset_date":      FirstOfNextMonth(now),
		}).Error; errUpdate != nil {
			return nil, errUpdate
		}
		refreshed, errLoad := loadUserForUpdate(tx, user.ID)
		if errLoad != nil {
			return nil, errLoad
		}
		user = refreshed
	}

	if dailyResetDue(user, now) {
		today := startOfDay(now)
		if errUpdate := tx.Model(user).Updates(map[string]any{
			"daily_token_limit": e.caps.DailyPremiumCap,
			"last_daily_reset":  today,
		}).Error; errUpdate != nil {
			return nil, errUpdate
		}
		refreshed, errLoad := loadUserForUpdate(tx, user.ID)
		if errLoad != nil {
			return nil, errLoad
		}
		user = refreshed
	}

	return user, nil
}
