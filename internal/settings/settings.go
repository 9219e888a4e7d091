package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sitesmith-dev/sitesmith/internal/models"
	"gorm.io/gorm"
)

// DB config keys and defaults.
const (
	// SiteNameKey is the DB config key for the UI site name.
	SiteNameKey = "SITE_NAME"
	// DefaultSiteName is the fallback UI site name.
	DefaultSiteName = "SiteSmith"
	// AnnouncementKey holds an optional banner message for the UI.
	AnnouncementKey = "ANNOUNCEMENT"
	// RegistrationEnabledKey toggles self-service registration.
	RegistrationEnabledKey = "REGISTRATION_ENABLED"
)

// snapshot holds the in-memory settings values.
type snapshot struct {
	updatedAt time.Time
	values    map[string]json.RawMessage
}

// globalSnapshot stores the latest snapshot atomically.
var globalSnapshot atomic.Value // stores snapshot

func init() {
	globalSnapshot.Store(snapshot{values: map[string]json.RawMessage{}})
}

// Refresh reloads all settings from the database into the in-memory
// snapshot. Call at startup; Value returns defaults until then.
func Refresh(ctx context.Context, conn *gorm.DB) error {
	if conn == nil {
		return errors.New("settings: nil db")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var rows []models.Setting
	if errFind := conn.WithContext(ctx).
		Select("key", "value", "updated_at").
		Order("key ASC").
		Find(&rows).Error; errFind != nil {
		return errFind
	}

	values := make(map[string]json.RawMessage, len(rows))
	maxUpdatedAt := time.Time{}
	for _, row := range rows {
		key := strings.TrimSpace(row.Key)
		if key == "" {
			continue
		}
		values[key] = row.Value
		if row.UpdatedAt.UTC().After(maxUpdatedAt) {
			maxUpdatedAt = row.UpdatedAt.UTC()
		}
	}

	store(maxUpdatedAt, values)
	return nil
}

// store replaces the in-memory snapshot.
func store(updatedAt time.Time, values map[string]json.RawMessage) {
	next := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		copied := make([]byte, len(v))
		copy(copied, v)
		next[key] = copied
	}

	globalSnapshot.Store(snapshot{
		updatedAt: updatedAt.UTC(),
		values:    next,
	})
}

// Value returns a copy of the raw value for a key.
func Value(key string) (json.RawMessage, bool) {
	current := load()
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	val, ok := current.values[key]
	if !ok {
		return nil, false
	}
	copied := make([]byte, len(val))
	copy(copied, val)
	return copied, true
}

// StringValue returns a string setting, or fallback when unset.
func StringValue(key, fallback string) string {
	raw, ok := Value(key)
	if !ok {
		return fallback
	}
	var out string
	if errUnmarshal := json.Unmarshal(raw, &out); errUnmarshal != nil {
		return fallback
	}
	if strings.TrimSpace(out) == "" {
		return fallback
	}
	return out
}

// BoolValue returns a boolean setting, or fallback when unset.
func BoolValue(key string, fallback bool) bool {
	raw, ok := Value(key)
	if !ok {
		return fallback
	}
	var out bool
	if errUnmarshal := json.Unmarshal(raw, &out); errUnmarshal != nil {
		return fallback
	}
	return out
}

// UpdatedAt returns the last update timestamp of the snapshot.
func UpdatedAt() time.Time {
	return load().updatedAt
}

func load() snapshot {
	v := globalSnapshot.Load()
	current, ok := v.(snapshot)
	if !ok || current.values == nil {
		return snapshot{values: map[string]json.RawMessage{}}
	}
	return current
}
