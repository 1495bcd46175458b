// Package profile wraps the structured user context sent with each request.
// The shape is owned by the client app; accessors only look keys up and
// fall back to documented defaults, so they never fail.
package profile

import (
	"encoding/json"
	"fmt"
)

// Default values for absent profile keys.
const (
	DefaultUserRole      = "mom"
	DefaultRecoveryStage = "week_1"
	DefaultDeliveryType  = "unknown"
	DefaultBabyName      = "baby"
	Unknown              = "unknown"
)

// Profile is the opaque user context (mood history, baby data, recovery
// stage, delivery type, role).
type Profile map[string]any

// MoodEntry is one mood check-in from the profile's mood history.
type MoodEntry struct {
	Mood      string `json:"mood"`
	Note      string `json:"note,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Get returns the value under key rendered as text, or def when the key
// is absent, null, or an empty string.
func (p Profile) Get(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	s := stringify(v)
	if s == "" {
		return def
	}
	return s
}

// UserRole is "mom" or "partner".
func (p Profile) UserRole() string {
	return p.Get("user_role", DefaultUserRole)
}

// RecoveryStage is the postpartum stage, e.g. "week_2".
func (p Profile) RecoveryStage() string {
	return p.Get("recovery_stage", DefaultRecoveryStage)
}

// DeliveryType is "vaginal", "cesarean", or "unknown".
func (p Profile) DeliveryType() string {
	return p.Get("delivery_type", DefaultDeliveryType)
}

// BabyName is the baby's name or a generic placeholder.
func (p Profile) BabyName() string {
	return p.Get("baby_name", DefaultBabyName)
}

// MoodHistory returns the mood check-ins oldest first. Entries that are not
// objects are skipped.
func (p Profile) MoodHistory() []MoodEntry {
	var raw []map[string]any
	switch v := p["mood_history"].(type) {
	case []map[string]any:
		raw = v
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				raw = append(raw, m)
			}
		}
	}

	entries := make([]MoodEntry, 0, len(raw))
	for _, m := range raw {
		entries = append(entries, MoodEntry{
			Mood:      Profile(m).Get("mood", ""),
			Note:      Profile(m).Get("note", ""),
			Timestamp: Profile(m).Get("timestamp", ""),
		})
	}
	return entries
}

// RecentMoods returns at most n of the latest mood entries, oldest first.
func (p Profile) RecentMoods(n int) []MoodEntry {
	history := p.MoodHistory()
	if n >= 0 && len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

// LatestMood returns the most recent entry, and false when there is none.
func (p Profile) LatestMood() (MoodEntry, bool) {
	history := p.MoodHistory()
	if len(history) == 0 {
		return MoodEntry{}, false
	}
	return history[len(history)-1], true
}

// BabyData returns the baby activity map, never nil.
func (p Profile) BabyData() Profile {
	if m, ok := p["baby_data"].(map[string]any); ok {
		return Profile(m)
	}
	return Profile{}
}

// BabyField returns one baby_data value, or "unknown".
func (p Profile) BabyField(key string) string {
	return p.BabyData().Get(key, Unknown)
}

// JSON renders the profile as indented JSON for prompts. It never fails;
// an unencodable profile renders as "{}".
func (p Profile) JSON() string {
	if len(p) == 0 {
		return "{}"
	}
	data, err := json.MarshalIndent(map[string]any(p), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(val)
	}
}
