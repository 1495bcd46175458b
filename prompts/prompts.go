// Package prompts builds the model prompts for every route. Builders are
// data, not control: each turns the user's message and profile into prompt
// text and never fails. A Library can replace built-ins with templates
// loaded from disk.
package prompts

import (
	"sort"

	"github.com/c360studio/bloom/profile"
)

// Builder renders the prompt for one route.
type Builder func(message string, p profile.Profile) string

var builtins = map[string]Builder{
	"mind.mood_checkin":       MoodCheckin,
	"mind.mood_analysis":      MoodAnalysis,
	"mind.breathing_exercise": BreathingExercise,
	"mind.general_support":    GeneralSupport,

	"body.recovery_guidance":       RecoveryGuidance,
	"body.photo_analysis":          PhotoAnalysis,
	"body.exercise_recommendation": ExerciseRecommendation,
	"body.symptom_check":           SymptomCheck,

	"baby.cue_reading":          CueReading,
	"baby.feeding_guidance":     FeedingGuidance,
	"baby.sleep_guidance":       SleepGuidance,
	"baby.general_baby_support": GeneralBabySupport,

	"partner.help_suggestion":         HelpSuggestion,
	"partner.emotional_support":       EmotionalSupport,
	"partner.feeding_help":            FeedingHelp,
	"partner.general_partner_support": GeneralPartnerSupport,
}

// Builtin returns the built-in builder for a route name.
func Builtin(route string) (Builder, bool) {
	b, ok := builtins[route]
	return b, ok
}

// BuiltinRoutes lists the routes with a built-in builder, sorted.
func BuiltinRoutes() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// orDefault returns s, or def when s is empty.
func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
