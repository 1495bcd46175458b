package task

import "sync"

// DefaultTasks returns the built-in tasks in the order the router sees them.
func DefaultTasks() []Task {
	return []Task{
		New(PillarMind, "mood_checkin", "Process a mood check-in and provide supportive response", false),
		New(PillarMind, "mood_analysis", "Analyze mood history trend, flag concerns gently", false),
		New(PillarMind, "breathing_exercise", "Guide the user through a breathing or grounding exercise", false),
		New(PillarMind, "general_support", "General emotional support and encouragement", false),

		New(PillarBody, "recovery_guidance", "Stage-appropriate physical recovery guidance", false),
		New(PillarBody, "photo_analysis", "Analyze a photo of healing progress (e.g. C-section incision)", true),
		New(PillarBody, "exercise_recommendation", "Recommend exercises based on delivery type and recovery stage", false),
		New(PillarBody, "symptom_check", "Assess described symptoms and advise whether to seek care", false),

		New(PillarBaby, "cue_reading", "Read baby cues from a photo to determine state", true),
		New(PillarBaby, "feeding_guidance", "Feeding advice based on baby data and recovery stage", false),
		New(PillarBaby, "sleep_guidance", "Sleep pattern guidance for the newborn", false),
		New(PillarBaby, "general_baby_support", "General newborn care questions", false),

		New(PillarPartner, "help_suggestion", "Context-aware suggestion for how partner can help right now", false),
		New(PillarPartner, "emotional_support", "Guidance on providing emotional support to the mother", false),
		New(PillarPartner, "feeding_help", "How the partner can help with feeding and baby care", false),
		New(PillarPartner, "general_partner_support", "General support and encouragement for the partner", false),
	}
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the registry of built-in tasks. The built-in table is
// fixed at compile time, so a construction error is a programming error
// and panics.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := NewRegistry(DefaultTasks()...)
		if err != nil {
			panic("task: invalid built-in registry: " + err.Error())
		}
		defaultRegistry = r
	})
	return defaultRegistry
}
