// Package model provides capability-based model selection for pipeline stages.
// Stages ask for a capability (routing, support, vision) instead of a model
// name, and the registry resolves it to configured endpoints with fallback
// chains and circuit-breaker health.
package model

// Capability represents a semantic capability for model selection.
type Capability string

const (
	// CapabilityRouting picks the next task for a request. Short, structured output.
	CapabilityRouting Capability = "routing"

	// CapabilitySupport writes specialist answers and confidence self-ratings.
	CapabilitySupport Capability = "support"

	// CapabilityVision handles any call that carries an image part.
	CapabilityVision Capability = "vision"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityRouting, CapabilitySupport, CapabilityVision:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}

// ForCall returns the capability for a stage call. Calls with an image
// always use vision so that text-only endpoints never receive pixels.
func ForCall(base Capability, hasImage bool) Capability {
	if hasImage {
		return CapabilityVision
	}
	return base
}
