// Package task defines the registry of routes the pipeline can execute.
// A route is a (pillar, action) pair; the router may only choose among the
// names the registry lists, and the orchestrator validates every routing
// decision against it before dispatching to a specialist.
package task

// Pillar is one of the fixed support domains that partition all actions.
type Pillar string

const (
	// PillarMind is emotional and mental support for the mother.
	PillarMind Pillar = "mind"

	// PillarBody is physical postpartum recovery.
	PillarBody Pillar = "body"

	// PillarBaby is newborn care and interpretation.
	PillarBaby Pillar = "baby"

	// PillarPartner is guidance for the partner.
	PillarPartner Pillar = "partner"
)

// Pillars lists every pillar in display order.
var Pillars = []Pillar{PillarMind, PillarBody, PillarBaby, PillarPartner}

// IsValid reports whether p is one of the known pillars.
func (p Pillar) IsValid() bool {
	switch p {
	case PillarMind, PillarBody, PillarBaby, PillarPartner:
		return true
	}
	return false
}

// String returns the string representation of the pillar.
func (p Pillar) String() string {
	return string(p)
}

// ParsePillar converts a string to a Pillar, returning empty for unknown values.
func ParsePillar(s string) Pillar {
	p := Pillar(s)
	if p.IsValid() {
		return p
	}
	return ""
}

// DefaultAction is the general-support action of the pillar. It is the
// repair target when a routed action is not registered.
func (p Pillar) DefaultAction() string {
	switch p {
	case PillarBody:
		return "recovery_guidance"
	case PillarBaby:
		return "general_baby_support"
	case PillarPartner:
		return "general_partner_support"
	default:
		return "general_support"
	}
}

// NonImageFallback is the action used when the routed task needs an image
// and the request did not carry one.
func (p Pillar) NonImageFallback() string {
	switch p {
	case PillarBody:
		return "recovery_guidance"
	case PillarBaby:
		return "general_baby_support"
	default:
		return p.DefaultAction()
	}
}
