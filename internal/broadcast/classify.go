package broadcast

// Class is the per-cycle recipient classification.
type Class int

const (
	Ineligible Class = iota
	Broadcastable
	MegaGroup
	// LargeGroup is any other dialog that reports a participant count.
	// This also covers ordinary small groups; kept as-is, see DESIGN.md.
	LargeGroup
)

func (c Class) String() string {
	switch c {
	case Broadcastable:
		return "broadcastable"
	case MegaGroup:
		return "megagroup"
	case LargeGroup:
		return "large_group"
	default:
		return "ineligible"
	}
}

// Eligible reports whether the template is sent to dialogs of this class.
func (c Class) Eligible() bool { return c != Ineligible }

// Classify derives the class of d. Flags win over participant count, broadcast over megagroup.
func Classify(d Dialog) Class {
	switch {
	case d.Broadcast:
		return Broadcastable
	case d.Megagroup:
		return MegaGroup
	case d.HasParticipantCount:
		return LargeGroup
	default:
		return Ineligible
	}
}
