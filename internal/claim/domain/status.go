package domain

var allowedTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimStatusDraft:         {ClaimStatusValidated},
	ClaimStatusValidated:     {ClaimStatusReadyToSubmit, ClaimStatusDraft},
	ClaimStatusReadyToSubmit: {ClaimStatusSubmitted},
	ClaimStatusSubmitted:     {ClaimStatusAccepted, ClaimStatusDenied, ClaimStatusError},
	ClaimStatusAccepted:      {ClaimStatusPaid},
	ClaimStatusError:         {ClaimStatusReadyToSubmit},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to ClaimStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimStatusDraft, ClaimStatusValidated, ClaimStatusReadyToSubmit, ClaimStatusSubmitted,
		ClaimStatusAccepted, ClaimStatusDenied, ClaimStatusPaid, ClaimStatusError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the claim can no longer be mutated.
func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimStatusPaid || s == ClaimStatusDenied
}

// Encodable reports whether a claim in this status may be serialized to 837P.
func (s ClaimStatus) Encodable() bool {
	switch s {
	case ClaimStatusReadyToSubmit, ClaimStatusSubmitted, ClaimStatusAccepted,
		ClaimStatusDenied, ClaimStatusPaid, ClaimStatusError:
		return true
	default:
		return false
	}
}

// Editable reports whether the claim accepts corrections.
func (s ClaimStatus) Editable() bool {
	return s == ClaimStatusDraft || s == ClaimStatusValidated
}
