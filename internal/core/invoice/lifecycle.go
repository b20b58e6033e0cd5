package invoice

import "fmt"

// AllowedTransitions is the full lifecycle edge set. SETTLED, REJECTED
// and EXPIRED are terminal.
var AllowedTransitions = map[Status][]Status{
	StatusPending:     {StatusAccepted, StatusRejected, StatusExpired, StatusFraudReview},
	StatusAccepted:    {StatusSettled, StatusFailed},
	StatusFraudReview: {StatusAccepted, StatusRejected},
	StatusFailed:      {StatusRejected},
	StatusSettled:     {},
	StatusRejected:    {},
	StatusExpired:     {},
}

// IsTerminal reports whether s admits no further transitions.
func IsTerminal(s Status) bool {
	return len(AllowedTransitions[s]) == 0
}

// CanTransition reports whether from->to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError describes an illegal lifecycle edge.
type TransitionError struct {
	InvoiceID string
	From, To  Status
}

func (e *TransitionError) Error() string {
	if IsTerminal(e.From) {
		return fmt.Sprintf("invoice %s: %s is terminal, cannot transition to %s", e.InvoiceID, e.From, e.To)
	}
	return fmt.Sprintf("invoice %s: illegal transition %s -> %s", e.InvoiceID, e.From, e.To)
}

// Transition mutates the invoice status along a legal edge.
func Transition(inv *Invoice, to Status) error {
	if !CanTransition(inv.Status, to) {
		return &TransitionError{InvoiceID: inv.ID, From: inv.Status, To: to}
	}
	inv.Status = to
	return nil
}
