package domain

import (
	"time"

	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// Trigger names the operation requesting a status change.
type Trigger string

const (
	TriggerClaim   Trigger = "claim"
	TriggerAssign  Trigger = "assign"
	TriggerUnclaim Trigger = "unclaim"
	TriggerClose   Trigger = "close"
)

// TerminalStatuses lists the outcomes accepted by TriggerClose.
var TerminalStatuses = []TicketStatus{
	TicketStatusRejected,
	TicketStatusCompleted,
	TicketStatusCancelled,
	TicketStatusClosed,
}

var allowedTransitions = map[Trigger]map[TicketStatus][]TicketStatus{
	TriggerClaim: {
		TicketStatusOpen: {TicketStatusClaimed},
	},
	TriggerAssign: {
		TicketStatusOpen:    {TicketStatusClaimed},
		TicketStatusClaimed: {TicketStatusClaimed},
	},
	TriggerUnclaim: {
		TicketStatusClaimed: {TicketStatusOpen},
	},
	TriggerClose: {
		TicketStatusOpen:    TerminalStatuses,
		TicketStatusClaimed: TerminalStatuses,
	},
}

// CanTransition reports whether trigger may move a ticket from current to next.
func CanTransition(trigger Trigger, current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[trigger][current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Transition moves the ticket to next, stamping closed_at on the first terminal
// transition. The ticket is left untouched when the edge is not defined.
func (t *Ticket) Transition(trigger Trigger, next TicketStatus, at time.Time) error {
	if !CanTransition(trigger, t.Status, next) {
		return apperrors.NewInvalidTransition("invalid status transition", map[string]any{
			"ticket_id": t.ID,
			"trigger":   string(trigger),
			"from":      string(t.Status),
			"to":        string(next),
		})
	}
	t.Status = next
	if next.IsTerminal() && t.ClosedAt == nil {
		closedAt := at
		t.ClosedAt = &closedAt
	}
	t.touchActivity(at)
	return nil
}
