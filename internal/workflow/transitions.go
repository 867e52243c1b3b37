// Package workflow holds the ticket state machine and the elapsed-time
// bookkeeping that rides on status changes.
package workflow

import "github.com/spec-kit/maintenance-service/internal/domain"

var transitionMap = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusPending:    {domain.TicketStatusAssigned, domain.TicketStatusCancelled},
	domain.TicketStatusAssigned:   {domain.TicketStatusInProgress, domain.TicketStatusPending, domain.TicketStatusCancelled},
	domain.TicketStatusInProgress: {domain.TicketStatusPaused, domain.TicketStatusResolved},
	domain.TicketStatusPaused:     {domain.TicketStatusInProgress},
	domain.TicketStatusResolved:   {domain.TicketStatusClosed, domain.TicketStatusRejected},
	domain.TicketStatusRejected:   {domain.TicketStatusInProgress, domain.TicketStatusCancelled},
	domain.TicketStatusClosed:     {},
	domain.TicketStatusCancelled:  {},
}

// routineCloseFrom are the active states a routine ticket may close from.
var routineCloseFrom = map[domain.TicketStatus]bool{
	domain.TicketStatusPending:    true,
	domain.TicketStatusAssigned:   true,
	domain.TicketStatusInProgress: true,
	domain.TicketStatusPaused:     true,
}

// IsValidTransition reports whether next is in current's outgoing set.
func IsValidTransition(current, next domain.TicketStatus) bool {
	for _, status := range transitionMap[current] {
		if status == next {
			return true
		}
	}
	return false
}

// CanTransition is IsValidTransition plus the routine shortcut straight to
// CLOSED.
func CanTransition(class domain.Classification, current, next domain.TicketStatus) bool {
	if IsValidTransition(current, next) {
		return true
	}
	return class == domain.ClassificationRoutine &&
		next == domain.TicketStatusClosed &&
		routineCloseFrom[current]
}

// Next lists the statuses a ticket of class may move to from current,
// including the routine shortcut to CLOSED.
func Next(class domain.Classification, current domain.TicketStatus) []domain.TicketStatus {
	out := make([]domain.TicketStatus, len(transitionMap[current]), len(transitionMap[current])+1)
	copy(out, transitionMap[current])
	if CanTransition(class, current, domain.TicketStatusClosed) && !IsValidTransition(current, domain.TicketStatusClosed) {
		out = append(out, domain.TicketStatusClosed)
	}
	return out
}

func IsTerminal(status domain.TicketStatus) bool {
	return status == domain.TicketStatusClosed || status == domain.TicketStatusCancelled
}

// IsActive reports the states counted as open backlog.
func IsActive(status domain.TicketStatus) bool {
	return routineCloseFrom[status]
}

// IsFinished reports the states that carry a finishedAt stamp.
func IsFinished(status domain.TicketStatus) bool {
	return status == domain.TicketStatusResolved || status == domain.TicketStatusClosed
}

// ReassignedStatus recomputes status after the assignee set is replaced.
// Only PENDING and ASSIGNED react; every other status is returned as is.
func ReassignedStatus(current domain.TicketStatus, assignees int) domain.TicketStatus {
	if current != domain.TicketStatusPending && current != domain.TicketStatusAssigned {
		return current
	}
	if assignees > 0 {
		return domain.TicketStatusAssigned
	}
	return domain.TicketStatusPending
}

// EvidencePurposeFor tags images uploaded alongside a status change.
func EvidencePurposeFor(next domain.TicketStatus) domain.EvidencePurpose {
	switch next {
	case domain.TicketStatusResolved:
		return domain.EvidenceSolution
	case domain.TicketStatusRejected:
		return domain.EvidenceRejection
	case domain.TicketStatusClosed:
		return domain.EvidenceClosure
	default:
		return domain.EvidenceProgress
	}
}
