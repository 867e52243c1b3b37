package domain

import "time"

// TicketStatus enumerates lifecycle states for work orders.
type TicketStatus string

const (
	TicketStatusPending    TicketStatus = "PENDING"
	TicketStatusAssigned   TicketStatus = "ASSIGNED"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusPaused     TicketStatus = "PAUSED"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusRejected   TicketStatus = "REJECTED"
	TicketStatusClosed     TicketStatus = "CLOSED"
	TicketStatusCancelled  TicketStatus = "CANCELLED"
)

// AllTicketStatuses lists every status in lifecycle order.
var AllTicketStatuses = []TicketStatus{
	TicketStatusPending,
	TicketStatusAssigned,
	TicketStatusInProgress,
	TicketStatusPaused,
	TicketStatusResolved,
	TicketStatusRejected,
	TicketStatusClosed,
	TicketStatusCancelled,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, candidate := range AllTicketStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// TicketType distinguishes ad-hoc client reports from planned work.
type TicketType string

const (
	TicketTypeReport        TicketType = "REPORT"
	TicketTypePlanned       TicketType = "PLANNED"
	TicketTypeExtraordinary TicketType = "EXTRAORDINARY"
)

// Valid reports whether t is a known type.
func (t TicketType) Valid() bool {
	switch t {
	case TicketTypeReport, TicketTypePlanned, TicketTypeExtraordinary:
		return true
	}
	return false
}

// Classification describes the nature of the maintenance work.
type Classification string

const (
	ClassificationCorrective     Classification = "CORRECTIVE"
	ClassificationPreventive     Classification = "PREVENTIVE"
	ClassificationInspection     Classification = "INSPECTION"
	ClassificationImprovement    Classification = "IMPROVEMENT"
	ClassificationInfrastructure Classification = "INFRASTRUCTURE"
	ClassificationRoutine        Classification = "ROUTINE"
)

// Valid reports whether c is a known classification.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationCorrective, ClassificationPreventive, ClassificationInspection,
		ClassificationImprovement, ClassificationInfrastructure, ClassificationRoutine:
		return true
	}
	return false
}

// TicketPriority enumerates urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "LOW"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityHigh   TicketPriority = "HIGH"
)

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return true
	}
	return false
}

// Ticket is the aggregate for maintenance work orders.
type Ticket struct {
	ID             int64
	Type           TicketType
	Classification Classification
	Priority       TicketPriority
	Status         TicketStatus

	Title       string
	Description string
	Category    string
	Plant       string
	Area        string
	Notes       string

	CreatorID    int64
	DepartmentID *int64
	AssigneeIDs  []int64

	EstimatedMinutes      *int
	ActualDurationMinutes int

	CreatedAt  time.Time
	UpdatedAt  time.Time
	DueAt      *time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	Evidence  []Evidence
	History   []TicketHistory
	Intervals []WorkInterval
}

// HasAssignee reports whether userID is a current assignee.
func (t *Ticket) HasAssignee(userID int64) bool {
	for _, id := range t.AssigneeIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to mutate independently.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	out := *t
	out.AssigneeIDs = append([]int64(nil), t.AssigneeIDs...)
	out.DepartmentID = cloneInt64(t.DepartmentID)
	out.EstimatedMinutes = cloneInt(t.EstimatedMinutes)
	out.DueAt = cloneTime(t.DueAt)
	out.StartedAt = cloneTime(t.StartedAt)
	out.FinishedAt = cloneTime(t.FinishedAt)
	out.Evidence = append([]Evidence(nil), t.Evidence...)
	out.History = make([]TicketHistory, len(t.History))
	for i := range t.History {
		out.History[i] = t.History[i].Clone()
	}
	out.Intervals = make([]WorkInterval, len(t.Intervals))
	for i := range t.Intervals {
		out.Intervals[i] = t.Intervals[i].Clone()
	}
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
