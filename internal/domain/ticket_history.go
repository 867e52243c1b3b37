package domain

import "time"

// HistoryEventType captures what produced a history entry.
type HistoryEventType string

const (
	HistoryEventCreation     HistoryEventType = "CREATION"
	HistoryEventStatusChange HistoryEventType = "STATUS_CHANGE"
	HistoryEventEdit         HistoryEventType = "EDIT"
)

// TicketHistory is an immutable audit trail entry. Only the URLs of its
// linked evidence may later be redacted.
type TicketHistory struct {
	ID           int64
	TicketID     int64
	ActorID      int64
	EventType    HistoryEventType
	StatusBefore *TicketStatus
	StatusAfter  TicketStatus
	Note         string
	CreatedAt    time.Time
	Evidence     []Evidence
}

// Clone returns a deep copy.
func (h TicketHistory) Clone() TicketHistory {
	out := h
	if h.StatusBefore != nil {
		before := *h.StatusBefore
		out.StatusBefore = &before
	}
	out.Evidence = append([]Evidence(nil), h.Evidence...)
	return out
}
