package domain

import "time"

// WorkInterval is one contiguous span of active work on a ticket.
// End is nil while the interval is open.
type WorkInterval struct {
	ID              int64
	TicketID        int64
	ActorID         int64
	Start           time.Time
	End             *time.Time
	DurationMinutes *int
	Status          TicketStatus
}

// Open reports whether the interval has not been closed yet.
func (w WorkInterval) Open() bool {
	return w.End == nil
}

// Clone returns a deep copy.
func (w WorkInterval) Clone() WorkInterval {
	out := w
	out.End = cloneTime(w.End)
	out.DurationMinutes = cloneInt(w.DurationMinutes)
	return out
}
