package domain

import "time"

// EvidencePurpose tags why an image was attached.
type EvidencePurpose string

const (
	EvidenceInitial   EvidencePurpose = "INITIAL"
	EvidenceProgress  EvidencePurpose = "PROGRESS"
	EvidenceSolution  EvidencePurpose = "SOLUTION"
	EvidenceRejection EvidencePurpose = "REJECTION"
	EvidenceClosure   EvidencePurpose = "CLOSURE"
	EvidenceUpdate    EvidencePurpose = "UPDATE"
	EvidenceExpired   EvidencePurpose = "EXPIRED"
)

// Evidence is an image attached to a ticket, optionally linked to the
// history entry that introduced it.
type Evidence struct {
	ID        int64
	TicketID  int64
	HistoryID *int64
	URL       string
	Purpose   EvidencePurpose
	CreatedAt time.Time
}
