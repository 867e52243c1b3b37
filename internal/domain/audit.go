package domain

import "time"

// AuditEntry is an append-only log record.
type AuditEntry struct {
	ID        int64
	Action    string
	ActorID   *int64
	Detail    string
	CreatedAt time.Time
}
