package dto

import (
	"time"

	"github.com/spec-kit/maintenance-service/internal/domain"
)

// CreateTicketRequest payload. It is accepted as JSON or as multipart
// form fields alongside "evidence" files.
type CreateTicketRequest struct {
	Title            string                `json:"title" form:"title"`
	Description      string                `json:"description" form:"description"`
	Category         string                `json:"category" form:"category"`
	Plant            string                `json:"plant" form:"plant"`
	Area             string                `json:"area" form:"area"`
	Notes            string                `json:"notes" form:"notes"`
	Type             domain.TicketType     `json:"type" form:"type"`
	Classification   domain.Classification `json:"classification" form:"classification"`
	Priority         domain.TicketPriority `json:"priority" form:"priority"`
	AssigneeIDs      []int64               `json:"assignee_ids" form:"assignee_ids"`
	DueDate          string                `json:"due_date" form:"due_date"`
	EstimatedMinutes *int                  `json:"estimated_minutes" form:"estimated_minutes"`
}

// UpdateTicketRequest payload. Omitted fields are left untouched; an empty
// assignee_ids list removes every assignee.
type UpdateTicketRequest struct {
	Title             *string                `json:"title" form:"title"`
	Description       *string                `json:"description" form:"description"`
	Category          *string                `json:"category" form:"category"`
	Plant             *string                `json:"plant" form:"plant"`
	Area              *string                `json:"area" form:"area"`
	Type              *domain.TicketType     `json:"type" form:"type"`
	Classification    *domain.Classification `json:"classification" form:"classification"`
	Priority          *domain.TicketPriority `json:"priority" form:"priority"`
	AssigneeIDs       *[]int64               `json:"assignee_ids" form:"-"`
	DueDate           *string                `json:"due_date" form:"due_date"`
	EstimatedMinutes  *int                   `json:"estimated_minutes" form:"estimated_minutes"`
	RemoveEvidenceIDs []int64                `json:"remove_evidence_ids" form:"remove_evidence_ids"`
}

// StatusChangeRequest payload.
type StatusChangeRequest struct {
	Status domain.TicketStatus `json:"status" form:"status"`
	Note   string              `json:"note" form:"note"`
}

// TicketSummary is a list row.
type TicketSummary struct {
	ID                    int64                 `json:"id"`
	Type                  domain.TicketType     `json:"type"`
	Classification        domain.Classification `json:"classification"`
	Priority              domain.TicketPriority `json:"priority"`
	Status                domain.TicketStatus   `json:"status"`
	Title                 string                `json:"title"`
	Category              string                `json:"category"`
	Plant                 string                `json:"plant"`
	Area                  string                `json:"area"`
	CreatorID             int64                 `json:"creator_id"`
	AssigneeIDs           []int64               `json:"assignee_ids"`
	EstimatedMinutes      *int                  `json:"estimated_minutes"`
	ActualDurationMinutes int                   `json:"actual_duration_minutes"`
	DueAt                 *time.Time            `json:"due_at"`
	StartedAt             *time.Time            `json:"started_at"`
	FinishedAt            *time.Time            `json:"finished_at"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Description string                  `json:"description"`
	Notes       string                  `json:"notes"`
	Evidence    []EvidenceResponse      `json:"evidence"`
	History     []TicketHistoryResponse `json:"history"`
	Intervals   []WorkIntervalResponse  `json:"intervals"`
}

// EvidenceResponse describes an attached image.
type EvidenceResponse struct {
	ID        int64                  `json:"id"`
	HistoryID *int64                 `json:"history_id,omitempty"`
	URL       string                 `json:"url"`
	Purpose   domain.EvidencePurpose `json:"purpose"`
	CreatedAt time.Time              `json:"created_at"`
}

// TicketHistoryResponse is one audit trail entry.
type TicketHistoryResponse struct {
	ID           int64                   `json:"id"`
	ActorID      int64                   `json:"actor_id"`
	EventType    domain.HistoryEventType `json:"event_type"`
	StatusBefore *domain.TicketStatus    `json:"status_before"`
	StatusAfter  domain.TicketStatus     `json:"status_after"`
	Note         string                  `json:"note"`
	Evidence     []EvidenceResponse      `json:"evidence"`
	CreatedAt    time.Time               `json:"created_at"`
}

// WorkIntervalResponse is one span of active work.
type WorkIntervalResponse struct {
	ID              int64               `json:"id"`
	ActorID         int64               `json:"actor_id"`
	Start           time.Time           `json:"start"`
	End             *time.Time          `json:"end"`
	DurationMinutes *int                `json:"duration_minutes"`
	Status          domain.TicketStatus `json:"status"`
}

// PageMeta describes a paged listing.
type PageMeta struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}
