// Package registry is the durable source of truth for governed plans.
// Plans are stored in SQLite; status is the single mutable, contended field
// and every transition is validated in one place.
package registry

import (
	"time"
)

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	StatusDraft           PlanStatus = "draft"
	StatusPendingApproval PlanStatus = "pending_approval"
	StatusApproved        PlanStatus = "approved"
	StatusLocked          PlanStatus = "locked"
	StatusSuperseded      PlanStatus = "superseded"
	StatusArchived        PlanStatus = "archived"
)

// Valid reports whether s is a known status.
func (s PlanStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusLocked,
		StatusSuperseded, StatusArchived:
		return true
	}
	return false
}

// Immutable reports whether a plan in this status has frozen content.
// Content and content hash never change once a plan reaches any of these.
func (s PlanStatus) Immutable() bool {
	switch s {
	case StatusApproved, StatusLocked, StatusSuperseded:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits s -> next.
// DRAFT -> PENDING_APPROVAL -> APPROVED -> LOCKED; APPROVED|LOCKED ->
// SUPERSEDED; any -> ARCHIVED. No transition ever returns to DRAFT.
func (s PlanStatus) CanTransitionTo(next PlanStatus) bool {
	if next == StatusArchived {
		return s != StatusArchived
	}
	switch s {
	case StatusDraft:
		return next == StatusPendingApproval || next == StatusApproved
	case StatusPendingApproval:
		return next == StatusApproved
	case StatusApproved:
		return next == StatusLocked || next == StatusSuperseded
	case StatusLocked:
		return next == StatusSuperseded
	}
	return false
}

// ApprovableStatuses are the statuses from which approval is permitted.
// Used as the compare set for the approval compare-and-swap.
func ApprovableStatuses() []PlanStatus {
	return []PlanStatus{StatusDraft, StatusPendingApproval}
}

// Plan is the immutable-once-approved unit of governance.
type Plan struct {
	PlanID      string     `json:"plan_id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	ContentHash string     `json:"content_hash"`
	Status      PlanStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  string     `json:"approved_by,omitempty"`

	// CodeComponent is the stored random half of the verification code.
	// Never exposed through summaries; combined with the content hash it
	// yields the per-plan approval code.
	CodeComponent string `json:"-"`

	ChunkCount int               `json:"chunk_count"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Summary is the plan view without content, for listings.
type Summary struct {
	PlanID     string     `json:"plan_id"`
	ProjectID  string     `json:"project_id"`
	Title      string     `json:"title"`
	Status     PlanStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	ChunkCount int        `json:"chunk_count"`
}

// Summary returns the listing view of the plan.
func (p *Plan) Summary() Summary {
	return Summary{
		PlanID:     p.PlanID,
		ProjectID:  p.ProjectID,
		Title:      p.Title,
		Status:     p.Status,
		CreatedAt:  p.CreatedAt,
		ApprovedAt: p.ApprovedAt,
		ApprovedBy: p.ApprovedBy,
		ChunkCount: p.ChunkCount,
	}
}

// Statistics aggregates registry contents.
type Statistics struct {
	Total     int                `json:"total"`
	ByStatus  map[PlanStatus]int `json:"by_status"`
	ByProject map[string]int     `json:"by_project"`
}
