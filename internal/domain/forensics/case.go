package forensics

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// CaseStatus is the lifecycle phase of a forensic case.
type CaseStatus string

const (
	StatusOpen               CaseStatus = "open"
	StatusInProgress         CaseStatus = "in_progress"
	StatusEvidenceCollection CaseStatus = "evidence_collection"
	StatusAnalysis           CaseStatus = "analysis"
	StatusReview             CaseStatus = "review"
	StatusClosed             CaseStatus = "closed"
	StatusArchived           CaseStatus = "archived"
)

// phaseOrder maps each status to its position in the forward lifecycle.
var phaseOrder = map[CaseStatus]int{
	StatusOpen:               0,
	StatusInProgress:         1,
	StatusEvidenceCollection: 2,
	StatusAnalysis:           3,
	StatusReview:             4,
	StatusClosed:             5,
	StatusArchived:           6,
}

// IsValid checks the status against the known set
func (s CaseStatus) IsValid() bool {
	_, ok := phaseOrder[s]
	return ok
}

// IsTerminal reports whether the case has been closed or archived
func (s CaseStatus) IsTerminal() bool {
	return s == StatusClosed || s == StatusArchived
}

// Priority of a forensic case.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// AuditEntry records one case state transition or material update.
type AuditEntry struct {
	ID        uuid.UUID  `json:"id"`
	Actor     string     `json:"actor"`
	From      CaseStatus `json:"from,omitempty"`
	To        CaseStatus `json:"to,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Case is the workflow container for an investigation. Status moves forward
// through the lifecycle; the only backward edges are review→analysis,
// closed→archived continuation, and admin-only re-open.
type Case struct {
	ID            uuid.UUID   `json:"id"`
	Title         string      `json:"title"`
	Description   string      `json:"description,omitempty"`
	Priority      Priority    `json:"priority"`
	Status        CaseStatus  `json:"status"`
	Investigator  string      `json:"investigator,omitempty"`
	Jurisdiction  string      `json:"jurisdiction,omitempty"`
	LegalStandard string      `json:"legal_standard,omitempty"`
	EvidenceCount int         `json:"evidence_count"`
	Tags          []string    `json:"tags,omitempty"`
	Notes         []string    `json:"notes,omitempty"`
	AuditLog      []AuditEntry `json:"audit_log"`
	CreatedDate   time.Time   `json:"created_date"`
	LastUpdated   time.Time   `json:"last_updated"`
	ClosedDate    *time.Time  `json:"closed_date,omitempty"`
}

// NewCase creates a case in the open state
func NewCase(title string, priority Priority, actor string) (*Case, error) {
	if title == "" {
		return nil, errors.NewValidationError("MISSING_TITLE", "case title is required")
	}
	if priority == "" {
		priority = PriorityMedium
	}
	now := time.Now().UTC()
	c := &Case{
		ID:          uuid.New(),
		Title:       title,
		Priority:    priority,
		Status:      StatusOpen,
		CreatedDate: now,
		LastUpdated: now,
	}
	c.AuditLog = append(c.AuditLog, AuditEntry{
		ID:        uuid.New(),
		Actor:     actor,
		To:        StatusOpen,
		Reason:    "case created",
		Timestamp: now,
	})
	return c, nil
}

// CanTransition reports whether the move is allowed for the given actor role
func (c *Case) CanTransition(to CaseStatus, isAdmin bool) bool {
	from := c.Status
	if !to.IsValid() || from == to {
		return false
	}
	switch {
	case phaseOrder[to] == phaseOrder[from]+1:
		// Forward one phase
		return true
	case from == StatusReview && to == StatusAnalysis:
		// Review can bounce work back to analysis
		return true
	case from == StatusOpen && to == StatusClosed:
		// Administrative fast-close
		return isAdmin
	case from == StatusClosed && to == StatusInProgress:
		// Admin re-open
		return isAdmin
	default:
		return false
	}
}

// Transition applies a status change, appending to the audit log and keeping
// the closed_date invariant: set iff status is closed or archived.
func (c *Case) Transition(to CaseStatus, actor, reason string, isAdmin bool) error {
	if !to.IsValid() {
		return errors.NewValidationError("INVALID_STATUS", fmt.Sprintf("unknown case status: %s", to))
	}
	if !c.CanTransition(to, isAdmin) {
		// Leaving a terminal state, or fast-closing, is an admin move
		if !isAdmin && (c.Status.IsTerminal() ||
			(c.Status == StatusOpen && to == StatusClosed)) {
			return errors.NewForbiddenError("transition requires admin privileges")
		}
		return errors.NewConflictError(
			fmt.Sprintf("cannot transition case from %s to %s", c.Status, to))
	}
	now := time.Now().UTC()
	c.AuditLog = append(c.AuditLog, AuditEntry{
		ID:        uuid.New(),
		Actor:     actor,
		From:      c.Status,
		To:        to,
		Reason:    reason,
		Timestamp: now,
	})
	c.Status = to
	c.LastUpdated = now
	if to.IsTerminal() {
		if c.ClosedDate == nil {
			c.ClosedDate = &now
		}
	} else {
		c.ClosedDate = nil
	}
	return nil
}

// AcceptsEvidence reports whether evidence may be attached in the current
// state. Archived cases are frozen.
func (c *Case) AcceptsEvidence() bool {
	return c.Status != StatusArchived
}

// AddNote appends an investigator note with an audit record
func (c *Case) AddNote(actor, note string) error {
	if note == "" {
		return errors.NewValidationError("EMPTY_NOTE", "note text is required")
	}
	now := time.Now().UTC()
	c.Notes = append(c.Notes, note)
	c.AuditLog = append(c.AuditLog, AuditEntry{
		ID:        uuid.New(),
		Actor:     actor,
		Reason:    "note added",
		Timestamp: now,
	})
	c.LastUpdated = now
	return nil
}

// Validate checks the closed_date invariant
func (c *Case) Validate() error {
	if !c.Status.IsValid() {
		return errors.NewValidationError("INVALID_STATUS", "case status is invalid")
	}
	if c.Status.IsTerminal() != (c.ClosedDate != nil) {
		return errors.NewIntegrityError("CLOSED_DATE_MISMATCH",
			"closed_date must be set exactly when the case is closed or archived")
	}
	return nil
}
