package session

import (
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/window"
	"github.com/google/uuid"
)

type CancellationCategory string

const (
	// CategoryEarly needs only a confirmation.
	CategoryEarly CancellationCategory = "early"
	// CategoryLate needs a justification and, by policy, a supporting document.
	CategoryLate CancellationCategory = "late"
)

func (c CancellationCategory) IsValid() bool {
	return c == CategoryEarly || c == CategoryLate
}

// Authorization is what the cancellation flow is opened with. It is computed
// once; the submission re-checks the category against the clock.
type Authorization struct {
	SessionID             uuid.UUID            `json:"session_id"`
	Category              CancellationCategory `json:"category"`
	RequiresJustification bool                 `json:"requires_justification"`
	RequiresDocument      bool                 `json:"requires_document"`
	MinutesUntilStart     int                  `json:"minutes_until_start"`
	EvaluatedAt           time.Time            `json:"evaluated_at"`
}

// CancellationPolicy decides early vs. late. A session exactly Cutoff away
// from its start is still early.
type CancellationPolicy struct {
	Cutoff               time.Duration
	LateRequiresDocument bool
	Location             *time.Location
}

func DefaultCancellationPolicy(loc *time.Location) CancellationPolicy {
	return CancellationPolicy{Cutoff: 24 * time.Hour, LateRequiresDocument: true, Location: loc}
}

func (p CancellationPolicy) Categorize(minutesUntilStart int) CancellationCategory {
	if minutesUntilStart >= int(p.Cutoff/time.Minute) {
		return CategoryEarly
	}
	return CategoryLate
}

// Authorize opens a cancellation flow for s at now.
func (p CancellationPolicy) Authorize(s *Session, now time.Time) Authorization {
	minutes := window.MinutesUntil(s.StartsAt(p.Location), now)
	category := p.Categorize(minutes)
	return Authorization{
		SessionID:             s.ID,
		Category:              category,
		RequiresJustification: category == CategoryLate,
		RequiresDocument:      category == CategoryLate && p.LateRequiresDocument,
		MinutesUntilStart:     minutes,
		EvaluatedAt:           now,
	}
}

type CancelCommand struct {
	SessionID uuid.UUID
	// Category is the one the flow was opened with.
	Category      CancellationCategory
	Justification string
	DocumentRef   string
	CancelledBy   uuid.UUID
}

// Validate checks the submission against the authorization it will be
// recorded under.
func (c *CancelCommand) Validate(auth Authorization) error {
	verr := &domain.ValidationError{}
	if !c.Category.IsValid() {
		verr.Add("category", "must be early or late")
	}
	if auth.RequiresJustification && strings.TrimSpace(c.Justification) == "" {
		verr.Add("justification", "is required for cancellations within the cutoff")
	}
	if auth.RequiresDocument && strings.TrimSpace(c.DocumentRef) == "" {
		verr.Add("document_ref", "is required for cancellations within the cutoff")
	}
	return verr.OrNil()
}

// CancellationRecord is immutable once written. RequiresJustification is the
// category decided at creation and is never recomputed.
type CancellationRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	SessionID             uuid.UUID            `gorm:"column:session_id;type:uuid;not null;uniqueIndex" json:"session_id"`
	ProviderID            uuid.UUID            `gorm:"column:provider_id;type:uuid;not null;index" json:"provider_id"`
	CancelledBy           uuid.UUID            `gorm:"column:cancelled_by;type:uuid;not null" json:"cancelled_by"`
	CancelledAt           time.Time            `gorm:"column:cancelled_at;not null" json:"cancelled_at"`
	Category              CancellationCategory `gorm:"column:category;type:varchar(10);not null" json:"category"`
	RequiresJustification bool                 `gorm:"column:requires_justification;not null" json:"requires_justification"`
	Justification         string               `gorm:"column:justification;type:text" json:"justification,omitempty"`
	DocumentRef           string               `gorm:"column:document_ref;type:varchar(500)" json:"document_ref,omitempty"`
}

func (CancellationRecord) TableName() string {
	return "clinical.cancellations"
}

func NewCancellationRecord(s *Session, auth Authorization, cmd *CancelCommand, at time.Time) *CancellationRecord {
	return &CancellationRecord{
		SessionID:             s.ID,
		ProviderID:            s.ProviderID,
		CancelledBy:           cmd.CancelledBy,
		CancelledAt:           at,
		Category:              auth.Category,
		RequiresJustification: auth.RequiresJustification,
		Justification:         strings.TrimSpace(cmd.Justification),
		DocumentRef:           strings.TrimSpace(cmd.DocumentRef),
	}
}
