package slot

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/window"
	"github.com/google/uuid"
)

// State transitions:
//
//	unavailable|blocked → available      (provider opens the slot)
//	available → blocked                  (provider closes the slot)
//	available → reserved                 (booking created)
//	reserved → in_progress → completed   (session lifecycle)
//	reserved|in_progress → available     (cancellation accepted)
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusReserved    Status = "reserved"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusBlocked     Status = "blocked"
)

var aliases = map[string]Status{
	"available":    StatusAvailable,
	"disponivel":   StatusAvailable,
	"livre":        StatusAvailable,
	"unavailable":  StatusUnavailable,
	"indisponivel": StatusUnavailable,
	"reserved":     StatusReserved,
	"reservado":    StatusReserved,
	"booked":       StatusReserved,
	"inprogress":   StatusInProgress,
	"andamento":    StatusInProgress,
	"emandamento":  StatusInProgress,
	"completed":    StatusCompleted,
	"concluido":    StatusCompleted,
	"finalizado":   StatusCompleted,
	"blocked":      StatusBlocked,
	"bloqueado":    StatusBlocked,
}

// ParseStatus normalizes any spelling the backing store or an older client
// may use. It is the only place raw labels are interpreted.
func ParseStatus(raw string) (Status, error) {
	if s, ok := aliases[domain.FoldStatus(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown slot status %q", raw)
}

func (s Status) IsValid() bool {
	switch s {
	case StatusAvailable, StatusUnavailable, StatusReserved, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// IsSessionBound reports whether the slot is owned by a booked session and
// therefore out of the provider's reach.
func (s Status) IsSessionBound() bool {
	switch s {
	case StatusReserved, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

func (s *Status) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("slot status: unsupported scan type %T", src)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) Value() (driver.Value, error) {
	return string(s), nil
}

const TimeLayout = "15:04"

type Slot struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	ProviderID uuid.UUID `gorm:"column:provider_id;type:uuid;not null;uniqueIndex:idx_slots_provider_day_time" json:"provider_id"`
	// Date is the calendar day in the provider's operating timezone.
	Date   time.Time `gorm:"column:date;type:date;not null;uniqueIndex:idx_slots_provider_day_time" json:"date"`
	Time   string    `gorm:"column:time;type:varchar(5);not null;uniqueIndex:idx_slots_provider_day_time" json:"time"`
	Status Status    `gorm:"column:status;type:varchar(30);not null;default:'unavailable';index" json:"status"`
}

func (Slot) TableName() string {
	return "calendar.slots"
}

// StartsAt resolves the slot to an instant in the provider's timezone.
func (s *Slot) StartsAt(loc *time.Location) time.Time {
	t, err := window.At(s.Date, s.Time, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

var transitions = map[Status][]Status{
	StatusUnavailable: {StatusAvailable, StatusBlocked},
	StatusAvailable:   {StatusBlocked, StatusReserved},
	StatusBlocked:     {StatusAvailable},
	StatusReserved:    {StatusInProgress, StatusAvailable},
	StatusInProgress:  {StatusCompleted, StatusAvailable},
	StatusCompleted:   {},
}

// CanTransitionTo checks the full transition table, system transitions included.
func (s *Slot) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Rules carries the provider-toggle guard parameters.
type Rules struct {
	HorizonDays int
	Location    *time.Location
}

// CheckToggle validates a provider-initiated on/off toggle. A toggle into the
// slot's current state is accepted as a no-op.
func (r Rules) CheckToggle(s *Slot, next Status, now time.Time) error {
	if next != StatusAvailable && next != StatusBlocked {
		return ErrInvalidTransition
	}
	if s.Status.IsSessionBound() {
		return ErrSlotSessionBound
	}
	now = now.In(r.Location)
	if !window.IsWithinBookingHorizon(s.Date, now, r.HorizonDays) {
		return ErrOutsideBookingHorizon
	}
	if !s.StartsAt(r.Location).After(now) {
		return ErrSlotInPast
	}
	if s.Status == next {
		return nil
	}
	if !s.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	return nil
}

// Reserve is the booking transition; it never goes through CheckToggle.
func (s *Slot) Reserve() error {
	if s.Status != StatusAvailable {
		return ErrSlotNotAvailable
	}
	s.Status = StatusReserved
	return nil
}

// Advance moves the slot along with its session (start, complete, release).
// Completing a reserved slot walks through in_progress, since a session may be
// closed without its start ever being recorded.
func (s *Slot) Advance(next Status) error {
	if s.Status == StatusReserved && next == StatusCompleted {
		s.Status = StatusInProgress
	}
	if !s.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	s.Status = next
	return nil
}

// View is a slot as presented to a calendar: stored state plus read-time
// decoration. Expired slots are read-only regardless of stored status.
type View struct {
	*Slot
	Interactive bool `json:"interactive"`
	Expired     bool `json:"expired"`
}

func Decorate(slots []*Slot, now time.Time, loc *time.Location) []View {
	views := make([]View, 0, len(slots))
	for _, s := range slots {
		expired := !s.StartsAt(loc).After(now)
		views = append(views, View{
			Slot:        s,
			Expired:     expired,
			Interactive: !expired && !s.Status.IsSessionBound(),
		})
	}
	return views
}
