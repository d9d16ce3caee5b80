package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/window"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/realtime"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const maxBulkSlots = 200

type CalendarOptions struct {
	Grid           slot.Grid
	HorizonDays    int
	SessionMinutes int
	Location       *time.Location
}

// CalendarService is the availability calendar: listing, provider toggles
// (with weekly recurrence) and booking.
type CalendarService struct {
	slots          slot.Repository
	sessions       session.Repository
	rules          slot.Rules
	grid           slot.Grid
	sessionMinutes int
	loc            *time.Location
	clock          window.Clock
	events         realtime.Publisher
	auditSvc       *AuditService
	metrics        *metrics.Collector
	log            *zap.Logger
}

func NewCalendarService(
	slots slot.Repository,
	sessions session.Repository,
	opts CalendarOptions,
	clock window.Clock,
	events realtime.Publisher,
	auditSvc *AuditService,
	m *metrics.Collector,
	log *zap.Logger,
) *CalendarService {
	if opts.SessionMinutes <= 0 {
		opts.SessionMinutes = session.DefaultDurationMinutes
	}
	return &CalendarService{
		slots:          slots,
		sessions:       sessions,
		rules:          slot.Rules{HorizonDays: opts.HorizonDays, Location: opts.Location},
		grid:           opts.Grid,
		sessionMinutes: opts.SessionMinutes,
		loc:            opts.Location,
		clock:          clock,
		events:         events,
		auditSvc:       auditSvc,
		metrics:        m,
		log:            log,
	}
}

type SlotOutcome string

const (
	OutcomeApplied  SlotOutcome = "applied"
	OutcomeSkipped  SlotOutcome = "skipped"
	OutcomeRejected SlotOutcome = "rejected"
)

type SlotResult struct {
	SlotID  uuid.UUID   `json:"slot_id"`
	Date    string      `json:"date,omitempty"`
	Time    string      `json:"time,omitempty"`
	Outcome SlotOutcome `json:"outcome"`
	Reason  string      `json:"reason,omitempty"`
	Message string      `json:"message,omitempty"`
	// Recurring marks entries produced by recurrence expansion.
	Recurring bool `json:"recurring,omitempty"`
	// DuplicateOf is the index of the result that already handled this slot
	// earlier in the same request.
	DuplicateOf *int `json:"duplicate_of,omitempty"`
}

type BulkUpdateResult struct {
	Results  []SlotResult `json:"results"`
	Applied  int          `json:"applied"`
	Skipped  int          `json:"skipped"`
	Rejected int          `json:"rejected"`
}

func (r *BulkUpdateResult) add(res SlotResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomeApplied:
		r.Applied++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeRejected:
		r.Rejected++
	}
}

type BulkUpdateCommand struct {
	ProviderID uuid.UUID
	SlotIDs    []uuid.UUID
	Status     slot.Status
	// Recurrence repeats the toggle on the same weekday and time for every
	// later week of the slot's month.
	Recurrence bool
}

func (c *BulkUpdateCommand) Validate() error {
	verr := &domain.ValidationError{}
	if c.ProviderID == uuid.Nil {
		verr.Add("provider_id", "is required")
	}
	if len(c.SlotIDs) == 0 {
		verr.Add("slot_ids", "must not be empty")
	} else if len(c.SlotIDs) > maxBulkSlots {
		verr.Add("slot_ids", fmt.Sprintf("must not exceed %d entries", maxBulkSlots))
	}
	if !c.Status.IsValid() {
		verr.Add("status", "is not a known slot status")
	}
	return verr.OrNil()
}

// ListSlots returns the provider's day ordered by time. Days inside the
// booking horizon are materialized from the default grid on first read; days
// outside it are padded with unsaved placeholders and are never interactive.
func (s *CalendarService) ListSlots(ctx context.Context, caller Caller, providerID uuid.UUID, date time.Time) ([]slot.View, error) {
	ctx, span := tracer.Start(ctx, "CalendarService.ListSlots")
	defer span.End()

	if !caller.CanActFor(providerID) {
		return nil, ErrForbidden
	}

	now := s.clock.Now().In(s.loc)
	day := civilDay(date, s.loc)
	editable := window.IsWithinBookingHorizon(day, now, s.rules.HorizonDays)

	slots, err := s.slots.ListByProviderDate(ctx, providerID, day)
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}

	grid, err := s.grid.Day(providerID, day)
	if err != nil {
		return nil, err
	}
	if missing := missingFromGrid(slots, grid); len(missing) > 0 {
		if editable {
			if _, err := s.slots.CreateBatch(ctx, missing); err != nil {
				return nil, fmt.Errorf("initializing calendar day: %w", err)
			}
			if s.metrics != nil {
				s.metrics.SlotsMaterialized.Add(float64(len(missing)))
			}
			if slots, err = s.slots.ListByProviderDate(ctx, providerID, day); err != nil {
				return nil, fmt.Errorf("listing slots: %w", err)
			}
		} else {
			slots = append(slots, missing...)
			sort.SliceStable(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
		}
	}

	views := slot.Decorate(slots, now, s.loc)
	if !editable {
		for i := range views {
			views[i].Interactive = false
		}
	}
	return views, nil
}

func missingFromGrid(existing, grid []*slot.Slot) []*slot.Slot {
	have := make(map[string]bool, len(existing))
	for _, sl := range existing {
		have[sl.Time] = true
	}
	var missing []*slot.Slot
	for _, sl := range grid {
		if !have[sl.Time] {
			missing = append(missing, sl)
		}
	}
	return missing
}

// ApplyBulkUpdate toggles each slot independently and reports a result per
// slot, so callers can show partial success. Only infrastructure failures
// abort the batch.
func (s *CalendarService) ApplyBulkUpdate(ctx context.Context, caller Caller, cmd *BulkUpdateCommand) (*BulkUpdateResult, error) {
	ctx, span := tracer.Start(ctx, "CalendarService.ApplyBulkUpdate")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider_id", cmd.ProviderID.String()),
		attribute.Int("slots", len(cmd.SlotIDs)),
		attribute.Bool("recurrence", cmd.Recurrence),
	)

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if !caller.CanActFor(cmd.ProviderID) {
		return nil, ErrForbidden
	}

	now := s.clock.Now().In(s.loc)
	res := &BulkUpdateResult{Results: make([]SlotResult, 0, len(cmd.SlotIDs))}
	// handled maps a slot to the index of its result.
	handled := make(map[uuid.UUID]int, len(cmd.SlotIDs))
	touched := make(map[string]bool)

	record := func(r SlotResult) {
		if _, ok := handled[r.SlotID]; !ok {
			handled[r.SlotID] = len(res.Results)
		}
		res.add(r)
		if r.Outcome == OutcomeApplied {
			touched[r.Date] = true
		}
	}

	for _, id := range cmd.SlotIDs {
		if idx, ok := handled[id]; ok {
			record(duplicate(res.Results[idx], idx))
			continue
		}

		target, err := s.slots.GetByID(ctx, id)
		if err == nil && target.ProviderID != cmd.ProviderID {
			err = slot.ErrSlotNotFound
		}
		if err != nil {
			if domain.KindOf(err) == "" {
				return nil, fmt.Errorf("loading slot %s: %w", id, err)
			}
			record(rejected(SlotResult{SlotID: id}, err))
			continue
		}

		r, err := s.toggle(ctx, target, cmd.Status, now, false)
		if err != nil {
			return nil, err
		}
		record(r)

		if !cmd.Recurrence {
			continue
		}
		for _, date := range recurrenceDates(target.Date) {
			sibling, err := s.slotAt(ctx, cmd.ProviderID, date, target.Time)
			if err != nil {
				return nil, err
			}
			if _, ok := handled[sibling.ID]; ok {
				continue
			}

			r, err := s.toggle(ctx, sibling, cmd.Status, now, true)
			if err != nil {
				return nil, err
			}
			record(r)
		}
	}

	dates := make([]string, 0, len(touched))
	for d := range touched {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		notify(ctx, s.events, s.log, realtime.Event{
			Type:         realtime.TypeSlotsChanged,
			Topic:        realtime.ProviderTopic(cmd.ProviderID),
			ResourceType: "slot",
			Date:         d,
		})
	}

	s.log.Info("bulk slot update applied",
		zap.String("provider_id", cmd.ProviderID.String()),
		zap.String("status", string(cmd.Status)),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Int("rejected", res.Rejected),
	)

	s.auditSvc.LogAsync(ctx, caller.auditEntry(domain.ActionUpdate, "slot", cmd.ProviderID.String(), map[string]any{
		"status":     cmd.Status,
		"recurrence": cmd.Recurrence,
		"applied":    res.Applied,
		"skipped":    res.Skipped,
		"rejected":   res.Rejected,
	}))

	return res, nil
}

// toggle applies one provider toggle. The guard runs again on the locked row,
// so a booking that lands after the slot was read is skipped, not overwritten.
// Recurring entries that fail a guard are skipped rather than rejected; so are
// session-bound slots.
func (s *CalendarService) toggle(ctx context.Context, sl *slot.Slot, next slot.Status, now time.Time, recurring bool) (SlotResult, error) {
	r := SlotResult{SlotID: sl.ID, Date: dayLabel(sl.Date), Time: sl.Time, Recurring: recurring}

	err := s.slots.Toggle(ctx, sl.ID, next, func(cur *slot.Slot) error {
		return s.rules.CheckToggle(cur, next, now)
	})
	switch {
	case err == nil:
		r.Outcome = OutcomeApplied
	case domain.KindOf(err) == "":
		return r, fmt.Errorf("updating slot %s: %w", sl.ID, err)
	case recurring || errors.Is(err, slot.ErrSlotSessionBound):
		r = skipped(r, err)
	default:
		r = rejected(r, err)
	}
	s.countTransition(next, r.Outcome)
	return r, nil
}

func (s *CalendarService) countTransition(status slot.Status, outcome SlotOutcome) {
	if s.metrics != nil {
		s.metrics.SlotTransitionsTotal.WithLabelValues(string(status), string(outcome)).Inc()
	}
}

// slotAt finds the provider's slot at date/hhmm, materializing it as
// Unavailable when the day was never initialized.
func (s *CalendarService) slotAt(ctx context.Context, providerID uuid.UUID, date time.Time, hhmm string) (*slot.Slot, error) {
	found, err := s.slots.FindByProviderDateTime(ctx, providerID, date, hhmm)
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, slot.ErrSlotNotFound) {
		return nil, fmt.Errorf("finding slot %s %s: %w", dayLabel(date), hhmm, err)
	}

	created, err := s.slots.CreateBatch(ctx, []*slot.Slot{{
		ProviderID: providerID,
		Date:       date,
		Time:       hhmm,
		Status:     slot.StatusUnavailable,
	}})
	if err != nil {
		return nil, fmt.Errorf("materializing slot %s %s: %w", dayLabel(date), hhmm, err)
	}
	if s.metrics != nil {
		s.metrics.SlotsMaterialized.Inc()
	}
	return created[0], nil
}

// recurrenceDates lists the same weekday in every later week of date's month.
func recurrenceDates(date time.Time) []time.Time {
	var out []time.Time
	for d := date.AddDate(0, 0, 7); d.Month() == date.Month(); d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}

// BookSlot reserves an Available slot and creates its session in one unit
// of work.
func (s *CalendarService) BookSlot(ctx context.Context, caller Caller, cmd *session.BookCommand) (*session.Session, error) {
	ctx, span := tracer.Start(ctx, "CalendarService.BookSlot")
	defer span.End()

	verr := &domain.ValidationError{}
	if cmd.SlotID == uuid.Nil {
		verr.Add("slot_id", "is required")
	}
	if cmd.CounterpartID == uuid.Nil {
		verr.Add("counterpart_id", "is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	sl, err := s.slots.GetByID(ctx, cmd.SlotID)
	if err != nil {
		return nil, passOrWrap(err, "loading slot")
	}
	if cmd.ProviderID != uuid.Nil && cmd.ProviderID != sl.ProviderID {
		return nil, slot.ErrSlotNotFound
	}
	if !caller.CanActFor(sl.ProviderID) {
		return nil, ErrForbidden
	}

	now := s.clock.Now().In(s.loc)
	switch {
	case !window.IsWithinBookingHorizon(sl.Date, now, s.rules.HorizonDays):
		return nil, slot.ErrOutsideBookingHorizon
	case !sl.StartsAt(s.loc).After(now):
		return nil, slot.ErrSlotInPast
	case sl.Status != slot.StatusAvailable:
		return nil, slot.ErrSlotNotAvailable
	}

	sess := &session.Session{
		ProviderID:      sl.ProviderID,
		CounterpartID:   cmd.CounterpartID,
		ScheduledDate:   sl.Date,
		ScheduledTime:   sl.Time,
		DurationMinutes: s.sessionMinutes,
		Status:          session.StatusReserved,
	}
	if err := s.sessions.Book(ctx, sess, sl.ID); err != nil {
		s.countBooking("conflict")
		if domain.KindOf(err) == "" {
			s.log.Error("failed to book slot", zap.String("slot_id", sl.ID.String()), zap.Error(err))
		}
		return nil, passOrWrap(err, "booking slot")
	}
	s.countBooking("booked")

	topic := realtime.ProviderTopic(sl.ProviderID)
	notify(ctx, s.events, s.log, realtime.Event{Type: realtime.TypeSlotsChanged, Topic: topic, ResourceType: "slot", ResourceID: sl.ID.String(), Date: dayLabel(sl.Date)})
	notify(ctx, s.events, s.log, realtime.Event{Type: realtime.TypeSessionChanged, Topic: topic, ResourceType: "session", ResourceID: sess.ID.String()})

	s.auditSvc.LogAsync(ctx, caller.auditEntry(domain.ActionCreate, "session", sess.ID.String(), map[string]any{
		"slot_id":        sl.ID,
		"counterpart_id": cmd.CounterpartID,
		"status":         sess.Status,
	}))

	return sess, nil
}

func (s *CalendarService) countBooking(outcome string) {
	if s.metrics != nil {
		s.metrics.BookingsTotal.WithLabelValues(outcome).Inc()
	}
}

func rejected(r SlotResult, err error) SlotResult {
	r.Outcome = OutcomeRejected
	r.Reason = domain.CodeOf(err)
	r.Message = err.Error()
	return r
}

// duplicate reports a slot listed again after it was already handled at idx.
func duplicate(earlier SlotResult, idx int) SlotResult {
	return SlotResult{
		SlotID:      earlier.SlotID,
		Date:        earlier.Date,
		Time:        earlier.Time,
		Outcome:     OutcomeSkipped,
		Reason:      "duplicate_slot",
		Message:     "slot already handled earlier in this request",
		DuplicateOf: &idx,
	}
}

func skipped(r SlotResult, err error) SlotResult {
	r.Outcome = OutcomeSkipped
	r.Reason = domain.CodeOf(err)
	r.Message = err.Error()
	return r
}

// civilDay keeps t's calendar day, whatever zone it was parsed in, and
// anchors it at midnight in loc.
func civilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func dayLabel(t time.Time) string {
	return t.Format("2006-01-02")
}
