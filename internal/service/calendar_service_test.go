package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/realtime"
	"github.com/google/uuid"
)

func TestListSlots_DefaultGrid(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))

	views, err := env.calendar.ListSlots(t.Context(), env.caller, env.provider, day(2025, time.March, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 15 {
		t.Fatalf("expected 15 slots, got %d", len(views))
	}
	if views[0].Time != "07:00" || views[14].Time != "21:00" {
		t.Fatalf("unexpected grid bounds %s..%s", views[0].Time, views[14].Time)
	}
	for _, v := range views {
		if v.Status != slot.StatusUnavailable {
			t.Fatalf("expected all unavailable, got %s at %s", v.Status, v.Time)
		}
		if v.ID == uuid.Nil {
			t.Fatal("expected slots inside the horizon to be materialized")
		}
	}

	again, _ := env.calendar.ListSlots(t.Context(), env.caller, env.provider, day(2025, time.March, 10))
	if again[3].ID != views[3].ID {
		t.Fatal("second read must return the same slots")
	}
}

func TestListSlots_PastTimesAreReadOnly(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 10, 12, 30))

	views, err := env.calendar.ListSlots(t.Context(), env.caller, env.provider, day(2025, time.March, 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range views {
		past := v.Time <= "12:00"
		if v.Expired != past || v.Interactive == past {
			t.Fatalf("slot %s: expired=%v interactive=%v", v.Time, v.Expired, v.Interactive)
		}
	}
}

func TestListSlots_OutsideHorizonNotPersisted(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))

	views, err := env.calendar.ListSlots(t.Context(), env.caller, env.provider, day(2025, time.June, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 15 {
		t.Fatalf("expected a full placeholder grid, got %d", len(views))
	}
	for _, v := range views {
		if v.Interactive {
			t.Fatal("days outside the horizon are read-only")
		}
	}
	stored, _ := env.store.Slots().ListByProviderDate(t.Context(), env.provider, day(2025, time.June, 1))
	if len(stored) != 0 {
		t.Fatalf("expected nothing persisted, got %d", len(stored))
	}
}

func TestListSlots_Forbidden(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))
	other := uuid.New()
	stranger := Caller{UserID: uuid.New(), Role: domain.RoleProvider, ProviderID: &other}

	if _, err := env.calendar.ListSlots(t.Context(), stranger, env.provider, day(2025, time.March, 10)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

// A Monday slot blocked with recurrence blocks every later Monday of March
// and leaves April alone.
func TestApplyBulkUpdate_RecurrenceWithinMonth(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))
	monday := env.openSlot(t, day(2025, time.March, 10), "14:00")

	sub := env.bus.Subscribe(realtime.ProviderTopic(env.provider))
	defer sub.Close()

	res, err := env.calendar.ApplyBulkUpdate(t.Context(), env.caller, &BulkUpdateCommand{
		ProviderID: env.provider,
		SlotIDs:    []uuid.UUID{monday.ID},
		Status:     slot.StatusBlocked,
		Recurrence: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Applied != 4 || res.Skipped != 0 || res.Rejected != 0 {
		t.Fatalf("expected 4 applied, got %+v", res)
	}

	for _, d := range []int{10, 17, 24, 31} {
		sl, err := env.store.Slots().FindByProviderDateTime(t.Context(), env.provider, day(2025, time.March, d), "14:00")
		if err != nil {
			t.Fatalf("March %d: %v", d, err)
		}
		if sl.Status != slot.StatusBlocked {
			t.Fatalf("March %d: expected blocked, got %s", d, sl.Status)
		}
	}
	if _, err := env.store.Slots().FindByProviderDateTime(t.Context(), env.provider, day(2025, time.April, 7), "14:00"); !errors.Is(err, slot.ErrSlotNotFound) {
		t.Fatalf("April must be untouched, got %v", err)
	}

	// One refetch signal per touched day.
	dates := map[string]bool{}
	for len(sub.Events()) > 0 {
		e := <-sub.Events()
		if e.Type == realtime.TypeSlotsChanged {
			dates[e.Date] = true
		}
	}
	if len(dates) != 4 {
		t.Fatalf("expected events for 4 days, got %v", dates)
	}
}

func TestApplyBulkUpdate_RecurrenceSkipsBookedWeeks(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))
	env.book(t, day(2025, time.March, 17), "14:00")
	monday := env.openSlot(t, day(2025, time.March, 10), "14:00")

	res, err := env.calendar.ApplyBulkUpdate(t.Context(), env.caller, &BulkUpdateCommand{
		ProviderID: env.provider,
		SlotIDs:    []uuid.UUID{monday.ID},
		Status:     slot.StatusBlocked,
		Recurrence: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Applied != 3 || res.Skipped != 1 {
		t.Fatalf("expected 3 applied and 1 skipped, got %+v", res)
	}
	for _, r := range res.Results {
		if r.Outcome == OutcomeSkipped && (r.Date != "2025-03-17" || r.Reason != "slot_session_bound") {
			t.Fatalf("unexpected skip %+v", r)
		}
	}
}

func TestApplyBulkUpdate_PartialSuccessRoundTrip(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 10, 12, 30))
	booked := env.book(t, day(2025, time.March, 10), "16:00")

	views, _ := env.calendar.ListSlots(t.Context(), env.caller, env.provider, day(2025, time.March, 10))
	byTime := map[string]slot.View{}
	for _, v := range views {
		byTime[v.Time] = v
	}

	res, err := env.calendar.ApplyBulkUpdate(t.Context(), env.caller, &BulkUpdateCommand{
		ProviderID: env.provider,
		SlotIDs: []uuid.UUID{
			byTime["09:00"].ID, // past
			byTime["16:00"].ID, // booked
			byTime["18:00"].ID,
			uuid.New(), // unknown
		},
		Status: slot.StatusAvailable,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []struct {
		outcome SlotOutcome
		reason  string
	}{
		{OutcomeRejected, "slot_in_past"},
		{OutcomeSkipped, "slot_session_bound"},
		{OutcomeApplied, ""},
		{OutcomeRejected, "slot_not_found"},
	}
	if len(res.Results) != len(want) {
		t.Fatalf("expected %d results, got %+v", len(want), res.Results)
	}
	for i, w := range want {
		if res.Results[i].Outcome != w.outcome || res.Results[i].Reason != w.reason {
			t.Fatalf("result %d: expected %s/%s, got %+v", i, w.outcome, w.reason, res.Results[i])
		}
	}

	after, _ := env.calendar.ListSlots(t.Context(), env.caller, env.provider, day(2025, time.March, 10))
	for _, v := range after {
		switch v.Time {
		case "18:00":
			if v.Status != slot.StatusAvailable {
				t.Fatalf("accepted toggle not visible: %s", v.Status)
			}
		case "16:00":
			if v.Status != slot.StatusReserved {
				t.Fatalf("booked slot must be unchanged, got %s", v.Status)
			}
		case "09:00":
			if v.Status != slot.StatusUnavailable {
				t.Fatalf("rejected slot must be unchanged, got %s", v.Status)
			}
		}
	}

	sess, _ := env.store.Sessions().GetByID(t.Context(), booked.ID)
	if sess.Status != session.StatusReserved {
		t.Fatalf("session must be untouched, got %s", sess.Status)
	}
}

// bookAfterRead books a slot right after the service reads it, the way a
// client booking concurrently with a provider toggle would.
type bookAfterRead struct {
	slot.Repository
	book func(ctx context.Context, id uuid.UUID) error
}

func (r bookAfterRead) GetByID(ctx context.Context, id uuid.UUID) (*slot.Slot, error) {
	sl, err := r.Repository.GetByID(ctx, id)
	if err == nil {
		if berr := r.book(ctx, id); berr != nil {
			return nil, berr
		}
	}
	return sl, err
}

func TestApplyBulkUpdate_BookingBetweenReadAndWrite(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))
	sl := env.openSlot(t, day(2025, time.March, 10), "10:00")

	booked := &session.Session{
		ProviderID:    env.provider,
		CounterpartID: uuid.New(),
		ScheduledDate: day(2025, time.March, 10),
		ScheduledTime: "10:00",
		Status:        session.StatusReserved,
	}
	calendar := env.calendarOver(t, bookAfterRead{
		Repository: env.store.Slots(),
		book: func(ctx context.Context, id uuid.UUID) error {
			return env.store.Sessions().Book(ctx, booked, id)
		},
	})

	res, err := calendar.ApplyBulkUpdate(t.Context(), env.caller, &BulkUpdateCommand{
		ProviderID: env.provider,
		SlotIDs:    []uuid.UUID{sl.ID},
		Status:     slot.StatusBlocked,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 1 || res.Results[0].Reason != "slot_session_bound" {
		t.Fatalf("expected the booked slot to be skipped, got %+v", res)
	}

	stored, _ := env.store.Slots().GetByID(t.Context(), sl.ID)
	if stored.Status != slot.StatusReserved {
		t.Fatalf("booked slot must stay reserved, got %s", stored.Status)
	}
	sess, _ := env.store.Sessions().GetByID(t.Context(), booked.ID)
	if sess.Status != session.StatusReserved {
		t.Fatalf("session must be untouched, got %s", sess.Status)
	}
}

func TestApplyBulkUpdate_DuplicatesReferenceEarlierResult(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))
	monday := env.openSlot(t, day(2025, time.March, 10), "14:00")
	nextWeek := env.openSlot(t, day(2025, time.March, 17), "14:00")

	res, err := env.calendar.ApplyBulkUpdate(t.Context(), env.caller, &BulkUpdateCommand{
		ProviderID: env.provider,
		SlotIDs:    []uuid.UUID{monday.ID, nextWeek.ID, monday.ID},
		Status:     slot.StatusBlocked,
		Recurrence: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// monday, its three recurring weeks, then one row per repeated input.
	if len(res.Results) != 6 || res.Applied != 4 || res.Skipped != 2 {
		t.Fatalf("expected 6 results (4 applied, 2 skipped), got %+v", res)
	}
	for i, want := range map[int]int{4: 1, 5: 0} {
		r := res.Results[i]
		if r.Reason != "duplicate_slot" || r.DuplicateOf == nil || *r.DuplicateOf != want {
			t.Fatalf("result %d: expected duplicate of %d, got %+v", i, want, r)
		}
		if r.SlotID != res.Results[want].SlotID {
			t.Fatalf("result %d references the wrong slot", i)
		}
	}
}

func TestApplyBulkUpdate_ProviderCannotReserve(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))
	sl := env.openSlot(t, day(2025, time.March, 10), "10:00")

	res, err := env.calendar.ApplyBulkUpdate(t.Context(), env.caller, &BulkUpdateCommand{
		ProviderID: env.provider,
		SlotIDs:    []uuid.UUID{sl.ID},
		Status:     slot.StatusReserved,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Rejected != 1 || res.Results[0].Reason != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %+v", res.Results)
	}
}

func TestApplyBulkUpdate_Validation(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))

	_, err := env.calendar.ApplyBulkUpdate(t.Context(), env.caller, &BulkUpdateCommand{ProviderID: env.provider, Status: "open"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Fatalf("expected slot_ids and status problems, got %v", err)
	}
}

func TestApplyBulkUpdate_InfrastructureErrorSurfaces(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))
	sl := env.openSlot(t, day(2025, time.March, 10), "10:00")

	outage := errors.New("connection reset")
	env.store.SetFail(outage)

	_, err := env.calendar.ApplyBulkUpdate(t.Context(), env.caller, &BulkUpdateCommand{
		ProviderID: env.provider,
		SlotIDs:    []uuid.UUID{sl.ID},
		Status:     slot.StatusBlocked,
	})
	if !errors.Is(err, outage) {
		t.Fatalf("expected the store error to surface, got %v", err)
	}
	if domain.KindOf(err) != "" {
		t.Fatal("infrastructure errors must not be classified as business errors")
	}
}

func TestBookSlot(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))
	sl := env.openSlot(t, day(2025, time.March, 10), "09:00")

	sess, err := env.calendar.BookSlot(t.Context(), env.caller, &session.BookCommand{SlotID: sl.ID, CounterpartID: uuid.New()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Status != session.StatusReserved || sess.ScheduledTime != "09:00" || sess.DurationMinutes != 50 {
		t.Fatalf("unexpected session %+v", sess)
	}
	stored, _ := env.store.Slots().GetByID(t.Context(), sl.ID)
	if stored.Status != slot.StatusReserved {
		t.Fatalf("expected slot reserved, got %s", stored.Status)
	}

	_, err = env.calendar.BookSlot(t.Context(), env.caller, &session.BookCommand{SlotID: sl.ID, CounterpartID: uuid.New()})
	if !errors.Is(err, slot.ErrSlotNotAvailable) {
		t.Fatalf("expected ErrSlotNotAvailable, got %v", err)
	}
}

func TestBookSlot_Guards(t *testing.T) {
	env := newTestEnv(t, at(2025, time.March, 5, 10, 0))
	closed, _ := env.calendar.ListSlots(t.Context(), env.caller, env.provider, day(2025, time.March, 10))

	_, err := env.calendar.BookSlot(t.Context(), env.caller, &session.BookCommand{SlotID: closed[0].ID, CounterpartID: uuid.New()})
	if !errors.Is(err, slot.ErrSlotNotAvailable) {
		t.Fatalf("expected unavailable slot to be refused, got %v", err)
	}

	sl := env.openSlot(t, day(2025, time.March, 5), "11:00")
	env.clock.Set(at(2025, time.March, 5, 11, 0))
	_, err = env.calendar.BookSlot(t.Context(), env.caller, &session.BookCommand{SlotID: sl.ID, CounterpartID: uuid.New()})
	if !errors.Is(err, slot.ErrSlotInPast) {
		t.Fatalf("expected ErrSlotInPast, got %v", err)
	}
}
