package service

import (
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/payout"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/realtime"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/repository/memory"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/testfixtures"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/metrics"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var brt = time.FixedZone("BRT", -3*60*60)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, brt)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, brt)
}

type testEnv struct {
	store    *memory.Store
	clock    *testfixtures.Clock
	bus      *realtime.Bus
	calendar *CalendarService
	sessions *SessionService
	payouts  *PayoutService
	provider uuid.UUID
	caller   Caller
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()

	store := memory.NewStore()
	clock := testfixtures.NewClock(now)
	m := metrics.NewCollector("test", prometheus.NewRegistry())
	log := zap.NewNop()
	bus := realtime.NewBus(64, m, log)
	auditSvc := NewAuditService(store.Audit(), m, log)
	t.Cleanup(auditSvc.Shutdown)

	provider := uuid.New()
	env := &testEnv{
		store:    store,
		clock:    clock,
		bus:      bus,
		provider: provider,
		caller:   Caller{UserID: uuid.New(), Role: domain.RoleProvider, ProviderID: &provider},
	}

	env.calendar = NewCalendarService(store.Slots(), store.Sessions(), CalendarOptions{
		Grid:           slot.Grid{Start: "07:00", End: "22:00", Step: time.Hour},
		HorizonDays:    60,
		SessionMinutes: session.DefaultDurationMinutes,
		Location:       brt,
	}, clock, bus, auditSvc, m, log)

	env.sessions = NewSessionService(store.Sessions(), store.Cancellations(), SessionOptions{
		Policy:       session.DefaultCancellationPolicy(brt),
		HorizonDays:  60,
		PollInterval: 15 * time.Second,
		Location:     brt,
	}, clock, bus, auditSvc, m, log)

	env.payouts = NewPayoutService(store.Payouts(), payout.DefaultGate(brt), clock, bus, auditSvc, m, log)
	return env
}

// openSlot materializes the day and opens the slot at hhmm.
func (e *testEnv) openSlot(t *testing.T, date time.Time, hhmm string) *slot.Slot {
	t.Helper()
	views, err := e.calendar.ListSlots(t.Context(), e.caller, e.provider, date)
	if err != nil {
		t.Fatalf("listing slots: %v", err)
	}
	for _, v := range views {
		if v.Time != hhmm {
			continue
		}
		res, err := e.calendar.ApplyBulkUpdate(t.Context(), e.caller, &BulkUpdateCommand{
			ProviderID: e.provider,
			SlotIDs:    []uuid.UUID{v.ID},
			Status:     slot.StatusAvailable,
		})
		if err != nil || res.Applied != 1 {
			t.Fatalf("opening slot %s: %+v %v", hhmm, res, err)
		}
		sl, _ := e.store.Slots().GetByID(t.Context(), v.ID)
		return sl
	}
	t.Fatalf("no slot at %s", hhmm)
	return nil
}

// book opens a slot and books it.
func (e *testEnv) book(t *testing.T, date time.Time, hhmm string) *session.Session {
	t.Helper()
	sl := e.openSlot(t, date, hhmm)
	sess, err := e.calendar.BookSlot(t.Context(), e.caller, &session.BookCommand{SlotID: sl.ID, CounterpartID: uuid.New()})
	if err != nil {
		t.Fatalf("booking: %v", err)
	}
	return sess
}

// calendarOver builds a calendar service that reads and writes slots through
// repo instead of the shared store.
func (e *testEnv) calendarOver(t *testing.T, repo slot.Repository) *CalendarService {
	t.Helper()
	m := metrics.NewCollector("test", prometheus.NewRegistry())
	auditSvc := NewAuditService(e.store.Audit(), m, zap.NewNop())
	t.Cleanup(auditSvc.Shutdown)
	return NewCalendarService(repo, e.store.Sessions(), CalendarOptions{
		Grid:           slot.Grid{Start: "07:00", End: "22:00", Step: time.Hour},
		HorizonDays:    60,
		SessionMinutes: session.DefaultDurationMinutes,
		Location:       brt,
	}, e.clock, e.bus, auditSvc, m, zap.NewNop())
}

// sessionsOver is calendarOver for the session service.
func (e *testEnv) sessionsOver(t *testing.T, repo session.Repository) *SessionService {
	t.Helper()
	m := metrics.NewCollector("test", prometheus.NewRegistry())
	auditSvc := NewAuditService(e.store.Audit(), m, zap.NewNop())
	t.Cleanup(auditSvc.Shutdown)
	return NewSessionService(repo, e.store.Cancellations(), SessionOptions{
		Policy:       session.DefaultCancellationPolicy(brt),
		HorizonDays:  60,
		PollInterval: 15 * time.Second,
		Location:     brt,
	}, e.clock, e.bus, auditSvc, m, zap.NewNop())
}
