// Package memory implements every store contract in process. It backs local
// development (STORE_DRIVER=memory) and the service and handler tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/payout"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/google/uuid"
)

// Store holds all aggregates behind one lock so multi-aggregate writes
// (booking, cancellation) are atomic, as they are in Postgres.
type Store struct {
	mu            sync.RWMutex
	slots         map[uuid.UUID]*slot.Slot
	sessions      map[uuid.UUID]*session.Session
	cancellations map[uuid.UUID]*session.CancellationRecord
	payouts       map[uuid.UUID]*payout.Request
	audit         []*domain.AuditLog

	fail error
}

func NewStore() *Store {
	return &Store{
		slots:         make(map[uuid.UUID]*slot.Slot),
		sessions:      make(map[uuid.UUID]*session.Session),
		cancellations: make(map[uuid.UUID]*session.CancellationRecord),
		payouts:       make(map[uuid.UUID]*payout.Request),
	}
}

// SetFail makes every subsequent call return err, simulating an outage.
// Passing nil restores normal operation.
func (s *Store) SetFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *Store) Slots() *SlotRepository                 { return &SlotRepository{s} }
func (s *Store) Sessions() *SessionRepository           { return &SessionRepository{s} }
func (s *Store) Cancellations() *CancellationRepository { return &CancellationRepository{s} }
func (s *Store) Payouts() *PayoutRepository             { return &PayoutRepository{s} }
func (s *Store) Audit() *AuditRepository                { return &AuditRepository{s} }

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ---- slots ----

type SlotRepository struct{ s *Store }

func cloneSlot(sl *slot.Slot) *slot.Slot {
	c := *sl
	return &c
}

func (r *SlotRepository) ListByProviderDate(_ context.Context, providerID uuid.UUID, date time.Time) ([]*slot.Slot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.fail != nil {
		return nil, r.s.fail
	}

	key := dayKey(date)
	var out []*slot.Slot
	for _, sl := range r.s.slots {
		if sl.ProviderID == providerID && dayKey(sl.Date) == key {
			out = append(out, cloneSlot(sl))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (r *SlotRepository) GetByID(_ context.Context, id uuid.UUID) (*slot.Slot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.fail != nil {
		return nil, r.s.fail
	}
	sl, ok := r.s.slots[id]
	if !ok {
		return nil, slot.ErrSlotNotFound
	}
	return cloneSlot(sl), nil
}

func (r *SlotRepository) FindByProviderDateTime(_ context.Context, providerID uuid.UUID, date time.Time, hhmm string) (*slot.Slot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.fail != nil {
		return nil, r.s.fail
	}
	if found := r.s.findSlot(providerID, date, hhmm); found != nil {
		return cloneSlot(found), nil
	}
	return nil, slot.ErrSlotNotFound
}

func (s *Store) findSlot(providerID uuid.UUID, date time.Time, hhmm string) *slot.Slot {
	key := dayKey(date)
	for _, sl := range s.slots {
		if sl.ProviderID == providerID && sl.Time == hhmm && dayKey(sl.Date) == key {
			return sl
		}
	}
	return nil
}

func (r *SlotRepository) CreateBatch(_ context.Context, slots []*slot.Slot) ([]*slot.Slot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fail != nil {
		return nil, r.s.fail
	}

	out := make([]*slot.Slot, 0, len(slots))
	for _, sl := range slots {
		if existing := r.s.findSlot(sl.ProviderID, sl.Date, sl.Time); existing != nil {
			out = append(out, cloneSlot(existing))
			continue
		}
		c := cloneSlot(sl)
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.Status == "" {
			c.Status = slot.StatusUnavailable
		}
		now := time.Now()
		c.CreatedAt, c.UpdatedAt = now, now
		r.s.slots[c.ID] = c
		out = append(out, cloneSlot(c))
	}
	return out, nil
}

func (r *SlotRepository) Toggle(_ context.Context, id uuid.UUID, next slot.Status, guard func(*slot.Slot) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fail != nil {
		return r.s.fail
	}
	sl, ok := r.s.slots[id]
	if !ok {
		return slot.ErrSlotNotFound
	}
	if err := guard(cloneSlot(sl)); err != nil {
		return err
	}
	if sl.Status != next {
		sl.Status = next
		sl.UpdatedAt = time.Now()
	}
	return nil
}

// ---- sessions ----

type SessionRepository struct{ s *Store }

func cloneSession(se *session.Session) *session.Session {
	c := *se
	if se.SlotID != nil {
		id := *se.SlotID
		c.SlotID = &id
	}
	return &c
}

func (r *SessionRepository) ListByProvider(_ context.Context, providerID uuid.UUID, rng session.DateRange) ([]*session.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.fail != nil {
		return nil, r.s.fail
	}

	from, to := dayKey(rng.From), dayKey(rng.To)
	var out []*session.Session
	for _, se := range r.s.sessions {
		if se.ProviderID != providerID {
			continue
		}
		k := dayKey(se.ScheduledDate)
		if k < from || k > to {
			continue
		}
		out = append(out, cloneSession(se))
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := dayKey(out[i].ScheduledDate)+out[i].ScheduledTime, dayKey(out[j].ScheduledDate)+out[j].ScheduledTime
		if ki != kj {
			return ki < kj
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *SessionRepository) GetByID(_ context.Context, id uuid.UUID) (*session.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.fail != nil {
		return nil, r.s.fail
	}
	se, ok := r.s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return cloneSession(se), nil
}

// Put stores a session as-is. Used to seed sessions that were booked elsewhere.
func (r *SessionRepository) Put(se *session.Session) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if se.ID == uuid.Nil {
		se.ID = uuid.New()
	}
	r.s.sessions[se.ID] = cloneSession(se)
}

func (r *SessionRepository) Book(_ context.Context, se *session.Session, slotID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fail != nil {
		return r.s.fail
	}

	sl, ok := r.s.slots[slotID]
	if !ok {
		return slot.ErrSlotNotFound
	}
	if err := sl.Reserve(); err != nil {
		return err
	}
	sl.UpdatedAt = time.Now()

	if se.ID == uuid.Nil {
		se.ID = uuid.New()
	}
	id := slotID
	se.SlotID = &id
	se.CreatedAt, se.UpdatedAt = time.Now(), time.Now()
	r.s.sessions[se.ID] = cloneSession(se)
	return nil
}

func (r *SessionRepository) Transition(_ context.Context, id uuid.UUID, status session.Status, slotStatus slot.Status) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fail != nil {
		return r.s.fail
	}
	stored, ok := r.s.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}

	se := cloneSession(stored)
	if err := se.Advance(status); err != nil {
		return err
	}
	var sl *slot.Slot
	if slotStatus != "" && se.SlotID != nil {
		cur, ok := r.s.slots[*se.SlotID]
		if !ok {
			return slot.ErrSlotNotFound
		}
		sl = cloneSlot(cur)
		if err := sl.Advance(slotStatus); err != nil {
			return err
		}
	}

	now := time.Now()
	se.UpdatedAt = now
	r.s.sessions[id] = se
	if sl != nil {
		sl.UpdatedAt = now
		r.s.slots[sl.ID] = sl
	}
	return nil
}

// ---- cancellations ----

type CancellationRepository struct{ s *Store }

func (r *CancellationRepository) Cancel(_ context.Context, rec *session.CancellationRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fail != nil {
		return r.s.fail
	}

	se, ok := r.s.sessions[rec.SessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	if se.Status.IsTerminal() {
		return session.ErrSessionNotCancellable
	}
	se.Status = session.StatusCancelled
	se.UpdatedAt = time.Now()
	if se.SlotID != nil {
		if sl, ok := r.s.slots[*se.SlotID]; ok && sl.Status.IsSessionBound() && sl.Status != slot.StatusCompleted {
			sl.Status = slot.StatusAvailable
			sl.UpdatedAt = time.Now()
		}
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now()
	c := *rec
	r.s.cancellations[rec.SessionID] = &c
	return nil
}

func (r *CancellationRepository) GetBySession(_ context.Context, sessionID uuid.UUID) (*session.CancellationRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.fail != nil {
		return nil, r.s.fail
	}
	rec, ok := r.s.cancellations[sessionID]
	if !ok {
		return nil, session.ErrCancellationNotFound
	}
	c := *rec
	return &c, nil
}

// ---- payouts ----

type PayoutRepository struct{ s *Store }

func (r *PayoutRepository) lastLocked(providerID uuid.UUID) *payout.Request {
	var last *payout.Request
	for _, p := range r.s.payouts {
		if p.ProviderID != providerID {
			continue
		}
		if last == nil || p.CreatedAt.After(last.CreatedAt) {
			last = p
		}
	}
	if last == nil {
		return nil
	}
	c := *last
	return &c
}

func (r *PayoutRepository) GetLast(_ context.Context, providerID uuid.UUID) (*payout.Request, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.fail != nil {
		return nil, r.s.fail
	}
	return r.lastLocked(providerID), nil
}

func (r *PayoutRepository) CreateChecked(_ context.Context, req *payout.Request, check func(last *payout.Request) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fail != nil {
		return r.s.fail
	}
	if err := check(r.lastLocked(req.ProviderID)); err != nil {
		return err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.UpdatedAt = time.Now()
	c := *req
	r.s.payouts[req.ID] = &c
	return nil
}

// Put seeds a historical request.
func (r *PayoutRepository) Put(req *payout.Request) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	c := *req
	r.s.payouts[req.ID] = &c
}

func (r *PayoutRepository) ListByProvider(_ context.Context, providerID uuid.UUID, limit int) ([]*payout.Request, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if r.s.fail != nil {
		return nil, r.s.fail
	}
	var out []*payout.Request
	for _, p := range r.s.payouts {
		if p.ProviderID == providerID {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- audit ----

type AuditRepository struct{ s *Store }

func (r *AuditRepository) Append(_ context.Context, entries []*domain.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fail != nil {
		return r.s.fail
	}
	for _, e := range entries {
		c := *e
		r.s.audit = append(r.s.audit, &c)
	}
	return nil
}

// Entries returns a snapshot of the audit trail.
func (r *AuditRepository) Entries() []*domain.AuditLog {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*domain.AuditLog, len(r.s.audit))
	copy(out, r.s.audit)
	return out
}
