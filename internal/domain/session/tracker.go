package session

import (
	"sort"
	"time"
)

// Tracker derives what a session "is" right now from its stored status and the
// clock. It never writes: the store catches up through its own events, and the
// tracker keeps reads consistent with wall-clock time in the meantime.
type Tracker struct {
	Location *time.Location
}

func NewTracker(loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{Location: loc}
}

// EffectiveStatus reconciles stored status with elapsed time. A booked session
// whose start has arrived reads as InProgress; anything past its end never
// reads as InProgress.
func (t *Tracker) EffectiveStatus(s *Session, now time.Time) Status {
	start, end := s.StartsAt(t.Location), s.EndsAt(t.Location)

	switch {
	case s.Status == StatusInProgress:
		if !now.Before(end) {
			return StatusCompleted
		}
	case s.Status.IsBooked():
		if !now.Before(end) {
			return StatusCompleted
		}
		if !now.Before(start) {
			return StatusInProgress
		}
	}
	return s.Status
}

// IsActiveNow is true while the session effectively runs.
func (t *Tracker) IsActiveNow(s *Session, now time.Time) bool {
	return t.EffectiveStatus(s, now) == StatusInProgress
}

// IsUpcoming is true for live sessions that have not started yet.
func (t *Tracker) IsUpcoming(s *Session, now time.Time) bool {
	return s.StartsAt(t.Location).After(now) && !t.EffectiveStatus(s, now).IsTerminal()
}

// SelectActiveSession returns at most one session that is effectively in
// progress. Overlaps should not happen; if the store reports them, the
// earliest start wins, then the lowest id.
func (t *Tracker) SelectActiveSession(sessions []*Session, now time.Time) *Session {
	var active []*Session
	for _, s := range sessions {
		if t.EffectiveStatus(s, now) == StatusInProgress {
			active = append(active, s)
		}
	}
	return t.earliest(active)
}

// SelectNextUpcoming returns the earliest live session that has not yet ended.
func (t *Tracker) SelectNextUpcoming(sessions []*Session, now time.Time) *Session {
	var live []*Session
	for _, s := range sessions {
		if t.EffectiveStatus(s, now).IsTerminal() {
			continue
		}
		if s.EndsAt(t.Location).After(now) {
			live = append(live, s)
		}
	}
	return t.earliest(live)
}

// ValidUntil is the next instant at which EffectiveStatus of s can change on
// its own. Callers must not reuse a derived status past it.
func (t *Tracker) ValidUntil(s *Session, now time.Time) time.Time {
	start, end := s.StartsAt(t.Location), s.EndsAt(t.Location)
	switch {
	case s.Status.IsTerminal():
		return time.Time{}
	case now.Before(start) && s.Status.IsBooked():
		return start
	case now.Before(end):
		return end
	}
	return time.Time{}
}

func (t *Tracker) earliest(candidates []*Session) *Session {
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := candidates[i].StartsAt(t.Location), candidates[j].StartsAt(t.Location)
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		return candidates[i].ID.String() < candidates[j].ID.String()
	})
	return candidates[0]
}
