package payout

import (
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/window"
)

// Gate decides whether a provider may open a payout request. Both rules must
// hold: the monthly window (WindowStartDay..WindowEndDay inclusive) and the
// cooldown, which keeps requests closed until CooldownReleaseDay of the month
// after the last request.
type Gate struct {
	WindowStartDay     int
	WindowEndDay       int
	CooldownReleaseDay int
	// IgnoreVoided lets rejected or cancelled requests stop counting toward
	// the cooldown. Off by default: the last request counts whatever its fate.
	IgnoreVoided bool
	Location     *time.Location
}

func DefaultGate(loc *time.Location) Gate {
	return Gate{WindowStartDay: 21, WindowEndDay: 23, CooldownReleaseDay: 20, Location: loc}
}

// Eligibility explains a gate decision to the caller.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
	// ReleaseDate is when the cooldown lifts; zero when no cooldown applies.
	ReleaseDate time.Time `json:"release_date,omitempty"`
	// NextWindowOpens is the first instant at which both rules can hold.
	NextWindowOpens time.Time `json:"next_window_opens"`
}

// Check returns nil when a request is allowed, otherwise ErrOutsideMonthlyWindow
// or ErrCooldownActive. The window is checked first.
func (g Gate) Check(last *Request, now time.Time) error {
	now = now.In(g.Location)
	if !window.IsWithinDailyWindow(g.WindowStartDay, g.WindowEndDay, now) {
		return ErrOutsideMonthlyWindow
	}
	if release, ok := g.ReleaseDate(last); ok && now.Before(release) {
		return ErrCooldownActive
	}
	return nil
}

func (g Gate) CanRequestPayout(last *Request, now time.Time) bool {
	return g.Check(last, now) == nil
}

// ReleaseDate is CooldownReleaseDay of the month following last's month.
func (g Gate) ReleaseDate(last *Request) (time.Time, bool) {
	if last == nil {
		return time.Time{}, false
	}
	if g.IgnoreVoided && last.Status.IsVoided() {
		return time.Time{}, false
	}
	first := window.FirstOfNextMonth(last.CreatedAt.In(g.Location))
	return first.AddDate(0, 0, g.CooldownReleaseDay-1), true
}

func (g Gate) Evaluate(last *Request, now time.Time) Eligibility {
	now = now.In(g.Location)
	e := Eligibility{NextWindowOpens: g.nextOpening(last, now)}
	if release, ok := g.ReleaseDate(last); ok {
		e.ReleaseDate = release
	}
	if err := g.Check(last, now); err != nil {
		e.Reason = ReasonCode(err)
		e.Message = err.Error()
		return e
	}
	e.Eligible = true
	return e
}

// nextOpening walks forward to the first day on which both rules hold.
func (g Gate) nextOpening(last *Request, now time.Time) time.Time {
	candidate := window.Day(now)
	if release, ok := g.ReleaseDate(last); ok && candidate.Before(window.Day(release)) {
		candidate = window.Day(release)
	}
	for i := 0; i < 62; i++ {
		if window.IsWithinDailyWindow(g.WindowStartDay, g.WindowEndDay, candidate) {
			if candidate.Before(now) {
				return now
			}
			return candidate
		}
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
