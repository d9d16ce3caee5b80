package slot

import (
	"time"

	"github.com/google/uuid"
)

// Grid describes the default bookable day: one slot every Step from Start
// until the last slot that still fits before End.
type Grid struct {
	Start string
	End   string
	Step  time.Duration
}

// Times lists the HH:MM labels of every slot in the grid.
func (g Grid) Times() ([]string, error) {
	start, err := time.Parse(TimeLayout, g.Start)
	if err != nil {
		return nil, ErrInvalidSlotTime
	}
	end, err := time.Parse(TimeLayout, g.End)
	if err != nil {
		return nil, ErrInvalidSlotTime
	}
	if g.Step <= 0 {
		return nil, ErrInvalidSlotTime
	}

	var out []string
	for t := start; t.Add(g.Step).Compare(end) <= 0; t = t.Add(g.Step) {
		out = append(out, t.Format(TimeLayout))
	}
	return out, nil
}

// Day builds the unmaterialized default grid for one provider and date.
// New slots start Unavailable: providers opt in.
func (g Grid) Day(providerID uuid.UUID, date time.Time) ([]*Slot, error) {
	times, err := g.Times()
	if err != nil {
		return nil, err
	}
	slots := make([]*Slot, 0, len(times))
	for _, hhmm := range times {
		slots = append(slots, &Slot{
			ProviderID: providerID,
			Date:       date,
			Time:       hhmm,
			Status:     StatusUnavailable,
		})
	}
	return slots, nil
}
