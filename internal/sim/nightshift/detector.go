package nightshift

import "log"

// DayDetector turns a polled day counter into transition requests. The first
// successful read only establishes the baseline.
type DayDetector struct {
	log     *log.Logger
	request func(day int, reason string)

	primed  bool
	lastDay int
}

func NewDayDetector(logger *log.Logger, request func(day int, reason string)) *DayDetector {
	return &DayDetector{log: orDiscard(logger), request: request, lastDay: NoDay}
}

// Poll feeds one reading. It returns true when a transition was requested.
func (d *DayDetector) Poll(day int, err error) bool {
	if err != nil {
		return false
	}
	if !d.primed {
		d.primed = true
		d.lastDay = day
		d.log.Printf("day: primed day=%d", day)
		return false
	}
	if day == d.lastDay {
		return false
	}
	prev := d.lastDay
	d.lastDay = day
	d.log.Printf("day: changed %d -> %d", prev, day)
	if d.request != nil {
		d.request(day, ReasonDayTransition)
	}
	return true
}

func (d *DayDetector) Reset(reason string) {
	if d.primed {
		d.log.Printf("day: reset (%s)", reason)
	}
	d.primed = false
	d.lastDay = NoDay
}

func (d *DayDetector) Primed() bool { return d.primed }
func (d *DayDetector) LastDay() int { return d.lastDay }
