// Package session computes the trade window a scan covers from the
// wall clock and the NYSE trading calendar.
package session

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/scmhub/calendar"
)

var ErrNoSession = errors.New("no completed session found")

// maxLookback bounds the walk back across weekends and holidays.
const maxLookback = 14

// State of the scan window.
type State int

const (
	Historical State = iota
	Live
)

func (s State) String() string {
	if s == Live {
		return "LIVE"
	}
	return "HISTORICAL"
}

// Window is the [From, To] range of trade prints a scan requests.
type Window struct {
	State State
	Date  string // session date, YYYY-MM-DD in exchange time
	From  time.Time
	To    time.Time
}

// BusinessDays reports exchange trading days. *calendar.Calendar
// satisfies it.
type BusinessDays interface {
	IsBusinessDay(t time.Time) bool
}

// Hours is a wall-clock time of day in the exchange timezone.
type Hours struct {
	Hour   int
	Minute int
}

func (h Hours) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), h.Hour, h.Minute, 0, 0, day.Location())
}

// Calendar resolves regular sessions. Early closes are not modelled.
type Calendar struct {
	loc   *time.Location
	open  Hours
	close Hours
	days  BusinessDays
}

// NewNYSE returns the regular 09:30-16:00 America/New_York session
// calendar.
func NewNYSE() (*Calendar, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading exchange timezone: %w", err)
	}
	return New(loc, Hours{9, 30}, Hours{16, 0}, calendar.XNYS())
}

func New(loc *time.Location, open, close Hours, days BusinessDays) (*Calendar, error) {
	if loc == nil {
		return nil, errors.New("location is required")
	}
	if days == nil {
		return nil, errors.New("business day source is required")
	}
	if open.Hour*60+open.Minute >= close.Hour*60+close.Minute {
		return nil, fmt.Errorf("session open %02d:%02d must precede close %02d:%02d",
			open.Hour, open.Minute, close.Hour, close.Minute)
	}
	return &Calendar{loc: loc, open: open, close: close, days: days}, nil
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsTradingDay reports whether t's exchange-local date is a trading day.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	// Noon avoids any date shift inside the calendar library.
	noon := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, c.loc)
	return c.days.IsBusinessDay(noon)
}

// WindowAt returns the LIVE window when now is inside a session, else
// the most recently completed session.
func (c *Calendar) WindowAt(now time.Time) (Window, error) {
	local := now.In(c.loc)

	if c.IsTradingDay(local) {
		opensAt, closesAt := c.open.on(local), c.close.on(local)
		switch {
		case !local.Before(opensAt) && local.Before(closesAt):
			return Window{State: Live, Date: local.Format(time.DateOnly), From: opensAt, To: local}, nil
		case !local.Before(closesAt):
			return c.window(local), nil
		}
	}

	day := local
	for i := 0; i < maxLookback; i++ {
		day = day.AddDate(0, 0, -1)
		if c.IsTradingDay(day) {
			return c.window(day), nil
		}
	}
	return Window{}, fmt.Errorf("%w within %d days of %s", ErrNoSession, maxLookback, local.Format(time.DateOnly))
}

func (c *Calendar) window(day time.Time) Window {
	return Window{
		State: Historical,
		Date:  day.Format(time.DateOnly),
		From:  c.open.on(day),
		To:    c.close.on(day),
	}
}
