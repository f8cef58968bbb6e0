package main

import (
	"time"
)

// TradingDays is satisfied by *session.Calendar.
type TradingDays interface {
	IsTradingDay(t time.Time) bool
}

// Scheduler decides when the end-of-day scan is due.
type Scheduler struct {
	hour     int
	minute   int
	location *time.Location
	days     TradingDays
	now      func() time.Time
}

// NewScheduler falls back to UTC when timezone cannot be loaded.
func NewScheduler(hour, minute int, timezone string, days TradingDays) *Scheduler {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Scheduler{
		hour:     hour,
		minute:   minute,
		location: loc,
		days:     days,
		now:      time.Now,
	}
}

// Due reports whether today's scheduled time has passed. A daemon that
// starts or wakes late still catches up the same day.
func (s *Scheduler) Due() bool {
	now := s.now().In(s.location)
	at := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, s.location)
	return !now.Before(at)
}

// TodayDate returns today's date in YYYY-MM-DD format in the configured timezone
func (s *Scheduler) TodayDate() string {
	return s.now().In(s.location).Format(time.DateOnly)
}

// IsMarketDay checks if today is a trading day (not weekend/holiday)
func (s *Scheduler) IsMarketDay() bool {
	return s.days.IsTradingDay(s.now())
}

// Location returns the scheduler's timezone location
func (s *Scheduler) Location() *time.Location {
	return s.location
}
