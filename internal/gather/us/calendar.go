package us

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// settleHour and settleMinute mark when a session's daily bar is final in
// New York time, after extended hours.
const (
	settleHour   = 20
	settleMinute = 5
)

// Calendar lists trading sessions. *alpaca.Client satisfies it.
type Calendar interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// LatestFinishedTradingDay returns the most recent trading day whose session
// had settled by now, as midnight UTC of that date. Today's session counts
// only after 20:05 New York time.
func LatestFinishedTradingDay(cal Calendar, now time.Time) (time.Time, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now = now.In(et)

	days, err := cal.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}

	today := now.Format(dateLayout)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), settleHour, settleMinute, 0, 0, et)

	for i := len(days) - 1; i >= 0; i-- {
		day := days[i]
		if day.Date > today || (day.Date == today && !now.After(cutoff)) {
			continue
		}
		t, err := time.Parse(dateLayout, day.Date)
		if err != nil {
			continue
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("no finished trading day in the week before %s", today)
}
