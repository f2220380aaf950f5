package submission

import "time"

// Reporting weeks start on Friday.

func mondayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func weekStart(t time.Time, base int) time.Time {
	shift := base
	wd := mondayIndex(t)
	if wd < 4 {
		shift += wd + 3
	} else if wd > 4 {
		shift += wd - 4
	}
	return dateOf(t).AddDate(0, 0, -shift)
}

// WeekStartBefore is the Friday that starts the last complete week before t.
func WeekStartBefore(t time.Time) time.Time {
	return weekStart(t, 7)
}

// WeekStartDuring is the Friday that starts the week containing t.
func WeekStartDuring(t time.Time) time.Time {
	return weekStart(t, 0)
}

// WeekEnd is the last day of the week starting at start.
func WeekEnd(start time.Time) time.Time {
	return start.AddDate(0, 0, 6)
}

// DayFormat is how report days appear in messages, e.g. 12.03.24.
const DayFormat = "02.01.06"
