package message

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wetmill_sms/internal/domain/recipient"
)

// Day is the weekly recurrence of a scheduled report.
type Day string

const (
	DayMonday    Day = "MON"
	DayTuesday   Day = "TUE"
	DayWednesday Day = "WED"
	DayThursday  Day = "THU"
	DayFriday    Day = "FRI"
	DaySaturday  Day = "SAT"
	DaySunday    Day = "SUN"
	DayAll       Day = "ALL"
)

var dayLabels = map[Day]string{
	DayMonday:    "Monday",
	DayTuesday:   "Tuesday",
	DayWednesday: "Wednesday",
	DayThursday:  "Thursday",
	DayFriday:    "Friday",
	DaySaturday:  "Saturday",
	DaySunday:    "Sunday",
	DayAll:       "Every day",
}

func ParseDay(s string) (Day, error) {
	d := Day(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := dayLabels[d]; !ok {
		return "", fmt.Errorf("invalid report day %q", s)
	}
	return d, nil
}

// DayOf returns the three-letter code of t's weekday in t's location.
func DayOf(t time.Time) Day {
	return Day(strings.ToUpper(t.Format("Mon")))
}

func (d Day) Label() string {
	if l, ok := dayLabels[d]; ok {
		return l
	}
	return string(d)
}

// ScheduledReport fires a registered callback on a weekly day/hour schedule.
type ScheduledReport struct {
	ID               int64
	Name             string
	Slug             string
	Description      string
	Message          Text
	ReporterKinds    []recipient.Kind
	Day              Day
	Hour             int
	IsActive         bool
	LastDispatchedAt sql.NullTime
	CreatedAt        time.Time
}

func (r *ScheduledReport) Validate() error {
	if strings.TrimSpace(r.Slug) == "" {
		return fmt.Errorf("report slug is required")
	}
	if _, ok := dayLabels[r.Day]; !ok {
		return fmt.Errorf("invalid report day %q", r.Day)
	}
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("report hour %d out of range", r.Hour)
	}
	return nil
}

// IsDue reports whether the schedule matches local, which must already be in the site timezone.
func (r *ScheduledReport) IsDue(local time.Time) bool {
	if !r.IsActive {
		return false
	}
	if r.Day != DayAll && r.Day != DayOf(local) {
		return false
	}
	return r.Hour == local.Hour()
}

// DispatchedDuringHourOf reports whether the watermark falls in the same local hour as local.
func (r *ScheduledReport) DispatchedDuringHourOf(local time.Time) bool {
	if !r.LastDispatchedAt.Valid {
		return false
	}
	last := r.LastDispatchedAt.Time.In(local.Location())
	ly, lm, ld := last.Date()
	ny, nm, nd := local.Date()
	return ly == ny && lm == nm && ld == nd && last.Hour() == local.Hour()
}

// Schedule renders the recurrence, e.g. "Tuesday at 14:00".
func (r *ScheduledReport) Schedule() string {
	return fmt.Sprintf("%s at %02d:00", r.Day.Label(), r.Hour)
}

// Audience returns the reporter kinds the report is for, or fallback when unrestricted.
func (r *ScheduledReport) Audience(fallback ...recipient.Kind) []recipient.Kind {
	if len(r.ReporterKinds) == 0 {
		return fallback
	}
	return r.ReporterKinds
}
