package submission

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Submission is a numeric field report received by SMS.
// Approved never reverts; IsActive is cleared when a later confirmed
// submission for the same period replaces this one.
type Submission struct {
	ID           int64
	Kind         Kind
	AccountantID int64
	WetmillID    int64
	SeasonID     int64
	ConnectionID int64
	ReportDay    time.Time
	StartOfWeek  sql.NullTime
	Values       map[string]decimal.Decimal
	Approved     bool
	IsActive     bool
	ApprovedAt   sql.NullTime
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *Submission) State() State {
	if s.Approved {
		return StateApproved
	}
	return StatePending
}

// PrerequisiteCutoff is the date a prerequisite record must precede.
func (s *Submission) PrerequisiteCutoff() time.Time {
	if s.Kind.IsWeekly() && s.StartOfWeek.Valid {
		return s.StartOfWeek.Time
	}
	return s.ReportDay
}
