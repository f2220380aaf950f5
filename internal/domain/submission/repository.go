package submission

import (
	"context"
	"time"
)

// Repository defines operations on SMS submissions.
type Repository interface {
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, id int64) (*Submission, error)
	// ListPending returns unapproved submissions of kinds created at or after since, oldest first.
	ListPending(ctx context.Context, kinds []Kind, since time.Time) ([]*Submission, error)
	// ExistsCreatedBetween reports whether another submission of the same kind,
	// accountant and wetmill was created strictly between after and before.
	ExistsCreatedBetween(ctx context.Context, s *Submission, after, before time.Time) (bool, error)
	// ExistsApprovedBefore checks for an approved, active record with report_day < before.
	ExistsApprovedBefore(ctx context.Context, kind Kind, wetmillID, seasonID int64, before time.Time) (bool, error)
	// ExistsApprovedOn checks for an approved, active record on day.
	ExistsApprovedOn(ctx context.Context, kind Kind, wetmillID int64, day time.Time) (bool, error)
	// Approve moves a pending submission to approved. False when it was already approved.
	Approve(ctx context.Context, id int64, at time.Time) (bool, error)
	// DeactivateDuplicates clears IsActive on other approved records of kinds for
	// the same wetmill and period (day, or week for weekly kinds).
	DeactivateDuplicates(ctx context.Context, s *Submission, kinds []Kind) (int64, error)

	// ListWetmillIDsReportingSince returns wetmills with an approved record of kinds on or after day.
	ListWetmillIDsReportingSince(ctx context.Context, kinds []Kind, day time.Time) ([]int64, error)
	// ListWetmillIDsForWeek returns wetmills with an approved record of kind for the week.
	ListWetmillIDsForWeek(ctx context.Context, kind Kind, weekStart time.Time) ([]int64, error)
	// ListActiveForSeason returns the active records of a wetmill in a season, by report day.
	ListActiveForSeason(ctx context.Context, wetmillID, seasonID int64) ([]*Submission, error)
}
