package database

import "fmt"

// Custom errors
var (
	ErrActorNotFound              = fmt.Errorf("actor not found")
	ErrConnectionNotFound         = fmt.Errorf("connection not found")
	ErrWetmillNotFound            = fmt.Errorf("wetmill not found")
	ErrSeasonNotFound             = fmt.Errorf("season not found")
	ErrCountryNotFound            = fmt.Errorf("country not found")
	ErrCurrencyNotFound           = fmt.Errorf("currency not found")
	ErrBlurbNotFound              = fmt.Errorf("blurb not found")
	ErrCCNotFound                 = fmt.Errorf("message cc not found")
	ErrReportNotFound             = fmt.Errorf("scheduled report not found")
	ErrBroadcastNotFound          = fmt.Errorf("season-end broadcast not found")
	ErrScheduledBroadcastNotFound = fmt.Errorf("broadcast not found")
	ErrSubmissionNotFound         = fmt.Errorf("submission not found")
	ErrMessageNotFound            = fmt.Errorf("outgoing message not found")
)
