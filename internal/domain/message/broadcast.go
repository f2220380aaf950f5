package message

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"wetmill_sms/internal/domain/recipient"
	"wetmill_sms/internal/domain/wetmill"
)

// MaxBroadcastLength bounds the template text of a scheduled broadcast.
const MaxBroadcastLength = 480

var (
	ErrBroadcastEmpty      = errors.New("broadcast text is empty")
	ErrBroadcastTooLong    = errors.New("broadcast text is longer than 480 characters")
	ErrBroadcastNoAudience = errors.New("broadcast has no recipients")
	ErrBroadcastNoCountry  = errors.New("broadcast has no country")
)

// Broadcast is a one-off message sent, once SendOn has passed, to the
// reporters of every wetmill in a country that matches its filters.
type Broadcast struct {
	ID         int64
	Recipients string // audience code, any of A, F, O
	CountryID  int64

	WetmillIDs        []int64
	CSPIDs            []int64
	ExcludeWetmillIDs []int64
	ExcludeCSPIDs     []int64
	// ReportSeasonID limits to wetmills with report values in the season and
	// adds the finalized report metrics to the message.
	ReportSeasonID sql.NullInt64
	// SMSSeasonID limits to wetmills that sent SMS accounting messages in the
	// season and adds their running totals to the message.
	SMSSeasonID sql.NullInt64

	Text      string
	SendOn    sql.NullTime
	Sent      bool
	CreatedAt time.Time
}

func (b *Broadcast) RecipientKinds() []recipient.Kind {
	return recipient.KindsFromCode(b.Recipients)
}

func (b *Broadcast) RecipientsDisplay() string {
	return audienceDisplay(b.RecipientKinds())
}

// IsPending reports whether the broadcast is due and not yet sent. A
// broadcast without SendOn is a draft.
func (b *Broadcast) IsPending(now time.Time) bool {
	return !b.Sent && b.SendOn.Valid && !b.SendOn.Time.After(now)
}

// Filter is the wetmill selection of the broadcast. CSP filters use the
// report season, or the SMS season when there is no report season.
func (b *Broadcast) Filter() wetmill.Filter {
	f := wetmill.Filter{
		CountryID:      b.CountryID,
		Only:           b.WetmillIDs,
		Exclude:        b.ExcludeWetmillIDs,
		OnlyCSPs:       b.CSPIDs,
		ExcludeCSPs:    b.ExcludeCSPIDs,
		ReportSeasonID: b.ReportSeasonID,
		SMSSeasonID:    b.SMSSeasonID,
	}
	if b.ReportSeasonID.Valid {
		f.CSPSeasonID = b.ReportSeasonID
	} else {
		f.CSPSeasonID = b.SMSSeasonID
	}
	return f
}

func (b *Broadcast) Validate() error {
	switch {
	case strings.TrimSpace(b.Text) == "":
		return ErrBroadcastEmpty
	case len([]rune(b.Text)) > MaxBroadcastLength:
		return ErrBroadcastTooLong
	case len(b.RecipientKinds()) == 0:
		return ErrBroadcastNoAudience
	case b.CountryID <= 0:
		return ErrBroadcastNoCountry
	}
	return nil
}
