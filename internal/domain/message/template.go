// Package message holds the stored, translatable message templates.
package message

import (
	"strings"
	"time"

	"wetmill_sms/internal/domain/recipient"
)

// Text is a template body with an untranslated default and per-language overrides.
type Text struct {
	Default      string
	Translations map[string]string
}

func NewText(def string) Text {
	return Text{Default: def, Translations: map[string]string{}}
}

// For returns the text for language, falling back to the default.
func (t Text) For(language string) string {
	if language != "" {
		if s, ok := t.Translations[language]; ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return t.Default
}

func (t Text) IsEmpty() bool {
	if strings.TrimSpace(t.Default) != "" {
		return false
	}
	for _, s := range t.Translations {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}

// Blurb is an editable snippet identified by (form, slug). It is created on
// first use from the caller's default so editors can fill it in later.
type Blurb struct {
	ID          int64
	Form        string
	Slug        string
	Description string
	Message     Text
	CreatedAt   time.Time
}

// CC is a copy of a submission sent to the other reporters of a wetmill.
type CC struct {
	ID            int64
	Form          string
	Slug          string
	ReporterKinds []recipient.Kind
	Description   string
	Message       Text
	CreatedAt     time.Time
}

// Help is the fallback answer to an unrecognized message. A nil ReporterKind
// makes it the catch-all.
type Help struct {
	ID           int64
	Message      Text
	ReporterKind *recipient.Kind
	Priority     int
	CreatedAt    time.Time
}

func (h *Help) IsCatchAll() bool {
	return h.ReporterKind == nil
}

// SeasonEndBroadcast is sent to a wetmill's reporters once its season report is out.
type SeasonEndBroadcast struct {
	ID          int64
	Name        string
	Recipients  string // audience code, any of A, F, O
	Description string
	Message     Text
	CreatedAt   time.Time
}

func (b *SeasonEndBroadcast) RecipientKinds() []recipient.Kind {
	return recipient.KindsFromCode(b.Recipients)
}

// RecipientsDisplay renders the audience as "Accountants, Farmers".
func (b *SeasonEndBroadcast) RecipientsDisplay() string {
	return audienceDisplay(b.RecipientKinds())
}

func audienceDisplay(kinds []recipient.Kind) string {
	labels := make([]string, len(kinds))
	for i, k := range kinds {
		labels[i] = k.Label()
	}
	return strings.Join(labels, ", ")
}
