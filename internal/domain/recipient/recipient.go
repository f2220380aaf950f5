package recipient

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wetmill_sms/internal/domain/outgoing"
)

// Kind tags the closed set of roles a message can be delivered to.
type Kind string

const (
	KindAccountant Kind = "accountant"
	KindFarmer     Kind = "farmer"
	KindObserver   Kind = "observer"
)

// Kinds in fan-out priority order.
var Kinds = []Kind{KindAccountant, KindFarmer, KindObserver}

// Code is the single-letter form used in audience strings such as "AFO".
func (k Kind) Code() byte {
	switch k {
	case KindAccountant:
		return 'A'
	case KindFarmer:
		return 'F'
	case KindObserver:
		return 'O'
	}
	return 0
}

func (k Kind) Label() string {
	switch k {
	case KindAccountant:
		return "Accountants"
	case KindFarmer:
		return "Farmers"
	case KindObserver:
		return "Observers"
	}
	return string(k)
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown recipient kind %q", s)
}

// KindsFromCode returns the kinds named in an audience code, always in
// priority order regardless of the order of the letters.
func KindsFromCode(code string) []Kind {
	code = strings.ToUpper(code)
	kinds := make([]Kind, 0, len(Kinds))
	for _, k := range Kinds {
		if strings.IndexByte(code, k.Code()) >= 0 {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// CodeFromKinds is the inverse of KindsFromCode.
func CodeFromKinds(kinds []Kind) string {
	var b strings.Builder
	for _, k := range Kinds {
		for _, want := range kinds {
			if want == k {
				b.WriteByte(k.Code())
				break
			}
		}
	}
	return b.String()
}

// HasAddress is implemented by anything a message can be delivered to.
type HasAddress interface {
	Address() outgoing.Connection
}

// HasLocale is implemented by recipients with a preferred language.
type HasLocale interface {
	Locale() string
}

// Recipient is a resolved delivery target.
type Recipient interface {
	HasAddress
	Kind() Kind
	RecipientID() int64
}

// Actor is an accountant, farmer or wetmill observer.
type Actor struct {
	ID         int64
	Role       Kind
	Name       string
	Connection outgoing.Connection
	Language   sql.NullString
	WetmillID  int64
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (a *Actor) Address() outgoing.Connection { return a.Connection }

func (a *Actor) Locale() string {
	if a.Language.Valid {
		return a.Language.String
	}
	return ""
}

func (a *Actor) Kind() Kind { return a.Role }

func (a *Actor) RecipientID() int64 { return a.ID }
