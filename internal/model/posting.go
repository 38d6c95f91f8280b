package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PostingKind names the entity axis a posting is booked against.
type PostingKind string

const (
	PostingKindBank        PostingKind = "bank"
	PostingKindContact     PostingKind = "contact"
	PostingKindSavingsPlan PostingKind = "savings-plan"
	PostingKindSecurity    PostingKind = "security"
)

// SecuritySubType distinguishes the legs of a security booking.
type SecuritySubType string

const (
	SecuritySubTypeNone     SecuritySubType = ""
	SecuritySubTypeBuy      SecuritySubType = "buy"
	SecuritySubTypeSell     SecuritySubType = "sell"
	SecuritySubTypeDividend SecuritySubType = "dividend"
	SecuritySubTypeFee      SecuritySubType = "fee"
	SecuritySubTypeTax      SecuritySubType = "tax"
)

// Posting is an immutable booked ledger leg.
type Posting struct {
	ID              string
	OwnerID         string
	Kind            PostingKind
	AccountID       string
	ContactID       string
	SavingsPlanID   string
	SecurityID      string
	BookingDate     time.Time
	ValutaDate      time.Time
	Amount          decimal.Decimal
	GroupID         string // shared by all legs produced from one draft entry
	SecuritySubType SecuritySubType
	Quantity        decimal.NullDecimal
	Subject         string
	RecipientName   string
	Description     string
}

// EntityID returns the reference that matches the posting's kind.
func (p Posting) EntityID() string {
	switch p.Kind {
	case PostingKindBank:
		return p.AccountID
	case PostingKindContact:
		return p.ContactID
	case PostingKindSavingsPlan:
		return p.SavingsPlanID
	case PostingKindSecurity:
		return p.SecurityID
	default:
		return ""
	}
}

// AggregatePeriod is the granularity of a running sum.
type AggregatePeriod string

const (
	PeriodMonth    AggregatePeriod = "month"
	PeriodQuarter  AggregatePeriod = "quarter"
	PeriodHalfYear AggregatePeriod = "half-year"
	PeriodYear     AggregatePeriod = "year"
)

// AllPeriods lists every granularity an aggregate is maintained for.
var AllPeriods = []AggregatePeriod{PeriodMonth, PeriodQuarter, PeriodHalfYear, PeriodYear}

// AggregateKey identifies exactly one aggregate row.
type AggregateKey struct {
	OwnerID         string
	Kind            PostingKind
	AccountID       string
	ContactID       string
	SavingsPlanID   string
	SecurityID      string
	SecuritySubType SecuritySubType
	Period          AggregatePeriod
	PeriodStart     time.Time
}

// PostingAggregate is a running per-period sum.
type PostingAggregate struct {
	AggregateKey
	Amount decimal.Decimal
}
