package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DraftStatus is the lifecycle state of a statement draft.
type DraftStatus string

const (
	DraftStatusDraft     DraftStatus = "draft"
	DraftStatusCommitted DraftStatus = "committed"
)

// EntryStatus is the review state of a single draft entry.
type EntryStatus string

const (
	EntryStatusOpen          EntryStatus = "open"
	EntryStatusAnnounced     EntryStatus = "announced"
	EntryStatusAlreadyBooked EntryStatus = "already-booked"
)

// SecurityTransactionType is the trade kind of a security entry.
type SecurityTransactionType string

const (
	SecurityTxNone     SecurityTransactionType = ""
	SecurityTxBuy      SecurityTransactionType = "buy"
	SecurityTxSell     SecurityTransactionType = "sell"
	SecurityTxDividend SecurityTransactionType = "dividend"
)

// Draft is an imported statement under review.
type Draft struct {
	ID               string
	OwnerID          string
	OriginalFileName string
	AccountID        string // empty until detected or set by the user
	AccountHint      string // account number or IBAN read from the statement header
	UploadGroupID    string // shared by drafts created from one multi-file upload
	OriginalContent  []byte
	Description      string
	Status           DraftStatus
	CreatedAt        time.Time
	Entries          []*DraftEntry
}

// DraftEntry is one line of a draft.
type DraftEntry struct {
	ID                 string
	BookingDate        time.Time
	ValutaDate         time.Time
	Amount             decimal.Decimal
	CurrencyCode       string
	Subject            string
	CounterpartyName   string
	PostingDescription string
	Status             EntryStatus

	ContactID     string
	SavingsPlanID string

	SecurityID      string
	TransactionType SecurityTransactionType
	Quantity        decimal.NullDecimal
	FeeAmount       decimal.NullDecimal
	TaxAmount       decimal.NullDecimal

	SplitDraftID     string // child draft fully consumed by this entry
	ArchiveOnBooking bool
	Ambiguous        bool // classification needs manual review
}

// Entry returns the entry with the given id, or nil.
func (d *Draft) Entry(id string) *DraftEntry {
	for _, e := range d.Entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// RemoveEntry drops the entry with the given id. Reports whether it existed.
func (d *Draft) RemoveEntry(id string) bool {
	for i, e := range d.Entries {
		if e.ID == id {
			d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// HasPendingEntries reports whether any entry still awaits booking.
func (d *Draft) HasPendingEntries() bool {
	for _, e := range d.Entries {
		if e.Status == EntryStatusOpen || e.Status == EntryStatusAnnounced {
			return true
		}
	}
	return false
}

// Total sums the amounts of all entries.
func (d *Draft) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range d.Entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}

// Clone returns a deep copy of the draft.
func (d *Draft) Clone() *Draft {
	c := *d
	if d.OriginalContent != nil {
		c.OriginalContent = append([]byte(nil), d.OriginalContent...)
	}
	c.Entries = make([]*DraftEntry, len(d.Entries))
	for i, e := range d.Entries {
		ec := *e
		c.Entries[i] = &ec
	}
	return &c
}
