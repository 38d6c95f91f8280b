package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Movement is one parsed statement line before classification.
type Movement struct {
	BookingDate        time.Time
	ValutaDate         time.Time // zero when the statement carries none
	Amount             decimal.Decimal
	CurrencyCode       string
	Subject            string
	CounterpartyName   string
	PostingDescription string
	Quantity           decimal.NullDecimal
	Fee                decimal.NullDecimal
	Tax                decimal.NullDecimal
	IsPreview          bool // future-dated, announced by the bank
	IsError            bool
}

// Header describes the statement a set of movements was read from.
type Header struct {
	AccountNumber string // IBAN or bank-local number
	Description   string
}

// ParseResult is the outcome of reading one statement file.
type ParseResult struct {
	Header    Header
	Movements []Movement
}
