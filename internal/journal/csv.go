package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// Header is the CSV header for postings.csv.
const Header = "posting_id,group_id,kind,booking_date,valuta_date,account_id,contact_id,savings_plan_id,security_id,sub_type,amount,quantity,subject,recipient,description"

const (
	numFields     = 15
	dateFormat    = "2006-01-02"
	colID         = 0
	colGroup      = 1
	colKind       = 2
	colDate       = 3
	colValuta     = 4
	colAccount    = 5
	colContact    = 6
	colPlan       = 7
	colSecurity   = 8
	colSubType    = 9
	colAmount     = 10
	colQuantity   = 11
	colSubject    = 12
	colRecipient  = 13
	colDesc       = 14
	amountPlaces  = 2
	quantityPlaces = 6
)

// ReadPostings reads all postings from a postings.csv reader. The owner is
// not part of the file and is set by the caller.
func ReadPostings(r io.Reader, ownerID string) ([]model.Posting, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading postings CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	// Skip header row.
	var ps []model.Posting
	for i, rec := range records[1:] {
		p, err := UnmarshalPosting(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		p.OwnerID = ownerID
		ps = append(ps, p)
	}
	return ps, nil
}

// WritePostings writes postings to a postings.csv writer (including header).
func WritePostings(w io.Writer, ps []model.Posting) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, p := range ps {
		if err := cw.Write(MarshalPosting(p)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	return cw.Error()
}

// AppendPostings appends postings to an existing postings.csv writer (no header).
func AppendPostings(w io.Writer, ps []model.Posting) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	for i, p := range ps {
		if err := cw.Write(MarshalPosting(p)); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}
	return cw.Error()
}

// MarshalPosting converts a Posting to a CSV row ([]string).
func MarshalPosting(p model.Posting) []string {
	row := make([]string, numFields)
	row[colID] = p.ID
	row[colGroup] = p.GroupID
	row[colKind] = string(p.Kind)
	row[colDate] = p.BookingDate.Format(dateFormat)
	if !p.ValutaDate.IsZero() {
		row[colValuta] = p.ValutaDate.Format(dateFormat)
	}
	row[colAccount] = p.AccountID
	row[colContact] = p.ContactID
	row[colPlan] = p.SavingsPlanID
	row[colSecurity] = p.SecurityID
	row[colSubType] = string(p.SecuritySubType)
	row[colAmount] = p.Amount.StringFixed(amountPlaces)
	if p.Quantity.Valid {
		row[colQuantity] = p.Quantity.Decimal.StringFixed(quantityPlaces)
	}
	row[colSubject] = p.Subject
	row[colRecipient] = p.RecipientName
	row[colDesc] = p.Description
	return row
}

// UnmarshalPosting converts a CSV row to a Posting.
func UnmarshalPosting(record []string) (model.Posting, error) {
	if len(record) != numFields {
		return model.Posting{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	date, err := time.Parse(dateFormat, record[colDate])
	if err != nil {
		return model.Posting{}, fmt.Errorf("parsing booking_date %q: %w", record[colDate], err)
	}

	var valuta time.Time
	if record[colValuta] != "" {
		valuta, err = time.Parse(dateFormat, record[colValuta])
		if err != nil {
			return model.Posting{}, fmt.Errorf("parsing valuta_date %q: %w", record[colValuta], err)
		}
	}

	amount, err := decimal.NewFromString(record[colAmount])
	if err != nil {
		return model.Posting{}, fmt.Errorf("parsing amount %q: %w", record[colAmount], err)
	}

	var qty decimal.NullDecimal
	if record[colQuantity] != "" {
		q, err := decimal.NewFromString(record[colQuantity])
		if err != nil {
			return model.Posting{}, fmt.Errorf("parsing quantity %q: %w", record[colQuantity], err)
		}
		qty = decimal.NewNullDecimal(q)
	}

	return model.Posting{
		ID:              record[colID],
		GroupID:         record[colGroup],
		Kind:            model.PostingKind(record[colKind]),
		BookingDate:     date,
		ValutaDate:      valuta,
		AccountID:       record[colAccount],
		ContactID:       record[colContact],
		SavingsPlanID:   record[colPlan],
		SecurityID:      record[colSecurity],
		SecuritySubType: model.SecuritySubType(record[colSubType]),
		Amount:          amount,
		Quantity:        qty,
		Subject:         record[colSubject],
		RecipientName:   record[colRecipient],
		Description:     record[colDesc],
	}, nil
}
