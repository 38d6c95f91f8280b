package template

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// record is a movement under construction.
type record struct {
	m             model.Movement
	accountNumber string
}

// unset reports whether none of the required fields were written.
func (r *record) unset() bool {
	return r.m.BookingDate.IsZero() && r.m.Amount.IsZero() && r.m.Subject == ""
}

func appendText(dst *string, v string) {
	if v == "" {
		return
	}
	if *dst == "" {
		*dst = v
		return
	}
	*dst = *dst + " " + v
}

// assign writes a raw value into the record. Empty values are skipped so that
// split debit/credit columns can map to the same variable.
func (t *Template) assign(r *record, variable, raw string, mult decimal.Decimal) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	switch variable {
	case VarIgnore:
	case VarPostingDate:
		d, err := ParseDate(raw)
		if err != nil {
			return err
		}
		r.m.BookingDate = d
	case VarValutaDate:
		d, err := ParseDate(raw)
		if err != nil {
			return err
		}
		r.m.ValutaDate = d
	case VarAmount:
		a, err := ParseAmount(raw)
		if err != nil {
			return err
		}
		r.m.Amount = a.Mul(mult)
	case VarQuantity, VarFee, VarTax:
		a, err := ParseAmount(raw)
		if err != nil {
			return err
		}
		nd := decimal.NewNullDecimal(a)
		switch variable {
		case VarQuantity:
			r.m.Quantity = nd
		case VarFee:
			r.m.Fee = nd
		default:
			r.m.Tax = nd
		}
	case VarCurrencyCode:
		r.m.CurrencyCode = strings.ToUpper(raw)
	case VarSubject:
		appendText(&r.m.Subject, t.replace(raw))
	case VarSourceName:
		appendText(&r.m.CounterpartyName, t.replace(raw))
	case VarDescription:
		appendText(&r.m.PostingDescription, t.replace(raw))
	case VarAccountNumber:
		r.accountNumber = t.replace(raw)
	}
	return nil
}
