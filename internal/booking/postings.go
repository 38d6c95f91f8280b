package booking

import (
	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/id"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// QuantityPlaces is the precision of security quantities on postings.
const QuantityPlaces = 6

// legBuilder numbers the legs of one posting group.
type legBuilder struct {
	ownerID string
	groupID string
	next    int
	legs    []model.Posting
}

func newLegBuilder(ownerID, groupID string) *legBuilder {
	return &legBuilder{ownerID: ownerID, groupID: groupID}
}

// add appends a leg that takes dates and texts from e.
func (b *legBuilder) add(e *model.DraftEntry, p model.Posting) {
	p.ID = id.FormatPostingID(b.groupID, b.next)
	p.OwnerID = b.ownerID
	p.GroupID = b.groupID
	p.BookingDate = e.BookingDate
	p.ValutaDate = e.ValutaDate
	p.Subject = e.Subject
	p.RecipientName = e.CounterpartyName
	p.Description = e.PostingDescription
	b.next++
	b.legs = append(b.legs, p)
}

// entryLegs appends the legs of a regular entry booked on accountID and
// returns them.
func (b *legBuilder) entryLegs(e *model.DraftEntry, accountID string) []model.Posting {
	start := len(b.legs)
	b.add(e, model.Posting{Kind: model.PostingKindBank, AccountID: accountID, Amount: e.Amount})
	b.add(e, model.Posting{Kind: model.PostingKindContact, ContactID: e.ContactID, Amount: e.Amount})
	if e.SavingsPlanID != "" {
		b.add(e, model.Posting{Kind: model.PostingKindSavingsPlan, SavingsPlanID: e.SavingsPlanID, Amount: e.Amount.Neg()})
	}
	if e.SecurityID != "" {
		for _, p := range securityLegs(e) {
			b.add(e, p)
		}
	}
	return b.legs[start:]
}

// splitParentLegs appends the zero bank and contact legs of a split parent.
func (b *legBuilder) splitParentLegs(e *model.DraftEntry, accountID string) []model.Posting {
	start := len(b.legs)
	b.add(e, model.Posting{Kind: model.PostingKindBank, AccountID: accountID, Amount: decimal.Zero})
	b.add(e, model.Posting{Kind: model.PostingKindContact, ContactID: e.ContactID, Amount: decimal.Zero})
	return b.legs[start:]
}

// securityLegs splits an entry into main, fee and tax legs that sum to the
// entry amount. Charges take the sign of the amount: on a buy they are part
// of what was paid, on a sell or dividend they were withheld from it.
func securityLegs(e *model.DraftEntry) []model.Posting {
	sign := decimal.NewFromInt(1)
	if e.Amount.IsNegative() {
		sign = sign.Neg()
	}
	fee := orZero(e.FeeAmount).Abs().Mul(sign)
	tax := orZero(e.TaxAmount).Abs().Mul(sign)

	main := model.Posting{Kind: model.PostingKindSecurity, SecurityID: e.SecurityID}
	switch e.TransactionType {
	case model.SecurityTxBuy:
		main.SecuritySubType = model.SecuritySubTypeBuy
		main.Amount = e.Amount.Sub(fee).Sub(tax)
		main.Quantity = decimal.NewNullDecimal(orZero(e.Quantity).Abs().Round(QuantityPlaces))
	case model.SecurityTxSell:
		main.SecuritySubType = model.SecuritySubTypeSell
		main.Amount = e.Amount.Add(fee).Add(tax)
		main.Quantity = decimal.NewNullDecimal(orZero(e.Quantity).Abs().Round(QuantityPlaces).Neg())
	default:
		main.SecuritySubType = model.SecuritySubTypeDividend
		main.Amount = e.Amount.Add(fee).Add(tax)
	}
	if e.TransactionType != model.SecurityTxBuy {
		fee, tax = fee.Neg(), tax.Neg()
	}

	legs := []model.Posting{main}
	if !fee.IsZero() {
		legs = append(legs, model.Posting{Kind: model.PostingKindSecurity, SecurityID: e.SecurityID, SecuritySubType: model.SecuritySubTypeFee, Amount: fee})
	}
	if !tax.IsZero() {
		legs = append(legs, model.Posting{Kind: model.PostingKindSecurity, SecurityID: e.SecurityID, SecuritySubType: model.SecuritySubTypeTax, Amount: tax})
	}
	return legs
}
