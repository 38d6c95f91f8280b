package booking

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// Validation codes. They are stable and meant for API consumers.
const (
	CodeNoAccount                   = "NO_ACCOUNT"
	CodeEntryNoContact              = "ENTRY_NO_CONTACT"
	CodeContactUnknown              = "CONTACT_UNKNOWN"
	CodeIntermediaryNoSplit         = "INTERMEDIARY_NO_SPLIT"
	CodeSavingsPlanMissingForSelf   = "SAVINGSPLAN_MISSING_FOR_SELF"
	CodeSavingsPlanUnknown          = "SAVINGSPLAN_UNKNOWN"
	CodeSecurityUnknown             = "SECURITY_UNKNOWN"
	CodeSecurityMissingTxType       = "SECURITY_MISSING_TXTYPE"
	CodeSecurityMissingQuantity     = "SECURITY_MISSING_QUANTITY"
	CodeSecurityFeeTaxExceedsAmount = "SECURITY_FEE_TAX_EXCEEDS_AMOUNT"
	CodeSplitDraftMissing           = "SPLIT_DRAFT_MISSING"
	CodeSplitAmountMismatch         = "SPLIT_AMOUNT_MISMATCH"
	CodeSplitSelfReference          = "SPLIT_SELF_REFERENCE"
	CodeSplitNested                 = "SPLIT_NESTED"
	CodeSplitChildDirect            = "SPLIT_CHILD_DIRECT"
	CodeSplitShared                 = "SPLIT_SHARED"
	CodeDraftCommitted              = "DRAFT_COMMITTED"
	CodeEntryNotFound               = "ENTRY_NOT_FOUND"
	CodeEntryAlreadyBooked          = "ENTRY_ALREADY_BOOKED"
)

// Severity tells hard failures from warnings the caller may confirm.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// splitPrefix marks messages raised by entries of a split draft.
const splitPrefix = "[Split] "

// Message is one coded validation result.
type Message struct {
	Code     string
	Message  string
	Severity Severity
	EntryID  string
}

// masterData is the owner's reference data, indexed by id.
type masterData struct {
	accounts   map[string]model.Account
	contacts   map[string]model.Contact
	plans      map[string]model.SavingsPlan
	securities map[string]model.Security
}

type validator struct {
	md      *masterData
	msgs    []Message
	claimed map[string]string // split draft id -> parent entry id
}

func (v *validator) add(sev Severity, code, entryID, format string, args ...any) {
	v.msgs = append(v.msgs, Message{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Severity: sev,
		EntryID:  entryID,
	})
}

func (v *validator) fail(code, entryID, format string, args ...any) {
	v.add(SeverityError, code, entryID, format, args...)
}

func (v *validator) warn(code, entryID, format string, args ...any) {
	v.add(SeverityWarning, code, entryID, format, args...)
}

func (v *validator) hasErrors() bool {
	for _, m := range v.msgs {
		if m.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (v *validator) hasWarnings() bool {
	for _, m := range v.msgs {
		if m.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

// entry checks one entry. prefix is set for entries of a split draft.
func (v *validator) entry(e *model.DraftEntry, prefix string) {
	ct, ok := v.md.contacts[e.ContactID]
	switch {
	case e.ContactID == "":
		v.fail(CodeEntryNoContact, e.ID, "%sentry %q has no contact", prefix, e.Subject)
	case !ok:
		v.fail(CodeContactUnknown, e.ID, "%scontact %s does not exist", prefix, e.ContactID)
	}

	if e.SplitDraftID != "" {
		// A split parent carries no value; its children are checked instead.
		return
	}
	if ok && ct.IsPaymentIntermediary {
		v.fail(CodeIntermediaryNoSplit, e.ID, "%s%s is a payment intermediary and no split draft is linked", prefix, ct.Name)
	}

	if e.SavingsPlanID != "" {
		if plan, found := v.md.plans[e.SavingsPlanID]; !found || plan.Archived {
			v.fail(CodeSavingsPlanUnknown, e.ID, "%ssavings plan %s does not exist or is archived", prefix, e.SavingsPlanID)
		}
	} else if ok && ct.Type == model.ContactTypeSelf {
		v.warn(CodeSavingsPlanMissingForSelf, e.ID, "%stransfer to self without a savings plan", prefix)
	}

	if e.SecurityID != "" {
		v.security(e, prefix)
	}
}

func (v *validator) security(e *model.DraftEntry, prefix string) {
	if _, ok := v.md.securities[e.SecurityID]; !ok {
		v.fail(CodeSecurityUnknown, e.ID, "%ssecurity %s does not exist", prefix, e.SecurityID)
	}
	switch e.TransactionType {
	case model.SecurityTxNone:
		v.fail(CodeSecurityMissingTxType, e.ID, "%ssecurity entry has no transaction type", prefix)
	case model.SecurityTxBuy, model.SecurityTxSell:
		if !e.Quantity.Valid || e.Quantity.Decimal.IsZero() {
			v.fail(CodeSecurityMissingQuantity, e.ID, "%s%s needs a quantity", prefix, e.TransactionType)
		}
	}
	charges := orZero(e.FeeAmount).Abs().Add(orZero(e.TaxAmount).Abs())
	if charges.GreaterThan(e.Amount.Abs()) {
		v.fail(CodeSecurityFeeTaxExceedsAmount, e.ID, "%sfee and tax %s exceed the amount %s", prefix, charges, e.Amount.Abs())
	}
}

// split checks a parent entry against its split set. It stops at the
// first structural problem.
func (v *validator) split(parent *model.Draft, e *model.DraftEntry, set []*model.Draft) {
	if len(set) == 0 {
		v.fail(CodeSplitDraftMissing, e.ID, "split draft %s does not exist", e.SplitDraftID)
		return
	}
	for _, child := range set {
		if child.ID == parent.ID {
			v.fail(CodeSplitSelfReference, e.ID, "split set of entry %q contains its own draft", e.Subject)
			return
		}
		if child.Status == model.DraftStatusCommitted {
			v.fail(CodeDraftCommitted, e.ID, "%ssplit draft %s is already committed", splitPrefix, child.ID)
			return
		}
		if other, ok := v.claimed[child.ID]; ok && other != e.ID {
			v.fail(CodeSplitShared, e.ID, "split draft %s is also linked by entry %s", child.ID, other)
			return
		}
	}
	if v.claimed == nil {
		v.claimed = make(map[string]string)
	}
	for _, child := range set {
		v.claimed[child.ID] = e.ID
	}

	total := decimal.Zero
	for _, child := range set {
		for _, ce := range splitEntries(child) {
			total = total.Add(ce.Amount)
			if ce.SplitDraftID != "" {
				v.fail(CodeSplitNested, ce.ID, "%sentry %q links another split", splitPrefix, ce.Subject)
				continue
			}
			v.entry(ce, splitPrefix)
		}
	}
	if !total.Equal(e.Amount) {
		v.fail(CodeSplitAmountMismatch, e.ID, "split total %s does not match the entry amount %s", total, e.Amount)
	}
}

// splitEntries returns the entries of a split draft that carry value.
func splitEntries(d *model.Draft) []*model.DraftEntry {
	var out []*model.DraftEntry
	for _, e := range d.Entries {
		if e.Status != model.EntryStatusAlreadyBooked {
			out = append(out, e)
		}
	}
	return out
}

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
