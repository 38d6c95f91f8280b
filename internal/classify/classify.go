package classify

import (
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// Summary counts what one classification run changed.
type Summary struct {
	AccountDetected    bool
	ContactsAssigned   int
	SecuritiesAssigned int
	Ambiguous          int
	Unresolved         int
}

// Classifier applies account detection, the contact rules and security
// assignment to drafts.
type Classifier struct {
	ctx   *Context
	rules []Rule
}

// New creates a classifier using the default Rules.
func New(ctx *Context) *Classifier {
	return &Classifier{ctx: ctx, rules: Rules}
}

// Classify mutates d in place. Fields the user already set are kept; only
// empty references are derived. Booked and duplicate entries are skipped.
func (c *Classifier) Classify(d *model.Draft) Summary {
	var sum Summary
	if d.AccountID == "" {
		if id := DetectAccount(d.AccountHint, c.ctx.Accounts); id != "" {
			d.AccountID = id
			sum.AccountDetected = true
		}
	}

	env := &Env{Context: c.ctx}
	if acct := c.ctx.Account(d.AccountID); acct != nil {
		env.BankContact = c.ctx.Contact(acct.BankContactID)
	}

	for _, e := range d.Entries {
		if e.Status == model.EntryStatusAlreadyBooked {
			continue
		}
		c.classifyEntry(e, env, &sum)
		if e.Ambiguous {
			sum.Ambiguous++
		}
		if e.ContactID == "" {
			sum.Unresolved++
		}
	}
	return sum
}

func (c *Classifier) classifyEntry(e *model.DraftEntry, env *Env, sum *Summary) {
	if e.ContactID == "" {
		m := ResolveContact(e, env, c.rules)
		if m.ContactID != "" {
			e.ContactID = m.ContactID
			sum.ContactsAssigned++
		}
		e.Ambiguous = m.Ambiguous
	}

	if e.SecurityID == "" {
		if id, ambiguous := MatchSecurity(e.Subject, c.ctx.Securities); id != "" {
			e.SecurityID = id
			e.Ambiguous = e.Ambiguous || ambiguous
			sum.SecuritiesAssigned++
		}
	}
	if e.SecurityID != "" && e.TransactionType == model.SecurityTxNone {
		e.TransactionType = InferTransactionType(e)
	}
}
