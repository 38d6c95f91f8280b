package classify

import (
	"strings"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// Env is what a contact rule sees besides the entry itself.
type Env struct {
	*Context
	BankContact *model.Contact // bank contact of the draft's account, nil when unknown
}

// Match is the outcome of a contact rule.
type Match struct {
	ContactID string
	Ambiguous bool // the entry needs manual review
}

// Rule resolves the contact of one entry. ok is false when the rule does not
// apply; a non-applying rule may still report ambiguity.
type Rule func(e *model.DraftEntry, env *Env) (m Match, ok bool)

// Rules is the contact resolution pipeline, first match wins.
var Rules = []Rule{
	BankContactRule,
	AliasRule,
	IntermediaryRule,
	EmptyCounterpartRule,
}

// BankContactRule assigns the account's bank contact when the counterpart is
// the bank itself.
func BankContactRule(e *model.DraftEntry, env *Env) (Match, bool) {
	if env.BankContact == nil {
		return Match{}, false
	}
	name := strings.TrimSpace(e.CounterpartyName)
	if name == "" || !strings.EqualFold(name, strings.TrimSpace(env.BankContact.Name)) {
		return Match{}, false
	}
	return Match{ContactID: env.BankContact.ID}, true
}

// AliasRule matches the counterpart name, then the subject, against the name
// and alias patterns of every contact that is not a payment intermediary.
// Several matches on the same text resolve nothing and flag the entry.
func AliasRule(e *model.DraftEntry, env *Env) (Match, bool) {
	byName := env.candidates(func(ct *model.Contact) bool { return env.matchesName(ct, e.CounterpartyName) })
	if len(byName) == 1 {
		return Match{ContactID: byName[0].ID}, true
	}
	bySubject := env.candidates(func(ct *model.Contact) bool { return env.matchesAlias(ct, e.Subject) })
	if len(byName) == 0 && len(bySubject) == 1 {
		return Match{ContactID: bySubject[0].ID}, true
	}
	return Match{Ambiguous: len(byName) > 1 || len(bySubject) > 1}, false
}

// IntermediaryRule handles counterparts that are payment intermediaries. The
// subject is searched for an alias of exactly one other contact, anywhere in
// the text; otherwise the intermediary itself is assigned and the entry is
// flagged for review.
func IntermediaryRule(e *model.DraftEntry, env *Env) (Match, bool) {
	var intermediary *model.Contact
	for i := range env.Contacts {
		ct := &env.Contacts[i]
		if ct.IsPaymentIntermediary && env.matchesName(ct, e.CounterpartyName) {
			intermediary = ct
			break
		}
	}
	if intermediary == nil {
		return Match{}, false
	}
	bySubject := env.candidates(func(ct *model.Contact) bool { return env.containsAlias(ct, e.Subject) })
	if len(bySubject) == 1 {
		return Match{ContactID: bySubject[0].ID}, true
	}
	return Match{ContactID: intermediary.ID, Ambiguous: true}, true
}

// EmptyCounterpartRule assigns the bank contact to entries without a
// counterpart name, such as account fees and interest.
func EmptyCounterpartRule(e *model.DraftEntry, env *Env) (Match, bool) {
	if env.BankContact == nil || strings.TrimSpace(e.CounterpartyName) != "" {
		return Match{}, false
	}
	return Match{ContactID: env.BankContact.ID}, true
}

// candidates returns the non-intermediary contacts accepted by fn, in name order.
func (env *Env) candidates(fn func(ct *model.Contact) bool) []*model.Contact {
	var out []*model.Contact
	for i := range env.Contacts {
		ct := &env.Contacts[i]
		if ct.IsPaymentIntermediary {
			continue
		}
		if fn(ct) {
			out = append(out, ct)
		}
	}
	return out
}

// ResolveContact runs rules in order and returns the first match. The
// returned ambiguity also reflects rules that did not apply.
func ResolveContact(e *model.DraftEntry, env *Env, rules []Rule) Match {
	ambiguous := false
	for _, r := range rules {
		m, ok := r(e, env)
		ambiguous = ambiguous || m.Ambiguous
		if ok {
			m.Ambiguous = ambiguous
			return m
		}
	}
	return Match{Ambiguous: ambiguous}
}
