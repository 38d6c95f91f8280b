// Package classify resolves draft entries against the owner's master data:
// the statement account, the contact behind each counterpart name and the
// security a trade refers to. Non-matches leave fields unset; nothing here
// returns an error.
package classify

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// Context is the master data of one owner, indexed for classification. It is
// read-only once built and safe to share between goroutines.
type Context struct {
	Accounts   []model.Account
	Contacts   []model.Contact
	Securities []model.Security

	accountsByID map[string]*model.Account
	contactsByID map[string]*model.Contact
	patterns     map[string][]*regexp.Regexp // contact id -> compiled aliases
	searches     map[string][]*regexp.Regexp // contact id -> aliases matching anywhere in a text
}

// NewContext indexes master data. Contacts are kept sorted by name so that
// ties resolve deterministically.
func NewContext(accounts []model.Account, contacts []model.Contact, securities []model.Security) *Context {
	c := &Context{
		Accounts:     append([]model.Account(nil), accounts...),
		Contacts:     append([]model.Contact(nil), contacts...),
		Securities:   append([]model.Security(nil), securities...),
		accountsByID: make(map[string]*model.Account),
		contactsByID: make(map[string]*model.Contact),
		patterns:     make(map[string][]*regexp.Regexp),
		searches:     make(map[string][]*regexp.Regexp),
	}
	sort.SliceStable(c.Contacts, func(i, j int) bool {
		return strings.ToLower(c.Contacts[i].Name) < strings.ToLower(c.Contacts[j].Name)
	})
	sort.SliceStable(c.Securities, func(i, j int) bool {
		return strings.ToLower(c.Securities[i].Name) < strings.ToLower(c.Securities[j].Name)
	})
	for i := range c.Accounts {
		c.accountsByID[c.Accounts[i].ID] = &c.Accounts[i]
	}
	for i := range c.Contacts {
		ct := &c.Contacts[i]
		c.contactsByID[ct.ID] = ct
		for _, a := range ct.AliasPatterns {
			if re := compileGlob(a, true); re != nil {
				c.patterns[ct.ID] = append(c.patterns[ct.ID], re)
			}
			if re := compileGlob(a, false); re != nil {
				c.searches[ct.ID] = append(c.searches[ct.ID], re)
			}
		}
	}
	return c
}

// Account returns the account with id, or nil.
func (c *Context) Account(id string) *model.Account {
	return c.accountsByID[id]
}

// Contact returns the contact with id, or nil.
func (c *Context) Contact(id string) *model.Contact {
	return c.contactsByID[id]
}

// compileGlob turns an alias pattern into a case-insensitive regexp: '*'
// matches any run of characters, '?' exactly one. An anchored regexp must
// cover the whole text.
func compileGlob(pattern string, anchored bool) *regexp.Regexp {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil
	}
	var b strings.Builder
	b.WriteString("(?is)")
	if anchored {
		b.WriteString("^")
	}
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if anchored {
		b.WriteString("$")
	}
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return re
}

// matchesName reports whether text equals the contact name or matches one of
// its alias patterns.
func (c *Context) matchesName(ct *model.Contact, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	if strings.EqualFold(text, strings.TrimSpace(ct.Name)) {
		return true
	}
	return c.matchesAlias(ct, text)
}

func (c *Context) matchesAlias(ct *model.Contact, text string) bool {
	return anyMatch(c.patterns[ct.ID], text)
}

// containsAlias reports whether one of the contact's alias patterns occurs
// anywhere in text.
func (c *Context) containsAlias(ct *model.Contact, text string) bool {
	return anyMatch(c.searches[ct.ID], text)
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
