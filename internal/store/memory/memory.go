// Package memory is an in-process store. Transactions work on a private copy
// of the state that replaces the published state on commit, so readers never
// observe a partial booking.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store"
)

// Store implements store.Store in memory.
type Store struct {
	txMu sync.Mutex // one writer at a time

	mu sync.RWMutex
	st *state // published state, never mutated after publication
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Seeder = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// InTx runs fn against a copy of the state and publishes the copy when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.current().clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

func (s *Store) write(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.InTx(ctx, func(_ context.Context, tx store.Tx) error { return fn(tx) })
}

func (s *Store) GetDraft(ctx context.Context, ownerID, id string) (*model.Draft, error) {
	return s.current().GetDraft(ctx, ownerID, id)
}

func (s *Store) SaveDraft(ctx context.Context, d *model.Draft) error {
	return s.write(ctx, func(tx store.Tx) error { return tx.SaveDraft(ctx, d) })
}

func (s *Store) DeleteDraft(ctx context.Context, ownerID, id string) error {
	return s.write(ctx, func(tx store.Tx) error { return tx.DeleteDraft(ctx, ownerID, id) })
}

func (s *Store) ListDrafts(ctx context.Context, ownerID string) ([]*model.Draft, error) {
	return s.current().ListDrafts(ctx, ownerID)
}

func (s *Store) DraftsByUploadGroup(ctx context.Context, ownerID, uploadGroupID string) ([]*model.Draft, error) {
	return s.current().DraftsByUploadGroup(ctx, ownerID, uploadGroupID)
}

func (s *Store) AddPostings(ctx context.Context, ps []model.Posting) error {
	return s.write(ctx, func(tx store.Tx) error { return tx.AddPostings(ctx, ps) })
}

func (s *Store) ListPostings(ctx context.Context, ownerID string) ([]model.Posting, error) {
	return s.current().ListPostings(ctx, ownerID)
}

func (s *Store) HasBankPosting(ctx context.Context, ownerID, accountID string, date time.Time, amount decimal.Decimal, subject string) (bool, error) {
	return s.current().HasBankPosting(ctx, ownerID, accountID, date, amount, subject)
}

func (s *Store) AddToAggregate(ctx context.Context, key model.AggregateKey, delta decimal.Decimal) error {
	return s.write(ctx, func(tx store.Tx) error { return tx.AddToAggregate(ctx, key, delta) })
}

func (s *Store) GetAggregate(ctx context.Context, key model.AggregateKey) (model.PostingAggregate, error) {
	return s.current().GetAggregate(ctx, key)
}

func (s *Store) ListAggregates(ctx context.Context, ownerID string) ([]model.PostingAggregate, error) {
	return s.current().ListAggregates(ctx, ownerID)
}

func (s *Store) DeleteAggregates(ctx context.Context, ownerID string) error {
	return s.write(ctx, func(tx store.Tx) error { return tx.DeleteAggregates(ctx, ownerID) })
}

func (s *Store) Accounts(ctx context.Context, ownerID string) ([]model.Account, error) {
	return s.current().Accounts(ctx, ownerID)
}

func (s *Store) Contacts(ctx context.Context, ownerID string) ([]model.Contact, error) {
	return s.current().Contacts(ctx, ownerID)
}

func (s *Store) Securities(ctx context.Context, ownerID string) ([]model.Security, error) {
	return s.current().Securities(ctx, ownerID)
}

func (s *Store) SavingsPlans(ctx context.Context, ownerID string) ([]model.SavingsPlan, error) {
	return s.current().SavingsPlans(ctx, ownerID)
}

func (s *Store) ArchiveSavingsPlan(ctx context.Context, ownerID, id string) error {
	return s.write(ctx, func(tx store.Tx) error { return tx.ArchiveSavingsPlan(ctx, ownerID, id) })
}

// SetMasterData replaces all master data of owner.
func (s *Store) SetMasterData(ctx context.Context, ownerID string, accounts []model.Account, contacts []model.Contact, securities []model.Security, plans []model.SavingsPlan) error {
	return s.InTx(ctx, func(_ context.Context, tx store.Tx) error {
		st := tx.(*state)
		st.replaceMasterData(ownerID, accounts, contacts, securities, plans)
		return nil
	})
}

// state is the full store content. Inside a transaction it is private to the
// writer and mutated freely.
type state struct {
	Drafts       map[string]*model.Draft
	Postings     []model.Posting
	Aggregates   map[model.AggregateKey]decimal.Decimal
	accounts     []model.Account
	contacts     []model.Contact
	securities   []model.Security
	savingsPlans []model.SavingsPlan
}

func newState() *state {
	return &state{
		Drafts:     make(map[string]*model.Draft),
		Aggregates: make(map[model.AggregateKey]decimal.Decimal),
	}
}

func (st *state) clone() *state {
	c := &state{
		Drafts:       make(map[string]*model.Draft, len(st.Drafts)),
		Postings:     slices.Clone(st.Postings),
		Aggregates:   make(map[model.AggregateKey]decimal.Decimal, len(st.Aggregates)),
		accounts:     slices.Clone(st.accounts),
		contacts:     cloneContacts(st.contacts),
		securities:   slices.Clone(st.securities),
		savingsPlans: slices.Clone(st.savingsPlans),
	}
	for id, d := range st.Drafts {
		c.Drafts[id] = d.Clone()
	}
	for k, v := range st.Aggregates {
		c.Aggregates[k] = v
	}
	return c
}

func cloneContacts(in []model.Contact) []model.Contact {
	out := slices.Clone(in)
	for i := range out {
		out[i].AliasPatterns = slices.Clone(out[i].AliasPatterns)
	}
	return out
}

func (st *state) GetDraft(_ context.Context, ownerID, id string) (*model.Draft, error) {
	d, ok := st.Drafts[id]
	if !ok || d.OwnerID != ownerID {
		return nil, fmt.Errorf("draft %s: %w", id, store.ErrNotFound)
	}
	return d.Clone(), nil
}

func (st *state) SaveDraft(_ context.Context, d *model.Draft) error {
	if d.ID == "" {
		return fmt.Errorf("saving draft: empty id")
	}
	if cur, ok := st.Drafts[d.ID]; ok && cur.OwnerID != d.OwnerID {
		return fmt.Errorf("draft %s: %w", d.ID, store.ErrNotFound)
	}
	st.Drafts[d.ID] = d.Clone()
	return nil
}

func (st *state) DeleteDraft(_ context.Context, ownerID, id string) error {
	d, ok := st.Drafts[id]
	if !ok || d.OwnerID != ownerID {
		return fmt.Errorf("draft %s: %w", id, store.ErrNotFound)
	}
	delete(st.Drafts, id)
	return nil
}

// ListDrafts returns the owner's drafts oldest first.
func (st *state) ListDrafts(_ context.Context, ownerID string) ([]*model.Draft, error) {
	return st.drafts(func(d *model.Draft) bool { return d.OwnerID == ownerID }), nil
}

func (st *state) DraftsByUploadGroup(_ context.Context, ownerID, uploadGroupID string) ([]*model.Draft, error) {
	if uploadGroupID == "" {
		return nil, nil
	}
	return st.drafts(func(d *model.Draft) bool {
		return d.OwnerID == ownerID && d.UploadGroupID == uploadGroupID
	}), nil
}

func (st *state) drafts(keep func(d *model.Draft) bool) []*model.Draft {
	var out []*model.Draft
	for _, d := range st.Drafts {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *model.Draft) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (st *state) AddPostings(_ context.Context, ps []model.Posting) error {
	seen := make(map[string]bool, len(st.Postings))
	for _, p := range st.Postings {
		seen[p.ID] = true
	}
	for _, p := range ps {
		if seen[p.ID] {
			return fmt.Errorf("posting %s already exists", p.ID)
		}
		seen[p.ID] = true
	}
	st.Postings = append(st.Postings, ps...)
	return nil
}

func (st *state) ListPostings(_ context.Context, ownerID string) ([]model.Posting, error) {
	var out []model.Posting
	for _, p := range st.Postings {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (st *state) HasBankPosting(_ context.Context, ownerID, accountID string, date time.Time, amount decimal.Decimal, subject string) (bool, error) {
	for _, p := range st.Postings {
		if p.OwnerID == ownerID && p.Kind == model.PostingKindBank && p.AccountID == accountID &&
			p.BookingDate.Equal(date) && p.Amount.Equal(amount) && p.Subject == subject {
			return true, nil
		}
	}
	return false, nil
}

func (st *state) AddToAggregate(_ context.Context, key model.AggregateKey, delta decimal.Decimal) error {
	key.PeriodStart = key.PeriodStart.UTC()
	st.Aggregates[key] = st.Aggregates[key].Add(delta)
	return nil
}

func (st *state) GetAggregate(_ context.Context, key model.AggregateKey) (model.PostingAggregate, error) {
	key.PeriodStart = key.PeriodStart.UTC()
	v, ok := st.Aggregates[key]
	if !ok {
		return model.PostingAggregate{}, fmt.Errorf("aggregate: %w", store.ErrNotFound)
	}
	return model.PostingAggregate{AggregateKey: key, Amount: v}, nil
}

// ListAggregates returns the owner's aggregates ordered by kind, entity,
// period and period start.
func (st *state) ListAggregates(_ context.Context, ownerID string) ([]model.PostingAggregate, error) {
	var out []model.PostingAggregate
	for k, v := range st.Aggregates {
		if k.OwnerID == ownerID {
			out = append(out, model.PostingAggregate{AggregateKey: k, Amount: v})
		}
	}
	slices.SortFunc(out, compareAggregates)
	return out, nil
}

func compareAggregates(a, b model.PostingAggregate) int {
	for _, c := range []int{
		strings.Compare(string(a.Kind), string(b.Kind)),
		strings.Compare(a.AccountID+a.ContactID+a.SavingsPlanID+a.SecurityID, b.AccountID+b.ContactID+b.SavingsPlanID+b.SecurityID),
		strings.Compare(string(a.SecuritySubType), string(b.SecuritySubType)),
		strings.Compare(string(a.Period), string(b.Period)),
		a.PeriodStart.Compare(b.PeriodStart),
	} {
		if c != 0 {
			return c
		}
	}
	return 0
}

func (st *state) DeleteAggregates(_ context.Context, ownerID string) error {
	for k := range st.Aggregates {
		if k.OwnerID == ownerID {
			delete(st.Aggregates, k)
		}
	}
	return nil
}

func (st *state) Accounts(_ context.Context, ownerID string) ([]model.Account, error) {
	return filterOwner(st.accounts, func(a model.Account) string { return a.OwnerID }, ownerID), nil
}

func (st *state) Contacts(_ context.Context, ownerID string) ([]model.Contact, error) {
	return cloneContacts(filterOwner(st.contacts, func(c model.Contact) string { return c.OwnerID }, ownerID)), nil
}

func (st *state) Securities(_ context.Context, ownerID string) ([]model.Security, error) {
	return filterOwner(st.securities, func(s model.Security) string { return s.OwnerID }, ownerID), nil
}

func (st *state) SavingsPlans(_ context.Context, ownerID string) ([]model.SavingsPlan, error) {
	return filterOwner(st.savingsPlans, func(p model.SavingsPlan) string { return p.OwnerID }, ownerID), nil
}

func (st *state) ArchiveSavingsPlan(_ context.Context, ownerID, id string) error {
	for i := range st.savingsPlans {
		p := &st.savingsPlans[i]
		if p.ID == id && p.OwnerID == ownerID {
			p.Archived = true
			return nil
		}
	}
	return fmt.Errorf("savings plan %s: %w", id, store.ErrNotFound)
}

func (st *state) replaceMasterData(ownerID string, accounts []model.Account, contacts []model.Contact, securities []model.Security, plans []model.SavingsPlan) {
	st.accounts = append(slices.DeleteFunc(st.accounts, func(a model.Account) bool { return a.OwnerID == ownerID }), accounts...)
	st.contacts = append(slices.DeleteFunc(st.contacts, func(c model.Contact) bool { return c.OwnerID == ownerID }), cloneContacts(contacts)...)
	st.securities = append(slices.DeleteFunc(st.securities, func(s model.Security) bool { return s.OwnerID == ownerID }), securities...)
	st.savingsPlans = append(slices.DeleteFunc(st.savingsPlans, func(p model.SavingsPlan) bool { return p.OwnerID == ownerID }), plans...)
}

func filterOwner[T any](in []T, owner func(T) string, ownerID string) []T {
	var out []T
	for _, v := range in {
		if owner(v) == ownerID {
			out = append(out, v)
		}
	}
	return out
}
