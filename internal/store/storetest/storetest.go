// Package storetest holds the behavioural tests every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store"
)

// Store is what the contract needs from an implementation.
type Store interface {
	store.Store
	store.Seeder
}

// Run executes the contract against s. Records use fresh ids so a shared
// database can be reused between runs.
func Run(t *testing.T, s Store) {
	t.Run("Drafts", func(t *testing.T) { testDrafts(t, s) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, s) })
	t.Run("Postings", func(t *testing.T) { testPostings(t, s) })
	t.Run("Aggregates", func(t *testing.T) { testAggregates(t, s) })
	t.Run("ConcurrentAggregates", func(t *testing.T) { testConcurrentAggregates(t, s) })
	t.Run("MasterData", func(t *testing.T) { testMasterData(t, s) })
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newDraft(owner, group string, created time.Time) *model.Draft {
	return &model.Draft{
		ID:               uuid.NewString(),
		OwnerID:          owner,
		OriginalFileName: "statement.csv",
		UploadGroupID:    group,
		Status:           model.DraftStatusDraft,
		CreatedAt:        created,
		Entries: []*model.DraftEntry{{
			ID:          uuid.NewString(),
			BookingDate: day(2025, 1, 2),
			ValutaDate:  day(2025, 1, 2),
			Amount:      decimal.RequireFromString("-12.34"),
			Subject:     "Einkauf",
			Status:      model.EntryStatusOpen,
			Quantity:    decimal.NewNullDecimal(decimal.RequireFromString("1.5")),
		}},
	}
}

func testDrafts(t *testing.T, s Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	group := uuid.NewString()

	d1 := newDraft(owner, group, day(2025, 1, 1))
	d2 := newDraft(owner, group, day(2025, 1, 2))
	d3 := newDraft(owner, "", day(2025, 1, 3))
	for _, d := range []*model.Draft{d2, d1, d3} {
		require.NoError(t, s.SaveDraft(ctx, d))
	}

	got, err := s.GetDraft(ctx, owner, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, d1.ID, got.ID)
	require.Len(t, got.Entries, 1)
	assert.True(t, got.Entries[0].Amount.Equal(decimal.RequireFromString("-12.34")))
	assert.True(t, got.Entries[0].Quantity.Valid)

	// Returned drafts are copies.
	got.Entries[0].Subject = "changed"
	again, err := s.GetDraft(ctx, owner, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Einkauf", again.Entries[0].Subject)

	_, err = s.GetDraft(ctx, "someone-else", d1.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListDrafts(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{d1.ID, d2.ID, d3.ID}, []string{list[0].ID, list[1].ID, list[2].ID})

	grouped, err := s.DraftsByUploadGroup(ctx, owner, group)
	require.NoError(t, err)
	assert.Len(t, grouped, 2)
	none, err := s.DraftsByUploadGroup(ctx, owner, "")
	require.NoError(t, err)
	assert.Empty(t, none)

	got.Status = model.DraftStatusCommitted
	require.NoError(t, s.SaveDraft(ctx, got))
	again, err = s.GetDraft(ctx, owner, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusCommitted, again.Status)

	require.NoError(t, s.DeleteDraft(ctx, owner, d3.ID))
	assert.ErrorIs(t, s.DeleteDraft(ctx, owner, d3.ID), store.ErrNotFound)
	_, err = s.GetDraft(ctx, owner, d3.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRollback(t *testing.T, s Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	d := newDraft(owner, "", day(2025, 2, 1))
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.SaveDraft(ctx, d))
		require.NoError(t, tx.AddPostings(ctx, []model.Posting{{
			ID: uuid.NewString(), OwnerID: owner, Kind: model.PostingKindBank, AccountID: "a",
			BookingDate: day(2025, 2, 1), ValutaDate: day(2025, 2, 1), Amount: decimal.NewFromInt(1), GroupID: "g",
		}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetDraft(ctx, owner, d.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	ps, err := s.ListPostings(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func testPostings(t *testing.T, s Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	ps := []model.Posting{
		{ID: uuid.NewString(), OwnerID: owner, Kind: model.PostingKindBank, AccountID: "acc", BookingDate: day(2025, 3, 1),
			ValutaDate: day(2025, 3, 2), Amount: decimal.RequireFromString("-1000"), GroupID: "g1", Subject: "Kauf"},
		{ID: uuid.NewString(), OwnerID: owner, Kind: model.PostingKindSecurity, SecurityID: "sec", BookingDate: day(2025, 3, 1),
			ValutaDate: day(2025, 3, 2), Amount: decimal.RequireFromString("-992.5"), GroupID: "g1",
			SecuritySubType: model.SecuritySubTypeBuy, Quantity: decimal.NewNullDecimal(decimal.RequireFromString("1.123456"))},
	}
	require.NoError(t, s.AddPostings(ctx, ps))

	got, err := s.ListPostings(ctx, owner)
	require.NoError(t, err)
	require.Len(t, got, 2)
	var sec model.Posting
	for _, p := range got {
		if p.Kind == model.PostingKindSecurity {
			sec = p
		}
	}
	assert.Equal(t, model.SecuritySubTypeBuy, sec.SecuritySubType)
	assert.True(t, sec.Quantity.Decimal.Equal(decimal.RequireFromString("1.123456")))
	assert.True(t, sec.Amount.Equal(decimal.RequireFromString("-992.50")))

	ok, err := s.HasBankPosting(ctx, owner, "acc", day(2025, 3, 1), decimal.RequireFromString("-1000.00"), "Kauf")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.HasBankPosting(ctx, owner, "acc", day(2025, 3, 1), decimal.RequireFromString("-1000"), "Verkauf")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.HasBankPosting(ctx, owner, "sec", day(2025, 3, 1), decimal.RequireFromString("-992.5"), "")
	require.NoError(t, err)
	assert.False(t, ok, "only bank legs count")

	assert.Error(t, s.AddPostings(ctx, ps[:1]), "posting ids are unique")
}

func aggKey(owner string, start time.Time) model.AggregateKey {
	return model.AggregateKey{
		OwnerID: owner, Kind: model.PostingKindContact, ContactID: "c1",
		Period: model.PeriodMonth, PeriodStart: start,
	}
}

func testAggregates(t *testing.T, s Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	k := aggKey(owner, day(2025, 4, 1))

	_, err := s.GetAggregate(ctx, k)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.AddToAggregate(ctx, k, decimal.RequireFromString("10.50")))
	require.NoError(t, s.AddToAggregate(ctx, k, decimal.RequireFromString("-0.25")))
	require.NoError(t, s.AddToAggregate(ctx, aggKey(owner, day(2025, 5, 1)), decimal.NewFromInt(1)))

	got, err := s.GetAggregate(ctx, k)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("10.25")), got.Amount.String())

	list, err := s.ListAggregates(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, day(2025, 4, 1), list[0].PeriodStart)

	require.NoError(t, s.DeleteAggregates(ctx, owner))
	list, err = s.ListAggregates(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testConcurrentAggregates(t *testing.T, s Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	k := aggKey(owner, day(2025, 6, 1))

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
				return tx.AddToAggregate(ctx, k, decimal.RequireFromString("1.10"))
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetAggregate(ctx, k)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("44")), got.Amount.String())
}

func testMasterData(t *testing.T, s Store) {
	ctx := context.Background()
	owner := uuid.NewString()
	id := func(p string) string { return p + "-" + owner }

	require.NoError(t, s.SetMasterData(ctx, owner,
		[]model.Account{{ID: id("acc"), OwnerID: owner, Name: "Giro", IBAN: "DE12", BankContactID: id("bank")}},
		[]model.Contact{
			{ID: id("bank"), OwnerID: owner, Name: "ING", Type: model.ContactTypeBank},
			{ID: id("pp"), OwnerID: owner, Name: "PayPal", Type: model.ContactTypeOrganization, AliasPatterns: []string{"PayPal*"}, IsPaymentIntermediary: true},
		},
		[]model.Security{{ID: id("sec"), OwnerID: owner, Name: "World", Identifier: "IE00B4L5Y983"}},
		[]model.SavingsPlan{{ID: id("plan"), OwnerID: owner, Name: "Urlaub"}},
	))

	accounts, err := s.Accounts(ctx, owner)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, id("bank"), accounts[0].BankContactID)

	contacts, err := s.Contacts(ctx, owner)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "PayPal", contacts[1].Name)
	assert.Equal(t, []string{"PayPal*"}, contacts[1].AliasPatterns)
	assert.True(t, contacts[1].IsPaymentIntermediary)

	secs, err := s.Securities(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, secs, 1)

	require.NoError(t, s.ArchiveSavingsPlan(ctx, owner, id("plan")))
	plans, err := s.SavingsPlans(ctx, owner)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.True(t, plans[0].Archived)
	assert.ErrorIs(t, s.ArchiveSavingsPlan(ctx, owner, "missing"), store.ErrNotFound)

	// Replacing drops what is no longer listed.
	require.NoError(t, s.SetMasterData(ctx, owner, nil, nil, nil, nil))
	accounts, err = s.Accounts(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}
