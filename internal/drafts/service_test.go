package drafts

import (
	"context"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muesli84/FinanceManager-sub001/internal/importer"
	"github.com/Muesli84/FinanceManager-sub001/internal/keylock"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store/memory"
)

const owner = "owner-1"

// fakeReader answers only for data equal to its name.
type fakeReader struct {
	name string
	res  model.ParseResult
}

func (f fakeReader) Name() string { return f.name }

func (f fakeReader) Parse(_ string, data []byte) *model.ParseResult {
	if string(data) != f.name {
		return nil
	}
	res := f.res
	res.Movements = slices.Clone(f.res.Movements)
	return &res
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var bankStatement = fakeReader{name: "bank", res: model.ParseResult{
	Header: model.Header{AccountNumber: "DE02 1203 0000 0000 2020 51", Description: "Girokonto"},
	Movements: []model.Movement{
		{BookingDate: day(2025, 3, 1), Amount: amt("-42.00"), Subject: "Rechnung 123", CounterpartyName: "PayPal"},
		{BookingDate: day(2025, 3, 2), Amount: amt("-10.00"), Subject: "Pizza", CounterpartyName: "Alice Example"},
		{BookingDate: day(2025, 3, 3), Amount: amt("1"), Subject: "broken", IsError: true},
		{BookingDate: day(2099, 1, 1), Amount: amt("-5.00"), Subject: "Lastschrift", CounterpartyName: "Alice Example"},
	},
}}

var splitStatement = fakeReader{name: "split", res: model.ParseResult{
	Movements: []model.Movement{
		{BookingDate: day(2025, 3, 1), Amount: amt("-30.00"), Subject: "Buch", CounterpartyName: "Alice"},
		{BookingDate: day(2025, 3, 1), Amount: amt("-12.00"), Subject: "Rechnung 123", CounterpartyName: "Shop"},
	},
}}

type fixture struct {
	svc   *Service
	store *memory.Store
	locks *keylock.Table
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.SetMasterData(ctx, owner,
		[]model.Account{{ID: "acc", OwnerID: owner, Name: "Giro", IBAN: "DE02120300000000202051", BankContactID: "bank"}},
		[]model.Contact{
			{ID: "self", OwnerID: owner, Name: "Me", Type: model.ContactTypeSelf},
			{ID: "bank", OwnerID: owner, Name: "Testbank", Type: model.ContactTypeBank},
			{ID: "alice", OwnerID: owner, Name: "Alice", Type: model.ContactTypePerson, AliasPatterns: []string{"Alice*"}},
			{ID: "paypal", OwnerID: owner, Name: "PayPal", Type: model.ContactTypeOrganization, IsPaymentIntermediary: true},
			{ID: "shop", OwnerID: owner, Name: "Shop", Type: model.ContactTypeOrganization, AliasPatterns: []string{"Rechnung*"}},
		},
		[]model.Security{{ID: "world", OwnerID: owner, Name: "iShares Core MSCI World", Identifier: "IE00B4L5Y983"}},
		[]model.SavingsPlan{
			{ID: "plan", OwnerID: owner, Name: "Urlaub"},
			{ID: "old", OwnerID: owner, Name: "Auto", Archived: true},
		},
	))

	reg := importer.NewRegistry("EUR")
	reg.Register(bankStatement)
	reg.Register(splitStatement)
	reg.Register(&importer.TradeReader{})

	locks := &keylock.Table{}
	return fixture{svc: NewService(st, reg, locks, opts...), store: st, locks: locks}
}

func (f fixture) upload(t *testing.T, files ...string) []*model.Draft {
	t.Helper()
	var ups []UploadFile
	for _, name := range files {
		ups = append(ups, UploadFile{Name: name + ".csv", Data: []byte(name)})
	}
	var out []*model.Draft
	for d, err := range f.svc.CreateFromUpload(context.Background(), owner, ups) {
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func TestCreateFromUpload(t *testing.T) {
	f := newFixture(t, WithClock(func() time.Time { return day(2025, 3, 10) }), WithOriginalContent(true))
	drafts := f.upload(t, "bank")
	require.Len(t, drafts, 1)
	d := drafts[0]

	assert.Equal(t, "acc", d.AccountID)
	assert.Empty(t, d.UploadGroupID, "a single file has no upload group")
	assert.Equal(t, "bank.csv", d.OriginalFileName)
	assert.Equal(t, []byte("bank"), d.OriginalContent)
	assert.Equal(t, day(2025, 3, 10), d.CreatedAt)
	assert.Equal(t, model.DraftStatusDraft, d.Status)

	require.Len(t, d.Entries, 3, "error movements are dropped")
	assert.Equal(t, "shop", d.Entries[0].ContactID, "intermediary resolved through the subject")
	assert.Equal(t, "alice", d.Entries[1].ContactID)
	assert.Equal(t, model.EntryStatusOpen, d.Entries[1].Status)
	assert.Equal(t, model.EntryStatusAnnounced, d.Entries[2].Status)
	assert.Equal(t, "EUR", d.Entries[0].CurrencyCode)

	stored, err := f.svc.Get(context.Background(), owner, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Entries[0].ID, stored.Entries[0].ID)
}

func TestCreateFromUpload_UploadGroup(t *testing.T) {
	f := newFixture(t)
	drafts := f.upload(t, "bank", "split")
	require.Len(t, drafts, 2)
	assert.NotEmpty(t, drafts[0].UploadGroupID)
	assert.Equal(t, drafts[0].UploadGroupID, drafts[1].UploadGroupID)
}

func TestCreateFromUpload_ErrorsContinue(t *testing.T) {
	f := newFixture(t)
	files := []UploadFile{
		{Name: "junk.csv", Data: []byte("nothing to see")},
		{Name: "bank.csv", Data: []byte("bank")},
	}
	var errs []error
	var created []*model.Draft
	for d, err := range f.svc.CreateFromUpload(context.Background(), owner, files) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		created = append(created, d)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], importer.ErrUnrecognizedFormat)
	assert.Len(t, created, 1)
}

func TestCreateFromUpload_Lazy(t *testing.T) {
	f := newFixture(t)
	seq := f.svc.CreateFromUpload(context.Background(), owner, []UploadFile{
		{Name: "a", Data: []byte("bank")},
		{Name: "b", Data: []byte("split")},
	})

	list, err := f.svc.List(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, list, "nothing happens before iteration")

	for range seq {
		break
	}
	list, err = f.svc.List(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateFromUpload_Canceled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var errs []error
	for _, err := range f.svc.CreateFromUpload(ctx, owner, []UploadFile{{Name: "a", Data: []byte("bank")}, {Name: "b", Data: []byte("bank")}}) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
}

func TestCreateFromUpload_Duplicates(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.AddPostings(context.Background(), []model.Posting{{
		ID: "2025-03-x.a", OwnerID: owner, Kind: model.PostingKindBank, AccountID: "acc",
		BookingDate: day(2025, 3, 2), Amount: amt("-10"), Subject: "Pizza",
	}}))

	d := f.upload(t, "bank")[0]
	assert.Equal(t, model.EntryStatusOpen, d.Entries[0].Status)
	assert.Equal(t, model.EntryStatusAlreadyBooked, d.Entries[1].Status)
}

func TestClassify_KeepsUserChoices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.upload(t, "bank")[0]

	_, err := f.svc.SetEntryContact(ctx, owner, d.ID, d.Entries[1].ID, "self")
	require.NoError(t, err)
	_, err = f.svc.SetEntryContact(ctx, owner, d.ID, d.Entries[0].ID, "")
	require.NoError(t, err)

	sum, err := f.svc.Classify(ctx, owner, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ContactsAssigned)

	got, err := f.svc.Get(ctx, owner, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "shop", got.Entries[0].ContactID)
	assert.Equal(t, "self", got.Entries[1].ContactID)

	_, err = f.svc.Classify(ctx, owner, "missing")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestInvalidateMasterData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.upload(t, "split")[0]
	require.Equal(t, "alice", d.Entries[0].ContactID)

	// The cached context does not see the new alias until invalidated.
	require.NoError(t, f.store.SetMasterData(ctx, owner,
		[]model.Account{{ID: "acc", OwnerID: owner, Name: "Giro"}},
		[]model.Contact{{ID: "books", OwnerID: owner, Name: "Books", Type: model.ContactTypeOrganization, AliasPatterns: []string{"Buch"}}},
		nil, nil))
	_, err := f.svc.SetEntryContact(ctx, owner, d.ID, d.Entries[0].ID, "")
	require.NoError(t, err)

	_, err = f.svc.Classify(ctx, owner, d.ID)
	require.NoError(t, err)
	got, _ := f.svc.Get(ctx, owner, d.ID)
	assert.Equal(t, "alice", got.Entries[0].ContactID)

	f.svc.InvalidateMasterData(owner)
	_, err = f.svc.SetEntryContact(ctx, owner, d.ID, d.Entries[0].ID, "")
	require.NoError(t, err)
	_, err = f.svc.Classify(ctx, owner, d.ID)
	require.NoError(t, err)
	got, _ = f.svc.Get(ctx, owner, d.ID)
	assert.Equal(t, "books", got.Entries[0].ContactID)
}

func TestEdits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.upload(t, "bank")[0]
	e := d.Entries[1]

	_, err := f.svc.SetEntryContact(ctx, owner, d.ID, e.ID, "nobody")
	assert.ErrorIs(t, err, ErrUnknownReference)
	_, err = f.svc.SetEntryContact(ctx, owner, d.ID, "missing", "alice")
	assert.ErrorIs(t, err, ErrEntryNotFound)

	_, err = f.svc.SetEntrySavingsPlan(ctx, owner, d.ID, e.ID, "old")
	assert.ErrorIs(t, err, ErrUnknownReference, "archived plans cannot be assigned")
	_, err = f.svc.SetArchiveOnBooking(ctx, owner, d.ID, e.ID, true)
	assert.ErrorIs(t, err, ErrUnknownReference)
	_, err = f.svc.SetEntrySavingsPlan(ctx, owner, d.ID, e.ID, "plan")
	require.NoError(t, err)
	got, err := f.svc.SetArchiveOnBooking(ctx, owner, d.ID, e.ID, true)
	require.NoError(t, err)
	assert.True(t, got.ArchiveOnBooking)

	_, err = f.svc.SetAccount(ctx, owner, d.ID, "nope")
	assert.ErrorIs(t, err, ErrUnknownReference)
	updated, err := f.svc.SetAccount(ctx, owner, d.ID, "")
	require.NoError(t, err)
	assert.Empty(t, updated.AccountID)
}

func TestSetEntrySecurity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.upload(t, "bank")[0]
	e := d.Entries[1]

	got, err := f.svc.SetEntrySecurity(ctx, owner, d.ID, e.ID, SecurityAssignment{
		SecurityID: "world",
		Quantity:   decimal.NewNullDecimal(amt("-1.12345678")),
		Fee:        decimal.NewNullDecimal(amt("1")),
	})
	require.NoError(t, err)
	assert.Equal(t, "1.123457", got.Quantity.Decimal.String())
	assert.Equal(t, model.SecurityTxBuy, got.TransactionType, "outflow inferred as buy")

	_, err = f.svc.SetEntrySecurity(ctx, owner, d.ID, e.ID, SecurityAssignment{SecurityID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownReference)

	cleared, err := f.svc.SetEntrySecurity(ctx, owner, d.ID, e.ID, SecurityAssignment{})
	require.NoError(t, err)
	assert.Empty(t, cleared.SecurityID)
	assert.False(t, cleared.Quantity.Valid)
	assert.False(t, cleared.FeeAmount.Valid)
}

func TestApplyTradeDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.upload(t, "bank")[0]
	data, err := os.ReadFile("../importer/testdata/trade_buy.txt")
	require.NoError(t, err)

	got, err := f.svc.ApplyTradeDocument(ctx, owner, d.ID, d.Entries[1].ID, "trade_buy.txt", data)
	require.NoError(t, err)
	assert.Equal(t, "world", got.SecurityID)
	assert.Equal(t, model.SecurityTxBuy, got.TransactionType)
	assert.Equal(t, "1.123456", got.Quantity.Decimal.String())
	assert.Equal(t, "2.5", got.FeeAmount.Decimal.String())
	assert.Equal(t, "5", got.TaxAmount.Decimal.String())

	_, err = f.svc.ApplyTradeDocument(ctx, owner, d.ID, d.Entries[1].ID, "x.txt", []byte("no trade"))
	assert.ErrorIs(t, err, importer.ErrUnrecognizedFormat)
}

func TestAssignSplitDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parent := f.upload(t, "bank")[0]
	child := f.upload(t, "split")[0]
	entry := parent.Entries[0]

	_, err := f.svc.AssignSplitDraft(ctx, owner, parent.ID, entry.ID, parent.ID)
	assert.ErrorIs(t, err, ErrSelfSplit)
	_, err = f.svc.AssignSplitDraft(ctx, owner, parent.ID, entry.ID, "missing")
	assert.ErrorIs(t, err, ErrDraftNotFound)

	got, err := f.svc.AssignSplitDraft(ctx, owner, parent.ID, entry.ID, child.ID)
	require.NoError(t, err)
	assert.Equal(t, child.ID, got.SplitDraftID)

	// relinking the same entry is fine, a second entry is not
	_, err = f.svc.AssignSplitDraft(ctx, owner, parent.ID, entry.ID, child.ID)
	require.NoError(t, err)
	_, err = f.svc.AssignSplitDraft(ctx, owner, parent.ID, parent.Entries[1].ID, child.ID)
	assert.ErrorIs(t, err, ErrSplitInUse)

	// cancelling the child unlinks it
	require.NoError(t, f.svc.Cancel(ctx, owner, child.ID))
	reloaded, err := f.svc.Get(ctx, owner, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Entry(entry.ID).SplitDraftID)
	_, err = f.svc.Get(ctx, owner, child.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestAssignSplitDraft_SameUploadGroup(t *testing.T) {
	f := newFixture(t)
	ds := f.upload(t, "bank", "split")
	_, err := f.svc.AssignSplitDraft(context.Background(), owner, ds[0].ID, ds[0].Entries[0].ID, ds[1].ID)
	assert.ErrorIs(t, err, ErrSelfSplit)
}

func TestCommittedDraftIsImmutable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.upload(t, "bank")[0]
	d.Status = model.DraftStatusCommitted
	require.NoError(t, f.store.SaveDraft(ctx, d))

	_, err := f.svc.SetEntryContact(ctx, owner, d.ID, d.Entries[0].ID, "alice")
	assert.ErrorIs(t, err, ErrDraftCommitted)
	_, err = f.svc.Classify(ctx, owner, d.ID)
	assert.ErrorIs(t, err, ErrDraftCommitted)
	assert.ErrorIs(t, f.svc.Cancel(ctx, owner, d.ID), ErrDraftCommitted)
}
