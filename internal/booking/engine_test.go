package booking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muesli84/FinanceManager-sub001/internal/keylock"
	"github.com/Muesli84/FinanceManager-sub001/internal/metrics"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store"
	"github.com/Muesli84/FinanceManager-sub001/internal/store/memory"
)

const owner = "u"

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(amt(s)) }

type fixture struct {
	t     *testing.T
	st    *memory.Store
	eng   *Engine
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.SetMasterData(context.Background(), owner,
		[]model.Account{{ID: "acc", OwnerID: owner, Name: "Giro", IBAN: "DE02120300000000202051", BankContactID: "bank"}},
		[]model.Contact{
			{ID: "self", OwnerID: owner, Name: "Me", Type: model.ContactTypeSelf},
			{ID: "bank", OwnerID: owner, Name: "Testbank", Type: model.ContactTypeBank},
			{ID: "alice", OwnerID: owner, Name: "Alice", Type: model.ContactTypePerson},
			{ID: "shop", OwnerID: owner, Name: "Shop", Type: model.ContactTypeOrganization},
			{ID: "broker", OwnerID: owner, Name: "Broker", Type: model.ContactTypeOrganization},
			{ID: "paypal", OwnerID: owner, Name: "PayPal", Type: model.ContactTypeOrganization, IsPaymentIntermediary: true},
		},
		[]model.Security{{ID: "world", OwnerID: owner, Name: "MSCI World", Identifier: "IE00B4L5Y983"}},
		[]model.SavingsPlan{{ID: "plan", OwnerID: owner, Name: "Urlaub"}},
	))
	return &fixture{t: t, st: st, eng: NewEngine(st, &keylock.Table{}), clock: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func entry(id, amount, contact string) *model.DraftEntry {
	return &model.DraftEntry{
		ID:          id,
		BookingDate: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
		Amount:      amt(amount),
		Subject:     "subject " + id,
		ContactID:   contact,
		Status:      model.EntryStatusOpen,
	}
}

func (f *fixture) draft(id, account, group string, entries ...*model.DraftEntry) *model.Draft {
	f.t.Helper()
	f.clock = f.clock.Add(time.Minute)
	d := &model.Draft{
		ID: id, OwnerID: owner, AccountID: account, UploadGroupID: group,
		Status: model.DraftStatusDraft, CreatedAt: f.clock, Entries: entries,
	}
	require.NoError(f.t, f.st.SaveDraft(context.Background(), d))
	return d
}

func (f *fixture) book(draftID, entryID string, confirm bool) Result {
	f.t.Helper()
	res, err := f.eng.Book(context.Background(), Request{OwnerID: owner, DraftID: draftID, EntryID: entryID, ConfirmSelfTransfer: confirm})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) postings() []model.Posting {
	f.t.Helper()
	ps, err := f.st.ListPostings(context.Background(), owner)
	require.NoError(f.t, err)
	return ps
}

func codes(res Result) []string {
	var out []string
	for _, m := range res.Messages {
		out = append(out, m.Code)
	}
	return out
}

func sumKind(ps []model.Posting, kind model.PostingKind) decimal.Decimal {
	s := decimal.Zero
	for _, p := range ps {
		if p.Kind == kind {
			s = s.Add(p.Amount)
		}
	}
	return s
}

func TestBook_SimpleEntry(t *testing.T) {
	f := newFixture(t)
	f.draft("d1", "acc", "", entry("e1", "-42.00", "alice"))

	res := f.book("d1", "", false)
	require.True(t, res.Success, "%v", res.Messages)
	assert.False(t, res.HasWarnings)
	require.Len(t, res.Postings, 2)

	bank, contact := res.Postings[0], res.Postings[1]
	assert.Equal(t, model.PostingKindBank, bank.Kind)
	assert.Equal(t, "acc", bank.AccountID)
	assert.Equal(t, model.PostingKindContact, contact.Kind)
	assert.Equal(t, "alice", contact.ContactID)
	assert.True(t, bank.Amount.Equal(contact.Amount), "contact mirrors bank")
	assert.Equal(t, bank.GroupID, contact.GroupID)
	assert.True(t, strings.HasPrefix(bank.GroupID, "2025-03-"))
	assert.Equal(t, bank.GroupID+".a", bank.ID)
	assert.Equal(t, "subject e1", bank.Subject)

	assert.Len(t, f.postings(), 2)
	d, err := f.st.GetDraft(context.Background(), owner, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusCommitted, d.Status)
	assert.Empty(t, d.Entries)

	agg, err := f.st.GetAggregate(context.Background(), model.AggregateKey{
		OwnerID: owner, Kind: model.PostingKindBank, AccountID: "acc",
		Period: model.PeriodMonth, PeriodStart: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "-42", agg.Amount.String())
}

func TestBook_SecurityBuyExample(t *testing.T) {
	f := newFixture(t)
	e := entry("e1", "1000", "broker")
	e.SecurityID = "world"
	e.TransactionType = model.SecurityTxBuy
	e.Quantity = nd("1.123456")
	e.FeeAmount = nd("2.50")
	e.TaxAmount = nd("5.00")
	f.draft("d1", "acc", "", e)

	res := f.book("d1", "e1", false)
	require.True(t, res.Success, "%v", res.Messages)
	require.Len(t, res.Postings, 5)

	main, fee, tax := res.Postings[2], res.Postings[3], res.Postings[4]
	assert.Equal(t, model.SecuritySubTypeBuy, main.SecuritySubType)
	assert.Equal(t, "992.5", main.Amount.String())
	assert.Equal(t, "1.123456", main.Quantity.Decimal.String())
	assert.Equal(t, model.SecuritySubTypeFee, fee.SecuritySubType)
	assert.Equal(t, "2.5", fee.Amount.String())
	assert.False(t, fee.Quantity.Valid)
	assert.Equal(t, model.SecuritySubTypeTax, tax.SecuritySubType)
	assert.Equal(t, "5", tax.Amount.String())

	assert.True(t, sumKind(res.Postings, model.PostingKindSecurity).Equal(amt("1000")))
	for _, p := range res.Postings {
		assert.Equal(t, res.Postings[0].GroupID, p.GroupID)
	}
}

func TestSecurityLegs_SumToAmount(t *testing.T) {
	tests := []struct {
		txType   model.SecurityTransactionType
		amount   string
		fee, tax string
		mainWant string
		qtyWant  string
	}{
		{model.SecurityTxBuy, "1000", "2.50", "5.00", "992.5", "1.123456"},
		{model.SecurityTxBuy, "-1000", "2.50", "5.00", "-992.5", "1.123456"},
		{model.SecurityTxSell, "500", "1.00", "12.34", "513.34", "-1.123456"},
		{model.SecurityTxSell, "-500", "1.00", "0", "-501", "-1.123456"},
		{model.SecurityTxDividend, "36.82", "0", "13.18", "50", ""},
		{model.SecurityTxDividend, "10", "0", "0", "10", ""},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.txType, tt.amount), func(t *testing.T) {
			e := entry("e", tt.amount, "broker")
			e.SecurityID = "world"
			e.TransactionType = tt.txType
			e.Quantity = nd("1.1234561")
			e.FeeAmount = nd(tt.fee)
			e.TaxAmount = nd(tt.tax)

			legs := securityLegs(e)
			total := decimal.Zero
			for _, l := range legs {
				total = total.Add(l.Amount)
				assert.False(t, l.Amount.IsZero() && l.SecuritySubType != legs[0].SecuritySubType, "zero charge legs are omitted")
			}
			assert.True(t, total.Equal(amt(tt.amount)), "legs sum to %s, got %s", tt.amount, total)
			assert.Equal(t, tt.mainWant, legs[0].Amount.String())
			if tt.qtyWant == "" {
				assert.False(t, legs[0].Quantity.Valid)
			} else {
				assert.Equal(t, tt.qtyWant, legs[0].Quantity.Decimal.String())
			}
		})
	}
}

func TestBook_NoAccount(t *testing.T) {
	f := newFixture(t)
	f.draft("d1", "", "", entry("e1", "-1", "alice"))

	res := f.book("d1", "", false)
	assert.False(t, res.Success)
	assert.Equal(t, []string{CodeNoAccount}, codes(res))
	assert.Empty(t, f.postings())
}

func TestBook_CollectsAllViolations(t *testing.T) {
	f := newFixture(t)
	sec := entry("e3", "-100", "broker")
	sec.SecurityID = "world"
	f.draft("d1", "", "",
		entry("e1", "-1", ""),
		entry("e2", "-2", "paypal"),
		sec,
	)

	res := f.book("d1", "", false)
	assert.False(t, res.Success)
	assert.Equal(t, []string{CodeNoAccount, CodeEntryNoContact, CodeIntermediaryNoSplit, CodeSecurityMissingTxType}, codes(res))
	assert.Equal(t, "e1", res.Messages[1].EntryID)
	assert.Equal(t, SeverityError, res.Messages[1].Severity)
}

func TestBook_SecurityValidation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *model.DraftEntry)
		want  []string
	}{
		{"missing type", func(e *model.DraftEntry) {}, []string{CodeSecurityMissingTxType}},
		{"buy without quantity", func(e *model.DraftEntry) { e.TransactionType = model.SecurityTxBuy }, []string{CodeSecurityMissingQuantity}},
		{"sell with zero quantity", func(e *model.DraftEntry) {
			e.TransactionType = model.SecurityTxSell
			e.Quantity = nd("0")
		}, []string{CodeSecurityMissingQuantity}},
		{"charges exceed amount", func(e *model.DraftEntry) {
			e.TransactionType = model.SecurityTxDividend
			e.FeeAmount = nd("60")
			e.TaxAmount = nd("41")
		}, []string{CodeSecurityFeeTaxExceedsAmount}},
		{"unknown security", func(e *model.DraftEntry) {
			e.SecurityID = "gone"
			e.TransactionType = model.SecurityTxDividend
		}, []string{CodeSecurityUnknown}},
		{"dividend needs no quantity", func(e *model.DraftEntry) { e.TransactionType = model.SecurityTxDividend }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := entry("e1", "-100", "broker")
			e.SecurityID = "world"
			tt.setup(e)
			f.draft("d1", "acc", "", e)

			res := f.book("d1", "", false)
			assert.Equal(t, tt.want, codes(res))
			assert.Equal(t, tt.want == nil, res.Success)
		})
	}
}

func TestBook_SelfTransferWarning(t *testing.T) {
	f := newFixture(t)
	f.draft("d1", "acc", "", entry("e1", "-200", "self"))

	res := f.book("d1", "", false)
	assert.False(t, res.Success)
	assert.True(t, res.HasWarnings)
	assert.Equal(t, []string{CodeSavingsPlanMissingForSelf}, codes(res))
	assert.Equal(t, SeverityWarning, res.Messages[0].Severity)
	assert.Empty(t, f.postings())

	res = f.book("d1", "", true)
	assert.True(t, res.Success)
	assert.True(t, res.HasWarnings)
	assert.Len(t, res.Postings, 2)
}

func TestBook_SavingsPlanAndArchive(t *testing.T) {
	f := newFixture(t)
	e := entry("e1", "-200", "self")
	e.SavingsPlanID = "plan"
	e.ArchiveOnBooking = true
	f.draft("d1", "acc", "", e)

	res := f.book("d1", "", false)
	require.True(t, res.Success, "%v", res.Messages)
	require.Len(t, res.Postings, 3)
	assert.Equal(t, model.PostingKindSavingsPlan, res.Postings[2].Kind)
	assert.Equal(t, "200", res.Postings[2].Amount.String())

	plans, err := f.st.SavingsPlans(context.Background(), owner)
	require.NoError(t, err)
	assert.True(t, plans[0].Archived)

	// an archived plan can no longer be booked against
	e2 := entry("e2", "-5", "self")
	e2.SavingsPlanID = "plan"
	f.draft("d2", "acc", "", e2)
	res = f.book("d2", "", false)
	assert.Equal(t, []string{CodeSavingsPlanUnknown}, codes(res))
}

func (f *fixture) splitSetup(childAmounts ...string) {
	f.t.Helper()
	parent := entry("p1", "-42", "paypal")
	parent.SplitDraftID = "c1"
	f.draft("parent", "acc", "", parent)
	for i, a := range childAmounts {
		contact := "alice"
		if i%2 == 1 {
			contact = "shop"
		}
		f.draft(fmt.Sprintf("c%d", i+1), "", "grp", entry(fmt.Sprintf("ce%d", i+1), a, contact))
	}
}

func TestBook_Split(t *testing.T) {
	f := newFixture(t)
	f.splitSetup("-30", "-12")

	res := f.book("parent", "p1", false)
	require.True(t, res.Success, "%v", res.Messages)
	require.Len(t, res.Postings, 6)

	group := res.Postings[0].GroupID
	for _, p := range res.Postings {
		assert.Equal(t, group, p.GroupID)
	}
	assert.True(t, res.Postings[0].Amount.IsZero(), "parent bank leg is zero")
	assert.Equal(t, "paypal", res.Postings[1].ContactID)
	assert.True(t, res.Postings[1].Amount.IsZero())
	assert.True(t, sumKind(res.Postings, model.PostingKindBank).Equal(amt("-42")))
	assert.True(t, sumKind(res.Postings, model.PostingKindContact).Equal(amt("-42")))
	for _, p := range res.Postings {
		if p.Kind == model.PostingKindBank {
			assert.Equal(t, "acc", p.AccountID, "children book on the parent's account")
		}
	}

	for _, id := range []string{"parent", "c1", "c2"} {
		d, err := f.st.GetDraft(context.Background(), owner, id)
		require.NoError(t, err)
		assert.Equal(t, model.DraftStatusCommitted, d.Status, id)
		assert.Empty(t, d.Entries, id)
	}
}

func TestBook_SplitAmountMismatch(t *testing.T) {
	for name, amounts := range map[string][]string{
		"under": {"-30", "-11.99"},
		"over":  {"-30", "-12.01"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.splitSetup(amounts...)
			res := f.book("parent", "", false)
			assert.False(t, res.Success)
			assert.Equal(t, []string{CodeSplitAmountMismatch}, codes(res))
			assert.Empty(t, f.postings())
		})
	}
}

func TestBook_SplitChildMessagesPrefixed(t *testing.T) {
	f := newFixture(t)
	f.splitSetup("-30", "-12")
	c2, err := f.st.GetDraft(context.Background(), owner, "c2")
	require.NoError(t, err)
	c2.Entries[0].ContactID = ""
	c2.Entries = append(c2.Entries, entry("ce3", "0", "self"))
	require.NoError(t, f.st.SaveDraft(context.Background(), c2))

	res := f.book("parent", "", false)
	assert.False(t, res.Success)
	assert.Equal(t, []string{CodeEntryNoContact, CodeSavingsPlanMissingForSelf}, codes(res))
	assert.Equal(t, "ce2", res.Messages[0].EntryID)
	assert.True(t, strings.HasPrefix(res.Messages[0].Message, "[Split] "))
	assert.Equal(t, SeverityWarning, res.Messages[1].Severity)
}

func TestBook_SplitStructuralErrors(t *testing.T) {
	t.Run("self reference", func(t *testing.T) {
		f := newFixture(t)
		parent := entry("p1", "-42", "paypal")
		parent.SplitDraftID = "c1"
		f.draft("parent", "acc", "grp", parent)
		f.draft("c1", "", "grp", entry("ce1", "-42", "alice"))

		res := f.book("parent", "", false)
		assert.Equal(t, []string{CodeSplitSelfReference}, codes(res))
	})
	t.Run("missing split draft", func(t *testing.T) {
		f := newFixture(t)
		parent := entry("p1", "-42", "paypal")
		parent.SplitDraftID = "gone"
		f.draft("parent", "acc", "", parent)

		res := f.book("parent", "", false)
		assert.Equal(t, []string{CodeSplitDraftMissing}, codes(res))
	})
	t.Run("nested", func(t *testing.T) {
		f := newFixture(t)
		f.splitSetup("-30", "-12")
		c1, err := f.st.GetDraft(context.Background(), owner, "c1")
		require.NoError(t, err)
		c1.Entries[0].SplitDraftID = "other"
		require.NoError(t, f.st.SaveDraft(context.Background(), c1))

		res := f.book("parent", "", false)
		assert.Equal(t, []string{CodeSplitNested}, codes(res))
	})
	t.Run("shared by two entries", func(t *testing.T) {
		f := newFixture(t)
		a := entry("p1", "-42", "paypal")
		a.SplitDraftID = "c1"
		b := entry("p2", "-42", "paypal")
		b.SplitDraftID = "c2"
		f.draft("parent", "acc", "", a, b)
		f.draft("c1", "", "grp", entry("ce1", "-30", "alice"))
		f.draft("c2", "", "grp", entry("ce2", "-12", "shop"))

		res := f.book("parent", "", false)
		assert.Equal(t, []string{CodeSplitShared}, codes(res))
	})
	t.Run("child booked directly", func(t *testing.T) {
		f := newFixture(t)
		f.splitSetup("-30", "-12")
		for _, id := range []string{"c1", "c2"} {
			res := f.book(id, "", false)
			assert.Equal(t, []string{CodeSplitChildDirect}, codes(res), id)
		}
	})
}

func TestBook_Twice(t *testing.T) {
	f := newFixture(t)
	f.draft("d1", "acc", "", entry("e1", "-1", "alice"), entry("e2", "-2", "shop"))

	require.True(t, f.book("d1", "e1", false).Success)
	res := f.book("d1", "e1", false)
	assert.False(t, res.Success)
	assert.Equal(t, []string{CodeEntryNotFound}, codes(res))
	assert.Len(t, f.postings(), 2)

	require.True(t, f.book("d1", "", false).Success)
	res = f.book("d1", "", false)
	assert.Equal(t, []string{CodeDraftCommitted}, codes(res))
	assert.Len(t, f.postings(), 4)
}

func TestBook_EntryStatuses(t *testing.T) {
	f := newFixture(t)
	dup := entry("dup", "-3", "alice")
	dup.Status = model.EntryStatusAlreadyBooked
	preview := entry("pre", "-4", "alice")
	preview.Status = model.EntryStatusAnnounced
	f.draft("d1", "acc", "", entry("e1", "-1", "alice"), dup, preview)

	res := f.book("d1", "dup", false)
	assert.Equal(t, []string{CodeEntryAlreadyBooked}, codes(res))

	res = f.book("d1", "", false)
	require.True(t, res.Success)
	assert.Len(t, res.Postings, 2, "only the open entry is booked")

	d, err := f.st.GetDraft(context.Background(), owner, "d1")
	require.NoError(t, err)
	require.Len(t, d.Entries, 1, "duplicates are discarded, announced entries stay")
	assert.Equal(t, "pre", d.Entries[0].ID)
	assert.Equal(t, model.DraftStatusDraft, d.Status)

	require.True(t, f.book("d1", "pre", false).Success)
	d, err = f.st.GetDraft(context.Background(), owner, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DraftStatusCommitted, d.Status)
}

func TestBook_MissingDraft(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Book(context.Background(), Request{OwnerID: owner, DraftID: "nope"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	f.draft("d1", "acc", "", entry("e1", "-1", "alice"))
	_, err = f.eng.Book(context.Background(), Request{OwnerID: "someone-else", DraftID: "d1"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBook_InvariantAbortsTransaction(t *testing.T) {
	f := newFixture(t)
	d := f.draft("d1", "acc", "", entry("e1", "-1", ""))

	err := f.st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := f.eng.post(ctx, tx, d, d.Entries[0], nil)
		return err
	})
	assert.ErrorIs(t, err, ErrInvariant)
	assert.Contains(t, err.Error(), "invariant 2")
	assert.Empty(t, f.postings())
}

func TestBook_Metrics(t *testing.T) {
	f := newFixture(t)
	f.draft("d1", "", "", entry("e1", "-1", "alice"))
	before := testutil.ToFloat64(metrics.Bookings.WithLabelValues("rejected"))

	f.book("d1", "", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Bookings.WithLabelValues("rejected"))-before)
}

func TestBook_ConcurrentAggregates(t *testing.T) {
	f := newFixture(t)
	const n = 20
	for i := range n {
		f.draft(fmt.Sprintf("d%02d", i), "acc", "", entry(fmt.Sprintf("e%02d", i), "-1.25", "alice"))
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.eng.Book(context.Background(), Request{OwnerID: owner, DraftID: fmt.Sprintf("d%02d", i)})
			assert.NoError(t, err)
			assert.True(t, res.Success)
		}()
	}
	wg.Wait()

	agg, err := f.st.GetAggregate(context.Background(), model.AggregateKey{
		OwnerID: owner, Kind: model.PostingKindContact, ContactID: "alice",
		Period: model.PeriodYear, PeriodStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "-25", agg.Amount.String())
	assert.Len(t, f.postings(), 2*n)
}
