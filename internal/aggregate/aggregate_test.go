package aggregate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muesli84/FinanceManager-sub001/internal/metrics"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store/memory"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriodStart(t *testing.T) {
	tests := []struct {
		date   time.Time
		period model.AggregatePeriod
		want   time.Time
	}{
		{date(2025, time.August, 17), model.PeriodMonth, date(2025, time.August, 1)},
		{date(2025, time.August, 17), model.PeriodQuarter, date(2025, time.July, 1)},
		{date(2025, time.March, 31), model.PeriodQuarter, date(2025, time.January, 1)},
		{date(2025, time.December, 31), model.PeriodQuarter, date(2025, time.October, 1)},
		{date(2025, time.June, 30), model.PeriodHalfYear, date(2025, time.January, 1)},
		{date(2025, time.July, 1), model.PeriodHalfYear, date(2025, time.July, 1)},
		{date(2025, time.August, 17), model.PeriodYear, date(2025, time.January, 1)},
		{time.Date(2025, time.May, 1, 23, 30, 0, 0, time.FixedZone("X", 3600)), model.PeriodMonth, date(2025, time.May, 1)},
	}
	for _, tt := range tests {
		t.Run(string(tt.period)+" "+tt.date.Format(time.DateOnly), func(t *testing.T) {
			assert.True(t, tt.want.Equal(PeriodStart(tt.date, tt.period)))
		})
	}
}

func TestKeys_EntityAxis(t *testing.T) {
	p := model.Posting{
		ID: "p1", OwnerID: "u", Kind: model.PostingKindSecurity,
		AccountID: "acc", SecurityID: "sec", SecuritySubType: model.SecuritySubTypeFee,
		BookingDate: date(2025, time.May, 20), Amount: decimal.RequireFromString("2.5"),
	}
	keys := Keys(p)
	require.Len(t, keys, 4)
	for _, k := range keys {
		assert.Equal(t, "sec", k.SecurityID)
		assert.Empty(t, k.AccountID, "only the kind's entity is part of the key")
		assert.Equal(t, model.SecuritySubTypeFee, k.SecuritySubType)
	}
	assert.Equal(t, model.PeriodMonth, keys[0].Period)
	assert.Equal(t, date(2025, time.April, 1), keys[1].PeriodStart)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	before := testutil.ToFloat64(metrics.AggregateUpdates.WithLabelValues(string(model.PeriodYear)))

	p := model.Posting{
		ID: "g-1", OwnerID: "u", Kind: model.PostingKindContact, ContactID: "c1",
		BookingDate: date(2025, time.February, 3), Amount: decimal.RequireFromString("-12.34"),
	}
	require.NoError(t, Apply(ctx, s, p))
	p.ID = "g-2"
	p.BookingDate = date(2025, time.March, 9)
	require.NoError(t, Apply(ctx, s, p))

	aggs, err := s.ListAggregates(ctx, "u")
	require.NoError(t, err)
	// two months, one quarter, one half-year, one year
	assert.Len(t, aggs, 5)

	year, err := s.GetAggregate(ctx, model.AggregateKey{
		OwnerID: "u", Kind: model.PostingKindContact, ContactID: "c1",
		Period: model.PeriodYear, PeriodStart: date(2025, time.January, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, "-24.68", year.Amount.String())

	after := testutil.ToFloat64(metrics.AggregateUpdates.WithLabelValues(string(model.PeriodYear)))
	assert.Equal(t, 2.0, after-before)
}

func TestApply_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	var wg sync.WaitGroup
	for i := range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := model.Posting{
				ID: "p" + string(rune('a'+i)), OwnerID: "u", Kind: model.PostingKindBank, AccountID: "acc",
				BookingDate: date(2025, time.June, 1+i), Amount: decimal.RequireFromString("4.04"),
			}
			assert.NoError(t, Apply(ctx, s, p))
		}()
	}
	wg.Wait()

	agg, err := s.GetAggregate(ctx, model.AggregateKey{
		OwnerID: "u", Kind: model.PostingKindBank, AccountID: "acc",
		Period: model.PeriodMonth, PeriodStart: date(2025, time.June, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, "101", agg.Amount.String())
}

func TestRebuild(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	postings := []model.Posting{
		{ID: "a-1", OwnerID: "u", Kind: model.PostingKindBank, AccountID: "acc", BookingDate: date(2025, time.January, 5), Amount: decimal.NewFromInt(-50)},
		{ID: "a-2", OwnerID: "u", Kind: model.PostingKindContact, ContactID: "c", BookingDate: date(2025, time.January, 5), Amount: decimal.NewFromInt(-50)},
		{ID: "b-1", OwnerID: "other", Kind: model.PostingKindBank, AccountID: "x", BookingDate: date(2025, time.January, 5), Amount: decimal.NewFromInt(7)},
	}
	require.NoError(t, s.AddPostings(ctx, postings))

	// stale row that the rebuild must drop
	require.NoError(t, s.AddToAggregate(ctx, model.AggregateKey{
		OwnerID: "u", Kind: model.PostingKindBank, AccountID: "gone",
		Period: model.PeriodMonth, PeriodStart: date(2024, time.January, 1),
	}, decimal.NewFromInt(999)))

	n, err := Rebuild(ctx, s, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	aggs, err := s.ListAggregates(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, aggs, 8)
	for _, a := range aggs {
		assert.NotEqual(t, "gone", a.AccountID)
		assert.Equal(t, "-50", a.Amount.String())
	}

	other, err := s.ListAggregates(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, other, "rebuild touches only the given owner")

	// replaying twice yields the same sums
	_, err = Rebuild(ctx, s, "u")
	require.NoError(t, err)
	again, err := s.ListAggregates(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, aggs, again)
}
