// Package aggregate maintains running per-period sums of postings.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/Muesli84/FinanceManager-sub001/internal/logger"
	"github.com/Muesli84/FinanceManager-sub001/internal/metrics"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store"
)

// PeriodStart returns the first day (UTC) of the period containing date.
func PeriodStart(date time.Time, period model.AggregatePeriod) time.Time {
	y, m := date.Year(), date.Month()
	switch period {
	case model.PeriodQuarter:
		m = (m-1)/3*3 + 1
	case model.PeriodHalfYear:
		m = (m-1)/6*6 + 1
	case model.PeriodYear:
		m = time.January
	}
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// Keys returns one aggregate key per period for the posting's entity axis.
func Keys(p model.Posting) []model.AggregateKey {
	keys := make([]model.AggregateKey, 0, len(model.AllPeriods))
	for _, period := range model.AllPeriods {
		k := model.AggregateKey{
			OwnerID:         p.OwnerID,
			Kind:            p.Kind,
			SecuritySubType: p.SecuritySubType,
			Period:          period,
			PeriodStart:     PeriodStart(p.BookingDate, period),
		}
		switch p.Kind {
		case model.PostingKindBank:
			k.AccountID = p.AccountID
		case model.PostingKindContact:
			k.ContactID = p.ContactID
		case model.PostingKindSavingsPlan:
			k.SavingsPlanID = p.SavingsPlanID
		case model.PostingKindSecurity:
			k.SecurityID = p.SecurityID
		}
		keys = append(keys, k)
	}
	return keys
}

// Apply adds the posting's amount to every period aggregate of its key.
func Apply(ctx context.Context, aggs store.Aggregates, p model.Posting) error {
	for _, k := range Keys(p) {
		if err := aggs.AddToAggregate(ctx, k, p.Amount); err != nil {
			return fmt.Errorf("posting %s, %s aggregate: %w", p.ID, k.Period, err)
		}
		metrics.AggregateUpdates.WithLabelValues(string(k.Period)).Inc()
	}
	return nil
}

// Rebuild drops the owner's aggregates and replays every posting in one
// transaction.
func Rebuild(ctx context.Context, s store.Store, ownerID string) (int, error) {
	var n int
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.DeleteAggregates(ctx, ownerID); err != nil {
			return err
		}
		postings, err := tx.ListPostings(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, p := range postings {
			if err := Apply(ctx, tx, p); err != nil {
				return err
			}
		}
		n = len(postings)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("rebuilding aggregates: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("owner", ownerID).Int("postings", n).Msg("aggregates rebuilt")
	return n, nil
}
