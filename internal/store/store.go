// Package store defines the persistence contract of drafts, postings,
// aggregates and master data.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// ErrNotFound is returned when a record does not exist for the owner.
var ErrNotFound = errors.New("not found")

// Drafts persists drafts together with their entries. Returned drafts are
// copies; changes take effect through SaveDraft.
type Drafts interface {
	GetDraft(ctx context.Context, ownerID, id string) (*model.Draft, error)
	SaveDraft(ctx context.Context, d *model.Draft) error
	DeleteDraft(ctx context.Context, ownerID, id string) error
	ListDrafts(ctx context.Context, ownerID string) ([]*model.Draft, error)
	DraftsByUploadGroup(ctx context.Context, ownerID, uploadGroupID string) ([]*model.Draft, error)
}

// Postings is the append-only ledger.
type Postings interface {
	AddPostings(ctx context.Context, ps []model.Posting) error
	ListPostings(ctx context.Context, ownerID string) ([]model.Posting, error)
	// HasBankPosting reports whether a bank leg with the same account, booking
	// date, amount and subject exists.
	HasBankPosting(ctx context.Context, ownerID, accountID string, date time.Time, amount decimal.Decimal, subject string) (bool, error)
}

// Aggregates holds running per-period sums.
type Aggregates interface {
	// AddToAggregate adds delta to the row at key, creating it at zero first.
	// Concurrent calls on one key must not lose an increment.
	AddToAggregate(ctx context.Context, key model.AggregateKey, delta decimal.Decimal) error
	GetAggregate(ctx context.Context, key model.AggregateKey) (model.PostingAggregate, error)
	ListAggregates(ctx context.Context, ownerID string) ([]model.PostingAggregate, error)
	DeleteAggregates(ctx context.Context, ownerID string) error
}

// MasterData reads the owner's accounts, contacts, securities and savings plans.
type MasterData interface {
	Accounts(ctx context.Context, ownerID string) ([]model.Account, error)
	Contacts(ctx context.Context, ownerID string) ([]model.Contact, error)
	Securities(ctx context.Context, ownerID string) ([]model.Security, error)
	SavingsPlans(ctx context.Context, ownerID string) ([]model.SavingsPlan, error)
	ArchiveSavingsPlan(ctx context.Context, ownerID, id string) error
}

// Tx is the view of the store inside one transaction.
type Tx interface {
	Drafts
	Postings
	Aggregates
	MasterData
}

// Store is a transactional store. Methods called on the Store directly run
// in their own transaction.
type Store interface {
	Tx
	// InTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Seeder replaces the master data of one owner, used to load it from the
// master data file.
type Seeder interface {
	SetMasterData(ctx context.Context, ownerID string, accounts []model.Account, contacts []model.Contact, securities []model.Security, plans []model.SavingsPlan) error
}
