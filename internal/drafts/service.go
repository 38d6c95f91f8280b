// Package drafts manages statement drafts between import and booking.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Muesli84/FinanceManager-sub001/internal/classify"
	"github.com/Muesli84/FinanceManager-sub001/internal/id"
	"github.com/Muesli84/FinanceManager-sub001/internal/importer"
	"github.com/Muesli84/FinanceManager-sub001/internal/keylock"
	"github.com/Muesli84/FinanceManager-sub001/internal/logger"
	"github.com/Muesli84/FinanceManager-sub001/internal/metrics"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store"
)

var (
	ErrDraftNotFound    = errors.New("draft not found")
	ErrEntryNotFound    = errors.New("draft entry not found")
	ErrDraftCommitted   = errors.New("draft is committed")
	ErrSelfSplit        = errors.New("split draft refers back to its parent")
	ErrSplitInUse       = errors.New("split draft already linked to another entry")
	ErrUnknownReference = errors.New("unknown reference")
	ErrNoEntries        = errors.New("statement has no valid movements")
)

// DefaultCacheTTL is how long a classification context stays cached.
const DefaultCacheTTL = 10 * time.Minute

// UploadFile is one file of an upload.
type UploadFile struct {
	Name string
	Data []byte
}

// Service creates, classifies and edits drafts. Every mutation holds the
// draft's key lock, shared with the booking engine.
type Service struct {
	store    store.Store
	registry *importer.Registry
	locks    *keylock.Table
	contexts *cache.Cache
	now      func() time.Time
	keepData bool
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCacheTTL sets how long classification contexts are cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.contexts = cache.New(ttl, 2*ttl) }
}

// WithOriginalContent keeps the uploaded bytes on the draft.
func WithOriginalContent(keep bool) Option {
	return func(s *Service) { s.keepData = keep }
}

// NewService creates a draft service.
func NewService(st store.Store, registry *importer.Registry, locks *keylock.Table, opts ...Option) *Service {
	s := &Service{
		store:    st,
		registry: registry,
		locks:    locks,
		contexts: cache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LockKey is the key-lock name guarding one draft.
func LockKey(ownerID, draftID string) string {
	return "draft:" + ownerID + ":" + draftID
}

// CreateFromUpload parses, classifies and stores one draft per file. The
// sequence is lazy and ordered like files; a file that cannot be read yields
// an error and the sequence moves on. Drafts of a multi-file upload share an
// upload group id.
func (s *Service) CreateFromUpload(ctx context.Context, ownerID string, files []UploadFile) iter.Seq2[*model.Draft, error] {
	return func(yield func(*model.Draft, error) bool) {
		var group string
		if len(files) > 1 {
			group = id.New()
		}
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			d, err := s.create(ctx, ownerID, group, f)
			if !yield(d, err) {
				return
			}
		}
	}
}

func (s *Service) create(ctx context.Context, ownerID, group string, f UploadFile) (*model.Draft, error) {
	log := logger.FromContext(ctx)
	rd, res, err := s.registry.Detect(ctx, f.Name, f.Data)
	if err != nil {
		return nil, err
	}

	d := &model.Draft{
		ID:               id.New(),
		OwnerID:          ownerID,
		OriginalFileName: f.Name,
		AccountHint:      res.Header.AccountNumber,
		UploadGroupID:    group,
		Description:      res.Header.Description,
		Status:           model.DraftStatusDraft,
		CreatedAt:        s.now(),
	}
	if s.keepData {
		d.OriginalContent = f.Data
	}
	for _, m := range res.Movements {
		if m.IsError {
			continue
		}
		d.Entries = append(d.Entries, newEntry(m))
	}
	if len(d.Entries) == 0 {
		return nil, fmt.Errorf("%s: %w", f.Name, ErrNoEntries)
	}

	cctx, err := s.classifyContext(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	sum := classify.New(cctx).Classify(d)
	if err := markDuplicates(ctx, s.store, d); err != nil {
		return nil, err
	}
	if err := s.store.SaveDraft(ctx, d); err != nil {
		return nil, fmt.Errorf("saving draft for %s: %w", f.Name, err)
	}
	metrics.DraftsCreated.Inc()

	log.Info().
		Str("draft", d.ID).
		Str("file", f.Name).
		Str("reader", rd.Name()).
		Int("entries", len(d.Entries)).
		Bool("account_detected", sum.AccountDetected).
		Int("unresolved", sum.Unresolved).
		Msg("draft created")
	return d, nil
}

func newEntry(m model.Movement) *model.DraftEntry {
	e := &model.DraftEntry{
		ID:                 id.New(),
		BookingDate:        m.BookingDate,
		ValutaDate:         m.ValutaDate,
		Amount:             m.Amount,
		CurrencyCode:       m.CurrencyCode,
		Subject:            m.Subject,
		CounterpartyName:   m.CounterpartyName,
		PostingDescription: m.PostingDescription,
		Status:             model.EntryStatusOpen,
		Quantity:           m.Quantity,
		FeeAmount:          m.Fee,
		TaxAmount:          m.Tax,
	}
	if m.IsPreview {
		e.Status = model.EntryStatusAnnounced
	}
	return e
}

// markDuplicates flags open entries whose bank leg was booked before.
func markDuplicates(ctx context.Context, postings store.Postings, d *model.Draft) error {
	if d.AccountID == "" {
		return nil
	}
	for _, e := range d.Entries {
		if e.Status != model.EntryStatusOpen {
			continue
		}
		dup, err := postings.HasBankPosting(ctx, d.OwnerID, d.AccountID, e.BookingDate, e.Amount, e.Subject)
		if err != nil {
			return fmt.Errorf("checking duplicates: %w", err)
		}
		if dup {
			e.Status = model.EntryStatusAlreadyBooked
		}
	}
	return nil
}

// classifyContext returns the owner's cached master data view.
func (s *Service) classifyContext(ctx context.Context, ownerID string) (*classify.Context, error) {
	if c, ok := s.contexts.Get(ownerID); ok {
		return c.(*classify.Context), nil
	}
	accounts, err := s.store.Accounts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}
	contacts, err := s.store.Contacts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}
	securities, err := s.store.Securities(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading securities: %w", err)
	}
	c := classify.NewContext(accounts, contacts, securities)
	s.contexts.Set(ownerID, c, cache.DefaultExpiration)
	return c, nil
}

// InvalidateMasterData drops the cached classification context of an owner.
// Call it after accounts, contacts or securities change.
func (s *Service) InvalidateMasterData(ownerID string) {
	s.contexts.Delete(ownerID)
}

// Classify re-runs classification on a draft. Fields already set are kept.
func (s *Service) Classify(ctx context.Context, ownerID, draftID string) (classify.Summary, error) {
	cctx, err := s.classifyContext(ctx, ownerID)
	if err != nil {
		return classify.Summary{}, err
	}
	var sum classify.Summary
	_, err = s.update(ctx, ownerID, draftID, func(ctx context.Context, tx store.Tx, d *model.Draft) error {
		sum = classify.New(cctx).Classify(d)
		return markDuplicates(ctx, tx, d)
	})
	if err != nil {
		return classify.Summary{}, err
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("draft", draftID).
		Int("contacts", sum.ContactsAssigned).
		Int("securities", sum.SecuritiesAssigned).
		Int("ambiguous", sum.Ambiguous).
		Msg("draft classified")
	return sum, nil
}

// Get returns one draft.
func (s *Service) Get(ctx context.Context, ownerID, draftID string) (*model.Draft, error) {
	d, err := s.store.GetDraft(ctx, ownerID, draftID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("draft %s: %w", draftID, ErrDraftNotFound)
	}
	return d, err
}

// List returns the owner's drafts in creation order.
func (s *Service) List(ctx context.Context, ownerID string) ([]*model.Draft, error) {
	return s.store.ListDrafts(ctx, ownerID)
}

// Cancel deletes an uncommitted draft and unlinks it from any parent entry
// that used it as a split.
func (s *Service) Cancel(ctx context.Context, ownerID, draftID string) error {
	unlock := s.locks.Lock(LockKey(ownerID, draftID))
	defer unlock()

	return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := loadOpen(ctx, tx, ownerID, draftID)
		if err != nil {
			return err
		}
		all, err := tx.ListDrafts(ctx, ownerID)
		if err != nil {
			return err
		}
		for _, p := range all {
			changed := false
			for _, e := range p.Entries {
				if e.SplitDraftID == d.ID {
					e.SplitDraftID = ""
					changed = true
				}
			}
			if changed {
				if err := tx.SaveDraft(ctx, p); err != nil {
					return err
				}
			}
		}
		return tx.DeleteDraft(ctx, ownerID, draftID)
	})
}

// loadOpen reads a draft that may still be changed.
func loadOpen(ctx context.Context, tx store.Drafts, ownerID, draftID string) (*model.Draft, error) {
	d, err := tx.GetDraft(ctx, ownerID, draftID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("draft %s: %w", draftID, ErrDraftNotFound)
	}
	if err != nil {
		return nil, err
	}
	if d.Status == model.DraftStatusCommitted {
		return nil, fmt.Errorf("draft %s: %w", draftID, ErrDraftCommitted)
	}
	return d, nil
}

// update runs fn on an open draft under its lock and saves the result.
func (s *Service) update(ctx context.Context, ownerID, draftID string, fn func(ctx context.Context, tx store.Tx, d *model.Draft) error) (*model.Draft, error) {
	unlock := s.locks.Lock(LockKey(ownerID, draftID))
	defer unlock()

	var out *model.Draft
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := loadOpen(ctx, tx, ownerID, draftID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, d); err != nil {
			return err
		}
		out = d
		return tx.SaveDraft(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) updateEntry(ctx context.Context, ownerID, draftID, entryID string, fn func(ctx context.Context, tx store.Tx, d *model.Draft, e *model.DraftEntry) error) (*model.DraftEntry, error) {
	var entry *model.DraftEntry
	_, err := s.update(ctx, ownerID, draftID, func(ctx context.Context, tx store.Tx, d *model.Draft) error {
		entry = d.Entry(entryID)
		if entry == nil {
			return fmt.Errorf("entry %s: %w", entryID, ErrEntryNotFound)
		}
		return fn(ctx, tx, d, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
