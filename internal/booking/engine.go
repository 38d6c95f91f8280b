// Package booking turns reviewed drafts into postings.
package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/aggregate"
	"github.com/Muesli84/FinanceManager-sub001/internal/drafts"
	"github.com/Muesli84/FinanceManager-sub001/internal/id"
	"github.com/Muesli84/FinanceManager-sub001/internal/journal"
	"github.com/Muesli84/FinanceManager-sub001/internal/keylock"
	"github.com/Muesli84/FinanceManager-sub001/internal/logger"
	"github.com/Muesli84/FinanceManager-sub001/internal/metrics"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store"
)

// ErrInvariant marks generated postings that break a ledger invariant. The
// booking transaction is rolled back.
var ErrInvariant = errors.New("posting invariant violated")

// maxLockAttempts bounds how often the draft set is re-resolved when it
// changes while locks are acquired.
const maxLockAttempts = 3

// Request asks to book one entry, or the whole draft when EntryID is empty.
type Request struct {
	OwnerID             string
	DraftID             string
	EntryID             string
	ConfirmSelfTransfer bool // proceed despite warnings
}

// Result is the outcome of a booking request. Validation failures are
// reported here, not as errors.
type Result struct {
	Success     bool
	HasWarnings bool
	Messages    []Message
	Postings    []model.Posting
}

// Engine validates drafts and books them in one transaction.
type Engine struct {
	store store.Store
	locks *keylock.Table
}

// NewEngine creates a booking engine. locks must be the table the draft
// service uses, so classification and booking of a draft never interleave.
func NewEngine(st store.Store, locks *keylock.Table) *Engine {
	return &Engine{store: st, locks: locks}
}

// Book validates the request and, when it passes, writes postings,
// aggregates and the draft changes atomically.
func (eng *Engine) Book(ctx context.Context, req Request) (Result, error) {
	log := logger.FromContext(ctx).With().Str("draft", req.DraftID).Str("entry", req.EntryID).Logger()
	start := time.Now()
	defer func() { metrics.BookingDuration.Observe(time.Since(start).Seconds()) }()

	unlock, err := eng.lockDrafts(ctx, req.OwnerID, req.DraftID)
	if err != nil {
		metrics.Bookings.WithLabelValues("failed").Inc()
		return Result{}, err
	}
	defer unlock()

	var res Result
	err = eng.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		res = Result{}
		return eng.book(ctx, tx, req, &res)
	})
	if err != nil {
		metrics.Bookings.WithLabelValues("failed").Inc()
		if errors.Is(err, ErrInvariant) {
			log.Error().Err(err).Msg("booking aborted")
		}
		return Result{}, err
	}

	codes := make([]string, len(res.Messages))
	for i, m := range res.Messages {
		codes[i] = m.Code
	}
	switch {
	case !res.Success:
		metrics.Bookings.WithLabelValues("rejected").Inc()
		log.Info().Strs("codes", codes).Msg("booking rejected")
	case res.HasWarnings:
		metrics.Bookings.WithLabelValues("warning").Inc()
		log.Info().Strs("codes", codes).Int("postings", len(res.Postings)).Msg("booked with confirmed warnings")
	default:
		metrics.Bookings.WithLabelValues("booked").Inc()
		log.Info().Int("postings", len(res.Postings)).Msg("booked")
	}
	return res, nil
}

func (eng *Engine) book(ctx context.Context, tx store.Tx, req Request, res *Result) error {
	d, err := tx.GetDraft(ctx, req.OwnerID, req.DraftID)
	if err != nil {
		return err
	}
	md, err := loadMasterData(ctx, tx, req.OwnerID)
	if err != nil {
		return err
	}
	v := &validator{md: md}
	defer func() {
		res.Messages = v.msgs
		res.HasWarnings = v.hasWarnings()
	}()

	if d.Status == model.DraftStatusCommitted {
		v.fail(CodeDraftCommitted, req.EntryID, "draft %s is already committed", d.ID)
		return nil
	}
	all, err := tx.ListDrafts(ctx, req.OwnerID)
	if err != nil {
		return err
	}
	if parent := splitParentOf(d, all); parent != nil {
		v.fail(CodeSplitChildDirect, req.EntryID, "draft is a split of %s and must be booked through it", parent.ID)
		return nil
	}

	entries, discard := selectEntries(d, req.EntryID, v)
	if v.hasErrors() {
		return nil
	}
	if _, ok := md.accounts[d.AccountID]; !ok {
		v.fail(CodeNoAccount, "", "draft has no account")
	}

	splits := make(map[string][]*model.Draft)
	for _, e := range entries {
		v.entry(e, "")
		if e.SplitDraftID == "" {
			continue
		}
		set, err := splitSet(ctx, tx, req.OwnerID, e.SplitDraftID)
		if err != nil {
			return err
		}
		splits[e.ID] = set
		v.split(d, e, set)
	}
	if v.hasErrors() || (v.hasWarnings() && !req.ConfirmSelfTransfer) {
		return nil
	}

	for _, e := range entries {
		ps, err := eng.post(ctx, tx, d, e, splits[e.ID])
		if err != nil {
			return err
		}
		res.Postings = append(res.Postings, ps...)
		d.RemoveEntry(e.ID)
	}
	for _, e := range discard {
		d.RemoveEntry(e.ID)
	}
	if !d.HasPendingEntries() {
		d.Status = model.DraftStatusCommitted
	}
	if err := tx.SaveDraft(ctx, d); err != nil {
		return err
	}
	res.Success = true
	return nil
}

// selectEntries picks the entries a request books and, for whole-draft
// requests, the duplicates it discards.
func selectEntries(d *model.Draft, entryID string, v *validator) (book, discard []*model.DraftEntry) {
	if entryID != "" {
		e := d.Entry(entryID)
		switch {
		case e == nil:
			v.fail(CodeEntryNotFound, entryID, "entry %s is not in an open draft", entryID)
		case e.Status == model.EntryStatusAlreadyBooked:
			v.fail(CodeEntryAlreadyBooked, entryID, "entry %q was booked before", e.Subject)
		default:
			book = append(book, e)
		}
		return book, nil
	}
	for _, e := range d.Entries {
		switch e.Status {
		case model.EntryStatusOpen:
			book = append(book, e)
		case model.EntryStatusAlreadyBooked:
			discard = append(discard, e)
		}
	}
	return book, discard
}

// post generates, checks and stores the postings of one entry, including its
// split set, and consumes the split drafts.
func (eng *Engine) post(ctx context.Context, tx store.Tx, d *model.Draft, e *model.DraftEntry, set []*model.Draft) ([]model.Posting, error) {
	b := newLegBuilder(d.OwnerID, id.NewGroupID(e.BookingDate))
	var verrs []journal.ValidationError
	var archive []string

	if e.SplitDraftID == "" {
		legs := b.entryLegs(e, d.AccountID)
		verrs = append(verrs, journal.ValidateGroup(legs, b.groupID, e.Amount)...)
		if e.ArchiveOnBooking {
			archive = append(archive, e.SavingsPlanID)
		}
	} else {
		legs := b.splitParentLegs(e, d.AccountID)
		verrs = append(verrs, journal.ValidateGroup(legs, b.groupID, decimal.Zero)...)
		for _, child := range set {
			for _, ce := range splitEntries(child) {
				legs := b.entryLegs(ce, d.AccountID)
				verrs = append(verrs, journal.ValidateGroup(legs, b.groupID, ce.Amount)...)
				if ce.ArchiveOnBooking {
					archive = append(archive, ce.SavingsPlanID)
				}
			}
		}
	}
	verrs = append(verrs, journal.ValidateUnique(b.legs)...)
	if len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, ve := range verrs {
			msgs[i] = ve.Error()
		}
		return nil, fmt.Errorf("%w: entry %s: %s", ErrInvariant, e.ID, strings.Join(msgs, "; "))
	}

	if err := tx.AddPostings(ctx, b.legs); err != nil {
		return nil, fmt.Errorf("storing postings: %w", err)
	}
	for _, p := range b.legs {
		if err := aggregate.Apply(ctx, tx, p); err != nil {
			return nil, err
		}
		metrics.PostingsCreated.WithLabelValues(string(p.Kind)).Inc()
	}
	for _, planID := range archive {
		if err := tx.ArchiveSavingsPlan(ctx, d.OwnerID, planID); err != nil {
			return nil, fmt.Errorf("archiving savings plan %s: %w", planID, err)
		}
	}
	for _, child := range set {
		child.Entries = nil
		child.Status = model.DraftStatusCommitted
		if err := tx.SaveDraft(ctx, child); err != nil {
			return nil, err
		}
	}
	return b.legs, nil
}

// splitSet resolves a linked split draft to every draft of its upload group.
// A missing draft yields an empty set.
func splitSet(ctx context.Context, tx store.Drafts, ownerID, childID string) ([]*model.Draft, error) {
	child, err := tx.GetDraft(ctx, ownerID, childID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if child.UploadGroupID == "" {
		return []*model.Draft{child}, nil
	}
	return tx.DraftsByUploadGroup(ctx, ownerID, child.UploadGroupID)
}

// splitParentOf returns the open draft that links d, directly or through
// d's upload group, as a split.
func splitParentOf(d *model.Draft, all []*model.Draft) *model.Draft {
	byID := make(map[string]*model.Draft, len(all))
	for _, o := range all {
		byID[o.ID] = o
	}
	for _, p := range all {
		if p.ID == d.ID || p.Status == model.DraftStatusCommitted {
			continue
		}
		for _, e := range p.Entries {
			if e.SplitDraftID == "" {
				continue
			}
			child := byID[e.SplitDraftID]
			if child == nil {
				continue
			}
			if child.ID == d.ID || (child.UploadGroupID != "" && child.UploadGroupID == d.UploadGroupID) {
				return p
			}
		}
	}
	return nil
}

func loadMasterData(ctx context.Context, tx store.MasterData, ownerID string) (*masterData, error) {
	accounts, err := tx.Accounts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}
	contacts, err := tx.Contacts(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading contacts: %w", err)
	}
	plans, err := tx.SavingsPlans(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading savings plans: %w", err)
	}
	securities, err := tx.Securities(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading securities: %w", err)
	}
	md := &masterData{
		accounts:   make(map[string]model.Account, len(accounts)),
		contacts:   make(map[string]model.Contact, len(contacts)),
		plans:      make(map[string]model.SavingsPlan, len(plans)),
		securities: make(map[string]model.Security, len(securities)),
	}
	for _, a := range accounts {
		md.accounts[a.ID] = a
	}
	for _, c := range contacts {
		md.contacts[c.ID] = c
	}
	for _, p := range plans {
		md.plans[p.ID] = p
	}
	for _, s := range securities {
		md.securities[s.ID] = s
	}
	return md, nil
}

// lockDrafts takes the key locks of the draft and every draft of its split
// sets. The set is read before locking, so it is re-read under the locks and
// the attempt repeated if it grew in between.
func (eng *Engine) lockDrafts(ctx context.Context, ownerID, draftID string) (func(), error) {
	for attempt := 1; ; attempt++ {
		keys, err := eng.draftKeys(ctx, ownerID, draftID)
		if err != nil {
			return nil, err
		}
		unlock := eng.locks.Lock(keys...)
		again, err := eng.draftKeys(ctx, ownerID, draftID)
		if err != nil {
			unlock()
			return nil, err
		}
		if !slices.ContainsFunc(again, func(k string) bool { return !slices.Contains(keys, k) }) {
			return unlock, nil
		}
		unlock()
		if attempt == maxLockAttempts {
			return nil, fmt.Errorf("draft %s: split set changed during booking", draftID)
		}
	}
}

func (eng *Engine) draftKeys(ctx context.Context, ownerID, draftID string) ([]string, error) {
	d, err := eng.store.GetDraft(ctx, ownerID, draftID)
	if err != nil {
		return nil, err
	}
	keys := []string{drafts.LockKey(ownerID, d.ID)}
	for _, e := range d.Entries {
		if e.SplitDraftID == "" {
			continue
		}
		set, err := splitSet(ctx, eng.store, ownerID, e.SplitDraftID)
		if err != nil {
			return nil, err
		}
		for _, c := range set {
			keys = append(keys, drafts.LockKey(ownerID, c.ID))
		}
	}
	return keys, nil
}
