package drafts

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/classify"
	"github.com/Muesli84/FinanceManager-sub001/internal/importer"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store"
)

// QuantityPlaces is the precision security quantities are stored at.
const QuantityPlaces = 6

// SetAccount assigns the draft's bank account. An empty id clears it.
func (s *Service) SetAccount(ctx context.Context, ownerID, draftID, accountID string) (*model.Draft, error) {
	return s.update(ctx, ownerID, draftID, func(ctx context.Context, tx store.Tx, d *model.Draft) error {
		if accountID != "" {
			accounts, err := tx.Accounts(ctx, ownerID)
			if err != nil {
				return err
			}
			if !slices.ContainsFunc(accounts, func(a model.Account) bool { return a.ID == accountID }) {
				return fmt.Errorf("account %s: %w", accountID, ErrUnknownReference)
			}
		}
		d.AccountID = accountID
		return markDuplicates(ctx, tx, d)
	})
}

// SetEntryContact assigns the entry's contact and clears its review flag.
func (s *Service) SetEntryContact(ctx context.Context, ownerID, draftID, entryID, contactID string) (*model.DraftEntry, error) {
	return s.updateEntry(ctx, ownerID, draftID, entryID, func(ctx context.Context, tx store.Tx, _ *model.Draft, e *model.DraftEntry) error {
		if contactID != "" {
			contacts, err := tx.Contacts(ctx, ownerID)
			if err != nil {
				return err
			}
			if !slices.ContainsFunc(contacts, func(c model.Contact) bool { return c.ID == contactID }) {
				return fmt.Errorf("contact %s: %w", contactID, ErrUnknownReference)
			}
		}
		e.ContactID = contactID
		e.Ambiguous = false
		return nil
	})
}

// SetEntrySavingsPlan links the entry to an active savings plan.
func (s *Service) SetEntrySavingsPlan(ctx context.Context, ownerID, draftID, entryID, planID string) (*model.DraftEntry, error) {
	return s.updateEntry(ctx, ownerID, draftID, entryID, func(ctx context.Context, tx store.Tx, _ *model.Draft, e *model.DraftEntry) error {
		if planID != "" {
			plans, err := tx.SavingsPlans(ctx, ownerID)
			if err != nil {
				return err
			}
			if !slices.ContainsFunc(plans, func(p model.SavingsPlan) bool { return p.ID == planID && !p.Archived }) {
				return fmt.Errorf("savings plan %s: %w", planID, ErrUnknownReference)
			}
		}
		e.SavingsPlanID = planID
		if planID == "" {
			e.ArchiveOnBooking = false
		}
		return nil
	})
}

// SetArchiveOnBooking marks the entry's savings plan to be archived once the
// entry is booked.
func (s *Service) SetArchiveOnBooking(ctx context.Context, ownerID, draftID, entryID string, archive bool) (*model.DraftEntry, error) {
	return s.updateEntry(ctx, ownerID, draftID, entryID, func(_ context.Context, _ store.Tx, _ *model.Draft, e *model.DraftEntry) error {
		if archive && e.SavingsPlanID == "" {
			return fmt.Errorf("entry %s has no savings plan: %w", entryID, ErrUnknownReference)
		}
		e.ArchiveOnBooking = archive
		return nil
	})
}

// SecurityAssignment holds the trade fields of a security entry.
type SecurityAssignment struct {
	SecurityID      string
	TransactionType model.SecurityTransactionType
	Quantity        decimal.NullDecimal
	Fee             decimal.NullDecimal
	Tax             decimal.NullDecimal
}

// SetEntrySecurity assigns a security and its trade fields. An empty
// security id clears all of them. A missing transaction type is inferred.
func (s *Service) SetEntrySecurity(ctx context.Context, ownerID, draftID, entryID string, a SecurityAssignment) (*model.DraftEntry, error) {
	return s.updateEntry(ctx, ownerID, draftID, entryID, func(ctx context.Context, tx store.Tx, _ *model.Draft, e *model.DraftEntry) error {
		if a.SecurityID == "" {
			e.SecurityID = ""
			e.TransactionType = model.SecurityTxNone
			e.Quantity, e.FeeAmount, e.TaxAmount = decimal.NullDecimal{}, decimal.NullDecimal{}, decimal.NullDecimal{}
			return nil
		}
		securities, err := tx.Securities(ctx, ownerID)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(securities, func(sec model.Security) bool { return sec.ID == a.SecurityID }) {
			return fmt.Errorf("security %s: %w", a.SecurityID, ErrUnknownReference)
		}
		e.SecurityID = a.SecurityID
		e.TransactionType = a.TransactionType
		e.Quantity = roundQuantity(a.Quantity)
		e.FeeAmount = a.Fee
		e.TaxAmount = a.Tax
		if e.TransactionType == model.SecurityTxNone {
			e.TransactionType = classify.InferTransactionType(e)
		}
		e.Ambiguous = false
		return nil
	})
}

func roundQuantity(q decimal.NullDecimal) decimal.NullDecimal {
	if !q.Valid {
		return q
	}
	return decimal.NewNullDecimal(q.Decimal.Abs().Round(QuantityPlaces))
}

// ApplyTradeDocument reads a broker trade confirmation and copies quantity,
// fee, tax and transaction type onto the entry. The security is matched
// from the document when the entry has none.
func (s *Service) ApplyTradeDocument(ctx context.Context, ownerID, draftID, entryID, fileName string, data []byte) (*model.DraftEntry, error) {
	res, err := s.registry.ParseWith(importer.TradeReaderName, fileName, data, importer.ModeSingleStatement)
	if err != nil {
		return nil, fmt.Errorf("reading trade document: %w", err)
	}
	m := res.Movements[0]

	cctx, err := s.classifyContext(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.updateEntry(ctx, ownerID, draftID, entryID, func(_ context.Context, _ store.Tx, _ *model.Draft, e *model.DraftEntry) error {
		if e.SecurityID == "" {
			secID, ambiguous := classify.MatchSecurity(m.Subject, cctx.Securities)
			if secID == "" {
				return fmt.Errorf("security %s: %w", m.Subject, ErrUnknownReference)
			}
			e.SecurityID = secID
			e.Ambiguous = ambiguous
		}
		if t := model.SecurityTransactionType(m.PostingDescription); t != model.SecurityTxNone {
			e.TransactionType = t
		}
		if m.Quantity.Valid {
			e.Quantity = roundQuantity(m.Quantity)
		}
		e.FeeAmount = m.Fee
		e.TaxAmount = m.Tax
		return nil
	})
}

// AssignSplitDraft links childDraftID as the split of one entry. An empty
// child id removes the link. Drafts sharing the child's upload group become
// part of the split set, so the child must not come from the parent's own
// upload.
func (s *Service) AssignSplitDraft(ctx context.Context, ownerID, draftID, entryID, childDraftID string) (*model.DraftEntry, error) {
	if childDraftID == draftID {
		return nil, fmt.Errorf("draft %s: %w", draftID, ErrSelfSplit)
	}
	keys := []string{LockKey(ownerID, draftID)}
	if childDraftID != "" {
		keys = append(keys, LockKey(ownerID, childDraftID))
	}
	unlock := s.locks.Lock(keys...)
	defer unlock()

	var entry *model.DraftEntry
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		d, err := loadOpen(ctx, tx, ownerID, draftID)
		if err != nil {
			return err
		}
		entry = d.Entry(entryID)
		if entry == nil {
			return fmt.Errorf("entry %s: %w", entryID, ErrEntryNotFound)
		}
		if childDraftID != "" {
			if err := checkSplitChild(ctx, tx, d, entry, childDraftID); err != nil {
				return err
			}
		}
		entry.SplitDraftID = childDraftID
		return tx.SaveDraft(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func checkSplitChild(ctx context.Context, tx store.Tx, parent *model.Draft, entry *model.DraftEntry, childID string) error {
	child, err := loadOpen(ctx, tx, parent.OwnerID, childID)
	if err != nil {
		return err
	}
	if parent.UploadGroupID != "" && child.UploadGroupID == parent.UploadGroupID {
		return fmt.Errorf("draft %s is in the upload group of its parent: %w", childID, ErrSelfSplit)
	}
	all, err := tx.ListDrafts(ctx, parent.OwnerID)
	if err != nil {
		return err
	}
	for _, other := range all {
		for _, e := range other.Entries {
			if e.SplitDraftID != childID || (other.ID == parent.ID && e.ID == entry.ID) {
				continue
			}
			return fmt.Errorf("draft %s: %w", childID, ErrSplitInUse)
		}
	}
	return nil
}
