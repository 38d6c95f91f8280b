package journal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/id"
	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// ValidationError describes a single invariant violation.
type ValidationError struct {
	Invariant   int
	PostingID   string
	Description string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invariant %d [%s]: %s", e.Invariant, e.PostingID, e.Description)
}

// ValidateGroup enforces the invariants on the legs generated from one draft
// entry. amount is the value the entry carries; a split parent carries zero.
func ValidateGroup(legs []model.Posting, groupID string, amount decimal.Decimal) []ValidationError {
	var errs []ValidationError

	sums := make(map[model.PostingKind]decimal.Decimal)
	for _, p := range legs {
		sums[p.Kind] = sums[p.Kind].Add(p.Amount)

		// Invariant 1: every leg belongs to the group.
		if p.GroupID != groupID || id.GroupOf(p.ID) != groupID {
			errs = append(errs, ValidationError{
				Invariant:   1,
				PostingID:   p.ID,
				Description: fmt.Sprintf("leg not in group %s", groupID),
			})
		}

		// Invariant 2: exactly one entity reference, matching the kind.
		if n := refCount(p); n != 1 || p.EntityID() == "" {
			errs = append(errs, ValidationError{
				Invariant:   2,
				PostingID:   p.ID,
				Description: fmt.Sprintf("%s leg must reference exactly one %s", p.Kind, p.Kind),
			})
		}

		// Invariant 3: quantities only on the main security leg, at most six places.
		if p.Quantity.Valid {
			main := p.Kind == model.PostingKindSecurity &&
				(p.SecuritySubType == model.SecuritySubTypeBuy || p.SecuritySubType == model.SecuritySubTypeSell)
			if !main || !p.Quantity.Decimal.Equal(p.Quantity.Decimal.Round(quantityPlaces)) {
				errs = append(errs, ValidationError{
					Invariant:   3,
					PostingID:   p.ID,
					Description: fmt.Sprintf("quantity %s not allowed on this leg", p.Quantity.Decimal),
				})
			}
		}
	}

	// Invariant 4: the bank leg carries the entry amount and the contact leg mirrors it.
	if !sums[model.PostingKindBank].Equal(amount) {
		errs = append(errs, ValidationError{
			Invariant:   4,
			PostingID:   groupID,
			Description: fmt.Sprintf("bank %s != amount %s", sums[model.PostingKindBank], amount),
		})
	}
	if !sums[model.PostingKindContact].Equal(sums[model.PostingKindBank]) {
		errs = append(errs, ValidationError{
			Invariant:   4,
			PostingID:   groupID,
			Description: fmt.Sprintf("contact %s != bank %s", sums[model.PostingKindContact], sums[model.PostingKindBank]),
		})
	}

	// Invariant 5: savings and security legs net out against the amount.
	if s, ok := sums[model.PostingKindSavingsPlan]; ok && !s.Equal(amount.Neg()) {
		errs = append(errs, ValidationError{
			Invariant:   5,
			PostingID:   groupID,
			Description: fmt.Sprintf("savings plan %s != %s", s, amount.Neg()),
		})
	}
	if s, ok := sums[model.PostingKindSecurity]; ok && !s.Equal(amount) {
		errs = append(errs, ValidationError{
			Invariant:   5,
			PostingID:   groupID,
			Description: fmt.Sprintf("security legs %s != amount %s", s, amount),
		})
	}

	return errs
}

func refCount(p model.Posting) int {
	n := 0
	for _, ref := range []string{p.AccountID, p.ContactID, p.SavingsPlanID, p.SecurityID} {
		if ref != "" {
			n++
		}
	}
	return n
}

// ValidateUnique reports posting ids that occur more than once.
func ValidateUnique(ps []model.Posting) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(ps))
	for _, p := range ps {
		if seen[p.ID] {
			errs = append(errs, ValidationError{
				Invariant:   6,
				PostingID:   p.ID,
				Description: "duplicate posting id",
			})
		}
		seen[p.ID] = true
	}
	return errs
}
