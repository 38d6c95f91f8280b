package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// snapshot is the on-disk form of the state.
type snapshot struct {
	Version      int                      `json:"version"`
	Drafts       []*model.Draft           `json:"drafts"`
	Postings     []model.Posting          `json:"postings"`
	Aggregates   []model.PostingAggregate `json:"aggregates"`
	Accounts     []model.Account          `json:"accounts"`
	Contacts     []model.Contact          `json:"contacts"`
	Securities   []model.Security         `json:"securities"`
	SavingsPlans []model.SavingsPlan      `json:"savings_plans"`
}

const snapshotVersion = 1

// Save writes the published state to path as JSON, atomically.
func (s *Store) Save(path string) error {
	st := s.current()
	snap := snapshot{
		Version:      snapshotVersion,
		Postings:     st.Postings,
		Accounts:     st.accounts,
		Contacts:     st.contacts,
		Securities:   st.securities,
		SavingsPlans: st.savingsPlans,
	}
	snap.Drafts = st.drafts(func(*model.Draft) bool { return true })
	for k, v := range st.Aggregates {
		snap.Aggregates = append(snap.Aggregates, model.PostingAggregate{AggregateKey: k, Amount: v})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing state: %w", err)
	}
	return nil
}

// Load reads a state file written by Save. A missing file yields an empty store.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported state version %d", snap.Version)
	}

	st := newState()
	for _, d := range snap.Drafts {
		st.Drafts[d.ID] = d
	}
	for _, a := range snap.Aggregates {
		k := a.AggregateKey
		k.PeriodStart = k.PeriodStart.UTC()
		st.Aggregates[k] = a.Amount
	}
	st.Postings = snap.Postings
	st.accounts = snap.Accounts
	st.contacts = snap.Contacts
	st.securities = snap.Securities
	st.savingsPlans = snap.SavingsPlans
	return &Store{st: st}, nil
}
