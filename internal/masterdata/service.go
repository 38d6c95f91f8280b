package masterdata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/store"
)

// Service provides in-memory lookup over one owner's master data.
type Service struct {
	data       Data
	accounts   map[string]model.Account
	contacts   map[string]model.Contact
	securities map[string]model.Security
	plans      map[string]model.SavingsPlan
}

// NewService creates a Service from d.
func NewService(d Data) *Service {
	return &Service{
		data:       d,
		accounts:   index(d.Accounts, func(a model.Account) string { return a.ID }),
		contacts:   index(d.Contacts, func(c model.Contact) string { return c.ID }),
		securities: index(d.Securities, func(s model.Security) string { return s.ID }),
		plans:      index(d.SavingsPlans, func(p model.SavingsPlan) string { return p.ID }),
	}
}

func index[T any](items []T, id func(T) string) map[string]T {
	m := make(map[string]T, len(items))
	for _, it := range items {
		m[id(it)] = it
	}
	return m
}

// Load reads masterdata.yaml from dataDir and returns a Service.
func Load(dataDir string) (*Service, error) {
	f, err := os.Open(filepath.Join(dataDir, FileName))
	if err != nil {
		return nil, fmt.Errorf("opening master data: %w", err)
	}
	defer f.Close()

	d, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading master data: %w", err)
	}
	return NewService(d), nil
}

// Save writes the master data to <dataDir>/masterdata.yaml.
func (s *Service) Save(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dataDir, FileName))
	if err != nil {
		return fmt.Errorf("creating master data file: %w", err)
	}
	defer f.Close()

	if err := Write(f, s.data); err != nil {
		return fmt.Errorf("writing master data: %w", err)
	}
	return nil
}

// Data returns the underlying document.
func (s *Service) Data() Data {
	return s.data
}

// Account returns an account by ID.
func (s *Service) Account(id string) (model.Account, bool) {
	a, ok := s.accounts[id]
	return a, ok
}

// Contact returns a contact by ID.
func (s *Service) Contact(id string) (model.Contact, bool) {
	c, ok := s.contacts[id]
	return c, ok
}

// Security returns a security by ID.
func (s *Service) Security(id string) (model.Security, bool) {
	sec, ok := s.securities[id]
	return sec, ok
}

// SavingsPlan returns a savings plan by ID.
func (s *Service) SavingsPlan(id string) (model.SavingsPlan, bool) {
	p, ok := s.plans[id]
	return p, ok
}

// SelfContact returns the contact of type Self, if any.
func (s *Service) SelfContact() (model.Contact, bool) {
	for _, c := range s.data.Contacts {
		if c.Type == model.ContactTypeSelf {
			return c, true
		}
	}
	return model.Contact{}, false
}

var contactTypes = map[model.ContactType]bool{
	model.ContactTypeSelf:         true,
	model.ContactTypeBank:         true,
	model.ContactTypePerson:       true,
	model.ContactTypeOrganization: true,
	model.ContactTypeOther:        true,
}

// Validate checks ids, names and references and reports every problem found.
func (s *Service) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	checkIDs(s.data.Accounts, "account", func(a model.Account) (string, string) { return a.ID, a.Name }, fail)
	checkIDs(s.data.Contacts, "contact", func(c model.Contact) (string, string) { return c.ID, c.Name }, fail)
	checkIDs(s.data.Securities, "security", func(sec model.Security) (string, string) { return sec.ID, sec.Name }, fail)
	checkIDs(s.data.SavingsPlans, "savings plan", func(p model.SavingsPlan) (string, string) { return p.ID, p.Name }, fail)

	selfCount := 0
	for _, c := range s.data.Contacts {
		if !contactTypes[c.Type] {
			fail("contact %s: unknown type %q", c.ID, c.Type)
		}
		if c.Type == model.ContactTypeSelf {
			selfCount++
		}
	}
	if selfCount > 1 {
		fail("%d contacts of type self, expected at most one", selfCount)
	}

	for _, a := range s.data.Accounts {
		if a.BankContactID == "" {
			continue
		}
		c, ok := s.contacts[a.BankContactID]
		switch {
		case !ok:
			fail("account %s: bank contact %s not found", a.ID, a.BankContactID)
		case c.Type != model.ContactTypeBank:
			fail("account %s: contact %s is not a bank", a.ID, a.BankContactID)
		}
	}

	for _, sec := range s.data.Securities {
		if sec.Identifier == "" {
			fail("security %s: missing identifier", sec.ID)
		}
	}

	return errors.Join(errs...)
}

func checkIDs[T any](items []T, kind string, key func(T) (id, name string), fail func(string, ...any)) {
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		id, name := key(it)
		if id == "" {
			fail("%s #%d: missing id", kind, i+1)
			continue
		}
		if seen[id] {
			fail("%s %s: duplicate id", kind, id)
		}
		seen[id] = true
		if name == "" {
			fail("%s %s: missing name", kind, id)
		}
	}
}

// ForOwner returns a copy of the data with every record stamped with ownerID.
func (s *Service) ForOwner(ownerID string) Data {
	d := Data{
		Accounts:     append([]model.Account(nil), s.data.Accounts...),
		Contacts:     append([]model.Contact(nil), s.data.Contacts...),
		Securities:   append([]model.Security(nil), s.data.Securities...),
		SavingsPlans: append([]model.SavingsPlan(nil), s.data.SavingsPlans...),
	}
	for i := range d.Accounts {
		d.Accounts[i].OwnerID = ownerID
	}
	for i := range d.Contacts {
		d.Contacts[i].OwnerID = ownerID
	}
	for i := range d.Securities {
		d.Securities[i].OwnerID = ownerID
	}
	for i := range d.SavingsPlans {
		d.SavingsPlans[i].OwnerID = ownerID
	}
	return d
}

// Seed validates the master data and replaces the owner's master data in st.
// Savings plans already archived in st stay archived.
func (s *Service) Seed(ctx context.Context, st store.Seeder, existing store.MasterData, ownerID string) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid master data: %w", err)
	}

	d := s.ForOwner(ownerID)
	if existing != nil {
		current, err := existing.SavingsPlans(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("listing savings plans: %w", err)
		}
		archived := make(map[string]bool, len(current))
		for _, p := range current {
			archived[p.ID] = p.Archived
		}
		for i := range d.SavingsPlans {
			if archived[d.SavingsPlans[i].ID] {
				d.SavingsPlans[i].Archived = true
			}
		}
	}

	if err := st.SetMasterData(ctx, ownerID, d.Accounts, d.Contacts, d.Securities, d.SavingsPlans); err != nil {
		return fmt.Errorf("seeding master data: %w", err)
	}
	return nil
}
