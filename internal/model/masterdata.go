package model

// ContactType classifies a contact.
type ContactType string

const (
	ContactTypeSelf         ContactType = "self"
	ContactTypeBank         ContactType = "bank"
	ContactTypePerson       ContactType = "person"
	ContactTypeOrganization ContactType = "organization"
	ContactTypeOther        ContactType = "other"
)

// Account is a bank account owned by a user.
type Account struct {
	ID            string `yaml:"id"`
	OwnerID       string `yaml:"owner_id"`
	Name          string `yaml:"name"`
	IBAN          string `yaml:"iban,omitempty"`
	AccountNumber string `yaml:"account_number,omitempty"`
	BankContactID string `yaml:"bank_contact_id,omitempty"`
}

// Contact is a counterpart of bank movements.
type Contact struct {
	ID                    string      `yaml:"id"`
	OwnerID               string      `yaml:"owner_id"`
	Name                  string      `yaml:"name"`
	Type                  ContactType `yaml:"type"`
	AliasPatterns         []string    `yaml:"aliases,omitempty"`
	IsPaymentIntermediary bool        `yaml:"payment_intermediary,omitempty"`
}

// Security is a tradable instrument (share, fund, bond).
type Security struct {
	ID         string `yaml:"id"`
	OwnerID    string `yaml:"owner_id"`
	Name       string `yaml:"name"`
	Identifier string `yaml:"identifier"` // ISIN or WKN
}

// SavingsPlan is a user-defined savings goal that transfers to Self are booked against.
type SavingsPlan struct {
	ID       string `yaml:"id"`
	OwnerID  string `yaml:"owner_id"`
	Name     string `yaml:"name"`
	Archived bool   `yaml:"archived,omitempty"`
}
