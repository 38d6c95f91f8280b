// Package masterdata holds the owner's accounts, contacts, securities and
// savings plans as kept in masterdata.yaml.
package masterdata

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// FileName is the master data file inside the data directory.
const FileName = "masterdata.yaml"

// Data is the document stored in masterdata.yaml.
type Data struct {
	Accounts     []model.Account     `yaml:"accounts"`
	Contacts     []model.Contact     `yaml:"contacts"`
	Securities   []model.Security    `yaml:"securities,omitempty"`
	SavingsPlans []model.SavingsPlan `yaml:"savings_plans,omitempty"`
}

// Read decodes master data. Unknown keys are rejected so that typos in the
// hand-edited file surface instead of silently dropping a field.
func Read(r io.Reader) (Data, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var d Data
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return Data{}, nil
		}
		return Data{}, fmt.Errorf("decoding master data: %w", err)
	}
	return d, nil
}

// Write encodes master data with two-space indentation.
func Write(w io.Writer, d Data) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encoding master data: %w", err)
	}
	return enc.Close()
}
