// Package template implements a section-based line parser driven by
// declarative statement templates.
//
// A template is an ordered list of sections. Each input line is dispatched to
// the current section; a section closes on a blank line or when one of its end
// keywords matches, after which the next section takes over. Table sections
// turn lines into movements either by splitting fields (separator or fixed
// length) or by named regular expressions.
package template

import (
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// SectionType selects how a section consumes lines.
type SectionType string

const (
	SectionIgnore          SectionType = "ignore"
	SectionKeyValue        SectionType = "keyvalue"
	SectionTable           SectionType = "table"
	SectionTableWithHeader SectionType = "table-with-header"
	SectionDynamicTable    SectionType = "dynamic-table"
)

// SeparatorNone makes a table consume fixed-length substrings instead of splitting.
const SeparatorNone = "none"

// Variables a field, key or regex group can write to.
const (
	VarPostingDate   = "PostingDate"
	VarValutaDate    = "ValutaDate"
	VarAmount        = "Amount"
	VarCurrencyCode  = "CurrencyCode"
	VarSubject       = "Subject"
	VarSourceName    = "SourceName"
	VarDescription   = "Description"
	VarQuantity      = "Quantity"
	VarFee           = "Fee"
	VarTax           = "Tax"
	VarAccountNumber = "AccountNumber"
	VarIgnore        = "Ignore"
)

var recordVariables = map[string]bool{
	VarPostingDate: true, VarValutaDate: true, VarAmount: true, VarCurrencyCode: true,
	VarSubject: true, VarSourceName: true, VarDescription: true, VarQuantity: true,
	VarFee: true, VarTax: true, VarAccountNumber: true, VarIgnore: true,
}

// Key write modes of keyvalue sections.
const (
	ModeAlways        = "always"
	ModeOnlyWhenEmpty = "only-when-empty"
)

// RegexpAdditional marks a regex that adds to the record in progress instead of starting one.
const RegexpAdditional = "additional"

// Template is a declarative description of one statement export format.
type Template struct {
	Name            string        `yaml:"name"`
	DefaultCurrency string        `yaml:"default-currency,omitempty"`
	Replacements    []Replacement `yaml:"replacements,omitempty"`
	Sections        []*Section    `yaml:"sections"`
}

// Replacement is a literal search/replace applied to text values.
type Replacement struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Section is one block of a statement file.
type Section struct {
	Type           SectionType `yaml:"type"`
	EndKeyword     string      `yaml:"end-keyword,omitempty"` // pipe-separated alternation
	FieldSeparator string      `yaml:"field-separator,omitempty"`
	ContainsHeader bool        `yaml:"contains-header,omitempty"`
	IgnoreKeywords []string    `yaml:"ignore-keywords,omitempty"`
	Fields         []Field     `yaml:"fields,omitempty"`
	Regexps        []Regexp    `yaml:"regexps,omitempty"`
	Separator      string      `yaml:"separator,omitempty"` // keyvalue only
	Keys           []Key       `yaml:"keys,omitempty"`
	SpanBlankLines bool        `yaml:"span-blank-lines,omitempty"` // ignore only: run past blank lines until end-keyword

	endRe    *regexp.Regexp
	ignoreRe []*regexp.Regexp
}

// Field maps one column to a variable.
type Field struct {
	Name           string  `yaml:"name,omitempty"`
	Variable       string  `yaml:"variable"`
	Length         int     `yaml:"length,omitempty"` // fixed-length tables; 0 on the last field = rest of line
	Multiplier     float64 `yaml:"multiplier,omitempty"`
	Optional       bool    `yaml:"optional,omitempty"`
	PreviewPattern string  `yaml:"preview-pattern,omitempty"` // marks the movement as preview when the value matches

	previewRe *regexp.Regexp
}

// Regexp maps named capture groups to variables.
type Regexp struct {
	Pattern    string  `yaml:"pattern"`
	Multiplier float64 `yaml:"multiplier,omitempty"`
	Type       string  `yaml:"type,omitempty"`

	re *regexp.Regexp
}

// Key maps a keyvalue key to a header variable.
type Key struct {
	Name     string `yaml:"name"`
	Variable string `yaml:"variable"`
	Mode     string `yaml:"mode,omitempty"`
}

func multiplier(m float64) decimal.Decimal {
	if m == 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(m)
}

// Load decodes a YAML template and compiles its patterns.
func Load(r io.Reader) (*Template, error) {
	var t Template
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("decoding template: %w", err)
	}
	if err := t.compile(); err != nil {
		return nil, fmt.Errorf("template %s: %w", t.Name, err)
	}
	return &t, nil
}

// LoadFS loads every *.yaml template under dir of fsys, in file name order.
func LoadFS(fsys fs.FS, dir string) ([]*Template, error) {
	matches, err := fs.Glob(fsys, strings.TrimSuffix(dir, "/")+"/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	var out []*Template
	for _, m := range matches {
		f, err := fsys.Open(m)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", m, err)
		}
		t, err := Load(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", m, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// MustLoad is Load for templates embedded in the binary.
func MustLoad(src string) *Template {
	t, err := Load(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) compile() error {
	if t.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(t.Sections) == 0 {
		return fmt.Errorf("no sections")
	}
	for i, s := range t.Sections {
		if err := s.compile(); err != nil {
			return fmt.Errorf("section %d: %w", i, err)
		}
	}
	return nil
}

func (s *Section) compile() error {
	switch s.Type {
	case SectionIgnore, SectionKeyValue, SectionTable, SectionTableWithHeader, SectionDynamicTable:
	default:
		return fmt.Errorf("unknown section type %q", s.Type)
	}
	if s.Type == SectionTableWithHeader {
		s.ContainsHeader = true
	}

	if s.SpanBlankLines && (s.Type != SectionIgnore || s.EndKeyword == "") {
		return fmt.Errorf("span-blank-lines needs an ignore section with end-keyword")
	}
	if s.EndKeyword != "" {
		re, err := regexp.Compile(s.EndKeyword)
		if err != nil {
			return fmt.Errorf("end-keyword: %w", err)
		}
		s.endRe = re
	}
	for _, k := range s.IgnoreKeywords {
		re, err := regexp.Compile(k)
		if err != nil {
			return fmt.Errorf("ignore-keyword %q: %w", k, err)
		}
		s.ignoreRe = append(s.ignoreRe, re)
	}

	switch s.Type {
	case SectionKeyValue:
		if s.Separator == "" {
			s.Separator = ":"
		}
		for _, k := range s.Keys {
			if k.Variable != VarAccountNumber && k.Variable != VarDescription {
				return fmt.Errorf("key %q: unsupported header variable %q", k.Name, k.Variable)
			}
			if k.Mode != "" && k.Mode != ModeAlways && k.Mode != ModeOnlyWhenEmpty {
				return fmt.Errorf("key %q: unknown mode %q", k.Name, k.Mode)
			}
		}
	case SectionTable, SectionTableWithHeader, SectionDynamicTable:
		if len(s.Fields) == 0 && len(s.Regexps) == 0 {
			return fmt.Errorf("table without fields or regexps")
		}
		if s.Type == SectionDynamicTable {
			s.FieldSeparator = SeparatorNone
		}
		if s.FieldSeparator == "" {
			s.FieldSeparator = ";"
		}
		for i := range s.Fields {
			f := &s.Fields[i]
			if !recordVariables[f.Variable] {
				return fmt.Errorf("field %q: unknown variable %q", f.Name, f.Variable)
			}
			if s.ContainsHeader && f.Name == "" {
				return fmt.Errorf("field %d: header tables need field names", i)
			}
			if s.FieldSeparator == SeparatorNone && f.Length <= 0 && i != len(s.Fields)-1 {
				return fmt.Errorf("field %q: fixed-length field needs a length", f.Name)
			}
			if f.PreviewPattern != "" {
				re, err := regexp.Compile(f.PreviewPattern)
				if err != nil {
					return fmt.Errorf("field %q preview-pattern: %w", f.Name, err)
				}
				f.previewRe = re
			}
		}
		for i := range s.Regexps {
			r := &s.Regexps[i]
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return fmt.Errorf("regexp %q: %w", r.Pattern, err)
			}
			for _, name := range re.SubexpNames()[1:] {
				if name != "" && !recordVariables[name] {
					return fmt.Errorf("regexp %q: unknown variable %q", r.Pattern, name)
				}
			}
			if r.Type != "" && r.Type != RegexpAdditional {
				return fmt.Errorf("regexp %q: unknown type %q", r.Pattern, r.Type)
			}
			r.re = re
		}
	}
	return nil
}

func (s *Section) isEnd(line string) bool {
	return s.endRe != nil && s.endRe.MatchString(line)
}

func (s *Section) isIgnored(line string) bool {
	for _, re := range s.ignoreRe {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
