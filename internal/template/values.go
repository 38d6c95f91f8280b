package template

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Statement exports are read in the German locale: "1.234,56" and "31.12.2024".
var dateLayouts = []string{"02.01.2006", "2.1.2006", "02.01.06", "20060102", "2006-01-02"}

var errEmptyValue = errors.New("empty value")

// ParseDate parses a statement date in one of the supported layouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errEmptyValue
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing date %q", s)
}

var amountNoise = strings.NewReplacer("EUR", "", "€", "", " ", "", "\u00a0", "", "+", "")

// ParseAmount parses a German-locale amount. A trailing minus negates it.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = amountNoise.Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, errEmptyValue
	}
	neg := false
	if strings.HasSuffix(s, "-") {
		neg = true
		s = strings.TrimSuffix(s, "-")
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.Replace(s, ",", ".", 1)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

func (t *Template) replace(s string) string {
	for _, r := range t.Replacements {
		s = strings.ReplaceAll(s, r.From, r.To)
	}
	return strings.TrimSpace(s)
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
