package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// BackupReader reads the journal lines of a JSON account backup.
type BackupReader struct{}

const (
	backupIBANPath  = "$.BankAccounts[0].IBAN"
	backupNamePath  = "$.BankAccounts[0].Name"
	backupLinesPath = "$.BankAccountJournalLines[*]"
)

var backupDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// Name returns the reader name.
func (p *BackupReader) Name() string { return "backup" }

// Parse walks the backup document. Lines that cannot be read become error
// movements so the caller can skip them.
func (p *BackupReader) Parse(fileName string, data []byte) *model.ParseResult {
	data = bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil
	}

	jlines, err := jsonpath.Get(backupLinesPath, doc)
	if err != nil {
		return nil
	}
	lines, ok := jlines.([]any)
	if !ok || len(lines) == 0 {
		return nil
	}

	res := &model.ParseResult{Header: model.Header{
		AccountNumber: backupString(doc, backupIBANPath),
		Description:   backupString(doc, backupNamePath),
	}}
	for _, l := range lines {
		obj, ok := l.(map[string]any)
		if !ok {
			continue
		}
		m, err := backupMovement(obj)
		if err != nil {
			m.IsError = true
		}
		res.Movements = append(res.Movements, m)
	}
	return res
}

// backupString returns the string at path, or "" when absent.
func backupString(doc any, path string) string {
	v, err := jsonpath.Get(path, doc)
	if err != nil {
		return ""
	}
	// jsonpath may wrap a single answer in a list.
	if l, ok := v.([]any); ok && len(l) > 0 {
		v = l[0]
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func backupMovement(obj map[string]any) (model.Movement, error) {
	var m model.Movement
	str := func(k string) string {
		s, _ := obj[k].(string)
		return strings.TrimSpace(s)
	}

	date, err := backupDate(str("PostingDate"))
	if err != nil {
		return m, err
	}
	m.BookingDate = date
	if v := str("ValutaDate"); v != "" {
		if m.ValutaDate, err = backupDate(v); err != nil {
			return m, err
		}
	}
	if m.Amount, err = backupDecimal(obj["Amount"]); err != nil {
		return m, err
	}
	m.CurrencyCode = str("CurrencyCode")
	m.Subject = str("Description")
	m.CounterpartyName = str("SourceName")
	m.PostingDescription = str("PostingDescription")
	return m, nil
}

func backupDate(s string) (time.Time, error) {
	for _, layout := range backupDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing date %q", s)
}

func backupDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	case float64:
		return decimal.NewFromFloat(x), nil
	default:
		return decimal.Zero, fmt.Errorf("amount of type %T", v)
	}
}
