package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// ChaseReader parses Chase checking CSV exports.
type ChaseReader struct{}

const (
	chaseDateFormat = "01/02/2006"
	chaseNumFields  = 7
	chaseColDetails = 0
	chaseColDate    = 1
	chaseColDesc    = 2
	chaseColAmount  = 3
	chaseColType    = 4
	chaseCurrency   = "USD"
)

// Name returns the reader name.
func (p *ChaseReader) Name() string { return "chase" }

// Parse reads a Chase CSV. Any malformed row rejects the whole file.
func (p *ChaseReader) Parse(fileName string, data []byte) *model.ParseResult {
	cr := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	cr.FieldsPerRecord = chaseNumFields

	records, err := cr.ReadAll()
	if err != nil || len(records) <= 1 {
		return nil
	}
	if !strings.EqualFold(records[0][chaseColDetails], "Details") {
		return nil
	}

	res := &model.ParseResult{Header: model.Header{Description: "Chase checking"}}
	for _, rec := range records[1:] {
		m, err := parseChaseRow(rec)
		if err != nil {
			return nil
		}
		res.Movements = append(res.Movements, m)
	}
	return res
}

func parseChaseRow(rec []string) (model.Movement, error) {
	date, err := time.Parse(chaseDateFormat, rec[chaseColDate])
	if err != nil {
		return model.Movement{}, fmt.Errorf("parsing date %q: %w", rec[chaseColDate], err)
	}

	amount, err := decimal.NewFromString(rec[chaseColAmount])
	if err != nil {
		return model.Movement{}, fmt.Errorf("parsing amount %q: %w", rec[chaseColAmount], err)
	}

	desc := strings.TrimSpace(rec[chaseColDesc])
	return model.Movement{
		BookingDate:        date,
		Amount:             amount,
		CurrencyCode:       chaseCurrency,
		Subject:            desc,
		CounterpartyName:   chaseCounterparty(desc),
		PostingDescription: rec[chaseColType],
	}, nil
}

// chaseCounterparty strips the processor prefix and trailing reference from a
// card description, e.g. "GITHUB *PRO SUBSCRIPTION" -> "GITHUB".
func chaseCounterparty(desc string) string {
	if i := strings.Index(desc, "*"); i > 0 {
		desc = desc[:i]
	}
	return strings.TrimSpace(desc)
}
