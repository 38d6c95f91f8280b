package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func testRegistry() *Registry {
	r := DefaultRegistry("eur", zerolog.Nop())
	r.now = func() time.Time { return time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC) }
	return r
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDetect_PicksReaderPerFormat(t *testing.T) {
	tests := []struct {
		file      string
		reader    string
		movements int
	}{
		{"ing.csv", "ing", 3},
		{"sparkasse.csv", "sparkasse", 3},
		{"fixed.txt", "fixedwidth", 2},
		{"wuestenrot.txt", "wuestenrot", 3},
		{"chase_checking.csv", "chase", 6},
		{"backup.json", "backup", 3},
	}
	r := testRegistry()
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			rd, res, err := r.Detect(context.Background(), tt.file, readTestdata(t, tt.file))
			require.NoError(t, err)
			assert.Equal(t, tt.reader, rd.Name())
			assert.Len(t, res.Movements, tt.movements)
		})
	}
}

func TestDetect_Unrecognized(t *testing.T) {
	r := testRegistry()
	for _, data := range [][]byte{nil, []byte("just some text\n"), readTestdata(t, "trade_buy.txt"), []byte("%PDF-1.4 broken")} {
		_, _, err := r.Detect(context.Background(), "x", data)
		assert.ErrorIs(t, err, ErrUnrecognizedFormat)
	}
}

func TestINGReader(t *testing.T) {
	_, res, err := testRegistry().Detect(context.Background(), "ing.csv", readTestdata(t, "ing.csv"))
	require.NoError(t, err)

	assert.Equal(t, "DE12 5001 0517 0123 4567 89", res.Header.AccountNumber)
	assert.Equal(t, "Girokonto", res.Header.Description)

	m := res.Movements[1]
	assert.Equal(t, "PayPal Europe S.a.r.l. et Cie S.C.A", m.CounterpartyName)
	assert.Equal(t, "Rechnung 4711 Shop", m.Subject)
	assert.True(t, m.Amount.Equal(dec("-34.56")))
	assert.Equal(t, "EUR", m.CurrencyCode)
	assert.False(t, m.IsPreview)
}

func TestINGReader_UnreadableRowRejectsStatement(t *testing.T) {
	data := strings.Replace(string(readTestdata(t, "ing.csv")), "10.01.2025;10.01.2025", "1x.01.2025;10.01.2025", 1)
	require.Contains(t, data, "1x.01.2025")

	rd := testRegistry().Get("ing")
	require.NotNil(t, rd)
	assert.Nil(t, rd.Parse("ing.csv", []byte(data)), "a statement with an unreadable row is not cut short")
}

func TestTemplateReader_OversizedLine(t *testing.T) {
	data := string(readTestdata(t, "ing.csv")) + strings.Repeat("x", 5*1024*1024) + "\n"
	assert.Nil(t, testRegistry().Get("ing").Parse("ing.csv", []byte(data)))
}

func TestSparkasseReader_Windows1252AndPreview(t *testing.T) {
	_, res, err := testRegistry().Detect(context.Background(), "sparkasse.csv", readTestdata(t, "sparkasse.csv"))
	require.NoError(t, err)

	assert.Equal(t, "DE44500105175407324931", res.Header.AccountNumber)
	assert.Equal(t, "Stadtwerke Müllheim", res.Movements[0].CounterpartyName)
	assert.Equal(t, time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC), res.Movements[0].BookingDate)
	assert.False(t, res.Movements[0].IsPreview)
	assert.False(t, res.Movements[1].IsPreview)
	assert.True(t, res.Movements[2].IsPreview, "pending line")
	assert.True(t, res.Movements[2].Amount.Equal(dec("-99")))
}

func TestFixedWidthReader(t *testing.T) {
	_, res, err := testRegistry().Detect(context.Background(), "fixed.txt", readTestdata(t, "fixed.txt"))
	require.NoError(t, err)

	assert.Equal(t, "0123456789", res.Header.AccountNumber)
	assert.Equal(t, "REWE MARKT", res.Movements[0].CounterpartyName)
	assert.Equal(t, "EINKAUF 123", res.Movements[0].Subject)
	assert.True(t, res.Movements[1].Amount.Equal(dec("1000")))
	assert.Equal(t, time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), res.Movements[1].ValutaDate)
}

func TestWuestenrotReader(t *testing.T) {
	_, res, err := testRegistry().Detect(context.Background(), "wuestenrot.txt", readTestdata(t, "wuestenrot.txt"))
	require.NoError(t, err)

	assert.Equal(t, "12345678", res.Header.AccountNumber)
	assert.Equal(t, "Wohnsparen", res.Header.Description)
	assert.Equal(t, "Sparbeitrag Lastschrift Januar Vertrag 4711", res.Movements[0].Subject)
	assert.Equal(t, "Sparbeitrag", res.Movements[1].Subject, "page footer is not a continuation")
	assert.True(t, res.Movements[2].Amount.Equal(dec("-25")))
	assert.True(t, res.Movements[2].IsPreview, "dated after the registry clock")
}

func TestChaseReader(t *testing.T) {
	p := &ChaseReader{}
	res := p.Parse("chase.csv", readTestdata(t, "chase_checking.csv"))
	require.NotNil(t, res)
	require.Len(t, res.Movements, 6)

	first := res.Movements[0]
	assert.Equal(t, "GITHUB *PRO SUBSCRIPTION", first.Subject)
	assert.Equal(t, "GITHUB", first.CounterpartyName)
	assert.Equal(t, "-4.00", first.Amount.StringFixed(2))
	assert.Equal(t, "ACH_DEBIT", first.PostingDescription)
	assert.Equal(t, "USD", first.CurrencyCode)
	assert.Equal(t, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), first.BookingDate)

	for _, m := range res.Movements {
		if m.Subject == "ACME CONSULTING INVOICE 1042" {
			assert.Equal(t, "3500.00", m.Amount.StringFixed(2))
		} else {
			assert.True(t, m.Amount.IsNegative(), "expected negative for %s", m.Subject)
		}
	}
}

func TestChaseReader_RejectsMalformed(t *testing.T) {
	header := "Details,Posting Date,Description,Amount,Type,Balance,Check or Slip #\n"
	tests := map[string]string{
		"header only": header,
		"bad date":    header + "DEBIT,NOTADATE,desc,-4.00,ACH_DEBIT,100.00,\n",
		"bad amount":  header + "DEBIT,01/03/2025,desc,NOTANUMBER,ACH_DEBIT,100.00,\n",
		"wrong width": header + "DEBIT,01/03/2025,desc\n",
		"other csv":   "a,b,c,d,e,f,g\n1,2,3,4,5,6,7\n",
	}
	p := &ChaseReader{}
	for name, data := range tests {
		assert.Nil(t, p.Parse("x.csv", []byte(data)), name)
	}
}

func TestBackupReader(t *testing.T) {
	_, res, err := testRegistry().Detect(context.Background(), "backup.json", readTestdata(t, "backup.json"))
	require.NoError(t, err)

	assert.Equal(t, "DE12500105170123456789", res.Header.AccountNumber)
	assert.Equal(t, "Girokonto", res.Header.Description)

	m := res.Movements[0]
	assert.True(t, m.Amount.Equal(dec("-12.34")))
	assert.Equal(t, "REWE", m.CounterpartyName)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), m.ValutaDate)

	assert.True(t, res.Movements[1].Amount.Equal(dec("2500.10")))
	assert.Equal(t, "EUR", res.Movements[1].CurrencyCode, "default currency")
	assert.Equal(t, res.Movements[1].BookingDate, res.Movements[1].ValutaDate)
	assert.True(t, res.Movements[2].IsError)
}

func TestBackupReader_NotABackup(t *testing.T) {
	p := &BackupReader{}
	assert.Nil(t, p.Parse("x.json", []byte(`{"foo": 1}`)))
	assert.Nil(t, p.Parse("x.json", []byte(`[1,2]`)))
	assert.Nil(t, p.Parse("x.json", []byte(`{broken`)))
}

func TestTradeReader(t *testing.T) {
	r := testRegistry()

	res, err := r.ParseWith("trade", "buy.txt", readTestdata(t, "trade_buy.txt"), ModeSingleStatement)
	require.NoError(t, err)
	require.Len(t, res.Movements, 1)
	m := res.Movements[0]
	assert.Equal(t, string(model.SecurityTxBuy), m.PostingDescription)
	assert.True(t, m.Amount.Equal(dec("-1000")))
	assert.True(t, m.Quantity.Valid)
	assert.True(t, m.Quantity.Decimal.Equal(dec("1.123456")))
	assert.True(t, m.Fee.Decimal.Equal(dec("2.5")))
	assert.True(t, m.Tax.Decimal.Equal(dec("5")))
	assert.Equal(t, "IE00B4L5Y983", m.Subject)
	assert.Equal(t, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), m.BookingDate)

	res, err = r.ParseWith("trade", "div.txt", readTestdata(t, "trade_dividend.txt"), ModeSingleStatement)
	require.NoError(t, err)
	m = res.Movements[0]
	assert.Equal(t, string(model.SecurityTxDividend), m.PostingDescription)
	assert.True(t, m.Amount.Equal(dec("36.82")))
	assert.True(t, m.Tax.Decimal.Equal(dec("13.18")), "taxes are summed")
	assert.False(t, m.Fee.Valid)

	_, err = r.ParseWith("trade", "buy.txt", readTestdata(t, "trade_buy.txt"), ModeBulk)
	assert.ErrorIs(t, err, ErrUnrecognizedFormat)
}

func TestNormalize(t *testing.T) {
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	res := &model.ParseResult{Movements: []model.Movement{
		{BookingDate: now, CurrencyCode: " usd "},
		{BookingDate: now},
		{BookingDate: now, CurrencyCode: "XYZ"},
		{BookingDate: now.AddDate(0, 0, 1), CurrencyCode: "EUR"},
	}}
	Normalize(res, "EUR", now)

	assert.Equal(t, "USD", res.Movements[0].CurrencyCode)
	assert.Equal(t, now, res.Movements[0].ValutaDate)
	assert.Equal(t, "EUR", res.Movements[1].CurrencyCode)
	assert.True(t, res.Movements[2].IsError)
	assert.False(t, res.Movements[0].IsPreview)
	assert.True(t, res.Movements[3].IsPreview)
}

func TestStatementText(t *testing.T) {
	out, err := statementText([]byte{'M', 0xfc, 'l', 'l', 'e', 'r'})
	require.NoError(t, err)
	assert.Equal(t, "Müller", string(out))

	_, err = statementText([]byte("%PDF-1.4 not really"))
	assert.Error(t, err)
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry("EUR")
	assert.Nil(t, r.Get("nonexistent"))
}

func TestRegistry_CaseInsensitive(t *testing.T) {
	r := NewRegistry("EUR")
	r.Register(&ChaseReader{})
	assert.NotNil(t, r.Get("Chase"))
	assert.NotNil(t, r.Get("CHASE"))
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry("EUR")
	r.Register(&ChaseReader{})
	assert.Panics(t, func() { r.Register(&ChaseReader{}) })
}

func TestRegistry_Restrict(t *testing.T) {
	r := testRegistry()
	assert.Equal(t, []string{"ing", "sparkasse", "fixedwidth", "wuestenrot", "chase", "backup", "trade"}, r.Names())

	sub, err := r.Restrict([]string{"chase", "ING"})
	require.NoError(t, err)
	assert.Equal(t, []string{"chase", "ing"}, sub.Names())

	_, _, err = sub.Detect(context.Background(), "f.csv", readTestdata(t, "sparkasse.csv"))
	assert.ErrorIs(t, err, ErrUnrecognizedFormat)

	_, err = r.Restrict([]string{"nope"})
	assert.Error(t, err)
}

func TestScan_FindsStatements(t *testing.T) {
	dir := t.TempDir()
	importDir := filepath.Join(dir, "import")
	require.NoError(t, os.MkdirAll(filepath.Join(importDir, "processed"), 0o755))

	for _, name := range []string{"bank.csv", "export.PDF", "backup.json", "notes.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(importDir, name), []byte("data"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "processed", "old.csv"), []byte("data"), 0o644))

	files, err := Scan(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"bank.csv", "export.PDF", "backup.json"}, names)
}

func TestScan_EmptyDir(t *testing.T) {
	files, err := Scan(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, files)
}

func TestMarkProcessed(t *testing.T) {
	dir := t.TempDir()
	importDir := filepath.Join(dir, "import")
	require.NoError(t, os.MkdirAll(importDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(importDir, "bank.csv"), []byte("data"), 0o644))

	require.NoError(t, MarkProcessed(dir, "bank.csv"))

	_, err := os.Stat(filepath.Join(importDir, "bank.csv"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "import", "processed", "bank.csv"))
	assert.NoError(t, err)
}
