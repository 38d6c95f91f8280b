package importer

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
	"github.com/Muesli84/FinanceManager-sub001/internal/template"
)

// TradeReader reads broker trade confirmations and dividend advices. It only
// answers in ModeSingleStatement: a confirmation describes one entry and is
// never imported as a statement of its own.
type TradeReader struct{}

var (
	tradeKindRe = regexp.MustCompile(`(?i)(Wertpapierabrechnung\s+(Kauf|Verkauf)|Dividendengutschrift|Ertragsgutschrift|Aussch(?:ü|ue)ttung)`)
	tradeDateRe = regexp.MustCompile(`(?i)(?:Schlusstag(?:/-Zeit)?|Zahltag|Valuta)\s+(\d{2}\.\d{2}\.\d{4})`)
	tradeISINRe = regexp.MustCompile(`\b([A-Z]{2}[A-Z0-9]{9}\d)\b`)
	tradeQtyRe  = regexp.MustCompile(`(?i)St(?:ü|ue)ck\s+([\d.]+(?:,\d+)?)`)
	tradeFeeRe  = regexp.MustCompile(`(?i)(?:Provision|Orderentgelt|Transaktionsentgelt|Fremde Spesen)\s+([\d.]+,\d{2})`)
	tradeTaxRe  = regexp.MustCompile(`(?i)(?:Kapitalertrag(?:s)?steuer|Solidarit(?:ä|ae)tszuschlag|Kirchensteuer|Quellensteuer)\s+([\d.]+,\d{2})`)
	tradeSumRe  = regexp.MustCompile(`(?i)Ausmachender\s+Betrag\s+([\d.]+,\d{2})\s*([A-Z]{3})?`)
)

// TradeReaderName is the registry name of the trade confirmation reader.
const TradeReaderName = "trade"

// Name returns the reader name.
func (p *TradeReader) Name() string { return TradeReaderName }

// Parse is ParseDetails in ModeBulk.
func (p *TradeReader) Parse(fileName string, data []byte) *model.ParseResult {
	return p.ParseDetails(fileName, data, ModeBulk)
}

// ParseDetails extracts the trade as a single movement whose
// PostingDescription holds the transaction type. Buys are cash outflows and
// carry a negative amount.
func (p *TradeReader) ParseDetails(fileName string, data []byte, mode ParseMode) *model.ParseResult {
	if mode != ModeSingleStatement {
		return nil
	}
	raw, err := statementText(data)
	if err != nil {
		return nil
	}
	text := string(raw)

	kind := tradeKindRe.FindStringSubmatch(text)
	sum := tradeSumRe.FindStringSubmatch(text)
	date := tradeDateRe.FindStringSubmatch(text)
	if kind == nil || sum == nil || date == nil {
		return nil
	}

	var m model.Movement
	var txType model.SecurityTransactionType
	switch {
	case strings.EqualFold(kind[2], "Kauf"):
		txType = model.SecurityTxBuy
	case strings.EqualFold(kind[2], "Verkauf"):
		txType = model.SecurityTxSell
	default:
		txType = model.SecurityTxDividend
	}

	if m.BookingDate, err = template.ParseDate(date[1]); err != nil {
		return nil
	}
	if m.Amount, err = template.ParseAmount(sum[1]); err != nil {
		return nil
	}
	if txType == model.SecurityTxBuy {
		m.Amount = m.Amount.Neg()
	}
	m.CurrencyCode = sum[2]
	m.PostingDescription = string(txType)

	if q := tradeQtyRe.FindStringSubmatch(text); q != nil {
		if qty, err := template.ParseAmount(q[1]); err == nil {
			m.Quantity = decimal.NewNullDecimal(qty)
		}
	}
	m.Fee = sumMatches(tradeFeeRe, text)
	m.Tax = sumMatches(tradeTaxRe, text)

	if isin := tradeISINRe.FindStringSubmatch(text); isin != nil {
		m.Subject = isin[1]
	}
	return &model.ParseResult{
		Header:    model.Header{Description: strings.TrimSpace(kind[1])},
		Movements: []model.Movement{m},
	}
}

// sumMatches adds up every amount captured by re; it is null when nothing matched.
func sumMatches(re *regexp.Regexp, text string) decimal.NullDecimal {
	var out decimal.NullDecimal
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		v, err := template.ParseAmount(m[1])
		if err != nil {
			continue
		}
		out = decimal.NewNullDecimal(out.Decimal.Add(v))
	}
	return out
}
