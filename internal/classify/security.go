package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

var digraphs = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue", "Ä", "Ae", "Ö", "Oe", "Ü", "Ue", "ß", "ss",
)

// Fold normalizes text for matching: German umlauts become ASCII digraphs,
// remaining diacritics are dropped, and the result is lower-cased with
// collapsed whitespace.
func Fold(s string) string {
	s = digraphs.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// MatchSecurity searches text for a security identifier or name. With several
// matches the first by name is returned and ambiguous is set. securities must
// be sorted by name.
func MatchSecurity(text string, securities []model.Security) (id string, ambiguous bool) {
	folded := Fold(text)
	if folded == "" {
		return "", false
	}
	var hits []string
	for _, s := range securities {
		ident := Fold(s.Identifier)
		name := Fold(s.Name)
		if (ident != "" && strings.Contains(folded, ident)) || (name != "" && strings.Contains(folded, name)) {
			hits = append(hits, s.ID)
		}
	}
	if len(hits) == 0 {
		return "", false
	}
	return hits[0], len(hits) > 1
}

var dividendWords = []string{"dividende", "dividend", "ertrag", "ausschuettung", "coupon", "kupon"}

// InferTransactionType derives the trade type of a security entry from its
// text and sign: dividend wording wins, outflows are buys, inflows sells.
func InferTransactionType(e *model.DraftEntry) model.SecurityTransactionType {
	text := Fold(e.Subject + " " + e.PostingDescription)
	for _, w := range dividendWords {
		if strings.Contains(text, w) {
			return model.SecurityTxDividend
		}
	}
	if e.Amount.IsNegative() {
		return model.SecurityTxBuy
	}
	return model.SecurityTxSell
}
