package classify

import (
	"strings"
	"unicode"

	"github.com/Muesli84/FinanceManager-sub001/internal/model"
)

// minSuffixLen is the shortest account number matched against the tail of an IBAN.
const minSuffixLen = 6

// NormalizeAccountNumber strips spaces and punctuation and upper-cases an IBAN
// or account number.
func NormalizeAccountNumber(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r):
			return unicode.ToUpper(r)
		case unicode.IsDigit(r):
			return r
		default:
			return -1
		}
	}, s)
}

// DetectAccount returns the id of the account the hint identifies. Without a
// hint, a sole account is assumed. A hint that matches no account, or several,
// leaves the account undetected.
func DetectAccount(hint string, accounts []model.Account) string {
	hint = NormalizeAccountNumber(hint)
	if hint == "" {
		if len(accounts) == 1 {
			return accounts[0].ID
		}
		return ""
	}

	var found []string
	for _, a := range accounts {
		iban := NormalizeAccountNumber(a.IBAN)
		num := NormalizeAccountNumber(a.AccountNumber)
		switch {
		case iban != "" && iban == hint,
			num != "" && num == hint,
			iban != "" && len(hint) >= minSuffixLen && strings.HasSuffix(iban, hint):
			found = append(found, a.ID)
		}
	}
	if len(found) == 1 {
		return found[0]
	}
	return ""
}
