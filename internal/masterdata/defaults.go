package masterdata

import "github.com/Muesli84/FinanceManager-sub001/internal/model"

// Default returns starter master data: the owner as Self contact, one bank
// with its account and a general savings plan.
func Default(ownerName string) Data {
	if ownerName == "" {
		ownerName = "Me"
	}
	return Data{
		Accounts: []model.Account{
			{ID: "checking", Name: "Checking", IBAN: "DE00000000000000000000", BankContactID: "bank"},
		},
		Contacts: []model.Contact{
			{ID: "self", Name: ownerName, Type: model.ContactTypeSelf},
			{ID: "bank", Name: "My Bank", Type: model.ContactTypeBank},
			{ID: "paypal", Name: "PayPal", Type: model.ContactTypeOrganization, AliasPatterns: []string{"PAYPAL*"}, IsPaymentIntermediary: true},
		},
		SavingsPlans: []model.SavingsPlan{
			{ID: "reserve", Name: "Emergency reserve"},
		},
	}
}
