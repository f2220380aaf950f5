package submission

import "wetmill_sms/internal/domain/currency"

// Value keys of the reporting forms.
const (
	FieldCashAdvanced    = "cash_advanced"
	FieldCashReturned    = "cash_returned"
	FieldCashSpent       = "cash_spent"
	FieldCreditSpent     = "credit_spent"
	FieldCherryPurchased = "cherry_purchased"
	FieldCreditCleared   = "credit_cleared"

	FieldOpeningBalance = "opening_balance"
	FieldWorkingCapital = "working_capital"
	FieldOtherIncome    = "other_income"
	FieldAdvanced       = "advanced"
	FieldFullTimeLabor  = "full_time_labor"
	FieldCasualLabor    = "casual_labor"
	FieldCommission     = "commission"
	FieldTransport      = "transport"
	FieldOtherExpenses  = "other_expenses"

	FieldGradeAStored  = "grade_a_stored"
	FieldGradeBStored  = "grade_b_stored"
	FieldGradeCStored  = "grade_c_stored"
	FieldGradeAShipped = "grade_a_shipped"
	FieldGradeBShipped = "grade_b_shipped"
)

// MonetaryFields are the values each kind reports in the local currency.
var MonetaryFields = map[Kind][]string{
	KindIbitumbwe: {
		FieldCashAdvanced, FieldCashReturned, FieldCashSpent, FieldCreditSpent, FieldCreditCleared,
	},
	KindAmafaranga: {
		FieldOpeningBalance, FieldWorkingCapital, FieldOtherIncome, FieldAdvanced,
		FieldFullTimeLabor, FieldCasualLabor, FieldCommission, FieldTransport, FieldOtherExpenses,
	},
}

func (k Kind) IsMonetary(field string) bool {
	for _, f := range MonetaryFields[k] {
		if f == field {
			return true
		}
	}
	return false
}

// Amount is a reported value as templates see it: currency.Local for the
// monetary fields of the kind, the plain decimal otherwise. Missing values
// are nil.
func (s *Submission) Amount(field string) any {
	v, ok := s.Values[field]
	if !ok {
		return nil
	}
	if s.Kind.IsMonetary(field) {
		return currency.Local(v)
	}
	return v
}
