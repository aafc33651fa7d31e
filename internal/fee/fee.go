// Package fee holds the single fee schedule applied by every transfer kind.
package fee

import (
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the currency precision; amounts and fees never carry
// more fractional digits than this.
const MinorUnitPlaces int32 = 2

// ServiceChargeRate is 20 per 1000 of the requested amount.
var ServiceChargeRate = decimal.New(2, -2)

// For returns the fee charged on top of amount for kind. The fee is computed
// on the requested amount only and rounded half-up to the minor unit.
func For(kind model.Kind, amount decimal.Decimal) decimal.Decimal {
	switch kind {
	case model.KindCashOut, model.KindWithdraw:
		return amount.Mul(ServiceChargeRate).Round(MinorUnitPlaces)
	case model.KindAddMoney, model.KindCashIn, model.KindSendMoney:
		return decimal.Zero
	}
	return decimal.Zero
}

// TotalDebit is what the paying wallet must hold: amount plus fee.
func TotalDebit(kind model.Kind, amount decimal.Decimal) decimal.Decimal {
	return amount.Add(For(kind, amount))
}

// ValidAmount reports whether amount is positive and fits the minor unit.
func ValidAmount(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}
	return amount.Equal(amount.Truncate(MinorUnitPlaces))
}
