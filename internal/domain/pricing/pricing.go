// Package pricing は割引後単価と合計の計算。丸めは表示時のみ行う。
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// 割引率が0より大きいときだけ割引を適用する
func EffectiveUnitPrice(unitPrice, discountPercent decimal.Decimal) decimal.Decimal {
	if !discountPercent.IsPositive() {
		return unitPrice
	}
	rate := decimal.NewFromInt(1).Sub(discountPercent.Div(hundred))
	return unitPrice.Mul(rate)
}

func LineTotal(unitPrice, discountPercent decimal.Decimal, quantity int64) decimal.Decimal {
	return EffectiveUnitPrice(unitPrice, discountPercent).Mul(decimal.NewFromInt(quantity))
}

// 表示用。2桁固定。
func Format(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// 割引率が0〜100に収まっているか
func ValidDiscount(discountPercent decimal.Decimal) bool {
	return !discountPercent.IsNegative() && discountPercent.LessThanOrEqual(hundred)
}
