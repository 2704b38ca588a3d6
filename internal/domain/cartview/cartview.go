// Package cartview はカートの読みモデル（CartView）を組み立てる。
// サーバー（Cart Store）とクライアント（キャッシュ）で同じ計算を使う。
package cartview

import (
	"sort"

	"storefront/internal/domain/pricing"

	"github.com/shopspring/decimal"
)

// 明細1行分の入力（数量＋商品スナップショット）
type Line struct {
	ProductID       string
	Quantity        int64
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	StockAvailable  int64
	Name            string
	ImageRef        string
	CategoryName    string
}

type LineView struct {
	Line
	EffectiveUnitPrice decimal.Decimal
	LineTotal          decimal.Decimal
}

type CartView struct {
	Lines     []LineView
	Subtotal  decimal.Decimal
	ItemCount int64
}

// 空カート
func Empty() CartView {
	return CartView{Lines: []LineView{}, Subtotal: decimal.Zero}
}

// 数量0以下の行は捨てる。product_id順で並べる。
func Build(lines []Line) CartView {
	out := Empty()

	sorted := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		sorted = append(sorted, l)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	for _, l := range sorted {
		eff := pricing.EffectiveUnitPrice(l.UnitPrice, l.DiscountPercent)
		total := eff.Mul(decimal.NewFromInt(l.Quantity))

		out.Lines = append(out.Lines, LineView{
			Line:               l,
			EffectiveUnitPrice: eff,
			LineTotal:          total,
		})
		out.Subtotal = out.Subtotal.Add(total)
		out.ItemCount += l.Quantity
	}
	return out
}

// 指定商品の数量（無ければ0）
func (v CartView) Quantity(productID string) int64 {
	for _, l := range v.Lines {
		if l.ProductID == productID {
			return l.Quantity
		}
	}
	return 0
}

// 入力行に戻す
func (v CartView) Inputs() []Line {
	out := make([]Line, 0, len(v.Lines))
	for _, l := range v.Lines {
		out = append(out, l.Line)
	}
	return out
}

// JSONの形（金額は2桁の文字列）
type LineJSON struct {
	ProductID          string `json:"product_id"`
	Quantity           int64  `json:"quantity"`
	UnitPrice          string `json:"unit_price"`
	DiscountPercent    string `json:"discount_percent"`
	EffectiveUnitPrice string `json:"effective_unit_price"`
	LineTotal          string `json:"line_total"`
	StockAvailable     int64  `json:"stock_available"`
	Name               string `json:"name"`
	ImageRef           string `json:"image_ref"`
	CategoryName       string `json:"category_name"`
}

type JSON struct {
	Lines     []LineJSON `json:"lines"`
	Subtotal  string     `json:"subtotal"`
	ItemCount int64      `json:"item_count"`
}

// 表示用に丸めたレスポンス
func (v CartView) ToJSON() JSON {
	out := JSON{
		Lines:     make([]LineJSON, 0, len(v.Lines)),
		Subtotal:  pricing.Format(v.Subtotal),
		ItemCount: v.ItemCount,
	}
	for _, l := range v.Lines {
		out.Lines = append(out.Lines, LineJSON{
			ProductID:          l.ProductID,
			Quantity:           l.Quantity,
			UnitPrice:          pricing.Format(l.UnitPrice),
			DiscountPercent:    l.DiscountPercent.String(),
			EffectiveUnitPrice: pricing.Format(l.EffectiveUnitPrice),
			LineTotal:          pricing.Format(l.LineTotal),
			StockAvailable:     l.StockAvailable,
			Name:               l.Name,
			ImageRef:           l.ImageRef,
			CategoryName:       l.CategoryName,
		})
	}
	return out
}

// レスポンスから組み立て直す。派生値は受け取った値を使わずに再計算する。
func FromJSON(j JSON) (CartView, error) {
	lines := make([]Line, 0, len(j.Lines))
	for _, l := range j.Lines {
		price, err := decimal.NewFromString(l.UnitPrice)
		if err != nil {
			return CartView{}, err
		}
		discount := decimal.Zero
		if l.DiscountPercent != "" {
			discount, err = decimal.NewFromString(l.DiscountPercent)
			if err != nil {
				return CartView{}, err
			}
		}
		lines = append(lines, Line{
			ProductID:       l.ProductID,
			Quantity:        l.Quantity,
			UnitPrice:       price,
			DiscountPercent: discount,
			StockAvailable:  l.StockAvailable,
			Name:            l.Name,
			ImageRef:        l.ImageRef,
			CategoryName:    l.CategoryName,
		})
	}
	return Build(lines), nil
}
