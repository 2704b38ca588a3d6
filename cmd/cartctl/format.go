package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"storefront/internal/cartsync"
	"storefront/internal/client"
	"storefront/internal/domain/cartview"

	"github.com/shopspring/decimal"
	"golang.org/x/text/number"
)

func (a *app) money(d decimal.Decimal) string {
	return a.cfg.CurrencySym + a.printer.Sprint(number.Decimal(d.Round(2).InexactFloat64(), number.Scale(2)))
}

func (a *app) render(w io.Writer, format string, v cartview.CartView) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v.ToJSON())
	}

	if len(v.Lines) == 0 {
		_, err := fmt.Fprintln(w, "cart is empty")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, l := range v.Lines {
		discount := ""
		if l.DiscountPercent.IsPositive() {
			discount = "-" + l.DiscountPercent.String() + "%"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d x %s\t%s\t%s\n",
			l.ProductID, l.Name, l.Quantity, a.money(l.EffectiveUnitPrice), discount, a.money(l.LineTotal))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := a.printer.Fprintf(w, "items: %d  subtotal: %s\n", v.ItemCount, a.money(v.Subtotal))
	return err
}

func (a *app) renderProducts(w io.Writer, format string, items []client.Product, total int64) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"items": items, "total": total})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range items {
		price, err := decimal.NewFromString(p.UnitPrice)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\tstock %d\n", p.ID, p.Name, a.money(price), p.Stock)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "total: %d\n", total)
	return err
}

func sortedFailed(r cartsync.MergeReport) []string {
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
