package nfe

import (
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// TotalsTolerance diferencia máxima aceptada entre un total informado y el calculado.
var TotalsTolerance = decimal.NewFromFloat(0.01)

var hundred = decimal.NewFromInt(100)

// DocumentCharges valores informados a nivel de documento que se prorratean entre las líneas.
type DocumentCharges struct {
	Freight   decimal.Decimal
	Insurance decimal.Decimal
	Discount  decimal.Decimal
	Other     decimal.Decimal
}

// ComputeTotals calcula vProd de cada línea, prorratea los cargos del documento en proporción al
// valor de cada línea (la última absorbe el redondeo), calcula ICMS/PIS/COFINS por línea y
// devuelve el grupo ICMSTot. Modifica los ítems recibidos.
func ComputeTotals(items []*entity.DocumentItem, charges DocumentCharges) entity.Totals {
	var t entity.Totals
	for _, it := range items {
		it.LineTotal = it.Quantity.Mul(it.UnitValue).Round(2)
		t.Products = t.Products.Add(it.LineTotal)
	}

	apportion(items, t.Products, charges.Freight.Round(2), func(it *entity.DocumentItem, v decimal.Decimal) { it.Freight = v })
	apportion(items, t.Products, charges.Insurance.Round(2), func(it *entity.DocumentItem, v decimal.Decimal) { it.Insurance = v })
	apportion(items, t.Products, charges.Discount.Round(2), func(it *entity.DocumentItem, v decimal.Decimal) { it.Discount = v })
	apportion(items, t.Products, charges.Other.Round(2), func(it *entity.DocumentItem, v decimal.Decimal) { it.Other = v })

	for _, it := range items {
		t.Freight = t.Freight.Add(it.Freight)
		t.Insurance = t.Insurance.Add(it.Insurance)
		t.Discount = t.Discount.Add(it.Discount)
		t.Other = t.Other.Add(it.Other)

		if it.ICMSRate.IsPositive() {
			it.ICMSBase = it.LineTotal.Add(it.Freight).Add(it.Insurance).Add(it.Other).Sub(it.Discount)
			it.ICMSValue = it.ICMSBase.Mul(it.ICMSRate).Div(hundred).Round(2)
		} else {
			it.ICMSBase = decimal.Zero
			it.ICMSValue = decimal.Zero
		}
		contribBase := it.LineTotal.Sub(it.Discount)
		it.PISValue = contribBase.Mul(it.PISRate).Div(hundred).Round(2)
		it.COFINSValue = contribBase.Mul(it.COFINSRate).Div(hundred).Round(2)

		t.ICMSBase = t.ICMSBase.Add(it.ICMSBase)
		t.ICMS = t.ICMS.Add(it.ICMSValue)
		t.PIS = t.PIS.Add(it.PISValue)
		t.COFINS = t.COFINS.Add(it.COFINSValue)
		t.TaxBurden = t.TaxBurden.Add(it.TaxBurden)
	}

	t.GrandTotal = t.Products.Add(t.Freight).Add(t.Insurance).Add(t.Other).Sub(t.Discount)
	return t
}

// WithinTolerance compara un total informado con el calculado.
func WithinTolerance(declared, computed decimal.Decimal) bool {
	return declared.Sub(computed).Abs().LessThanOrEqual(TotalsTolerance)
}

func apportion(items []*entity.DocumentItem, base, amount decimal.Decimal, set func(*entity.DocumentItem, decimal.Decimal)) {
	if len(items) == 0 {
		return
	}
	if amount.IsZero() {
		for _, it := range items {
			set(it, decimal.Zero)
		}
		return
	}
	if !base.IsPositive() {
		set(items[0], amount)
		for _, it := range items[1:] {
			set(it, decimal.Zero)
		}
		return
	}
	remaining := amount
	for i, it := range items {
		if i == len(items)-1 {
			set(it, remaining)
			return
		}
		share := amount.Mul(it.LineTotal).Div(base).Round(2)
		set(it, share)
		remaining = remaining.Sub(share)
	}
}
