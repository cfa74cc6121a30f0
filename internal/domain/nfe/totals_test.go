package nfe_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func threeItems() []*entity.DocumentItem {
	return []*entity.DocumentItem{
		{LineNumber: 1, Description: "Parafuso", NCM: "73181500", CFOP: "5102", Quantity: d("2"), UnitValue: d("10.00"), ICMSRate: d("18")},
		{LineNumber: 2, Description: "Furadeira", NCM: "84672100", CFOP: "5102", Quantity: d("1"), UnitValue: d("35.50")},
		{LineNumber: 3, Description: "Arruela", NCM: "73182200", CFOP: "5102", Quantity: d("3"), UnitValue: d("1.15")},
	}
}

func TestComputeTotals_SumaDeLineas(t *testing.T) {
	items := threeItems()
	tot := nfe.ComputeTotals(items, nfe.DocumentCharges{})

	assert.True(t, d("20.00").Equal(items[0].LineTotal))
	assert.True(t, d("35.50").Equal(items[1].LineTotal))
	assert.True(t, d("3.45").Equal(items[2].LineTotal))
	assert.True(t, d("58.95").Equal(tot.Products))
	assert.True(t, tot.Products.Equal(tot.GrandTotal))
}

func TestComputeTotals_ProrrateoDeFlete(t *testing.T) {
	items := threeItems()
	tot := nfe.ComputeTotals(items, nfe.DocumentCharges{Freight: d("10.00"), Discount: d("1.00")})

	assert.Equal(t, "3.39", items[0].Freight.StringFixed(2))
	assert.Equal(t, "6.02", items[1].Freight.StringFixed(2))
	assert.Equal(t, "0.59", items[2].Freight.StringFixed(2), "la última línea absorbe el redondeo")
	assert.True(t, d("10.00").Equal(tot.Freight))
	assert.True(t, d("1.00").Equal(tot.Discount))
	assert.Equal(t, "67.95", tot.GrandTotal.StringFixed(2))

	// ICMS solo en la línea con alícuota: (20.00 + 3.39 - 0.34) * 18%
	assert.Equal(t, "0.34", items[0].Discount.StringFixed(2))
	assert.Equal(t, "23.05", items[0].ICMSBase.StringFixed(2))
	assert.Equal(t, "4.15", tot.ICMS.StringFixed(2))
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, nfe.WithinTolerance(d("58.96"), d("58.95")))
	assert.True(t, nfe.WithinTolerance(d("58.94"), d("58.95")))
	assert.False(t, nfe.WithinTolerance(d("58.97"), d("58.95")))
}
