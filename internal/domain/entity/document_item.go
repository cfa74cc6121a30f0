package entity

import "github.com/shopspring/decimal"

// DocumentItem representa una línea (det) del documento fiscal.
type DocumentItem struct {
	ID          string
	DocumentID  string
	LineNumber  int    // nItem
	Code        string // cProd
	EAN         string // cEAN ("SEM GTIN" si vacío)
	Description string // xProd
	NCM         string
	CFOP        string
	Unit        string // uCom
	Quantity    decimal.Decimal
	UnitValue   decimal.Decimal
	LineTotal   decimal.Decimal // vProd = Quantity × UnitValue (2 decimales)

	// Valores del documento prorrateados en la línea.
	Freight   decimal.Decimal
	Insurance decimal.Decimal
	Discount  decimal.Decimal
	Other     decimal.Decimal

	ICMSOrigin  string // orig
	ICMSCST     string // CST (régimen normal) o CSOSN (Simples Nacional)
	ICMSRate    decimal.Decimal
	ICMSBase    decimal.Decimal
	ICMSValue   decimal.Decimal
	PISCST      string
	PISRate     decimal.Decimal
	PISValue    decimal.Decimal
	COFINSCST   string
	COFINSRate  decimal.Decimal
	COFINSValue decimal.Decimal
	TaxBurden   decimal.Decimal // vTotTrib (Lei 12.741)
}
