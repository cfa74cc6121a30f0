package entity

import "time"

// Régimen tributario del emisor (CRT).
const (
	TaxRegimeSimples       = 1 // Simples Nacional
	TaxRegimeSimplesExcess = 2 // Simples Nacional, exceso de sublímite
	TaxRegimeNormal        = 3 // Régimen normal
)

// Issuer es el contribuyente emisor (emit). La región (UF) determina el autorizador.
type Issuer struct {
	ID                string
	CNPJ              string
	StateRegistration string // IE
	LegalName         string // xNome
	TradeName         string // xFant
	TaxRegime         int    // CRT
	Region            string // UF
	CityCode          string // cMun IBGE (7 dígitos)
	CityName          string
	Street            string
	Number            string
	District          string
	PostalCode        string
	Phone             string
	CSCID             string // NFC-e: identificador del CSC
	CSC               string // NFC-e: código de seguridad del contribuyente
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
