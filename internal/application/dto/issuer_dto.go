package dto

import "time"

// IssuerRequest body para PUT /api/issuer. El ID sale del token.
type IssuerRequest struct {
	CNPJ              string `json:"cnpj"`
	StateRegistration string `json:"state_registration"`
	LegalName         string `json:"legal_name"`
	TradeName         string `json:"trade_name,omitempty"`
	TaxRegime         int    `json:"tax_regime"` // CRT 1..3
	Region            string `json:"region"`     // UF
	CityCode          string `json:"city_code"`  // IBGE
	CityName          string `json:"city_name"`
	Street            string `json:"street"`
	Number            string `json:"number"`
	District          string `json:"district"`
	PostalCode        string `json:"postal_code,omitempty"`
	Phone             string `json:"phone,omitempty"`
	CSCID             string `json:"csc_id,omitempty"`
	CSC               string `json:"csc,omitempty"`
}

// IssuerResponse cadastro del emisor. El CSC nunca se devuelve.
type IssuerResponse struct {
	ID                string    `json:"id"`
	CNPJ              string    `json:"cnpj"`
	StateRegistration string    `json:"state_registration"`
	LegalName         string    `json:"legal_name"`
	TradeName         string    `json:"trade_name,omitempty"`
	TaxRegime         int       `json:"tax_regime"`
	Region            string    `json:"region"`
	CityCode          string    `json:"city_code"`
	CityName          string    `json:"city_name"`
	Street            string    `json:"street"`
	Number            string    `json:"number"`
	District          string    `json:"district"`
	PostalCode        string    `json:"postal_code,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	CSCID             string    `json:"csc_id,omitempty"`
	HasCSC            bool      `json:"has_csc"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
