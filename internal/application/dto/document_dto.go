package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// EmitDocumentRequest body para POST /api/documents.
// IssuerID lo completa el handler con el emisor del token.
type EmitDocumentRequest struct {
	IssuerID          string                `json:"-"`
	Model             string                `json:"model"`  // "55" | "65"
	Series            int                   `json:"series"` // 0..999
	NatureOfOperation string                `json:"nature_of_operation"`
	OperationType     *int                  `json:"operation_type,omitempty"` // tpNF; 1 (salida) por defecto
	Finality          int                   `json:"finality,omitempty"`       // finNFe; 1 por defecto
	PresenceIndicator int                   `json:"presence_indicator"`
	FinalConsumer     bool                  `json:"final_consumer"`
	ReferencedKeys    []string              `json:"referenced_keys,omitempty"`
	Buyer             *BuyerRequest         `json:"buyer,omitempty"`
	Items             []DocumentItemRequest `json:"items"`
	Freight           decimal.Decimal       `json:"freight"`
	Insurance         decimal.Decimal       `json:"insurance"`
	Discount          decimal.Decimal       `json:"discount"`
	Other             decimal.Decimal       `json:"other"`
	TotalProducts     *decimal.Decimal      `json:"total_products,omitempty"` // vProd informado; se contrasta con el calculado
	Total             *decimal.Decimal      `json:"total,omitempty"`          // vNF informado
	Payments          []PaymentRequest      `json:"payments,omitempty"`
	AdditionalInfo    string                `json:"additional_info,omitempty"`
}

// BuyerRequest destinatario.
type BuyerRequest struct {
	TaxID             string `json:"tax_id"`
	Name              string `json:"name"`
	StateRegistration string `json:"state_registration,omitempty"`
	IEIndicator       int    `json:"ie_indicator,omitempty"`
	Email             string `json:"email,omitempty"`
	Street            string `json:"street,omitempty"`
	Number            string `json:"number,omitempty"`
	District          string `json:"district,omitempty"`
	CityCode          string `json:"city_code,omitempty"`
	CityName          string `json:"city_name,omitempty"`
	Region            string `json:"region,omitempty"`
	PostalCode        string `json:"postal_code,omitempty"`
	Phone             string `json:"phone,omitempty"`
}

// DocumentItemRequest línea del documento.
type DocumentItemRequest struct {
	Code        string          `json:"code"`
	EAN         string          `json:"ean,omitempty"`
	Description string          `json:"description"`
	NCM         string          `json:"ncm"`
	CFOP        string          `json:"cfop"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitValue   decimal.Decimal `json:"unit_value"`
	ICMSOrigin  string          `json:"icms_origin,omitempty"`
	ICMSCST     string          `json:"icms_cst,omitempty"` // CST o CSOSN según el régimen del emisor
	ICMSRate    decimal.Decimal `json:"icms_rate"`
	PISCST      string          `json:"pis_cst,omitempty"`
	PISRate     decimal.Decimal `json:"pis_rate"`
	COFINSCST   string          `json:"cofins_cst,omitempty"`
	COFINSRate  decimal.Decimal `json:"cofins_rate"`
	TaxBurden   decimal.Decimal `json:"tax_burden"`
}

// PaymentRequest forma de pago (tPag / vPag).
type PaymentRequest struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// DocumentResponse estado del documento fiscal.
type DocumentResponse struct {
	ID               string          `json:"id"`
	IssuerID         string          `json:"issuer_id"`
	Model            string          `json:"model"`
	Series           int             `json:"series"`
	Number           int64           `json:"number,omitempty"`
	AccessKey        string          `json:"access_key,omitempty"`
	EmissionType     int             `json:"emission_type"`
	Environment      int             `json:"environment"`
	Status           string          `json:"status"`
	Protocol         string          `json:"protocol,omitempty"`
	Receipt          string          `json:"receipt,omitempty"`
	AuthorityCode    int             `json:"authority_code,omitempty"`
	AuthorityMessage string          `json:"authority_message,omitempty"`
	Total            decimal.Decimal `json:"total"`
	IssuedAt         time.Time       `json:"issued_at"`
	AuthorizedAt     *time.Time      `json:"authorized_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	Version          int             `json:"version"`
}

// DocumentEventResponse entrada del historial.
type DocumentEventResponse struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Sequence   int       `json:"sequence,omitempty"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Code       int       `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	Protocol   string    `json:"protocol,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CancelRequest body para POST /api/documents/:id/cancel.
type CancelRequest struct {
	Justification string `json:"justification"`
}

// CorrectionRequest body para POST /api/documents/:id/correction.
type CorrectionRequest struct {
	Text string `json:"text"`
}

// InvalidateRangeRequest body para POST /api/invalidations.
type InvalidateRangeRequest struct {
	IssuerID      string `json:"-"`
	Model         string `json:"model"`
	Series        int    `json:"series"`
	Year          int    `json:"year,omitempty"` // dos dígitos; año en curso por defecto
	FirstNumber   int64  `json:"first_number"`
	LastNumber    int64  `json:"last_number"`
	Justification string `json:"justification"`
}

// InvalidationResponse resultado de la inutilización.
type InvalidationResponse struct {
	ID          string    `json:"id"`
	Model       string    `json:"model"`
	Series      int       `json:"series"`
	Year        int       `json:"year"`
	FirstNumber int64     `json:"first_number"`
	LastNumber  int64     `json:"last_number"`
	Status      string    `json:"status"`
	Protocol    string    `json:"protocol,omitempty"`
	Code        int       `json:"code,omitempty"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActivateContingencyRequest body para POST /api/contingency. Reason se publica en xJust.
type ActivateContingencyRequest struct {
	Reason string `json:"reason"`
}
