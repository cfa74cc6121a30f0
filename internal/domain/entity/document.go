package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados del ciclo de vida de un documento fiscal (NF-e / NFC-e).
const (
	DocumentStatusDrafting           = "DRAFTING"             // Creado, pendiente de ensamblado
	DocumentStatusAssembled          = "ASSEMBLED"            // Numerado, clave calculada, XML sin firma
	DocumentStatusSigned             = "SIGNED"               // XML firmado, pendiente de transmisión
	DocumentStatusTransmitting       = "TRANSMITTING"         // Enviado a la SEFAZ, respuesta pendiente
	DocumentStatusAuthorized         = "AUTHORIZED"           // Autorizado (cStat 100/150), con protocolo
	DocumentStatusRejected           = "REJECTED"             // Rechazo definitivo del contenido
	DocumentStatusDenied             = "DENIED"               // Uso denegado (irregularidad del emisor o destinatario)
	DocumentStatusAuthorityTimeout   = "AUTHORITY_TIMEOUT"    // Sin respuesta definitiva
	DocumentStatusContingencyEmitted = "CONTINGENCY_EMITTED"  // Emitido en contingencia, pendiente de conciliar
	DocumentStatusReconciling        = "RECONCILING"          // En conciliación con la SEFAZ
	DocumentStatusCancelled          = "CANCELLED"            // Evento 110111 homologado
	DocumentStatusInvalidatedByRange = "INVALIDATED_BY_RANGE" // Número inutilizado
)

// FiscalDocument representa una NF-e (modelo 55) o NFC-e (modelo 65) y su estado frente a la SEFAZ.
type FiscalDocument struct {
	ID           string
	IssuerID     string
	Model        string // "55" | "65"
	Series       int    // 0..999
	Number       int64  // nNF, asignado al ensamblar
	NumericCode  string // cNF, 8 dígitos aleatorios
	AccessKey    string // 44 dígitos; inmutable una vez calculada
	IssuedAt     time.Time
	EmissionType int // tpEmis
	Environment  int // tpAmb

	NatureOfOperation string // natOp
	OperationType     int    // tpNF
	Finality          int    // finNFe
	PresenceIndicator int    // indPres
	FinalConsumer     bool   // indFinal
	ReferencedKeys    []string
	AdditionalInfo    string

	ContingencyReason string    // xJust en contingencia
	ContingencySince  time.Time // dhCont

	Buyer    *Buyer
	Items    []*DocumentItem
	Payments []*Payment
	Totals   Totals

	Status           string
	Protocol         string // nProt
	Receipt          string // nRec (procesamiento asíncrono)
	AuthorityCode    int    // último cStat
	AuthorityMessage string // último xMotivo
	UnsignedXML      string
	SignedXML        string
	AuthorityXML     string // protNFe / retorno completo
	AuthorizedAt     *time.Time
	CancelledAt      *time.Time

	Version   int // concurrencia optimista
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Totals agrega los totales del grupo ICMSTot.
type Totals struct {
	Products   decimal.Decimal // vProd
	Freight    decimal.Decimal // vFrete
	Insurance  decimal.Decimal // vSeg
	Discount   decimal.Decimal // vDesc
	Other      decimal.Decimal // vOutro
	ICMSBase   decimal.Decimal // vBC
	ICMS       decimal.Decimal // vICMS
	PIS        decimal.Decimal // vPIS
	COFINS     decimal.Decimal // vCOFINS
	TaxBurden  decimal.Decimal // vTotTrib
	GrandTotal decimal.Decimal // vNF
}

// Payment grupo detPag.
type Payment struct {
	Method string          // tPag (01 dinero, 03 tarjeta crédito, 17 PIX, 90 sin pago...)
	Amount decimal.Decimal // vPag
}

// IsTerminal indica si el estado ya no admite transiciones propias (solo eventos vinculados).
func (d *FiscalDocument) IsTerminal() bool {
	switch d.Status {
	case DocumentStatusRejected, DocumentStatusDenied, DocumentStatusCancelled, DocumentStatusInvalidatedByRange:
		return true
	}
	return false
}
