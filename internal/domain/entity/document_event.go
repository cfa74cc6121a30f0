package entity

import "time"

// Tipos de evento en el historial del documento.
const (
	EventTypeStateChange            = "STATE_CHANGE"
	EventTypeAuthorityResponse      = "AUTHORITY_RESPONSE"
	EventTypeTransmissionFailure    = "TRANSMISSION_FAILURE"
	EventTypeCancellation           = "CANCELLATION"
	EventTypeCorrectionLetter       = "CORRECTION_LETTER"
	EventTypeRangeInvalidation      = "RANGE_INVALIDATION"
	EventTypeReconciliationConflict = "RECONCILIATION_CONFLICT"
)

// DocumentEvent es un registro inmutable vinculado al documento. Los estados terminales
// solo crecen mediante estos eventos.
type DocumentEvent struct {
	ID         string
	DocumentID string
	AccessKey  string
	Type       string
	Sequence   int // nSeqEvento en eventos de la SEFAZ
	FromStatus string
	ToStatus   string
	Code       int    // cStat
	Message    string // xMotivo o detalle del fallo
	Protocol   string
	Request    string // XML enviado (firmado)
	Response   string // XML recibido
	CreatedAt  time.Time
}
