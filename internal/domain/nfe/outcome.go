package nfe

import (
	"fmt"
	"time"

	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// Operation servicio de la SEFAZ que produjo la respuesta.
type Operation string

const (
	OpSubmit        Operation = "autorizacao"
	OpPoll          Operation = "retAutorizacao"
	OpQuery         Operation = "consulta"
	OpCancel        Operation = "cancelamento"
	OpCorrection    Operation = "cartaCorrecao"
	OpInvalidate    Operation = "inutilizacao"
	OpServiceStatus Operation = "statusServico"
)

// OutcomeKind conjunto cerrado de resultados de una llamada a la SEFAZ.
type OutcomeKind int

const (
	OutcomeAuthorized       OutcomeKind = iota + 1 // cStat 100/150
	OutcomeProcessing                              // 103/105: recibido, sin resultado aún
	OutcomeRejected                                // rechazo definitivo del contenido
	OutcomeDenied                                  // uso denegado
	OutcomeDuplicate                               // la SEFAZ ya conoce el documento/evento/faja
	OutcomeNotFound                                // 217/106: no consta en la base
	OutcomeCancelled                               // consulta: documento cancelado en la SEFAZ
	OutcomeEventRegistered                         // 135/136/155
	OutcomeRangeInvalidated                        // 102
	OutcomeServiceAvailable                        // 107
	OutcomeTransient                               // 108/109/999, HTTP 5xx, 408, 429
	OutcomeUnreachable                             // error de transporte, timeout o reintentos agotados
	OutcomeInterrupted                             // contexto del llamador cancelado
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeAuthorized:       "authorized",
	OutcomeProcessing:       "processing",
	OutcomeRejected:         "rejected",
	OutcomeDenied:           "denied",
	OutcomeDuplicate:        "duplicate",
	OutcomeNotFound:         "not_found",
	OutcomeCancelled:        "cancelled",
	OutcomeEventRegistered:  "event_registered",
	OutcomeRangeInvalidated: "range_invalidated",
	OutcomeServiceAvailable: "service_available",
	OutcomeTransient:        "transient",
	OutcomeUnreachable:      "unreachable",
	OutcomeInterrupted:      "interrupted",
}

func (k OutcomeKind) String() string {
	if s, ok := outcomeNames[k]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// AuthorityOutcome respuesta de la SEFAZ decodificada una única vez.
type AuthorityOutcome struct {
	Kind        OutcomeKind
	Operation   Operation
	Code        int    // cStat (0 si no hubo respuesta)
	Message     string // xMotivo o detalle del error de transporte
	Protocol    string // nProt
	Receipt     string // nRec
	AccessKey   string // chNFe devuelta
	ReceivedAt  time.Time
	ProtocolXML string // protNFe, retEvento o retInutNFe tal como vino
	RawRequest  string
	RawResponse string
	Attempts    int
	Cause       error // error de transporte, si hubo
}

// IsDefinitive la SEFAZ se pronunció sobre el contenido; no se reintenta.
func (o AuthorityOutcome) IsDefinitive() bool {
	switch o.Kind {
	case OutcomeAuthorized, OutcomeRejected, OutcomeDenied, OutcomeCancelled,
		OutcomeEventRegistered, OutcomeRangeInvalidated:
		return true
	}
	return false
}

// Retryable solo las fallas momentáneas del lado de la SEFAZ admiten reintento automático.
func (o AuthorityOutcome) Retryable() bool {
	return o.Kind == OutcomeTransient
}

// Responded indica que la SEFAZ contestó (cualquier cStat), útil para el contador de contingencia.
func (o AuthorityOutcome) Responded() bool {
	return o.Kind != OutcomeUnreachable && o.Kind != OutcomeInterrupted && o.Kind != OutcomeTransient
}

// Err traduce el resultado a la taxonomía de errores; nil para resultados de éxito.
func (o AuthorityOutcome) Err() error {
	switch o.Kind {
	case OutcomeRejected:
		return &RejectionError{Code: o.Code, Message: o.Message}
	case OutcomeDenied:
		return &RejectionError{Code: o.Code, Message: o.Message, Denied: true}
	case OutcomeTransient:
		return fmt.Errorf("%w: cStat %d %s", ErrTransientAuthority, o.Code, o.Message)
	case OutcomeUnreachable:
		if o.Cause != nil {
			return fmt.Errorf("%w: %v", ErrUnreachable, o.Cause)
		}
		return fmt.Errorf("%w: %s", ErrUnreachable, o.Message)
	case OutcomeInterrupted:
		return fmt.Errorf("operación interrumpida: %w", o.Cause)
	}
	return nil
}

// ClassifyStatus decodifica el cStat de la operación en el conjunto cerrado de resultados.
func ClassifyStatus(op Operation, cStat int) OutcomeKind {
	if pkgnfe.IsTransientCode(cStat) {
		return OutcomeTransient
	}
	switch op {
	case OpServiceStatus:
		if cStat == pkgnfe.StatusServiceRunning {
			return OutcomeServiceAvailable
		}
		return OutcomeTransient

	case OpSubmit, OpPoll, OpQuery:
		switch {
		case pkgnfe.IsAuthorizationCode(cStat):
			return OutcomeAuthorized
		case pkgnfe.IsDenialCode(cStat):
			return OutcomeDenied
		case cStat == pkgnfe.StatusBatchReceived, cStat == pkgnfe.StatusBatchProcessing:
			return OutcomeProcessing
		case pkgnfe.IsDuplicateCode(cStat):
			return OutcomeDuplicate
		case cStat == pkgnfe.StatusNotFound, cStat == pkgnfe.StatusBatchNotFound:
			return OutcomeNotFound
		case op == OpQuery && (cStat == pkgnfe.StatusCancellationApproved || cStat == 151 || cStat == pkgnfe.StatusCancelledLate):
			return OutcomeCancelled
		}
		return OutcomeRejected

	case OpCancel, OpCorrection:
		switch {
		case pkgnfe.IsEventRegisteredCode(cStat):
			return OutcomeEventRegistered
		case cStat == pkgnfe.StatusDuplicateEvent:
			return OutcomeDuplicate
		}
		return OutcomeRejected

	case OpInvalidate:
		switch cStat {
		case pkgnfe.StatusRangeInvalidated:
			return OutcomeRangeInvalidated
		case pkgnfe.StatusDuplicateInvalidation:
			return OutcomeDuplicate
		}
		return OutcomeRejected
	}
	return OutcomeRejected
}

// NewOutcome construye el resultado a partir del cStat recibido.
func NewOutcome(op Operation, cStat int, message string) AuthorityOutcome {
	return AuthorityOutcome{Kind: ClassifyStatus(op, cStat), Operation: op, Code: cStat, Message: message}
}
