package nfe

import (
	"fmt"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// transitions tabla de transiciones permitidas del ciclo de vida.
var transitions = map[string][]string{
	entity.DocumentStatusDrafting: {
		entity.DocumentStatusAssembled,
		entity.DocumentStatusInvalidatedByRange,
	},
	entity.DocumentStatusAssembled: {
		entity.DocumentStatusSigned,
		entity.DocumentStatusInvalidatedByRange,
	},
	entity.DocumentStatusSigned: {
		entity.DocumentStatusTransmitting,
		entity.DocumentStatusContingencyEmitted,
		entity.DocumentStatusInvalidatedByRange,
	},
	entity.DocumentStatusTransmitting: {
		entity.DocumentStatusAuthorized,
		entity.DocumentStatusRejected,
		entity.DocumentStatusDenied,
		entity.DocumentStatusAuthorityTimeout,
		entity.DocumentStatusTransmitting,
	},
	entity.DocumentStatusAuthorityTimeout: {
		entity.DocumentStatusContingencyEmitted,
		entity.DocumentStatusTransmitting,
	},
	entity.DocumentStatusContingencyEmitted: {
		entity.DocumentStatusReconciling,
	},
	entity.DocumentStatusReconciling: {
		entity.DocumentStatusAuthorized,
		entity.DocumentStatusRejected,
		entity.DocumentStatusDenied,
		entity.DocumentStatusContingencyEmitted,
	},
	entity.DocumentStatusAuthorized: {
		entity.DocumentStatusCancelled,
		entity.DocumentStatusInvalidatedByRange,
	},
}

// CanTransition indica si from -> to está en la tabla.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition devuelve ErrIllegalTransition si from -> to no está permitido.
func CheckTransition(from, to string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// IsTerminalStatus estados que solo admiten eventos vinculados.
func IsTerminalStatus(s string) bool {
	switch s {
	case entity.DocumentStatusRejected, entity.DocumentStatusDenied,
		entity.DocumentStatusCancelled, entity.DocumentStatusInvalidatedByRange:
		return true
	}
	return false
}

// CanSubmit un documento autorizado, rechazado o denegado nunca vuelve a enviarse.
func CanSubmit(status string) bool {
	switch status {
	case entity.DocumentStatusSigned, entity.DocumentStatusTransmitting,
		entity.DocumentStatusAuthorityTimeout, entity.DocumentStatusReconciling:
		return true
	}
	return false
}

// StatusForOutcome estado destino de un documento en TRANSMITTING o RECONCILING según la
// respuesta recibida. ok=false cuando el resultado no decide el estado por sí solo
// (duplicidad, no encontrado, interrupción) y el llamador debe resolverlo.
func StatusForOutcome(from string, o AuthorityOutcome) (string, bool) {
	switch o.Kind {
	case OutcomeAuthorized:
		return entity.DocumentStatusAuthorized, true
	case OutcomeRejected:
		return entity.DocumentStatusRejected, true
	case OutcomeDenied:
		return entity.DocumentStatusDenied, true
	case OutcomeUnreachable, OutcomeTransient, OutcomeProcessing:
		if from == entity.DocumentStatusReconciling {
			return entity.DocumentStatusContingencyEmitted, true
		}
		return entity.DocumentStatusAuthorityTimeout, true
	}
	return "", false
}
