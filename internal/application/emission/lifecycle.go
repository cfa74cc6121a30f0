package emission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhoicas/nfe-api/internal/application/contingency"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	infranfe "github.com/jhoicas/nfe-api/internal/infrastructure/nfe"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

var _ contingency.DocumentResolver = (*Service)(nil)

// transmit pasa un documento SIGNED a TRANSMITTING y lo envía.
func (s *Service) transmit(ctx context.Context, doc *entity.FiscalDocument) (*entity.FiscalDocument, error) {
	if !nfe.CanSubmit(doc.Status) {
		return doc, fmt.Errorf("%w: un documento en %s no se envía", nfe.ErrIllegalTransition, doc.Status)
	}
	if err := s.release(ctx, doc, entity.DocumentStatusTransmitting, nil); err != nil {
		return doc, err
	}
	if pkgnfe.IsSVCEmission(doc.EmissionType) {
		// la SVC autoriza en línea; la ventana registra la faja emitida en contingencia
		if _, err := s.contingency.TrackEmission(ctx, doc); err != nil {
			s.log.Error().Err(err).Str("access_key", doc.AccessKey).Msg("registrar ventana de contingencia")
		}
	}
	return s.submit(ctx, doc)
}

// submit envía un documento que ya está en TRANSMITTING o RECONCILING y aplica el resultado.
func (s *Service) submit(ctx context.Context, doc *entity.FiscalDocument) (*entity.FiscalDocument, error) {
	out, err := s.transmitter.Submit(ctx, s.target(ctx, doc), []byte(doc.SignedXML), batchID(s.now()))
	if err != nil {
		return s.localFailure(ctx, doc, err)
	}
	s.contingency.RecordOutcome(ctx, doc.IssuerID, out)
	return s.settle(ctx, doc, out)
}

// localFailure la llamada no llegó a la red (certificado, ruteo, mensaje). No cuenta para la
// contingencia: el documento queda sin resultado y el error vuelve al llamador.
func (s *Service) localFailure(ctx context.Context, doc *entity.FiscalDocument, cause error) (*entity.FiscalDocument, error) {
	s.appendEvent(ctx, doc, &entity.DocumentEvent{Type: entity.EventTypeTransmissionFailure, Message: cause.Error()})
	if err := s.transition(ctx, doc, timeoutStatus(doc.Status), repository.StateUpdate{}, nil); err != nil {
		s.log.Error().Err(err).Str("document_id", doc.ID).Msg("no se pudo registrar la falla de transmisión")
	}
	return doc, cause
}

// settle lleva un documento en TRANSMITTING o RECONCILING al estado que indica la respuesta.
func (s *Service) settle(ctx context.Context, doc *entity.FiscalDocument, out nfe.AuthorityOutcome) (*entity.FiscalDocument, error) {
	switch out.Kind {
	case nfe.OutcomeAuthorized, nfe.OutcomeRejected, nfe.OutcomeDenied:
		return s.applyDefinitive(ctx, doc, out)
	case nfe.OutcomeDuplicate:
		// la SEFAZ ya tiene la clave: el protocolo sale de la consulta
		q, err := s.transmitter.QueryStatus(ctx, s.target(ctx, doc), doc.AccessKey)
		if err != nil {
			return s.localFailure(ctx, doc, err)
		}
		s.contingency.RecordOutcome(ctx, doc.IssuerID, q)
		switch q.Kind {
		case nfe.OutcomeAuthorized, nfe.OutcomeDenied:
			return s.applyDefinitive(ctx, doc, q)
		case nfe.OutcomeNotFound:
			// duplicidad sin la clave en la base: reenviar repetiría la respuesta, el número queda quemado
			s.log.Error().
				Str("access_key", doc.AccessKey).
				Int("cstat", out.Code).
				Int("query_cstat", q.Code).
				Msg("duplicidad informada pero la SEFAZ no conoce la clave")
			rejection := out
			rejection.Kind = nfe.OutcomeRejected
			return s.applyDefinitive(ctx, doc, rejection)
		}
		return s.timeout(ctx, doc, q)
	case nfe.OutcomeInterrupted:
		s.log.Warn().Str("access_key", doc.AccessKey).Str("status", doc.Status).Msg("envío interrumpido; queda para el conciliador")
		return doc, out.Err()
	}
	return s.timeout(ctx, doc, out)
}

func timeoutStatus(from string) string {
	if from == entity.DocumentStatusReconciling {
		return entity.DocumentStatusContingencyEmitted
	}
	return entity.DocumentStatusAuthorityTimeout
}

// timeout sin resultado definitivo: AUTHORITY_TIMEOUT, o de vuelta a CONTINGENCY_EMITTED si se
// estaba conciliando.
func (s *Service) timeout(ctx context.Context, doc *entity.FiscalDocument, out nfe.AuthorityOutcome) (*entity.FiscalDocument, error) {
	upd := repository.StateUpdate{Receipt: out.Receipt, AuthorityCode: out.Code, AuthorityMessage: out.Message}
	ev := &entity.DocumentEvent{Type: entity.EventTypeStateChange, Message: out.Kind.String()}
	if out.Code != 0 {
		ev.Code, ev.Message = out.Code, out.Message
	}
	if err := s.transition(ctx, doc, timeoutStatus(doc.Status), upd, ev); err != nil {
		return doc, err
	}
	s.log.Warn().
		Str("access_key", doc.AccessKey).
		Str("outcome", out.Kind.String()).
		Int("attempts", out.Attempts).
		Msg("sin resultado definitivo de la SEFAZ")
	return doc, nil
}

// applyDefinitive registra autorización, rechazo o denegación.
func (s *Service) applyDefinitive(ctx context.Context, doc *entity.FiscalDocument, out nfe.AuthorityOutcome) (*entity.FiscalDocument, error) {
	to, _ := nfe.StatusForOutcome(doc.Status, out)
	if doc.Status != entity.DocumentStatusTransmitting && doc.Status != entity.DocumentStatusReconciling {
		return s.replay(ctx, doc, out)
	}

	upd := repository.StateUpdate{
		Protocol:         out.Protocol,
		AuthorityCode:    out.Code,
		AuthorityMessage: out.Message,
		AuthorityXML:     out.ProtocolXML,
	}
	if upd.AuthorityXML == "" {
		upd.AuthorityXML = out.RawResponse
	}
	if to == entity.DocumentStatusAuthorized {
		at := out.ReceivedAt
		if at.IsZero() {
			at = s.now()
		}
		upd.AuthorizedAt = &at
	}
	err := s.transition(ctx, doc, to, upd, &entity.DocumentEvent{Type: entity.EventTypeStateChange, Protocol: out.Protocol})
	if errors.Is(err, domain.ErrConflict) {
		fresh, rerr := s.reload(ctx, doc.ID)
		if rerr != nil {
			return doc, rerr
		}
		*doc = *fresh
		return s.replay(ctx, doc, out)
	}
	if err != nil {
		return doc, err
	}

	if to == entity.DocumentStatusAuthorized {
		s.archiveDocument(doc, out.RawResponse)
	}
	s.log.Info().
		Str("access_key", doc.AccessKey).
		Str("status", to).
		Int("cstat", out.Code).
		Str("protocol", out.Protocol).
		Msg("resultado de la SEFAZ aplicado")
	return doc, nil
}

// replay un resultado que repite el estado actual no cambia nada; uno que lo contradice se
// registra como conflicto sin modificar el documento.
func (s *Service) replay(ctx context.Context, doc *entity.FiscalDocument, out nfe.AuthorityOutcome) (*entity.FiscalDocument, error) {
	switch {
	case !out.Responded() || out.Kind == nfe.OutcomeProcessing:
		return doc, nil
	case out.Kind == nfe.OutcomeAuthorized &&
		(doc.Status == entity.DocumentStatusAuthorized || doc.Status == entity.DocumentStatusCancelled):
		if out.Protocol == "" || out.Protocol == doc.Protocol {
			return doc, nil
		}
	case out.Kind == nfe.OutcomeCancelled && doc.Status == entity.DocumentStatusCancelled:
		return doc, nil
	case out.Kind == nfe.OutcomeRejected && doc.Status == entity.DocumentStatusRejected,
		out.Kind == nfe.OutcomeDenied && doc.Status == entity.DocumentStatusDenied:
		return doc, nil
	}
	return doc, s.conflict(ctx, doc, out)
}

func (s *Service) conflict(ctx context.Context, doc *entity.FiscalDocument, out nfe.AuthorityOutcome) error {
	s.appendEvent(ctx, doc, &entity.DocumentEvent{
		Type:     entity.EventTypeReconciliationConflict,
		Code:     out.Code,
		Message:  fmt.Sprintf("%s: %s", out.Kind, out.Message),
		Protocol: out.Protocol,
		Request:  out.RawRequest,
		Response: out.RawResponse,
	})
	s.log.Error().
		Str("access_key", doc.AccessKey).
		Str("status", doc.Status).
		Str("local_protocol", doc.Protocol).
		Str("outcome", out.Kind.String()).
		Str("protocol", out.Protocol).
		Msg("respuesta de la SEFAZ en conflicto con el estado local")
	return fmt.Errorf("%w: documento %s en %s, la SEFAZ informa %s (cStat %d)",
		nfe.ErrReconciliationConflict, doc.ID, doc.Status, out.Kind, out.Code)
}

// Apply aplica un resultado ya decodificado al documento. Volver a aplicar el mismo resultado
// no cambia nada.
func (s *Service) Apply(ctx context.Context, id string, out nfe.AuthorityOutcome) (*entity.FiscalDocument, error) {
	unlock := s.locks.Lock("doc/" + id)
	defer unlock()

	doc, err := s.reload(ctx, id)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case entity.DocumentStatusTransmitting, entity.DocumentStatusReconciling:
		switch out.Kind {
		case nfe.OutcomeAuthorized, nfe.OutcomeRejected, nfe.OutcomeDenied:
			return s.applyDefinitive(ctx, doc, out)
		case nfe.OutcomeUnreachable, nfe.OutcomeTransient, nfe.OutcomeProcessing:
			return s.timeout(ctx, doc, out)
		case nfe.OutcomeInterrupted:
			return doc, out.Err()
		}
	case entity.DocumentStatusAuthorized, entity.DocumentStatusRejected,
		entity.DocumentStatusDenied, entity.DocumentStatusCancelled:
		return s.replay(ctx, doc, out)
	}
	return doc, fmt.Errorf("%w: resultado %s sobre un documento en %s", nfe.ErrIllegalTransition, out.Kind, doc.Status)
}

// Resolve consulta a la SEFAZ un documento sin resultado (TRANSMITTING o AUTHORITY_TIMEOUT) y lo
// lleva a su estado real; si la SEFAZ no lo conoce, lo reenvía. En estados finales no hace nada.
func (s *Service) Resolve(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	unlock := s.locks.Lock("doc/" + id)
	defer unlock()

	doc, err := s.reload(ctx, id)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case entity.DocumentStatusTransmitting, entity.DocumentStatusAuthorityTimeout:
	case entity.DocumentStatusAuthorized, entity.DocumentStatusRejected, entity.DocumentStatusDenied,
		entity.DocumentStatusCancelled, entity.DocumentStatusInvalidatedByRange:
		return doc, nil
	default:
		return doc, fmt.Errorf("%w: un documento en %s no se resuelve", nfe.ErrIllegalTransition, doc.Status)
	}

	q, err := s.transmitter.QueryStatus(ctx, s.target(ctx, doc), doc.AccessKey)
	if err != nil {
		return doc, err
	}
	s.contingency.RecordOutcome(ctx, doc.IssuerID, q)

	switch q.Kind {
	case nfe.OutcomeAuthorized, nfe.OutcomeDenied:
		if doc.Status == entity.DocumentStatusAuthorityTimeout {
			if err := s.transition(ctx, doc, entity.DocumentStatusTransmitting, repository.StateUpdate{}, nil); err != nil {
				return doc, err
			}
		}
		return s.applyDefinitive(ctx, doc, q)
	case nfe.OutcomeNotFound:
		ev := &entity.DocumentEvent{Type: entity.EventTypeStateChange, Code: q.Code, Message: "la SEFAZ no conoce la clave; reenvío"}
		if err := s.transition(ctx, doc, entity.DocumentStatusTransmitting, repository.StateUpdate{}, ev); err != nil {
			return doc, err
		}
		return s.submit(ctx, doc)
	case nfe.OutcomeCancelled:
		return doc, s.conflict(ctx, doc, q)
	case nfe.OutcomeRejected:
		// rechazo de la consulta, no del documento
		s.log.Warn().Str("access_key", doc.AccessKey).Int("cstat", q.Code).Str("motivo", q.Message).Msg("consulta rechazada")
		return doc, nil
	case nfe.OutcomeInterrupted:
		return doc, q.Err()
	}
	if doc.Status == entity.DocumentStatusTransmitting {
		return s.timeout(ctx, doc, q)
	}
	return doc, nil
}

// Reconcile concilia un documento emitido en contingencia: lo consulta y, si la SEFAZ no lo
// conoce, lo transmite. Sin respuesta vuelve a CONTINGENCY_EMITTED.
func (s *Service) Reconcile(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	unlock := s.locks.Lock("doc/" + id)
	defer unlock()

	doc, err := s.reload(ctx, id)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case entity.DocumentStatusContingencyEmitted:
		if err := s.transition(ctx, doc, entity.DocumentStatusReconciling, repository.StateUpdate{}, nil); err != nil {
			return doc, err
		}
	case entity.DocumentStatusReconciling:
	case entity.DocumentStatusAuthorized, entity.DocumentStatusRejected, entity.DocumentStatusDenied,
		entity.DocumentStatusCancelled, entity.DocumentStatusInvalidatedByRange:
		return doc, nil
	default:
		return doc, fmt.Errorf("%w: un documento en %s no se concilia", nfe.ErrIllegalTransition, doc.Status)
	}

	q, err := s.transmitter.QueryStatus(ctx, s.target(ctx, doc), doc.AccessKey)
	if err != nil {
		return s.localFailure(ctx, doc, err)
	}
	s.contingency.RecordOutcome(ctx, doc.IssuerID, q)

	switch q.Kind {
	case nfe.OutcomeAuthorized, nfe.OutcomeDenied:
		return s.applyDefinitive(ctx, doc, q)
	case nfe.OutcomeNotFound:
		return s.submit(ctx, doc)
	case nfe.OutcomeCancelled:
		return doc, s.conflict(ctx, doc, q)
	case nfe.OutcomeInterrupted:
		return doc, q.Err()
	}
	return s.timeout(ctx, doc, q)
}

// Park pasa a CONTINGENCY_EMITTED un documento sin respuesta de un emisor en contingencia.
func (s *Service) Park(ctx context.Context, id string) error {
	unlock := s.locks.Lock("doc/" + id)
	defer unlock()

	doc, err := s.reload(ctx, id)
	if err != nil {
		return err
	}
	switch doc.Status {
	case entity.DocumentStatusContingencyEmitted:
		return nil
	case entity.DocumentStatusAuthorityTimeout:
	default:
		return fmt.Errorf("%w: solo se estaciona un documento en AUTHORITY_TIMEOUT (está en %s)", nfe.ErrIllegalTransition, doc.Status)
	}
	ev := &entity.DocumentEvent{Type: entity.EventTypeStateChange, Message: "SEFAZ sin respuesta; emisor en contingencia"}
	return s.transition(ctx, doc, entity.DocumentStatusContingencyEmitted, repository.StateUpdate{}, ev)
}

// Probe consulta el estado del servicio de autorización del emisor.
func (s *Service) Probe(ctx context.Context, issuerID string) (nfe.AuthorityOutcome, error) {
	issuer, err := s.repos.Issuers.GetByID(ctx, issuerID)
	if err != nil {
		return nfe.AuthorityOutcome{}, err
	}
	if issuer == nil {
		return nfe.AuthorityOutcome{}, fmt.Errorf("%w: emisor %s", domain.ErrNotFound, issuerID)
	}
	return s.transmitter.ServiceStatus(ctx, infranfe.Target{
		IssuerID:     issuer.ID,
		Region:       issuer.Region,
		Environment:  s.cfg.Environment,
		EmissionType: pkgnfe.EmissionNormal,
	})
}
