package emission

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	infranfe "github.com/jhoicas/nfe-api/internal/infrastructure/nfe"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// Cancel registra el evento de cancelación (110111) de un documento autorizado dentro del plazo.
// Repetir la cancelación de un documento ya cancelado devuelve el documento sin ir a la SEFAZ.
func (s *Service) Cancel(ctx context.Context, issuerID, id, justification string) (*entity.FiscalDocument, error) {
	unlock := s.locks.Lock("doc/" + id)
	defer unlock()

	doc, err := s.Get(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case entity.DocumentStatusCancelled:
		return doc, nil
	case entity.DocumentStatusAuthorized:
	case entity.DocumentStatusRejected, entity.DocumentStatusDenied, entity.DocumentStatusInvalidatedByRange:
		return doc, fmt.Errorf("%w: %s", nfe.ErrAlreadyFinal, doc.Status)
	default:
		return doc, fmt.Errorf("%w: solo se cancela un documento autorizado (está en %s)", nfe.ErrIllegalTransition, doc.Status)
	}
	just, err := nfe.NormalizeJustification(justification, nfe.MaxJustificationLen)
	if err != nil {
		return doc, err
	}
	if doc.AuthorizedAt != nil && s.now().Sub(*doc.AuthorizedAt) > s.cfg.CancelWindow {
		return doc, fmt.Errorf("%w: autorizado el %s, plazo de %s", nfe.ErrCancelWindowExpired,
			doc.AuthorizedAt.In(s.cfg.Location).Format("02/01/2006 15:04"), s.cfg.CancelWindow)
	}

	signed, out, err := s.sendEvent(ctx, doc, pkgnfe.EventCancellation, 1, just, nfe.OpCancel)
	if err != nil {
		return doc, err
	}
	if out.Kind != nfe.OutcomeEventRegistered && out.Kind != nfe.OutcomeDuplicate {
		return doc, eventError(out)
	}

	at := out.ReceivedAt
	if at.IsZero() {
		at = s.now()
	}
	upd := repository.StateUpdate{CancelledAt: &at, AuthorityCode: out.Code, AuthorityMessage: out.Message}
	ev := &entity.DocumentEvent{
		Type:     entity.EventTypeCancellation,
		Sequence: 1,
		Code:     out.Code,
		Message:  out.Message,
		Protocol: out.Protocol,
		Request:  string(signed),
		Response: out.RawResponse,
	}
	err = s.transition(ctx, doc, entity.DocumentStatusCancelled, upd, ev)
	if errors.Is(err, domain.ErrConflict) {
		if fresh, rerr := s.reload(ctx, id); rerr == nil && fresh.Status == entity.DocumentStatusCancelled {
			return fresh, nil
		}
	}
	if err != nil {
		return doc, err
	}
	s.archiveDocument(doc, firstNonEmpty(out.ProtocolXML, out.RawResponse))
	return doc, nil
}

// Correction registra una carta de corrección (110110). Cada carta reemplaza a la anterior y
// lleva el siguiente nSeqEvento; se admiten hasta 20 por documento.
func (s *Service) Correction(ctx context.Context, issuerID, id, text string) (*entity.DocumentEvent, error) {
	unlock := s.locks.Lock("doc/" + id)
	defer unlock()

	doc, err := s.Get(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	switch doc.Status {
	case entity.DocumentStatusAuthorized:
	case entity.DocumentStatusCancelled, entity.DocumentStatusRejected,
		entity.DocumentStatusDenied, entity.DocumentStatusInvalidatedByRange:
		return nil, fmt.Errorf("%w: %s", nfe.ErrAlreadyFinal, doc.Status)
	default:
		return nil, fmt.Errorf("%w: solo se corrige un documento autorizado (está en %s)", nfe.ErrIllegalTransition, doc.Status)
	}
	correction, err := nfe.NormalizeJustification(text, nfe.MaxCorrectionLen)
	if err != nil {
		return nil, err
	}
	n, err := s.repos.Events.CountByType(ctx, doc.ID, entity.EventTypeCorrectionLetter)
	if err != nil {
		return nil, err
	}
	if n >= pkgnfe.MaxCorrectionLetters {
		return nil, &nfe.ValidationError{Problems: []string{
			fmt.Sprintf("el documento ya tiene %d cartas de corrección", pkgnfe.MaxCorrectionLetters),
		}}
	}
	seq := n + 1

	signed, out, err := s.sendEvent(ctx, doc, pkgnfe.EventCorrectionLetter, seq, correction, nfe.OpCorrection)
	if err != nil {
		return nil, err
	}
	if out.Kind != nfe.OutcomeEventRegistered && out.Kind != nfe.OutcomeDuplicate {
		return nil, eventError(out)
	}
	ev := &entity.DocumentEvent{
		Type:     entity.EventTypeCorrectionLetter,
		Sequence: seq,
		Code:     out.Code,
		Message:  correction,
		Protocol: out.Protocol,
		Request:  string(signed),
		Response: out.RawResponse,
	}
	s.appendEvent(ctx, doc, ev)
	s.log.Info().Str("access_key", doc.AccessKey).Int("sequence", seq).Str("protocol", out.Protocol).Msg("carta de corrección registrada")
	return ev, nil
}

// sendEvent arma, firma y envía un evento vinculado al documento.
func (s *Service) sendEvent(ctx context.Context, doc *entity.FiscalDocument, eventType string, seq int, text string, op nfe.Operation) ([]byte, nfe.AuthorityOutcome, error) {
	_, regionCode := regionOf(doc.AccessKey)
	now := s.now()
	xml, err := infranfe.BuildEventXML(infranfe.EventRequest{
		Type:        eventType,
		RegionCode:  regionCode,
		Environment: doc.Environment,
		IssuerCNPJ:  doc.AccessKey[6:20],
		AccessKey:   doc.AccessKey,
		Sequence:    seq,
		OccurredAt:  now.In(s.cfg.Location),
		Protocol:    doc.Protocol,
		Text:        text,
		BatchID:     batchID(now),
	})
	if err != nil {
		return nil, nfe.AuthorityOutcome{}, err
	}
	signed, err := s.sign(doc.IssuerID, xml, "infEvento")
	if err != nil {
		return nil, nfe.AuthorityOutcome{}, err
	}
	out, err := s.transmitter.SendEvent(ctx, s.target(ctx, doc), op, signed)
	if err != nil {
		return signed, out, err
	}
	s.contingency.RecordOutcome(ctx, doc.IssuerID, out)
	return signed, out, nil
}

// eventError error de un evento no registrado; el documento no cambia.
func eventError(out nfe.AuthorityOutcome) error {
	if err := out.Err(); err != nil {
		return err
	}
	return &nfe.RejectionError{Code: out.Code, Message: out.Message}
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
