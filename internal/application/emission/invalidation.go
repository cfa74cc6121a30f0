package emission

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	infranfe "github.com/jhoicas/nfe-api/internal/infrastructure/nfe"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// MaxInvalidationRange cantidad máxima de números por pedido de inutilización.
const MaxInvalidationRange = 10000

// InvalidateRange inutiliza una faja de números de la serie. Falla si algún número de la faja
// ya fue transmitido o emitido en contingencia, o si otra inutilización la cubre.
func (s *Service) InvalidateRange(ctx context.Context, req dto.InvalidateRangeRequest) (*entity.RangeInvalidation, error) {
	issuer, err := s.repos.Issuers.GetByID(ctx, req.IssuerID)
	if err != nil {
		return nil, err
	}
	if issuer == nil {
		return nil, fmt.Errorf("%w: emisor %s", domain.ErrNotFound, req.IssuerID)
	}
	regionCode, ok := pkgnfe.RegionCode(issuer.Region)
	if !ok {
		return nil, fmt.Errorf("%w: %s", nfe.ErrUnknownRegion, issuer.Region)
	}

	var problems []string
	if !pkgnfe.ValidModels[req.Model] {
		problems = append(problems, fmt.Sprintf("modelo inválido %q", req.Model))
	}
	if req.Series < 0 || req.Series > 999 {
		problems = append(problems, fmt.Sprintf("serie fuera de rango: %d", req.Series))
	}
	if req.FirstNumber < 1 || req.LastNumber < req.FirstNumber || req.LastNumber > 999999999 {
		problems = append(problems, fmt.Sprintf("faja inválida %d..%d", req.FirstNumber, req.LastNumber))
	} else if req.LastNumber-req.FirstNumber+1 > MaxInvalidationRange {
		problems = append(problems, fmt.Sprintf("la faja supera %d números", MaxInvalidationRange))
	}
	just, err := nfe.NormalizeJustification(req.Justification, nfe.MaxJustificationLen)
	var verr *nfe.ValidationError
	if errors.As(err, &verr) {
		problems = append(problems, verr.Problems...)
	}
	if len(problems) > 0 {
		return nil, &nfe.ValidationError{Problems: problems}
	}
	year := req.Year % 100
	if req.Year == 0 {
		year = s.now().In(s.cfg.Location).Year() % 100
	}

	unlock := s.locks.Lock(issuer.ID + "/" + strconv.Itoa(req.Series))
	defer unlock()

	prior, err := s.repos.Invalidations.ListBySeries(ctx, issuer.ID, req.Model, req.Series)
	if err != nil {
		return nil, err
	}
	for _, p := range prior {
		if p.Status != entity.InvalidationStatusRejected && p.Overlaps(req.Model, req.Series, req.FirstNumber, req.LastNumber) {
			return nil, fmt.Errorf("%w: la faja %d..%d ya fue inutilizada (%s)", domain.ErrDuplicate, p.FirstNumber, p.LastNumber, p.Status)
		}
	}
	docs, err := s.repos.Documents.FindInRange(ctx, issuer.ID, req.Model, req.Series, req.FirstNumber, req.LastNumber)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if !invalidatable(d.Status) {
			return nil, fmt.Errorf("%w: el número %d está en %s", domain.ErrConflict, d.Number, d.Status)
		}
	}

	xml, err := infranfe.BuildInvalidationXML(infranfe.InvalidationRequest{
		RegionCode:    regionCode,
		Environment:   s.cfg.Environment,
		Year:          year,
		IssuerCNPJ:    issuer.CNPJ,
		Model:         req.Model,
		Series:        req.Series,
		FirstNumber:   req.FirstNumber,
		LastNumber:    req.LastNumber,
		Justification: just,
	})
	if err != nil {
		return nil, err
	}
	signed, err := s.sign(issuer.ID, xml, "infInut")
	if err != nil {
		return nil, err
	}

	inv := &entity.RangeInvalidation{
		ID:            uuid.New().String(),
		IssuerID:      issuer.ID,
		Model:         req.Model,
		Series:        req.Series,
		Year:          year,
		FirstNumber:   req.FirstNumber,
		LastNumber:    req.LastNumber,
		Justification: just,
		Status:        entity.InvalidationStatusPending,
		RequestXML:    string(signed),
	}
	if err := s.repos.Invalidations.Create(ctx, inv); err != nil {
		return nil, err
	}

	out, err := s.transmitter.InvalidateRange(ctx, infranfe.Target{
		IssuerID:     issuer.ID,
		Region:       issuer.Region,
		Environment:  s.cfg.Environment,
		EmissionType: pkgnfe.EmissionNormal,
	}, signed)
	if err != nil {
		inv.Status, inv.Message = entity.InvalidationStatusRejected, err.Error()
		s.saveInvalidation(ctx, inv)
		return inv, err
	}
	s.contingency.RecordOutcome(ctx, issuer.ID, out)

	inv.Code, inv.Message = out.Code, out.Message
	inv.ResponseXML = firstNonEmpty(out.ProtocolXML, out.RawResponse)
	switch out.Kind {
	case nfe.OutcomeRangeInvalidated, nfe.OutcomeDuplicate:
		inv.Status, inv.Protocol = entity.InvalidationStatusAccepted, out.Protocol
		s.saveInvalidation(ctx, inv)
		s.markInvalidated(ctx, docs, inv)
		s.log.Info().Str("issuer_id", issuer.ID).Int("series", inv.Series).
			Int64("first", inv.FirstNumber).Int64("last", inv.LastNumber).Str("protocol", inv.Protocol).
			Msg("faja inutilizada")
		return inv, nil
	}
	// un pedido sin respuesta también queda REJECTED: al repetirlo la SEFAZ contesta 563 si ya lo había aceptado
	inv.Status = entity.InvalidationStatusRejected
	if inv.Message == "" {
		inv.Message = out.Kind.String()
	}
	s.saveInvalidation(ctx, inv)
	return inv, eventError(out)
}

// invalidatable estados cuyo número todavía puede inutilizarse.
func invalidatable(status string) bool {
	switch status {
	case entity.DocumentStatusDrafting, entity.DocumentStatusAssembled, entity.DocumentStatusSigned,
		entity.DocumentStatusRejected, entity.DocumentStatusDenied, entity.DocumentStatusInvalidatedByRange:
		return true
	}
	return false
}

func (s *Service) saveInvalidation(ctx context.Context, inv *entity.RangeInvalidation) {
	if err := s.repos.Invalidations.Update(context.WithoutCancel(ctx), inv); err != nil {
		s.log.Error().Err(err).Str("invalidation_id", inv.ID).Msg("no se pudo actualizar la inutilización")
	}
}

// markInvalidated los números no transmitidos pasan a INVALIDATED_BY_RANGE; los rechazados y
// denegados solo registran el evento.
func (s *Service) markInvalidated(ctx context.Context, docs []*entity.FiscalDocument, inv *entity.RangeInvalidation) {
	for _, d := range docs {
		ev := &entity.DocumentEvent{
			Type:     entity.EventTypeRangeInvalidation,
			Code:     inv.Code,
			Message:  fmt.Sprintf("faja %d..%d inutilizada", inv.FirstNumber, inv.LastNumber),
			Protocol: inv.Protocol,
		}
		switch d.Status {
		case entity.DocumentStatusDrafting, entity.DocumentStatusAssembled, entity.DocumentStatusSigned:
			if err := s.transition(ctx, d, entity.DocumentStatusInvalidatedByRange, repository.StateUpdate{}, ev); err != nil {
				s.log.Error().Err(err).Str("document_id", d.ID).Msg("marcar documento inutilizado")
			}
		case entity.DocumentStatusRejected, entity.DocumentStatusDenied:
			s.appendEvent(ctx, d, ev)
		}
	}
}
