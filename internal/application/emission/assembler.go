package emission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	infranfe "github.com/jhoicas/nfe-api/internal/infrastructure/nfe"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// Emit valida, numera, firma y transmite el documento, o lo emite en contingencia.
//
// Las respuestas de la SEFAZ se informan en el estado devuelto y en el historial. El error queda
// para las fallas locales: validación, certificado, firma y persistencia. Un documento inválido o
// un emisor sin certificado vigente no consume número.
func (s *Service) Emit(ctx context.Context, req dto.EmitDocumentRequest) (*entity.FiscalDocument, error) {
	issuer, err := s.repos.Issuers.GetByID(ctx, req.IssuerID)
	if err != nil {
		return nil, err
	}
	if issuer == nil {
		return nil, fmt.Errorf("%w: emisor %s", domain.ErrNotFound, req.IssuerID)
	}

	doc := draftFromRequest(req, s.cfg.Environment)
	doc.IssuedAt = s.now().Truncate(time.Second)
	doc.Totals = nfe.ComputeTotals(doc.Items, nfe.DocumentCharges{
		Freight:   req.Freight,
		Insurance: req.Insurance,
		Discount:  req.Discount,
		Other:     req.Other,
	})
	if err := nfe.ValidateDocument(doc, issuer, nfe.DeclaredTotals{Products: req.TotalProducts, GrandTotal: req.Total}); err != nil {
		return nil, err
	}

	lease, err := s.creds.Acquire(issuer.ID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	if err := s.repos.Documents.Create(ctx, doc); err != nil {
		return nil, err
	}
	s.appendEvent(ctx, doc, &entity.DocumentEvent{Type: entity.EventTypeStateChange, ToStatus: entity.DocumentStatusDrafting})

	if err := s.assemble(ctx, doc, issuer); err != nil {
		return doc, err
	}

	signed, err := s.signWith(lease, []byte(doc.UnsignedXML), "infNFe")
	lease.Release()
	if err != nil {
		s.log.Error().Err(err).Str("document_id", doc.ID).Msg("firma fallida")
		return doc, err
	}
	if err := s.transition(ctx, doc, entity.DocumentStatusSigned, repository.StateUpdate{SignedXML: string(signed)}, nil); err != nil {
		return doc, err
	}

	if pkgnfe.IsOfflineEmission(doc.EmissionType) {
		return s.emitOffline(ctx, doc)
	}
	return s.transmit(ctx, doc)
}

// assemble numera, calcula la clave y arma el XML. La numeración de una serie es secuencial:
// un único ensamblado por (emisor, serie) a la vez.
func (s *Service) assemble(ctx context.Context, doc *entity.FiscalDocument, issuer *entity.Issuer) error {
	unlock := s.locks.Lock(doc.IssuerID + "/" + strconv.Itoa(doc.Series))
	defer unlock()

	regionCode, ok := pkgnfe.RegionCode(issuer.Region)
	if !ok {
		return fmt.Errorf("%w: %s", nfe.ErrUnknownRegion, issuer.Region)
	}
	decision, err := s.contingency.EmissionTypeFor(ctx, issuer.ID, doc.Model, issuer.Region)
	if err != nil {
		return err
	}
	doc.EmissionType = decision.EmissionType
	if decision.Contingency() {
		doc.ContingencyReason = decision.Reason
		doc.ContingencySince = decision.Since
	}

	number, err := s.repos.Sequences.NextSequence(ctx, issuer.ID, doc.Series)
	if err != nil {
		return err
	}
	doc.Number = number
	doc.NumericCode = nfe.NumericCodeFor(s.random(), number)
	key, err := nfe.ComputeAccessKey(nfe.AccessKeyParams{
		RegionCode:   regionCode,
		IssuedAt:     doc.IssuedAt.In(s.cfg.Location),
		IssuerCNPJ:   issuer.CNPJ,
		Model:        doc.Model,
		Series:       doc.Series,
		Number:       number,
		EmissionType: doc.EmissionType,
		NumericCode:  doc.NumericCode,
	})
	if err != nil {
		return err
	}
	doc.AccessKey = key

	xml, err := s.builder.Build(&infranfe.DocumentBuildContext{Document: doc, Issuer: issuer, Location: s.cfg.Location})
	if err != nil {
		return err
	}
	doc.UnsignedXML = string(xml)
	if err := s.repos.Documents.SaveAssembly(ctx, doc); err != nil {
		return err
	}
	s.appendEvent(ctx, doc, &entity.DocumentEvent{
		Type:       entity.EventTypeStateChange,
		FromStatus: entity.DocumentStatusDrafting,
		ToStatus:   entity.DocumentStatusAssembled,
		Message:    fmt.Sprintf("serie %d nNF %d tpEmis %d", doc.Series, doc.Number, doc.EmissionType),
	})
	s.log.Info().
		Str("document_id", doc.ID).
		Str("access_key", doc.AccessKey).
		Int("emission_type", doc.EmissionType).
		Msg("documento ensamblado")
	return nil
}

// emitOffline el documento circula con su DANFE de contingencia y se concilia después.
func (s *Service) emitOffline(ctx context.Context, doc *entity.FiscalDocument) (*entity.FiscalDocument, error) {
	ev := &entity.DocumentEvent{Type: entity.EventTypeStateChange, Message: doc.ContingencyReason}
	if err := s.release(ctx, doc, entity.DocumentStatusContingencyEmitted, ev); err != nil {
		return doc, err
	}
	if _, err := s.contingency.TrackEmission(ctx, doc); err != nil {
		s.log.Error().Err(err).Str("access_key", doc.AccessKey).Msg("registrar ventana de contingencia")
		return doc, err
	}
	return doc, nil
}

// release saca el documento de SIGNED bajo el lock de la serie, así ninguna inutilización de la
// faja corre a la vez. Si una inutilización ya cubre el número, el documento no sale.
func (s *Service) release(ctx context.Context, doc *entity.FiscalDocument, to string, ev *entity.DocumentEvent) error {
	unlock := s.locks.Lock(doc.IssuerID + "/" + strconv.Itoa(doc.Series))
	defer unlock()

	prior, err := s.repos.Invalidations.ListBySeries(ctx, doc.IssuerID, doc.Model, doc.Series)
	if err != nil {
		return err
	}
	for _, p := range prior {
		if p.Status == entity.InvalidationStatusRejected || !p.Overlaps(doc.Model, doc.Series, doc.Number, doc.Number) {
			continue
		}
		if p.Status == entity.InvalidationStatusAccepted {
			inv := &entity.DocumentEvent{
				Type:     entity.EventTypeRangeInvalidation,
				Code:     p.Code,
				Message:  fmt.Sprintf("faja %d..%d inutilizada", p.FirstNumber, p.LastNumber),
				Protocol: p.Protocol,
			}
			if err := s.transition(ctx, doc, entity.DocumentStatusInvalidatedByRange, repository.StateUpdate{}, inv); err != nil {
				return err
			}
		}
		return fmt.Errorf("%w: el número %d está en la faja inutilizada %d..%d (%s)",
			domain.ErrConflict, doc.Number, p.FirstNumber, p.LastNumber, p.Status)
	}
	return s.transition(ctx, doc, to, repository.StateUpdate{}, ev)
}

func draftFromRequest(req dto.EmitDocumentRequest, environment int) *entity.FiscalDocument {
	doc := &entity.FiscalDocument{
		ID:                uuid.New().String(),
		IssuerID:          req.IssuerID,
		Model:             req.Model,
		Series:            req.Series,
		EmissionType:      pkgnfe.EmissionNormal,
		Environment:       environment,
		NatureOfOperation: req.NatureOfOperation,
		OperationType:     pkgnfe.OperationOutbound,
		Finality:          req.Finality,
		PresenceIndicator: req.PresenceIndicator,
		FinalConsumer:     req.FinalConsumer,
		ReferencedKeys:    req.ReferencedKeys,
		AdditionalInfo:    nfe.NormalizeText(req.AdditionalInfo),
		Status:            entity.DocumentStatusDrafting,
	}
	if req.OperationType != nil {
		doc.OperationType = *req.OperationType
	}
	if doc.Finality == 0 {
		doc.Finality = pkgnfe.FinalityNormal
	}
	if b := req.Buyer; b != nil {
		doc.Buyer = &entity.Buyer{
			TaxID:             pkgnfe.ExtractDigits(b.TaxID),
			Name:              b.Name,
			StateRegistration: b.StateRegistration,
			IEIndicator:       b.IEIndicator,
			Email:             b.Email,
			Street:            b.Street,
			Number:            b.Number,
			District:          b.District,
			CityCode:          b.CityCode,
			CityName:          b.CityName,
			Region:            b.Region,
			PostalCode:        pkgnfe.ExtractDigits(b.PostalCode),
			Phone:             pkgnfe.ExtractDigits(b.Phone),
		}
		if doc.Buyer.IEIndicator == 0 {
			doc.Buyer.IEIndicator = entity.BuyerNonContributor
		}
	}
	for i, it := range req.Items {
		doc.Items = append(doc.Items, &entity.DocumentItem{
			ID:          uuid.New().String(),
			DocumentID:  doc.ID,
			LineNumber:  i + 1,
			Code:        it.Code,
			EAN:         it.EAN,
			Description: it.Description,
			NCM:         it.NCM,
			CFOP:        it.CFOP,
			Unit:        it.Unit,
			Quantity:    it.Quantity,
			UnitValue:   it.UnitValue,
			ICMSOrigin:  it.ICMSOrigin,
			ICMSCST:     it.ICMSCST,
			ICMSRate:    it.ICMSRate,
			PISCST:      it.PISCST,
			PISRate:     it.PISRate,
			COFINSCST:   it.COFINSCST,
			COFINSRate:  it.COFINSRate,
			TaxBurden:   it.TaxBurden,
		})
	}
	for _, p := range req.Payments {
		doc.Payments = append(doc.Payments, &entity.Payment{Method: p.Method, Amount: p.Amount})
	}
	return doc
}
