package emission

import (
	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// ToDocumentResponse convierte el documento en su DTO.
func ToDocumentResponse(d *entity.FiscalDocument) dto.DocumentResponse {
	return dto.DocumentResponse{
		ID:               d.ID,
		IssuerID:         d.IssuerID,
		Model:            d.Model,
		Series:           d.Series,
		Number:           d.Number,
		AccessKey:        d.AccessKey,
		EmissionType:     d.EmissionType,
		Environment:      d.Environment,
		Status:           d.Status,
		Protocol:         d.Protocol,
		Receipt:          d.Receipt,
		AuthorityCode:    d.AuthorityCode,
		AuthorityMessage: d.AuthorityMessage,
		Total:            d.Totals.GrandTotal,
		IssuedAt:         d.IssuedAt,
		AuthorizedAt:     d.AuthorizedAt,
		CancelledAt:      d.CancelledAt,
		Version:          d.Version,
	}
}

// ToEventResponses historial sin los XML.
func ToEventResponses(events []*entity.DocumentEvent) []dto.DocumentEventResponse {
	out := make([]dto.DocumentEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, ToEventResponse(e))
	}
	return out
}

// ToEventResponse convierte un evento en su DTO.
func ToEventResponse(e *entity.DocumentEvent) dto.DocumentEventResponse {
	return dto.DocumentEventResponse{
		ID:         e.ID,
		Type:       e.Type,
		Sequence:   e.Sequence,
		FromStatus: e.FromStatus,
		ToStatus:   e.ToStatus,
		Code:       e.Code,
		Message:    e.Message,
		Protocol:   e.Protocol,
		CreatedAt:  e.CreatedAt,
	}
}

// ToInvalidationResponse convierte la inutilización en su DTO.
func ToInvalidationResponse(inv *entity.RangeInvalidation) dto.InvalidationResponse {
	return dto.InvalidationResponse{
		ID:          inv.ID,
		Model:       inv.Model,
		Series:      inv.Series,
		Year:        inv.Year,
		FirstNumber: inv.FirstNumber,
		LastNumber:  inv.LastNumber,
		Status:      inv.Status,
		Protocol:    inv.Protocol,
		Code:        inv.Code,
		Message:     inv.Message,
		CreatedAt:   inv.CreatedAt,
	}
}
