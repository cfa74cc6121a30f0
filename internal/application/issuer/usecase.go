package issuer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/pkg/logger"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// UseCase mantiene el cadastro del emisor que se publica en el grupo emit.
type UseCase struct {
	repo repository.IssuerRepository
	log  *logger.Logger
}

// NewUseCase construye el caso de uso con el puerto de persistencia.
func NewUseCase(repo repository.IssuerRepository, log *logger.Logger) *UseCase {
	return &UseCase{repo: repo, log: log.Component("issuer")}
}

// Get devuelve el emisor. domain.ErrNotFound si no está dado de alta.
func (uc *UseCase) Get(ctx context.Context, id string) (*dto.IssuerResponse, error) {
	i, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if i == nil {
		return nil, domain.ErrNotFound
	}
	return ToIssuerResponse(i), nil
}

// Save da de alta o actualiza el emisor id. Un CNPJ distinto del ya registrado se rechaza:
// las claves emitidas quedarían atadas a otro contribuyente.
func (uc *UseCase) Save(ctx context.Context, id string, in dto.IssuerRequest) (*dto.IssuerResponse, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: emisor vacío", domain.ErrInvalidInput)
	}
	i := &entity.Issuer{
		ID:                id,
		CNPJ:              pkgnfe.ExtractDigits(in.CNPJ),
		StateRegistration: strings.TrimSpace(in.StateRegistration),
		LegalName:         strings.TrimSpace(in.LegalName),
		TradeName:         strings.TrimSpace(in.TradeName),
		TaxRegime:         in.TaxRegime,
		Region:            strings.ToUpper(strings.TrimSpace(in.Region)),
		CityCode:          strings.TrimSpace(in.CityCode),
		CityName:          strings.TrimSpace(in.CityName),
		Street:            strings.TrimSpace(in.Street),
		Number:            strings.TrimSpace(in.Number),
		District:          strings.TrimSpace(in.District),
		PostalCode:        pkgnfe.ExtractDigits(in.PostalCode),
		Phone:             pkgnfe.ExtractDigits(in.Phone),
		CSCID:             strings.TrimSpace(in.CSCID),
		CSC:               strings.TrimSpace(in.CSC),
	}
	if err := nfe.ValidateIssuer(i); err != nil {
		return nil, err
	}

	prev, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.CNPJ != i.CNPJ {
		return nil, fmt.Errorf("%w: el emisor ya está registrado con el CNPJ %s", domain.ErrConflict, prev.CNPJ)
	}
	if err := uc.repo.Upsert(ctx, i); err != nil {
		return nil, err
	}
	uc.log.Info().Str("issuer_id", id).Str("region", i.Region).Bool("created", prev == nil).Msg("emisor guardado")

	saved, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, domain.ErrNotFound
	}
	return ToIssuerResponse(saved), nil
}

// ToIssuerResponse mapea la entidad sin exponer el CSC.
func ToIssuerResponse(i *entity.Issuer) *dto.IssuerResponse {
	if i == nil {
		return nil
	}
	return &dto.IssuerResponse{
		ID:                i.ID,
		CNPJ:              i.CNPJ,
		StateRegistration: i.StateRegistration,
		LegalName:         i.LegalName,
		TradeName:         i.TradeName,
		TaxRegime:         i.TaxRegime,
		Region:            i.Region,
		CityCode:          i.CityCode,
		CityName:          i.CityName,
		Street:            i.Street,
		Number:            i.Number,
		District:          i.District,
		PostalCode:        i.PostalCode,
		Phone:             i.Phone,
		CSCID:             i.CSCID,
		HasCSC:            i.CSC != "",
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
}
