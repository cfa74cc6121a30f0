package issuer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/application/issuer"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/infrastructure/memory"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

func request() dto.IssuerRequest {
	return dto.IssuerRequest{
		CNPJ:              "11.222.333/0001-81",
		StateRegistration: "123456789012",
		LegalName:         " EMPRESA TESTE LTDA ",
		TaxRegime:         3,
		Region:            "sp",
		CityCode:          "3550308",
		CityName:          "SAO PAULO",
		Street:            "RUA A",
		Number:            "100",
		District:          "CENTRO",
		PostalCode:        "01001-000",
		CSCID:             "000001",
		CSC:               "A1B2C3D4E5",
	}
}

func TestUseCase_Save_AltaYActualizacion(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIssuerRepository()
	uc := issuer.NewUseCase(repo, logger.Nop())

	out, err := uc.Save(ctx, "emisor-1", request())
	require.NoError(t, err)
	assert.Equal(t, "11222333000181", out.CNPJ)
	assert.Equal(t, "SP", out.Region)
	assert.Equal(t, "EMPRESA TESTE LTDA", out.LegalName)
	assert.Equal(t, "01001000", out.PostalCode)
	assert.True(t, out.HasCSC)
	created := out.CreatedAt

	in := request()
	in.TradeName = "LOJA CENTRO"
	out, err = uc.Save(ctx, "emisor-1", in)
	require.NoError(t, err)
	assert.Equal(t, "LOJA CENTRO", out.TradeName)
	assert.Equal(t, created, out.CreatedAt)

	stored, err := repo.GetByID(ctx, "emisor-1")
	require.NoError(t, err)
	assert.Equal(t, "A1B2C3D4E5", stored.CSC)
}

func TestUseCase_Save_Errores(t *testing.T) {
	ctx := context.Background()
	uc := issuer.NewUseCase(memory.NewIssuerRepository(), logger.Nop())

	bad := request()
	bad.CityCode = "4106902"
	_, err := uc.Save(ctx, "emisor-1", bad)
	assert.True(t, errors.Is(err, nfe.ErrValidationFailure))

	_, err = uc.Save(ctx, "", request())
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = uc.Save(ctx, "emisor-1", request())
	require.NoError(t, err)
	other := request()
	other.CNPJ = "12345678000195"
	_, err = uc.Save(ctx, "emisor-1", other)
	assert.True(t, errors.Is(err, domain.ErrConflict), "no se cambia el CNPJ de un emisor registrado")
}

func TestUseCase_Get(t *testing.T) {
	ctx := context.Background()
	uc := issuer.NewUseCase(memory.NewIssuerRepository(), logger.Nop())

	_, err := uc.Get(ctx, "emisor-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = uc.Save(ctx, "emisor-1", request())
	require.NoError(t, err)
	out, err := uc.Get(ctx, "emisor-1")
	require.NoError(t, err)
	assert.Equal(t, "emisor-1", out.ID)
}
