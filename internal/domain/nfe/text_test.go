package nfe_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/domain/nfe"
)

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Cancelacao por erro de digitacao", nfe.NormalizeText("  Cancelação  por\nerro de digitação "))
	assert.Equal(t, "ACUCAR E CAFE", nfe.NormalizeText("AÇÚCAR E CAFÉ"))
}

func TestNormalizeJustification_Limites(t *testing.T) {
	_, err := nfe.NormalizeJustification("curta demais", nfe.MaxJustificationLen)
	require.Error(t, err)
	assert.True(t, errors.Is(err, nfe.ErrValidationFailure))

	_, err = nfe.NormalizeJustification(strings.Repeat("a", 256), nfe.MaxJustificationLen)
	require.Error(t, err)

	got, err := nfe.NormalizeJustification("Erro na emissão do pedido", nfe.MaxJustificationLen)
	require.NoError(t, err)
	assert.Equal(t, "Erro na emissao do pedido", got)

	_, err = nfe.NormalizeJustification(strings.Repeat("b", 1000), nfe.MaxCorrectionLen)
	assert.NoError(t, err)
}
