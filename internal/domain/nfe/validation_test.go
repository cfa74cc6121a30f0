package nfe_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
)

func buildIssuer() *entity.Issuer {
	return &entity.Issuer{ID: "iss-1", CNPJ: "11222333000181", Region: "SP", LegalName: "EMPRESA TESTE LTDA"}
}

func buildDocument(model string) *entity.FiscalDocument {
	doc := &entity.FiscalDocument{
		Model:             model,
		Series:            1,
		NatureOfOperation: "VENDA DE MERCADORIA",
		OperationType:     1,
		Finality:          1,
		PresenceIndicator: 1,
		FinalConsumer:     true,
		Items:             threeItems(),
	}
	if model == "55" {
		doc.Buyer = &entity.Buyer{
			TaxID: "12345678000195", Name: "CLIENTE LTDA", Street: "Rua A", Number: "10",
			District: "Centro", CityCode: "3550308", CityName: "Sao Paulo", Region: "SP",
		}
	}
	doc.Totals = nfe.ComputeTotals(doc.Items, nfe.DocumentCharges{})
	return doc
}

func problemsOf(t *testing.T, err error) []string {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, nfe.ErrValidationFailure))
	var ve *nfe.ValidationError
	require.True(t, errors.As(err, &ve))
	return ve.Problems
}

func TestValidateDocument_Valido(t *testing.T) {
	assert.NoError(t, nfe.ValidateDocument(buildDocument("55"), buildIssuer(), nfe.DeclaredTotals{}))
	assert.NoError(t, nfe.ValidateDocument(buildDocument("65"), buildIssuer(), nfe.DeclaredTotals{}))
}

func TestValidateDocument_Modelo55ExigeDestinatario(t *testing.T) {
	doc := buildDocument("55")
	doc.Buyer = nil
	p := problemsOf(t, nfe.ValidateDocument(doc, buildIssuer(), nfe.DeclaredTotals{}))
	assert.Contains(t, p, "destinatario obligatorio en el modelo 55")
}

func TestValidateDocument_NFCeIndicadorPresencia(t *testing.T) {
	doc := buildDocument("65")
	doc.PresenceIndicator = 2
	problemsOf(t, nfe.ValidateDocument(doc, buildIssuer(), nfe.DeclaredTotals{}))

	doc.PresenceIndicator = 4
	assert.NoError(t, nfe.ValidateDocument(doc, buildIssuer(), nfe.DeclaredTotals{}))
}

func TestValidateDocument_DevolucionExigeReferencia(t *testing.T) {
	doc := buildDocument("55")
	doc.Finality = 4
	problemsOf(t, nfe.ValidateDocument(doc, buildIssuer(), nfe.DeclaredTotals{}))

	doc.ReferencedKeys = []string{"35241011222333000181550010000001231123456781"}
	p := problemsOf(t, nfe.ValidateDocument(doc, buildIssuer(), nfe.DeclaredTotals{}))
	require.Len(t, p, 1, "DV de la referencia inválido")

	doc.ReferencedKeys = []string{testKey}
	assert.NoError(t, nfe.ValidateDocument(doc, buildIssuer(), nfe.DeclaredTotals{}))
}

func TestValidateDocument_ToleranciaDeTotales(t *testing.T) {
	doc := buildDocument("55")

	ok := decimal.RequireFromString("58.96")
	assert.NoError(t, nfe.ValidateDocument(doc, buildIssuer(), nfe.DeclaredTotals{GrandTotal: &ok}))

	bad := decimal.RequireFromString("58.97")
	problemsOf(t, nfe.ValidateDocument(doc, buildIssuer(), nfe.DeclaredTotals{GrandTotal: &bad}))
}

func TestValidateDocument_ItemsInvalidos(t *testing.T) {
	doc := buildDocument("55")
	doc.Items[0].NCM = "123"
	doc.Items[1].CFOP = "9999"
	doc.Items[2].Quantity = decimal.Zero
	p := problemsOf(t, nfe.ValidateDocument(doc, buildIssuer(), nfe.DeclaredTotals{}))
	assert.Len(t, p, 3)
}

func TestValidateDocument_EmisorInvalido(t *testing.T) {
	iss := buildIssuer()
	iss.CNPJ = "11222333000100"
	iss.Region = "XX"
	p := problemsOf(t, nfe.ValidateDocument(buildDocument("55"), iss, nfe.DeclaredTotals{}))
	assert.Len(t, p, 2)
}

func fullIssuer() *entity.Issuer {
	i := buildIssuer()
	i.StateRegistration = "123456789012"
	i.TaxRegime = entity.TaxRegimeSimples
	i.CityCode = "3550308"
	i.CityName = "SAO PAULO"
	i.Street = "RUA A"
	i.Number = "100"
	i.District = "CENTRO"
	i.PostalCode = "01001000"
	return i
}

func TestValidateIssuer_Valido(t *testing.T) {
	require.NoError(t, nfe.ValidateIssuer(fullIssuer()))
}

func TestValidateIssuer_Errores(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*entity.Issuer)
	}{
		{"cnpj", func(i *entity.Issuer) { i.CNPJ = "11222333000180" }},
		{"crt", func(i *entity.Issuer) { i.TaxRegime = 0 }},
		{"uf", func(i *entity.Issuer) { i.Region = "XX" }},
		{"cMun de otra UF", func(i *entity.Issuer) { i.CityCode = "4106902" }},
		{"cMun corto", func(i *entity.Issuer) { i.CityCode = "35503" }},
		{"dirección", func(i *entity.Issuer) { i.District = "" }},
		{"cep", func(i *entity.Issuer) { i.PostalCode = "0100" }},
		{"csc sin id", func(i *entity.Issuer) { i.CSC = "A1B2C3" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			i := fullIssuer()
			tc.mutate(i)
			err := nfe.ValidateIssuer(i)
			require.Error(t, err)
			assert.True(t, errors.Is(err, nfe.ErrValidationFailure))
			assert.Len(t, problemsOf(t, err), 1)
		})
	}
}
