package signer_test

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/infrastructure/nfe/signer"
)

type testKey struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
	fail bool
}

func (k *testKey) SignSHA1(data []byte) ([]byte, error) {
	if k.fail {
		return nil, errors.New("token desconectado")
	}
	sum := sha1.Sum(data)
	return rsa.SignPKCS1v15(rand.Reader, k.key, crypto.SHA1, sum[:])
}

func (k *testKey) Certificate() *x509.Certificate { return k.cert }

func newTestKey(t *testing.T) *testKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "EMPRESA TESTE LTDA:11222333000181"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &testKey{key: key, cert: cert}
}

const unsignedNFe = `<NFe xmlns="http://www.portalfiscal.inf.br/nfe"><infNFe versao="4.00" Id="NFe35241011222333000181550010000001231123456780"><ide><cUF>35</cUF><nNF>123</nNF></ide><emit><CNPJ>11222333000181</CNPJ><xNome>EMPRESA TESTE &amp; CIA</xNome></emit></infNFe></NFe>`

func TestSign_InsertaFirmaDespuesDeInfNFe(t *testing.T) {
	svc := signer.NewDigitalSignatureService()
	key := newTestKey(t)

	out, err := svc.Sign([]byte(unsignedNFe), signer.ElementDocument, key)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	children := doc.Root().ChildElements()
	require.Len(t, children, 2)
	assert.Equal(t, "infNFe", children[0].Tag)
	assert.Equal(t, "Signature", children[1].Tag)
	assert.Equal(t, signer.NamespaceDS, children[1].SelectAttrValue("xmlns", ""))

	ref := children[1].FindElement("./SignedInfo/Reference")
	require.NotNil(t, ref)
	assert.Equal(t, "#NFe35241011222333000181550010000001231123456780", ref.SelectAttrValue("URI", ""))
	assert.Equal(t, signer.AlgRSASHA1, children[1].FindElement("./SignedInfo/SignatureMethod").SelectAttrValue("Algorithm", ""))
	assert.Len(t, ref.FindElements("./Transforms/Transform"), 2)

	cert, err := svc.Verify(out, signer.ElementDocument)
	require.NoError(t, err)
	assert.Equal(t, key.cert.SerialNumber, cert.SerialNumber)
}

func TestSign_ContenidoAlteradoInvalidaFirma(t *testing.T) {
	svc := signer.NewDigitalSignatureService()
	out, err := svc.Sign([]byte(unsignedNFe), signer.ElementDocument, newTestKey(t))
	require.NoError(t, err)

	tampered := strings.Replace(string(out), "<nNF>123</nNF>", "<nNF>124</nNF>", 1)
	_, err = svc.Verify([]byte(tampered), signer.ElementDocument)
	assert.ErrorIs(t, err, signer.ErrInvalidSignature)
}

func TestSign_RefirmarReemplazaLaFirmaAnterior(t *testing.T) {
	svc := signer.NewDigitalSignatureService()
	first, err := svc.Sign([]byte(unsignedNFe), signer.ElementDocument, newTestKey(t))
	require.NoError(t, err)

	second, err := svc.Sign(first, signer.ElementDocument, newTestKey(t))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(second), "<Signature"))
	_, err = svc.Verify(second, signer.ElementDocument)
	assert.NoError(t, err)
}

func TestSign_Evento(t *testing.T) {
	const ev = `<envEvento xmlns="http://www.portalfiscal.inf.br/nfe" versao="1.00"><idLote>1</idLote><evento versao="1.00"><infEvento Id="ID1101113524101122233300018155001000000123112345678001"><tpEvento>110111</tpEvento></infEvento></evento></envEvento>`
	svc := signer.NewDigitalSignatureService()

	out, err := svc.Sign([]byte(ev), signer.ElementEvent, newTestKey(t))
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	evento := doc.FindElement("//evento")
	require.NotNil(t, evento)
	assert.NotNil(t, evento.SelectElement("Signature"))
	_, err = svc.Verify(out, signer.ElementEvent)
	assert.NoError(t, err)
}

func TestSign_Errores(t *testing.T) {
	svc := signer.NewDigitalSignatureService()
	key := newTestKey(t)

	tests := []struct {
		name string
		xml  string
		tag  string
		key  *testKey
	}{
		{"XML vacío", "", signer.ElementDocument, key},
		{"XML mal formado", "<NFe><infNFe>", signer.ElementDocument, key},
		{"elemento ausente", unsignedNFe, signer.ElementEvent, key},
		{"sin Id", `<NFe><infNFe versao="4.00"/></NFe>`, signer.ElementDocument, key},
		{"falla de la llave", unsignedNFe, signer.ElementDocument, &testKey{cert: key.cert, fail: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Sign([]byte(tt.xml), tt.tag, tt.key)
			assert.ErrorIs(t, err, nfe.ErrSigningFailure)
		})
	}
}
