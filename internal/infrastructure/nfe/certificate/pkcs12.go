// Carga y validación de certificados A1 (PKCS#12 / .pfx) de la ICP-Brasil.

package certificate

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// OIDs de la ICP-Brasil en el otherName del SubjectAltName.
var (
	oidSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}
	oidCNPJ           = asn1.ObjectIdentifier{2, 16, 76, 1, 3, 3} // CNPJ de la persona jurídica
	oidPersonData     = asn1.ObjectIdentifier{2, 16, 76, 1, 3, 1} // nacimiento(8) + CPF(11) + ...
)

// parsed contenido útil de un contenedor PKCS#12.
type parsed struct {
	key   *rsa.PrivateKey
	leaf  *x509.Certificate
	chain []*x509.Certificate
}

// decodeContainer abre el .pfx. pkcs12.Decode solo admite un certificado, así que la cadena
// completa se extrae con pkcs12.ToPEM.
func decodeContainer(raw []byte, passphrase string) (*parsed, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: contenedor vacío", nfe.ErrInvalidCredential)
	}
	blocks, err := pkcs12.ToPEM(raw, passphrase)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, nfe.ErrWrongPassphrase
		}
		return nil, fmt.Errorf("%w: %v", nfe.ErrInvalidCredential, err)
	}

	out := &parsed{}
	var certs []*x509.Certificate
	for _, b := range blocks {
		switch b.Type {
		case "CERTIFICATE":
			c, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: certificado ilegible: %v", nfe.ErrInvalidCredential, err)
			}
			certs = append(certs, c)
		case "PRIVATE KEY":
			// ToPEM entrega PKCS#1 para RSA aunque el tipo diga PRIVATE KEY.
			k, err := x509.ParsePKCS1PrivateKey(b.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: la llave privada debe ser RSA", nfe.ErrInvalidCredential)
			}
			out.key = k
		}
	}
	if out.key == nil {
		return nil, fmt.Errorf("%w: el contenedor no trae llave privada", nfe.ErrInvalidCredential)
	}
	for _, c := range certs {
		if pub, ok := c.PublicKey.(*rsa.PublicKey); ok && pub.Equal(&out.key.PublicKey) {
			out.leaf = c
			continue
		}
		out.chain = append(out.chain, c)
	}
	if out.leaf == nil {
		return nil, fmt.Errorf("%w: ningún certificado corresponde a la llave privada", nfe.ErrInvalidCredential)
	}
	return out, nil
}

// qualify verifica que el certificado hoja sirva para firmar documentos fiscales en now.
func qualify(p *parsed, now time.Time) (ownerTaxID string, err error) {
	leaf := p.leaf
	if leaf.IsCA {
		return "", fmt.Errorf("%w: es un certificado de autoridad certificadora", nfe.ErrInvalidCredential)
	}
	if leaf.KeyUsage != 0 && leaf.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return "", fmt.Errorf("%w: el certificado no permite firma digital", nfe.ErrInvalidCredential)
	}
	if p.key.N.BitLen() < 2048 {
		return "", fmt.Errorf("%w: llave RSA menor a 2048 bits", nfe.ErrInvalidCredential)
	}
	ownerTaxID = ownerTaxIDOf(leaf)
	if ownerTaxID == "" {
		return "", fmt.Errorf("%w: no se encontró CNPJ/CPF del titular", nfe.ErrInvalidCredential)
	}
	if err := pkgnfe.ValidateTaxID(ownerTaxID); err != nil {
		return "", fmt.Errorf("%w: %v", nfe.ErrInvalidCredential, err)
	}
	if now.Before(leaf.NotBefore) {
		return "", fmt.Errorf("%w: vigente a partir de %s", nfe.ErrExpired, leaf.NotBefore.Format(time.RFC3339))
	}
	if !now.Before(leaf.NotAfter) {
		return "", fmt.Errorf("%w: venció el %s", nfe.ErrExpired, leaf.NotAfter.Format(time.RFC3339))
	}
	return ownerTaxID, nil
}

// ownerTaxIDOf busca el documento del titular: primero en el SAN (ICP-Brasil), después en el CN
// con formato "RAZAO SOCIAL:CNPJ".
func ownerTaxIDOf(cert *x509.Certificate) string {
	if id := taxIDFromSAN(cert); id != "" {
		return id
	}
	cn := cert.Subject.CommonName
	if i := strings.LastIndex(cn, ":"); i >= 0 {
		digits := pkgnfe.ExtractDigits(cn[i+1:])
		if len(digits) == 14 || len(digits) == 11 {
			return digits
		}
	}
	return ""
}

type otherName struct {
	TypeID asn1.ObjectIdentifier
	Value  asn1.RawValue `asn1:"explicit,tag:0"`
}

func taxIDFromSAN(cert *x509.Certificate) string {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidSubjectAltName) {
			continue
		}
		var seq asn1.RawValue
		if _, err := asn1.Unmarshal(ext.Value, &seq); err != nil {
			return ""
		}
		rest := seq.Bytes
		for len(rest) > 0 {
			var gn asn1.RawValue
			var err error
			rest, err = asn1.Unmarshal(rest, &gn)
			if err != nil {
				return ""
			}
			if gn.Class != asn1.ClassContextSpecific || gn.Tag != 0 {
				continue
			}
			var on otherName
			if _, err := asn1.UnmarshalWithParams(gn.FullBytes, &on, "tag:0"); err != nil {
				continue
			}
			digits := pkgnfe.ExtractDigits(string(rawString(on.Value)))
			switch {
			case on.TypeID.Equal(oidCNPJ) && len(digits) >= 14:
				return digits[:14]
			case on.TypeID.Equal(oidPersonData) && len(digits) >= 19:
				return digits[8:19]
			}
		}
	}
	return ""
}

// rawString devuelve el contenido del string interno, esté o no envuelto en el tag explícito.
func rawString(v asn1.RawValue) []byte {
	if v.Class == asn1.ClassContextSpecific {
		var inner asn1.RawValue
		if _, err := asn1.Unmarshal(v.Bytes, &inner); err == nil {
			return inner.Bytes
		}
	}
	return v.Bytes
}

func fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}
