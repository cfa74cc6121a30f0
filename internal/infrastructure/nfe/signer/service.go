// Servicio de firma XMLDSig enveloped para NF-e, eventos e inutilizaciones.
// Inserta <Signature> como hermano siguiente del elemento firmado (infNFe, infEvento, infInut).

package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// ErrInvalidSignature la firma no corresponde al contenido o al certificado.
var ErrInvalidSignature = errors.New("firma XML inválida")

// DigitalSignatureService implementa pkg/nfe.Signer.
type DigitalSignatureService struct{}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService() *DigitalSignatureService {
	return &DigitalSignatureService{}
}

var _ pkgnfe.Signer = (*DigitalSignatureService)(nil)

// Sign firma el elemento elementTag y devuelve el XML con la firma insertada. Una firma previa
// del mismo elemento se reemplaza. Los errores envuelven nfe.ErrSigningFailure.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, elementTag string, key pkgnfe.KeySigner) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, fmt.Errorf("%w: XML vacío", nfe.ErrSigningFailure)
	}
	if key == nil || key.Certificate() == nil {
		return nil, fmt.Errorf("%w: sin certificado", nfe.ErrSigningFailure)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("%w: parsear XML: %v", nfe.ErrSigningFailure, err)
	}
	target := doc.FindElement("//" + elementTag)
	if target == nil {
		return nil, fmt.Errorf("%w: no se encontró <%s>", nfe.ErrSigningFailure, elementTag)
	}
	id := target.SelectAttrValue("Id", "")
	if id == "" {
		return nil, fmt.Errorf("%w: <%s> sin atributo Id", nfe.ErrSigningFailure, elementTag)
	}
	parent := target.Parent()
	if parent == nil {
		return nil, fmt.Errorf("%w: <%s> no puede ser la raíz del documento", nfe.ErrSigningFailure, elementTag)
	}
	for _, old := range parent.SelectElements("Signature") {
		parent.RemoveChild(old)
	}

	// 1) Digest del elemento referenciado (C14N)
	canonicalRef, err := canonicalizeElement(target)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalizar <%s>: %v", nfe.ErrSigningFailure, elementTag, err)
	}
	digest := sha1.Sum(canonicalRef)

	// 2) SignedInfo con la Reference al Id
	signedInfo := buildSignedInfo(id, base64.StdEncoding.EncodeToString(digest[:]))
	canonicalSI, err := canonicalizeElement(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalizar SignedInfo: %v", nfe.ErrSigningFailure, err)
	}
	sigValue, err := key.SignSHA1(canonicalSI)
	if err != nil {
		if errors.Is(err, nfe.ErrSigningFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", nfe.ErrSigningFailure, err)
	}

	// 3) Signature = SignedInfo + SignatureValue + KeyInfo
	sig := etree.NewElement("Signature")
	sig.CreateAttr("xmlns", NamespaceDS)
	signedInfo.RemoveAttr("xmlns")
	sig.AddChild(signedInfo)
	sig.CreateElement("SignatureValue").SetText(base64.StdEncoding.EncodeToString(sigValue))
	x509Data := sig.CreateElement("KeyInfo").CreateElement("X509Data")
	x509Data.CreateElement("X509Certificate").SetText(base64.StdEncoding.EncodeToString(key.Certificate().Raw))

	parent.InsertChildAt(target.Index()+1, sig)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: serializar: %v", nfe.ErrSigningFailure, err)
	}
	return out, nil
}

// Verify comprueba la firma del elemento elementTag y devuelve el certificado firmante.
func (s *DigitalSignatureService) Verify(xmlBytes []byte, elementTag string) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("%w: parsear XML: %v", ErrInvalidSignature, err)
	}
	target := doc.FindElement("//" + elementTag)
	if target == nil || target.Parent() == nil {
		return nil, fmt.Errorf("%w: no se encontró <%s>", ErrInvalidSignature, elementTag)
	}
	sig := target.Parent().SelectElement("Signature")
	if sig == nil {
		return nil, fmt.Errorf("%w: documento sin firma", ErrInvalidSignature)
	}
	signedInfo := sig.SelectElement("SignedInfo")
	ref := sig.FindElement("./SignedInfo/Reference")
	if signedInfo == nil || ref == nil {
		return nil, fmt.Errorf("%w: SignedInfo incompleto", ErrInvalidSignature)
	}
	if uri := ref.SelectAttrValue("URI", ""); uri != "#"+target.SelectAttrValue("Id", "") {
		return nil, fmt.Errorf("%w: la referencia %q no apunta a <%s>", ErrInvalidSignature, uri, elementTag)
	}

	canonicalRef, err := canonicalizeElement(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	digest := sha1.Sum(canonicalRef)
	if got := strings.TrimSpace(ref.FindElement("./DigestValue").NotNil().Text()); got != base64.StdEncoding.EncodeToString(digest[:]) {
		return nil, fmt.Errorf("%w: el digest no coincide", ErrInvalidSignature)
	}

	certB64 := strings.TrimSpace(sig.FindElement("./KeyInfo/X509Data/X509Certificate").NotNil().Text())
	der, err := base64.StdEncoding.DecodeString(certB64)
	if err != nil {
		return nil, fmt.Errorf("%w: X509Certificate ilegible", ErrInvalidSignature)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: el certificado no es RSA", ErrInvalidSignature)
	}

	value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sig.SelectElement("SignatureValue").NotNil().Text()))
	if err != nil {
		return nil, fmt.Errorf("%w: SignatureValue ilegible", ErrInvalidSignature)
	}
	canonicalSI, err := canonicalizeElement(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sum := sha1.Sum(canonicalSI)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, sum[:], value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return cert, nil
}

func buildSignedInfo(id, digestB64 string) *etree.Element {
	si := etree.NewElement("SignedInfo")
	si.CreateAttr("xmlns", NamespaceDS)
	si.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", AlgC14N)
	si.CreateElement("SignatureMethod").CreateAttr("Algorithm", AlgRSASHA1)
	ref := si.CreateElement("Reference")
	ref.CreateAttr("URI", "#"+id)
	transforms := ref.CreateElement("Transforms")
	transforms.CreateElement("Transform").CreateAttr("Algorithm", TransformEnveloped)
	transforms.CreateElement("Transform").CreateAttr("Algorithm", AlgC14N)
	ref.CreateElement("DigestMethod").CreateAttr("Algorithm", AlgSHA1)
	ref.CreateElement("DigestValue").SetText(digestB64)
	return si
}

// canonicalizeElement serializa el elemento como raíz, declarando el namespace por defecto
// heredado, y lo pasa por C14N.
func canonicalizeElement(el *etree.Element) ([]byte, error) {
	ns := el.NamespaceURI()
	cp := el.Copy()
	if cp.Space == "" && ns != "" && cp.SelectAttr("xmlns") == nil {
		cp.CreateAttr("xmlns", ns)
	}
	doc := etree.NewDocument()
	doc.SetRoot(cp)
	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	return canonicalizeXML(raw)
}

func canonicalizeXML(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}
