// Package nfe: interfaces de firma XMLDSig de los documentos fiscales.

package nfe

import "crypto/x509"

// KeySigner produce la firma RSA-SHA1 de un bloque ya canonicalizado sin exponer la llave privada.
type KeySigner interface {
	SignSHA1(data []byte) ([]byte, error)
	Certificate() *x509.Certificate
}

// Signer firma el elemento identificado por Id (infNFe, infEvento, infInut) y devuelve el XML
// con ds:Signature como hermano siguiente del elemento firmado.
type Signer interface {
	Sign(xmlBytes []byte, elementTag string, key KeySigner) ([]byte, error)
}
