// Constantes XMLDSig exigidas por el Manual de Orientação do Contribuinte (firma enveloped RSA-SHA1).

package signer

// Namespace y algoritmos XMLDSig.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// Elementos firmables: el atributo Id de cada uno es el destino de la Reference.
const (
	ElementDocument     = "infNFe"
	ElementEvent        = "infEvento"
	ElementInvalidation = "infInut"
)
