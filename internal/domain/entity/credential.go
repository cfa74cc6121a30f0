package entity

import "time"

// SigningCredential metadatos del certificado A1 cargado para un emisor.
// La llave privada nunca sale del gestor de certificados.
type SigningCredential struct {
	IssuerID     string
	OwnerTaxID   string // CNPJ o CPF del titular
	OwnerName    string
	IssuerName   string // CN de la autoridad certificadora
	Chain        []string
	SerialNumber string
	Fingerprint  string // SHA-256 hex del certificado hoja
	NotBefore    time.Time
	NotAfter     time.Time
	Version      int
	LoadedAt     time.Time
}

// DaysRemaining días enteros de vigencia a partir de now (negativo si vencido).
func (c *SigningCredential) DaysRemaining(now time.Time) int {
	return int(c.NotAfter.Sub(now).Hours() / 24)
}

// SealedCredential es la forma persistida: el contenedor PKCS#12 original (cifrado por su
// contraseña) y la contraseña sellada con la llave de la aplicación.
type SealedCredential struct {
	IssuerID         string
	Container        []byte
	SealedPassphrase []byte
	Fingerprint      string
	NotAfter         time.Time
	CreatedAt        time.Time
}
