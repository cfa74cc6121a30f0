package entity

// Indicador de IE del destinatario (indIEDest).
const (
	BuyerICMSContributor = 1 // Contribuyente ICMS
	BuyerExempt          = 2 // Contribuyente exento
	BuyerNonContributor  = 9 // No contribuyente
)

// Buyer es la copia del destinatario (dest) congelada en el documento.
type Buyer struct {
	TaxID             string // CNPJ (14) o CPF (11)
	Name              string
	StateRegistration string
	IEIndicator       int
	Email             string
	Street            string
	Number            string
	District          string
	CityCode          string
	CityName          string
	Region            string
	PostalCode        string
	Phone             string
}

// HasAddress indica si el destinatario trae el grupo enderDest completo.
func (b *Buyer) HasAddress() bool {
	return b.Street != "" && b.Number != "" && b.District != "" && b.CityCode != "" && b.Region != ""
}
