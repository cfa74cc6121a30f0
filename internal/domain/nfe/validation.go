package nfe

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

var (
	reNCM  = regexp.MustCompile(`^\d{8}$`)
	reCFOP = regexp.MustCompile(`^[1-7]\d{3}$`)
)

// DeclaredTotals totales informados por el llamador (opcionales) para contrastar con los calculados.
type DeclaredTotals struct {
	Products   *decimal.Decimal
	GrandTotal *decimal.Decimal
}

// ValidateDocument valida un documento ya totalizado (ComputeTotals) antes de numerarlo.
// Reúne todos los problemas y devuelve *ValidationError.
func ValidateDocument(doc *entity.FiscalDocument, issuer *entity.Issuer, declared DeclaredTotals) error {
	if doc == nil {
		return &ValidationError{Problems: []string{"documento nulo"}}
	}
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if issuer == nil {
		add("emisor inexistente")
	} else {
		if err := pkgnfe.ValidateCNPJ(issuer.CNPJ); err != nil {
			add("emisor: %v", err)
		}
		if _, ok := pkgnfe.RegionCode(issuer.Region); !ok {
			add("emisor: UF desconocida %q", issuer.Region)
		}
	}

	if !pkgnfe.ValidModels[doc.Model] {
		add("modelo inválido %q", doc.Model)
	}
	if doc.Series < 0 || doc.Series > 999 {
		add("serie fuera de rango: %d", doc.Series)
	}
	if doc.NatureOfOperation == "" {
		add("natOp obligatorio")
	}
	if !pkgnfe.ValidFinalities[doc.Finality] {
		add("finNFe inválida: %d", doc.Finality)
	}
	if !pkgnfe.ValidPresenceIndicators[doc.PresenceIndicator] {
		add("indPres inválido: %d", doc.PresenceIndicator)
	}

	switch doc.Model {
	case pkgnfe.ModelNFe:
		if doc.Buyer == nil {
			add("destinatario obligatorio en el modelo 55")
		} else {
			if err := pkgnfe.ValidateTaxID(doc.Buyer.TaxID); err != nil {
				add("destinatario: %v", err)
			}
			if doc.Buyer.Name == "" {
				add("destinatario: nombre obligatorio")
			}
			if !doc.Buyer.HasAddress() {
				add("destinatario: dirección completa obligatoria en el modelo 55")
			}
		}
	case pkgnfe.ModelNFCe:
		if doc.PresenceIndicator != pkgnfe.PresenceInPerson && doc.PresenceIndicator != pkgnfe.PresenceHomeDelivery {
			add("NFC-e exige indPres 1 (presencial) o 4 (entrega a domicilio)")
		}
		if !doc.FinalConsumer {
			add("NFC-e solo se emite a consumidor final")
		}
		if doc.Buyer != nil && doc.Buyer.TaxID != "" {
			if err := pkgnfe.ValidateTaxID(doc.Buyer.TaxID); err != nil {
				add("destinatario: %v", err)
			}
		}
	}

	if pkgnfe.RequiresReference(doc.Finality) && len(doc.ReferencedKeys) == 0 {
		add("finalidad %d exige al menos una NF-e referenciada", doc.Finality)
	}
	for _, k := range doc.ReferencedKeys {
		if err := pkgnfe.ValidateAccessKey(k); err != nil {
			add("referencia %q: %v", k, err)
		}
	}

	if len(doc.Items) == 0 {
		add("el documento debe tener al menos un ítem")
	}
	for _, it := range doc.Items {
		if it.Description == "" {
			add("ítem %d: descripción obligatoria", it.LineNumber)
		}
		if !it.Quantity.IsPositive() {
			add("ítem %d: cantidad debe ser mayor que cero", it.LineNumber)
		}
		if it.UnitValue.IsNegative() {
			add("ítem %d: valor unitario negativo", it.LineNumber)
		}
		if !reNCM.MatchString(it.NCM) {
			add("ítem %d: NCM debe tener 8 dígitos", it.LineNumber)
		}
		if !reCFOP.MatchString(it.CFOP) {
			add("ítem %d: CFOP inválido %q", it.LineNumber, it.CFOP)
		}
	}

	if doc.Totals.GrandTotal.IsNegative() {
		add("vNF negativo: el descuento supera el valor de los productos")
	}
	if declared.Products != nil && !WithinTolerance(*declared.Products, doc.Totals.Products) {
		add("vProd informado (%s) difiere de la suma de ítems (%s)", declared.Products.StringFixed(2), doc.Totals.Products.StringFixed(2))
	}
	if declared.GrandTotal != nil && !WithinTolerance(*declared.GrandTotal, doc.Totals.GrandTotal) {
		add("vNF informado (%s) difiere del calculado (%s)", declared.GrandTotal.StringFixed(2), doc.Totals.GrandTotal.StringFixed(2))
	}
	if len(doc.Payments) > 0 {
		var paid decimal.Decimal
		for _, p := range doc.Payments {
			paid = paid.Add(p.Amount)
		}
		if paid.LessThan(doc.Totals.GrandTotal.Sub(TotalsTolerance)) {
			add("pagos (%s) no cubren vNF (%s)", paid.StringFixed(2), doc.Totals.GrandTotal.StringFixed(2))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

var (
	reCityCode   = regexp.MustCompile(`^\d{7}$`)
	rePostalCode = regexp.MustCompile(`^\d{8}$`)
)

// ValidateIssuer valida el cadastro del emisor (grupo emit) antes de guardarlo.
func ValidateIssuer(i *entity.Issuer) error {
	if i == nil {
		return &ValidationError{Problems: []string{"emisor nulo"}}
	}
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if err := pkgnfe.ValidateCNPJ(i.CNPJ); err != nil {
		add("%v", err)
	}
	if i.LegalName == "" {
		add("xNome obligatorio")
	}
	if i.StateRegistration == "" {
		add("IE obligatoria")
	}
	switch i.TaxRegime {
	case entity.TaxRegimeSimples, entity.TaxRegimeSimplesExcess, entity.TaxRegimeNormal:
	default:
		add("CRT inválido: %d", i.TaxRegime)
	}
	code, ok := pkgnfe.RegionCode(i.Region)
	if !ok {
		add("UF desconocida %q", i.Region)
	}
	if !reCityCode.MatchString(i.CityCode) {
		add("cMun debe tener 7 dígitos: %q", i.CityCode)
	} else if ok && i.CityCode[:2] != fmt.Sprintf("%02d", code) {
		add("cMun %s no pertenece a %s", i.CityCode, i.Region)
	}
	if i.Street == "" || i.Number == "" || i.District == "" || i.CityName == "" {
		add("dirección incompleta (xLgr, nro, xBairro, xMun)")
	}
	if i.PostalCode != "" && !rePostalCode.MatchString(i.PostalCode) {
		add("CEP debe tener 8 dígitos: %q", i.PostalCode)
	}
	if (i.CSCID == "") != (i.CSC == "") {
		add("idCSC y CSC se informan juntos")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
