package nfe

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

const (
	countryCode = "1058"
	countryName = "BRASIL"
	noGTIN      = "SEM GTIN"
)

// XMLBuilderService construye el XML del layout 4.00 (sin firma).
type XMLBuilderService struct {
	processVersion string
}

// NewXMLBuilderService crea el servicio. processVersion se publica en verProc.
func NewXMLBuilderService(processVersion string) *XMLBuilderService {
	if processVersion == "" {
		processVersion = ProcessVersion
	}
	return &XMLBuilderService{processVersion: processVersion}
}

// Build genera <NFe><infNFe Id="NFe{chave}"> con ide, emit, dest, det, total, transp, pag e infAdic.
func (s *XMLBuilderService) Build(ctx *DocumentBuildContext) ([]byte, error) {
	if ctx == nil || ctx.Document == nil || ctx.Issuer == nil {
		return nil, fmt.Errorf("nfe: faltan documento o emisor en el contexto")
	}
	doc := ctx.Document
	if len(doc.AccessKey) != 44 {
		return nil, fmt.Errorf("nfe: el documento no tiene clave de acceso")
	}
	loc := ctx.Location
	if loc == nil {
		loc = saoPaulo()
	}

	x := etree.NewDocument()
	x.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := x.CreateElement("NFe")
	root.CreateAttr("xmlns", pkgnfe.PortalNamespace)
	inf := root.CreateElement("infNFe")
	inf.CreateAttr("versao", pkgnfe.LayoutVersion)
	inf.CreateAttr("Id", "NFe"+doc.AccessKey)

	if err := s.writeIde(inf, ctx, loc); err != nil {
		return nil, err
	}
	s.writeEmit(inf, ctx.Issuer)
	if doc.Buyer != nil {
		s.writeDest(inf, doc)
	}
	for i, it := range doc.Items {
		s.writeDet(inf, i+1, it, ctx.Issuer.TaxRegime)
	}
	s.writeTotal(inf, doc.Totals)
	s.writeTransp(inf, doc)
	s.writePag(inf, doc)
	if doc.AdditionalInfo != "" {
		inf.CreateElement("infAdic").CreateElement("infCpl").SetText(doc.AdditionalInfo)
	}

	return x.WriteToBytes()
}

func (s *XMLBuilderService) writeIde(inf *etree.Element, ctx *DocumentBuildContext, loc *time.Location) error {
	doc, issuer := ctx.Document, ctx.Issuer
	cUF, ok := pkgnfe.RegionCode(issuer.Region)
	if !ok {
		return fmt.Errorf("nfe: UF del emisor desconocida %q", issuer.Region)
	}
	ide := inf.CreateElement("ide")
	text(ide, "cUF", strconv.Itoa(cUF))
	text(ide, "cNF", doc.NumericCode)
	text(ide, "natOp", doc.NatureOfOperation)
	text(ide, "mod", doc.Model)
	text(ide, "serie", strconv.Itoa(doc.Series))
	text(ide, "nNF", strconv.FormatInt(doc.Number, 10))
	text(ide, "dhEmi", FormatDateTime(doc.IssuedAt, loc))
	text(ide, "tpNF", strconv.Itoa(doc.OperationType))
	text(ide, "idDest", destinationIndicator(issuer, doc.Buyer))
	text(ide, "cMunFG", issuer.CityCode)
	tpImp := "1"
	if doc.Model == pkgnfe.ModelNFCe {
		tpImp = "4"
	}
	text(ide, "tpImp", tpImp)
	text(ide, "tpEmis", strconv.Itoa(doc.EmissionType))
	text(ide, "cDV", doc.AccessKey[43:])
	text(ide, "tpAmb", strconv.Itoa(doc.Environment))
	text(ide, "finNFe", strconv.Itoa(doc.Finality))
	text(ide, "indFinal", boolFlag(doc.FinalConsumer))
	text(ide, "indPres", strconv.Itoa(doc.PresenceIndicator))
	switch doc.PresenceIndicator {
	case pkgnfe.PresenceInternet, pkgnfe.PresenceTelephone, pkgnfe.PresenceHomeDelivery, pkgnfe.PresenceOther:
		text(ide, "indIntermed", "0")
	}
	text(ide, "procEmi", "0")
	text(ide, "verProc", s.processVersion)
	if doc.EmissionType != pkgnfe.EmissionNormal {
		since := doc.ContingencySince
		if since.IsZero() {
			since = doc.IssuedAt
		}
		text(ide, "dhCont", FormatDateTime(since, loc))
		text(ide, "xJust", doc.ContingencyReason)
	}
	for _, key := range doc.ReferencedKeys {
		ide.CreateElement("NFref").CreateElement("refNFe").SetText(key)
	}
	return nil
}

func (s *XMLBuilderService) writeEmit(inf *etree.Element, issuer *entity.Issuer) {
	emit := inf.CreateElement("emit")
	text(emit, "CNPJ", pkgnfe.ExtractDigits(issuer.CNPJ))
	text(emit, "xNome", issuer.LegalName)
	optional(emit, "xFant", issuer.TradeName)
	ender := emit.CreateElement("enderEmit")
	text(ender, "xLgr", issuer.Street)
	text(ender, "nro", issuer.Number)
	text(ender, "xBairro", issuer.District)
	text(ender, "cMun", issuer.CityCode)
	text(ender, "xMun", issuer.CityName)
	text(ender, "UF", issuer.Region)
	text(ender, "CEP", pkgnfe.ExtractDigits(issuer.PostalCode))
	text(ender, "cPais", countryCode)
	text(ender, "xPais", countryName)
	optional(ender, "fone", pkgnfe.ExtractDigits(issuer.Phone))
	text(emit, "IE", pkgnfe.ExtractDigits(issuer.StateRegistration))
	text(emit, "CRT", strconv.Itoa(issuer.TaxRegime))
}

func (s *XMLBuilderService) writeDest(inf *etree.Element, doc *entity.FiscalDocument) {
	b := doc.Buyer
	dest := inf.CreateElement("dest")
	id := pkgnfe.ExtractDigits(b.TaxID)
	if len(id) == 11 {
		text(dest, "CPF", id)
	} else {
		text(dest, "CNPJ", id)
	}
	name := b.Name
	if doc.Environment == pkgnfe.EnvironmentStaging {
		name = HomologationBuyerName
	}
	optional(dest, "xNome", name)
	if b.HasAddress() {
		ender := dest.CreateElement("enderDest")
		text(ender, "xLgr", b.Street)
		text(ender, "nro", b.Number)
		text(ender, "xBairro", b.District)
		text(ender, "cMun", b.CityCode)
		text(ender, "xMun", b.CityName)
		text(ender, "UF", b.Region)
		optional(ender, "CEP", pkgnfe.ExtractDigits(b.PostalCode))
		text(ender, "cPais", countryCode)
		text(ender, "xPais", countryName)
		optional(ender, "fone", pkgnfe.ExtractDigits(b.Phone))
	}
	indIE := b.IEIndicator
	if indIE == 0 {
		indIE = entity.BuyerNonContributor
		if b.StateRegistration != "" {
			indIE = entity.BuyerICMSContributor
		}
	}
	if doc.Model == pkgnfe.ModelNFCe {
		indIE = entity.BuyerNonContributor
	}
	text(dest, "indIEDest", strconv.Itoa(indIE))
	if indIE == entity.BuyerICMSContributor {
		text(dest, "IE", pkgnfe.ExtractDigits(b.StateRegistration))
	}
	optional(dest, "email", b.Email)
}

func (s *XMLBuilderService) writeDet(inf *etree.Element, n int, it *entity.DocumentItem, taxRegime int) {
	det := inf.CreateElement("det")
	det.CreateAttr("nItem", strconv.Itoa(n))

	ean := it.EAN
	if ean == "" {
		ean = noGTIN
	}
	prod := det.CreateElement("prod")
	text(prod, "cProd", it.Code)
	text(prod, "cEAN", ean)
	text(prod, "xProd", it.Description)
	text(prod, "NCM", it.NCM)
	text(prod, "CFOP", it.CFOP)
	text(prod, "uCom", it.Unit)
	text(prod, "qCom", money(it.Quantity, 4))
	text(prod, "vUnCom", money(it.UnitValue, 10))
	text(prod, "vProd", money(it.LineTotal, 2))
	text(prod, "cEANTrib", ean)
	text(prod, "uTrib", it.Unit)
	text(prod, "qTrib", money(it.Quantity, 4))
	text(prod, "vUnTrib", money(it.UnitValue, 10))
	optionalAmount(prod, "vFrete", it.Freight)
	optionalAmount(prod, "vSeg", it.Insurance)
	optionalAmount(prod, "vDesc", it.Discount)
	optionalAmount(prod, "vOutro", it.Other)
	text(prod, "indTot", "1")

	imp := det.CreateElement("imposto")
	optionalAmount(imp, "vTotTrib", it.TaxBurden)
	s.writeICMS(imp.CreateElement("ICMS"), it, taxRegime)

	contribBase := it.LineTotal.Sub(it.Discount)
	writeContribution(imp.CreateElement("PIS"), "PIS", it.PISCST, contribBase, it.PISRate, it.PISValue)
	writeContribution(imp.CreateElement("COFINS"), "COFINS", it.COFINSCST, contribBase, it.COFINSRate, it.COFINSValue)
}

func (s *XMLBuilderService) writeICMS(icms *etree.Element, it *entity.DocumentItem, taxRegime int) {
	orig := it.ICMSOrigin
	if orig == "" {
		orig = "0"
	}
	if taxRegime == entity.TaxRegimeSimples || taxRegime == entity.TaxRegimeSimplesExcess {
		csosn := it.ICMSCST
		if csosn == "" {
			csosn = "102"
		}
		grp := icms.CreateElement("ICMSSN" + csosnGroup(csosn))
		text(grp, "orig", orig)
		text(grp, "CSOSN", csosn)
		return
	}
	cst := it.ICMSCST
	if cst == "" {
		cst = "00"
	}
	switch cst {
	case "40", "41", "50":
		grp := icms.CreateElement("ICMS40")
		text(grp, "orig", orig)
		text(grp, "CST", cst)
	default:
		grp := icms.CreateElement("ICMS" + cst)
		text(grp, "orig", orig)
		text(grp, "CST", cst)
		text(grp, "modBC", "3")
		text(grp, "vBC", money(it.ICMSBase, 2))
		text(grp, "pICMS", money(it.ICMSRate, 2))
		text(grp, "vICMS", money(it.ICMSValue, 2))
	}
}

// csosnGroup grupo ICMSSN que corresponde al CSOSN.
func csosnGroup(csosn string) string {
	switch csosn {
	case "101":
		return "101"
	case "102", "103", "300", "400":
		return "102"
	case "201":
		return "201"
	case "202", "203":
		return "202"
	case "500":
		return "500"
	}
	return "900"
}

// writeContribution PIS o COFINS: Aliq para CST 01/02, NT para 04..09, Outr para el resto.
func writeContribution(parent *etree.Element, tax, cst string, base, rate, value decimal.Decimal) {
	if cst == "" {
		cst = "01"
	}
	switch cst {
	case "01", "02":
		grp := parent.CreateElement(tax + "Aliq")
		text(grp, "CST", cst)
		text(grp, "vBC", money(base, 2))
		text(grp, "p"+tax, money(rate, 4))
		text(grp, "v"+tax, money(value, 2))
	case "04", "05", "06", "07", "08", "09":
		grp := parent.CreateElement(tax + "NT")
		text(grp, "CST", cst)
	default:
		grp := parent.CreateElement(tax + "Outr")
		text(grp, "CST", cst)
		text(grp, "vBC", money(base, 2))
		text(grp, "p"+tax, money(rate, 4))
		text(grp, "v"+tax, money(value, 2))
	}
}

func (s *XMLBuilderService) writeTotal(inf *etree.Element, t entity.Totals) {
	tot := inf.CreateElement("total").CreateElement("ICMSTot")
	zero := money(decimal.Zero, 2)
	text(tot, "vBC", money(t.ICMSBase, 2))
	text(tot, "vICMS", money(t.ICMS, 2))
	text(tot, "vICMSDeson", zero)
	text(tot, "vFCP", zero)
	text(tot, "vBCST", zero)
	text(tot, "vST", zero)
	text(tot, "vFCPST", zero)
	text(tot, "vFCPSTRet", zero)
	text(tot, "vProd", money(t.Products, 2))
	text(tot, "vFrete", money(t.Freight, 2))
	text(tot, "vSeg", money(t.Insurance, 2))
	text(tot, "vDesc", money(t.Discount, 2))
	text(tot, "vII", zero)
	text(tot, "vIPI", zero)
	text(tot, "vIPIDevol", zero)
	text(tot, "vPIS", money(t.PIS, 2))
	text(tot, "vCOFINS", money(t.COFINS, 2))
	text(tot, "vOutro", money(t.Other, 2))
	text(tot, "vNF", money(t.GrandTotal, 2))
	optionalAmount(tot, "vTotTrib", t.TaxBurden)
}

func (s *XMLBuilderService) writeTransp(inf *etree.Element, doc *entity.FiscalDocument) {
	// 9 = sin flete; 0 = por cuenta del emisor cuando el documento trae flete.
	mod := "9"
	if doc.Model == pkgnfe.ModelNFe && doc.Totals.Freight.IsPositive() {
		mod = "0"
	}
	inf.CreateElement("transp").CreateElement("modFrete").SetText(mod)
}

func (s *XMLBuilderService) writePag(inf *etree.Element, doc *entity.FiscalDocument) {
	pag := inf.CreateElement("pag")
	if len(doc.Payments) == 0 {
		det := pag.CreateElement("detPag")
		text(det, "tPag", "90")
		text(det, "vPag", money(decimal.Zero, 2))
		return
	}
	paid := decimal.Zero
	for _, p := range doc.Payments {
		det := pag.CreateElement("detPag")
		text(det, "tPag", p.Method)
		text(det, "vPag", money(p.Amount, 2))
		paid = paid.Add(p.Amount)
	}
	if change := paid.Sub(doc.Totals.GrandTotal); change.IsPositive() {
		text(pag, "vTroco", money(change, 2))
	}
}

// destinationIndicator idDest: 1 interna, 2 interestatal.
func destinationIndicator(issuer *entity.Issuer, buyer *entity.Buyer) string {
	if buyer == nil || buyer.Region == "" || buyer.Region == issuer.Region {
		return "1"
	}
	return "2"
}

// FormatDateTime formato AAAA-MM-DDThh:mm:ssTZD exigido por el layout.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = saoPaulo()
	}
	return t.In(loc).Format("2006-01-02T15:04:05-07:00")
}

func saoPaulo() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*3600)
	}
	return loc
}

func text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

func optional(parent *etree.Element, tag, value string) {
	if value != "" {
		text(parent, tag, value)
	}
}

func optionalAmount(parent *etree.Element, tag string, v decimal.Decimal) {
	if v.IsPositive() {
		text(parent, tag, money(v, 2))
	}
}

func money(v decimal.Decimal, places int32) string {
	return v.StringFixed(places)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
