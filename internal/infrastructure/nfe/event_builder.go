package nfe

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// Versiones de los esquemas de eventos e inutilización.
const (
	eventVersion        = "1.00"
	invalidationVersion = "4.00"
)

// EventID Id del infEvento: "ID" + tpEvento + chave + nSeqEvento(2).
func EventID(eventType, accessKey string, seq int) string {
	return fmt.Sprintf("ID%s%s%02d", eventType, accessKey, seq)
}

// InvalidationID Id del infInut: "ID" + cUF + AA + CNPJ + mod + serie(3) + nNFIni(9) + nNFFin(9).
func InvalidationID(r InvalidationRequest) string {
	return fmt.Sprintf("ID%02d%02d%s%s%03d%09d%09d",
		r.RegionCode, r.Year%100, pkgnfe.ExtractDigits(r.IssuerCNPJ), r.Model, r.Series, r.FirstNumber, r.LastNumber)
}

// BuildEventXML arma <envEvento> sin firma para cancelación (110111) o CC-e (110110).
func BuildEventXML(r EventRequest) ([]byte, error) {
	if len(r.AccessKey) != 44 {
		return nil, fmt.Errorf("nfe: clave de acceso inválida para el evento")
	}
	if r.Sequence < 1 || r.Sequence > 20 {
		return nil, fmt.Errorf("nfe: nSeqEvento fuera de rango %d", r.Sequence)
	}
	var desc string
	switch r.Type {
	case pkgnfe.EventCancellation:
		if r.Protocol == "" {
			return nil, fmt.Errorf("nfe: la cancelación exige el protocolo de autorización")
		}
		desc = "Cancelamento"
	case pkgnfe.EventCorrectionLetter:
		desc = "Carta de Correcao"
	default:
		return nil, fmt.Errorf("nfe: tipo de evento no soportado %q", r.Type)
	}

	x := etree.NewDocument()
	env := x.CreateElement("envEvento")
	env.CreateAttr("xmlns", pkgnfe.PortalNamespace)
	env.CreateAttr("versao", eventVersion)
	text(env, "idLote", batchID(r.BatchID))

	ev := env.CreateElement("evento")
	ev.CreateAttr("versao", eventVersion)
	inf := ev.CreateElement("infEvento")
	inf.CreateAttr("Id", EventID(r.Type, r.AccessKey, r.Sequence))
	text(inf, "cOrgao", strconv.Itoa(r.RegionCode))
	text(inf, "tpAmb", strconv.Itoa(r.Environment))
	text(inf, "CNPJ", pkgnfe.ExtractDigits(r.IssuerCNPJ))
	text(inf, "chNFe", r.AccessKey)
	text(inf, "dhEvento", FormatDateTime(r.OccurredAt, nil))
	text(inf, "tpEvento", r.Type)
	text(inf, "nSeqEvento", strconv.Itoa(r.Sequence))
	text(inf, "verEvento", eventVersion)

	det := inf.CreateElement("detEvento")
	det.CreateAttr("versao", eventVersion)
	text(det, "descEvento", desc)
	if r.Type == pkgnfe.EventCancellation {
		text(det, "nProt", r.Protocol)
		text(det, "xJust", r.Text)
	} else {
		text(det, "xCorrecao", r.Text)
		text(det, "xCondUso", pkgnfe.CorrectionLetterConditions)
	}
	return x.WriteToBytes()
}

// BuildInvalidationXML arma <inutNFe> sin firma.
func BuildInvalidationXML(r InvalidationRequest) ([]byte, error) {
	if r.FirstNumber < 1 || r.LastNumber < r.FirstNumber {
		return nil, fmt.Errorf("nfe: faja inválida %d..%d", r.FirstNumber, r.LastNumber)
	}
	x := etree.NewDocument()
	root := x.CreateElement("inutNFe")
	root.CreateAttr("xmlns", pkgnfe.PortalNamespace)
	root.CreateAttr("versao", invalidationVersion)
	inf := root.CreateElement("infInut")
	inf.CreateAttr("Id", InvalidationID(r))
	text(inf, "tpAmb", strconv.Itoa(r.Environment))
	text(inf, "xServ", "INUTILIZAR")
	text(inf, "cUF", strconv.Itoa(r.RegionCode))
	text(inf, "ano", fmt.Sprintf("%02d", r.Year%100))
	text(inf, "CNPJ", pkgnfe.ExtractDigits(r.IssuerCNPJ))
	text(inf, "mod", r.Model)
	text(inf, "serie", strconv.Itoa(r.Series))
	text(inf, "nNFIni", strconv.FormatInt(r.FirstNumber, 10))
	text(inf, "nNFFin", strconv.FormatInt(r.LastNumber, 10))
	text(inf, "xJust", r.Justification)
	return x.WriteToBytes()
}

// BuildProcNFe une la NF-e firmada y el protNFe en <nfeProc> (documento de distribución).
func BuildProcNFe(signedXML, protXML string) ([]byte, error) {
	nfe, err := rootOf(signedXML)
	if err != nil {
		return nil, fmt.Errorf("nfe: XML firmado: %w", err)
	}
	x := etree.NewDocument()
	x.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	proc := x.CreateElement("nfeProc")
	proc.CreateAttr("xmlns", pkgnfe.PortalNamespace)
	proc.CreateAttr("versao", pkgnfe.LayoutVersion)
	proc.AddChild(nfe)
	if protXML != "" {
		prot, err := rootOf(protXML)
		if err != nil {
			return nil, fmt.Errorf("nfe: protNFe: %w", err)
		}
		proc.AddChild(prot)
	}
	return x.WriteToBytes()
}

// rootOf parsea un fragmento y devuelve su raíz desprendida del documento.
func rootOf(fragment string) (*etree.Element, error) {
	d := etree.NewDocument()
	if err := d.ReadFromString(fragment); err != nil {
		return nil, err
	}
	root := d.Root()
	if root == nil {
		return nil, fmt.Errorf("documento sin raíz")
	}
	d.RemoveChild(root)
	return root, nil
}

// batchID idLote de hasta 15 dígitos.
func batchID(id string) string {
	digits := pkgnfe.ExtractDigits(id)
	if digits == "" {
		return "1"
	}
	if len(digits) > 15 {
		digits = digits[len(digits)-15:]
	}
	return digits
}
