package nfe

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// Mensajes sin firma que acompañan a los servicios de la SEFAZ.

// BuildSubmitBatch envuelve la NF-e firmada en <enviNFe> con indSinc=1; si el autorizador no
// procesa en línea responde 103 y el cliente consulta el recibo.
func BuildSubmitBatch(signedNFe []byte, batch string) ([]byte, error) {
	x := etree.NewDocument()
	if err := x.ReadFromBytes(signedNFe); err != nil {
		return nil, fmt.Errorf("nfe: XML firmado ilegible: %w", err)
	}
	root := x.Root()
	if root == nil || root.Tag != "NFe" {
		return nil, fmt.Errorf("nfe: se esperaba <NFe> como raíz")
	}
	x.RemoveChild(root)

	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := out.CreateElement("enviNFe")
	env.CreateAttr("xmlns", pkgnfe.PortalNamespace)
	env.CreateAttr("versao", pkgnfe.LayoutVersion)
	text(env, "idLote", batchID(batch))
	text(env, "indSinc", "1")
	env.AddChild(root)
	return out.WriteToBytes()
}

// BuildReceiptQuery <consReciNFe> para NFeRetAutorizacao.
func BuildReceiptQuery(environment int, receipt string) ([]byte, error) {
	out, root := portalDocument("consReciNFe", pkgnfe.LayoutVersion)
	text(root, "tpAmb", strconv.Itoa(environment))
	text(root, "nRec", receipt)
	return out.WriteToBytes()
}

// BuildStatusQuery <consSitNFe> para NFeConsultaProtocolo.
func BuildStatusQuery(environment int, accessKey string) ([]byte, error) {
	if err := pkgnfe.ValidateAccessKey(accessKey); err != nil {
		return nil, fmt.Errorf("nfe: %w", err)
	}
	out, root := portalDocument("consSitNFe", pkgnfe.LayoutVersion)
	text(root, "tpAmb", strconv.Itoa(environment))
	text(root, "xServ", "CONSULTAR")
	text(root, "chNFe", accessKey)
	return out.WriteToBytes()
}

// BuildServiceStatusQuery <consStatServ> para NFeStatusServico.
func BuildServiceStatusQuery(environment, regionCode int) ([]byte, error) {
	out, root := portalDocument("consStatServ", pkgnfe.LayoutVersion)
	text(root, "tpAmb", strconv.Itoa(environment))
	text(root, "cUF", fmt.Sprintf("%02d", regionCode))
	text(root, "xServ", "STATUS")
	return out.WriteToBytes()
}

func portalDocument(tag, version string) (*etree.Document, *etree.Element) {
	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := out.CreateElement(tag)
	root.CreateAttr("xmlns", pkgnfe.PortalNamespace)
	root.CreateAttr("versao", version)
	return out, root
}
