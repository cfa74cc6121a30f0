package nfe

// Service web service de la SEFAZ.
type Service string

const (
	ServiceAuthorize       Service = "autorizacao"
	ServiceReturnAuthorize Service = "retAutorizacao"
	ServiceQuery           Service = "consulta"
	ServiceStatus          Service = "statusServico"
	ServiceInvalidate      Service = "inutilizacao"
	ServiceEvents          Service = "eventos"
)

// AuthorityEndpointSet URLs de un autorizador en un ambiente.
type AuthorityEndpointSet struct {
	Authority   string // SP, MG, SVRS, SVAN, SVC-AN, SVC-RS...
	Environment int
	URLs        map[Service]string
}

// URL devuelve la URL del servicio ("" si el autorizador no lo publica).
func (s AuthorityEndpointSet) URL(svc Service) string {
	return s.URLs[svc]
}

// SOAPAction acción SOAP 1.2 de cada servicio (namespace del WSDL + operación).
func (svc Service) SOAPAction() (wsdlNamespace, operation string) {
	const base = "http://www.portalfiscal.inf.br/nfe/wsdl/"
	switch svc {
	case ServiceAuthorize:
		return base + "NFeAutorizacao4", "nfeAutorizacaoLote"
	case ServiceReturnAuthorize:
		return base + "NFeRetAutorizacao4", "nfeRetAutorizacaoLote"
	case ServiceQuery:
		return base + "NFeConsultaProtocolo4", "nfeConsultaNF"
	case ServiceStatus:
		return base + "NFeStatusServico4", "nfeStatusServicoNF"
	case ServiceInvalidate:
		return base + "NFeInutilizacao4", "nfeInutilizacaoNF"
	case ServiceEvents:
		return base + "NFeRecepcaoEvento4", "nfeRecepcaoEvento"
	}
	return "", ""
}
