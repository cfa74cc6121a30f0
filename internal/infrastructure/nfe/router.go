package nfe

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	fiscal "github.com/jhoicas/nfe-api/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// Autorizadores virtuales y de contingencia.
const (
	AuthoritySVRS  = "SVRS"
	AuthoritySVAN  = "SVAN"
	AuthoritySVCAN = "SVC-AN"
	AuthoritySVCRS = "SVC-RS"
)

// defaultAuthorizers UF -> autorizador.
var defaultAuthorizers = map[string]string{
	"AC": AuthoritySVRS, "AL": AuthoritySVRS, "AM": "AM", "AP": AuthoritySVRS, "BA": "BA",
	"CE": "CE", "DF": AuthoritySVRS, "ES": AuthoritySVRS, "GO": "GO", "MA": AuthoritySVAN,
	"MG": "MG", "MS": "MS", "MT": "MT", "PA": AuthoritySVAN, "PB": AuthoritySVRS,
	"PE": "PE", "PI": AuthoritySVAN, "PR": "PR", "RJ": AuthoritySVRS, "RN": AuthoritySVRS,
	"RO": AuthoritySVRS, "RR": AuthoritySVRS, "RS": "RS", "SC": AuthoritySVRS, "SE": AuthoritySVRS,
	"SP": "SP", "TO": AuthoritySVRS,
}

// svcRSRegions UF atendidas por SVC-RS; el resto usa SVC-AN.
var svcRSRegions = map[string]bool{
	"AM": true, "BA": true, "CE": true, "GO": true, "MA": true, "MS": true,
	"MT": true, "PA": true, "PE": true, "PI": true, "PR": true,
}

type endpointTable map[string]map[fiscal.Service]string // autorizador -> servicio -> URL

func svrsLike(host string) map[fiscal.Service]string {
	return map[fiscal.Service]string{
		fiscal.ServiceAuthorize:       host + "/ws/NfeAutorizacao/NFeAutorizacao4.asmx",
		fiscal.ServiceReturnAuthorize: host + "/ws/NfeRetAutorizacao/NFeRetAutorizacao4.asmx",
		fiscal.ServiceQuery:           host + "/ws/NfeConsulta/NfeConsulta4.asmx",
		fiscal.ServiceStatus:          host + "/ws/NfeStatusServico/NfeStatusServico4.asmx",
		fiscal.ServiceInvalidate:      host + "/ws/nfeinutilizacao/nfeinutilizacao4.asmx",
		fiscal.ServiceEvents:          host + "/ws/recepcaoevento/recepcaoevento4.asmx",
	}
}

func spLike(host string) map[fiscal.Service]string {
	return map[fiscal.Service]string{
		fiscal.ServiceAuthorize:       host + "/ws/nfeautorizacao4.asmx",
		fiscal.ServiceReturnAuthorize: host + "/ws/nferetautorizacao4.asmx",
		fiscal.ServiceQuery:           host + "/ws/nfeconsultaprotocolo4.asmx",
		fiscal.ServiceStatus:          host + "/ws/nfestatusservico4.asmx",
		fiscal.ServiceInvalidate:      host + "/ws/nfeinutilizacao4.asmx",
		fiscal.ServiceEvents:          host + "/ws/nferecepcaoevento4.asmx",
	}
}

func mgLike(host string) map[fiscal.Service]string {
	return map[fiscal.Service]string{
		fiscal.ServiceAuthorize:       host + "/nfe2/services/NFeAutorizacao4",
		fiscal.ServiceReturnAuthorize: host + "/nfe2/services/NFeRetAutorizacao4",
		fiscal.ServiceQuery:           host + "/nfe2/services/NFeConsultaProtocolo4",
		fiscal.ServiceStatus:          host + "/nfe2/services/NFeStatusServico4",
		fiscal.ServiceInvalidate:      host + "/nfe2/services/NFeInutilizacao4",
		fiscal.ServiceEvents:          host + "/nfe2/services/NFeRecepcaoEvento4",
	}
}

// virtualLike endpoints del Ambiente Nacional (SVAN, SVC-AN). SVC no publica inutilización.
func virtualLike(host string, withInvalidation bool) map[fiscal.Service]string {
	m := map[fiscal.Service]string{
		fiscal.ServiceAuthorize:       host + "/NFeAutorizacao4/NFeAutorizacao4.asmx",
		fiscal.ServiceReturnAuthorize: host + "/NFeRetAutorizacao4/NFeRetAutorizacao4.asmx",
		fiscal.ServiceQuery:           host + "/NFeConsultaProtocolo4/NFeConsultaProtocolo4.asmx",
		fiscal.ServiceStatus:          host + "/NFeStatusServico4/NFeStatusServico4.asmx",
		fiscal.ServiceEvents:          host + "/NFeRecepcaoEvento4/NFeRecepcaoEvento4.asmx",
	}
	if withInvalidation {
		m[fiscal.ServiceInvalidate] = host + "/NFeInutilizacao4/NFeInutilizacao4.asmx"
	}
	return m
}

// defaultEndpoints tablas incorporadas. Los autorizadores propios que no figuran aquí se
// configuran con el archivo NFE_ENDPOINTS_FILE.
func defaultEndpoints() map[int]endpointTable {
	svrsStaging := svrsLike("https://nfe-homologacao.svrs.rs.gov.br")
	svrsStaging[fiscal.ServiceInvalidate] = "https://nfe-homologacao.svrs.rs.gov.br/ws/NfeInutilizacao/NfeInutilizacao4.asmx"
	svrsStaging[fiscal.ServiceEvents] = "https://nfe-homologacao.svrs.rs.gov.br/ws/RecepcaoEvento/RecepcaoEvento4.asmx"
	svrsProd := svrsLike("https://nfe.svrs.rs.gov.br")
	svrsProd[fiscal.ServiceInvalidate] = "https://nfe.svrs.rs.gov.br/ws/NfeInutilizacao/NfeInutilizacao4.asmx"
	svrsProd[fiscal.ServiceEvents] = "https://nfe.svrs.rs.gov.br/ws/RecepcaoEvento/RecepcaoEvento4.asmx"

	return map[int]endpointTable{
		pkgnfe.EnvironmentStaging: {
			"SP":           spLike("https://homologacao.nfe.fazenda.sp.gov.br"),
			"MG":           mgLike("https://hnfe.fazenda.mg.gov.br"),
			"RS":           svrsLike("https://nfe-homologacao.sefazrs.rs.gov.br"),
			AuthoritySVRS:  svrsStaging,
			AuthoritySVAN:  virtualLike("https://hom.sefazvirtual.fazenda.gov.br", true),
			AuthoritySVCAN: virtualLike("https://hom.svc.fazenda.gov.br", false),
			AuthoritySVCRS: svrsLike("https://nfe-homologacao.svrs.rs.gov.br"),
		},
		pkgnfe.EnvironmentProduction: {
			"SP":           spLike("https://nfe.fazenda.sp.gov.br"),
			"MG":           mgLike("https://nfe.fazenda.mg.gov.br"),
			"RS":           svrsLike("https://nfe.sefazrs.rs.gov.br"),
			AuthoritySVRS:  svrsProd,
			AuthoritySVAN:  virtualLike("https://www.sefazvirtual.fazenda.gov.br", true),
			AuthoritySVCAN: virtualLike("https://www.svc.fazenda.gov.br", false),
			AuthoritySVCRS: svrsLike("https://nfe.svrs.rs.gov.br"),
		},
	}
}

// Router resuelve el autorizador y sus URLs a partir de la UF del emisor.
type Router struct {
	authorizers map[string]string
	endpoints   map[int]endpointTable
}

// NewRouter crea el ruteador con las tablas incorporadas.
func NewRouter() *Router {
	auth := make(map[string]string, len(defaultAuthorizers))
	for uf, a := range defaultAuthorizers {
		auth[uf] = a
	}
	return &Router{authorizers: auth, endpoints: defaultEndpoints()}
}

// LoadRouter crea el ruteador y aplica el archivo de configuración (YAML/JSON) si path no es vacío.
//
//	authorizers:
//	  PR: PR
//	endpoints:
//	  staging:
//	    PR:
//	      autorizacao: https://...
func LoadRouter(path string) (*Router, error) {
	r := NewRouter()
	if path == "" {
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("nfe: leer tabla de endpoints %s: %w", path, err)
	}
	if err := r.apply(v); err != nil {
		return nil, err
	}
	return r, nil
}

// apply mezcla las entradas del archivo. Viper pasa las claves a minúsculas.
func (r *Router) apply(v *viper.Viper) error {
	for uf, authority := range v.GetStringMapString("authorizers") {
		uf = strings.ToUpper(uf)
		if _, ok := pkgnfe.RegionCode(uf); !ok {
			return fmt.Errorf("%w: %s", fiscal.ErrUnknownRegion, uf)
		}
		r.authorizers[uf] = strings.ToUpper(authority)
	}

	var raw map[string]map[string]map[string]string
	if err := v.UnmarshalKey("endpoints", &raw); err != nil {
		return fmt.Errorf("nfe: tabla de endpoints inválida: %w", err)
	}
	for envName, table := range raw {
		env, err := environmentFromName(envName)
		if err != nil {
			return err
		}
		if r.endpoints[env] == nil {
			r.endpoints[env] = endpointTable{}
		}
		for authority, services := range table {
			authority = strings.ToUpper(authority)
			set := r.endpoints[env][authority]
			if set == nil {
				set = map[fiscal.Service]string{}
				r.endpoints[env][authority] = set
			}
			for name, url := range services {
				svc, ok := serviceFromName(name)
				if !ok {
					return fmt.Errorf("nfe: servicio desconocido %q en %s", name, authority)
				}
				set[svc] = url
			}
		}
	}
	return nil
}

// Resolve devuelve las URLs del autorizador de la UF en el ambiente dado.
func (r *Router) Resolve(region string, environment int) (fiscal.AuthorityEndpointSet, error) {
	authority, ok := r.authorizers[strings.ToUpper(region)]
	if !ok {
		return fiscal.AuthorityEndpointSet{}, fmt.Errorf("%w: %s", fiscal.ErrUnknownRegion, region)
	}
	return r.set(authority, region, environment)
}

// ResolveContingency devuelve SVC-AN o SVC-RS según la UF.
func (r *Router) ResolveContingency(region string, environment int) (fiscal.AuthorityEndpointSet, error) {
	region = strings.ToUpper(region)
	if _, ok := pkgnfe.RegionCode(region); !ok {
		return fiscal.AuthorityEndpointSet{}, fmt.Errorf("%w: %s", fiscal.ErrUnknownRegion, region)
	}
	return r.set(ContingencyAuthority(region), region, environment)
}

// ResolveFor elige el juego normal o el de SVC según el tpEmis del documento.
func (r *Router) ResolveFor(region string, environment, emissionType int) (fiscal.AuthorityEndpointSet, error) {
	if pkgnfe.IsSVCEmission(emissionType) {
		return r.ResolveContingency(region, environment)
	}
	return r.Resolve(region, environment)
}

// AuthorityFor autorizador de la UF.
func (r *Router) AuthorityFor(region string) (string, bool) {
	a, ok := r.authorizers[strings.ToUpper(region)]
	return a, ok
}

func (r *Router) set(authority, region string, environment int) (fiscal.AuthorityEndpointSet, error) {
	urls, ok := r.endpoints[environment][authority]
	if !ok || urls[fiscal.ServiceAuthorize] == "" {
		return fiscal.AuthorityEndpointSet{}, fmt.Errorf("%w: %s (autorizador %s) sin endpoints en ambiente %d",
			fiscal.ErrUnknownRegion, region, authority, environment)
	}
	cp := make(map[fiscal.Service]string, len(urls))
	for k, v := range urls {
		cp[k] = v
	}
	return fiscal.AuthorityEndpointSet{Authority: authority, Environment: environment, URLs: cp}, nil
}

// ContingencyAuthority SVC que atiende la UF.
func ContingencyAuthority(region string) string {
	if svcRSRegions[strings.ToUpper(region)] {
		return AuthoritySVCRS
	}
	return AuthoritySVCAN
}

// SVCEmissionType tpEmis de la contingencia SVC de la UF (6 SVC-AN, 7 SVC-RS).
func SVCEmissionType(region string) int {
	if ContingencyAuthority(region) == AuthoritySVCRS {
		return pkgnfe.EmissionSVCRS
	}
	return pkgnfe.EmissionSVCAN
}

func environmentFromName(name string) (int, error) {
	switch strings.ToLower(name) {
	case "production", "producao", "1":
		return pkgnfe.EnvironmentProduction, nil
	case "staging", "homologacao", "2":
		return pkgnfe.EnvironmentStaging, nil
	}
	return 0, fmt.Errorf("nfe: ambiente desconocido %q", name)
}

func serviceFromName(name string) (fiscal.Service, bool) {
	for _, svc := range []fiscal.Service{
		fiscal.ServiceAuthorize, fiscal.ServiceReturnAuthorize, fiscal.ServiceQuery,
		fiscal.ServiceStatus, fiscal.ServiceInvalidate, fiscal.ServiceEvents,
	} {
		if strings.EqualFold(string(svc), name) {
			return svc, true
		}
	}
	return "", false
}
