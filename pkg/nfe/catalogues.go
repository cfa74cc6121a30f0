// Package nfe contiene catálogos y validaciones alineados al Manual de Orientação do
// Contribuinte (MOC) de la NF-e / NFC-e, layout 4.00 (Brasil).
package nfe

import "sort"

// LayoutVersion versión del layout usada en documentos y eventos.
const LayoutVersion = "4.00"

// PortalNamespace namespace del portal fiscal (xmlns de NFe, enviNFe, evento, inutNFe).
const PortalNamespace = "http://www.portalfiscal.inf.br/nfe"

// =============================================================================
// Modelos de documento (campo mod)
// =============================================================================

const (
	ModelNFe  = "55" // NF-e completa
	ModelNFCe = "65" // NFC-e simplificada (consumidor final)
)

// ValidModels modelos aceptados.
var ValidModels = map[string]bool{ModelNFe: true, ModelNFCe: true}

// =============================================================================
// Tipo de emisión (campo tpEmis, 1 dígito de la clave de acceso)
// =============================================================================

const (
	EmissionNormal      = 1 // Emisión normal
	EmissionFSIA        = 2 // Contingencia FS-IA
	EmissionSCAN        = 3 // Contingencia SCAN (desactivada, solo lectura)
	EmissionDPEC        = 4 // Contingencia EPEC
	EmissionFSDA        = 5 // Contingencia FS-DA
	EmissionSVCAN       = 6 // Contingencia SVC-AN
	EmissionSVCRS       = 7 // Contingencia SVC-RS
	EmissionOfflineNFCe = 9 // Contingencia offline de la NFC-e
)

// ValidEmissionTypes tipos de emisión aceptados en la clave de acceso.
var ValidEmissionTypes = map[int]bool{
	EmissionNormal: true, EmissionFSIA: true, EmissionSCAN: true, EmissionDPEC: true,
	EmissionFSDA: true, EmissionSVCAN: true, EmissionSVCRS: true, EmissionOfflineNFCe: true,
}

// IsOfflineEmission tipos en los que el documento circula antes de ser autorizado.
func IsOfflineEmission(tpEmis int) bool {
	switch tpEmis {
	case EmissionFSIA, EmissionDPEC, EmissionFSDA, EmissionOfflineNFCe:
		return true
	}
	return false
}

// IsSVCEmission tipos transmitidos a los autorizadores de contingencia SVC.
func IsSVCEmission(tpEmis int) bool {
	return tpEmis == EmissionSVCAN || tpEmis == EmissionSVCRS
}

// =============================================================================
// Ambiente (campo tpAmb)
// =============================================================================

const (
	EnvironmentProduction = 1 // Producción
	EnvironmentStaging    = 2 // Homologación (pruebas)
)

// =============================================================================
// Finalidad (campo finNFe)
// =============================================================================

const (
	FinalityNormal        = 1
	FinalityComplementary = 2
	FinalityAdjustment    = 3
	FinalityReturn        = 4
)

// ValidFinalities finalidades aceptadas.
var ValidFinalities = map[int]bool{
	FinalityNormal: true, FinalityComplementary: true, FinalityAdjustment: true, FinalityReturn: true,
}

// RequiresReference finalidades que exigen NF-e referenciada (NFref/refNFe).
func RequiresReference(finality int) bool {
	return finality == FinalityComplementary || finality == FinalityReturn
}

// =============================================================================
// Indicador de presencia del comprador (campo indPres)
// =============================================================================

const (
	PresenceNotApplicable = 0
	PresenceInPerson      = 1
	PresenceInternet      = 2
	PresenceTelephone     = 3
	PresenceHomeDelivery  = 4
	PresenceOther         = 9
)

// ValidPresenceIndicators indicadores aceptados.
var ValidPresenceIndicators = map[int]bool{
	PresenceNotApplicable: true, PresenceInPerson: true, PresenceInternet: true,
	PresenceTelephone: true, PresenceHomeDelivery: true, PresenceOther: true,
}

// =============================================================================
// Tipo de operación (campo tpNF)
// =============================================================================

const (
	OperationInbound  = 0 // Entrada
	OperationOutbound = 1 // Salida
)

// =============================================================================
// Eventos (campo tpEvento)
// =============================================================================

const (
	EventCancellation     = "110111" // Cancelación
	EventCorrectionLetter = "110110" // Carta de corrección electrónica (CC-e)
)

// CorrectionLetterConditions texto obligatorio xCondUso de la CC-e.
const CorrectionLetterConditions = "A Carta de Correcao e disciplinada pelo paragrafo 1o-A do art. 7o do Convenio S/N, de 15 de dezembro de 1970 e pode ser utilizada para regularizacao de erro ocorrido na emissao de documento fiscal, desde que o erro nao esteja relacionado com: I - as variaveis que determinam o valor do imposto tais como: base de calculo, aliquota, diferenca de preco, quantidade, valor da operacao ou da prestacao; II - a correcao de dados cadastrais que implique mudanca do remetente ou do destinatario; III - a data de emissao ou de saida."

// MaxCorrectionLetters límite de CC-e por documento (nSeqEvento 1..20).
const MaxCorrectionLetters = 20

// =============================================================================
// Códigos de estado de la SEFAZ (campo cStat)
// =============================================================================

const (
	StatusAuthorized            = 100 // Autorizado o uso da NF-e
	StatusCancellationApproved  = 101 // Cancelamento homologado
	StatusRangeInvalidated      = 102 // Inutilização de número homologada
	StatusBatchReceived         = 103 // Lote recebido com sucesso
	StatusBatchProcessed        = 104 // Lote processado
	StatusBatchProcessing       = 105 // Lote em processamento
	StatusBatchNotFound         = 106 // Lote não localizado
	StatusServiceRunning        = 107 // Serviço em operação
	StatusServiceStopped        = 108 // Serviço paralisado momentaneamente
	StatusServiceStoppedNoForec = 109 // Serviço paralisado sem previsão
	StatusDenied                = 110 // Uso denegado
	StatusEventRegistered       = 135 // Evento registrado e vinculado
	StatusEventRegisteredNoLink = 136 // Evento registrado, não vinculado
	StatusAuthorizedLate        = 150 // Autorizado fora de prazo
	StatusCancelledLate         = 155 // Cancelamento homologado fora de prazo
	StatusIssuerIrregular       = 205 // NF-e denegada na base da SEFAZ
	StatusDuplicate             = 204 // Duplicidade de NF-e
	StatusNotFound              = 217 // NF-e não consta na base
	StatusDenialIssuer          = 301 // Uso denegado: irregularidade do emitente
	StatusDenialRecipient       = 302 // Uso denegado: irregularidade do destinatário
	StatusDenialRecipientNotReg = 303 // Uso denegado: destinatário não habilitado
	StatusDuplicateKeyDiff      = 539 // Duplicidade com diferença na chave
	StatusDuplicateInvalidation = 563 // Já existe inutilização para a faixa
	StatusDuplicateEvent        = 573 // Duplicidade de evento
	StatusInternalError         = 999 // Erro não catalogado
)

// IsAuthorizationCode cStat que autorizan el uso del documento.
func IsAuthorizationCode(c int) bool { return c == StatusAuthorized || c == StatusAuthorizedLate }

// IsDenialCode cStat de denegación (irregularidad del emisor o del destinatario).
func IsDenialCode(c int) bool {
	switch c {
	case StatusDenied, StatusIssuerIrregular, StatusDenialIssuer, StatusDenialRecipient, StatusDenialRecipientNotReg:
		return true
	}
	return false
}

// IsEventRegisteredCode cStat de evento aceptado.
func IsEventRegisteredCode(c int) bool {
	return c == StatusEventRegistered || c == StatusEventRegisteredNoLink || c == StatusCancelledLate || c == StatusCancellationApproved
}

// IsDuplicateCode cStat de duplicidad: la SEFAZ ya conoce esta misma clave. El 539 (mismo
// número con otra clave) es un rechazo: la clave enviada no existe en la SEFAZ.
func IsDuplicateCode(c int) bool { return c == StatusDuplicate }

// IsTransientCode cStat de indisponibilidad momentánea del lado de la SEFAZ.
func IsTransientCode(c int) bool {
	switch c {
	case StatusServiceStopped, StatusServiceStoppedNoForec, StatusInternalError:
		return true
	}
	return false
}

// =============================================================================
// Unidades federativas: sigla -> código IBGE (cUF)
// =============================================================================

var regionCodes = map[string]int{
	"RO": 11, "AC": 12, "AM": 13, "RR": 14, "PA": 15, "AP": 16, "TO": 17,
	"MA": 21, "PI": 22, "CE": 23, "RN": 24, "PB": 25, "PE": 26, "AL": 27, "SE": 28, "BA": 29,
	"MG": 31, "ES": 32, "RJ": 33, "SP": 35,
	"PR": 41, "SC": 42, "RS": 43,
	"MS": 50, "MT": 51, "GO": 52, "DF": 53,
}

// RegionCode devuelve el cUF de la sigla (ok=false si no existe).
func RegionCode(uf string) (int, bool) {
	c, ok := regionCodes[uf]
	return c, ok
}

// RegionForCode devuelve la sigla del cUF.
func RegionForCode(code int) (string, bool) {
	for uf, c := range regionCodes {
		if c == code {
			return uf, true
		}
	}
	return "", false
}

// Regions lista ordenada de siglas conocidas.
func Regions() []string {
	out := make([]string, 0, len(regionCodes))
	for uf := range regionCodes {
		out = append(out, uf)
	}
	sort.Strings(out)
	return out
}
