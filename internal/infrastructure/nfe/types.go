// Package nfe implementa la integración con la SEFAZ: XML del layout 4.00, eventos,
// ruteo de autorizadores, cliente SOAP 1.2 y archivo de documentos autorizados.
package nfe

import (
	"time"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
)

// HomologationBuyerName xNome obligatorio del destinatario en homologación.
const HomologationBuyerName = "NF-E EMITIDA EM AMBIENTE DE HOMOLOGACAO - SEM VALOR FISCAL"

// ProcessVersion verProc informado en ide.
const ProcessVersion = "nfe-api 1.0"

// DocumentBuildContext datos necesarios para construir el XML de una NF-e/NFC-e.
type DocumentBuildContext struct {
	Document *entity.FiscalDocument
	Issuer   *entity.Issuer
	Location *time.Location // zona para dhEmi; America/Sao_Paulo por defecto
}

// EventRequest evento vinculado a una NF-e autorizada (cancelación, CC-e).
type EventRequest struct {
	Type        string // pkg/nfe.EventCancellation | EventCorrectionLetter
	RegionCode  int    // cOrgao
	Environment int
	IssuerCNPJ  string
	AccessKey   string
	Sequence    int // nSeqEvento
	OccurredAt  time.Time
	Protocol    string // nProt (cancelación)
	Text        string // xJust o xCorrecao ya normalizado
	BatchID     string // idLote
}

// InvalidationRequest pedido de inutilización de una faja de números.
type InvalidationRequest struct {
	RegionCode    int
	Environment   int
	Year          int // AA
	IssuerCNPJ    string
	Model         string
	Series        int
	FirstNumber   int64
	LastNumber    int64
	Justification string
}
