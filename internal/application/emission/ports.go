package emission

import (
	"context"

	"github.com/jhoicas/nfe-api/internal/application/contingency"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	infranfe "github.com/jhoicas/nfe-api/internal/infrastructure/nfe"
)

// Transmitter servicios de la SEFAZ. Los errores son fallas previas a la red; el resto llega
// en el AuthorityOutcome.
type Transmitter interface {
	Submit(ctx context.Context, t infranfe.Target, signedNFe []byte, batch string) (nfe.AuthorityOutcome, error)
	QueryStatus(ctx context.Context, t infranfe.Target, accessKey string) (nfe.AuthorityOutcome, error)
	SendEvent(ctx context.Context, t infranfe.Target, op nfe.Operation, signedEvent []byte) (nfe.AuthorityOutcome, error)
	InvalidateRange(ctx context.Context, t infranfe.Target, signedInvalidation []byte) (nfe.AuthorityOutcome, error)
	ServiceStatus(ctx context.Context, t infranfe.Target) (nfe.AuthorityOutcome, error)
}

// ContingencyPolicy decide el tipo de emisión y lleva la cuenta de fallos por emisor.
type ContingencyPolicy interface {
	EmissionTypeFor(ctx context.Context, issuerID, model, region string) (contingency.Decision, error)
	RecordOutcome(ctx context.Context, issuerID string, o nfe.AuthorityOutcome)
	TrackEmission(ctx context.Context, doc *entity.FiscalDocument) (*entity.ContingencyWindow, error)
}

// Archiver guarda el documento autorizado o cancelado.
type Archiver interface {
	Store(e infranfe.ArchiveEntry) (string, error)
}

// XMLBuilder arma el XML sin firma del documento.
type XMLBuilder interface {
	Build(ctx *infranfe.DocumentBuildContext) ([]byte, error)
}
