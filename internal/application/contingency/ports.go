package contingency

import (
	"context"
	"time"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
)

// State contingencia activa de un emisor.
type State struct {
	IssuerID string    `json:"issuer_id"`
	Reason   string    `json:"reason"`
	Manual   bool      `json:"manual"`
	Since    time.Time `json:"since"`
}

// StateStore contador de fallos consecutivos y bandera de contingencia por emisor.
// Con Redis varias instancias de la API comparten el mismo estado.
type StateStore interface {
	// RecordFailure incrementa el contador y devuelve el valor resultante.
	RecordFailure(ctx context.Context, issuerID string) (int, error)
	ResetFailures(ctx context.Context, issuerID string) error
	Failures(ctx context.Context, issuerID string) (int, error)

	// Activate guarda el estado solo si el emisor no estaba en contingencia; devuelve false si ya lo estaba.
	Activate(ctx context.Context, st State) (bool, error)
	Deactivate(ctx context.Context, issuerID string) error
	// Get estado activo del emisor; (nil, nil) si opera en modo normal.
	Get(ctx context.Context, issuerID string) (*State, error)
}

// Observer métricas de contingencia.
type Observer interface {
	ContingencyActivated(issuerID string, manual bool)
	ContingencyDeactivated(issuerID string)
	ReconciliationFinished(result string)
}

// DocumentResolver operaciones del ciclo de vida que usa el conciliador.
type DocumentResolver interface {
	// Probe consulta NfeStatusServico del autorizador del emisor.
	Probe(ctx context.Context, issuerID string) (nfe.AuthorityOutcome, error)
	// Resolve consulta por clave un documento TRANSMITTING o AUTHORITY_TIMEOUT.
	Resolve(ctx context.Context, documentID string) (*entity.FiscalDocument, error)
	// Reconcile lleva un documento CONTINGENCY_EMITTED a su estado final frente a la SEFAZ.
	Reconcile(ctx context.Context, documentID string) (*entity.FiscalDocument, error)
	// Park pasa un documento AUTHORITY_TIMEOUT a CONTINGENCY_EMITTED.
	Park(ctx context.Context, documentID string) error
}
