// Package contingency decide el tipo de emisión de cada emisor según la disponibilidad de la
// SEFAZ, registra las ventanas de contingencia y concilia los documentos emitidos fuera de línea.
package contingency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	infranfe "github.com/jhoicas/nfe-api/internal/infrastructure/nfe"
	"github.com/jhoicas/nfe-api/pkg/logger"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// Modos de contingencia del modelo 55.
const (
	ModeOffline = "offline" // FS-DA (tpEmis 5)
	ModeSVC     = "svc"     // SVC-AN / SVC-RS (tpEmis 6 / 7)
)

// maxReasonLen largo máximo de xJust en ide.
const maxReasonLen = 256

// Config umbral de fallos y modo de contingencia.
type Config struct {
	Threshold int
	Mode      string
}

// Decision tipo de emisión a usar en el próximo ensamblado.
type Decision struct {
	EmissionType int
	Reason       string
	Since        time.Time
}

// Contingency indica si la decisión sale del modo normal.
func (d Decision) Contingency() bool { return d.EmissionType != pkgnfe.EmissionNormal }

// Snapshot estado de contingencia de un emisor para consulta.
type Snapshot struct {
	IssuerID string                      `json:"issuer_id"`
	Active   bool                        `json:"active"`
	State    *State                      `json:"state,omitempty"`
	Failures int                         `json:"consecutive_failures"`
	Windows  []*entity.ContingencyWindow `json:"windows"`
}

// Manager aplica la política de contingencia por emisor.
type Manager struct {
	store    StateStore
	windows  repository.ContingencyRepository
	docs     repository.DocumentRepository
	cfg      Config
	observer Observer
	now      func() time.Time
	log      *logger.Logger

	mu sync.Mutex // serializa apertura y extensión de ventanas
}

// Option configura el Manager.
type Option func(*Manager)

// WithObserver registra el observador de métricas.
func WithObserver(o Observer) Option { return func(m *Manager) { m.observer = o } }

// WithClock reemplaza el reloj (tests).
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager construye el gestor. Threshold < 1 se toma como 3.
func NewManager(store StateStore, windows repository.ContingencyRepository, docs repository.DocumentRepository, cfg Config, log *logger.Logger, opts ...Option) *Manager {
	if cfg.Threshold < 1 {
		cfg.Threshold = 3
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeOffline
	}
	m := &Manager{
		store:   store,
		windows: windows,
		docs:    docs,
		cfg:     cfg,
		now:     time.Now,
		log:     log.Component("contingency"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordOutcome cuenta los Unreachable consecutivos del emisor; cualquier respuesta de la SEFAZ
// reinicia el contador. Al alcanzar el umbral activa la contingencia.
func (m *Manager) RecordOutcome(ctx context.Context, issuerID string, o nfe.AuthorityOutcome) {
	switch {
	case o.Kind == nfe.OutcomeUnreachable:
		n, err := m.store.RecordFailure(ctx, issuerID)
		if err != nil {
			m.log.Error().Err(err).Str("issuer_id", issuerID).Msg("no se pudo registrar el fallo")
			return
		}
		m.log.Warn().Str("issuer_id", issuerID).Int("consecutive_failures", n).Msg("SEFAZ inalcanzable")
		if n < m.cfg.Threshold {
			return
		}
		reason := fmt.Sprintf("SEFAZ inalcanzable en %d transmisiones consecutivas", n)
		if _, err := m.activate(ctx, State{IssuerID: issuerID, Reason: reason, Since: m.now()}); err != nil {
			m.log.Error().Err(err).Str("issuer_id", issuerID).Msg("no se pudo activar la contingencia")
		}
	case o.Responded():
		if err := m.store.ResetFailures(ctx, issuerID); err != nil {
			m.log.Error().Err(err).Str("issuer_id", issuerID).Msg("no se pudo reiniciar el contador")
		}
	}
}

// Activate entra en contingencia por decisión del operador. reason se publica en xJust (15..256).
func (m *Manager) Activate(ctx context.Context, issuerID, reason string) (*State, error) {
	if issuerID == "" {
		return nil, domain.ErrInvalidInput
	}
	clean, err := nfe.NormalizeJustification(reason, maxReasonLen)
	if err != nil {
		return nil, err
	}
	st := State{IssuerID: issuerID, Reason: clean, Manual: true, Since: m.now()}
	if _, err := m.activate(ctx, st); err != nil {
		return nil, err
	}
	return m.store.Get(ctx, issuerID)
}

func (m *Manager) activate(ctx context.Context, st State) (bool, error) {
	// dhCont no admite fracciones de segundo
	st.Since = st.Since.Truncate(time.Second)
	ok, err := m.store.Activate(ctx, st)
	if err != nil {
		return false, fmt.Errorf("activar contingencia: %w", err)
	}
	if ok {
		m.log.Warn().Str("issuer_id", st.IssuerID).Bool("manual", st.Manual).Str("reason", st.Reason).Msg("contingencia activada")
		if m.observer != nil {
			m.observer.ContingencyActivated(st.IssuerID, st.Manual)
		}
	}
	return ok, nil
}

// Deactivate vuelve al modo normal y cierra las ventanas abiertas del emisor.
func (m *Manager) Deactivate(ctx context.Context, issuerID string) error {
	st, err := m.store.Get(ctx, issuerID)
	if err != nil {
		return fmt.Errorf("leer contingencia: %w", err)
	}
	if err := m.store.Deactivate(ctx, issuerID); err != nil {
		return fmt.Errorf("desactivar contingencia: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	open, err := m.windows.ListWindows(ctx, issuerID, entity.ContingencyWindowOpen)
	if err != nil {
		return fmt.Errorf("listar ventanas: %w", err)
	}
	now := m.now()
	for _, w := range open {
		w.Status = entity.ContingencyWindowClosed
		w.ClosedAt = &now
		if err := m.windows.UpdateWindow(ctx, w); err != nil {
			return fmt.Errorf("cerrar ventana %s: %w", w.ID, err)
		}
	}
	if st != nil {
		m.log.Info().Str("issuer_id", issuerID).Int("windows_closed", len(open)).Msg("contingencia desactivada")
		if m.observer != nil {
			m.observer.ContingencyDeactivated(issuerID)
		}
	}
	return nil
}

// Active estado de contingencia del emisor; nil en modo normal.
func (m *Manager) Active(ctx context.Context, issuerID string) (*State, error) {
	return m.store.Get(ctx, issuerID)
}

// Status contador, estado y ventanas del emisor.
func (m *Manager) Status(ctx context.Context, issuerID string) (*Snapshot, error) {
	st, err := m.store.Get(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	n, err := m.store.Failures(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	ws, err := m.windows.ListWindows(ctx, issuerID, "")
	if err != nil {
		return nil, err
	}
	if ws == nil {
		ws = []*entity.ContingencyWindow{}
	}
	return &Snapshot{IssuerID: issuerID, Active: st != nil, State: st, Failures: n, Windows: ws}, nil
}

// EmissionTypeFor tpEmis del próximo documento del emisor. La NFC-e solo admite la contingencia
// offline (9); la NF-e usa FS-DA (5) o la SVC de la UF según el modo configurado.
func (m *Manager) EmissionTypeFor(ctx context.Context, issuerID, model, region string) (Decision, error) {
	st, err := m.store.Get(ctx, issuerID)
	if err != nil {
		return Decision{}, fmt.Errorf("leer contingencia: %w", err)
	}
	if st == nil {
		return Decision{EmissionType: pkgnfe.EmissionNormal}, nil
	}
	d := Decision{Reason: st.Reason, Since: st.Since}
	switch {
	case model == pkgnfe.ModelNFCe:
		d.EmissionType = pkgnfe.EmissionOfflineNFCe
	case m.cfg.Mode == ModeSVC:
		d.EmissionType = infranfe.SVCEmissionType(region)
	default:
		d.EmissionType = pkgnfe.EmissionFSDA
	}
	return d, nil
}

// TrackEmission abre o extiende la ventana de la serie con el número del documento emitido en
// contingencia, fuera de línea o por la SVC. En emisión normal no hace nada.
func (m *Manager) TrackEmission(ctx context.Context, doc *entity.FiscalDocument) (*entity.ContingencyWindow, error) {
	if doc.EmissionType == pkgnfe.EmissionNormal {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := m.windows.GetOpenWindow(ctx, doc.IssuerID, doc.Series)
	if err != nil {
		return nil, fmt.Errorf("leer ventana: %w", err)
	}
	if w == nil {
		w = &entity.ContingencyWindow{
			IssuerID:     doc.IssuerID,
			Model:        doc.Model,
			Series:       doc.Series,
			EmissionType: doc.EmissionType,
			Reason:       doc.ContingencyReason,
			FirstNumber:  doc.Number,
			LastNumber:   doc.Number,
			Status:       entity.ContingencyWindowOpen,
			OpenedAt:     m.now(),
		}
		err := m.windows.RecordContingencyWindow(ctx, w)
		if err == nil {
			m.log.Info().Str("issuer_id", doc.IssuerID).Int("series", doc.Series).Int64("first_number", doc.Number).Msg("ventana de contingencia abierta")
			return w, nil
		}
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, fmt.Errorf("abrir ventana: %w", err)
		}
		// otra instancia abrió la ventana primero
		if w, err = m.windows.GetOpenWindow(ctx, doc.IssuerID, doc.Series); err != nil || w == nil {
			return nil, fmt.Errorf("releer ventana: %w", err)
		}
	}
	if w.Covers(doc.Number) {
		return w, nil
	}
	if doc.Number < w.FirstNumber {
		w.FirstNumber = doc.Number
	}
	if doc.Number > w.LastNumber {
		w.LastNumber = doc.Number
	}
	if err := m.windows.UpdateWindow(ctx, w); err != nil {
		return nil, fmt.Errorf("extender ventana: %w", err)
	}
	return w, nil
}

// SettleWindows marca RECONCILED las ventanas cerradas sin documentos pendientes de conciliar.
func (m *Manager) SettleWindows(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	closed, err := m.windows.ListWindows(ctx, "", entity.ContingencyWindowClosed)
	if err != nil {
		return 0, fmt.Errorf("listar ventanas cerradas: %w", err)
	}
	settled := 0
	for _, w := range closed {
		docs, err := m.docs.FindInRange(ctx, w.IssuerID, w.Model, w.Series, w.FirstNumber, w.LastNumber)
		if err != nil {
			return settled, fmt.Errorf("documentos de la ventana %s: %w", w.ID, err)
		}
		if hasPending(docs) {
			continue
		}
		now := m.now()
		w.Status = entity.ContingencyWindowReconciled
		w.ReconciledAt = &now
		if err := m.windows.UpdateWindow(ctx, w); err != nil {
			return settled, fmt.Errorf("conciliar ventana %s: %w", w.ID, err)
		}
		settled++
		m.log.Info().Str("issuer_id", w.IssuerID).Int("series", w.Series).
			Int64("first_number", w.FirstNumber).Int64("last_number", w.LastNumber).Msg("ventana conciliada")
	}
	return settled, nil
}

func hasPending(docs []*entity.FiscalDocument) bool {
	for _, d := range docs {
		switch d.Status {
		case entity.DocumentStatusContingencyEmitted, entity.DocumentStatusReconciling:
			return true
		}
	}
	return false
}
