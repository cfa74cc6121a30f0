package contingency

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

// Resultados de conciliación (etiqueta de métricas).
const (
	ResultAuthorized = "authorized"
	ResultRejected   = "rejected"
	ResultDenied     = "denied"
	ResultPending    = "pending"
	ResultConflict   = "conflict"
	ResultError      = "error"
)

// ReconcilerConfig frecuencia y paralelismo del conciliador.
type ReconcilerConfig struct {
	Interval    time.Duration
	Concurrency int
	Batch       int
	// StaleAfter antigüedad a partir de la cual un TRANSMITTING se considera abandonado.
	StaleAfter time.Duration
}

// Report resumen de una pasada.
type Report struct {
	Issuers     int
	Unreachable int
	Parked      int
	Results     map[string]int
	Settled     int
}

// Reconciler recorre periódicamente los documentos sin resultado definitivo: sondea el
// autorizador de cada emisor, desactiva la contingencia automática cuando vuelve a responder
// y lleva cada documento a su estado final.
type Reconciler struct {
	manager  *Manager
	resolver DocumentResolver
	docs     repository.DocumentRepository
	issuers  repository.IssuerRepository
	cfg      ReconcilerConfig
	observer Observer
	now      func() time.Time
	log      *logger.Logger
}

// NewReconciler construye el conciliador.
func NewReconciler(manager *Manager, resolver DocumentResolver, docs repository.DocumentRepository, issuers repository.IssuerRepository, cfg ReconcilerConfig, log *logger.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.Batch < 1 {
		cfg.Batch = 50
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	return &Reconciler{
		manager:  manager,
		resolver: resolver,
		docs:     docs,
		issuers:  issuers,
		cfg:      cfg,
		observer: manager.observer,
		now:      manager.now,
		log:      log.Component("reconciler"),
	}
}

// Run ejecuta RunOnce en cada tick hasta que ctx termine.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.log.Info().Dur("interval", r.cfg.Interval).Int("concurrency", r.cfg.Concurrency).Msg("conciliador iniciado")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("conciliador detenido")
			return
		case <-ticker.C:
			rep, err := r.RunOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Error().Err(err).Msg("pasada de conciliación fallida")
				}
				continue
			}
			if len(rep.Results) > 0 || rep.Settled > 0 || rep.Parked > 0 {
				r.log.Info().Int("issuers", rep.Issuers).Int("unreachable", rep.Unreachable).
					Int("parked", rep.Parked).Int("settled", rep.Settled).
					Interface("results", rep.Results).Msg("pasada de conciliación")
			}
		}
	}
}

// RunOnce una pasada completa: sondeo por emisor, resolución de documentos y cierre de ventanas.
func (r *Reconciler) RunOnce(ctx context.Context) (*Report, error) {
	pending, err := r.docs.ListByStatus(ctx, []string{
		entity.DocumentStatusTransmitting,
		entity.DocumentStatusAuthorityTimeout,
		entity.DocumentStatusContingencyEmitted,
		entity.DocumentStatusReconciling,
	}, r.cfg.Batch)
	if err != nil {
		return nil, err
	}
	byIssuer := make(map[string][]*entity.FiscalDocument)
	cutoff := r.now().Add(-r.cfg.StaleAfter)
	for _, d := range pending {
		// TRANSMITTING y RECONCILING recientes pueden tener una llamada en curso
		if (d.Status == entity.DocumentStatusTransmitting || d.Status == entity.DocumentStatusReconciling) && d.UpdatedAt.After(cutoff) {
			continue
		}
		byIssuer[d.IssuerID] = append(byIssuer[d.IssuerID], d)
	}

	issuers, err := r.issuers.List(ctx)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, is := range issuers {
		st, err := r.manager.Active(ctx, is.ID)
		if err != nil {
			return nil, err
		}
		if st != nil || len(byIssuer[is.ID]) > 0 {
			targets = append(targets, is.ID)
		}
	}

	rep := &Report{Issuers: len(targets), Results: make(map[string]int)}
	var mu sync.Mutex
	record := func(fn func(*Report)) {
		mu.Lock()
		fn(rep)
		mu.Unlock()
	}

	// 1) sondeo de autorizadores
	reachable := make(map[string]bool, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, id := range targets {
		id := id
		g.Go(func() error {
			ok := r.probe(gctx, id, byIssuer[id], record)
			record(func(*Report) { reachable[id] = ok })
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	// 2) resolución de documentos de los emisores alcanzables
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for id, docs := range byIssuer {
		if !reachable[id] {
			continue
		}
		for _, d := range docs {
			d := d
			g.Go(func() error {
				result := r.settle(gctx, d)
				record(func(rep *Report) { rep.Results[result]++ })
				if r.observer != nil {
					r.observer.ReconciliationFinished(result)
				}
				return gctx.Err()
			})
		}
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	n, err := r.manager.SettleWindows(ctx)
	rep.Settled = n
	return rep, err
}

// probe devuelve true si el autorizador del emisor respondió. Si no respondió y el emisor está en
// contingencia, estaciona sus documentos AUTHORITY_TIMEOUT.
func (r *Reconciler) probe(ctx context.Context, issuerID string, docs []*entity.FiscalDocument, record func(func(*Report))) bool {
	log := r.log.With().Str("issuer_id", issuerID).Logger()
	out, err := r.resolver.Probe(ctx, issuerID)
	if err != nil {
		log.Warn().Err(err).Msg("no se pudo sondear el autorizador")
		record(func(rep *Report) { rep.Unreachable++ })
		return false
	}
	r.manager.RecordOutcome(ctx, issuerID, out)

	st, err := r.manager.Active(ctx, issuerID)
	if err != nil {
		log.Error().Err(err).Msg("leer contingencia")
		return false
	}
	if out.Kind != nfe.OutcomeServiceAvailable {
		record(func(rep *Report) { rep.Unreachable++ })
		if st == nil {
			return false
		}
		for _, d := range docs {
			if d.Status != entity.DocumentStatusAuthorityTimeout {
				continue
			}
			if err := r.resolver.Park(ctx, d.ID); err != nil {
				log.Warn().Err(err).Str("document_id", d.ID).Msg("no se pudo estacionar el documento")
				continue
			}
			record(func(rep *Report) { rep.Parked++ })
		}
		return false
	}
	if st != nil && !st.Manual {
		if err := r.manager.Deactivate(ctx, issuerID); err != nil {
			log.Error().Err(err).Msg("desactivar contingencia")
		}
	}
	return true
}

func (r *Reconciler) settle(ctx context.Context, d *entity.FiscalDocument) string {
	var (
		doc *entity.FiscalDocument
		err error
	)
	switch d.Status {
	case entity.DocumentStatusContingencyEmitted, entity.DocumentStatusReconciling:
		doc, err = r.resolver.Reconcile(ctx, d.ID)
	default:
		doc, err = r.resolver.Resolve(ctx, d.ID)
	}
	if err != nil {
		switch {
		case errors.Is(err, nfe.ErrReconciliationConflict):
			return ResultConflict
		case errors.Is(err, nfe.ErrDenied):
			return ResultDenied
		case errors.Is(err, nfe.ErrDefinitiveRejection):
			return ResultRejected
		}
		r.log.Warn().Err(err).Str("document_id", d.ID).Str("status", d.Status).Msg("documento sin conciliar")
		return ResultError
	}
	switch doc.Status {
	case entity.DocumentStatusAuthorized:
		return ResultAuthorized
	case entity.DocumentStatusRejected:
		return ResultRejected
	case entity.DocumentStatusDenied:
		return ResultDenied
	}
	return ResultPending
}
