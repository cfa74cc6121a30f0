// Package emission orquesta el ciclo de vida de los documentos fiscales: ensamblado,
// firma, transmisión, resolución de resultados inciertos y eventos posteriores
// (cancelación, carta de corrección e inutilización).
package emission

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/domain/repository"
	infranfe "github.com/jhoicas/nfe-api/internal/infrastructure/nfe"
	"github.com/jhoicas/nfe-api/pkg/logger"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

// Repositories puertos de persistencia del servicio.
type Repositories struct {
	Documents     repository.DocumentRepository
	Sequences     repository.SequenceRepository
	Events        repository.EventRepository
	Issuers       repository.IssuerRepository
	Invalidations repository.InvalidationRepository
}

// Config parámetros de emisión.
type Config struct {
	Environment  int           // tpAmb
	CancelWindow time.Duration // plazo de cancelación desde la autorización
	Location     *time.Location
}

// Option configura el servicio.
type Option func(*Service)

// WithArchive guarda los documentos autorizados y cancelados.
func WithArchive(a Archiver) Option { return func(s *Service) { s.archive = a } }

// WithClock reemplaza el reloj (tests).
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRandom reemplaza la fuente del cNF (tests).
func WithRandom(r func() uint32) Option { return func(s *Service) { s.random = r } }

// Service ciclo de vida NF-e / NFC-e.
type Service struct {
	repos       Repositories
	creds       infranfe.CredentialSource
	builder     XMLBuilder
	signer      pkgnfe.Signer
	transmitter Transmitter
	contingency ContingencyPolicy
	archive     Archiver
	cfg         Config
	locks       *keyedMutex
	now         func() time.Time
	random      func() uint32
	log         *logger.Logger
}

// NewService construye el servicio de emisión.
func NewService(
	repos Repositories,
	creds infranfe.CredentialSource,
	builder XMLBuilder,
	signer pkgnfe.Signer,
	transmitter Transmitter,
	policy ContingencyPolicy,
	cfg Config,
	log *logger.Logger,
	opts ...Option,
) *Service {
	if cfg.Environment == 0 {
		cfg.Environment = pkgnfe.EnvironmentStaging
	}
	if cfg.CancelWindow <= 0 {
		cfg.CancelWindow = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = defaultLocation()
	}
	s := &Service{
		repos:       repos,
		creds:       creds,
		builder:     builder,
		signer:      signer,
		transmitter: transmitter,
		contingency: policy,
		cfg:         cfg,
		locks:       newKeyedMutex(),
		now:         time.Now,
		random:      rand.Uint32,
		log:         log.Component("emission"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func defaultLocation() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// Get devuelve el documento si pertenece al emisor. issuerID vacío omite el control (uso interno).
func (s *Service) Get(ctx context.Context, issuerID, id string) (*entity.FiscalDocument, error) {
	doc, err := s.repos.Documents.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil || (issuerID != "" && doc.IssuerID != issuerID) {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

// GetByAccessKey busca el documento por clave de acceso dentro del emisor.
func (s *Service) GetByAccessKey(ctx context.Context, issuerID, accessKey string) (*entity.FiscalDocument, error) {
	if err := pkgnfe.ValidateAccessKey(accessKey); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	doc, err := s.repos.Documents.GetByAccessKey(ctx, accessKey)
	if err != nil {
		return nil, err
	}
	if doc == nil || (issuerID != "" && doc.IssuerID != issuerID) {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

// Events historial del documento, en orden de registro.
func (s *Service) Events(ctx context.Context, issuerID, id string) ([]*entity.DocumentEvent, error) {
	if _, err := s.Get(ctx, issuerID, id); err != nil {
		return nil, err
	}
	return s.repos.Events.ListByDocument(ctx, id)
}

// transition valida contra la tabla de estados, persiste con compare-and-set y registra el evento.
// Si ev es nil se registra un STATE_CHANGE.
func (s *Service) transition(ctx context.Context, doc *entity.FiscalDocument, to string, upd repository.StateUpdate, ev *entity.DocumentEvent) error {
	if err := nfe.CheckTransition(doc.Status, to); err != nil {
		return err
	}
	upd.Status = to
	// una transición ya decidida se persiste aunque el request se cancele
	if err := s.repos.Documents.SaveState(context.WithoutCancel(ctx), doc.ID, doc.Status, upd); err != nil {
		return err
	}
	from := doc.Status
	applyUpdate(doc, upd)
	doc.Version++
	doc.UpdatedAt = s.now()

	if ev == nil {
		ev = &entity.DocumentEvent{Type: entity.EventTypeStateChange}
	}
	ev.FromStatus, ev.ToStatus = from, to
	if ev.Code == 0 && ev.Message == "" {
		ev.Code, ev.Message = upd.AuthorityCode, upd.AuthorityMessage
	}
	s.appendEvent(ctx, doc, ev)

	s.log.Info().
		Str("document_id", doc.ID).
		Str("access_key", doc.AccessKey).
		Str("from", from).
		Str("to", to).
		Msg("cambio de estado")
	return nil
}

func applyUpdate(d *entity.FiscalDocument, upd repository.StateUpdate) {
	d.Status = upd.Status
	if upd.Protocol != "" {
		d.Protocol = upd.Protocol
	}
	if upd.Receipt != "" {
		d.Receipt = upd.Receipt
	}
	if upd.AuthorityCode != 0 {
		d.AuthorityCode, d.AuthorityMessage = upd.AuthorityCode, upd.AuthorityMessage
	}
	if upd.SignedXML != "" {
		d.SignedXML = upd.SignedXML
	}
	if upd.AuthorityXML != "" {
		d.AuthorityXML = upd.AuthorityXML
	}
	if upd.AuthorizedAt != nil {
		d.AuthorizedAt = upd.AuthorizedAt
	}
	if upd.CancelledAt != nil {
		d.CancelledAt = upd.CancelledAt
	}
}

// appendEvent el historial no debe perderse por la cancelación del request.
func (s *Service) appendEvent(ctx context.Context, doc *entity.FiscalDocument, ev *entity.DocumentEvent) {
	ev.DocumentID = doc.ID
	ev.AccessKey = doc.AccessKey
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	if err := s.repos.Events.Append(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Error().Err(err).Str("document_id", doc.ID).Str("event", ev.Type).Msg("no se pudo registrar el evento")
	}
}

// reload relee el documento tras perder un compare-and-set.
func (s *Service) reload(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	doc, err := s.repos.Documents.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

// target destino de las llamadas del documento; cada intento queda en el historial.
func (s *Service) target(ctx context.Context, doc *entity.FiscalDocument) infranfe.Target {
	region, _ := regionOf(doc.AccessKey)
	return infranfe.Target{
		IssuerID:     doc.IssuerID,
		Region:       region,
		Environment:  doc.Environment,
		EmissionType: doc.EmissionType,
		OnAttempt:    s.attemptRecorder(ctx, doc),
	}
}

func (s *Service) attemptRecorder(ctx context.Context, doc *entity.FiscalDocument) func(nfe.AuthorityOutcome) {
	return func(o nfe.AuthorityOutcome) {
		typ := entity.EventTypeAuthorityResponse
		if o.Code == 0 {
			typ = entity.EventTypeTransmissionFailure
		}
		msg := o.Message
		if msg == "" && o.Cause != nil {
			msg = o.Cause.Error()
		}
		s.appendEvent(ctx, doc, &entity.DocumentEvent{
			Type:     typ,
			Sequence: o.Attempts, // número de intento
			Code:     o.Code,
			Message:  msg,
			Protocol: o.Protocol,
			Request:  o.RawRequest,
			Response: o.RawResponse,
		})
	}
}

// regionOf UF y cUF tomados de la clave de acceso.
func regionOf(accessKey string) (string, int) {
	if len(accessKey) < 2 {
		return "", 0
	}
	code, err := strconv.Atoi(accessKey[:2])
	if err != nil {
		return "", 0
	}
	region, _ := pkgnfe.RegionForCode(code)
	return region, code
}

// signWith firma el elemento con un certificado ya prestado.
func (s *Service) signWith(lease pkgnfe.KeySigner, xml []byte, tag string) ([]byte, error) {
	signed, err := s.signer.Sign(xml, tag, lease)
	if err != nil {
		if errors.Is(err, nfe.ErrSigningFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", nfe.ErrSigningFailure, err)
	}
	return signed, nil
}

// sign toma el certificado vigente del emisor solo mientras firma.
func (s *Service) sign(issuerID string, xml []byte, tag string) ([]byte, error) {
	lease, err := s.creds.Acquire(issuerID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return s.signWith(lease, xml, tag)
}

// archiveDocument guarda nfeProc y la última respuesta de la SEFAZ. Un fallo no altera el estado.
func (s *Service) archiveDocument(doc *entity.FiscalDocument, response string) {
	if s.archive == nil || doc.SignedXML == "" {
		return
	}
	proc, err := infranfe.BuildProcNFe(doc.SignedXML, doc.AuthorityXML)
	if err != nil {
		s.log.Error().Err(err).Str("access_key", doc.AccessKey).Msg("armar nfeProc")
		return
	}
	path, err := s.archive.Store(infranfe.ArchiveEntry{AccessKey: doc.AccessKey, ProcXML: proc, Response: []byte(response)})
	if err != nil {
		s.log.Error().Err(err).Str("access_key", doc.AccessKey).Msg("archivar documento")
		return
	}
	if path != "" {
		s.log.Debug().Str("access_key", doc.AccessKey).Str("path", path).Msg("documento archivado")
	}
}

func batchID(t time.Time) string {
	return strconv.FormatInt(t.UnixNano()%1e15, 10)
}
