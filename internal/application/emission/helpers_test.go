package emission_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/application/contingency"
	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/application/emission"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/infrastructure/memory"
	infranfe "github.com/jhoicas/nfe-api/internal/infrastructure/nfe"
	"github.com/jhoicas/nfe-api/internal/infrastructure/nfe/certificate"
	"github.com/jhoicas/nfe-api/internal/infrastructure/nfe/signer"
	"github.com/jhoicas/nfe-api/pkg/logger"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

const issuerID = "emisor-1"

var (
	start = time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)
	brt   = time.FixedZone("BRT", -3*60*60)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// fakeTransmitter responde con las funciones configuradas; sin configurar, la SEFAZ no responde.
type fakeTransmitter struct {
	mu       sync.Mutex
	calls    map[string]int
	submit   func(n int) nfe.AuthorityOutcome
	query    func(n int, key string) nfe.AuthorityOutcome
	event    func(n int, op nfe.Operation) nfe.AuthorityOutcome
	inut     func(n int) nfe.AuthorityOutcome
	status   func(n int) nfe.AuthorityOutcome
	payloads [][]byte
}

func newFakeTransmitter() *fakeTransmitter {
	return &fakeTransmitter{calls: make(map[string]int)}
}

func (f *fakeTransmitter) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeTransmitter) next(op string, payload []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if payload != nil {
		f.payloads = append(f.payloads, payload)
	}
	return f.calls[op]
}

func (f *fakeTransmitter) set(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn()
}

func respond(t infranfe.Target, op nfe.Operation, fn func() nfe.AuthorityOutcome) nfe.AuthorityOutcome {
	out := nfe.AuthorityOutcome{Kind: nfe.OutcomeUnreachable, Operation: op, Message: "connection refused"}
	if fn != nil {
		out = fn()
	}
	if out.Attempts == 0 {
		out.Attempts = 1
	}
	if t.OnAttempt != nil {
		t.OnAttempt(out)
	}
	return out
}

func (f *fakeTransmitter) Submit(ctx context.Context, t infranfe.Target, signed []byte, batch string) (nfe.AuthorityOutcome, error) {
	n := f.next("submit", signed)
	f.mu.Lock()
	fn := f.submit
	f.mu.Unlock()
	return respond(t, nfe.OpSubmit, wrap(fn, n)), nil
}

func (f *fakeTransmitter) QueryStatus(ctx context.Context, t infranfe.Target, key string) (nfe.AuthorityOutcome, error) {
	n := f.next("query", nil)
	f.mu.Lock()
	fn := f.query
	f.mu.Unlock()
	var call func() nfe.AuthorityOutcome
	if fn != nil {
		call = func() nfe.AuthorityOutcome { return fn(n, key) }
	}
	return respond(t, nfe.OpQuery, call), nil
}

func (f *fakeTransmitter) SendEvent(ctx context.Context, t infranfe.Target, op nfe.Operation, signed []byte) (nfe.AuthorityOutcome, error) {
	n := f.next("event", signed)
	f.mu.Lock()
	fn := f.event
	f.mu.Unlock()
	var call func() nfe.AuthorityOutcome
	if fn != nil {
		call = func() nfe.AuthorityOutcome { return fn(n, op) }
	}
	return respond(t, op, call), nil
}

func (f *fakeTransmitter) InvalidateRange(ctx context.Context, t infranfe.Target, signed []byte) (nfe.AuthorityOutcome, error) {
	n := f.next("inut", signed)
	f.mu.Lock()
	fn := f.inut
	f.mu.Unlock()
	return respond(t, nfe.OpInvalidate, wrap(fn, n)), nil
}

func (f *fakeTransmitter) ServiceStatus(ctx context.Context, t infranfe.Target) (nfe.AuthorityOutcome, error) {
	n := f.next("status", nil)
	f.mu.Lock()
	fn := f.status
	f.mu.Unlock()
	return respond(t, nfe.OpServiceStatus, wrap(fn, n)), nil
}

func wrap(fn func(int) nfe.AuthorityOutcome, n int) func() nfe.AuthorityOutcome {
	if fn == nil {
		return nil
	}
	return func() nfe.AuthorityOutcome { return fn(n) }
}

func authorized(protocol string) nfe.AuthorityOutcome {
	return nfe.AuthorityOutcome{
		Kind:       nfe.OutcomeAuthorized,
		Operation:  nfe.OpSubmit,
		Code:       pkgnfe.StatusAuthorized,
		Message:    "Autorizado o uso da NF-e",
		Protocol:   protocol,
		ReceivedAt: start,
	}
}

func rejected(code int, msg string) nfe.AuthorityOutcome {
	return nfe.AuthorityOutcome{Kind: nfe.OutcomeRejected, Operation: nfe.OpSubmit, Code: code, Message: msg}
}

type harness struct {
	svc           *emission.Service
	tx            *fakeTransmitter
	docs          *memory.DocumentRepository
	events        *memory.EventRepository
	windows       *memory.ContingencyRepository
	invalidations *memory.InvalidationRepository
	policy        *contingency.Manager
	certs         *certificate.Manager
	clock         *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, contingency.Config{Threshold: 3})
}

func newHarnessWith(t *testing.T, cfg contingency.Config) *harness {
	t.Helper()
	c := &clock{t: start}

	certs := certificate.NewManager(logger.Nop(), certificate.WithClock(c.Now))
	raw, err := os.ReadFile(filepath.Join("..", "..", "infrastructure", "nfe", "certificate", "testdata", "valid.pfx"))
	require.NoError(t, err)
	_, err = certs.Load(context.Background(), issuerID, raw, "123456")
	require.NoError(t, err)

	docs := memory.NewDocumentRepository()
	events := memory.NewEventRepository()
	windows := memory.NewContingencyRepository()
	invalidations := memory.NewInvalidationRepository()
	issuers := memory.NewIssuerRepository(sampleIssuer())
	policy := contingency.NewManager(contingency.NewMemoryStore(), windows, docs,
		cfg, logger.Nop(), contingency.WithClock(c.Now))
	tx := newFakeTransmitter()

	svc := emission.NewService(
		emission.Repositories{
			Documents:     docs,
			Sequences:     docs,
			Events:        events,
			Issuers:       issuers,
			Invalidations: invalidations,
		},
		certs,
		infranfe.NewXMLBuilderService(""),
		signer.NewDigitalSignatureService(),
		tx,
		policy,
		emission.Config{Environment: pkgnfe.EnvironmentStaging, CancelWindow: 24 * time.Hour, Location: brt},
		logger.Nop(),
		emission.WithClock(c.Now),
		emission.WithRandom(func() uint32 { return 87654321 }),
	)
	return &harness{
		svc:           svc,
		tx:            tx,
		docs:          docs,
		events:        events,
		windows:       windows,
		invalidations: invalidations,
		policy:        policy,
		certs:         certs,
		clock:         c,
	}
}

// authorize emite un documento que la SEFAZ autoriza con el protocolo dado.
func (h *harness) authorize(t *testing.T, protocol string) *entity.FiscalDocument {
	t.Helper()
	h.tx.set(func() { h.tx.submit = func(int) nfe.AuthorityOutcome { return authorized(protocol) } })
	doc, err := h.svc.Emit(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, entity.DocumentStatusAuthorized, doc.Status)
	return doc
}

func (h *harness) eventsOf(t *testing.T, docID, typ string) []*entity.DocumentEvent {
	t.Helper()
	all, err := h.events.ListByDocument(context.Background(), docID)
	require.NoError(t, err)
	var out []*entity.DocumentEvent
	for _, e := range all {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func sampleIssuer() *entity.Issuer {
	return &entity.Issuer{
		ID:                issuerID,
		CNPJ:              "11222333000181",
		StateRegistration: "123456789012",
		LegalName:         "EMPRESA TESTE LTDA",
		TaxRegime:         entity.TaxRegimeNormal,
		Region:            "SP",
		CityCode:          "3550308",
		CityName:          "SAO PAULO",
		Street:            "RUA A",
		Number:            "100",
		District:          "CENTRO",
		PostalCode:        "01001000",
	}
}

func item(code, qty, unit string) dto.DocumentItemRequest {
	return dto.DocumentItemRequest{
		Code:        code,
		Description: "PRODUTO " + code,
		NCM:         "61091000",
		CFOP:        "5102",
		Unit:        "UN",
		Quantity:    decimal.RequireFromString(qty),
		UnitValue:   decimal.RequireFromString(unit),
		ICMSOrigin:  "0",
		ICMSCST:     "00",
		ICMSRate:    decimal.NewFromInt(18),
		PISCST:      "01",
		PISRate:     decimal.RequireFromString("1.65"),
		COFINSCST:   "01",
		COFINSRate:  decimal.RequireFromString("7.6"),
	}
}

func sampleRequest() dto.EmitDocumentRequest {
	return dto.EmitDocumentRequest{
		IssuerID:          issuerID,
		Model:             pkgnfe.ModelNFe,
		Series:            1,
		NatureOfOperation: "VENDA DE MERCADORIA",
		PresenceIndicator: pkgnfe.PresenceInPerson,
		FinalConsumer:     true,
		Buyer: &dto.BuyerRequest{
			TaxID:    "529.982.247-25",
			Name:     "JOAO DA SILVA",
			Street:   "RUA B",
			Number:   "10",
			District: "BELA VISTA",
			CityCode: "3550308",
			CityName: "SAO PAULO",
			Region:   "SP",
		},
		Items: []dto.DocumentItemRequest{
			item("P001", "2", "50.00"),
			item("P002", "1", "19.90"),
			item("P003", "3", "7.35"),
		},
	}
}
