package nfe

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"

	fiscal "github.com/jhoicas/nfe-api/internal/domain/nfe"
	"github.com/jhoicas/nfe-api/internal/infrastructure/nfe/certificate"
	"github.com/jhoicas/nfe-api/pkg/logger"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

const (
	soap12NS         = "http://www.w3.org/2003/05/soap-envelope"
	maxResponseBytes = 4 << 20
)

// CredentialSource entrega el certificado vigente del emisor para el mTLS.
type CredentialSource interface {
	Acquire(issuerID string) (*certificate.Lease, error)
}

// EndpointResolver resuelve el autorizador de la UF según el tipo de emisión.
type EndpointResolver interface {
	ResolveFor(region string, environment, emissionType int) (fiscal.AuthorityEndpointSet, error)
}

// TransmissionObserver recibe cada resultado final (métricas).
type TransmissionObserver interface {
	ObserveTransmission(op fiscal.Operation, kind fiscal.OutcomeKind, elapsed time.Duration)
}

// Target emisor y autorizador de una llamada.
type Target struct {
	IssuerID     string
	Region       string // UF del emisor
	Environment  int    // tpAmb
	EmissionType int    // tpEmis; 6/7 van a SVC
	OnAttempt    func(fiscal.AuthorityOutcome)
}

// Client cliente SOAP 1.2 de los servicios NF-e 4.00 con mTLS por emisor.
//
// Los errores devueltos corresponden a fallas previas a la red (certificado, ruteo, mensaje).
// Todo lo que ocurre después se expresa en el AuthorityOutcome.
type Client struct {
	creds        CredentialSource
	router       EndpointResolver
	retry        RetryPolicy
	callTimeout  time.Duration
	httpTimeout  time.Duration
	pollAttempts int
	pollInterval time.Duration
	rootCAs      *x509.CertPool
	newHTTP      func(tls.Certificate) *http.Client
	observer     TransmissionObserver
	now          func() time.Time
	log          *logger.Logger

	mu      sync.Mutex
	clients map[string]cachedClient
}

type cachedClient struct {
	version int
	http    *http.Client
}

// ClientOption configura el Client.
type ClientOption func(*Client)

// WithRetryPolicy reemplaza la política de reintentos.
func WithRetryPolicy(p RetryPolicy) ClientOption { return func(c *Client) { c.retry = p } }

// WithTimeouts timeout por intento y timeout del transporte.
func WithTimeouts(call, transport time.Duration) ClientOption {
	return func(c *Client) { c.callTimeout, c.httpTimeout = call, transport }
}

// WithPolling consultas al recibo cuando la SEFAZ responde 103.
func WithPolling(attempts int, interval time.Duration) ClientOption {
	return func(c *Client) { c.pollAttempts, c.pollInterval = attempts, interval }
}

// WithRootCAs cadena de confianza para los servidores de la SEFAZ.
func WithRootCAs(pool *x509.CertPool) ClientOption { return func(c *Client) { c.rootCAs = pool } }

// WithHTTPClientFactory reemplaza la construcción del http.Client (tests).
func WithHTTPClientFactory(f func(tls.Certificate) *http.Client) ClientOption {
	return func(c *Client) { c.newHTTP = f }
}

// WithTransmissionObserver registra el observador de métricas.
func WithTransmissionObserver(o TransmissionObserver) ClientOption {
	return func(c *Client) { c.observer = o }
}

// NewClient construye el cliente.
func NewClient(creds CredentialSource, router EndpointResolver, log *logger.Logger, opts ...ClientOption) *Client {
	c := &Client{
		creds:        creds,
		router:       router,
		retry:        DefaultRetryPolicy(),
		callTimeout:  30 * time.Second,
		httpTimeout:  60 * time.Second,
		pollAttempts: 5,
		pollInterval: 2 * time.Second,
		now:          time.Now,
		log:          log.Component("sefaz"),
		clients:      make(map[string]cachedClient),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.newHTTP == nil {
		c.newHTTP = c.defaultHTTPClient
	}
	return c
}

func (c *Client) defaultHTTPClient(cert tls.Certificate) *http.Client {
	return &http.Client{
		Timeout: c.httpTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				Certificates:  []tls.Certificate{cert},
				RootCAs:       c.rootCAs,
				MinVersion:    tls.VersionTLS12,
				Renegotiation: tls.RenegotiateOnceAsClient,
			},
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// httpClientFor reutiliza el cliente del emisor mientras no cambie la versión del certificado.
func (c *Client) httpClientFor(issuerID string, lease *certificate.Lease) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.clients[issuerID]; ok {
		if cc.version == lease.Version() {
			return cc.http
		}
		cc.http.CloseIdleConnections()
	}
	hc := c.newHTTP(lease.TLSCertificate())
	c.clients[issuerID] = cachedClient{version: lease.Version(), http: hc}
	return hc
}

// Forget descarta el cliente HTTP del emisor (certificado quitado).
func (c *Client) Forget(issuerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.clients[issuerID]; ok {
		cc.http.CloseIdleConnections()
		delete(c.clients, issuerID)
	}
}

// session certificado y endpoints resueltos para una operación.
type session struct {
	target Target
	lease  *certificate.Lease
	http   *http.Client
	urls   fiscal.AuthorityEndpointSet
}

func (c *Client) open(t Target) (*session, error) {
	lease, err := c.creds.Acquire(t.IssuerID)
	if err != nil {
		return nil, err
	}
	set, err := c.router.ResolveFor(t.Region, t.Environment, t.EmissionType)
	if err != nil {
		lease.Release()
		return nil, err
	}
	return &session{target: t, lease: lease, http: c.httpClientFor(t.IssuerID, lease), urls: set}, nil
}

// Submit transmite una NF-e firmada. Si la SEFAZ la recibe sin procesar (103) consulta el
// recibo hasta pollAttempts veces; si sigue en proceso devuelve Processing con el nRec.
func (c *Client) Submit(ctx context.Context, t Target, signedNFe []byte, batch string) (fiscal.AuthorityOutcome, error) {
	payload, err := BuildSubmitBatch(signedNFe, batch)
	if err != nil {
		return fiscal.AuthorityOutcome{}, err
	}
	s, err := c.open(t)
	if err != nil {
		return fiscal.AuthorityOutcome{}, err
	}
	defer s.lease.Release()

	start := c.now()
	out := c.invoke(ctx, s, fiscal.ServiceAuthorize, fiscal.OpSubmit, payload)
	if out.Kind == fiscal.OutcomeProcessing && out.Receipt != "" {
		out = c.poll(ctx, s, out)
	}
	c.observe(fiscal.OpSubmit, out, start)
	return out, nil
}

// PollReceipt consulta un recibo pendiente (recuperación después de un reinicio).
func (c *Client) PollReceipt(ctx context.Context, t Target, receipt string) (fiscal.AuthorityOutcome, error) {
	s, err := c.open(t)
	if err != nil {
		return fiscal.AuthorityOutcome{}, err
	}
	defer s.lease.Release()
	start := c.now()
	out := c.pollOnce(ctx, s, receipt)
	c.observe(fiscal.OpPoll, out, start)
	return out, nil
}

func (c *Client) poll(ctx context.Context, s *session, received fiscal.AuthorityOutcome) fiscal.AuthorityOutcome {
	last := received
	for i := 0; i < c.pollAttempts; i++ {
		if err := c.retry.sleep(ctx, c.pollInterval); err != nil {
			return interrupted(last, err)
		}
		out := c.pollOnce(ctx, s, received.Receipt)
		if out.Kind != fiscal.OutcomeProcessing {
			return out
		}
		last = out
	}
	if last.Receipt == "" {
		last.Receipt = received.Receipt
	}
	return last
}

func (c *Client) pollOnce(ctx context.Context, s *session, receipt string) fiscal.AuthorityOutcome {
	payload, err := BuildReceiptQuery(s.target.Environment, receipt)
	if err != nil {
		return fiscal.AuthorityOutcome{Kind: fiscal.OutcomeRejected, Operation: fiscal.OpPoll, Message: err.Error(), Cause: err}
	}
	out := c.invoke(ctx, s, fiscal.ServiceReturnAuthorize, fiscal.OpPoll, payload)
	if out.Kind == fiscal.OutcomeProcessing {
		out.Receipt = receipt
	}
	return out
}

// QueryStatus consulta la situación de una NF-e por su clave de acceso.
func (c *Client) QueryStatus(ctx context.Context, t Target, accessKey string) (fiscal.AuthorityOutcome, error) {
	payload, err := BuildStatusQuery(t.Environment, accessKey)
	if err != nil {
		return fiscal.AuthorityOutcome{}, err
	}
	return c.simple(ctx, t, fiscal.ServiceQuery, fiscal.OpQuery, payload)
}

// SendEvent transmite un <envEvento> firmado (cancelación o CC-e según op).
func (c *Client) SendEvent(ctx context.Context, t Target, op fiscal.Operation, signedEvent []byte) (fiscal.AuthorityOutcome, error) {
	if op != fiscal.OpCancel && op != fiscal.OpCorrection {
		return fiscal.AuthorityOutcome{}, fmt.Errorf("nfe: operación de evento inválida %q", op)
	}
	return c.simple(ctx, t, fiscal.ServiceEvents, op, signedEvent)
}

// InvalidateRange transmite un <inutNFe> firmado.
func (c *Client) InvalidateRange(ctx context.Context, t Target, signedInvalidation []byte) (fiscal.AuthorityOutcome, error) {
	return c.simple(ctx, t, fiscal.ServiceInvalidate, fiscal.OpInvalidate, signedInvalidation)
}

// ServiceStatus consulta la disponibilidad del autorizador (sondeo de contingencia).
func (c *Client) ServiceStatus(ctx context.Context, t Target) (fiscal.AuthorityOutcome, error) {
	code, ok := pkgnfe.RegionCode(t.Region)
	if !ok {
		return fiscal.AuthorityOutcome{}, fmt.Errorf("%w: %s", fiscal.ErrUnknownRegion, t.Region)
	}
	payload, err := BuildServiceStatusQuery(t.Environment, code)
	if err != nil {
		return fiscal.AuthorityOutcome{}, err
	}
	return c.simple(ctx, t, fiscal.ServiceStatus, fiscal.OpServiceStatus, payload)
}

func (c *Client) simple(ctx context.Context, t Target, svc fiscal.Service, op fiscal.Operation, payload []byte) (fiscal.AuthorityOutcome, error) {
	s, err := c.open(t)
	if err != nil {
		return fiscal.AuthorityOutcome{}, err
	}
	defer s.lease.Release()
	start := c.now()
	out := c.invoke(ctx, s, svc, op, payload)
	c.observe(op, out, start)
	return out, nil
}

// invoke una llamada con la política de reintentos.
func (c *Client) invoke(ctx context.Context, s *session, svc fiscal.Service, op fiscal.Operation, payload []byte) fiscal.AuthorityOutcome {
	url := s.urls.URL(svc)
	if url == "" {
		err := fmt.Errorf("%w: %s no publica %s", fiscal.ErrUnknownRegion, s.urls.Authority, svc)
		return fiscal.AuthorityOutcome{Kind: fiscal.OutcomeUnreachable, Operation: op, Message: err.Error(), Cause: err}
	}
	return c.retry.Do(ctx, func(ctx context.Context, attempt int) fiscal.AuthorityOutcome {
		out := c.call(ctx, s.http, url, svc, op, payload)
		out.Attempts = attempt
		c.log.Debug().
			Str("issuer_id", s.target.IssuerID).
			Str("operation", string(op)).
			Str("authority", s.urls.Authority).
			Int("attempt", attempt).
			Str("outcome", out.Kind.String()).
			Int("cstat", out.Code).
			Msg("respuesta SEFAZ")
		if s.target.OnAttempt != nil {
			s.target.OnAttempt(out)
		}
		return out
	})
}

// call un intento: POST del sobre con timeout propio.
func (c *Client) call(ctx context.Context, hc *http.Client, url string, svc fiscal.Service, op fiscal.Operation, payload []byte) fiscal.AuthorityOutcome {
	base := fiscal.AuthorityOutcome{Operation: op, RawRequest: string(payload)}

	envelope, err := Envelope(svc, payload)
	if err != nil {
		base.Kind, base.Message, base.Cause = fiscal.OutcomeRejected, err.Error(), err
		return base
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		base.Kind, base.Message, base.Cause = fiscal.OutcomeUnreachable, err.Error(), err
		return base
	}
	ns, operation := svc.SOAPAction()
	req.Header.Set("Content-Type", fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s/%s"`, ns, operation))

	resp, err := hc.Do(req)
	if err != nil {
		return transportFailure(ctx, base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportFailure(ctx, base, err)
	}
	base.RawResponse = string(body)
	base.ReceivedAt = c.now()

	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		base.Kind = fiscal.OutcomeTransient
		base.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return base
	case resp.StatusCode >= 300:
		base.Kind = fiscal.OutcomeUnreachable
		base.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		base.Cause = errors.New(base.Message)
		return base
	}

	out := DecodeResponse(op, body)
	out.RawRequest, out.RawResponse, out.ReceivedAt = base.RawRequest, base.RawResponse, base.ReceivedAt
	return out
}

func transportFailure(parent context.Context, base fiscal.AuthorityOutcome, err error) fiscal.AuthorityOutcome {
	if parent.Err() != nil {
		return interrupted(base, parent.Err())
	}
	base.Kind = fiscal.OutcomeUnreachable
	base.Message = err.Error()
	base.Cause = err
	return base
}

func (c *Client) observe(op fiscal.Operation, out fiscal.AuthorityOutcome, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveTransmission(op, out.Kind, c.now().Sub(start))
	}
}

// Envelope arma el sobre SOAP 1.2 con el mensaje dentro de <nfeDadosMsg>.
func Envelope(svc fiscal.Service, payload []byte) ([]byte, error) {
	msg := etree.NewDocument()
	if err := msg.ReadFromBytes(payload); err != nil {
		return nil, fmt.Errorf("nfe: mensaje ilegible: %w", err)
	}
	root := msg.Root()
	if root == nil {
		return nil, fmt.Errorf("nfe: mensaje vacío")
	}
	msg.RemoveChild(root)

	ns, _ := svc.SOAPAction()
	x := etree.NewDocument()
	x.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := x.CreateElement("soap12:Envelope")
	env.CreateAttr("xmlns:soap12", soap12NS)
	body := env.CreateElement("soap12:Body")
	data := body.CreateElement("nfeDadosMsg")
	data.CreateAttr("xmlns", ns)
	data.AddChild(root)
	return x.WriteToBytes()
}

// DecodeResponse decodifica la respuesta de la SEFAZ en un AuthorityOutcome. Un cuerpo
// ilegible o sin cStat se trata como falla momentánea.
func DecodeResponse(op fiscal.Operation, body []byte) fiscal.AuthorityOutcome {
	x := etree.NewDocument()
	if err := x.ReadFromBytes(body); err != nil {
		return fiscal.AuthorityOutcome{Kind: fiscal.OutcomeTransient, Operation: op, Message: "respuesta ilegible: " + err.Error()}
	}
	ret := resultRoot(x)
	if ret == nil {
		return fiscal.AuthorityOutcome{Kind: fiscal.OutcomeTransient, Operation: op, Message: "respuesta sin resultado"}
	}
	batchStat, batchMsg, ok := statusOf(ret)
	if !ok {
		if fault := x.FindElement("//Fault"); fault != nil {
			return fiscal.AuthorityOutcome{Kind: fiscal.OutcomeTransient, Operation: op, Message: "SOAP Fault: " + strings.TrimSpace(fault.Text()+faultReason(fault))}
		}
		return fiscal.AuthorityOutcome{Kind: fiscal.OutcomeTransient, Operation: op, Message: "respuesta sin cStat"}
	}

	switch op {
	case fiscal.OpSubmit, fiscal.OpPoll:
		switch batchStat {
		case pkgnfe.StatusBatchReceived:
			out := fiscal.NewOutcome(op, batchStat, batchMsg)
			out.Receipt = childText(ret.FindElement("./infRec"), "nRec")
			return out
		case pkgnfe.StatusBatchProcessed:
			if prot := ret.FindElement("./protNFe"); prot != nil {
				return protocolOutcome(op, prot, "infProt")
			}
			return fiscal.AuthorityOutcome{Kind: fiscal.OutcomeTransient, Operation: op, Code: batchStat, Message: "lote procesado sin protNFe"}
		}
		out := fiscal.NewOutcome(op, batchStat, batchMsg)
		out.Receipt = childText(ret, "nRec")
		return out

	case fiscal.OpQuery:
		out := fiscal.NewOutcome(op, batchStat, batchMsg)
		out.AccessKey = childText(ret, "chNFe")
		if prot := ret.FindElement("./protNFe"); prot != nil {
			if inf := prot.SelectElement("infProt"); inf != nil {
				out.Protocol = childText(inf, "nProt")
				if out.AccessKey == "" {
					out.AccessKey = childText(inf, "chNFe")
				}
			}
			out.ProtocolXML = fragment(prot)
		}
		return out

	case fiscal.OpCancel, fiscal.OpCorrection:
		if ev := ret.FindElement("./retEvento"); ev != nil && batchStat == 128 {
			return protocolOutcome(op, ev, "infEvento")
		}
		return fiscal.NewOutcome(op, batchStat, batchMsg)

	case fiscal.OpInvalidate:
		out := fiscal.NewOutcome(op, batchStat, batchMsg)
		if inf := ret.SelectElement("infInut"); inf != nil {
			out.Protocol = childText(inf, "nProt")
		}
		out.ProtocolXML = fragment(ret)
		return out
	}
	return fiscal.NewOutcome(op, batchStat, batchMsg)
}

// protocolOutcome resultado a partir de protNFe/infProt o retEvento/infEvento.
func protocolOutcome(op fiscal.Operation, wrapper *etree.Element, infTag string) fiscal.AuthorityOutcome {
	inf := wrapper.SelectElement(infTag)
	if inf == nil {
		return fiscal.AuthorityOutcome{Kind: fiscal.OutcomeTransient, Operation: op, Message: "respuesta sin " + infTag}
	}
	code, msg, ok := statusOf(inf)
	if !ok {
		return fiscal.AuthorityOutcome{Kind: fiscal.OutcomeTransient, Operation: op, Message: infTag + " sin cStat"}
	}
	out := fiscal.NewOutcome(op, code, msg)
	out.Protocol = childText(inf, "nProt")
	out.AccessKey = childText(inf, "chNFe")
	out.ProtocolXML = fragment(wrapper)
	return out
}

// resultRoot primer elemento dentro de nfeResultMsg; admite respuestas sin sobre.
func resultRoot(x *etree.Document) *etree.Element {
	if res := x.FindElement("//nfeResultMsg"); res != nil {
		if els := res.ChildElements(); len(els) > 0 {
			return els[0]
		}
		return nil
	}
	if body := x.FindElement("//Body"); body != nil {
		if els := body.ChildElements(); len(els) > 0 {
			return els[0]
		}
		return nil
	}
	return x.Root()
}

func statusOf(el *etree.Element) (int, string, bool) {
	raw := childText(el, "cStat")
	code, err := strconv.Atoi(raw)
	if err != nil {
		return 0, "", false
	}
	return code, childText(el, "xMotivo"), true
}

func childText(el *etree.Element, tag string) string {
	if el == nil {
		return ""
	}
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func faultReason(fault *etree.Element) string {
	if r := fault.FindElement(".//Text"); r != nil {
		return " " + r.Text()
	}
	return ""
}

// fragment serializa el elemento como documento propio conservando su namespace.
func fragment(el *etree.Element) string {
	ns := el.NamespaceURI()
	cp := el.Copy()
	if ns != "" && cp.SelectAttr("xmlns") == nil {
		cp.CreateAttr("xmlns", ns)
	}
	d := etree.NewDocument()
	d.SetRoot(cp)
	s, err := d.WriteToString()
	if err != nil {
		return ""
	}
	return s
}
