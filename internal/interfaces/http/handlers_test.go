package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/application/contingency"
	"github.com/jhoicas/nfe-api/internal/application/dto"
	"github.com/jhoicas/nfe-api/internal/domain"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	nfecert "github.com/jhoicas/nfe-api/internal/infrastructure/nfe/certificate"
	apphttp "github.com/jhoicas/nfe-api/internal/interfaces/http"
	"github.com/jhoicas/nfe-api/pkg/logger"
)

type fakeDocuments struct {
	docs      map[string]*entity.FiscalDocument
	emitted   dto.EmitDocumentRequest
	cancelErr error
	resolved  []string
}

func (f *fakeDocuments) Emit(ctx context.Context, req dto.EmitDocumentRequest) (*entity.FiscalDocument, error) {
	f.emitted = req
	if len(req.Items) == 0 {
		return nil, &nfe.ValidationError{Problems: []string{"el documento no tiene ítems"}}
	}
	return &entity.FiscalDocument{
		ID:        "doc-1",
		IssuerID:  req.IssuerID,
		Model:     req.Model,
		Series:    req.Series,
		Number:    1,
		Status:    entity.DocumentStatusAuthorized,
		Protocol:  "P123",
		Totals:    entity.Totals{GrandTotal: decimal.RequireFromString("141.95")},
		IssuedAt:  time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		AccessKey: "35250611222333000181550010000000011876543210",
	}, nil
}

func (f *fakeDocuments) Get(ctx context.Context, issuerID, id string) (*entity.FiscalDocument, error) {
	d, ok := f.docs[id]
	if !ok || d.IssuerID != issuerID {
		return nil, fmt.Errorf("%w: documento %s", domain.ErrNotFound, id)
	}
	return d, nil
}

func (f *fakeDocuments) GetByAccessKey(ctx context.Context, issuerID, key string) (*entity.FiscalDocument, error) {
	for _, d := range f.docs {
		if d.AccessKey == key && d.IssuerID == issuerID {
			return d, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeDocuments) Events(ctx context.Context, issuerID, id string) ([]*entity.DocumentEvent, error) {
	if _, err := f.Get(ctx, issuerID, id); err != nil {
		return nil, err
	}
	return []*entity.DocumentEvent{
		{ID: "1", Type: entity.EventTypeStateChange, ToStatus: entity.DocumentStatusDrafting},
		{ID: "2", Type: entity.EventTypeStateChange, FromStatus: entity.DocumentStatusTransmitting, ToStatus: entity.DocumentStatusAuthorized, Code: 100, Protocol: "P123"},
	}, nil
}

func (f *fakeDocuments) Cancel(ctx context.Context, issuerID, id, justification string) (*entity.FiscalDocument, error) {
	d, err := f.Get(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	if f.cancelErr != nil {
		return d, f.cancelErr
	}
	d.Status = entity.DocumentStatusCancelled
	return d, nil
}

func (f *fakeDocuments) Correction(ctx context.Context, issuerID, id, text string) (*entity.DocumentEvent, error) {
	if _, err := f.Get(ctx, issuerID, id); err != nil {
		return nil, err
	}
	return &entity.DocumentEvent{ID: "3", Type: entity.EventTypeCorrectionLetter, Sequence: 1, Message: text}, nil
}

func (f *fakeDocuments) Resolve(ctx context.Context, id string) (*entity.FiscalDocument, error) {
	f.resolved = append(f.resolved, id)
	return f.docs[id], nil
}

func (f *fakeDocuments) InvalidateRange(ctx context.Context, req dto.InvalidateRangeRequest) (*entity.RangeInvalidation, error) {
	inv := &entity.RangeInvalidation{ID: "inv-1", IssuerID: req.IssuerID, Model: req.Model, Series: req.Series,
		FirstNumber: req.FirstNumber, LastNumber: req.LastNumber, Status: entity.InvalidationStatusRejected, Code: 241}
	return inv, &nfe.RejectionError{Code: 241, Message: "Um numero da faixa ja foi utilizado"}
}

type fakeCertificates struct {
	uploaded   []byte
	passphrase string
}

func (f *fakeCertificates) Upload(ctx context.Context, issuerID string, raw []byte, passphrase string) (*nfecert.Status, error) {
	if passphrase != "123456" {
		return nil, nfe.ErrWrongPassphrase
	}
	f.uploaded, f.passphrase = raw, passphrase
	return &nfecert.Status{IssuerID: issuerID, OwnerTaxID: "11222333000181", Version: 1}, nil
}

func (f *fakeCertificates) Status(ctx context.Context, issuerID string) (*nfecert.Status, error) {
	if f.uploaded == nil {
		return nil, nfe.ErrNoCredential
	}
	return &nfecert.Status{IssuerID: issuerID, Version: 1}, nil
}

func (f *fakeCertificates) Remove(ctx context.Context, issuerID string) error {
	f.uploaded = nil
	return nil
}

type fakeContingency struct{ active *contingency.State }

func (f *fakeContingency) Status(ctx context.Context, issuerID string) (*contingency.Snapshot, error) {
	return &contingency.Snapshot{IssuerID: issuerID, Active: f.active != nil, State: f.active, Windows: []*entity.ContingencyWindow{}}, nil
}

func (f *fakeContingency) Activate(ctx context.Context, issuerID, reason string) (*contingency.State, error) {
	if len(reason) < 15 {
		return nil, &nfe.ValidationError{Problems: []string{"justificación corta"}}
	}
	f.active = &contingency.State{IssuerID: issuerID, Reason: reason, Manual: true}
	return f.active, nil
}

func (f *fakeContingency) Deactivate(ctx context.Context, issuerID string) error {
	f.active = nil
	return nil
}

type fakeIssuers struct{ saved map[string]dto.IssuerRequest }

func (f *fakeIssuers) Get(ctx context.Context, id string) (*dto.IssuerResponse, error) {
	in, ok := f.saved[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &dto.IssuerResponse{ID: id, CNPJ: in.CNPJ, LegalName: in.LegalName, HasCSC: in.CSC != ""}, nil
}

func (f *fakeIssuers) Save(ctx context.Context, id string, in dto.IssuerRequest) (*dto.IssuerResponse, error) {
	if in.CNPJ == "" {
		return nil, &nfe.ValidationError{Problems: []string{"CNPJ obligatorio"}}
	}
	f.saved[id] = in
	return f.Get(ctx, id)
}

type testAPI struct {
	app     *fiber.App
	issuers *fakeIssuers
	docs    *fakeDocuments
	certs   *fakeCertificates
	cont    *fakeContingency
}

func newTestAPI() *testAPI {
	api := &testAPI{
		app: fiber.New(),
		docs: &fakeDocuments{docs: map[string]*entity.FiscalDocument{
			"doc-1": {ID: "doc-1", IssuerID: testIssuerID, Status: entity.DocumentStatusAuthorized, Protocol: "P123",
				AccessKey: "35250611222333000181550010000000011876543210"},
			"doc-2": {ID: "doc-2", IssuerID: "otro-emisor", Status: entity.DocumentStatusAuthorized},
		}},
		issuers: &fakeIssuers{saved: map[string]dto.IssuerRequest{}},
		certs:   &fakeCertificates{},
		cont:    &fakeContingency{},
	}
	apphttp.Router(api.app, apphttp.RouterDeps{
		Issuers:      api.issuers,
		Documents:    api.docs,
		Certificates: api.certs,
		Contingency:  api.cont,
		JWTSecret:    testJWTSecret,
		Log:          logger.Nop(),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "nfe_transmissions_total 0\n")
		}),
	})
	return api
}

func (a *testAPI) do(t *testing.T, method, path, role string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", tokenForRole(t, role))
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestDocuments_Emit_Autorizado(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodPost, "/api/documents", "operador", map[string]any{
		"model":  "55",
		"series": 1,
		"items": []map[string]any{
			{"code": "P001", "description": "PRODUTO", "ncm": "61091000", "cfop": "5102", "unit": "UN", "quantity": "2", "unit_value": "50.00"},
		},
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[dto.DocumentResponse](t, resp)
	assert.Equal(t, entity.DocumentStatusAuthorized, body.Status)
	assert.Equal(t, "P123", body.Protocol)
	assert.True(t, decimal.RequireFromString("141.95").Equal(body.Total))

	assert.Equal(t, testIssuerID, api.docs.emitted.IssuerID, "el emisor sale del token, nunca del body")
	require.Len(t, api.docs.emitted.Items, 1)
	assert.True(t, decimal.NewFromInt(2).Equal(api.docs.emitted.Items[0].Quantity))
}

func TestDocuments_Emit_Invalido_422(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodPost, "/api/documents", "operador", map[string]any{"model": "55"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[dto.ErrorResponse](t, resp)
	assert.Equal(t, "VALIDATION", body.Code)
	assert.Contains(t, body.Message, "ítems")
}

func TestDocuments_Emit_CuerpoInvalido(t *testing.T) {
	api := newTestAPI()
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader("{no es json"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", tokenForRole(t, "operador"))
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDocuments_SinToken_401(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodGet, "/api/documents/doc-1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDocuments_Get_OtroEmisor_404(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodGet, "/api/documents/doc-2", "operador", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decode[dto.ErrorResponse](t, resp).Code)

	resp = api.do(t, http.MethodPost, "/api/documents/doc-2/resolve", "operador", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, api.docs.resolved)
}

func TestDocuments_PorClave(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodGet, "/api/documents/key/35250611222333000181550010000000011876543210", "operador", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "doc-1", decode[dto.DocumentResponse](t, resp).ID)
}

func TestDocuments_Events(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodGet, "/api/documents/doc-1/events", "operador", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]dto.DocumentEventResponse](t, resp)
	require.Len(t, events, 2)
	assert.Equal(t, entity.DocumentStatusAuthorized, events[1].ToStatus)
	assert.Equal(t, "P123", events[1].Protocol)
}

func TestDocuments_Cancel(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodPost, "/api/documents/doc-1/cancel", "operador", dto.CancelRequest{Justification: "Erro na digitacao dos dados"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, entity.DocumentStatusCancelled, decode[dto.DocumentResponse](t, resp).Status)
}

func TestDocuments_Cancel_Errores(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"plazo vencido", fmt.Errorf("%w: autorizado ayer", nfe.ErrCancelWindowExpired), http.StatusUnprocessableEntity, "CANCEL_WINDOW_EXPIRED"},
		{"estado final", nfe.ErrAlreadyFinal, http.StatusConflict, "ALREADY_FINAL"},
		{"rechazo", &nfe.RejectionError{Code: 501, Message: "Prazo de cancelamento superior"}, http.StatusUnprocessableEntity, "REJECTED"},
		{"sin certificado", nfe.ErrNoCredential, http.StatusPreconditionFailed, "NO_CREDENTIAL"},
		{"inalcanzable", nfe.ErrUnreachable, http.StatusServiceUnavailable, "AUTHORITY_UNAVAILABLE"},
		{"interno", errors.New("pool cerrado"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI()
			api.docs.cancelErr = tt.err
			resp := api.do(t, http.MethodPost, "/api/documents/doc-1/cancel", "operador", dto.CancelRequest{Justification: "Erro na digitacao dos dados"})
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[dto.ErrorResponse](t, resp)
			assert.Equal(t, tt.code, body.Code)
			assert.NotContains(t, body.Message, "pool cerrado")
		})
	}
}

func TestDocuments_Correction(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodPost, "/api/documents/doc-1/correction", "operador", dto.CorrectionRequest{Text: "Corrigir o endereco de entrega"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	ev := decode[dto.DocumentEventResponse](t, resp)
	assert.Equal(t, 1, ev.Sequence)
	assert.Equal(t, entity.EventTypeCorrectionLetter, ev.Type)
}

func TestDocuments_Resolve(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodPost, "/api/documents/doc-1/resolve", "operador", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"doc-1"}, api.docs.resolved)
}

func TestInvalidations_Rechazada(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodPost, "/api/invalidations", "operador", dto.InvalidateRangeRequest{
		Model: "55", Series: 1, FirstNumber: 10, LastNumber: 12, Justification: "Quebra de sequencia",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[dto.ErrorResponse](t, resp)
	assert.Equal(t, "REJECTED", body.Code)
	assert.Equal(t, "241: Um numero da faixa ja foi utilizado", body.Message)
}

func multipartCertificate(t *testing.T, passphrase string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "certificado.pfx")
	require.NoError(t, err)
	_, err = fw.Write([]byte("contenido pkcs12"))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("passphrase", passphrase))
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestCertificates_Upload(t *testing.T) {
	api := newTestAPI()
	body, contentType := multipartCertificate(t, "123456")
	req := httptest.NewRequest(http.MethodPost, "/api/certificates", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", tokenForRole(t, "admin"))
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	st := decode[nfecert.Status](t, resp)
	assert.Equal(t, "11222333000181", st.OwnerTaxID)
	assert.Equal(t, []byte("contenido pkcs12"), api.certs.uploaded)

	resp = api.do(t, http.MethodGet, "/api/certificates/status", "operador", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/api/certificates", "admin", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = api.do(t, http.MethodGet, "/api/certificates/status", "operador", nil)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestCertificates_Upload_ContrasenaIncorrecta(t *testing.T) {
	api := newTestAPI()
	body, contentType := multipartCertificate(t, "errada")
	req := httptest.NewRequest(http.MethodPost, "/api/certificates", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", tokenForRole(t, "admin"))
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "WRONG_PASSPHRASE", decode[dto.ErrorResponse](t, resp).Code)
}

func TestCertificates_Upload_SoloAdmin(t *testing.T) {
	api := newTestAPI()
	body, contentType := multipartCertificate(t, "123456")
	req := httptest.NewRequest(http.MethodPost, "/api/certificates", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", tokenForRole(t, "operador"))
	resp, err := api.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Nil(t, api.certs.uploaded)
}

func TestContingency_ActivarYDesactivar(t *testing.T) {
	api := newTestAPI()

	resp := api.do(t, http.MethodPost, "/api/contingency", "operador", dto.ActivateContingencyRequest{Reason: "corta"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/api/contingency", "operador", dto.ActivateContingencyRequest{Reason: "Falha de comunicacao com a SEFAZ"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/api/contingency", "consulta", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[contingency.Snapshot](t, resp)
	assert.True(t, snap.Active)
	assert.Equal(t, testIssuerID, snap.IssuerID)

	resp = api.do(t, http.MethodDelete, "/api/contingency", "consulta", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = api.do(t, http.MethodDelete, "/api/contingency", "admin", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Nil(t, api.cont.active)
}

func TestIssuer_GuardarYConsultar(t *testing.T) {
	api := newTestAPI()

	resp := api.do(t, http.MethodGet, "/api/issuer", "consulta", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	in := dto.IssuerRequest{CNPJ: "11222333000181", LegalName: "EMPRESA TESTE LTDA", CSC: "A1B2"}
	resp = api.do(t, http.MethodPut, "/api/issuer", "operador", in)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = api.do(t, http.MethodPut, "/api/issuer", "admin", dto.IssuerRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = api.do(t, http.MethodPut, "/api/issuer", "admin", in)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[dto.IssuerResponse](t, resp)
	assert.Equal(t, testIssuerID, out.ID, "el emisor sale del token")
	assert.True(t, out.HasCSC)

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "A1B2")
}

func TestHealthYMetrics(t *testing.T) {
	api := newTestAPI()
	resp := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "nfe_transmissions_total")
}
