package emission_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/application/contingency"
	"github.com/jhoicas/nfe-api/internal/domain/entity"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	pkgnfe "github.com/jhoicas/nfe-api/pkg/nfe"
)

func TestEmit_Autorizado_TresItems(t *testing.T) {
	h := newHarness(t)
	doc := h.authorize(t, "P123")

	assert.Equal(t, "P123", doc.Protocol)
	assert.Equal(t, int64(1), doc.Number)
	assert.NotNil(t, doc.AuthorizedAt)
	require.Len(t, doc.Items, 3)

	sum := decimal.Zero
	for _, it := range doc.Items {
		sum = sum.Add(it.LineTotal)
	}
	assert.True(t, sum.Equal(doc.Totals.Products), "vProd %s, suma %s", doc.Totals.Products, sum)
	assert.Equal(t, "141.95", doc.Totals.Products.StringFixed(2))
	assert.Equal(t, "141.95", doc.Totals.GrandTotal.StringFixed(2))

	stored, err := h.svc.Get(context.Background(), issuerID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusAuthorized, stored.Status)
	assert.Equal(t, "P123", stored.Protocol)
	assert.Contains(t, stored.SignedXML, "<Signature")

	attempts := h.eventsOf(t, doc.ID, entity.EventTypeAuthorityResponse)
	require.Len(t, attempts, 1)
	assert.Equal(t, pkgnfe.StatusAuthorized, attempts[0].Code)
	assert.Equal(t, 1, h.tx.count("submit"))
}

func TestEmit_ClaveReproducible(t *testing.T) {
	h := newHarness(t)
	doc := h.authorize(t, "135250000000001")

	stored, err := h.docs.Load(context.Background(), doc.ID)
	require.NoError(t, err)

	parts, err := nfe.ParseAccessKey(stored.AccessKey)
	require.NoError(t, err)
	assert.Equal(t, 35, parts.RegionCode)
	assert.Equal(t, stored.Number, parts.Number)

	key, err := nfe.ComputeAccessKey(nfe.AccessKeyParams{
		RegionCode:   35,
		IssuedAt:     stored.IssuedAt.In(brt),
		IssuerCNPJ:   sampleIssuer().CNPJ,
		Model:        stored.Model,
		Series:       stored.Series,
		Number:       stored.Number,
		EmissionType: stored.EmissionType,
		NumericCode:  stored.NumericCode,
	})
	require.NoError(t, err)
	assert.Equal(t, stored.AccessKey, key)
}

func TestEmit_NumeracionConcurrente(t *testing.T) {
	h := newHarness(t)
	h.tx.set(func() { h.tx.submit = func(n int) nfe.AuthorityOutcome { return authorized(fmt.Sprintf("13525%010d", n)) } })

	const n = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := h.svc.Emit(context.Background(), sampleRequest())
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers = append(numbers, doc.Number)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, numbers, n)
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	for i, num := range numbers {
		assert.Equal(t, int64(i+1), num)
	}
}

func TestEmit_Invalido_NoConsumeNumero(t *testing.T) {
	h := newHarness(t)
	req := sampleRequest()
	req.Items = nil

	_, err := h.svc.Emit(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, nfe.ErrValidationFailure)

	pending, err := h.docs.ListByStatus(context.Background(), []string{entity.DocumentStatusDrafting}, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	doc := h.authorize(t, "P1")
	assert.Equal(t, int64(1), doc.Number)
}

func TestEmit_TotalDeclaradoDistinto(t *testing.T) {
	h := newHarness(t)
	req := sampleRequest()
	wrong := decimal.RequireFromString("150.00")
	req.Total = &wrong

	_, err := h.svc.Emit(context.Background(), req)
	var verr *nfe.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "vNF")
	assert.Zero(t, h.tx.count("submit"))
}

func TestEmit_CertificadoVencido_SinLlamadaDeRed(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(time.Date(2035, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := h.svc.Emit(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, nfe.ErrExpired)
	assert.Zero(t, h.tx.count("submit"))

	all, err := h.docs.ListByStatus(context.Background(), []string{
		entity.DocumentStatusDrafting, entity.DocumentStatusAssembled, entity.DocumentStatusSigned,
		entity.DocumentStatusTransmitting, entity.DocumentStatusAuthorityTimeout,
	}, 0)
	require.NoError(t, err)
	assert.Empty(t, all)

	h.clock.Set(start)
	doc := h.authorize(t, "P1")
	assert.Equal(t, int64(1), doc.Number, "el intento fallido no consume número")
}

func TestEmit_TresInalcanzables_ActivaContingencia(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		doc, err := h.svc.Emit(ctx, sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, entity.DocumentStatusAuthorityTimeout, doc.Status)
		assert.Equal(t, pkgnfe.EmissionNormal, doc.EmissionType)
		assert.NotEmpty(t, h.eventsOf(t, doc.ID, entity.EventTypeTransmissionFailure))
	}

	doc, err := h.svc.Emit(ctx, sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusContingencyEmitted, doc.Status)
	assert.Equal(t, pkgnfe.EmissionFSDA, doc.EmissionType)
	assert.Equal(t, "5", doc.AccessKey[34:35])
	assert.Contains(t, doc.ContingencyReason, "inalcanzable")
	assert.Equal(t, 3, h.tx.count("submit"), "el documento en contingencia no se transmite")

	windows, err := h.windows.ListWindows(ctx, issuerID, entity.ContingencyWindowOpen)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, int64(4), windows[0].FirstNumber)
	assert.Equal(t, int64(4), windows[0].LastNumber)
	assert.Equal(t, pkgnfe.EmissionFSDA, windows[0].EmissionType)
}

func TestEmit_ContingenciaSVC_AbreVentana(t *testing.T) {
	h := newHarnessWith(t, contingency.Config{Threshold: 3, Mode: contingency.ModeSVC})
	ctx := context.Background()
	h.tx.set(func() {
		h.tx.submit = func(n int) nfe.AuthorityOutcome {
			if n <= 3 {
				return nfe.AuthorityOutcome{Kind: nfe.OutcomeUnreachable, Operation: nfe.OpSubmit, Message: "connection refused"}
			}
			return authorized(fmt.Sprintf("SVC%d", n))
		}
	})
	for i := 0; i < 3; i++ {
		_, err := h.svc.Emit(ctx, sampleRequest())
		require.NoError(t, err)
	}

	for _, want := range []int64{4, 5} {
		doc, err := h.svc.Emit(ctx, sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, entity.DocumentStatusAuthorized, doc.Status)
		assert.True(t, pkgnfe.IsSVCEmission(doc.EmissionType), "tpEmis %d", doc.EmissionType)
		assert.Equal(t, want, doc.Number)
	}

	windows, err := h.windows.ListWindows(ctx, issuerID, entity.ContingencyWindowOpen)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, int64(4), windows[0].FirstNumber)
	assert.Equal(t, int64(5), windows[0].LastNumber)
	assert.True(t, pkgnfe.IsSVCEmission(windows[0].EmissionType))
}

func TestEmit_Rechazo_NoSeReintenta(t *testing.T) {
	h := newHarness(t)
	h.tx.set(func() { h.tx.submit = func(int) nfe.AuthorityOutcome { return rejected(225, "Falha no Schema XML") } })

	doc, err := h.svc.Emit(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusRejected, doc.Status)
	assert.Equal(t, 225, doc.AuthorityCode)
	assert.Equal(t, 1, h.tx.count("submit"))

	again, err := h.svc.Resolve(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusRejected, again.Status)
	assert.Zero(t, h.tx.count("query"))
}

func TestEmit_Denegado_EsDistintoDeRechazo(t *testing.T) {
	h := newHarness(t)
	h.tx.set(func() {
		h.tx.submit = func(int) nfe.AuthorityOutcome {
			return nfe.AuthorityOutcome{Kind: nfe.OutcomeDenied, Operation: nfe.OpSubmit, Code: 302, Message: "Uso Denegado", Protocol: "D1"}
		}
	})
	doc, err := h.svc.Emit(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusDenied, doc.Status)
	assert.Equal(t, "D1", doc.Protocol)
}

func TestEmit_Interrumpido_QuedaTransmitiendo(t *testing.T) {
	h := newHarness(t)
	h.tx.set(func() {
		h.tx.submit = func(int) nfe.AuthorityOutcome {
			return nfe.AuthorityOutcome{Kind: nfe.OutcomeInterrupted, Operation: nfe.OpSubmit, Cause: context.Canceled}
		}
	})

	doc, err := h.svc.Emit(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, entity.DocumentStatusTransmitting, doc.Status)

	h.tx.set(func() {
		h.tx.query = func(int, string) nfe.AuthorityOutcome {
			out := authorized("P777")
			out.Operation = nfe.OpQuery
			return out
		}
	})
	resolved, err := h.svc.Resolve(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusAuthorized, resolved.Status)
	assert.Equal(t, "P777", resolved.Protocol)
	assert.Equal(t, 1, h.tx.count("submit"))
}

func TestEmit_Duplicidad_TomaProtocoloDeLaConsulta(t *testing.T) {
	h := newHarness(t)
	h.tx.set(func() {
		h.tx.submit = func(int) nfe.AuthorityOutcome {
			return nfe.AuthorityOutcome{Kind: nfe.OutcomeDuplicate, Operation: nfe.OpSubmit, Code: 204, Message: "Duplicidade de NF-e"}
		}
		h.tx.query = func(int, string) nfe.AuthorityOutcome { return authorized("P555") }
	})

	doc, err := h.svc.Emit(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusAuthorized, doc.Status)
	assert.Equal(t, "P555", doc.Protocol)
	assert.Equal(t, 1, h.tx.count("query"))
}

// La duplicidad que la consulta no puede confirmar termina en REJECTED y no se reenvía.
func TestEmit_Duplicidad_SinClaveEnLaSEFAZ(t *testing.T) {
	tests := []struct {
		name    string
		cStat   int
		queries int
	}{
		{"539 diferencia en la clave", pkgnfe.StatusDuplicateKeyDiff, 0},
		{"204 sin la clave en la base", pkgnfe.StatusDuplicate, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.tx.set(func() {
				h.tx.submit = func(int) nfe.AuthorityOutcome {
					return nfe.NewOutcome(nfe.OpSubmit, tt.cStat, "Duplicidade de NF-e")
				}
				h.tx.query = func(int, string) nfe.AuthorityOutcome {
					return nfe.NewOutcome(nfe.OpQuery, pkgnfe.StatusNotFound, "NF-e não consta na base")
				}
			})

			doc, err := h.svc.Emit(context.Background(), sampleRequest())
			require.NoError(t, err)
			assert.Equal(t, entity.DocumentStatusRejected, doc.Status)
			assert.Equal(t, tt.cStat, doc.AuthorityCode)
			assert.Equal(t, tt.queries, h.tx.count("query"))

			resolved, err := h.svc.Resolve(context.Background(), doc.ID)
			require.NoError(t, err)
			assert.Equal(t, entity.DocumentStatusRejected, resolved.Status)
			assert.Equal(t, 1, h.tx.count("submit"), "un documento rechazado no se reenvía")

			next, err := h.svc.Emit(context.Background(), sampleRequest())
			require.NoError(t, err)
			assert.Equal(t, doc.Number+1, next.Number, "el número rechazado queda quemado")
		})
	}
}

func TestApply_ReplayIdempotente(t *testing.T) {
	h := newHarness(t)
	doc := h.authorize(t, "P123")
	before, err := h.docs.Load(context.Background(), doc.ID)
	require.NoError(t, err)

	after, err := h.svc.Apply(context.Background(), doc.ID, authorized("P123"))
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusAuthorized, after.Status)
	assert.Equal(t, before.Version, after.Version)
	assert.Empty(t, h.eventsOf(t, doc.ID, entity.EventTypeReconciliationConflict))
}

func TestApply_ProtocoloDistinto_Conflicto(t *testing.T) {
	h := newHarness(t)
	doc := h.authorize(t, "P123")

	after, err := h.svc.Apply(context.Background(), doc.ID, authorized("P999"))
	require.Error(t, err)
	assert.ErrorIs(t, err, nfe.ErrReconciliationConflict)
	assert.Equal(t, "P123", after.Protocol)

	conflicts := h.eventsOf(t, doc.ID, entity.EventTypeReconciliationConflict)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "P999", conflicts[0].Protocol)
}

func TestApply_RechazoSobreAutorizado_Conflicto(t *testing.T) {
	h := newHarness(t)
	doc := h.authorize(t, "P123")

	_, err := h.svc.Apply(context.Background(), doc.ID, rejected(539, "Duplicidade com diferença na chave"))
	assert.ErrorIs(t, err, nfe.ErrReconciliationConflict)

	stored, err := h.docs.Load(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusAuthorized, stored.Status)
}

func TestResolve_NoEncontrado_Reenvia(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Emit(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, entity.DocumentStatusAuthorityTimeout, doc.Status)

	h.tx.set(func() {
		h.tx.query = func(int, string) nfe.AuthorityOutcome {
			return nfe.AuthorityOutcome{Kind: nfe.OutcomeNotFound, Operation: nfe.OpQuery, Code: 217, Message: "NF-e não consta na base"}
		}
		h.tx.submit = func(int) nfe.AuthorityOutcome { return authorized("P321") }
	})
	resolved, err := h.svc.Resolve(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusAuthorized, resolved.Status)
	assert.Equal(t, 2, h.tx.count("submit"))
}

func TestReconcile_DocumentoDeContingencia(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.policy.Activate(ctx, issuerID, "Falha de comunicacao com a SEFAZ")
	require.NoError(t, err)

	doc, err := h.svc.Emit(ctx, sampleRequest())
	require.NoError(t, err)
	require.Equal(t, entity.DocumentStatusContingencyEmitted, doc.Status)

	// sin respuesta vuelve a CONTINGENCY_EMITTED
	back, err := h.svc.Reconcile(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusContingencyEmitted, back.Status)

	h.tx.set(func() {
		h.tx.query = func(int, string) nfe.AuthorityOutcome {
			return nfe.AuthorityOutcome{Kind: nfe.OutcomeNotFound, Operation: nfe.OpQuery, Code: 217}
		}
		h.tx.submit = func(int) nfe.AuthorityOutcome { return authorized("P888") }
	})
	done, err := h.svc.Reconcile(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusAuthorized, done.Status)
	assert.Equal(t, "P888", done.Protocol)
	assert.Equal(t, pkgnfe.EmissionFSDA, done.EmissionType)
}

func TestPark_SoloDesdeTimeout(t *testing.T) {
	h := newHarness(t)
	doc, err := h.svc.Emit(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, entity.DocumentStatusAuthorityTimeout, doc.Status)

	require.NoError(t, h.svc.Park(context.Background(), doc.ID))
	stored, err := h.docs.Load(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.DocumentStatusContingencyEmitted, stored.Status)

	final := h.authorize(t, "P1")
	assert.ErrorIs(t, h.svc.Park(context.Background(), final.ID), nfe.ErrIllegalTransition)
}

func TestGet_OtroEmisor_NoEncontrado(t *testing.T) {
	h := newHarness(t)
	doc := h.authorize(t, "P1")

	_, err := h.svc.Get(context.Background(), "otro-emisor", doc.ID)
	assert.Error(t, err)

	byKey, err := h.svc.GetByAccessKey(context.Background(), issuerID, doc.AccessKey)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byKey.ID)
}
