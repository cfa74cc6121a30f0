// Package metrics publica en Prometheus las transmisiones a la SEFAZ, la contingencia y la
// vigencia de los certificados.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jhoicas/nfe-api/internal/application/contingency"
	"github.com/jhoicas/nfe-api/internal/domain/nfe"
	infranfe "github.com/jhoicas/nfe-api/internal/infrastructure/nfe"
	nfecert "github.com/jhoicas/nfe-api/internal/infrastructure/nfe/certificate"
)

// Metrics observadores del cliente SOAP, del gestor de contingencia y del gestor de certificados.
type Metrics struct {
	// Transmisiones por operación y resultado
	Transmissions *prometheus.CounterVec

	// Latencia de cada llamada, reintentos incluidos
	TransmissionLatency *prometheus.HistogramVec

	ContingencyActivations *prometheus.CounterVec
	ContingencyActive      *prometheus.GaugeVec
	Reconciliations        *prometheus.CounterVec

	CredentialDaysRemaining *prometheus.GaugeVec
}

var (
	_ infranfe.TransmissionObserver = (*Metrics)(nil)
	_ contingency.Observer          = (*Metrics)(nil)
	_ nfecert.Observer              = (*Metrics)(nil)
)

// New registra las métricas en reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transmissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nfe_transmissions_total",
			Help: "Llamadas a la SEFAZ por operación y resultado",
		}, []string{"operation", "outcome"}),

		TransmissionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nfe_transmission_duration_seconds",
			Help:    "Duración de las llamadas a la SEFAZ por operación",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		}, []string{"operation"}),

		ContingencyActivations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nfe_contingency_activations_total",
			Help: "Activaciones de contingencia por origen",
		}, []string{"trigger"}), // trigger: "auto", "manual"

		ContingencyActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nfe_contingency_active",
			Help: "1 si el emisor opera en contingencia",
		}, []string{"issuer"}),

		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "nfe_reconciliations_total",
			Help: "Documentos procesados por el conciliador por resultado",
		}, []string{"result"}),

		CredentialDaysRemaining: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nfe_credential_days_remaining",
			Help: "Días de vigencia del certificado activo del emisor",
		}, []string{"issuer"}),
	}
}

// ObserveTransmission registra el resultado y la duración de una llamada.
func (m *Metrics) ObserveTransmission(op nfe.Operation, kind nfe.OutcomeKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Transmissions.WithLabelValues(string(op), kind.String()).Inc()
	m.TransmissionLatency.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

func (m *Metrics) ContingencyActivated(issuerID string, manual bool) {
	if m == nil {
		return
	}
	trigger := "auto"
	if manual {
		trigger = "manual"
	}
	m.ContingencyActivations.WithLabelValues(trigger).Inc()
	m.ContingencyActive.WithLabelValues(issuerID).Set(1)
}

func (m *Metrics) ContingencyDeactivated(issuerID string) {
	if m != nil {
		m.ContingencyActive.WithLabelValues(issuerID).Set(0)
	}
}

func (m *Metrics) ReconciliationFinished(result string) {
	if m != nil {
		m.Reconciliations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) CredentialInstalled(issuerID string, daysRemaining int) {
	if m != nil {
		m.CredentialDaysRemaining.WithLabelValues(issuerID).Set(float64(daysRemaining))
	}
}

func (m *Metrics) CredentialRemoved(issuerID string) {
	if m != nil {
		m.CredentialDaysRemaining.DeleteLabelValues(issuerID)
	}
}
