// Package metrics expone las métricas Prometheus del pipeline de emisión.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii/signer"
)

var (
	_ ports.Metrics   = (*Metrics)(nil)
	_ sii.Observer    = (*Metrics)(nil)
	_ signer.Observer = (*Metrics)(nil)
)

// Metrics colectores del servicio. Un *Metrics nil descarta todo.
type Metrics struct {
	FolioRemaining   *prometheus.GaugeVec
	FolioAllocations *prometheus.CounterVec
	FolioAlerts      *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	SigningDuration  *prometheus.HistogramVec
	GatewayDuration  *prometheus.HistogramVec
	GatewayRetries   *prometheus.CounterVec
}

// New registra los colectores en reg (nil = registro por defecto).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		FolioRemaining: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dte_folio_remaining",
			Help: "Folios disponibles en el rango activo tras la última asignación",
		}, []string{"document_type"}),

		FolioAllocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dte_folio_allocations_total",
			Help: "Folios asignados por tipo de documento",
		}, []string{"document_type"}),

		FolioAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dte_folio_alerts_total",
			Help: "Alertas de folios restantes por severidad",
		}, []string{"level"}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dte_document_transitions_total",
			Help: "Cambios de estado de documentos",
		}, []string{"from", "to"}),

		SigningDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dte_signing_duration_seconds",
			Help:    "Duración de la firma XMLDSig",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		GatewayDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dte_sii_call_duration_seconds",
			Help:    "Duración de las llamadas al SII incluyendo reintentos",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op", "outcome"}), // outcome: ok, rejected, transport_error, canceled

		GatewayRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dte_sii_retries_total",
			Help: "Reintentos de llamadas al SII",
		}, []string{"op"}),
	}
}

func (m *Metrics) ObserveFolioAllocation(docType int, remaining int64) {
	if m != nil {
		label := strconv.Itoa(docType)
		m.FolioAllocations.WithLabelValues(label).Inc()
		m.FolioRemaining.WithLabelValues(label).Set(float64(remaining))
	}
}

func (m *Metrics) IncFolioAlert(level string) {
	if m != nil {
		m.FolioAlerts.WithLabelValues(level).Inc()
	}
}

func (m *Metrics) IncTransition(from, to string) {
	if m != nil {
		if from == "" {
			from = "none"
		}
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) ObserveSigning(d time.Duration, ok bool) {
	if m != nil {
		outcome := "ok"
		if !ok {
			outcome = "error"
		}
		m.SigningDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveGatewayCall(op, outcome string, d time.Duration) {
	if m != nil {
		m.GatewayDuration.WithLabelValues(op, outcome).Observe(d.Seconds())
	}
}

func (m *Metrics) IncGatewayRetry(op string) {
	if m != nil {
		m.GatewayRetries.WithLabelValues(op).Inc()
	}
}
