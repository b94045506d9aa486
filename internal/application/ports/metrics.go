package ports

// Metrics puerto de métricas de la capa de aplicación; la implementación Prometheus vive en
// infrastructure/metrics.
type Metrics interface {
	ObserveFolioAllocation(docType int, remaining int64)
	IncFolioAlert(level string)
	IncTransition(from, to string)
}

// NopMetrics descarta las métricas.
type NopMetrics struct{}

func (NopMetrics) ObserveFolioAllocation(int, int64) {}
func (NopMetrics) IncFolioAlert(string)              {}
func (NopMetrics) IncTransition(string, string)      {}
