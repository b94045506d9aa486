// Package dte contiene reglas puras de emisión de documentos tributarios electrónicos (SII Chile):
// alertas de folios, auditoría de secuencias, montos y validación local del documento.
package dte

// AlertLevel severidad de folios restantes.
type AlertLevel string

const (
	AlertOK       AlertLevel = "ok"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Umbrales de folios restantes.
const (
	CriticalThreshold = 10
	WarningThreshold  = 50
)

// Alert nivel y folios restantes de un rango.
type Alert struct {
	Level     AlertLevel `json:"level"`
	Remaining int64      `json:"remaining"`
}

// RemainingAlert clasifica los folios restantes: ≤10 critical, ≤50 warning, si no ok.
func RemainingAlert(remaining int64) Alert {
	switch {
	case remaining <= CriticalThreshold:
		return Alert{Level: AlertCritical, Remaining: remaining}
	case remaining <= WarningThreshold:
		return Alert{Level: AlertWarning, Remaining: remaining}
	default:
		return Alert{Level: AlertOK, Remaining: remaining}
	}
}
