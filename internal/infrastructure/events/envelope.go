// Package events publica los eventos del pipeline DTE hacia la capa de notificaciones
// (Redis Pub/Sub) y provee publicadores de log y en memoria.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jhoicas/dte-api/internal/application/ports"
)

// Envelope formato en el canal: tipo, fecha de publicación y payload del evento.
type Envelope struct {
	Type        string          `json:"type"`
	PublishedAt time.Time       `json:"publishedAt"`
	Payload     json.RawMessage `json:"payload"`
}

// Encode serializa el evento dentro de su Envelope.
func Encode(ev ports.Event, at time.Time) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("serializar evento %s: %w", ev.EventName(), err)
	}
	return json.Marshal(Envelope{Type: ev.EventName(), PublishedAt: at.UTC(), Payload: payload})
}
