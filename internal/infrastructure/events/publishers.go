package events

import (
	"context"
	"errors"
	"sync"

	"github.com/jhoicas/dte-api/internal/application/ports"
	"github.com/jhoicas/dte-api/pkg/logger"
)

// LogPublisher escribe cada evento en el log (sin Redis configurado).
type LogPublisher struct {
	log *logger.Logger
}

// NewLogPublisher crea el publicador.
func NewLogPublisher(log *logger.Logger) *LogPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &LogPublisher{log: log.Component("events")}
}

// Publish implementa ports.EventPublisher.
func (p *LogPublisher) Publish(_ context.Context, ev ports.Event) error {
	p.log.Info().Str("event", ev.EventName()).Interface("payload", ev).Msg("evento")
	return nil
}

// Multi publica en todos los destinos y agrega los errores.
type Multi []ports.EventPublisher

// Publish implementa ports.EventPublisher.
func (m Multi) Publish(ctx context.Context, ev ports.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder guarda los eventos en memoria (tests y modo memoria).
type Recorder struct {
	mu     sync.Mutex
	events []ports.Event
	err    error
}

// NewRecorder crea un Recorder vacío.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish implementa ports.EventPublisher.
func (r *Recorder) Publish(_ context.Context, ev ports.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

// SetError hace fallar las publicaciones siguientes.
func (r *Recorder) SetError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Events copia de los eventos recibidos.
func (r *Recorder) Events() []ports.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.Event, len(r.events))
	copy(out, r.events)
	return out
}

// FolioAlerts eventos FolioAlert recibidos.
func (r *Recorder) FolioAlerts() []ports.FolioAlert {
	var out []ports.FolioAlert
	for _, ev := range r.Events() {
		if a, ok := ev.(ports.FolioAlert); ok {
			out = append(out, a)
		}
	}
	return out
}

// StateChanges eventos DocumentStateChanged recibidos.
func (r *Recorder) StateChanges() []ports.DocumentStateChanged {
	var out []ports.DocumentStateChanged
	for _, ev := range r.Events() {
		if c, ok := ev.(ports.DocumentStateChanged); ok {
			out = append(out, c)
		}
	}
	return out
}

var (
	_ ports.EventPublisher = (*LogPublisher)(nil)
	_ ports.EventPublisher = Multi(nil)
	_ ports.EventPublisher = (*Recorder)(nil)
)
