package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/pkg/logger"
)

// Poller lo implementa *billing.Lifecycle.
type Poller interface {
	PollStatus(ctx context.Context, documentID string) (*billing.StatusOutcome, error)
	PollPending(ctx context.Context, limit int) (billing.PollSummary, error)
}

// Processor se conecta al loop del worker asynq.
type Processor struct {
	poller    Poller
	scheduler *Scheduler
	log       *logger.Logger
}

// NewProcessor construye el procesador.
func NewProcessor(poller Poller, scheduler *Scheduler, log *logger.Logger) *Processor {
	return &Processor{poller: poller, scheduler: scheduler, log: log.Component("queue")}
}

// Handler registra los handlers de las tareas.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(PollStatusTask, p.HandlePollStatus)
	mux.HandleFunc(PollPendingTask, p.HandlePollPending)
	return mux
}

// HandlePollStatus consulta un documento; si sigue pendiente agenda la siguiente consulta.
// Los errores de validación o de estado no se reintentan.
func (p *Processor) HandlePollStatus(ctx context.Context, task *asynq.Task) error {
	var payload PollPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	out, err := p.poller.PollStatus(ctx, payload.DocumentID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrValidation):
			p.log.Warn().Err(err).Str("document_id", payload.DocumentID).Msg("consulta descartada")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	if out.Resolved {
		return nil
	}
	more, err := p.scheduler.Reschedule(ctx, payload)
	if err != nil {
		return err
	}
	if !more {
		p.log.Info().Str("document_id", payload.DocumentID).Int("attempts", payload.Attempt+1).
			Msg("consultas agotadas; queda para el barrido periódico")
	}
	return nil
}

// HandlePollPending ejecuta el barrido de documentos enviados.
func (p *Processor) HandlePollPending(ctx context.Context, task *asynq.Task) error {
	payload := PendingPayload{Limit: 100}
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	sum, err := p.poller.PollPending(ctx, payload.Limit)
	if err != nil {
		return err
	}
	p.log.Info().Int("checked", sum.Checked).Int("resolved", sum.Resolved).Int("failed", sum.Failed).Msg("barrido de pendientes")
	return nil
}
