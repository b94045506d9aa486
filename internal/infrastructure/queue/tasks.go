// Package queue agenda y procesa las consultas de estado al SII con asynq.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jhoicas/dte-api/internal/application/ports"
)

const (
	// PollStatusTask consulta el estado de un documento enviado.
	PollStatusTask = "document:poll_status"
	// PollPendingTask barrido periódico de documentos en sent.
	PollPendingTask = "document:poll_pending"
)

// MaxPollAttempts consultas agendadas por documento antes de dejarlo al barrido periódico.
const MaxPollAttempts = 20

// MaxPollDelay tope del backoff entre consultas.
const MaxPollDelay = 30 * time.Minute

// PollPayload viaja serializado en la tarea.
type PollPayload struct {
	DocumentID string `json:"document_id"`
	Attempt    int    `json:"attempt"`
}

// PendingPayload parámetros del barrido.
type PendingPayload struct {
	Limit int `json:"limit"`
}

// Enqueuer lo implementa *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler implementa ports.StatusPollScheduler sobre asynq.
type Scheduler struct {
	client Enqueuer
	base   time.Duration
}

var _ ports.StatusPollScheduler = (*Scheduler)(nil)

// NewScheduler base es la espera inicial; cada reintento la duplica hasta MaxPollDelay.
func NewScheduler(client Enqueuer, base time.Duration) *Scheduler {
	if base <= 0 {
		base = time.Minute
	}
	return &Scheduler{client: client, base: base}
}

// SchedulePoll agenda la primera consulta del documento.
func (s *Scheduler) SchedulePoll(ctx context.Context, documentID string, delay time.Duration) error {
	return s.enqueue(ctx, PollPayload{DocumentID: documentID}, delay)
}

// Reschedule agenda la siguiente consulta. Devuelve false si se agotaron los intentos.
func (s *Scheduler) Reschedule(ctx context.Context, p PollPayload) (bool, error) {
	next := PollPayload{DocumentID: p.DocumentID, Attempt: p.Attempt + 1}
	if next.Attempt >= MaxPollAttempts {
		return false, nil
	}
	return true, s.enqueue(ctx, next, s.Backoff(next.Attempt))
}

// Backoff espera antes del intento n (base · 2^n, con tope).
func (s *Scheduler) Backoff(attempt int) time.Duration {
	d := s.base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= MaxPollDelay {
			return MaxPollDelay
		}
	}
	return d
}

func (s *Scheduler) enqueue(ctx context.Context, p PollPayload, delay time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(PollStatusTask, data)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.TaskID(fmt.Sprintf("poll:%s:%d", p.DocumentID, p.Attempt)),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue poll %s: %w", p.DocumentID, err)
	}
	return nil
}

// NewPollPendingTask tarea para registrar en el asynq.Scheduler periódico.
func NewPollPendingTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(PendingPayload{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(PollPendingTask, data), nil
}
