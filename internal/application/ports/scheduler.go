package ports

import (
	"context"
	"time"
)

// StatusPollScheduler agenda la consulta de estado de un documento enviado (cola asynq).
type StatusPollScheduler interface {
	SchedulePoll(ctx context.Context, documentID string, delay time.Duration) error
}

// NopScheduler no agenda nada; el barrido periódico del worker cubre esos documentos.
type NopScheduler struct{}

func (NopScheduler) SchedulePoll(context.Context, string, time.Duration) error { return nil }
