package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/application/billing"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/infrastructure/queue"
	"github.com/jhoicas/dte-api/pkg/logger"
)

type fakeClient struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (c *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (c *fakeClient) payloads(t *testing.T) []queue.PollPayload {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []queue.PollPayload
	for _, task := range c.tasks {
		require.Equal(t, queue.PollStatusTask, task.Type())
		var p queue.PollPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &p))
		out = append(out, p)
	}
	return out
}

type fakePoller struct {
	outcome *billing.StatusOutcome
	err     error
	summary billing.PollSummary
	limit   int
}

func (p *fakePoller) PollStatus(context.Context, string) (*billing.StatusOutcome, error) {
	return p.outcome, p.err
}

func (p *fakePoller) PollPending(_ context.Context, limit int) (billing.PollSummary, error) {
	p.limit = limit
	return p.summary, p.err
}

func pollTask(t *testing.T, p queue.PollPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(queue.PollStatusTask, data)
}

func TestScheduler_SchedulePoll(t *testing.T) {
	client := &fakeClient{}
	s := queue.NewScheduler(client, time.Minute)

	require.NoError(t, s.SchedulePoll(context.Background(), "doc-1", time.Minute))
	assert.Equal(t, []queue.PollPayload{{DocumentID: "doc-1"}}, client.payloads(t))
}

func TestScheduler_ConflictoDeIDNoEsError(t *testing.T) {
	client := &fakeClient{err: asynq.ErrTaskIDConflict}
	s := queue.NewScheduler(client, time.Minute)
	assert.NoError(t, s.SchedulePoll(context.Background(), "doc-1", time.Minute))
}

func TestScheduler_BackoffConTope(t *testing.T) {
	s := queue.NewScheduler(&fakeClient{}, time.Minute)
	assert.Equal(t, time.Minute, s.Backoff(0))
	assert.Equal(t, 4*time.Minute, s.Backoff(2))
	assert.Equal(t, queue.MaxPollDelay, s.Backoff(10))
}

func TestProcessor_PendienteReagenda(t *testing.T) {
	client := &fakeClient{}
	p := queue.NewProcessor(&fakePoller{outcome: &billing.StatusOutcome{Resolved: false}}, queue.NewScheduler(client, time.Minute), logger.Nop())

	err := p.HandlePollStatus(context.Background(), pollTask(t, queue.PollPayload{DocumentID: "doc-1", Attempt: 2}))
	require.NoError(t, err)
	assert.Equal(t, []queue.PollPayload{{DocumentID: "doc-1", Attempt: 3}}, client.payloads(t))
}

func TestProcessor_ResueltoNoReagenda(t *testing.T) {
	client := &fakeClient{}
	p := queue.NewProcessor(&fakePoller{outcome: &billing.StatusOutcome{Resolved: true}}, queue.NewScheduler(client, time.Minute), logger.Nop())

	require.NoError(t, p.HandlePollStatus(context.Background(), pollTask(t, queue.PollPayload{DocumentID: "doc-1"})))
	assert.Empty(t, client.payloads(t))
}

func TestProcessor_IntentosAgotados(t *testing.T) {
	client := &fakeClient{}
	p := queue.NewProcessor(&fakePoller{outcome: &billing.StatusOutcome{}}, queue.NewScheduler(client, time.Minute), logger.Nop())

	err := p.HandlePollStatus(context.Background(), pollTask(t, queue.PollPayload{DocumentID: "doc-1", Attempt: queue.MaxPollAttempts - 1}))
	require.NoError(t, err)
	assert.Empty(t, client.payloads(t))
}

func TestProcessor_ErrorDeEstadoNoSeReintenta(t *testing.T) {
	p := queue.NewProcessor(&fakePoller{err: domain.ErrInvalidTransition}, queue.NewScheduler(&fakeClient{}, time.Minute), logger.Nop())

	err := p.HandlePollStatus(context.Background(), pollTask(t, queue.PollPayload{DocumentID: "doc-1"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessor_ErrorDeTransporteSeReintenta(t *testing.T) {
	transport := &domain.TransportError{Attempts: 4, Err: errors.New("timeout")}
	p := queue.NewProcessor(&fakePoller{err: transport}, queue.NewScheduler(&fakeClient{}, time.Minute), logger.Nop())

	err := p.HandlePollStatus(context.Background(), pollTask(t, queue.PollPayload{DocumentID: "doc-1"}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestProcessor_BarridoUsaLimite(t *testing.T) {
	poller := &fakePoller{summary: billing.PollSummary{Checked: 2, Resolved: 1}}
	p := queue.NewProcessor(poller, queue.NewScheduler(&fakeClient{}, time.Minute), logger.Nop())
	task, err := queue.NewPollPendingTask(50)
	require.NoError(t, err)

	require.NoError(t, p.HandlePollPending(context.Background(), task))
	assert.Equal(t, 50, poller.limit)
}
