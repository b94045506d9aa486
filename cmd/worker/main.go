package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/jhoicas/dte-api/internal/bootstrap"
	"github.com/jhoicas/dte-api/internal/infrastructure/queue"
	"github.com/jhoicas/dte-api/pkg/config"
	"github.com/jhoicas/dte-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	if cfg.Queue.RedisAddr == "" {
		log.Fatal().Msg("QUEUE_REDIS_ADDR requerido para el worker")
	}
	log.Info().
		Str("env", cfg.App.Env).
		Str("sii", cfg.SII.Environment).
		Str("barrido", cfg.Queue.SweepCron).
		Msg("iniciando worker de estado")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("inicialización")
	}
	defer deps.Close()

	redis := asynq.RedisClientOpt{Addr: cfg.Queue.RedisAddr}
	worker := log.Component("worker")
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			worker.Warn().Err(err).Str("task", task.Type()).Msg("tarea fallida")
		}),
	})
	processor := queue.NewProcessor(deps.Lifecycle, deps.Scheduler, log)

	sweep, err := queue.NewPollPendingTask(cfg.Queue.SweepLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("tarea de barrido")
	}
	scheduler := asynq.NewScheduler(redis, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register(cfg.Queue.SweepCron, sweep); err != nil {
		log.Fatal().Err(fmt.Errorf("QUEUE_SWEEP_CRON %q: %w", cfg.Queue.SweepCron, err)).Msg("programar barrido")
	}

	if err := srv.Start(processor.Handler()); err != nil {
		log.Fatal().Err(err).Msg("servidor asynq")
	}
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		log.Fatal().Err(err).Msg("scheduler asynq")
	}

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, deteniendo worker...")
	scheduler.Shutdown()
	srv.Shutdown()
	log.Info().Msg("worker detenido")
}
