package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/docorganizer/docorganizer/internal/bot"
	"github.com/docorganizer/docorganizer/internal/config"
	"github.com/docorganizer/docorganizer/internal/locks"
	"github.com/hibiken/asynq"
)

// phoneLockTTL bounds how long a crashed task can hold a user's lease.
const phoneLockTTL = 5 * time.Minute

// Run starts the Asynq worker server and blocks until shutdown signal.
// Use this for standalone worker mode.
func Run(cfg *config.Config, engine *bot.Engine, locker *locks.Locker) error {
	srv, mux, err := newServer(cfg, engine, locker)
	if err != nil {
		return err
	}
	return srv.Run(mux)
}

// Start starts the Asynq worker in non-blocking mode and returns a stop
// function. Use this for embedded mode so the caller can coordinate shutdown.
func Start(cfg *config.Config, engine *bot.Engine, locker *locks.Locker) (stop func(), err error) {
	srv, mux, err := newServer(cfg, engine, locker)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(cfg *config.Config, engine *bot.Engine, locker *locks.Locker) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := NewLogger(cfg.LogLevel, cfg.LogFormat)

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     5,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(logger)),
			Logger:          &asynqLoggerAdapter{logger: logger},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskParseSyllabus, handleParseSyllabus(logger, engine, locker))
	mux.HandleFunc(TaskProvisionFolders, handleProvisionFolders(logger, engine, locker))
	mux.HandleFunc(TaskSortFile, handleSortFile(logger, engine, locker))
	mux.HandleFunc(TaskExpirePending, handleExpirePending(logger, engine))

	logger.Info("Worker starting", "concurrency", 5, "redis", cfg.RedisURL)
	return srv, mux, nil
}

// withPhoneLock serializes background work per phone number. Two files sent
// back-to-back otherwise race on the pending slot and the folder-map
// read-modify-write.
func withPhoneLock(ctx context.Context, locker *locks.Locker, phone string, fn func(context.Context) error) error {
	if err := locker.WithLease(ctx, "phone:"+phone, phoneLockTTL, fn); err != nil {
		return fmt.Errorf("serialized work for %s failed: %w", phone, err)
	}
	return nil
}

func handleParseSyllabus(logger *slog.Logger, engine *bot.Engine, locker *locks.Locker) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload mediaPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}

		logger.Info("Processing syllabus:parse task", "phone", payload.Phone)
		return withPhoneLock(ctx, locker, payload.Phone, func(ctx context.Context) error {
			if err := engine.ProcessSyllabus(ctx, payload.Phone, payload.MediaID, payload.LocalPath); err != nil {
				// The user already got a chat message; don't retry on top.
				return fmt.Errorf("syllabus parse failed: %v: %w", err, asynq.SkipRetry)
			}
			return nil
		})
	}
}

func handleProvisionFolders(logger *slog.Logger, engine *bot.Engine, locker *locks.Locker) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload phonePayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}

		logger.Info("Processing folders:provision task", "phone", payload.Phone)
		return withPhoneLock(ctx, locker, payload.Phone, func(ctx context.Context) error {
			if err := engine.ProvisionFolders(ctx, payload.Phone); err != nil {
				// Retrying a half-built tree duplicates folders.
				return fmt.Errorf("folder provisioning failed: %v: %w", err, asynq.SkipRetry)
			}
			return nil
		})
	}
}

func handleSortFile(logger *slog.Logger, engine *bot.Engine, locker *locks.Locker) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload mediaPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}

		logger.Info("Processing sort:file task", "phone", payload.Phone)
		return withPhoneLock(ctx, locker, payload.Phone, func(ctx context.Context) error {
			if err := engine.ProcessFile(ctx, payload.Phone, payload.MediaID, payload.LocalPath); err != nil {
				return fmt.Errorf("file sort failed: %v: %w", err, asynq.SkipRetry)
			}
			return nil
		})
	}
}

func handleExpirePending(logger *slog.Logger, engine *bot.Engine) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		if err := engine.SweepExpiredPending(ctx); err != nil {
			// Database hiccup: retryable, the sweep is idempotent.
			return fmt.Errorf("pending sweep failed: %w", err)
		}
		return nil
	}
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		logger.Error(
			"Task execution failed",
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		)

		if retried >= maxRetry {
			logger.Error(
				"Task moved to dead letter queue (all retries exhausted)",
				"task_type", task.Type(),
				"payload", string(task.Payload()),
			)
		}
	}
}
