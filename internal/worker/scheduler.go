package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/docorganizer/docorganizer/internal/config"
	"github.com/hibiken/asynq"
)

// expireSchedule runs the pending-action sweep every five minutes. Staged
// uploads live half an hour; a five-minute sweep granularity is plenty.
const expireSchedule = "*/5 * * * *"

// StartScheduler creates and starts an Asynq Scheduler for the periodic
// pending-action expiry sweep. Returns a stop function for graceful shutdown.
func StartScheduler(cfg *config.Config) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := NewLogger(cfg.LogLevel, cfg.LogFormat)

	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
			Logger:   &asynqLoggerAdapter{logger: logger},
		},
	)

	task := asynq.NewTask(
		TaskExpirePending,
		nil, // no payload, the handler sweeps everything past its TTL
		asynq.MaxRetry(1),
		asynq.Timeout(time.Minute),
		asynq.Unique(4*time.Minute), // prevent pile-up if a sweep runs long
	)

	entryID, err := scheduler.Register(expireSchedule, task)
	if err != nil {
		return nil, fmt.Errorf("failed to register expiry schedule: %w", err)
	}

	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	slog.Info("Scheduler started", "schedule", expireSchedule, "entry_id", entryID)
	return func() { scheduler.Shutdown() }, nil
}
