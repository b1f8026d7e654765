package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/DavidAlphaFox/async-kernel/throttle"
)

// Logging returns middleware that logs job start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, m *throttle.JobMeta, next Handler) error {
		logger.Info("job started",
			slog.String("job_name", m.Name),
			slog.String("job_id", m.ID.String()),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job failed",
				slog.String("job_name", m.Name),
				slog.String("job_id", m.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job completed",
				slog.String("job_name", m.Name),
				slog.String("job_id", m.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
