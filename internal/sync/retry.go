package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/calsync/internal/calendar"
)

const (
	// retryBaseDelay は指数バックオフの初回遅延。
	retryBaseDelay = 250 * time.Millisecond
	// defaultMaxAttempts は1操作あたりの最大試行回数の既定値。
	defaultMaxAttempts = 3
)

// withRetry はfnを実行し、一時的なAPIエラーに限り指数バックオフでリトライする。
// 恒久エラーと対象不在エラーは即座に返す。コンテキストのキャンセルで中断する。
// リトライ回数はresult.Retriesに加算される。
func withRetry(ctx context.Context, logger *slog.Logger, op string, maxAttempts int, result *Result, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	delay := retryBaseDelay
	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !calendar.IsTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		logger.Warn("一時的なエラーのためリトライします",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		result.Retries++
		delay *= 2
	}

	logger.Warn("リトライ上限に達しました",
		slog.String("op", op),
		slog.Int("attempts", maxAttempts),
		slog.String("error", err.Error()),
	)
	return err
}
