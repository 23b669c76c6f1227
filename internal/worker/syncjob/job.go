// Package syncjob は同期のバックグラウンド実行を提供する。
// 定期同期ループとwebhookチャンネル更新ループをまとめて起動する。
package syncjob

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller は定期同期ループを実行する。sync.Coordinatorが実装する。
type Poller interface {
	// Start は定期同期のループを開始する。ctxのキャンセルで停止する。
	Start(ctx context.Context, interval time.Duration)
}

// Renewer はwebhookチャンネルの更新ループを実行する。channel.Managerが実装する。
type Renewer interface {
	// StartRenewalLoop はチャンネルの失効チェックを定期実行する。
	StartRenewalLoop(ctx context.Context, interval time.Duration)
}

// Job は同期のバックグラウンドジョブ一式。
type Job struct {
	poller        Poller
	renewer       Renewer
	logger        *slog.Logger
	syncInterval  time.Duration
	renewInterval time.Duration
}

// NewJob はJobを生成する。
// renewerはnil可（webhookチャンネルを使用しない構成）。
func NewJob(poller Poller, renewer Renewer, logger *slog.Logger, syncInterval, renewInterval time.Duration) *Job {
	return &Job{
		poller:        poller,
		renewer:       renewer,
		logger:        logger,
		syncInterval:  syncInterval,
		renewInterval: renewInterval,
	}
}

// Run は全ループを起動し、ctxがキャンセルされるまでブロックする。
func (j *Job) Run(ctx context.Context) {
	j.logger.Info("同期ジョブを開始します",
		slog.Duration("sync_interval", j.syncInterval),
		slog.Duration("renew_interval", j.renewInterval),
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		j.poller.Start(ctx, j.syncInterval)
	}()

	if j.renewer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.renewer.StartRenewalLoop(ctx, j.renewInterval)
		}()
	}

	wg.Wait()
	j.logger.Info("同期ジョブを停止しました")
}
