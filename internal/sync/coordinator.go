package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/calsync/internal/notify"
)

// ErrSyncInProgress は拒否モードの手動トリガーが進行中のパスと衝突したことを示す。
var ErrSyncInProgress = errors.New("同期が進行中です")

// Runner は1回の同期パスを実行する。
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Recorder は同期パスの実行結果を計測系へ通知する。
type Recorder interface {
	RecordRun(result *Result, err error)
}

// nopRecorder は計測を行わないRecorder。
type nopRecorder struct{}

func (nopRecorder) RecordRun(*Result, error) {}

// AutoSyncStats は同期パスの累積統計。
type AutoSyncStats struct {
	Running        bool          `json:"running"`
	TotalRuns      int           `json:"total_runs"`
	SuccessfulRuns int           `json:"successful_runs"`
	FailedRuns     int           `json:"failed_runs"`
	LastRunAt      time.Time     `json:"last_run_at"`
	LastDuration   time.Duration `json:"last_duration"`
	LastError      string        `json:"last_error,omitempty"`
}

// flight は進行中の同期パス。doneが閉じられた後にresult/errが読める。
type flight struct {
	trigger string
	done    chan struct{}
	result  *Result
	err     error
}

// Coordinator は同期パスの実行を直列化する。
// 同時に実行されるパスは常に1つであり、進行中のパスへの手動トリガーは
// 合流して同じ結果を受け取る。webhook由来のトリガーは進行中の間
// 1回分にまとめられ、完了後に実行される。
type Coordinator struct {
	runner   Runner
	logger   *slog.Logger
	notifier notify.Notifier
	recorder Recorder

	// bgCtx はEnqueue経由のバックグラウンドパスの寿命を規定する。
	// 生成時に固定され、キャンセルでシャットダウン時に確実に止まる。
	bgCtx context.Context

	mu      sync.Mutex
	current *flight
	pending bool
	stats   AutoSyncStats
}

// NewCoordinator はCoordinatorを生成する。
// bgCtxはwebhook契機のバックグラウンドパスに使われる（nil可、その場合は
// キャンセル不能）。notifierとrecorderはnil可（通知・計測を行わない）。
func NewCoordinator(bgCtx context.Context, runner Runner, logger *slog.Logger, notifier notify.Notifier, recorder Recorder) *Coordinator {
	if bgCtx == nil {
		bgCtx = context.Background()
	}
	if notifier == nil {
		notifier = notify.Multi{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Coordinator{
		runner:   runner,
		logger:   logger,
		notifier: notifier,
		recorder: recorder,
		bgCtx:    bgCtx,
	}
}

// RunManual は同期パスを実行して結果を返す。
// 進行中のパスがある場合はその完了を待ち、同じ結果を返す（合流）。
func (c *Coordinator) RunManual(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if f := c.current; f != nil {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.done:
			return f.result, f.err
		}
	}
	f := &flight{trigger: "manual", done: make(chan struct{})}
	c.current = f
	c.mu.Unlock()

	c.execute(ctx, f)
	return f.result, f.err
}

// TryRunManual はRunManualの拒否モード。
// 進行中のパスがある場合は待たずにErrSyncInProgressを返す。
func (c *Coordinator) TryRunManual(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	f := &flight{trigger: "manual", done: make(chan struct{})}
	c.current = f
	c.mu.Unlock()

	c.execute(ctx, f)
	return f.result, f.err
}

// Enqueue はバックグラウンドでの同期パスを予約する。webhook経路で使用する。
// 進行中のパスがあれば完了後の1回にまとめられる。
func (c *Coordinator) Enqueue() {
	c.mu.Lock()
	if c.current != nil {
		c.pending = true
		c.mu.Unlock()
		return
	}
	f := &flight{trigger: "webhook", done: make(chan struct{})}
	c.current = f
	c.mu.Unlock()

	go c.execute(c.bgCtx, f)
}

// Start は定期同期のループを開始する。ctxのキャンセルで停止する。
func (c *Coordinator) Start(ctx context.Context, interval time.Duration) {
	c.logger.Info("定期同期を開始します", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("定期同期を停止します")
			return
		case <-ticker.C:
			c.runPoll(ctx)
		}
	}
}

// runPoll はtick契機のパスを実行する。進行中のパスがあれば今回は見送る。
func (c *Coordinator) runPoll(ctx context.Context) {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return
	}
	f := &flight{trigger: "poll", done: make(chan struct{})}
	c.current = f
	c.mu.Unlock()

	c.execute(ctx, f)
}

// Status は累積統計と実行中フラグを返す。
func (c *Coordinator) Status() AutoSyncStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Running = c.current != nil
	return stats
}

// execute は1回のパスを実行し、統計・計測・通知を更新する。
// 完了後、保留中のwebhookトリガーがあればバックグラウンドで続けて実行する。
func (c *Coordinator) execute(ctx context.Context, f *flight) {
	started := time.Now()
	c.logger.Info("同期パスを開始します", slog.String("trigger", f.trigger))

	result, err := c.runner.Run(ctx)
	f.result, f.err = result, err

	c.mu.Lock()
	c.current = nil
	c.stats.TotalRuns++
	c.stats.LastRunAt = started
	if err != nil {
		c.stats.FailedRuns++
		c.stats.LastError = err.Error()
	} else {
		c.stats.SuccessfulRuns++
		c.stats.LastError = ""
	}
	if result != nil {
		c.stats.LastDuration = result.Duration
	} else {
		c.stats.LastDuration = time.Since(started)
	}
	pending := c.pending
	c.pending = false
	c.mu.Unlock()

	close(f.done)

	c.recorder.RecordRun(result, err)
	c.notifier.Publish(summarize(f.trigger, result, err))

	if err != nil {
		c.logger.Error("同期パスが失敗しました",
			slog.String("trigger", f.trigger),
			slog.String("error", err.Error()),
		)
	}

	if pending && c.bgCtx.Err() == nil {
		c.mu.Lock()
		if c.current != nil {
			// 既に別のパスが走り始めている。そちらの完了時にまとめられる
			c.pending = true
			c.mu.Unlock()
			return
		}
		nf := &flight{trigger: "webhook", done: make(chan struct{})}
		c.current = nf
		c.mu.Unlock()
		go c.execute(c.bgCtx, nf)
	}
}

// summarize は実行結果を通知用のSummaryに変換する。
func summarize(trigger string, r *Result, err error) notify.Summary {
	s := notify.Summary{Type: trigger, Timestamp: time.Now()}
	if err != nil {
		s.Error = err.Error()
	}
	if r == nil {
		return s
	}

	s.Imported = r.Imported
	s.Updated = r.Updated
	s.Deleted = r.Deleted
	s.Pushed = r.Pushed
	s.PastCompleted = r.PastCompleted
	for _, p := range r.Rejected {
		s.Rejected = append(s.Rejected, problemString(p))
	}
	for _, p := range r.Warnings {
		s.Warnings = append(s.Warnings, problemString(p))
	}
	return s
}

// problemString は問題レコードを通知用の1行テキストに整形する。
func problemString(p ProblemEvent) string {
	return fmt.Sprintf("session=%d event=%s: %s", p.SessionID, p.EventID, p.Reason)
}
