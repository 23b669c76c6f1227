package syncjob

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakePoller struct {
	started  atomic.Int32
	interval time.Duration
}

func (f *fakePoller) Start(ctx context.Context, interval time.Duration) {
	f.interval = interval
	f.started.Add(1)
	<-ctx.Done()
}

type fakeRenewer struct {
	started atomic.Int32
}

func (f *fakeRenewer) StartRenewalLoop(ctx context.Context, _ time.Duration) {
	f.started.Add(1)
	<-ctx.Done()
}

func TestJobRun_StartsBothLoopsAndStopsOnCancel(t *testing.T) {
	poller := &fakePoller{}
	renewer := &fakeRenewer{}
	job := NewJob(poller, renewer, testLogger, 5*time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Run(ctx)
	}()

	// 両ループの起動を待つ
	deadline := time.After(2 * time.Second)
	for poller.started.Load() == 0 || renewer.started.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("ループが起動しなかった")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後もRunが終了しなかった")
	}

	if poller.interval != 5*time.Minute {
		t.Errorf("syncInterval = %v, want 5m", poller.interval)
	}
}

func TestJobRun_NilRenewerSkipsRenewalLoop(t *testing.T) {
	poller := &fakePoller{}
	job := NewJob(poller, nil, testLogger, time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		job.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for poller.started.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("定期同期ループが起動しなかった")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後もRunが終了しなかった")
	}
}
