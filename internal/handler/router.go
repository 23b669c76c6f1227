package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/calsync/internal/metrics"
	"github.com/hitoshi/calsync/internal/middleware"
	"github.com/hitoshi/calsync/internal/notify"
)

// Pinger はヘルスチェックで使用するDB接続の疎通確認インターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Sync        SyncTrigger
	Results     *notify.Store
	Verifier    ChannelVerifier
	DB          Pinger
	RateLimiter *middleware.RateLimiter
	Logger      *slog.Logger
	Gatherer    prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware
//
// 手動同期トリガーにはクライアントIP単位のレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	syncHandler := NewSyncHandler(deps.Sync, deps.Results)
	webhookHandler := NewWebhookHandler(deps.Sync, deps.Verifier)

	// 同期トリガーと状態参照
	r.Route("/api/sync", func(r chi.Router) {
		r.With(deps.RateLimiter.ManualSyncMiddleware()).Post("/", syncHandler.TriggerSync)
		r.Get("/status", syncHandler.SyncStatus)
	})

	// 外部カレンダーからのプッシュ通知
	r.Route("/webhook", func(r chi.Router) {
		r.Post("/calendar", webhookHandler.Notify)
		r.Get("/status", webhookHandler.Status)
	})

	// 運用エンドポイント
	r.Get("/health", healthHandler(deps.DB))
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			slog.Error("ヘルスチェックに失敗しました", slog.String("error", err.Error()))
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
			})
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
