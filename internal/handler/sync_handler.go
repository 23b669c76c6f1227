// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/calsync/internal/middleware"
	"github.com/hitoshi/calsync/internal/model"
	"github.com/hitoshi/calsync/internal/notify"
	syncpkg "github.com/hitoshi/calsync/internal/sync"
)

// SyncTrigger は同期パスのトリガー操作を抽象化する。
// sync.Coordinatorが実装する。
type SyncTrigger interface {
	// RunManual は同期パスを実行して結果を返す。進行中のパスには合流する。
	RunManual(ctx context.Context) (*syncpkg.Result, error)
	// TryRunManual は進行中のパスがある場合に待たずエラーを返す。
	TryRunManual(ctx context.Context) (*syncpkg.Result, error)
	// Enqueue はバックグラウンドでの同期パスを予約する。
	Enqueue()
	// Status は累積統計を返す。
	Status() syncpkg.AutoSyncStats
}

// SyncHandler は同期トリガーと状態参照のHTTPハンドラー。
type SyncHandler struct {
	trigger SyncTrigger
	results *notify.Store
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(trigger SyncTrigger, results *notify.Store) *SyncHandler {
	return &SyncHandler{trigger: trigger, results: results}
}

// syncResultResponse は同期実行結果のAPIレスポンス。
type syncResultResponse struct {
	Imported      int      `json:"imported"`
	Updated       int      `json:"updated"`
	Deleted       int      `json:"deleted"`
	Pushed        int      `json:"pushed"`
	Skipped       int      `json:"skipped"`
	PastCompleted int      `json:"past_completed"`
	Rejected      []string `json:"rejected"`
	Warnings      []string `json:"warnings"`
	DurationMs    float64  `json:"duration_ms"`
}

// syncStatusResponse は同期状態のAPIレスポンス。
type syncStatusResponse struct {
	Stats syncpkg.AutoSyncStats `json:"stats"`
	Last  *lastSummaryResponse  `json:"last"`
}

// lastSummaryResponse は直近の同期結果の要約。
type lastSummaryResponse struct {
	Type          string    `json:"type"`
	Imported      int       `json:"imported"`
	Updated       int       `json:"updated"`
	Deleted       int       `json:"deleted"`
	Pushed        int       `json:"pushed"`
	PastCompleted int       `json:"past_completed"`
	Rejected      []string  `json:"rejected"`
	Warnings      []string  `json:"warnings"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// TriggerSync は手動の同期トリガーを処理する。
// POST /api/sync
// デフォルトではパスの完了を待って結果を返す。mode=rejectの場合、
// 進行中のパスがあれば409を返す。
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var result *syncpkg.Result
	var err error

	switch mode := r.URL.Query().Get("mode"); mode {
	case "reject":
		result, err = h.trigger.TryRunManual(r.Context())
		if errors.Is(err, syncpkg.ErrSyncInProgress) {
			middleware.WriteErrorResponse(w, http.StatusConflict, model.NewSyncInProgressError())
			return
		}
	case "", "wait":
		result, err = h.trigger.RunManual(r.Context())
	default:
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("不明なmodeです: "+mode))
		return
	}

	if err != nil {
		slog.Error("手動同期に失敗しました", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusInternalServerError,
			model.NewSyncFailedError(err.Error()))
		return
	}

	writeJSONResponse(w, http.StatusOK, toSyncResultResponse(result))
}

// SyncStatus は同期の累積統計と直近の結果を返す。
// GET /api/sync/status
func (h *SyncHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := syncStatusResponse{Stats: h.trigger.Status()}
	if last := h.results.Last(); last != nil {
		resp.Last = toLastSummaryResponse(last)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// --- ヘルパー関数 ---

// toSyncResultResponse はsync.ResultからAPIレスポンスに変換する。
func toSyncResultResponse(r *syncpkg.Result) syncResultResponse {
	resp := syncResultResponse{
		Imported:      r.Imported,
		Updated:       r.Updated,
		Deleted:       r.Deleted,
		Pushed:        r.Pushed,
		Skipped:       r.Skipped,
		PastCompleted: r.PastCompleted,
		Rejected:      []string{},
		Warnings:      []string{},
		DurationMs:    float64(r.Duration.Nanoseconds()) / float64(time.Millisecond),
	}
	for _, p := range r.Rejected {
		resp.Rejected = append(resp.Rejected, p.Reason)
	}
	for _, p := range r.Warnings {
		resp.Warnings = append(resp.Warnings, p.Reason)
	}
	return resp
}

// toLastSummaryResponse はnotify.SummaryからAPIレスポンスに変換する。
func toLastSummaryResponse(s *notify.Summary) *lastSummaryResponse {
	return &lastSummaryResponse{
		Type:          s.Type,
		Imported:      s.Imported,
		Updated:       s.Updated,
		Deleted:       s.Deleted,
		Pushed:        s.Pushed,
		PastCompleted: s.PastCompleted,
		Rejected:      s.Rejected,
		Warnings:      s.Warnings,
		Error:         s.Error,
		Timestamp:     s.Timestamp,
	}
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
