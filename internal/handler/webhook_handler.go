package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/calsync/internal/middleware"
	"github.com/hitoshi/calsync/internal/model"
)

// 外部カレンダーのプッシュ通知ヘッダー。
const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerChannelToken  = "X-Goog-Channel-Token"
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceState = "X-Goog-Resource-State"
)

// stateSync はチャンネル登録直後に届く確認通知のステート。同期対象の変更ではない。
const stateSync = "sync"

// ChannelVerifier はwebhook通知の検証とチャンネル状態の参照を抽象化する。
// channel.Managerが実装する。
type ChannelVerifier interface {
	// Verify は通知のチャンネルIDとトークンが現在の登録と一致するかを返す。
	Verify(ctx context.Context, channelID, token string) (bool, error)
	// Current は現在のチャンネル登録情報を返す。登録がない場合はnilを返す。
	Current(ctx context.Context) (*model.SyncChannel, error)
}

// WebhookHandler は外部カレンダーからのプッシュ通知を処理する。
type WebhookHandler struct {
	trigger  SyncTrigger
	verifier ChannelVerifier
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(trigger SyncTrigger, verifier ChannelVerifier) *WebhookHandler {
	return &WebhookHandler{trigger: trigger, verifier: verifier}
}

// Notify はカレンダー変更通知を処理する。
// POST /webhook/calendar
// 通知元はレスポンスの内容を見ないため、検証を通った通知には
// 同期パスの実行を待たず即座に200を返す。
func (h *WebhookHandler) Notify(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get(headerChannelID)
	resourceID := r.Header.Get(headerResourceID)
	state := r.Header.Get(headerResourceState)

	if channelID == "" || resourceID == "" || state == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidWebhookError())
		return
	}

	ok, err := h.verifier.Verify(r.Context(), channelID, r.Header.Get(headerChannelToken))
	if err != nil {
		slog.Error("webhookの検証に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	if !ok {
		slog.Warn("未知のチャンネルからのwebhook通知を拒否しました",
			slog.String("channel_id", channelID),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidWebhookError())
		return
	}

	// 登録確認通知は変更を含まないためACKのみ
	if state == stateSync {
		w.WriteHeader(http.StatusOK)
		return
	}

	slog.Info("カレンダー変更通知を受信しました",
		slog.String("channel_id", channelID),
		slog.String("state", state),
	)
	h.trigger.Enqueue()
	w.WriteHeader(http.StatusOK)
}

// webhookStatusResponse はチャンネル登録状態のAPIレスポンス。
type webhookStatusResponse struct {
	Registered bool       `json:"registered"`
	ChannelID  string     `json:"channel_id,omitempty"`
	ResourceID string     `json:"resource_id,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Status はwebhookチャンネルの登録状態を返す。
// GET /webhook/status
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	ch, err := h.verifier.Current(r.Context())
	if err != nil {
		slog.Error("チャンネル情報の取得に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	resp := webhookStatusResponse{}
	if ch != nil {
		resp.Registered = true
		resp.ChannelID = ch.ID
		resp.ResourceID = ch.ResourceID
		resp.ExpiresAt = &ch.ExpiresAt
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
