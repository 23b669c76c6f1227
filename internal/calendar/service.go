// Package calendar はGoogleカレンダーAPIとの連携機能を提供する。
// イベントのCRUD操作とwebhookチャンネルの登録・停止を含む。
package calendar

import (
	"context"
	"time"

	"github.com/hitoshi/calsync/internal/model"
)

// WatchRequest はwebhookチャンネル登録のリクエスト。
type WatchRequest struct {
	ChannelID  string    // 登録するチャンネルの一意ID
	Address    string    // 通知先webhook URL
	Token      string    // 通知検証用トークン（空なら未使用）
	Expiration time.Time // チャンネルの有効期限
}

// WatchResponse はwebhookチャンネル登録の結果。
type WatchResponse struct {
	ResourceID string    // 監視対象リソースのID（停止時に必要）
	Expiration time.Time // プロバイダが確定した有効期限
}

// Service はカレンダープロバイダへの操作を抽象化する。
// 同期エンジンとチャンネル管理はこのインターフェース経由でアクセスする。
type Service interface {
	// ListEvents は指定期間内のイベントを全件取得する。ページングは内部で処理する。
	ListEvents(ctx context.Context, from, to time.Time) ([]model.ExternalEvent, error)
	// CreateEvent はイベントを新規作成し、採番されたイベントを返す。
	CreateEvent(ctx context.Context, body model.EventBody) (*model.ExternalEvent, error)
	// UpdateEvent は既存イベントを更新する。
	UpdateEvent(ctx context.Context, eventID string, body model.EventBody) (*model.ExternalEvent, error)
	// DeleteEvent はイベントを削除する。
	DeleteEvent(ctx context.Context, eventID string) error
	// Watch はカレンダー変更通知のwebhookチャンネルを登録する。
	Watch(ctx context.Context, req WatchRequest) (*WatchResponse, error)
	// StopChannel はwebhookチャンネルを停止する。
	StopChannel(ctx context.Context, channelID, resourceID string) error
}
