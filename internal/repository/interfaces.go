// Package repository はデータアクセス層のインターフェースと実装を提供する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/calsync/internal/model"
)

// SessionRepository はセッションの永続化を担当する。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Session, error)
	// FindByEventID はカレンダーイベントIDでセッションを検索する。見つからない場合はnilを返す。
	FindByEventID(ctx context.Context, eventID string) (*model.Session, error)
	// ListByStartRange は開始時刻が[from, to)のセッションを全件取得する。
	ListByStartRange(ctx context.Context, from, to time.Time) ([]*model.Session, error)
	// ListLinkedInRange は開始時刻が[from, to)でカレンダーに紐付け済みのセッションを取得する。
	ListLinkedInRange(ctx context.Context, from, to time.Time) ([]*model.Session, error)
	// ListUnlinked は開始時刻が[from, to)で未紐付けかつキャンセルされていないセッションを取得する。
	ListUnlinked(ctx context.Context, from, to time.Time) ([]*model.Session, error)
	// ListDirty は外部への未送信変更があるセッションを取得する。
	ListDirty(ctx context.Context) ([]*model.Session, error)
	// ListPastScheduled は終了時刻がnowより前でステータスがscheduledのままのセッションを取得する。
	ListPastScheduled(ctx context.Context, now time.Time) ([]*model.Session, error)
	// Create はセッションを作成し、採番されたIDをセットする。
	Create(ctx context.Context, session *model.Session) error
	// Update はセッションを更新する。
	Update(ctx context.Context, session *model.Session) error
	// Delete はセッションを削除する。
	Delete(ctx context.Context, id int64) error
}

// ChannelRepository はwebhookチャンネル登録情報の永続化を担当する。
// チャンネルは同時に1つのみ有効とする。
type ChannelRepository interface {
	// Save はチャンネル情報を保存する。既存行があれば置き換える。
	Save(ctx context.Context, channel *model.SyncChannel) error
	// Find は現在のチャンネル情報を取得する。登録がない場合はnilを返す。
	Find(ctx context.Context) (*model.SyncChannel, error)
	// Delete はチャンネル情報を削除する。
	Delete(ctx context.Context, channelID string) error
}

// TxBeginner はトランザクションを開始できるデータベース接続。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
