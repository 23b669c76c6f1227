// Package model はドメインモデルを定義する。
package model

import "time"

// SessionStatus はセッションの状態を表す。
type SessionStatus string

const (
	// StatusScheduled は予定済みのセッション。
	StatusScheduled SessionStatus = "scheduled"
	// StatusCompleted は完了したセッション。
	StatusCompleted SessionStatus = "completed"
	// StatusCanceled はキャンセルされたセッション。
	StatusCanceled SessionStatus = "canceled"
)

// SyncSource は最後にこのバージョンを作成した側を表す。
type SyncSource string

const (
	// SourceApp はアプリ側で作成・更新されたことを示す。
	SourceApp SyncSource = "app"
	// SourceCalendar は外部カレンダー側で作成・更新されたことを示す。
	SourceCalendar SyncSource = "calendar"
)

// Session はコーチとプレイヤーのトレーニングセッションを表す。
// 外部カレンダーのイベントと双方向に同期される。
type Session struct {
	ID       int64
	CoachID  int64
	PlayerID int64

	// ユーザー削除後もタイトル合成に使う名前スナップショット
	CoachName  string
	PlayerName string

	// 時刻はすべてUTC正規化済み。EndTime > StartTime が不変条件。
	StartTime time.Time
	EndTime   time.Time

	Status SessionStatus
	Notes  string

	// CalendarEventID は外部カレンダー上のイベントID。
	// 空文字列は「まだ外部に同期されていない」を意味する。
	CalendarEventID string

	// 同期メタデータ。同期パス中はReconciliation Engineのみが書き込む。
	LastSyncAt time.Time
	SyncHash   string
	Source     SyncSource
	Version    int
	IsDirty    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLinked は外部カレンダーのイベントに紐付いているかを返す。
func (s *Session) IsLinked() bool {
	return s.CalendarEventID != ""
}

// SyncChannel は外部カレンダーのwebhookチャンネル登録情報を表す。
// 更新（renewal）の管理のために永続化される。
type SyncChannel struct {
	ID         string // こちらが採番したチャンネルID
	ResourceID string // プロバイダが採番したリソースID
	WebhookURL string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// NeedsRenewal は失効までの残り時間がthreshold未満かを返す。
func (c *SyncChannel) NeedsRenewal(now time.Time, threshold time.Duration) bool {
	return c.ExpiresAt.Sub(now) < threshold
}

// Expired はチャンネルが失効済みかを返す。
func (c *SyncChannel) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
