// Package model はドメインモデルを定義する。
package model

import "time"

// カレンダーのcolorIdとセッション状態の対応。
// 書き込み時は状態ごとに1色、読み取り時は色グループで判定する。
const (
	// ColorScheduled は予定済みセッションの色（青）。
	ColorScheduled = "9"
	// ColorCompleted は完了セッションの色（緑）。
	ColorCompleted = "2"
	// ColorCanceled はキャンセルセッションの色（赤）。
	ColorCanceled = "11"
)

// ExtendedProps はイベントのextended propertiesに格納するキー。
const (
	// PropSessionID はローカルセッションIDへの逆参照。
	PropSessionID = "session_id"
	// PropCoachID はコーチID。
	PropCoachID = "coach_id"
	// PropPlayerID はプレイヤーID。
	PropPlayerID = "player_id"
	// PropContentHash は同期比較用のコンテンツハッシュ。
	PropContentHash = "content_hash"
	// PropManagedBy はアプリ起点の書き込みを示すマーカー。
	// 外部カレンダーUI上のユーザー編集と区別し、エコーループを防ぐ。
	PropManagedBy = "managed_by"

	// ManagedByValue はPropManagedByに書き込む値。
	ManagedByValue = "calsync"
)

// ExternalEvent は外部カレンダーから読み取ったイベント。
// コーデック境界で型付けされ、不正なペイロードはここで検出される。
type ExternalEvent struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	// HasStart/HasEnd は必須フィールドの有無。どちらかがfalseのイベントは
	// 不正（malformed）としてリジェクト経路に回す。
	HasStart bool
	HasEnd   bool
	ColorID  string
	Updated  time.Time
	// PrivateProps はextended properties (private) の内容。
	PrivateProps map[string]string
}

// Status はcolorIdからセッション状態を導出する。
// 赤系 → canceled、緑系 → completed、それ以外 → scheduled。
func (e *ExternalEvent) Status() SessionStatus {
	switch e.ColorID {
	case "11", "6", "5":
		return StatusCanceled
	case "2", "10", "12", "13":
		return StatusCompleted
	default:
		return StatusScheduled
	}
}

// Prop はextended propertyの値を返す。未設定の場合は空文字列。
func (e *ExternalEvent) Prop(key string) string {
	if e.PrivateProps == nil {
		return ""
	}
	return e.PrivateProps[key]
}

// ManagedByApp はこのイベントの最終書き込みがアプリ起点かを返す。
func (e *ExternalEvent) ManagedByApp() bool {
	return e.Prop(PropManagedBy) == ManagedByValue
}

// EventBody は外部カレンダーへ書き込むイベントの本体。
// Calendar APIのinsert/patchリクエストボディに対応する。
type EventBody struct {
	Summary      string
	Description  string
	Start        time.Time
	End          time.Time
	ColorID      string
	PrivateProps map[string]string
}

// ColorForStatus はセッション状態に対応する書き込み用colorIdを返す。
func ColorForStatus(status SessionStatus) string {
	switch status {
	case StatusCompleted:
		return ColorCompleted
	case StatusCanceled:
		return ColorCanceled
	default:
		return ColorScheduled
	}
}
