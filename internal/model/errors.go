// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, sync, webhook, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSyncInProgress = "SYNC_IN_PROGRESS"
	ErrCodeSyncFailed     = "SYNC_FAILED"
	ErrCodeInvalidWebhook = "INVALID_WEBHOOK"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewSyncInProgressError は同期実行中エラーを生成する。
func NewSyncInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncInProgress,
		Message:  "同期処理が既に実行中です。",
		Category: "sync",
		Action:   "実行中の同期が完了するまで待ってから再度お試しください。",
	}
}

// NewSyncFailedError は同期失敗エラーを生成する。
func NewSyncFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSyncFailed,
		Message:  fmt.Sprintf("同期処理に失敗しました: %s", reason),
		Category: "sync",
		Action:   "外部カレンダーの認証設定とネットワーク接続を確認してください。",
	}
}

// NewInvalidWebhookError は不正なwebhookリクエストのエラーを生成する。
func NewInvalidWebhookError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidWebhook,
		Message:  "webhookリクエストの検証に失敗しました。",
		Category: "webhook",
		Action:   "webhookチャンネルの登録設定とトークンを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("無効なリクエストです: %s", reason),
		Category: "validation",
		Action:   "リクエストの形式を確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
