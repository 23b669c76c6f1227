package sync

import (
	"fmt"

	"github.com/hitoshi/calsync/internal/calendar"
)

// ErrorKind は同期エラーの分類。
type ErrorKind int

const (
	// KindValidationRejected は検証で拒否されたレコードのエラー。
	KindValidationRejected ErrorKind = iota
	// KindTransientAPI はリトライ上限まで回復しなかった一時的APIエラー。
	KindTransientAPI
	// KindPermanentAPI は恒久的なAPIエラー。パス全体を中断する。
	KindPermanentAPI
	// KindDatabase はデータベースエラー。
	KindDatabase
)

// String はエラー分類名を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindValidationRejected:
		return "validation_rejected"
	case KindTransientAPI:
		return "transient_api"
	case KindPermanentAPI:
		return "permanent_api"
	case KindDatabase:
		return "database"
	default:
		return "unknown"
	}
}

// SyncError は同期パスの失敗を分類付きで表す。
type SyncError struct {
	Kind ErrorKind
	Err  error
}

// Error はエラーメッセージを返す。
func (e *SyncError) Error() string {
	return fmt.Sprintf("同期エラー (%s): %v", e.Kind, e.Err)
}

// Unwrap は元エラーを返す。
func (e *SyncError) Unwrap() error {
	return e.Err
}

// classifyAPIError はカレンダーAPIエラーを同期エラー分類に変換する。
func classifyAPIError(err error) ErrorKind {
	if calendar.IsPermanent(err) {
		return KindPermanentAPI
	}
	return KindTransientAPI
}
