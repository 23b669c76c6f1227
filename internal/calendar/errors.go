package calendar

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass はカレンダーAPIエラーの分類。
// リトライ可否の判定に使用する。
type ErrorClass int

const (
	// ClassTransient は一時的なエラー。リトライで回復する可能性がある。
	ClassTransient ErrorClass = iota
	// ClassPermanent は恒久的なエラー。リトライしても回復しない。
	ClassPermanent
	// ClassNotFound は対象リソースが存在しないエラー。
	ClassNotFound
)

// String はエラー分類名を返す。
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	case ClassNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ClassifyStatus はHTTPステータスコードからエラー分類を決定する。
// 429と5xxとタイムアウトは一時的エラー、404と410は対象不在、それ以外は恒久エラー。
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ClassTransient
	case status == http.StatusRequestTimeout:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	case status == http.StatusNotFound || status == http.StatusGone:
		return ClassNotFound
	default:
		return ClassPermanent
	}
}

// APICallError はカレンダーAPI呼び出しの失敗を表す。
type APICallError struct {
	Op     string     // 失敗した操作名
	Status int        // HTTPステータスコード（接続エラー時は0）
	Class  ErrorClass // エラー分類
	Err    error      // 元エラー（あれば）
}

// Error はエラーメッセージを返す。
func (e *APICallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("カレンダーAPI %s が失敗しました (status=%d, class=%s): %v", e.Op, e.Status, e.Class, e.Err)
	}
	return fmt.Sprintf("カレンダーAPI %s が失敗しました (status=%d, class=%s)", e.Op, e.Status, e.Class)
}

// Unwrap は元エラーを返す。
func (e *APICallError) Unwrap() error {
	return e.Err
}

// IsTransient はリトライで回復する可能性のあるエラーかどうかを判定する。
func IsTransient(err error) bool {
	var apiErr *APICallError
	return errors.As(err, &apiErr) && apiErr.Class == ClassTransient
}

// IsPermanent はリトライしても回復しないエラーかどうかを判定する。
func IsPermanent(err error) bool {
	var apiErr *APICallError
	return errors.As(err, &apiErr) && apiErr.Class == ClassPermanent
}

// IsNotFound は対象リソースが存在しないエラーかどうかを判定する。
func IsNotFound(err error) bool {
	var apiErr *APICallError
	return errors.As(err, &apiErr) && apiErr.Class == ClassNotFound
}
