package repository

import (
	"testing"
	"time"

	"github.com/hitoshi/calsync/internal/model"
)

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

// NewPostgresSessionRepoが正しく初期化されることを検証
func TestNewPostgresSessionRepo_Initializes(t *testing.T) {
	repo := NewPostgresSessionRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// nullStringの変換を検証
func TestNullString(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("空文字列は無効なNullStringになるべき")
	}
	ns := nullString("ev-1")
	if !ns.Valid || ns.String != "ev-1" {
		t.Errorf("nullString(%q) = %+v", "ev-1", ns)
	}
	if got := nullStringValue(ns); got != "ev-1" {
		t.Errorf("nullStringValue() = %q, want %q", got, "ev-1")
	}
	if got := nullStringValue(nullString("")); got != "" {
		t.Errorf("nullStringValue() = %q, want empty", got)
	}
}

// nullTimeの変換を検証
func TestNullTime(t *testing.T) {
	if nt := nullTime(time.Time{}); nt.Valid {
		t.Error("ゼロ値の時刻は無効なNullTimeになるべき")
	}
	now := time.Now()
	nt := nullTime(now)
	if !nt.Valid || !nt.Time.Equal(now) {
		t.Errorf("nullTime() = %+v", nt)
	}
}

// 未紐付けセッションのモデル表現を検証
func TestSessionModel_Unlinked(t *testing.T) {
	session := &model.Session{
		ID:        1,
		CoachID:   10,
		PlayerID:  20,
		StartTime: time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC),
		Status:    model.StatusScheduled,
	}

	if session.IsLinked() {
		t.Error("calendar_event_idが空のセッションは未紐付けであるべき")
	}
	if !session.LastSyncAt.IsZero() {
		t.Error("last_sync_atはデフォルトでゼロ値であるべき")
	}
}
