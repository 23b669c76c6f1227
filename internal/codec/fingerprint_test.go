package codec

import (
	"testing"
	"time"

	"github.com/hitoshi/calsync/internal/model"
)

// 同一内容のセッションとイベントフィールドが同じフィンガープリントになることを検証
func TestFingerprint_SessionAndFieldsMatch(t *testing.T) {
	s := testSession()
	f := &SessionFields{
		CoachID:  s.CoachID,
		PlayerID: s.PlayerID,
		Start:    s.StartTime,
		End:      s.EndTime,
		Status:   s.Status,
		Notes:    s.Notes,
	}

	if SessionFingerprint(s) != FieldsFingerprint(f) {
		t.Error("同一内容のセッションとフィールドのフィンガープリントが一致しない")
	}
}

// 同期対象フィールドの変更でフィンガープリントが変わることを検証
func TestFingerprint_ChangesWithContent(t *testing.T) {
	base := testSession()
	baseFP := SessionFingerprint(base)

	mutations := []struct {
		name   string
		mutate func(*model.Session)
	}{
		{"start変更", func(s *model.Session) { s.StartTime = s.StartTime.Add(time.Hour) }},
		{"end変更", func(s *model.Session) { s.EndTime = s.EndTime.Add(time.Hour) }},
		{"status変更", func(s *model.Session) { s.Status = model.StatusCanceled }},
		{"notes変更", func(s *model.Session) { s.Notes = "changed" }},
		{"coach変更", func(s *model.Session) { s.CoachID = 99 }},
	}

	for _, tt := range mutations {
		s := testSession()
		tt.mutate(s)
		if SessionFingerprint(s) == baseFP {
			t.Errorf("%s: フィンガープリントが変わるべき", tt.name)
		}
	}
}

// 同期非対象フィールドの変更でフィンガープリントが変わらないことを検証
func TestFingerprint_IgnoresNonSyncFields(t *testing.T) {
	base := testSession()
	baseFP := SessionFingerprint(base)

	s := testSession()
	s.Version = 100
	s.IsDirty = true
	s.CalendarEventID = "evt-xyz"
	s.LastSyncAt = time.Now()

	if SessionFingerprint(s) != baseFP {
		t.Error("同期非対象フィールドの変更でフィンガープリントが変わった")
	}
}

// タイムゾーン表現の違いが正規化されることを検証
func TestFingerprint_TimezoneNormalized(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)

	a := testSession()
	b := testSession()
	b.StartTime = b.StartTime.In(jst)
	b.EndTime = b.EndTime.In(jst)

	if SessionFingerprint(a) != SessionFingerprint(b) {
		t.Error("同一時刻の異なるタイムゾーン表現でフィンガープリントが一致しない")
	}
}

// マイクロ秒以下の揺れが正規化されることを検証
func TestFingerprint_SubsecondTruncated(t *testing.T) {
	a := testSession()
	b := testSession()
	b.StartTime = b.StartTime.Add(500 * time.Millisecond)

	if SessionFingerprint(a) != SessionFingerprint(b) {
		t.Error("秒未満の差でフィンガープリントが変わった")
	}
}
