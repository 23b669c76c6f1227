package codec

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/hitoshi/calsync/internal/model"
)

// fingerprintFields は同期比較に参加するフィールドの集合。
// このいずれかが変わるとフィンガープリントが変わり、「前回同期以降の変更あり」
// と判定される。時刻は秒精度のUTCに正規化する。
type fingerprintFields struct {
	CoachID  int64
	PlayerID int64
	Start    string
	End      string
	Status   string
	Notes    string
}

// Fingerprint は同期対象フィールドのフィンガープリントを計算する。
// ハッシュ計算が失敗した場合は全フィールド連結の擬似値にフォールバックし、
// 同期パスを落とさない。
func Fingerprint(coachID, playerID int64, start, end time.Time, status model.SessionStatus, notes string) string {
	f := fingerprintFields{
		CoachID:  coachID,
		PlayerID: playerID,
		Start:    normalizeTime(start),
		End:      normalizeTime(end),
		Status:   string(status),
		Notes:    notes,
	}

	h, err := hashstructure.Hash(f, hashstructure.FormatV2, nil)
	if err != nil {
		slog.Warn("フィンガープリントの計算に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Sprintf("fallback_%d_%d_%s_%s", coachID, playerID, f.Start, f.End)
	}

	return fmt.Sprintf("%016x", h)
}

// SessionFingerprint はローカルセッションのフィンガープリントを計算する。
func SessionFingerprint(s *model.Session) string {
	return Fingerprint(s.CoachID, s.PlayerID, s.StartTime, s.EndTime, s.Status, s.Notes)
}

// FieldsFingerprint は外部イベント由来のフィールドのフィンガープリントを計算する。
// ローカル側と同じ正規化を通すため、内容が一致すれば必ず同じ値になる。
func FieldsFingerprint(f *SessionFields) string {
	return Fingerprint(f.CoachID, f.PlayerID, f.Start, f.End, f.Status, f.Notes)
}

// normalizeTime は時刻をUTC・秒精度・RFC3339に正規化する。
// マイクロ秒の揺れやタイムゾーン表現の違いでハッシュが変わるのを防ぐ。
func normalizeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
