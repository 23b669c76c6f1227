// Package codec はローカルセッションと外部カレンダーイベントの相互変換を提供する。
// 変換は純粋関数であり、副作用を持たない。
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/calsync/internal/model"
)

// ErrMalformedEvent は必須フィールドを欠いた外部イベントを示す。
// このエラーはリジェクト経路に回され、バッチ全体を中断しない。
var ErrMalformedEvent = errors.New("外部イベントに必須フィールドがありません")

// ErrMissingIdentity はコーチまたはプレイヤーの参照を欠いたセッションを示す。
var ErrMissingIdentity = errors.New("セッションにコーチ/プレイヤーの参照がありません")

// SessionFields は外部イベントから抽出した同期対象フィールド。
// Reconciliation Engineがローカルセッションへの適用に使用する。
type SessionFields struct {
	SessionID int64 // extended propertiesからの逆参照。無い場合は0。
	CoachID   int64
	PlayerID  int64
	Start     time.Time
	End       time.Time
	Status    model.SessionStatus
	Notes     string
}

// Codec はセッションとイベントの相互変換を行う。
// 外部由来のdescriptionはnotesとしてDBに入るため、サニタイズを通す。
type Codec struct {
	sanitizer *bluemonday.Policy
}

// New はCodecの新しいインスタンスを生成する。
func New() *Codec {
	return &Codec{
		// notesはプレーンテキストとして扱うため、全タグを除去する
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// ToExternal はセッションを外部カレンダーへの書き込みボディに変換する。
// タイトルはコーチ×プレイヤーの名前とIDから合成し、状態をcolorIdへ、
// session_idとコンテンツハッシュをextended propertiesへ格納する。
func (c *Codec) ToExternal(s *model.Session) (*model.EventBody, error) {
	if s.CoachID == 0 || s.PlayerID == 0 {
		return nil, fmt.Errorf("セッション #%d: %w", s.ID, ErrMissingIdentity)
	}

	coachName := s.CoachName
	if coachName == "" {
		coachName = fmt.Sprintf("Coach %d", s.CoachID)
	}
	playerName := s.PlayerName
	if playerName == "" {
		playerName = fmt.Sprintf("Player %d", s.PlayerID)
	}

	return &model.EventBody{
		Summary: fmt.Sprintf("Session: %s × %s #C%d #P%d",
			coachName, playerName, s.CoachID, s.PlayerID),
		Description: s.Notes,
		Start:       s.StartTime.UTC(),
		End:         s.EndTime.UTC(),
		ColorID:     model.ColorForStatus(s.Status),
		PrivateProps: map[string]string{
			model.PropSessionID:   strconv.FormatInt(s.ID, 10),
			model.PropCoachID:     strconv.FormatInt(s.CoachID, 10),
			model.PropPlayerID:    strconv.FormatInt(s.PlayerID, 10),
			model.PropContentHash: SessionFingerprint(s),
			model.PropManagedBy:   model.ManagedByValue,
		},
	}, nil
}

// FromExternal は外部イベントから同期対象フィールドを抽出する。
// startまたはendを欠くイベントはErrMalformedEventを返す（panicしない）。
// descriptionはサニタイズしてnotesに格納する。
func (c *Codec) FromExternal(ev *model.ExternalEvent) (*SessionFields, error) {
	if !ev.HasStart || !ev.HasEnd {
		return nil, fmt.Errorf("イベント %s: %w", ev.ID, ErrMalformedEvent)
	}

	fields := &SessionFields{
		Start:  ev.Start.UTC(),
		End:    ev.End.UTC(),
		Status: ev.Status(),
		Notes:  c.sanitizeNotes(ev.Description),
	}

	if v := ev.Prop(model.PropSessionID); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			fields.SessionID = id
		}
	}
	if v := ev.Prop(model.PropCoachID); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			fields.CoachID = id
		}
	}
	if v := ev.Prop(model.PropPlayerID); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			fields.PlayerID = id
		}
	}

	// extended propertiesにIDが無い場合はタイトルの #C / #P 記法から補完する
	if fields.CoachID == 0 || fields.PlayerID == 0 {
		coachID, playerID := parseIdentityFromSummary(ev.Summary)
		if fields.CoachID == 0 {
			fields.CoachID = coachID
		}
		if fields.PlayerID == 0 {
			fields.PlayerID = playerID
		}
	}

	return fields, nil
}

// sanitizeNotes は外部由来の自由テキストからHTMLを除去する。
func (c *Codec) sanitizeNotes(raw string) string {
	return strings.TrimSpace(c.sanitizer.Sanitize(raw))
}

// parseIdentityFromSummary はタイトル中の "#C<id>" と "#P<id>" を抽出する。
func parseIdentityFromSummary(summary string) (coachID, playerID int64) {
	for _, tok := range strings.Fields(summary) {
		switch {
		case strings.HasPrefix(tok, "#C") || strings.HasPrefix(tok, "#c"):
			if id, err := strconv.ParseInt(tok[2:], 10, 64); err == nil {
				coachID = id
			}
		case strings.HasPrefix(tok, "#P") || strings.HasPrefix(tok, "#p"):
			if id, err := strconv.ParseInt(tok[2:], 10, 64); err == nil {
				playerID = id
			}
		}
	}
	return coachID, playerID
}
