// Package resolve はローカルセッションと外部イベントの競合解決を提供する。
// last-writer-winsルールを変更タイムスタンプとフィンガープリントで適用する。
// すべて純粋計算であり、副作用を持たない。
package resolve

import (
	"log/slog"
	"time"
)

// Action は競合解決の結果として適用すべき操作。
type Action int

const (
	// ActionSkip は両者が一致しており何もしない。
	ActionSkip Action = iota
	// ActionCreateLocal はリモートのみ存在するためローカルを作成する。
	ActionCreateLocal
	// ActionUpdateLocal はリモートが勝者のためローカルを更新する。
	ActionUpdateLocal
	// ActionDeleteLocal はリモートで削除されたためローカルを削除する。
	ActionDeleteLocal
	// ActionUpdateRemote はローカルが勝者のためリモートを更新する。
	ActionUpdateRemote
)

// String はアクション名を返す。
func (a Action) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionCreateLocal:
		return "create-local"
	case ActionUpdateLocal:
		return "update-local"
	case ActionDeleteLocal:
		return "delete-local"
	case ActionUpdateRemote:
		return "update-remote"
	default:
		return "unknown"
	}
}

// timestampTolerance はタイムスタンプ比較の許容差。
// この範囲内の差はクロックスキューとみなし変更なしとして扱う。
const timestampTolerance = 10 * time.Second

// LocalRecord は競合解決に必要なローカル側の情報。
type LocalRecord struct {
	SyncHash  string    // 保存済みフィンガープリント
	UpdatedAt time.Time // 最終変更時刻
	IsDirty   bool      // 外部への未送信変更があるか
}

// RemoteRecord は競合解決に必要なリモート側の情報。
type RemoteRecord struct {
	ContentHash string    // イベント内容から計算したフィンガープリント
	UpdatedAt   time.Time // プロバイダが報告する最終変更時刻
}

// Decision は競合解決の判定結果。
type Decision struct {
	Action Action
	// Reason は判定根拠。競合監査ログに使用する。
	Reason string
	// Ambiguous はタイブレークのフォールバックが適用されたことを示す。
	// エラーではないが監査のためにログに残す。
	Ambiguous bool
}

// Decide はローカルとリモートのペアに対して適用すべきアクションを決定する。
// 決定表:
//   - ローカルのみ存在 → リモートで削除された → delete-local
//   - リモートのみ存在 → create-local
//   - 両方存在・ハッシュ一致 → skip
//   - 両方存在・ハッシュ不一致・ローカルdirty → update-remote（未送信のローカル編集が優先）
//   - 両方存在・ハッシュ不一致 → タイムスタンプ比較（10秒許容）で新しい側が勝つ
//   - タイ・判定不能 → update-local（外部から編集可能なカレンダーをsource of truthとする方針）
//
// 冪等性: 同じ未変更ペアに対して2回呼んでも同じ結果を返す。アクション適用後は
// ハッシュが一致するため2回目はskipになる。
func Decide(local *LocalRecord, remote *RemoteRecord) Decision {
	switch {
	case local != nil && remote == nil:
		return Decision{Action: ActionDeleteLocal, Reason: "remote_deleted"}
	case local == nil && remote != nil:
		return Decision{Action: ActionCreateLocal, Reason: "remote_only"}
	case local == nil && remote == nil:
		return Decision{Action: ActionSkip, Reason: "both_absent"}
	}

	if local.SyncHash != "" && local.SyncHash == remote.ContentHash {
		return Decision{Action: ActionSkip, Reason: "hash_match"}
	}

	// ローカルに未送信の変更がある場合はアプリ側が勝つ
	if local.IsDirty {
		return Decision{Action: ActionUpdateRemote, Reason: "local_dirty"}
	}

	// タイムスタンプ比較はタイブレーカーとしてのみ使用する
	if local.UpdatedAt.IsZero() || remote.UpdatedAt.IsZero() {
		return Decision{
			Action:    ActionUpdateLocal,
			Reason:    "no_timestamps_calendar_default",
			Ambiguous: true,
		}
	}

	diff := local.UpdatedAt.Sub(remote.UpdatedAt)
	switch {
	case absDuration(diff) <= timestampTolerance:
		// 有意差なし → タイ扱いでリモート優先
		return Decision{
			Action:    ActionUpdateLocal,
			Reason:    "timestamps_tied_calendar_default",
			Ambiguous: true,
		}
	case diff > 0:
		return Decision{Action: ActionUpdateRemote, Reason: "local_newer"}
	default:
		return Decision{Action: ActionUpdateLocal, Reason: "remote_newer"}
	}
}

// LogAmbiguous はタイブレークのフォールバック適用を監査ログに残す。
func LogAmbiguous(logger *slog.Logger, sessionID int64, d Decision) {
	if !d.Ambiguous {
		return
	}
	logger.Info("競合のタイブレークを適用しました",
		slog.Int64("session_id", sessionID),
		slog.String("action", d.Action.String()),
		slog.String("reason", d.Reason),
	)
}

// absDuration はdurationの絶対値を返す。
func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
