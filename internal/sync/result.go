package sync

import "time"

// ProblemEvent は同期パス中に問題が記録されたレコード。
// 検証で拒否されたイベントや、リトライ上限まで回復しなかったレコードを指す。
type ProblemEvent struct {
	SessionID int64  // ローカルセッションID（外部由来で未作成の場合は0）
	EventID   string // 外部イベントID（ローカル由来で未紐付けの場合は空）
	Summary   string
	Reason    string
}

// Result は1回の同期パスの実行結果。
type Result struct {
	StartedAt time.Time
	Duration  time.Duration

	Imported      int // 外部イベントから作成したローカルセッション数
	Updated       int // 外部イベントの内容で更新したローカルセッション数
	Deleted       int // 外部で削除されたため削除したローカルセッション数
	Pushed        int // 外部へ送信した作成・更新の数
	Skipped       int // 変更なしでスキップしたペア数
	PastCompleted int // 終了済みとして完了に倒したセッション数
	Retries       int // 一時的APIエラーによるリトライの回数

	Rejected []ProblemEvent // 検証で拒否されたレコード
	Warnings []ProblemEvent // 適用できなかったが続行したレコード
}

// Changed は何らかの変更が適用されたかを返す。
func (r *Result) Changed() bool {
	return r.Imported+r.Updated+r.Deleted+r.Pushed+r.PastCompleted > 0
}
