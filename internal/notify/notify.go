// Package notify は同期パスの結果通知を提供する。
// 最終結果の保持とライブ配信用のファンアウトを含む。
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Summary は1回の同期パスの結果要約。
type Summary struct {
	Type          string // トリガー種別（manual / poll / webhook）
	Imported      int
	Updated       int
	Deleted       int
	Pushed        int
	PastCompleted int
	Rejected      []string
	Warnings      []string
	Error         string // パス全体が失敗した場合のエラーメッセージ
	Timestamp     time.Time
}

// Notifier は同期結果の通知先を抽象化する。
type Notifier interface {
	Publish(s Summary)
}

// LogNotifier は同期結果を構造化ログに出力する。
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier はLogNotifierを生成する。
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Publish は同期結果をログに記録する。
func (n *LogNotifier) Publish(s Summary) {
	if s.Error != "" {
		n.logger.Error("同期パスが失敗しました",
			slog.String("trigger", s.Type),
			slog.String("error", s.Error),
		)
		return
	}
	n.logger.Info("同期パスが完了しました",
		slog.String("trigger", s.Type),
		slog.Int("imported", s.Imported),
		slog.Int("updated", s.Updated),
		slog.Int("deleted", s.Deleted),
		slog.Int("pushed", s.Pushed),
		slog.Int("past_completed", s.PastCompleted),
		slog.Int("rejected", len(s.Rejected)),
		slog.Int("warnings", len(s.Warnings)),
	)
}

// Store は最新の同期結果を保持し、購読者へ配信する。
// ハンドラが最終結果を読み出すために使用する。
type Store struct {
	mu   sync.RWMutex
	last *Summary
	subs map[int]chan Summary
	next int
}

// NewStore はStoreを生成する。
func NewStore() *Store {
	return &Store{subs: make(map[int]chan Summary)}
}

// Publish は結果を保存し、全購読者へ配信する。
// 受信が追いつかない購読者への配信は捨てる（同期パスをブロックしない）。
func (st *Store) Publish(s Summary) {
	st.mu.Lock()
	defer st.mu.Unlock()

	copied := s
	st.last = &copied
	for _, ch := range st.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Last は最新の同期結果を返す。まだ実行されていない場合はnilを返す。
func (st *Store) Last() *Summary {
	st.mu.RLock()
	defer st.mu.RUnlock()

	if st.last == nil {
		return nil
	}
	copied := *st.last
	return &copied
}

// Subscribe は同期結果の配信チャンネルを登録する。
// 返却される解除関数を呼ぶと購読が終了しチャンネルが閉じられる。
func (st *Store) Subscribe(buffer int) (<-chan Summary, func()) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if buffer < 1 {
		buffer = 1
	}
	id := st.next
	st.next++
	ch := make(chan Summary, buffer)
	st.subs[id] = ch

	cancel := func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if sub, ok := st.subs[id]; ok {
			delete(st.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Multi は複数の通知先へ順に配信する。
type Multi []Notifier

// Publish は全通知先へ配信する。
func (m Multi) Publish(s Summary) {
	for _, n := range m {
		n.Publish(s)
	}
}
