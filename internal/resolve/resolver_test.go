package resolve

import (
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		local      *LocalRecord
		remote     *RemoteRecord
		wantAction Action
		wantAmbig  bool
	}{
		{
			name:       "ローカルのみ存在する場合は削除",
			local:      &LocalRecord{SyncHash: "abc", UpdatedAt: base},
			remote:     nil,
			wantAction: ActionDeleteLocal,
		},
		{
			name:       "リモートのみ存在する場合はローカル作成",
			local:      nil,
			remote:     &RemoteRecord{ContentHash: "abc", UpdatedAt: base},
			wantAction: ActionCreateLocal,
		},
		{
			name:       "ハッシュ一致はスキップ",
			local:      &LocalRecord{SyncHash: "abc", UpdatedAt: base},
			remote:     &RemoteRecord{ContentHash: "abc", UpdatedAt: base.Add(time.Hour)},
			wantAction: ActionSkip,
		},
		{
			name:       "ローカルに未送信変更がある場合はリモート更新",
			local:      &LocalRecord{SyncHash: "abc", UpdatedAt: base, IsDirty: true},
			remote:     &RemoteRecord{ContentHash: "def", UpdatedAt: base.Add(time.Hour)},
			wantAction: ActionUpdateRemote,
		},
		{
			name:       "ローカルが新しい場合はリモート更新",
			local:      &LocalRecord{SyncHash: "abc", UpdatedAt: base.Add(time.Minute)},
			remote:     &RemoteRecord{ContentHash: "def", UpdatedAt: base},
			wantAction: ActionUpdateRemote,
		},
		{
			name:       "リモートが新しい場合はローカル更新",
			local:      &LocalRecord{SyncHash: "abc", UpdatedAt: base},
			remote:     &RemoteRecord{ContentHash: "def", UpdatedAt: base.Add(time.Minute)},
			wantAction: ActionUpdateLocal,
		},
		{
			name:       "10秒以内の差はタイ扱いでローカル更新",
			local:      &LocalRecord{SyncHash: "abc", UpdatedAt: base.Add(10 * time.Second)},
			remote:     &RemoteRecord{ContentHash: "def", UpdatedAt: base},
			wantAction: ActionUpdateLocal,
			wantAmbig:  true,
		},
		{
			name:       "11秒の差はローカルが勝つ",
			local:      &LocalRecord{SyncHash: "abc", UpdatedAt: base.Add(11 * time.Second)},
			remote:     &RemoteRecord{ContentHash: "def", UpdatedAt: base},
			wantAction: ActionUpdateRemote,
		},
		{
			name:       "タイムスタンプ不明の場合はローカル更新",
			local:      &LocalRecord{SyncHash: "abc"},
			remote:     &RemoteRecord{ContentHash: "def"},
			wantAction: ActionUpdateLocal,
			wantAmbig:  true,
		},
		{
			name:       "両方存在しない場合はスキップ",
			local:      nil,
			remote:     nil,
			wantAction: ActionSkip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.local, tt.remote)
			if got.Action != tt.wantAction {
				t.Errorf("Decide().Action = %v, want %v", got.Action, tt.wantAction)
			}
			if got.Ambiguous != tt.wantAmbig {
				t.Errorf("Decide().Ambiguous = %v, want %v", got.Ambiguous, tt.wantAmbig)
			}
		})
	}
}

func TestDecideDeterministic(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	local := &LocalRecord{SyncHash: "abc", UpdatedAt: base}
	remote := &RemoteRecord{ContentHash: "def", UpdatedAt: base.Add(time.Minute)}

	first := Decide(local, remote)
	second := Decide(local, remote)
	if first != second {
		t.Errorf("同じ入力に対して異なる結果: %+v != %+v", first, second)
	}
}

func TestDecideIdempotentAfterApply(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	remote := &RemoteRecord{ContentHash: "def", UpdatedAt: base.Add(time.Minute)}
	local := &LocalRecord{SyncHash: "abc", UpdatedAt: base}

	d := Decide(local, remote)
	if d.Action != ActionUpdateLocal {
		t.Fatalf("Decide().Action = %v, want %v", d.Action, ActionUpdateLocal)
	}

	// アクション適用後はハッシュが一致し、2回目の実行はスキップになる
	applied := &LocalRecord{SyncHash: remote.ContentHash, UpdatedAt: base.Add(2 * time.Minute)}
	if got := Decide(applied, remote); got.Action != ActionSkip {
		t.Errorf("適用後のDecide().Action = %v, want %v", got.Action, ActionSkip)
	}
}

func TestActionString(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{ActionSkip, "skip"},
		{ActionCreateLocal, "create-local"},
		{ActionUpdateLocal, "update-local"},
		{ActionDeleteLocal, "delete-local"},
		{ActionUpdateRemote, "update-remote"},
		{Action(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.action.String(); got != tt.want {
			t.Errorf("Action(%d).String() = %q, want %q", tt.action, got, tt.want)
		}
	}
}
