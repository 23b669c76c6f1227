package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/calsync/internal/calendar"
	"github.com/hitoshi/calsync/internal/model"
	"github.com/hitoshi/calsync/internal/repository"
)

// fakeStore はテスト用のインメモリセッションストア。
type fakeStore struct {
	mu       sync.Mutex
	sessions map[int64]*model.Session
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[int64]*model.Session), nextID: 1}
}

func (f *fakeStore) add(s model.Session) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == 0 {
		s.ID = f.nextID
	}
	if s.ID >= f.nextID {
		f.nextID = s.ID + 1
	}
	f.sessions[s.ID] = &s
	return s.ID
}

func (f *fakeStore) get(id int64) *model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeStore) FindByID(_ context.Context, id int64) (*model.Session, error) {
	return f.get(id), nil
}

func (f *fakeStore) FindByEventID(_ context.Context, eventID string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.CalendarEventID == eventID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) selectSessions(match func(*model.Session) bool) []*model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Session
	for _, s := range f.sessions {
		if match(s) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func inRange(s *model.Session, from, to time.Time) bool {
	return !s.StartTime.Before(from) && s.StartTime.Before(to)
}

func (f *fakeStore) ListByStartRange(_ context.Context, from, to time.Time) ([]*model.Session, error) {
	return f.selectSessions(func(s *model.Session) bool { return inRange(s, from, to) }), nil
}

func (f *fakeStore) ListLinkedInRange(_ context.Context, from, to time.Time) ([]*model.Session, error) {
	return f.selectSessions(func(s *model.Session) bool { return inRange(s, from, to) && s.IsLinked() }), nil
}

func (f *fakeStore) ListUnlinked(_ context.Context, from, to time.Time) ([]*model.Session, error) {
	return f.selectSessions(func(s *model.Session) bool {
		return inRange(s, from, to) && !s.IsLinked() && s.Status != model.StatusCanceled
	}), nil
}

func (f *fakeStore) ListDirty(_ context.Context) ([]*model.Session, error) {
	return f.selectSessions(func(s *model.Session) bool { return s.IsDirty }), nil
}

func (f *fakeStore) ListPastScheduled(_ context.Context, now time.Time) ([]*model.Session, error) {
	return f.selectSessions(func(s *model.Session) bool {
		return s.EndTime.Before(now) && s.Status == model.StatusScheduled
	}), nil
}

func (f *fakeStore) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = f.nextID
	f.nextID++
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) Update(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeStore) RunInTx(_ context.Context, fn func(repo repository.SessionRepository) error) error {
	return fn(f)
}

// fakeCalendar はテスト用のインメモリカレンダー。
type fakeCalendar struct {
	mu           sync.Mutex
	events       map[string]model.ExternalEvent
	nextID       int
	listFailures int // ListEventsが一時的エラーを返す残回数
	createErr    error
	listCalls    int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: make(map[string]model.ExternalEvent), nextID: 1}
}

func (f *fakeCalendar) put(ev model.ExternalEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[ev.ID] = ev
}

func (f *fakeCalendar) getEvent(id string) (model.ExternalEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	return ev, ok
}

func (f *fakeCalendar) ListEvents(_ context.Context, _, _ time.Time) ([]model.ExternalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listFailures > 0 {
		f.listFailures--
		return nil, &calendar.APICallError{Op: "events.list", Status: 503, Class: calendar.ClassTransient}
	}
	var out []model.ExternalEvent
	for _, ev := range f.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func eventFromBody(id string, body model.EventBody, updated time.Time) model.ExternalEvent {
	props := make(map[string]string, len(body.PrivateProps))
	for k, v := range body.PrivateProps {
		props[k] = v
	}
	return model.ExternalEvent{
		ID:           id,
		Summary:      body.Summary,
		Description:  body.Description,
		Start:        body.Start,
		End:          body.End,
		HasStart:     true,
		HasEnd:       true,
		ColorID:      body.ColorID,
		Updated:      updated,
		PrivateProps: props,
	}
}

func (f *fakeCalendar) CreateEvent(_ context.Context, body model.EventBody) (*model.ExternalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	id := fmt.Sprintf("ev-%d", f.nextID)
	f.nextID++
	ev := eventFromBody(id, body, time.Now().UTC())
	f.events[id] = ev
	return &ev, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, eventID string, body model.EventBody) (*model.ExternalEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[eventID]; !ok {
		return nil, &calendar.APICallError{Op: "events.patch", Status: 404, Class: calendar.ClassNotFound}
	}
	ev := eventFromBody(eventID, body, time.Now().UTC())
	f.events[eventID] = ev
	return &ev, nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, eventID)
	return nil
}

func (f *fakeCalendar) Watch(_ context.Context, req calendar.WatchRequest) (*calendar.WatchResponse, error) {
	return &calendar.WatchResponse{ResourceID: "res-" + req.ChannelID, Expiration: req.Expiration}, nil
}

func (f *fakeCalendar) StopChannel(_ context.Context, _, _ string) error {
	return nil
}

// ------------------------------------------------------------

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fixedNow は2026-03-11（水）09:00 UTC。
var fixedNow = time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

func newTestEngine(store *fakeStore, cal *fakeCalendar) *Engine {
	e := NewEngine(store, cal, testLogger, 10, 20, defaultMaxAttempts)
	e.now = func() time.Time { return fixedNow }
	return e
}

// makeRemoteEvent は管理対象のイベントを組み立てる。
func makeRemoteEvent(id string, coachID, playerID int64, start, end time.Time, colorID, notes string, updated time.Time) model.ExternalEvent {
	return model.ExternalEvent{
		ID: id,
		Summary: fmt.Sprintf("Session: Coach %d × Player %d #C%d #P%d",
			coachID, playerID, coachID, playerID),
		Description: notes,
		Start:       start,
		End:         end,
		HasStart:    true,
		HasEnd:      true,
		ColorID:     colorID,
		Updated:     updated,
		PrivateProps: map[string]string{
			model.PropCoachID:   strconv.FormatInt(coachID, 10),
			model.PropPlayerID:  strconv.FormatInt(playerID, 10),
			model.PropManagedBy: model.ManagedByValue,
		},
	}
}

func TestEngineRun_ImportsRemoteOnlyEvent(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	start := fixedNow.Add(25 * time.Hour) // 翌日10:00
	cal.put(makeRemoteEvent("ev-remote", 1, 2, start, start.Add(time.Hour),
		model.ColorScheduled, "持久走メニュー", fixedNow.Add(-time.Hour)))

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("Imported = %d, want 1", result.Imported)
	}
	if store.count() != 1 {
		t.Fatalf("セッション数 = %d, want 1", store.count())
	}

	s := store.get(1)
	if s.CoachID != 1 || s.PlayerID != 2 {
		t.Errorf("CoachID/PlayerID = %d/%d, want 1/2", s.CoachID, s.PlayerID)
	}
	if s.CalendarEventID != "ev-remote" {
		t.Errorf("CalendarEventID = %q, want %q", s.CalendarEventID, "ev-remote")
	}
	if s.Status != model.StatusScheduled {
		t.Errorf("Status = %q, want %q", s.Status, model.StatusScheduled)
	}
	if s.Notes != "持久走メニュー" {
		t.Errorf("Notes = %q", s.Notes)
	}
	if s.Source != model.SourceCalendar {
		t.Errorf("Source = %q, want %q", s.Source, model.SourceCalendar)
	}
}

// 変更がない状態での2回目のパスは何も適用しない
func TestEngineRun_SecondPassIsIdempotent(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	start := fixedNow.Add(25 * time.Hour)
	cal.put(makeRemoteEvent("ev-remote", 1, 2, start, start.Add(time.Hour),
		model.ColorScheduled, "", fixedNow.Add(-time.Hour)))

	engine := newTestEngine(store, cal)
	if _, err := engine.Run(context.Background()); err != nil {
		t.Fatalf("1回目のRun() error = %v", err)
	}

	second, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("2回目のRun() error = %v", err)
	}
	if second.Changed() {
		t.Errorf("2回目のパスで変更が適用された: %+v", second)
	}
	if second.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", second.Skipped)
	}
}

func TestEngineRun_PushesUnlinkedSession(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	start := fixedNow.Add(25 * time.Hour)
	id := store.add(model.Session{
		CoachID: 1, PlayerID: 2,
		CoachName: "田中", PlayerName: "鈴木",
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: model.StatusScheduled, Source: model.SourceApp,
		Version: 1, UpdatedAt: fixedNow,
	})

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}

	s := store.get(id)
	if !s.IsLinked() {
		t.Fatal("送信後のセッションにイベントIDが設定されていない")
	}
	if s.IsDirty {
		t.Error("送信後のIsDirtyはfalseであるべき")
	}

	ev, ok := cal.getEvent(s.CalendarEventID)
	if !ok {
		t.Fatal("外部にイベントが作成されていない")
	}
	if ev.Summary != "Session: 田中 × 鈴木 #C1 #P2" {
		t.Errorf("Summary = %q", ev.Summary)
	}
	if ev.ColorID != model.ColorScheduled {
		t.Errorf("ColorID = %q, want %q", ev.ColorID, model.ColorScheduled)
	}

	// 2回目のパスはエコーを検知してスキップする
	second, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("2回目のRun() error = %v", err)
	}
	if second.Changed() {
		t.Errorf("2回目のパスで変更が適用された: %+v", second)
	}
}

func TestEngineRun_DeletesLocalWhenRemoteGone(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	start := fixedNow.Add(25 * time.Hour)
	id := store.add(model.Session{
		CoachID: 1, PlayerID: 2,
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: model.StatusScheduled, CalendarEventID: "ev-gone",
		SyncHash: "stale", Version: 1, UpdatedAt: fixedNow,
	})

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", result.Deleted)
	}
	if store.get(id) != nil {
		t.Error("外部で削除されたセッションがローカルに残存")
	}
}

func TestEngineRun_RemoteChangeWins(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	start := fixedNow.Add(25 * time.Hour)
	id := store.add(model.Session{
		CoachID: 1, PlayerID: 2,
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: model.StatusScheduled, CalendarEventID: "ev-1",
		SyncHash: "stale", Version: 1,
		UpdatedAt: fixedNow.Add(-2 * time.Hour),
	})
	// カレンダー側で1時間後ろへ移動され、メモが追加された
	moved := start.Add(time.Hour)
	cal.put(makeRemoteEvent("ev-1", 1, 2, moved, moved.Add(time.Hour),
		model.ColorScheduled, "場所変更あり", fixedNow.Add(-time.Minute)))

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Updated != 1 {
		t.Errorf("Updated = %d, want 1", result.Updated)
	}

	s := store.get(id)
	if !s.StartTime.Equal(moved) {
		t.Errorf("StartTime = %v, want %v", s.StartTime, moved)
	}
	if s.Notes != "場所変更あり" {
		t.Errorf("Notes = %q", s.Notes)
	}
	if s.Version != 2 {
		t.Errorf("Version = %d, want 2", s.Version)
	}
	if s.Source != model.SourceCalendar {
		t.Errorf("Source = %q, want %q", s.Source, model.SourceCalendar)
	}
}

func TestEngineRun_DirtyLocalWins(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	start := fixedNow.Add(25 * time.Hour)
	id := store.add(model.Session{
		CoachID: 1, PlayerID: 2,
		CoachName: "田中", PlayerName: "鈴木",
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: model.StatusCanceled, Notes: "体調不良のためキャンセル",
		CalendarEventID: "ev-1", SyncHash: "stale",
		IsDirty: true, Version: 2,
		UpdatedAt: fixedNow.Add(-2 * time.Hour),
	})
	// リモート側の方が新しいタイムスタンプを持っていてもdirtyなローカルが勝つ
	cal.put(makeRemoteEvent("ev-1", 1, 2, start, start.Add(time.Hour),
		model.ColorScheduled, "", fixedNow.Add(-time.Minute)))

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}

	ev, _ := cal.getEvent("ev-1")
	if ev.ColorID != model.ColorCanceled {
		t.Errorf("ColorID = %q, want %q", ev.ColorID, model.ColorCanceled)
	}
	if ev.Description != "体調不良のためキャンセル" {
		t.Errorf("Description = %q", ev.Description)
	}
	if store.get(id).IsDirty {
		t.Error("送信後のIsDirtyはfalseであるべき")
	}
}

// 1件の不正イベントが他のレコードの適用を妨げない
func TestEngineRun_RejectionIsolation(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	valid := fixedNow.Add(25 * time.Hour)
	cal.put(makeRemoteEvent("ev-ok", 1, 2, valid, valid.Add(time.Hour),
		model.ColorScheduled, "", fixedNow.Add(-time.Hour)))
	// 200分は拒否境界（180分）超過
	bad := fixedNow.Add(49 * time.Hour)
	cal.put(makeRemoteEvent("ev-bad", 3, 4, bad, bad.Add(200*time.Minute),
		model.ColorScheduled, "", fixedNow.Add(-time.Hour)))

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Imported != 1 {
		t.Errorf("Imported = %d, want 1", result.Imported)
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("Rejected = %d, want 1", len(result.Rejected))
	}
	if result.Rejected[0].EventID != "ev-bad" {
		t.Errorf("Rejected[0].EventID = %q, want %q", result.Rejected[0].EventID, "ev-bad")
	}
	if store.count() != 1 {
		t.Errorf("セッション数 = %d, want 1", store.count())
	}
}

// startまたはendを欠く管理対象イベントは拒否として記録され、panicしない。
// 管理対象外のイベントも警告として痕跡を残す
func TestEngineRun_MalformedManagedEventRejected(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	cal.put(model.ExternalEvent{
		ID:      "ev-allday",
		Summary: "Session: A × B #C1 #P2",
		PrivateProps: map[string]string{
			model.PropManagedBy: model.ManagedByValue,
		},
	})
	// 管理対象外の終日イベントは取り込まれないが、記録は残る
	cal.put(model.ExternalEvent{ID: "ev-foreign", Summary: "休暇"})

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("Rejected = %d, want 1", len(result.Rejected))
	}
	if result.Rejected[0].EventID != "ev-allday" {
		t.Errorf("Rejected[0].EventID = %q", result.Rejected[0].EventID)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Warnings = %d, want 1", len(result.Warnings))
	}
	if result.Warnings[0].EventID != "ev-foreign" {
		t.Errorf("Warnings[0].EventID = %q", result.Warnings[0].EventID)
	}
	if store.count() != 0 {
		t.Errorf("セッション数 = %d, want 0", store.count())
	}
}

// #C/#Pを持たないユーザー作成イベントは黙って消えず、拒否として報告される
func TestEngineRun_UnmappableUserEventReported(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	start := fixedNow.Add(25 * time.Hour)
	cal.put(model.ExternalEvent{
		ID:       "ev-user",
		Summary:  "Juan × María",
		Start:    start,
		End:      start.Add(time.Hour),
		HasStart: true,
		HasEnd:   true,
		Updated:  fixedNow.Add(-time.Hour),
	})

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Imported != 0 {
		t.Errorf("Imported = %d, want 0", result.Imported)
	}
	if len(result.Rejected) != 1 {
		t.Fatalf("Rejected = %d, want 1", len(result.Rejected))
	}
	if result.Rejected[0].EventID != "ev-user" {
		t.Errorf("Rejected[0].EventID = %q, want %q", result.Rejected[0].EventID, "ev-user")
	}
	// 拒否理由にタイトル形式の修正ヒントが含まれる
	if !strings.Contains(result.Rejected[0].Reason, "#C1 #P5") {
		t.Errorf("Reason = %q にタイトル形式の例が含まれていない", result.Rejected[0].Reason)
	}
	if store.count() != 0 {
		t.Errorf("セッション数 = %d, want 0", store.count())
	}
}

func TestEngineRun_PastSessionSweep(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	// 昨日終了したのにscheduledのまま
	start := fixedNow.Add(-23 * time.Hour)
	id := store.add(model.Session{
		CoachID: 1, PlayerID: 2,
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: model.StatusScheduled, Source: model.SourceApp,
		Version: 1, UpdatedAt: fixedNow.Add(-24 * time.Hour),
	})

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.PastCompleted != 1 {
		t.Errorf("PastCompleted = %d, want 1", result.PastCompleted)
	}

	s := store.get(id)
	if s.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want %q", s.Status, model.StatusCompleted)
	}
	if !s.IsLinked() {
		t.Fatal("送信後のセッションにイベントIDが設定されていない")
	}

	// 完了への遷移が外部の色に反映されている
	ev, _ := cal.getEvent(s.CalendarEventID)
	if ev.ColorID != model.ColorCompleted {
		t.Errorf("ColorID = %q, want %q", ev.ColorID, model.ColorCompleted)
	}
}

func TestEngineRun_RelinksBySessionID(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	start := fixedNow.Add(-15 * 24 * time.Hour) // ウィンドウ外の既存セッション
	id := store.add(model.Session{
		CoachID: 1, PlayerID: 2,
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: model.StatusCompleted, Version: 1,
		UpdatedAt: fixedNow.Add(-time.Hour),
	})

	// session_idの逆参照を持つイベントがウィンドウ内に現れた
	moved := fixedNow.Add(25 * time.Hour)
	ev := makeRemoteEvent("ev-relink", 1, 2, moved, moved.Add(time.Hour),
		model.ColorScheduled, "", fixedNow.Add(time.Minute))
	ev.PrivateProps[model.PropSessionID] = strconv.FormatInt(id, 10)
	cal.put(ev)

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Updated != 1 {
		t.Errorf("Updated = %d, want 1", result.Updated)
	}
	if result.Imported != 0 {
		t.Errorf("Imported = %d, want 0（新規作成ではなく再紐付け）", result.Imported)
	}

	s := store.get(id)
	if s.CalendarEventID != "ev-relink" {
		t.Errorf("CalendarEventID = %q, want %q", s.CalendarEventID, "ev-relink")
	}
	if !s.StartTime.Equal(moved) {
		t.Errorf("StartTime = %v, want %v", s.StartTime, moved)
	}
}

// 紐付け済みセッションがウィンドウ外へ移動済みの場合、同じイベントを
// 新規作成せず既存セッションの更新として扱う（event_idの一意性を守る）
func TestEngineRun_LinkedSessionOutsideWindowUpdated(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	// 保存済みのstartはウィンドウ（未来20日）の外
	stale := fixedNow.Add(40 * 24 * time.Hour)
	id := store.add(model.Session{
		CoachID: 1, PlayerID: 2,
		StartTime: stale, EndTime: stale.Add(time.Hour),
		Status: model.StatusScheduled, Source: model.SourceApp,
		CalendarEventID: "ev-x", SyncHash: "stale-hash",
		Version: 1, UpdatedAt: fixedNow.Add(-2 * time.Hour),
	})

	// 外部でウィンドウ内へ移動されたイベント
	moved := fixedNow.Add(25 * time.Hour)
	ev := makeRemoteEvent("ev-x", 1, 2, moved, moved.Add(time.Hour),
		model.ColorScheduled, "", fixedNow.Add(-time.Minute))
	ev.PrivateProps[model.PropSessionID] = strconv.FormatInt(id, 10)
	cal.put(ev)

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Imported != 0 {
		t.Errorf("Imported = %d, want 0（重複セッションを作成しない）", result.Imported)
	}
	if result.Updated != 1 {
		t.Errorf("Updated = %d, want 1", result.Updated)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Warnings = %v, want なし", result.Warnings)
	}
	if store.count() != 1 {
		t.Fatalf("セッション数 = %d, want 1", store.count())
	}

	s := store.get(id)
	if !s.StartTime.Equal(moved) {
		t.Errorf("StartTime = %v, want %v（外部の移動が反映されていない）", s.StartTime, moved)
	}
	if s.CalendarEventID != "ev-x" {
		t.Errorf("CalendarEventID = %q, want %q", s.CalendarEventID, "ev-x")
	}
}

func TestEngineRun_TransientListErrorRetried(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	cal.listFailures = 2 // 2回失敗して3回目に成功

	engine := newTestEngine(store, cal)
	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if cal.listCalls != 3 {
		t.Errorf("ListEvents呼び出し回数 = %d, want 3", cal.listCalls)
	}
	if result.Retries != 2 {
		t.Errorf("Retries = %d, want 2", result.Retries)
	}
}

func TestEngineRun_TransientListErrorExhaustsAndAborts(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	cal.listFailures = 10

	engine := newTestEngine(store, cal)
	_, err := engine.Run(context.Background())
	if err == nil {
		t.Fatal("リトライ上限到達後もエラーにならなかった")
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Kind != KindTransientAPI {
		t.Errorf("err = %v, want SyncError(transient_api)", err)
	}
	if cal.listCalls != defaultMaxAttempts {
		t.Errorf("ListEvents呼び出し回数 = %d, want %d", cal.listCalls, defaultMaxAttempts)
	}
}

func TestEngineRun_PermanentPushErrorAbortsPass(t *testing.T) {
	store := newFakeStore()
	cal := newFakeCalendar()
	cal.createErr = &calendar.APICallError{Op: "events.insert", Status: 403, Class: calendar.ClassPermanent}
	start := fixedNow.Add(25 * time.Hour)
	store.add(model.Session{
		CoachID: 1, PlayerID: 2,
		StartTime: start, EndTime: start.Add(time.Hour),
		Status: model.StatusScheduled, Version: 1, UpdatedAt: fixedNow,
	})

	engine := newTestEngine(store, cal)
	_, err := engine.Run(context.Background())
	if err == nil {
		t.Fatal("恒久エラーでもパスが成功扱いになった")
	}
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Kind != KindPermanentAPI {
		t.Errorf("err = %v, want SyncError(permanent_api)", err)
	}
}
