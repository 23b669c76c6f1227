// Package sync はローカルセッションと外部カレンダーの双方向同期を提供する。
// 差分計算と適用を行うEngineと、トリガーを直列化するCoordinatorを含む。
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/calsync/internal/calendar"
	"github.com/hitoshi/calsync/internal/codec"
	"github.com/hitoshi/calsync/internal/model"
	"github.com/hitoshi/calsync/internal/repository"
	"github.com/hitoshi/calsync/internal/resolve"
	"github.com/hitoshi/calsync/internal/validate"
)

// Store は同期エンジンが使用する永続化操作。
type Store interface {
	repository.SessionRepository
	// RunInTx は1レコード分の適用をトランザクション内で実行する。
	RunInTx(ctx context.Context, fn func(repo repository.SessionRepository) error) error
}

// Engine はローカルセッションと外部イベントの差分を計算して適用する。
// 1回のRunが1同期パスに対応する。レコード単位の失敗はパスを中断せず、
// 恒久的なAPIエラーと初回フェッチの失敗のみパス全体を失敗させる。
type Engine struct {
	store      Store
	cal        calendar.Service
	codec      *codec.Codec
	policy     validate.Policy
	logger     *slog.Logger
	pastDays   int
	futureDays int
	maxRetries int
	now        func() time.Time // テストで差し替え可能
}

// NewEngine はEngineを生成する。
// pastDaysとfutureDaysは同期ウィンドウの過去・未来方向の日数。
// maxRetriesは1 API操作あたりの最大試行回数（0以下で既定値）。
func NewEngine(store Store, cal calendar.Service, logger *slog.Logger, pastDays, futureDays, maxRetries int) *Engine {
	if maxRetries < 1 {
		maxRetries = defaultMaxAttempts
	}
	return &Engine{
		store:      store,
		cal:        cal,
		codec:      codec.New(),
		policy:     validate.DefaultPolicy(),
		logger:     logger,
		pastDays:   pastDays,
		futureDays: futureDays,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// remoteEntry はデコード済みの外部イベント。
type remoteEntry struct {
	event  model.ExternalEvent
	fields *codec.SessionFields
	hash   string
}

// updateLocalOp は外部イベントの内容によるローカル更新の適用単位。
type updateLocalOp struct {
	local *model.Session
	entry remoteEntry
}

// Run は1回の同期パスを実行する。
// ウィンドウ内のイベントとセッションを突き合わせ、競合解決の決定に従って
// 削除 → 更新 → 作成の順に適用する。検証で拒否されたレコードはResultに
// 記録され、他のレコードの適用には影響しない。
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	started := e.now()
	result := &Result{StartedAt: started}

	from := started.AddDate(0, 0, -e.pastDays)
	to := started.AddDate(0, 0, e.futureDays)

	var remote []model.ExternalEvent
	if err := withRetry(ctx, e.logger, "events.list", e.maxRetries, result, func() error {
		var listErr error
		remote, listErr = e.cal.ListEvents(ctx, from, to)
		return listErr
	}); err != nil {
		return nil, &SyncError{Kind: classifyAPIError(err), Err: err}
	}

	linked, err := e.store.ListLinkedInRange(ctx, from, to)
	if err != nil {
		return nil, &SyncError{Kind: KindDatabase, Err: err}
	}
	unlinked, err := e.store.ListUnlinked(ctx, from, to)
	if err != nil {
		return nil, &SyncError{Kind: KindDatabase, Err: err}
	}

	localByEvent := make(map[string]*model.Session, len(linked))
	handled := make(map[int64]bool, len(linked)+len(unlinked))
	for _, s := range linked {
		localByEvent[s.CalendarEventID] = s
		handled[s.ID] = true
	}
	for _, s := range unlinked {
		handled[s.ID] = true
	}

	remoteByID := e.decodeRemote(remote, result)

	// 差分から適用計画を立てる
	var deletes []*model.Session
	var updatesLocal []updateLocalOp
	var updatesRemote []*model.Session
	var createsLocal []remoteEntry

	for eventID, local := range localByEvent {
		entry, ok := remoteByID[eventID]
		if !ok {
			// 外部で削除されている
			d := resolve.Decide(localRecord(local), nil)
			if d.Action == resolve.ActionDeleteLocal {
				deletes = append(deletes, local)
			}
			continue
		}

		d := resolve.Decide(localRecord(local), remoteRecord(entry))
		resolve.LogAmbiguous(e.logger, local.ID, d)
		switch d.Action {
		case resolve.ActionSkip:
			result.Skipped++
		case resolve.ActionUpdateLocal:
			updatesLocal = append(updatesLocal, updateLocalOp{local: local, entry: entry})
		case resolve.ActionUpdateRemote:
			updatesRemote = append(updatesRemote, local)
		}
	}

	for eventID, entry := range remoteByID {
		if _, ok := localByEvent[eventID]; ok {
			continue
		}

		// session_idの逆参照があれば既存セッションへの再紐付けを試みる
		if entry.fields.SessionID > 0 {
			existing, err := e.store.FindByID(ctx, entry.fields.SessionID)
			if err != nil {
				result.Warnings = append(result.Warnings, ProblemEvent{
					EventID: eventID, Summary: entry.event.Summary, Reason: err.Error(),
				})
				continue
			}
			if existing != nil && !existing.IsLinked() {
				existing.CalendarEventID = eventID
				handled[existing.ID] = true
				updatesLocal = append(updatesLocal, updateLocalOp{local: existing, entry: entry})
				continue
			}
			if existing != nil && existing.CalendarEventID == eventID {
				// ウィンドウ外に移動済みの紐付け済みセッション。
				// 新規作成するとevent_idが重複するため、通常の競合解決に回す
				handled[existing.ID] = true
				d := resolve.Decide(localRecord(existing), remoteRecord(entry))
				resolve.LogAmbiguous(e.logger, existing.ID, d)
				switch d.Action {
				case resolve.ActionSkip:
					result.Skipped++
				case resolve.ActionUpdateLocal:
					updatesLocal = append(updatesLocal, updateLocalOp{local: existing, entry: entry})
				case resolve.ActionUpdateRemote:
					updatesRemote = append(updatesRemote, existing)
				}
				continue
			}
		}

		if entry.fields.CoachID == 0 || entry.fields.PlayerID == 0 {
			// 取り込めなかったイベントは手掛かりとして必ず記録する
			result.Rejected = append(result.Rejected, ProblemEvent{
				EventID: eventID, Summary: entry.event.Summary,
				Reason: fmt.Sprintf("%s（タイトル形式の例: 'コーチ × プレイヤー #C1 #P5'）",
					codec.ErrMissingIdentity),
			})
			continue
		}
		createsLocal = append(createsLocal, entry)
	}

	// mapの走査順に依存しないよう適用順を固定する
	sort.Slice(deletes, func(i, j int) bool { return deletes[i].ID < deletes[j].ID })
	sort.Slice(updatesLocal, func(i, j int) bool { return updatesLocal[i].local.ID < updatesLocal[j].local.ID })
	sort.Slice(updatesRemote, func(i, j int) bool { return updatesRemote[i].ID < updatesRemote[j].ID })
	sort.Slice(createsLocal, func(i, j int) bool { return createsLocal[i].event.ID < createsLocal[j].event.ID })

	// 削除 → 更新 → 作成 → 外部への送信の順で適用する
	for _, s := range deletes {
		e.applyDeleteLocal(ctx, s, result)
	}
	for _, op := range updatesLocal {
		e.applyUpdateLocal(ctx, op, result)
	}
	for _, s := range updatesRemote {
		if err := e.applyUpdateRemote(ctx, s, result); err != nil {
			return result, err
		}
	}
	for _, entry := range createsLocal {
		e.applyCreateLocal(ctx, entry, result)
	}
	for _, s := range unlinked {
		if err := e.applyCreateRemote(ctx, s, result); err != nil {
			return result, err
		}
	}

	// ウィンドウ外の未送信変更を取りこぼさず送信する
	if err := e.pushDirty(ctx, handled, result); err != nil {
		return result, err
	}

	// 終了済みのまま放置されたセッションを完了に倒す
	if err := e.sweepPastSessions(ctx, result); err != nil {
		return result, err
	}

	result.Duration = e.now().Sub(started)
	e.logger.Info("同期パスの差分適用が完了しました",
		slog.Int("imported", result.Imported),
		slog.Int("updated", result.Updated),
		slog.Int("deleted", result.Deleted),
		slog.Int("pushed", result.Pushed),
		slog.Int("skipped", result.Skipped),
		slog.Int("past_completed", result.PastCompleted),
		slog.Int("rejected", len(result.Rejected)),
		slog.Int("warnings", len(result.Warnings)),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// decodeRemote は取得したイベントをデコードし、イベントIDでキーしたmapを返す。
// 必須フィールドを欠くイベントは管理対象なら拒否、対象外でも警告として記録する。
// 黙って捨てることはしない。
func (e *Engine) decodeRemote(events []model.ExternalEvent, result *Result) map[string]remoteEntry {
	entries := make(map[string]remoteEntry, len(events))
	for i := range events {
		ev := events[i]
		fields, err := e.codec.FromExternal(&ev)
		if err != nil {
			p := ProblemEvent{EventID: ev.ID, Summary: ev.Summary, Reason: err.Error()}
			if ev.ManagedByApp() {
				result.Rejected = append(result.Rejected, p)
			} else {
				result.Warnings = append(result.Warnings, p)
			}
			continue
		}
		entries[ev.ID] = remoteEntry{event: ev, fields: fields, hash: codec.FieldsFingerprint(fields)}
	}
	return entries
}

func localRecord(s *model.Session) *resolve.LocalRecord {
	return &resolve.LocalRecord{SyncHash: s.SyncHash, UpdatedAt: s.UpdatedAt, IsDirty: s.IsDirty}
}

func remoteRecord(entry remoteEntry) *resolve.RemoteRecord {
	return &resolve.RemoteRecord{ContentHash: entry.hash, UpdatedAt: entry.event.Updated}
}

// applyDeleteLocal は外部で削除されたセッションをローカルから削除する。
func (e *Engine) applyDeleteLocal(ctx context.Context, s *model.Session, result *Result) {
	err := e.store.RunInTx(ctx, func(repo repository.SessionRepository) error {
		return repo.Delete(ctx, s.ID)
	})
	if err != nil {
		result.Warnings = append(result.Warnings, ProblemEvent{
			SessionID: s.ID, EventID: s.CalendarEventID, Reason: err.Error(),
		})
		return
	}
	result.Deleted++
	e.logger.Info("外部で削除されたセッションを削除しました",
		slog.Int64("session_id", s.ID),
		slog.String("event_id", s.CalendarEventID),
	)
}

// applyUpdateLocal は外部イベントの内容でローカルセッションを更新する。
// 検証で拒否された場合はローカルを変更せず拒否として記録する。
func (e *Engine) applyUpdateLocal(ctx context.Context, op updateLocalOp, result *Result) {
	f := op.entry.fields

	v := e.policy.Flexible(f.Start, f.End)
	if !v.Accepted {
		result.Rejected = append(result.Rejected, ProblemEvent{
			SessionID: op.local.ID, EventID: op.entry.event.ID,
			Summary: op.entry.event.Summary, Reason: v.RejectReason,
		})
		return
	}
	for _, w := range v.Warnings {
		result.Warnings = append(result.Warnings, ProblemEvent{
			SessionID: op.local.ID, EventID: op.entry.event.ID,
			Summary: op.entry.event.Summary, Reason: w,
		})
	}

	// 勝者のフィールドを丸ごと適用する
	now := e.now()
	s := op.local
	if f.CoachID > 0 {
		s.CoachID = f.CoachID
	}
	if f.PlayerID > 0 {
		s.PlayerID = f.PlayerID
	}
	s.StartTime = f.Start
	s.EndTime = f.End
	s.Status = f.Status
	s.Notes = f.Notes
	s.SyncHash = op.entry.hash
	s.Source = model.SourceCalendar
	s.Version++
	s.IsDirty = false
	s.LastSyncAt = now
	s.UpdatedAt = now

	err := e.store.RunInTx(ctx, func(repo repository.SessionRepository) error {
		return repo.Update(ctx, s)
	})
	if err != nil {
		result.Warnings = append(result.Warnings, ProblemEvent{
			SessionID: s.ID, EventID: op.entry.event.ID, Reason: err.Error(),
		})
		return
	}
	result.Updated++
}

// applyUpdateRemote はローカルの内容を外部イベントへ送信する。
// 恒久的なAPIエラーの場合のみ非nilを返し、パス全体を中断する。
func (e *Engine) applyUpdateRemote(ctx context.Context, s *model.Session, result *Result) error {
	body, err := e.codec.ToExternal(s)
	if err != nil {
		result.Rejected = append(result.Rejected, ProblemEvent{
			SessionID: s.ID, EventID: s.CalendarEventID, Reason: err.Error(),
		})
		return nil
	}

	err = withRetry(ctx, e.logger, "events.patch", e.maxRetries, result, func() error {
		_, callErr := e.cal.UpdateEvent(ctx, s.CalendarEventID, *body)
		return callErr
	})
	if err != nil {
		if calendar.IsNotFound(err) {
			// 送信先が外部で消えている。次パスの削除判定に委ねる
			result.Warnings = append(result.Warnings, ProblemEvent{
				SessionID: s.ID, EventID: s.CalendarEventID, Reason: err.Error(),
			})
			return nil
		}
		if calendar.IsPermanent(err) {
			return &SyncError{Kind: KindPermanentAPI, Err: err}
		}
		if ctx.Err() != nil {
			return err
		}
		result.Warnings = append(result.Warnings, ProblemEvent{
			SessionID: s.ID, EventID: s.CalendarEventID, Reason: err.Error(),
		})
		return nil
	}

	now := e.now()
	s.SyncHash = codec.SessionFingerprint(s)
	s.Source = model.SourceApp
	s.IsDirty = false
	s.LastSyncAt = now
	s.UpdatedAt = now
	if err := e.store.RunInTx(ctx, func(repo repository.SessionRepository) error {
		return repo.Update(ctx, s)
	}); err != nil {
		result.Warnings = append(result.Warnings, ProblemEvent{
			SessionID: s.ID, EventID: s.CalendarEventID, Reason: err.Error(),
		})
		return nil
	}
	result.Pushed++
	return nil
}

// applyCreateLocal は外部イベントからローカルセッションを作成する。
func (e *Engine) applyCreateLocal(ctx context.Context, entry remoteEntry, result *Result) {
	f := entry.fields

	v := e.policy.Flexible(f.Start, f.End)
	if !v.Accepted {
		result.Rejected = append(result.Rejected, ProblemEvent{
			EventID: entry.event.ID, Summary: entry.event.Summary, Reason: v.RejectReason,
		})
		return
	}
	for _, w := range v.Warnings {
		result.Warnings = append(result.Warnings, ProblemEvent{
			EventID: entry.event.ID, Summary: entry.event.Summary, Reason: w,
		})
	}

	now := e.now()
	s := &model.Session{
		CoachID:         f.CoachID,
		PlayerID:        f.PlayerID,
		StartTime:       f.Start,
		EndTime:         f.End,
		Status:          f.Status,
		Notes:           f.Notes,
		CalendarEventID: entry.event.ID,
		SyncHash:        entry.hash,
		Source:          model.SourceCalendar,
		Version:         1,
		LastSyncAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := e.store.RunInTx(ctx, func(repo repository.SessionRepository) error {
		return repo.Create(ctx, s)
	})
	if err != nil {
		result.Warnings = append(result.Warnings, ProblemEvent{
			EventID: entry.event.ID, Summary: entry.event.Summary, Reason: err.Error(),
		})
		return
	}
	result.Imported++
	e.logger.Info("外部イベントからセッションを作成しました",
		slog.Int64("session_id", s.ID),
		slog.String("event_id", entry.event.ID),
	)
}

// applyCreateRemote は未紐付けのローカルセッションを外部イベントとして作成する。
// 恒久的なAPIエラーの場合のみ非nilを返し、パス全体を中断する。
func (e *Engine) applyCreateRemote(ctx context.Context, s *model.Session, result *Result) error {
	body, err := e.codec.ToExternal(s)
	if err != nil {
		result.Rejected = append(result.Rejected, ProblemEvent{
			SessionID: s.ID, Reason: err.Error(),
		})
		return nil
	}

	var created *model.ExternalEvent
	err = withRetry(ctx, e.logger, "events.insert", e.maxRetries, result, func() error {
		var callErr error
		created, callErr = e.cal.CreateEvent(ctx, *body)
		return callErr
	})
	if err != nil {
		if calendar.IsPermanent(err) {
			return &SyncError{Kind: KindPermanentAPI, Err: err}
		}
		if ctx.Err() != nil {
			return err
		}
		result.Warnings = append(result.Warnings, ProblemEvent{
			SessionID: s.ID, Reason: err.Error(),
		})
		return nil
	}

	now := e.now()
	s.CalendarEventID = created.ID
	s.SyncHash = codec.SessionFingerprint(s)
	s.IsDirty = false
	s.LastSyncAt = now
	s.UpdatedAt = now
	if err := e.store.RunInTx(ctx, func(repo repository.SessionRepository) error {
		return repo.Update(ctx, s)
	}); err != nil {
		result.Warnings = append(result.Warnings, ProblemEvent{
			SessionID: s.ID, EventID: created.ID, Reason: err.Error(),
		})
		return nil
	}
	result.Pushed++
	return nil
}

// pushDirty はウィンドウ外も含めた未送信変更を外部へ送信する。
// このパスで既に処理済みのセッションは対象外。
func (e *Engine) pushDirty(ctx context.Context, handled map[int64]bool, result *Result) error {
	dirty, err := e.store.ListDirty(ctx)
	if err != nil {
		result.Warnings = append(result.Warnings, ProblemEvent{Reason: err.Error()})
		return nil
	}

	for _, s := range dirty {
		if handled[s.ID] {
			continue
		}
		if !s.IsLinked() {
			if s.Status == model.StatusCanceled {
				continue
			}
			if err := e.applyCreateRemote(ctx, s, result); err != nil {
				return err
			}
			continue
		}
		if err := e.applyUpdateRemote(ctx, s, result); err != nil {
			return err
		}
	}
	return nil
}

// sweepPastSessions は終了時刻を過ぎてもscheduledのままのセッションを
// completedに倒し、紐付け済みであれば色の変更を外部へ反映する。
func (e *Engine) sweepPastSessions(ctx context.Context, result *Result) error {
	past, err := e.store.ListPastScheduled(ctx, e.now())
	if err != nil {
		result.Warnings = append(result.Warnings, ProblemEvent{Reason: err.Error()})
		return nil
	}

	for _, s := range past {
		s.Status = model.StatusCompleted
		s.Version++
		s.IsDirty = true
		s.UpdatedAt = e.now()

		if err := e.store.RunInTx(ctx, func(repo repository.SessionRepository) error {
			return repo.Update(ctx, s)
		}); err != nil {
			result.Warnings = append(result.Warnings, ProblemEvent{
				SessionID: s.ID, Reason: err.Error(),
			})
			continue
		}
		result.PastCompleted++

		if s.IsLinked() {
			if err := e.applyUpdateRemote(ctx, s, result); err != nil {
				return err
			}
		}
	}
	return nil
}
