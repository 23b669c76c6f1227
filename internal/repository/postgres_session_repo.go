package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/calsync/internal/model"
)

// queryer は*sql.DBと*sql.Txの両方が満たすクエリ実行インターフェース。
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sessionColumns はセッション取得クエリの共通SELECT句。
const sessionColumns = `id, coach_id, player_id, coach_name, player_name,
	        start_time, end_time, status, notes, calendar_event_id,
	        last_sync_at, sync_hash, source, version, is_dirty,
	        created_at, updated_at`

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db queryer
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// WithTx はトランザクションに束縛されたリポジトリを返す。
func (r *PostgresSessionRepo) WithTx(tx *sql.Tx) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: tx}
}

// FindByID は指定IDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id int64) (*model.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	return session, nil
}

// FindByEventID はカレンダーイベントIDでセッションを検索する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByEventID(ctx context.Context, eventID string) (*model.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE calendar_event_id = $1`, eventID)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("イベントIDによるセッションの検索に失敗しました: %w", err)
	}
	return session, nil
}

// ListByStartRange は開始時刻が[from, to)のセッションを全件取得する。
func (r *PostgresSessionRepo) ListByStartRange(ctx context.Context, from, to time.Time) ([]*model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE start_time >= $1 AND start_time < $2
		 ORDER BY start_time ASC`,
		from, to)
}

// ListLinkedInRange は開始時刻が[from, to)でカレンダーに紐付け済みのセッションを取得する。
func (r *PostgresSessionRepo) ListLinkedInRange(ctx context.Context, from, to time.Time) ([]*model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE start_time >= $1 AND start_time < $2
		   AND calendar_event_id IS NOT NULL
		 ORDER BY start_time ASC`,
		from, to)
}

// ListUnlinked は開始時刻が[from, to)で未紐付けかつキャンセルされていないセッションを取得する。
func (r *PostgresSessionRepo) ListUnlinked(ctx context.Context, from, to time.Time) ([]*model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE start_time >= $1 AND start_time < $2
		   AND calendar_event_id IS NULL
		   AND status <> 'canceled'
		 ORDER BY start_time ASC`,
		from, to)
}

// ListDirty は外部への未送信変更があるセッションを取得する。
func (r *PostgresSessionRepo) ListDirty(ctx context.Context) ([]*model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE is_dirty = true
		 ORDER BY start_time ASC`)
}

// ListPastScheduled は終了時刻がnowより前でステータスがscheduledのままのセッションを取得する。
func (r *PostgresSessionRepo) ListPastScheduled(ctx context.Context, now time.Time) ([]*model.Session, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE end_time < $1 AND status = 'scheduled'
		 ORDER BY end_time ASC`,
		now)
}

// Create はセッションを作成し、採番されたIDをセットする。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO sessions (coach_id, player_id, coach_name, player_name,
		                       start_time, end_time, status, notes, calendar_event_id,
		                       last_sync_at, sync_hash, source, version, is_dirty,
		                       created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id`,
		session.CoachID, session.PlayerID, session.CoachName, session.PlayerName,
		session.StartTime, session.EndTime, session.Status, session.Notes,
		nullString(session.CalendarEventID), nullTime(session.LastSyncAt),
		session.SyncHash, session.Source, session.Version, session.IsDirty,
		session.CreatedAt, session.UpdatedAt,
	).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("セッションの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はセッションを更新する。
func (r *PostgresSessionRepo) Update(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET
		    coach_id = $2, player_id = $3, coach_name = $4, player_name = $5,
		    start_time = $6, end_time = $7, status = $8, notes = $9,
		    calendar_event_id = $10, last_sync_at = $11, sync_hash = $12,
		    source = $13, version = $14, is_dirty = $15, updated_at = $16
		 WHERE id = $1`,
		session.ID,
		session.CoachID, session.PlayerID, session.CoachName, session.PlayerName,
		session.StartTime, session.EndTime, session.Status, session.Notes,
		nullString(session.CalendarEventID), nullTime(session.LastSyncAt),
		session.SyncHash, session.Source, session.Version, session.IsDirty,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("セッションの更新に失敗しました: %w", err)
	}
	return nil
}

// Delete はセッションを削除する。
func (r *PostgresSessionRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	return nil
}

// list は複数行クエリを実行してセッションのスライスを返す。
func (r *PostgresSessionRepo) list(ctx context.Context, query string, args ...any) ([]*model.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("セッション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("セッション一覧の読み取りに失敗しました: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("セッション一覧の走査に失敗しました: %w", err)
	}

	return sessions, nil
}

// rowScanner は*sql.Rowと*sql.Rowsの両方が満たすスキャンインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession は1行をセッションに読み取る。
func scanSession(row rowScanner) (*model.Session, error) {
	session := &model.Session{}
	var eventID sql.NullString
	var lastSyncAt sql.NullTime

	if err := row.Scan(
		&session.ID, &session.CoachID, &session.PlayerID,
		&session.CoachName, &session.PlayerName,
		&session.StartTime, &session.EndTime, &session.Status, &session.Notes,
		&eventID, &lastSyncAt, &session.SyncHash, &session.Source,
		&session.Version, &session.IsDirty,
		&session.CreatedAt, &session.UpdatedAt,
	); err != nil {
		return nil, err
	}

	session.CalendarEventID = nullStringValue(eventID)
	if lastSyncAt.Valid {
		session.LastSyncAt = lastSyncAt.Time
	}

	return session, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime はゼロ値の時刻をsql.NullTimeに変換する。
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
