package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/calsync/internal/model"
)

// PostgresChannelRepo はPostgreSQLを使用したwebhookチャンネルリポジトリ。
// sync_channelsテーブルは有効なチャンネルを最大1行だけ保持する。
type PostgresChannelRepo struct {
	db *sql.DB
}

// NewPostgresChannelRepo はPostgresChannelRepoを生成する。
func NewPostgresChannelRepo(db *sql.DB) *PostgresChannelRepo {
	return &PostgresChannelRepo{db: db}
}

// Save はチャンネル情報を保存する。既存行があれば置き換える。
func (r *PostgresChannelRepo) Save(ctx context.Context, channel *model.SyncChannel) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("チャンネル保存のトランザクション開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_channels`); err != nil {
		return fmt.Errorf("既存チャンネルの削除に失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_channels (id, resource_id, webhook_url, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		channel.ID, channel.ResourceID, channel.WebhookURL,
		channel.ExpiresAt, channel.CreatedAt,
	); err != nil {
		return fmt.Errorf("チャンネルの保存に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("チャンネル保存のコミットに失敗しました: %w", err)
	}
	return nil
}

// Find は現在のチャンネル情報を取得する。登録がない場合はnilを返す。
func (r *PostgresChannelRepo) Find(ctx context.Context) (*model.SyncChannel, error) {
	channel := &model.SyncChannel{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, resource_id, webhook_url, expires_at, created_at
		 FROM sync_channels
		 ORDER BY created_at DESC
		 LIMIT 1`,
	).Scan(
		&channel.ID, &channel.ResourceID, &channel.WebhookURL,
		&channel.ExpiresAt, &channel.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("チャンネルの取得に失敗しました: %w", err)
	}
	return channel, nil
}

// Delete はチャンネル情報を削除する。
func (r *PostgresChannelRepo) Delete(ctx context.Context, channelID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_channels WHERE id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("チャンネルの削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ ChannelRepository = (*PostgresChannelRepo)(nil)
