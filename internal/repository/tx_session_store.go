package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// TxSessionStore はトランザクション実行機能付きのセッションストア。
// 同期エンジンの1レコード分の適用を1トランザクションに閉じ込める。
type TxSessionStore struct {
	*PostgresSessionRepo
	db TxBeginner
}

// NewTxSessionStore はTxSessionStoreを生成する。
func NewTxSessionStore(db *sql.DB) *TxSessionStore {
	return &TxSessionStore{
		PostgresSessionRepo: NewPostgresSessionRepo(db),
		db:                  db,
	}
}

// RunInTx はfnをトランザクション内で実行する。
// fnがエラーを返した場合はロールバックし、成功した場合はコミットする。
func (s *TxSessionStore) RunInTx(ctx context.Context, fn func(repo SessionRepository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	if err := fn(s.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// *sql.DBがTxBeginnerを満たすことのコンパイル時チェック
var _ TxBeginner = (*sql.DB)(nil)
