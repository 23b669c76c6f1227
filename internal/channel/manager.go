// Package channel は外部カレンダーのwebhookチャンネルのライフサイクルを管理する。
// 登録・停止・失効前の更新（renewal）を担当する。
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/calsync/internal/calendar"
	"github.com/hitoshi/calsync/internal/model"
	"github.com/hitoshi/calsync/internal/repository"
)

// renewalThreshold は失効までの残りがこの時間を切ったら更新する閾値。
const renewalThreshold = 24 * time.Hour

// Manager はwebhookチャンネルの登録状態を管理する。
// 有効なチャンネルは常に最大1つで、登録情報はDBに永続化される。
type Manager struct {
	cal        calendar.Service
	repo       repository.ChannelRepository
	logger     *slog.Logger
	webhookURL string
	token      string
	ttl        time.Duration
	now        func() time.Time
}

// NewManager はManagerを生成する。
// webhookURLは通知を受けるエンドポイントの完全なURL。
func NewManager(cal calendar.Service, repo repository.ChannelRepository, logger *slog.Logger, webhookURL, token string, ttl time.Duration) *Manager {
	return &Manager{
		cal:        cal,
		repo:       repo,
		logger:     logger,
		webhookURL: webhookURL,
		token:      token,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Register は新しいwebhookチャンネルを登録する。
// 既存のチャンネルがあれば先に停止する。
func (m *Manager) Register(ctx context.Context) (*model.SyncChannel, error) {
	if err := m.stopCurrent(ctx); err != nil {
		// 停止失敗は致命的ではない（失効済みの可能性が高い）
		m.logger.Warn("既存チャンネルの停止に失敗しました", slog.String("error", err.Error()))
	}

	channelID := uuid.NewString()
	expiration := m.now().Add(m.ttl)

	resp, err := m.cal.Watch(ctx, calendar.WatchRequest{
		ChannelID:  channelID,
		Address:    m.webhookURL,
		Token:      m.token,
		Expiration: expiration,
	})
	if err != nil {
		return nil, fmt.Errorf("webhookチャンネルの登録に失敗しました: %w", err)
	}

	ch := &model.SyncChannel{
		ID:         channelID,
		ResourceID: resp.ResourceID,
		WebhookURL: m.webhookURL,
		ExpiresAt:  resp.Expiration,
		CreatedAt:  m.now(),
	}
	if err := m.repo.Save(ctx, ch); err != nil {
		return nil, fmt.Errorf("チャンネル情報の保存に失敗しました: %w", err)
	}

	m.logger.Info("webhookチャンネルを登録しました",
		slog.String("channel_id", ch.ID),
		slog.String("resource_id", ch.ResourceID),
		slog.Time("expires_at", ch.ExpiresAt),
	)
	return ch, nil
}

// Stop は現在のチャンネルを停止し、登録情報を削除する。
// 登録がない場合は何もしない。
func (m *Manager) Stop(ctx context.Context) error {
	ch, err := m.repo.Find(ctx)
	if err != nil {
		return fmt.Errorf("チャンネル情報の取得に失敗しました: %w", err)
	}
	if ch == nil {
		return nil
	}

	if err := m.cal.StopChannel(ctx, ch.ID, ch.ResourceID); err != nil {
		return fmt.Errorf("webhookチャンネルの停止に失敗しました: %w", err)
	}
	if err := m.repo.Delete(ctx, ch.ID); err != nil {
		return fmt.Errorf("チャンネル情報の削除に失敗しました: %w", err)
	}

	m.logger.Info("webhookチャンネルを停止しました", slog.String("channel_id", ch.ID))
	return nil
}

// Current は現在のチャンネル登録情報を返す。登録がない場合はnilを返す。
func (m *Manager) Current(ctx context.Context) (*model.SyncChannel, error) {
	return m.repo.Find(ctx)
}

// Verify は通知のチャンネルIDとトークンが現在の登録と一致するかを返す。
func (m *Manager) Verify(ctx context.Context, channelID, token string) (bool, error) {
	if m.token != "" && token != m.token {
		return false, nil
	}

	ch, err := m.repo.Find(ctx)
	if err != nil {
		return false, err
	}
	if ch == nil || ch.ID != channelID {
		return false, nil
	}
	return true, nil
}

// Renew は失効が近い、または失効済みのチャンネルを再登録する。
// 登録がない場合は新規登録する。更新が不要な場合は現在のチャンネルを返す。
func (m *Manager) Renew(ctx context.Context) (*model.SyncChannel, error) {
	ch, err := m.repo.Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("チャンネル情報の取得に失敗しました: %w", err)
	}

	if ch != nil && !ch.NeedsRenewal(m.now(), renewalThreshold) {
		return ch, nil
	}

	if ch != nil {
		m.logger.Info("webhookチャンネルを更新します",
			slog.String("channel_id", ch.ID),
			slog.Time("expires_at", ch.ExpiresAt),
		)
	}
	return m.Register(ctx)
}

// StartRenewalLoop はチャンネルの失効チェックを定期実行する。
// ctxのキャンセルで停止する。起動直後に1回チェックする。
func (m *Manager) StartRenewalLoop(ctx context.Context, interval time.Duration) {
	m.logger.Info("チャンネル更新ループを開始します", slog.Duration("interval", interval))

	if _, err := m.Renew(ctx); err != nil {
		m.logger.Error("チャンネルの更新に失敗しました", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("チャンネル更新ループを停止します")
			return
		case <-ticker.C:
			if _, err := m.Renew(ctx); err != nil {
				m.logger.Error("チャンネルの更新に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// stopCurrent は現在のチャンネルがあれば停止を試みる。
func (m *Manager) stopCurrent(ctx context.Context) error {
	ch, err := m.repo.Find(ctx)
	if err != nil || ch == nil {
		return err
	}
	if err := m.cal.StopChannel(ctx, ch.ID, ch.ResourceID); err != nil {
		return err
	}
	return m.repo.Delete(ctx, ch.ID)
}
