package monitoring

import (
	"context"
	"time"

	"meshreg/internal/feed"
	"meshreg/internal/models"
	"meshreg/internal/repo"
)

// Реестр узлов, как его видит мониторинг.
type NodeDirectory interface {
	FindByMAC(ctx context.Context, mac string) (*models.Node, error)
	MonitoringTokenFor(ctx context.Context, nodeID uint) (*string, error)
	DeleteByMAC(ctx context.Context, mac string) error
}

// Таблица онлайн-состояний.
type StateTable interface {
	Upsert(ctx context.Context, up repo.StateUpdate) (*models.NodeState, bool, error)
	MarkStaleOffline(ctx context.Context, olderThan time.Time) (int64, error)
	OnlineNeedingRecovery(ctx context.Context, modifiedBefore time.Time, limit int) ([]models.NodeState, error)
	OfflineForTier(ctx context.Context, prevType *models.MailType, offlineSince, mailBefore, modifiedBefore time.Time, limit int) ([]models.NodeState, error)
	MarkMailSent(ctx context.Context, id uint, t models.MailType, at time.Time) error
	Touch(ctx context.Context, id uint, hostname string) error
	PurgeNeverOnline(ctx context.Context, createdBefore time.Time) (int64, error)
	OfflineLongerThan(ctx context.Context, lastSeenBefore time.Time, limit int) ([]models.NodeState, error)
	DeleteByMAC(ctx context.Context, mac string) error
}

// Источник фида.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*feed.Result, error)
}

// Постановка статусных писем в outbox.
type StatusMailer interface {
	SendStatus(ctx context.Context, t models.MailType, node *models.Node, rec *models.NodeState, monitoringToken string) error
}
