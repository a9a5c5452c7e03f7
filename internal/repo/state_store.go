package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"meshreg/internal/models"
)

type StateStore struct{ db *gorm.DB }

func NewStateStore(db *gorm.DB) *StateStore { return &StateStore{db: db} }

// StateUpdate — слепок по одному MAC из объединённого фида.
type StateUpdate struct {
	MAC             string
	Hostname        string
	Site            string
	Domain          string
	Online          bool
	LastSeen        time.Time
	ImportTimestamp time.Time
}

// Upsert применяет слепок с соблюдением монотонности ImportTimestamp:
// не строго более новый слепок — no-op. Возвращает запись и признак
// «была применена».
func (s *StateStore) Upsert(ctx context.Context, up StateUpdate) (*models.NodeState, bool, error) {
	var rec *models.NodeState
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.NodeState
		err := tx.Where("mac = ?", up.MAC).First(&cur).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cur = models.NodeState{MAC: up.MAC}
		case err != nil:
			return err
		default:
			if !up.ImportTimestamp.After(cur.ImportTimestamp) {
				rec = &cur
				return nil
			}
		}

		cur.Hostname = up.Hostname
		cur.Site = up.Site
		cur.Domain = up.Domain
		cur.LastSeen = up.LastSeen
		cur.ImportTimestamp = up.ImportTimestamp
		if up.Online {
			cur.State = models.StateOnline
			now := up.LastSeen
			cur.LastOnline = &now
		} else {
			cur.State = models.StateOffline
		}
		if err := tx.Save(&cur).Error; err != nil {
			return err
		}
		rec = &cur
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return rec, applied, nil
}

// MarkStaleOffline переводит в OFFLINE все записи, не освежённые в этом
// цикле (import_timestamp старше минимального времени генерации фидов).
// Так ловится «ушёл в оффлайн между скрейпами» — прямого сигнала нет.
func (s *StateStore) MarkStaleOffline(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.NodeState{}).
		Where("state = ? AND import_timestamp < ?", models.StateOnline, olderThan).
		Update("state", models.StateOffline)
	return res.RowsAffected, res.Error
}

// OnlineNeedingRecovery — записи ONLINE, которым последним уходило
// оффлайн-письмо: кандидаты на «снова в сети».
// Снапшот modifiedBefore не даёт выборке гоняться за записями,
// тронутыми в текущем проходе.
func (s *StateStore) OnlineNeedingRecovery(ctx context.Context, modifiedBefore time.Time, limit int) ([]models.NodeState, error) {
	var recs []models.NodeState
	err := s.db.WithContext(ctx).
		Where("state = ?", models.StateOnline).
		Where("last_status_mail_type IN ?", mailTypeStrings(models.OfflineMailTypes)).
		Where("updated_at < ?", modifiedBefore).
		Order("id asc").Limit(limit).
		Find(&recs).Error
	return recs, err
}

// OfflineForTier — кандидаты на оффлайн-письмо яруса n.
// prevType nil означает ярус 1: последнее письмо — никакого либо
// «снова в сети». offlineSince/mailBefore — уже вычисленные пороги.
func (s *StateStore) OfflineForTier(ctx context.Context, prevType *models.MailType, offlineSince, mailBefore, modifiedBefore time.Time, limit int) ([]models.NodeState, error) {
	q := s.db.WithContext(ctx).
		Where("state = ?", models.StateOffline).
		Where("last_seen <= ?", offlineSince).
		Where("updated_at < ?", modifiedBefore)
	if prevType == nil {
		q = q.Where("last_status_mail_type IS NULL OR last_status_mail_type = ?", string(models.MailMonitoringOnlineAgain))
	} else {
		q = q.Where("last_status_mail_type = ?", string(*prevType))
	}
	q = q.Where("last_status_mail_sent IS NULL OR last_status_mail_sent <= ?", mailBefore)

	var recs []models.NodeState
	err := q.Order("id asc").Limit(limit).Find(&recs).Error
	return recs, err
}

// MarkMailSent фиксирует отправленный тип письма и время.
func (s *StateStore) MarkMailSent(ctx context.Context, id uint, t models.MailType, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.NodeState{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_status_mail_type": string(t),
			"last_status_mail_sent": at,
		}).Error
}

// Touch освежает кэш hostname (и updated_at), не продвигая почтовое
// состояние — для пропущенных записей (узел удалён/мониторинг не ACTIVE).
func (s *StateStore) Touch(ctx context.Context, id uint, hostname string) error {
	return s.db.WithContext(ctx).Model(&models.NodeState{}).
		Where("id = ?", id).
		Updates(map[string]any{"hostname": hostname}).Error
}

func (s *StateStore) GetByMACs(ctx context.Context, macs []string) ([]models.NodeState, error) {
	var recs []models.NodeState
	err := s.db.WithContext(ctx).Where("mac IN ?", macs).Order("id asc").Find(&recs).Error
	return recs, err
}

func (s *StateStore) DeleteByMAC(ctx context.Context, mac string) error {
	return s.db.WithContext(ctx).Where("mac = ?", mac).Delete(&models.NodeState{}).Error
}

// PurgeNeverOnline удаляет записи узлов, ни разу не выходивших в сеть,
// старше порога.
func (s *StateStore) PurgeNeverOnline(ctx context.Context, createdBefore time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("last_online IS NULL AND created_at < ?", createdBefore).
		Delete(&models.NodeState{})
	return res.RowsAffected, res.Error
}

// OfflineLongerThan — записи OFFLINE с last_seen старше порога
// (кандидаты политики удаления).
func (s *StateStore) OfflineLongerThan(ctx context.Context, lastSeenBefore time.Time, limit int) ([]models.NodeState, error) {
	var recs []models.NodeState
	err := s.db.WithContext(ctx).
		Where("state = ? AND last_seen < ?", models.StateOffline, lastSeenBefore).
		Order("id asc").Limit(limit).
		Find(&recs).Error
	return recs, err
}

func mailTypeStrings(ts []models.MailType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
