package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"meshreg/internal/models"
)

type MailStore struct{ db *gorm.DB }

func NewMailStore(db *gorm.DB) *MailStore { return &MailStore{db: db} }

func (s *MailStore) Enqueue(ctx context.Context, m *models.Mail) error {
	return s.db.WithContext(ctx).Create(m).Error
}

// Pending — партия писем на отправку: failures меньше лимита, изменены
// до начала прохода (снапшот modifiedBefore не даёт дрейну гоняться за
// письмами, поставленными или упавшими по ходу), по возрастанию id.
func (s *MailStore) Pending(ctx context.Context, modifiedBefore time.Time, maxFailures, limit int) ([]models.Mail, error) {
	var mails []models.Mail
	err := s.db.WithContext(ctx).
		Where("failures < ? AND updated_at < ?", maxFailures, modifiedBefore).
		Order("id asc").Limit(limit).
		Find(&mails).Error
	return mails, err
}

// RecordFailure — неудачная доставка: failures+1, письмо остаётся в
// очереди до следующего цикла.
func (s *MailStore) RecordFailure(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.Mail{}).
		Where("id = ?", id).
		Updates(map[string]any{"failures": gorm.Expr("failures + 1")})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMailNotFound
	}
	return nil
}

// -------- Администрирование очереди --------

func (s *MailStore) List(ctx context.Context) ([]models.Mail, error) {
	var mails []models.Mail
	err := s.db.WithContext(ctx).Order("id asc").Find(&mails).Error
	return mails, err
}

func (s *MailStore) Get(ctx context.Context, id uint) (*models.Mail, error) {
	var m models.Mail
	err := s.db.WithContext(ctx).First(&m, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMailNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MailStore) Delete(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.Mail{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMailNotFound
	}
	return nil
}

// ResetFailures возвращает письмо в ротацию. Существование проверяется
// явным чтением: по RowsAffected на MySQL (changed-rows) «нет записи» не
// отличить от «failures уже 0».
func (s *MailStore) ResetFailures(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.Mail
		if err := tx.First(&m, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMailNotFound
			}
			return err
		}
		return tx.Model(&m).Update("failures", 0).Error
	})
}
