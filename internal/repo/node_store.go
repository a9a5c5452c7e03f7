package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"meshreg/internal/logs"
	"meshreg/internal/models"
)

// ConfirmationMailer — односторонний вызов в почтовую очередь при переходе
// в PENDING. Реестр не ждёт доставки; ошибка постановки только логируется.
type ConfirmationMailer interface {
	SendConfirmation(ctx context.Context, node *models.Node, monitoringToken string) error
}

type NodeStore struct {
	db    *gorm.DB
	mails ConfirmationMailer // может быть nil (тесты, bootstrap до сборки почты)
}

func NewNodeStore(db *gorm.DB, mails ConfirmationMailer) *NodeStore {
	return &NodeStore{db: db, mails: mails}
}

// NodeInput — поля, которыми владелец управляет при create/update.
type NodeInput struct {
	Nickname   string
	Email      string
	Hostname   string
	Coords     string
	FastdKey   string
	MAC        string
	Monitoring bool
}

func (in *NodeInput) normalize() (mac, key string, err error) {
	mac, err = models.NormalizeMAC(in.MAC)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if strings.TrimSpace(in.Hostname) == "" {
		return "", "", fmt.Errorf("%w: empty hostname", ErrBadRequest)
	}
	if strings.TrimSpace(in.Email) == "" {
		return "", "", fmt.Errorf("%w: empty email", ErrBadRequest)
	}
	return mac, strings.TrimSpace(in.FastdKey), nil
}

// -------- Create --------

// Create регистрирует узел: свежий token, при запрошенном мониторинге —
// свежий monitoring-токен и состояние PENDING. Проверка уникальности и
// запись идут в одной транзакции; уникальные индексы БД ловят гонку,
// проскочившую мимо предварительной проверки.
func (s *NodeStore) Create(ctx context.Context, in NodeInput) (*models.Node, error) {
	mac, key, err := in.normalize()
	if err != nil {
		return nil, err
	}

	var node *models.Node
	var mtoken string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkUnique(tx, 0, in.Hostname, key, mac); err != nil {
			return err
		}
		n := &models.Node{
			Token:           NewToken(),
			Nickname:        in.Nickname,
			Email:           in.Email,
			Hostname:        in.Hostname,
			Coords:          in.Coords,
			MAC:             mac,
			MonitoringState: models.MonitoringDisabled,
		}
		if key != "" {
			n.FastdKey = &key
		}
		if in.Monitoring {
			n.MonitoringState = models.MonitoringPending
		}
		if err := tx.Create(n).Error; err != nil {
			return translateUnique(err)
		}
		if in.Monitoring {
			mtoken = NewToken()
			sec := &models.NodeSecret{NodeID: n.ID, MonitoringToken: &mtoken}
			if err := tx.Create(sec).Error; err != nil {
				return translateUnique(err)
			}
		}
		node = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mtoken != "" {
		s.notifyConfirmation(ctx, node, mtoken)
	}
	return node, nil
}

// -------- Update (включая машину состояний мониторинга) --------

// Update меняет запись по token владельца. Переход состояния мониторинга
// вычисляется до записи:
//   - включили из DISABLED → PENDING, новый токен, письмо;
//   - включён и сменился email → PENDING, новый токен, письмо (новый адрес
//     надо подтвердить заново);
//   - включён, email прежний → состояние не трогаем; потерянный токен
//     (рассинхрон) перевыпускаем без смены состояния;
//   - выключили → DISABLED, токен очищается.
func (s *NodeStore) Update(ctx context.Context, token string, in NodeInput) (*models.Node, error) {
	mac, key, err := in.normalize()
	if err != nil {
		return nil, err
	}

	var node *models.Node
	var mtoken string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n models.Node
		if err := tx.Where("token = ?", token).First(&n).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		// своя запись из сравнения исключается
		if err := checkUnique(tx, n.ID, in.Hostname, key, mac); err != nil {
			return err
		}

		var sec models.NodeSecret
		secErr := tx.Where("node_id = ?", n.ID).First(&sec).Error
		hasSecret := secErr == nil
		if secErr != nil && !errors.Is(secErr, gorm.ErrRecordNotFound) {
			return secErr
		}

		emailChanged := n.Email != in.Email

		switch {
		case !in.Monitoring:
			n.MonitoringState = models.MonitoringDisabled
			if hasSecret && sec.MonitoringToken != nil {
				sec.MonitoringToken = nil
				if err := tx.Save(&sec).Error; err != nil {
					return err
				}
			}
		case n.MonitoringState == models.MonitoringDisabled || emailChanged:
			n.MonitoringState = models.MonitoringPending
			mtoken = NewToken()
			if err := putSecret(tx, n.ID, &sec, hasSecret, mtoken); err != nil {
				return err
			}
		default:
			if !hasSecret || sec.MonitoringToken == nil {
				if err := putSecret(tx, n.ID, &sec, hasSecret, NewToken()); err != nil {
					return err
				}
			}
		}

		n.Nickname = in.Nickname
		n.Email = in.Email
		n.Hostname = in.Hostname
		n.Coords = in.Coords
		n.MAC = mac
		if key != "" {
			n.FastdKey = &key
		} else {
			n.FastdKey = nil
		}
		if err := tx.Save(&n).Error; err != nil {
			return translateUnique(err)
		}
		node = &n
		return nil
	})
	if err != nil {
		return nil, err
	}
	if mtoken != "" {
		s.notifyConfirmation(ctx, node, mtoken)
	}
	return node, nil
}

func putSecret(tx *gorm.DB, nodeID uint, sec *models.NodeSecret, exists bool, token string) error {
	if exists {
		sec.MonitoringToken = &token
		return tx.Save(sec).Error
	}
	*sec = models.NodeSecret{NodeID: nodeID, MonitoringToken: &token}
	return tx.Create(sec).Error
}

// -------- Delete --------

// Delete удаляет запись по token. Повторное удаление — ErrNotFound,
// идемпотентность этот слой не обещает.
func (s *NodeStore) Delete(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n models.Node
		if err := tx.Where("token = ?", token).First(&n).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return deleteNode(tx, &n)
	})
}

// DeleteByMAC — для политики удаления давно оффлайновых узлов.
// Отсутствие записи не ошибка.
func (s *NodeStore) DeleteByMAC(ctx context.Context, mac string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n models.Node
		if err := tx.Where("mac = ?", mac).First(&n).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		return deleteNode(tx, &n)
	})
}

func deleteNode(tx *gorm.DB, n *models.Node) error {
	if err := tx.Where("node_id = ?", n.ID).Delete(&models.NodeSecret{}).Error; err != nil {
		return err
	}
	return tx.Delete(n).Error
}

// -------- Monitoring confirm/disable по monitoring-токену --------

// ConfirmMonitoring: PENDING → ACTIVE. Повторный confirm тем же токеном —
// no-op (узел остаётся ACTIVE, второго письма нет).
func (s *NodeStore) ConfirmMonitoring(ctx context.Context, mtoken string) (*models.Node, error) {
	var node *models.Node
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, _, err := nodeByMonitoringToken(tx, mtoken)
		if err != nil {
			return err
		}
		if n.MonitoringState == models.MonitoringActive {
			node = n
			return nil
		}
		n.MonitoringState = models.MonitoringActive
		if err := tx.Save(n).Error; err != nil {
			return err
		}
		node = n
		return nil
	})
	return node, err
}

// DisableMonitoring: любое состояние → DISABLED, токен очищается;
// старый токен после этого недействителен.
func (s *NodeStore) DisableMonitoring(ctx context.Context, mtoken string) (*models.Node, error) {
	var node *models.Node
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, sec, err := nodeByMonitoringToken(tx, mtoken)
		if err != nil {
			return err
		}
		n.MonitoringState = models.MonitoringDisabled
		sec.MonitoringToken = nil
		if err := tx.Save(sec).Error; err != nil {
			return err
		}
		if err := tx.Save(n).Error; err != nil {
			return err
		}
		node = n
		return nil
	})
	return node, err
}

func nodeByMonitoringToken(tx *gorm.DB, mtoken string) (*models.Node, *models.NodeSecret, error) {
	if strings.TrimSpace(mtoken) == "" {
		return nil, nil, ErrBadToken
	}
	var sec models.NodeSecret
	if err := tx.Where("monitoring_token = ?", mtoken).First(&sec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrBadToken
		}
		return nil, nil, err
	}
	var n models.Node
	if err := tx.First(&n, sec.NodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrBadToken
		}
		return nil, nil, err
	}
	if n.MonitoringState == models.MonitoringDisabled {
		return nil, nil, ErrBadToken
	}
	return &n, &sec, nil
}

// -------- Чтение --------

// GetByToken — владельческий путь: отсутствие записи это ошибка.
func (s *NodeStore) GetByToken(ctx context.Context, token string) (*models.Node, error) {
	var n models.Node
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindByMAC — внутренний путь (реконсилер/эскалация): отсутствие
// записи это (nil, nil), не ошибка.
func (s *NodeStore) FindByMAC(ctx context.Context, mac string) (*models.Node, error) {
	var n models.Node
	err := s.db.WithContext(ctx).Where("mac = ?", mac).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// MonitoringTokenFor возвращает действующий monitoring-токен узла
// (nil — токена нет).
func (s *NodeStore) MonitoringTokenFor(ctx context.Context, nodeID uint) (*string, error) {
	var sec models.NodeSecret
	err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).First(&sec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sec.MonitoringToken, nil
}

func (s *NodeStore) ListAll(ctx context.Context) ([]models.Node, error) {
	var nodes []models.Node
	err := s.db.WithContext(ctx).Order("id asc").Find(&nodes).Error
	return nodes, err
}

// -------- Уникальность --------

// checkUnique проверяет инварианты уникальности, исключая собственную
// запись selfID. Порядок приоритета: hostname, key, mac.
// Monitoring-токены генерируются из CSPRNG и проверяются только
// уникальным индексом: коллизия — гонка для translateUnique.
func checkUnique(tx *gorm.DB, selfID uint, hostname, key, mac string) error {
	count := func(q *gorm.DB) (int64, error) {
		var n int64
		err := q.Count(&n).Error
		return n, err
	}

	n, err := count(tx.Model(&models.Node{}).Where("hostname = ? AND id <> ?", hostname, selfID))
	if err != nil {
		return err
	}
	if n > 0 {
		return &ConflictError{Field: "hostname"}
	}
	if key != "" {
		n, err = count(tx.Model(&models.Node{}).Where("fastd_key = ? AND id <> ?", key, selfID))
		if err != nil {
			return err
		}
		if n > 0 {
			return &ConflictError{Field: "key"}
		}
	}
	n, err = count(tx.Model(&models.Node{}).Where("mac = ? AND id <> ?", mac, selfID))
	if err != nil {
		return err
	}
	if n > 0 {
		return &ConflictError{Field: "mac"}
	}
	return nil
}

// translateUnique — гонка, проскочившая мимо checkUnique, упирается в
// уникальный индекс; отдаём тот же тип конфликта (поле уже не узнать).
func translateUnique(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &ConflictError{}
	}
	return err
}

func (s *NodeStore) notifyConfirmation(ctx context.Context, n *models.Node, mtoken string) {
	if s.mails == nil {
		return
	}
	if err := s.mails.SendConfirmation(ctx, n, mtoken); err != nil {
		logs.Logger.Errorf("confirmation mail enqueue failed for %s: %v", n.Hostname, err)
	}
}
