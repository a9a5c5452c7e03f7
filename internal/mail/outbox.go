package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"meshreg/internal/logs"
	"meshreg/internal/models"
)

// Transport — внешняя доставка письма. Любая ошибка транспорта —
// неудача доставки (письмо остаётся в очереди).
type Transport interface {
	Send(ctx context.Context, from, to, subject, htmlBody string) error
}

// Renderer — рендер шаблона по типу письма.
type Renderer interface {
	Render(t models.MailType, data map[string]any) (subject, body string, err error)
}

// Queue — хранилище очереди, как его видит outbox (repo.MailStore).
type Queue interface {
	Enqueue(ctx context.Context, m *models.Mail) error
	Pending(ctx context.Context, modifiedBefore time.Time, maxFailures, limit int) ([]models.Mail, error)
	RecordFailure(ctx context.Context, id uint) error
	Delete(ctx context.Context, id uint) error
}

// Outbox — durable-очередь писем. Постановка и доставка разнесены:
// Enqueue пишет в БД, DrainPending гоняется планировщиком и доставляет
// партиями с ограниченными повторами.
type Outbox struct {
	store       Queue
	transport   Transport
	renderer    Renderer
	sender      string
	confirmBase string
	batchSize   int
	maxFailures int
}

type Options struct {
	Sender         string
	ConfirmURLBase string
	BatchSize      int
	MaxFailures    int
}

func NewOutbox(store Queue, transport Transport, renderer Renderer, opts Options) *Outbox {
	return &Outbox{
		store:       store,
		transport:   transport,
		renderer:    renderer,
		sender:      opts.Sender,
		confirmBase: opts.ConfirmURLBase,
		batchSize:   opts.BatchSize,
		maxFailures: opts.MaxFailures,
	}
}

// Enqueue ставит письмо в очередь с failures=0. Payload обязан быть
// структурированным — nil означает ошибку в коде вызывающего.
func (o *Outbox) Enqueue(ctx context.Context, recipient string, t models.MailType, data map[string]any) error {
	if data == nil {
		panic("mail: payload must be a structured record")
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return o.store.Enqueue(ctx, &models.Mail{
		MailType:  t,
		Sender:    o.sender,
		Recipient: recipient,
		Data:      datatypes.JSON(buf),
	})
}

// SendConfirmation реализует repo.ConfirmationMailer: письмо со ссылками
// confirm/disable для только что выпущенного monitoring-токена.
func (o *Outbox) SendConfirmation(ctx context.Context, node *models.Node, monitoringToken string) error {
	return o.Enqueue(ctx, node.Email, models.MailMonitoringConfirmation, map[string]any{
		"nickname":    node.Nickname,
		"hostname":    node.Hostname,
		"mac":         node.MAC,
		"confirm_url": fmt.Sprintf("%s/api/monitoring/confirm/%s", o.confirmBase, monitoringToken),
		"disable_url": fmt.Sprintf("%s/api/monitoring/disable/%s", o.confirmBase, monitoringToken),
	})
}

// SendStatus ставит письмо смены статуса (оффлайн-ярусы, «снова в сети»).
func (o *Outbox) SendStatus(ctx context.Context, t models.MailType, node *models.Node, rec *models.NodeState, monitoringToken string) error {
	return o.Enqueue(ctx, node.Email, t, map[string]any{
		"nickname":    node.Nickname,
		"hostname":    rec.Hostname,
		"mac":         rec.MAC,
		"site":        rec.Site,
		"domain":      rec.Domain,
		"last_seen":   rec.LastSeen.Format(time.RFC3339),
		"disable_url": fmt.Sprintf("%s/api/monitoring/disable/%s", o.confirmBase, monitoringToken),
	})
}

// DrainPending выгребает очередь партиями. Снапшот start не даёт проходу
// гоняться за письмами, поставленными или упавшими по ходу: неудача
// двигает updated_at за снапшот. Успех — удаление, неудача — failures+1.
// Партия без прогресса (ни одна запись не ушла за снапшот) обрывает
// проход — иначе битая запись крутила бы цикл до рестарта.
func (o *Outbox) DrainPending(ctx context.Context) (sent, failed int, err error) {
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return sent, failed, err
		}
		batch, err := o.store.Pending(ctx, start, o.maxFailures, o.batchSize)
		if err != nil {
			return sent, failed, err
		}
		if len(batch) == 0 {
			return sent, failed, nil
		}
		progress := 0
		for i := range batch {
			m := &batch[i]
			if derr := o.deliver(ctx, m); derr != nil {
				failed++
				logs.Logger.Errorf("mail %d (%s → %s): delivery failed: %v", m.ID, m.MailType, m.Recipient, derr)
				if ferr := o.store.RecordFailure(ctx, m.ID); ferr != nil {
					logs.Logger.Errorf("mail %d: failure counter: %v", m.ID, ferr)
				} else {
					progress++
				}
				continue
			}
			sent++
			if derr := o.store.Delete(ctx, m.ID); derr != nil {
				logs.Logger.Errorf("mail %d: delete after send: %v", m.ID, derr)
				// письмо ушло, а из очереди не убралось: двигаем счётчик,
				// чтобы повтор случился в следующем цикле, не в этом
				// (at-least-once допускает дубль, но не бесконечный поток)
				if ferr := o.store.RecordFailure(ctx, m.ID); ferr != nil {
					logs.Logger.Errorf("mail %d: failure counter: %v", m.ID, ferr)
				} else {
					progress++
				}
				continue
			}
			progress++
		}
		if progress == 0 {
			logs.Logger.Warnf("mail drain: no progress on a batch of %d, stopping this run", len(batch))
			return sent, failed, nil
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, m *models.Mail) error {
	var data map[string]any
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	subject, body, err := o.renderer.Render(m.MailType, data)
	if err != nil {
		return err
	}
	return o.transport.Send(ctx, m.Sender, m.Recipient, subject, body)
}
