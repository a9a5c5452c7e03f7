package models

import (
	"time"

	"gorm.io/datatypes"
)

// MailType — закрытый перечень видов писем; каждому соответствует шаблон.
type MailType string

const (
	MailMonitoringConfirmation MailType = "monitoring-confirmation"
	MailMonitoringOffline1     MailType = "monitoring-offline-1"
	MailMonitoringOffline2     MailType = "monitoring-offline-2"
	MailMonitoringOffline3     MailType = "monitoring-offline-3"
	MailMonitoringOnlineAgain  MailType = "monitoring-online-again"
)

// OfflineMailTypes — письма оффлайн-эскалации по ярусам (1..3).
var OfflineMailTypes = []MailType{
	MailMonitoringOffline1,
	MailMonitoringOffline2,
	MailMonitoringOffline3,
}

// Mail — письмо в durable-очереди (outbox). Доставка at-least-once:
// удаление только после успешной отправки, неудачи копят Failures.
// Записи с Failures >= лимита из ротации выводятся, но не удаляются —
// остаются оператору для разбора.
type Mail struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	MailType  MailType       `gorm:"size:32;not null" json:"mail_type"`
	Sender    string         `gorm:"size:255;not null" json:"sender"`
	Recipient string         `gorm:"size:255;not null" json:"recipient"`
	Data      datatypes.JSON `json:"data"`
	Failures  int            `gorm:"not null;default:0" json:"failures"`
}
