package models

import (
	"time"
)

// Состояния мониторинга узла.
const (
	MonitoringDisabled = "DISABLED"
	MonitoringPending  = "PENDING" // включён, но адрес ещё не подтверждён
	MonitoringActive   = "ACTIVE"
)

// Node — запись реестра: узел mesh-сети, зарегистрированный владельцем.
// Token — секрет владельца, единственный ключ к мутациям записи.
// Уникальность hostname/key/mac держат индексы БД; мягкого удаления нет,
// иначе индексы перестали бы отражать «живые» записи.
type Node struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Token    string `gorm:"uniqueIndex;size:32;not null" json:"token"`
	Nickname string `gorm:"size:64;not null" json:"nickname"`
	Email    string `gorm:"size:255;not null" json:"email"`
	Hostname string `gorm:"uniqueIndex;size:255;not null" json:"hostname"`

	// Координаты "lat lon" — опционально.
	Coords string `gorm:"size:64" json:"coords,omitempty"`

	// fastd-ключ узла; NULL, если не задан (пустые строки сломали бы uniqueIndex).
	FastdKey *string `gorm:"uniqueIndex;size:128" json:"key,omitempty"`

	// Канонический вид: верхний регистр, разделитель «:».
	MAC string `gorm:"uniqueIndex;size:17;not null" json:"mac"`

	MonitoringState string `gorm:"size:16;not null;default:DISABLED" json:"monitoring_state"`
}

// NodeSecret — секреты узла, никогда не отдаются списками наружу.
// MonitoringToken рассылается в письме как ссылка confirm/disable и
// перевыпускается при каждом (пере)включении мониторинга или смене email.
type NodeSecret struct {
	ID        uint      `gorm:"primaryKey"`
	NodeID    uint      `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time

	MonitoringToken *string `gorm:"uniqueIndex;size:32"`
}
