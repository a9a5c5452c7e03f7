package models

import "time"

// Онлайн-состояние узла по данным фида.
const (
	StateOnline  = "ONLINE"
	StateOffline = "OFFLINE"
)

// NodeState — запись состояния по MAC, живёт независимо от реестра
// (узел могли удалить, запись остаётся до очистки).
// Инвариант: ImportTimestamp монотонно не убывает — апдейт с более старым
// или равным временем генерации фида игнорируется.
type NodeState struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	MAC      string `gorm:"uniqueIndex;size:17;not null" json:"mac"`
	Hostname string `gorm:"size:255" json:"hostname"` // кэш из реестра/фида
	Site     string `gorm:"size:64" json:"site,omitempty"`
	Domain   string `gorm:"size:64" json:"domain,omitempty"`

	State           string    `gorm:"size:16;not null" json:"state"`
	LastSeen        time.Time `json:"last_seen"`
	ImportTimestamp time.Time `gorm:"index" json:"import_timestamp"`

	// Когда узел последний раз был онлайн; NULL — ни разу не был.
	LastOnline *time.Time `json:"last_online,omitempty"`

	LastStatusMailSent *time.Time `json:"last_status_mail_sent,omitempty"`
	LastStatusMailType *string    `gorm:"size:32" json:"last_status_mail_type,omitempty"`
}
