package models

import "time"

// Channel connection statuses.
const (
	ConnectionStatusActive       = "active"
	ConnectionStatusInactive     = "inactive"
	ConnectionStatusError        = "error"
	ConnectionStatusDisconnected = "disconnected"
)

// ChannelConnection is one configured provider account for a company.
// ConnectionData is a JSON blob whose shape is determined entirely by
// ChannelType; adapters decode only their own variant.
type ChannelConnection struct {
	ID             uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CompanyID      uint      `json:"company_id" gorm:"index;not null"`
	Name           string    `json:"name" gorm:"size:100"`
	ChannelType    string    `json:"channel_type" gorm:"index;size:30;not null"`
	Status         string    `json:"status" gorm:"type:varchar(20);default:'inactive'"`
	ConnectionData string    `json:"-" gorm:"type:text"`
	LastError      string    `json:"last_error" gorm:"size:500"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ChannelConnection) TableName() string {
	return "channel_connections"
}
