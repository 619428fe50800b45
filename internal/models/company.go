package models

import (
	"time"

	"gorm.io/gorm"
)

// Company is a tenant. Every connection, conversation, contact and message
// belongs to exactly one company.
type Company struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	Subdomain string    `json:"subdomain" gorm:"uniqueIndex;size:63"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Users       []User              `json:"-" gorm:"foreignKey:CompanyID"`
	Connections []ChannelConnection `json:"-" gorm:"foreignKey:CompanyID"`
	Settings    []CompanySetting    `json:"-" gorm:"foreignKey:CompanyID"`
}

func (Company) TableName() string {
	return "companies"
}

// CompanySetting is a per-tenant key/value setting, e.g.
// "inbox_agent_signature_enabled" = "true".
type CompanySetting struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	CompanyID uint      `json:"company_id" gorm:"uniqueIndex:idx_company_setting;not null"`
	Key       string    `json:"key" gorm:"uniqueIndex:idx_company_setting;size:100;not null"`
	Value     string    `json:"value" gorm:"size:500"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (CompanySetting) TableName() string {
	return "company_settings"
}

// User is an agent account within a company.
type User struct {
	ID           uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	CompanyID    uint   `json:"company_id" gorm:"index;not null"`
	Username     string `json:"username" gorm:"uniqueIndex;size:50;not null"`
	Email        string `json:"email" gorm:"uniqueIndex;size:100;not null"`
	PasswordHash string `json:"-" gorm:"size:255;not null"` // "-" means don't include in JSON

	// Display identity. Any of these may be empty; agent signature resolution
	// walks FullName -> Name -> FirstName+LastName -> DisplayName -> email.
	FullName    string `json:"full_name" gorm:"size:100"`
	Name        string `json:"name" gorm:"size:100"`
	FirstName   string `json:"first_name" gorm:"size:50"`
	LastName    string `json:"last_name" gorm:"size:50"`
	DisplayName string `json:"display_name" gorm:"size:100"`

	Role     string `json:"role" gorm:"type:varchar(20);default:'agent';check:role IN ('admin','agent')"`
	IsActive bool   `json:"is_active" gorm:"default:true"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

// UserLogin represents a login request
type UserLogin struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserRegister represents a registration request
type UserRegister struct {
	CompanyID uint   `json:"company_id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID        uint      `json:"id"`
	CompanyID uint      `json:"company_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
