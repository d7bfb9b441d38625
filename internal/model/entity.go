package model

import "time"

// User — account record (GORM). Role is authoritative; presence bindings hold
// a snapshot taken at bind time.
type User struct {
	ID        string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Email     string    `gorm:"size:255;not null;uniqueIndex"`
	Username  string    `gorm:"size:64;not null;uniqueIndex"`
	FirstName string    `gorm:"size:128"`
	LastName  string    `gorm:"size:128"`
	Image     string    `gorm:"size:512"`
	Role      string    `gorm:"size:32;not null;default:user"` // user, admin, superadmin
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (User) TableName() string { return "users" }

// UserSession — cookie-backed login session (GORM).
type UserSession struct {
	ID        string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID    string    `gorm:"type:uuid;not null;index"`
	Token     string    `gorm:"size:128;not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (UserSession) TableName() string { return "user_sessions" }

// AuditEvent — durable record of a privileged action (GORM).
type AuditEvent struct {
	ID        string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID    string    `gorm:"type:uuid;index"`
	Category  string    `gorm:"size:32;not null"`
	Type      string    `gorm:"size:64;not null"`
	Action    string    `gorm:"size:64"`
	Status    string    `gorm:"size:16;not null"` // success, failed
	Error     string    `gorm:"size:512"`
	Metadata  string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (AuditEvent) TableName() string { return "audit_events" }
