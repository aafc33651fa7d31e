package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

// UserStatus applies to accounts with RoleUser.
type UserStatus string

const (
	UserActive  UserStatus = "active"
	UserBlocked UserStatus = "blocked"
)

func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserBlocked
}

// AgentStatus applies to accounts with RoleAgent.
type AgentStatus string

const (
	AgentApproved  AgentStatus = "approved"
	AgentSuspended AgentStatus = "suspended"
)

func (s AgentStatus) Valid() bool {
	return s == AgentApproved || s == AgentSuspended
}

// Account is a party able to own a wallet. Accounts are never deleted.
type Account struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string      `gorm:"size:128;not null" json:"name"`
	Email        string      `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string      `gorm:"size:255;not null" json:"-"`
	Phone        string      `gorm:"size:32" json:"phone,omitempty"`
	Role         Role        `gorm:"size:16;not null;default:'user'" json:"role"`
	UserStatus   UserStatus  `gorm:"size:16;not null;default:'active'" json:"userStatus"`
	AgentStatus  AgentStatus `gorm:"size:16;not null;default:'approved'" json:"agentStatus"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string { return "account" }

// CanTransact reports whether the account's role-specific status permits
// moving money. Admins never transact.
func (a *Account) CanTransact() bool {
	switch a.Role {
	case RoleUser:
		return a.UserStatus == UserActive
	case RoleAgent:
		return a.AgentStatus == AgentApproved
	case RoleAdmin:
		return false
	}
	return false
}
