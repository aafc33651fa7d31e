package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WalletStatus string

const (
	WalletActive  WalletStatus = "active"
	WalletBlocked WalletStatus = "blocked"
)

func (s WalletStatus) Valid() bool {
	return s == WalletActive || s == WalletBlocked
}

// Wallet holds the single balance of an account. Balance only changes through
// the transfer path and is never negative.
type Wallet struct {
	ID        uint64          `gorm:"primaryKey;column:id" json:"id"`
	AccountID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"user"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'" json:"balance"`
	Status    WalletStatus    `gorm:"size:16;not null;default:'active'" json:"status"`
	Version   uint64          `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallet" }
