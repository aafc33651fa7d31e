package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind names one of the five money movements.
type Kind string

const (
	KindAddMoney  Kind = "add_money"
	KindWithdraw  Kind = "withdraw"
	KindSendMoney Kind = "send_money"
	KindCashIn    Kind = "cash_in"
	KindCashOut   Kind = "cash_out"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAddMoney, KindWithdraw, KindSendMoney, KindCashIn, KindCashOut:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusCompleted || s == StatusFailed
}

// Transaction is the immutable ledger record of one transfer. The From side
// is always the debited party, the To side the credited one. The initiator is
// whoever requested the transfer and owns its idempotency key.
type Transaction struct {
	ID                uint64          `gorm:"primaryKey" json:"id"`
	Reference         uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex" json:"reference"`
	FromWalletID      *uint64         `json:"from_wallet_id,omitempty"`
	ToWalletID        *uint64         `json:"to_wallet_id,omitempty"`
	InitiatorID       *uuid.UUID      `gorm:"column:initiator_account_id;type:uuid;uniqueIndex:idx_transaction_idem,priority:1" json:"initiator,omitempty"`
	FromAccountID     *uuid.UUID      `gorm:"type:uuid;index" json:"from,omitempty"`
	ToAccountID       *uuid.UUID      `gorm:"type:uuid;index" json:"to,omitempty"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	Fee               decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'" json:"fee"`
	Kind              Kind            `gorm:"size:16;not null;index;uniqueIndex:idx_transaction_idem,priority:2" json:"type"`
	Status            Status          `gorm:"size:16;not null;default:'pending';index" json:"status"`
	FromBalanceBefore decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'" json:"-"`
	FromBalanceAfter  decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'" json:"-"`
	ToBalanceBefore   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'" json:"-"`
	ToBalanceAfter    decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'" json:"-"`
	IdempotencyKey    *string         `gorm:"size:64;uniqueIndex:idx_transaction_idem,priority:3" json:"-"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string { return "transaction" }
