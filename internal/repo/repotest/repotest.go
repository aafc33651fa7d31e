// Package repotest provides in-memory sqlite stores for tests.
package repotest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated in-memory database private to t. A single
// connection serializes store transactions the way row locks would.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "_" + uuid.NewString()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Party is a seeded account and its wallet.
type Party struct {
	Account model.Account
	Wallet  model.Wallet
}

// Seed inserts an account with a wallet holding balance. Users are active and
// agents approved unless the caller changes them afterwards.
func Seed(t testing.TB, db *gorm.DB, role model.Role, balance string) Party {
	t.Helper()
	id := uuid.New()
	acc := model.Account{
		ID:           id,
		Name:         string(role) + "-" + id.String()[:8],
		Email:        id.String() + "@test.local",
		PasswordHash: "x",
		Role:         role,
		UserStatus:   model.UserActive,
		AgentStatus:  model.AgentApproved,
	}
	if role == model.RoleUser {
		acc.AgentStatus = model.AgentSuspended
	}
	if err := db.Create(&acc).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}
	w := model.Wallet{AccountID: id, Balance: decimal.RequireFromString(balance), Status: model.WalletActive}
	if err := db.Create(&w).Error; err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	return Party{Account: acc, Wallet: w}
}

// Balance reads the stored balance of accountID.
func Balance(t testing.TB, db *gorm.DB, accountID uuid.UUID) decimal.Decimal {
	t.Helper()
	var w model.Wallet
	if err := db.Where("account_id = ?", accountID).First(&w).Error; err != nil {
		t.Fatalf("read wallet: %v", err)
	}
	return w.Balance
}
