package repo

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richardliu001/wallet-ledger/internal/apperr"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrOptimisticConflict is returned when a versioned wallet update lost a race.
var ErrOptimisticConflict = errors.New("optimistic lock conflict")

// RepositoryInterface restricts Repo methods for the services.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	GetAccount(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	CreateAccountWithWallet(ctx context.Context, acc *model.Account, initial decimal.Decimal) (*model.Wallet, error)
	UpdateAccountStatus(ctx context.Context, id uuid.UUID, column string, value interface{}) error
	UpdateWalletStatus(ctx context.Context, accountID uuid.UUID, status model.WalletStatus) error
	UpdateAccountProfile(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	ListAccounts(ctx context.Context, offset, limit int) ([]model.Account, int64, error)
	ListWallets(ctx context.Context, offset, limit int) ([]model.Wallet, int64, error)

	GetWallet(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*model.Wallet, error)
	LockWalletPair(ctx context.Context, tx *gorm.DB, a, b uuid.UUID) (*model.Wallet, *model.Wallet, error)
	ApplyTransfer(ctx context.Context, tx *gorm.DB, src, dst *model.Wallet, debit, credit decimal.Decimal) (*model.Wallet, *model.Wallet, error)
	UpdateWallet(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error

	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	TxExists(ctx context.Context, tx *gorm.DB, initiator uuid.UUID, idemKey string, kind model.Kind) (bool, *model.Transaction, error)
	QueryTransactions(ctx context.Context, f TxFilter) ([]model.Transaction, int64, error)
	SumTransactions(ctx context.Context, f TxFilter) (decimal.Decimal, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error

	CacheBalance(ctx context.Context, accountID uuid.UUID, bal decimal.Decimal, version uint64) error
	GetCachedBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db    *gorm.DB
	cache *BalanceCache
	log   *zap.SugaredLogger
}

// NewRepository constructs repo. cache may be nil.
func NewRepository(db *gorm.DB, cache *BalanceCache, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, cache: cache, log: logger}
}

// Migrate creates or updates every table the ledger owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Account{}, &model.Wallet{}, &model.Transaction{}, &model.OutboxEvent{})
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetAccount resolves an account inside tx.
func (r *Repository) GetAccount(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Account, error) {
	var a model.Account
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindPartyNotFound, "account not found")
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var a model.Account
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "account not found")
		}
		return nil, err
	}
	return &a, nil
}

// CreateAccountWithWallet inserts the account and its only wallet together.
func (r *Repository) CreateAccountWithWallet(ctx context.Context, acc *model.Account, initial decimal.Decimal) (*model.Wallet, error) {
	var w *model.Wallet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Account{}).Where("email = ?", acc.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.New(apperr.KindDuplicate, "account already exists")
		}
		if acc.ID == uuid.Nil {
			acc.ID = uuid.New()
		}
		if err := tx.Create(acc).Error; err != nil {
			return err
		}
		w = &model.Wallet{AccountID: acc.ID, Balance: initial, Status: model.WalletActive}
		return tx.Create(w).Error
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, apperr.Wrap(apperr.KindDuplicate, "account already exists", err)
		}
		return nil, err
	}
	return w, nil
}

// UpdateAccountStatus sets a single status column on one account.
func (r *Repository) UpdateAccountStatus(ctx context.Context, id uuid.UUID, column string, value interface{}) error {
	res := r.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{column: value, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "account not found")
	}
	return nil
}

func (r *Repository) UpdateWalletStatus(ctx context.Context, accountID uuid.UUID, status model.WalletStatus) error {
	res := r.db.WithContext(ctx).Model(&model.Wallet{}).Where("account_id = ?", accountID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindWalletNotFound, "wallet not found")
	}
	return nil
}

// UpdateAccountProfile writes profile columns; status and role columns are
// changed through UpdateAccountStatus only.
func (r *Repository) UpdateAccountProfile(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	for col := range updates {
		if !profileColumns[col] {
			return apperr.Newf(apperr.KindInvalidRequest, "%s cannot be changed here", col)
		}
	}
	updates["updated_at"] = time.Now()
	res := r.db.WithContext(ctx).Model(&model.Account{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.New(apperr.KindNotFound, "account not found")
	}
	return nil
}

var profileColumns = map[string]bool{"name": true, "phone": true, "password_hash": true}

// ListAccounts returns one page of accounts, newest first, and the total count.
func (r *Repository) ListAccounts(ctx context.Context, offset, limit int) ([]model.Account, int64, error) {
	var accs []model.Account
	total, err := r.paginate(ctx, &model.Account{}, offset, limit, &accs)
	return accs, total, err
}

// ListWallets returns one page of wallets, newest first, and the total count.
func (r *Repository) ListWallets(ctx context.Context, offset, limit int) ([]model.Wallet, int64, error) {
	var ws []model.Wallet
	total, err := r.paginate(ctx, &model.Wallet{}, offset, limit, &ws)
	return ws, total, err
}

func (r *Repository) paginate(ctx context.Context, table interface{}, offset, limit int, dest interface{}) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(table).Count(&total).Error; err != nil {
		return 0, err
	}
	q := r.db.WithContext(ctx).Order("created_at desc, id desc")
	if offset > 0 {
		q = q.Offset(offset)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return total, q.Find(dest).Error
}

// GetWallet reads a wallet without locking.
func (r *Repository) GetWallet(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).Where("account_id = ?", accountID).First(&w).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindWalletNotFound, "wallet not found")
		}
		return nil, err
	}
	return &w, nil
}

// getWalletForUpdate locks the wallet row; a missing wallet yields (nil, nil).
func (r *Repository) getWalletForUpdate(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*model.Wallet, error) {
	var w model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// LockWalletPair locks the wallets of a and b in ascending account id order so
// a transfer and its reverse never deadlock. A missing wallet is returned as nil.
func (r *Repository) LockWalletPair(ctx context.Context, tx *gorm.DB, a, b uuid.UUID) (*model.Wallet, *model.Wallet, error) {
	first, second := a, b
	swapped := bytes.Compare(second[:], first[:]) < 0
	if swapped {
		first, second = second, first
	}
	w1, err := r.getWalletForUpdate(ctx, tx, first)
	if err != nil {
		return nil, nil, err
	}
	w2, err := r.getWalletForUpdate(ctx, tx, second)
	if err != nil {
		return nil, nil, err
	}
	if swapped {
		return w2, w1, nil
	}
	return w1, w2, nil
}

// ApplyTransfer is the only balance mutation. src and dst must already be
// locked in tx. Both wallets are re-verified, then written together with
// versioned updates; any failure leaves tx to be rolled back by the caller.
func (r *Repository) ApplyTransfer(ctx context.Context, tx *gorm.DB, src, dst *model.Wallet, debit, credit decimal.Decimal) (*model.Wallet, *model.Wallet, error) {
	if src == nil || dst == nil {
		return nil, nil, apperr.New(apperr.KindWalletNotFound, "wallet not found")
	}
	if src.ID == dst.ID {
		return nil, nil, apperr.New(apperr.KindSelfTransferForbidden, "source and destination wallet are the same")
	}
	if src.Status != model.WalletActive || dst.Status != model.WalletActive {
		return nil, nil, apperr.New(apperr.KindWalletNotActive, "wallet is not active")
	}
	if src.Balance.LessThan(debit) {
		return nil, nil, apperr.New(apperr.KindInsufficientFunds, "insufficient funds")
	}

	newSrc := src.Balance.Sub(debit)
	newDst := dst.Balance.Add(credit)
	if err := r.UpdateWallet(ctx, tx, src.ID, newSrc, src.Version); err != nil {
		return nil, nil, err
	}
	if err := r.UpdateWallet(ctx, tx, dst.ID, newDst, dst.Version); err != nil {
		return nil, nil, err
	}

	s, d := *src, *dst
	s.Balance, s.Version = newSrc, src.Version+1
	d.Balance, d.Version = newDst, dst.Version+1
	return &s, &d, nil
}

// UpdateWallet with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, walletID uint64, newBalance decimal.Decimal, oldVersion uint64) error {
	if newBalance.IsNegative() {
		return apperr.New(apperr.KindInsufficientFunds, "insufficient funds")
	}
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ? AND version = ?", walletID, oldVersion).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"version":    oldVersion + 1,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOptimisticConflict
	}
	return nil
}

// CreateTransaction inserts record.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	if t.Reference == uuid.Nil {
		t.Reference = uuid.New()
	}
	return tx.WithContext(ctx).Create(t).Error
}

// TxExists looks up an earlier record by the initiator's idempotency key.
func (r *Repository) TxExists(ctx context.Context, tx *gorm.DB, initiator uuid.UUID, idemKey string, kind model.Kind) (bool, *model.Transaction, error) {
	if idemKey == "" {
		return false, nil, nil
	}
	var t model.Transaction
	err := tx.WithContext(ctx).Where("initiator_account_id=? AND idempotency_key=? AND kind=?", initiator, idemKey, kind).First(&t).Error
	if err == nil {
		return true, &t, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	return false, nil, err
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("created_at, id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// CacheBalance writes Redis unless a newer wallet version is already cached.
func (r *Repository) CacheBalance(ctx context.Context, accountID uuid.UUID, bal decimal.Decimal, version uint64) error {
	written, err := r.cache.Set(ctx, accountID, bal, version)
	if err == nil && !written {
		r.log.Debugw("cached balance is newer, skipped", "account_id", accountID, "version", version)
	}
	return err
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	return r.cache.Get(ctx, accountID)
}

// IsConflict reports transient write contention worth retrying: a lost
// optimistic update, a serialization failure or a deadlock victim.
func IsConflict(err error) bool {
	if errors.Is(err, ErrOptimisticConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// IsUniqueViolation reports a unique constraint failure on postgres or sqlite.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
