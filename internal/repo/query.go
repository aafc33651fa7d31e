package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// sortable columns of the transaction table
var sortColumns = map[string]bool{
	"created_at": true,
	"amount":     true,
	"fee":        true,
}

// TxFilter selects ledger records. Zero values mean "no constraint".
type TxFilter struct {
	Participant *uuid.UUID
	FromAccount *uuid.UUID
	ToAccount   *uuid.UUID
	Kind        model.Kind
	Status      model.Status
	MinAmount   *decimal.Decimal
	MaxAmount   *decimal.Decimal
	From        *time.Time
	To          *time.Time
	Search      string
	SortField   string
	SortDesc    bool
	Offset      int
	Limit       int
}

func (f TxFilter) scope(db *gorm.DB) *gorm.DB {
	if f.Participant != nil {
		db = db.Where("from_account_id = ? OR to_account_id = ?", *f.Participant, *f.Participant)
	}
	if f.FromAccount != nil {
		db = db.Where("from_account_id = ?", *f.FromAccount)
	}
	if f.ToAccount != nil {
		db = db.Where("to_account_id = ?", *f.ToAccount)
	}
	if f.Kind != "" {
		db = db.Where("kind = ?", f.Kind)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.MinAmount != nil {
		db = db.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		db = db.Where("amount <= ?", *f.MaxAmount)
	}
	if f.From != nil {
		db = db.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		db = db.Where("created_at <= ?", *f.To)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		db = searchScope(db, term)
	}
	return db
}

// searchScope matches ids exactly, numbers against amount and fee, and
// anything else as a substring of kind or status.
func searchScope(db *gorm.DB, term string) *gorm.DB {
	if id, err := uuid.Parse(term); err == nil {
		return db.Where("reference = ? OR from_account_id = ? OR to_account_id = ?", id, id, id)
	}
	if n, err := decimal.NewFromString(term); err == nil {
		return db.Where("amount = ? OR fee = ?", n, n)
	}
	like := "%" + strings.ToLower(term) + "%"
	return db.Where("kind LIKE ? OR status LIKE ?", like, like)
}

func (f TxFilter) order() string {
	col := f.SortField
	if !sortColumns[col] {
		col = "created_at"
	}
	dir := " asc"
	if f.SortDesc {
		dir = " desc"
	}
	return col + dir + ", id" + dir
}

// QueryTransactions returns one page of matching records and the total match count.
func (r *Repository) QueryTransactions(ctx context.Context, f TxFilter) ([]model.Transaction, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Transaction{}).Scopes(f.scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := r.db.WithContext(ctx).Scopes(f.scope).Order(f.order())
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var txs []model.Transaction
	if err := q.Find(&txs).Error; err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// SumTransactions totals the amount of every matching record; paging and
// sort fields are ignored.
func (r *Repository) SumTransactions(ctx context.Context, f TxFilter) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.WithContext(ctx).Model(&model.Transaction{}).Scopes(f.scope).
		Select("COALESCE(SUM(amount), 0)").Row().Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
