package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/apperr"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
	dateLayout   = "2006-01-02"
)

// HistoryQuery is the raw listing query as received from a caller.
type HistoryQuery struct {
	Type       string `form:"type"`
	Status     string `form:"status"`
	MinAmount  string `form:"minAmount"`
	MaxAmount  string `form:"maxAmount"`
	StartDate  string `form:"startDate"`
	EndDate    string `form:"endDate"`
	SearchTerm string `form:"searchTerm"`
	Sort       string `form:"sort"`
	Page       int    `form:"page"`
	Limit      int    `form:"limit"`
}

// PageMeta describes one page of a listing.
type PageMeta struct {
	Page      int   `json:"page"`
	Limit     int   `json:"limit"`
	Total     int64 `json:"total"`
	TotalPage int   `json:"totalPage"`
}

// HistoryService is the read side of the ledger.
type HistoryService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewHistoryService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *HistoryService {
	return &HistoryService{repo: r, log: logger}
}

// GetHistory lists the transactions where partyID is either side. Only users
// and agents have a history.
func (s *HistoryService) GetHistory(ctx context.Context, partyID uuid.UUID, q HistoryQuery) ([]model.Transaction, PageMeta, error) {
	if partyID == uuid.Nil {
		return nil, PageMeta{}, apperr.New(apperr.KindInvalidRequest, "User ID is required")
	}
	acc, err := s.repo.GetAccount(ctx, s.repo.DB(ctx), partyID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindPartyNotFound {
			return nil, PageMeta{}, apperr.New(apperr.KindNotFound, "User not found")
		}
		return nil, PageMeta{}, s.storeErr(err)
	}
	if acc.Role != model.RoleUser && acc.Role != model.RoleAgent {
		return nil, PageMeta{}, apperr.New(apperr.KindForbidden, "Only users and agents have transaction history")
	}
	f, page, limit, err := buildFilter(q)
	if err != nil {
		return nil, PageMeta{}, err
	}
	f.Participant = &partyID
	return s.list(ctx, f, page, limit)
}

// ListAll lists every transaction; admin only at the transport layer.
func (s *HistoryService) ListAll(ctx context.Context, q HistoryQuery) ([]model.Transaction, PageMeta, error) {
	f, page, limit, err := buildFilter(q)
	if err != nil {
		return nil, PageMeta{}, err
	}
	return s.list(ctx, f, page, limit)
}

func (s *HistoryService) list(ctx context.Context, f repo.TxFilter, page, limit int) ([]model.Transaction, PageMeta, error) {
	txs, total, err := s.repo.QueryTransactions(ctx, f)
	if err != nil {
		return nil, PageMeta{}, s.storeErr(err)
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	return txs, newPageMeta(page, limit, total), nil
}

// pageBounds clamps a requested page and limit and returns the row offset.
func pageBounds(page, limit int) (int, int, int) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, (page - 1) * limit
}

func newPageMeta(page, limit int, total int64) PageMeta {
	return PageMeta{
		Page:      page,
		Limit:     limit,
		Total:     total,
		TotalPage: int(math.Ceil(float64(total) / float64(limit))),
	}
}

func buildFilter(q HistoryQuery) (repo.TxFilter, int, int, error) {
	var f repo.TxFilter

	page, limit, offset := pageBounds(q.Page, q.Limit)
	f.Offset = offset
	f.Limit = limit

	if t := strings.ToLower(q.Type); t != "" && t != "all" {
		k := model.Kind(t)
		if !k.Valid() {
			return f, 0, 0, apperr.Newf(apperr.KindInvalidRequest, "invalid type %q", q.Type)
		}
		f.Kind = k
	}
	if st := strings.ToLower(q.Status); st != "" && st != "all" {
		status := model.Status(st)
		if !status.Valid() {
			return f, 0, 0, apperr.Newf(apperr.KindInvalidRequest, "invalid status %q", q.Status)
		}
		f.Status = status
	}

	var err error
	if f.MinAmount, err = parseAmount(q.MinAmount, "minAmount"); err != nil {
		return f, 0, 0, err
	}
	if f.MaxAmount, err = parseAmount(q.MaxAmount, "maxAmount"); err != nil {
		return f, 0, 0, err
	}

	if q.StartDate != "" {
		d, err := time.ParseInLocation(dateLayout, q.StartDate, time.Local)
		if err != nil {
			return f, 0, 0, apperr.New(apperr.KindInvalidRequest, "startDate must be YYYY-MM-DD")
		}
		f.From = &d
	}
	if q.EndDate != "" {
		d, err := time.ParseInLocation(dateLayout, q.EndDate, time.Local)
		if err != nil {
			return f, 0, 0, apperr.New(apperr.KindInvalidRequest, "endDate must be YYYY-MM-DD")
		}
		// inclusive of the whole end day
		end := d.Add(24*time.Hour - time.Millisecond)
		f.To = &end
	}

	f.Search = strings.TrimSpace(q.SearchTerm)

	f.SortField, f.SortDesc = "created_at", true
	if sort := strings.TrimSpace(q.Sort); sort != "" {
		f.SortDesc = strings.HasPrefix(sort, "-")
		f.SortField = strings.TrimPrefix(sort, "-")
		if f.SortField == "createdAt" {
			f.SortField = "created_at"
		}
	}
	return f, page, limit, nil
}

// recentLimit is how many transactions a dashboard shows.
const recentLimit = 10

// Dashboard is the landing summary of a user or agent. The totals are set for
// agents only: CashInTotal is what the agent received and CashOutTotal what it
// paid out, both over completed transactions.
type Dashboard struct {
	Role         model.Role          `json:"role"`
	Balance      decimal.Decimal     `json:"walletBalance"`
	CashInTotal  *decimal.Decimal    `json:"cashInTotal,omitempty"`
	CashOutTotal *decimal.Decimal    `json:"cashOutTotal,omitempty"`
	Recent       []model.Transaction `json:"recentTransactions"`
}

// Dashboard summarises partyID's wallet and latest activity.
func (s *HistoryService) Dashboard(ctx context.Context, partyID uuid.UUID) (*Dashboard, error) {
	acc, err := s.repo.GetAccount(ctx, s.repo.DB(ctx), partyID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindPartyNotFound {
			return nil, apperr.New(apperr.KindNotFound, "User not found")
		}
		return nil, s.storeErr(err)
	}
	if acc.Role != model.RoleUser && acc.Role != model.RoleAgent {
		return nil, apperr.New(apperr.KindForbidden, "Only users and agents have a dashboard")
	}
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), partyID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	recent, _, err := s.repo.QueryTransactions(ctx, repo.TxFilter{
		Participant: &partyID, SortField: "created_at", SortDesc: true, Limit: recentLimit,
	})
	if err != nil {
		return nil, s.storeErr(err)
	}
	if recent == nil {
		recent = []model.Transaction{}
	}
	d := &Dashboard{Role: acc.Role, Balance: w.Balance, Recent: recent}
	if acc.Role != model.RoleAgent {
		return d, nil
	}

	in, err := s.repo.SumTransactions(ctx, repo.TxFilter{ToAccount: &partyID, Status: model.StatusCompleted})
	if err != nil {
		return nil, s.storeErr(err)
	}
	out, err := s.repo.SumTransactions(ctx, repo.TxFilter{FromAccount: &partyID, Status: model.StatusCompleted})
	if err != nil {
		return nil, s.storeErr(err)
	}
	d.CashInTotal, d.CashOutTotal = &in, &out
	return d, nil
}

func parseAmount(raw, name string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, apperr.Newf(apperr.KindInvalidRequest, "%s must be a number", name)
	}
	return &d, nil
}

func (s *HistoryService) storeErr(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	s.log.Errorw("ledger query failed", "error", err)
	return apperr.Wrap(apperr.KindStoreUnavailable, "internal error", err)
}
