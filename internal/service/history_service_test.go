package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/apperr"
	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/repo/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory(t *testing.T) {
	db := repotest.NewDB(t)
	r := repo.NewRepository(db, nil, logger.NewNop())
	transfers := NewTransferService(r, logger.NewNop(), TransferOptions{MaxRetries: 1})
	history := NewHistoryService(r, logger.NewNop())
	ctx := context.Background()

	agent := repotest.Seed(t, db, model.RoleAgent, "1000")
	alice := repotest.Seed(t, db, model.RoleUser, "100")
	bob := repotest.Seed(t, db, model.RoleUser, "100")
	admin := repotest.Seed(t, db, model.RoleAdmin, "0")

	_, err := transfers.CashIn(ctx, agent.Account.ID, alice.Account.ID, dec("50"), "")
	require.NoError(t, err)
	_, err = transfers.SendMoney(ctx, alice.Account.ID, bob.Account.ID, dec("20"), "")
	require.NoError(t, err)
	_, err = transfers.CashOut(ctx, agent.Account.ID, bob.Account.ID, dec("10"), "")
	require.NoError(t, err)

	t.Run("own history", func(t *testing.T) {
		txs, meta, err := history.GetHistory(ctx, alice.Account.ID, HistoryQuery{})
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, PageMeta{Page: 1, Limit: 10, Total: 2, TotalPage: 1}, meta)
		// newest first by default
		assert.Equal(t, model.KindSendMoney, txs[0].Kind)
	})

	t.Run("filters and paging", func(t *testing.T) {
		txs, meta, err := history.GetHistory(ctx, agent.Account.ID, HistoryQuery{Type: "cash_out"})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.EqualValues(t, 1, meta.Total)

		txs, meta, err = history.GetHistory(ctx, bob.Account.ID, HistoryQuery{Type: "all", Page: 2, Limit: 1})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, PageMeta{Page: 2, Limit: 1, Total: 2, TotalPage: 2}, meta)
	})

	t.Run("admin has no history", func(t *testing.T) {
		_, _, err := history.GetHistory(ctx, admin.Account.ID, HistoryQuery{})
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	})

	t.Run("unknown party", func(t *testing.T) {
		_, _, err := history.GetHistory(ctx, uuid.New(), HistoryQuery{})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		_, _, err = history.GetHistory(ctx, uuid.Nil, HistoryQuery{})
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	})

	t.Run("list all", func(t *testing.T) {
		txs, meta, err := history.ListAll(ctx, HistoryQuery{Sort: "amount"})
		require.NoError(t, err)
		require.Len(t, txs, 3)
		assert.EqualValues(t, 3, meta.Total)
		assert.True(t, dec("10").Equal(txs[0].Amount))
		assert.True(t, dec("50").Equal(txs[2].Amount))
	})

	t.Run("empty page is not nil", func(t *testing.T) {
		txs, meta, err := history.ListAll(ctx, HistoryQuery{MinAmount: "1000000"})
		require.NoError(t, err)
		assert.NotNil(t, txs)
		assert.Empty(t, txs)
		assert.Zero(t, meta.TotalPage)
	})
}

func TestBuildFilter(t *testing.T) {
	f, page, limit, err := buildFilter(HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, page)
	assert.Equal(t, 10, limit)
	assert.Equal(t, "created_at", f.SortField)
	assert.True(t, f.SortDesc)

	f, _, limit, err = buildFilter(HistoryQuery{Limit: 1000, Sort: "-createdAt", StartDate: "2024-01-01", EndDate: "2024-01-31"})
	require.NoError(t, err)
	assert.Equal(t, 100, limit)
	assert.Equal(t, "created_at", f.SortField)
	require.NotNil(t, f.From)
	require.NotNil(t, f.To)
	assert.Equal(t, 31, f.To.Day())
	assert.Equal(t, 23, f.To.Hour())

	f, _, _, err = buildFilter(HistoryQuery{Type: "CASH_IN", Status: "Completed", MinAmount: "5", MaxAmount: "9.5"})
	require.NoError(t, err)
	assert.Equal(t, model.KindCashIn, f.Kind)
	assert.Equal(t, model.StatusCompleted, f.Status)
	assert.True(t, dec("9.5").Equal(*f.MaxAmount))

	bad := []HistoryQuery{
		{Type: "refund"},
		{Status: "lost"},
		{MinAmount: "ten"},
		{StartDate: "01/02/2024"},
		{EndDate: "yesterday"},
	}
	for _, q := range bad {
		_, _, _, err := buildFilter(q)
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest, "%+v", q)
	}
}

func TestDashboard(t *testing.T) {
	db := repotest.NewDB(t)
	r := repo.NewRepository(db, nil, logger.NewNop())
	transfers := NewTransferService(r, logger.NewNop(), TransferOptions{MaxRetries: 1})
	history := NewHistoryService(r, logger.NewNop())
	ctx := context.Background()

	agent := repotest.Seed(t, db, model.RoleAgent, "1000")
	alice := repotest.Seed(t, db, model.RoleUser, "100")
	bob := repotest.Seed(t, db, model.RoleUser, "100")
	admin := repotest.Seed(t, db, model.RoleAdmin, "0")

	_, err := transfers.CashIn(ctx, agent.Account.ID, alice.Account.ID, dec("50"), "")
	require.NoError(t, err)
	_, err = transfers.CashOut(ctx, agent.Account.ID, bob.Account.ID, dec("10"), "")
	require.NoError(t, err)
	_, err = transfers.Withdraw(ctx, alice.Account.ID, agent.Account.ID, dec("20"), "")
	require.NoError(t, err)

	t.Run("agent totals", func(t *testing.T) {
		d, err := history.Dashboard(ctx, agent.Account.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RoleAgent, d.Role)
		assert.True(t, dec("980").Equal(d.Balance), "balance %s", d.Balance)
		require.NotNil(t, d.CashInTotal)
		require.NotNil(t, d.CashOutTotal)
		assert.True(t, dec("30").Equal(*d.CashInTotal), "cash in %s", d.CashInTotal)
		assert.True(t, dec("50").Equal(*d.CashOutTotal), "cash out %s", d.CashOutTotal)
		require.Len(t, d.Recent, 3)
		assert.Equal(t, model.KindWithdraw, d.Recent[0].Kind)
	})

	t.Run("user has no totals", func(t *testing.T) {
		d, err := history.Dashboard(ctx, alice.Account.ID)
		require.NoError(t, err)
		assert.True(t, dec("129.60").Equal(d.Balance), "balance %s", d.Balance)
		assert.Nil(t, d.CashInTotal)
		assert.Nil(t, d.CashOutTotal)
		assert.Len(t, d.Recent, 2)
	})

	t.Run("recent is capped", func(t *testing.T) {
		for i := 0; i < recentLimit+2; i++ {
			_, err := transfers.SendMoney(ctx, bob.Account.ID, alice.Account.ID, dec("1"), "")
			require.NoError(t, err)
		}
		d, err := history.Dashboard(ctx, bob.Account.ID)
		require.NoError(t, err)
		assert.Len(t, d.Recent, recentLimit)
	})

	t.Run("admin and unknown", func(t *testing.T) {
		_, err := history.Dashboard(ctx, admin.Account.ID)
		assert.ErrorIs(t, err, apperr.ErrForbidden)
		_, err = history.Dashboard(ctx, uuid.New())
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}
