package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/apperr"
	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/repo/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newAccountService(t *testing.T, cache *repo.BalanceCache) (*AccountService, *auth.TokenManager, *gorm.DB) {
	db := repotest.NewDB(t)
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	r := repo.NewRepository(db, cache, logger.NewNop())
	return NewAccountService(r, tokens, logger.NewNop(), dec("50"), bcrypt.MinCost), tokens, db
}

func TestRegister(t *testing.T) {
	svc, _, _ := newAccountService(t, nil)
	ctx := context.Background()

	acc, w, err := svc.Register(ctx, RegisterInput{Name: "Alice", Email: " Alice@Example.com ", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", acc.Email)
	assert.Equal(t, model.RoleUser, acc.Role)
	assert.Equal(t, model.UserActive, acc.UserStatus)
	assert.Equal(t, model.AgentSuspended, acc.AgentStatus)
	assert.NotEqual(t, "secret1", acc.PasswordHash)
	assert.Equal(t, acc.ID, w.AccountID)
	assert.True(t, dec("50").Equal(w.Balance))
	assert.Equal(t, model.WalletActive, w.Status)

	agent, _, err := svc.Register(ctx, RegisterInput{Name: "Shop", Email: "shop@example.com", Password: "secret1", Role: model.RoleAgent})
	require.NoError(t, err)
	assert.Equal(t, model.AgentApproved, agent.AgentStatus)
	assert.True(t, agent.CanTransact())

	_, _, err = svc.Register(ctx, RegisterInput{Name: "Alice again", Email: "alice@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, apperr.ErrDuplicate)
}

func TestRegister_Invalid(t *testing.T) {
	svc, _, _ := newAccountService(t, nil)
	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"missing name", RegisterInput{Email: "a@b.co", Password: "secret1"}},
		{"bad email", RegisterInput{Name: "A", Email: "not-an-email", Password: "secret1"}},
		{"short password", RegisterInput{Name: "A", Email: "a@b.co", Password: "123"}},
		{"admin role", RegisterInput{Name: "A", Email: "a@b.co", Password: "secret1", Role: model.RoleAdmin}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Register(context.Background(), tt.in)
			assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
		})
	}
}

func TestLogin(t *testing.T) {
	svc, tokens, _ := newAccountService(t, nil)
	ctx := context.Background()
	acc, _, err := svc.Register(ctx, RegisterInput{Name: "Bob", Email: "bob@example.com", Password: "hunter22"})
	require.NoError(t, err)

	tok, got, err := svc.Login(ctx, "BOB@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	claims, err := tokens.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, claims.AccountID)
	assert.Equal(t, model.RoleUser, claims.Role)

	_, _, err = svc.Login(ctx, "bob@example.com", "wrong")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, _, err = svc.Login(ctx, "nobody@example.com", "hunter22")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestSeedAdmin(t *testing.T) {
	svc, _, db := newAccountService(t, nil)
	ctx := context.Background()

	created, err := svc.SeedAdmin(ctx, "Admin", "admin@example.com", "adminpass")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.SeedAdmin(ctx, "Admin", "admin@example.com", "adminpass")
	require.NoError(t, err)
	assert.False(t, created)

	var admins []model.Account
	require.NoError(t, db.Where("role = ?", model.RoleAdmin).Find(&admins).Error)
	require.Len(t, admins, 1)

	_, err = svc.SeedAdmin(ctx, "Admin", "", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestUpdateStatus(t *testing.T) {
	svc, _, db := newAccountService(t, nil)
	ctx := context.Background()
	user := repotest.Seed(t, db, model.RoleUser, "10")
	agent := repotest.Seed(t, db, model.RoleAgent, "10")

	blocked := model.UserBlocked
	acc, _, err := svc.UpdateStatus(ctx, user.Account.ID, StatusUpdate{UserStatus: &blocked})
	require.NoError(t, err)
	assert.Equal(t, model.UserBlocked, acc.UserStatus)
	assert.False(t, acc.CanTransact())

	suspended := model.AgentSuspended
	acc, _, err = svc.UpdateStatus(ctx, agent.Account.ID, StatusUpdate{AgentStatus: &suspended})
	require.NoError(t, err)
	assert.Equal(t, model.AgentSuspended, acc.AgentStatus)

	walletBlocked := model.WalletBlocked
	_, w, err := svc.UpdateStatus(ctx, agent.Account.ID, StatusUpdate{WalletStatus: &walletBlocked})
	require.NoError(t, err)
	assert.Equal(t, model.WalletBlocked, w.Status)

	t.Run("wrong target role", func(t *testing.T) {
		_, _, err := svc.UpdateStatus(ctx, user.Account.ID, StatusUpdate{AgentStatus: &suspended})
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	})
	t.Run("invalid value", func(t *testing.T) {
		bogus := model.UserStatus("frozen")
		_, _, err := svc.UpdateStatus(ctx, user.Account.ID, StatusUpdate{UserStatus: &bogus})
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	})
	t.Run("none or many", func(t *testing.T) {
		_, _, err := svc.UpdateStatus(ctx, user.Account.ID, StatusUpdate{})
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
		_, _, err = svc.UpdateStatus(ctx, user.Account.ID, StatusUpdate{UserStatus: &blocked, WalletStatus: &walletBlocked})
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	})
	t.Run("unknown account", func(t *testing.T) {
		_, _, err := svc.UpdateStatus(ctx, uuid.New(), StatusUpdate{UserStatus: &blocked})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func newCachedRepo(t *testing.T) (*repo.Repository, *miniredis.Miniredis, *gorm.DB) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	db := repotest.NewDB(t)
	return repo.NewRepository(db, repo.NewBalanceCache(rdb, time.Minute), logger.NewNop()), mr, db
}

func TestGetBalance_ReadThroughCache(t *testing.T) {
	r, mr, db := newCachedRepo(t)
	svc := NewAccountService(r, auth.NewTokenManager("test-secret", time.Hour), logger.NewNop(), dec("50"), bcrypt.MinCost)
	user := repotest.Seed(t, db, model.RoleUser, "75.5")
	key := "balance:" + user.Account.ID.String()

	bal, err := svc.GetBalance(context.Background(), user.Account.ID)
	require.NoError(t, err)
	assert.True(t, dec("75.5").Equal(bal))
	cached, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "0|75.5", cached)

	// served from the cache now
	require.NoError(t, mr.Set(key, "0|80"))
	bal, err = svc.GetBalance(context.Background(), user.Account.ID)
	require.NoError(t, err)
	assert.True(t, dec("80").Equal(bal))
}

func TestGetBalance_StaleFillLosesToCommittedTransfer(t *testing.T) {
	r, _, db := newCachedRepo(t)
	ctx := context.Background()
	accounts := NewAccountService(r, auth.NewTokenManager("test-secret", time.Hour), logger.NewNop(), dec("50"), bcrypt.MinCost)
	transfers := NewTransferService(r, logger.NewNop(), TransferOptions{MaxRetries: 1, WaitTimeout: 5 * time.Second})
	agent := repotest.Seed(t, db, model.RoleAgent, "500")
	user := repotest.Seed(t, db, model.RoleUser, "50")

	// a balance read that loaded the wallet before the transfer committed
	stale, err := r.GetWallet(ctx, db, user.Account.ID)
	require.NoError(t, err)

	_, err = transfers.CashIn(ctx, agent.Account.ID, user.Account.ID, dec("100"), "")
	require.NoError(t, err)

	// ... and only now gets to fill the cache
	require.NoError(t, r.CacheBalance(ctx, user.Account.ID, stale.Balance, stale.Version))

	bal, err := accounts.GetBalance(ctx, user.Account.ID)
	require.NoError(t, err)
	assert.True(t, dec("150").Equal(bal), "got %s", bal)
	bal, err = accounts.GetBalance(ctx, agent.Account.ID)
	require.NoError(t, err)
	assert.True(t, dec("400").Equal(bal), "got %s", bal)
}

func TestGetBalance_NoWallet(t *testing.T) {
	svc, _, _ := newAccountService(t, nil)
	_, err := svc.GetBalance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrWalletNotFound)
}

func TestGetMe(t *testing.T) {
	svc, _, db := newAccountService(t, nil)
	agent := repotest.Seed(t, db, model.RoleAgent, "300")

	acc, w, err := svc.GetMe(context.Background(), agent.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.Account.Email, acc.Email)
	assert.Equal(t, model.RoleAgent, acc.Role)
	assert.True(t, dec("300").Equal(w.Balance))

	_, _, err = svc.GetMe(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateMe(t *testing.T) {
	svc, _, _ := newAccountService(t, nil)
	ctx := context.Background()
	acc, _, err := svc.Register(ctx, RegisterInput{Name: "Carol", Email: "carol@example.com", Password: "first1"})
	require.NoError(t, err)

	name, phone := "  Carol K ", "01711111111"
	got, err := svc.UpdateMe(ctx, acc.ID, ProfileUpdate{Name: &name, Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "Carol K", got.Name)
	assert.Equal(t, "01711111111", got.Phone)
	assert.Equal(t, model.RoleUser, got.Role)

	t.Run("password needs the old one", func(t *testing.T) {
		_, err := svc.UpdateMe(ctx, acc.ID, ProfileUpdate{Password: "second2"})
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
		_, err = svc.UpdateMe(ctx, acc.ID, ProfileUpdate{Password: "second2", OldPassword: "wrong1"})
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)

		_, _, err = svc.Login(ctx, "carol@example.com", "first1")
		require.NoError(t, err)
	})
	t.Run("password change", func(t *testing.T) {
		_, err := svc.UpdateMe(ctx, acc.ID, ProfileUpdate{Password: "second2", OldPassword: "first1"})
		require.NoError(t, err)
		_, _, err = svc.Login(ctx, "carol@example.com", "first1")
		assert.ErrorIs(t, err, apperr.ErrUnauthorized)
		_, _, err = svc.Login(ctx, "carol@example.com", "second2")
		assert.NoError(t, err)
	})
	t.Run("invalid", func(t *testing.T) {
		blank := " "
		_, err := svc.UpdateMe(ctx, acc.ID, ProfileUpdate{Name: &blank})
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
		_, err = svc.UpdateMe(ctx, acc.ID, ProfileUpdate{})
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
		_, err = svc.UpdateMe(ctx, acc.ID, ProfileUpdate{Password: "123", OldPassword: "second2"})
		assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	})
	t.Run("unknown account", func(t *testing.T) {
		_, err := svc.UpdateMe(ctx, uuid.New(), ProfileUpdate{Name: &name})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestListAccountsAndWallets(t *testing.T) {
	svc, _, db := newAccountService(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		repotest.Seed(t, db, model.RoleUser, "1")
	}

	accs, meta, err := svc.ListAccounts(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, accs, 2)
	assert.Equal(t, PageMeta{Page: 2, Limit: 2, Total: 5, TotalPage: 3}, meta)

	ws, meta, err := svc.ListWallets(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, ws, 5)
	assert.Equal(t, PageMeta{Page: 1, Limit: 10, Total: 5, TotalPage: 1}, meta)
}
