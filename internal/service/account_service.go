package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/apperr"
	"github.com/richardliu001/wallet-ledger/internal/auth"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountService covers registration, login, administrative status changes
// and balance reads.
type AccountService struct {
	repo           repo.RepositoryInterface
	tokens         *auth.TokenManager
	log            *zap.SugaredLogger
	initialBalance decimal.Decimal
	bcryptCost     int
}

func NewAccountService(r repo.RepositoryInterface, tokens *auth.TokenManager, logger *zap.SugaredLogger, initialBalance decimal.Decimal, bcryptCost int) *AccountService {
	return &AccountService{repo: r, tokens: tokens, log: logger, initialBalance: initialBalance, bcryptCost: bcryptCost}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
	Role     model.Role
}

// Register creates an account and its wallet together. Only users and agents
// can self-register; users start active and agents start approved.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.Account, *model.Wallet, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if strings.TrimSpace(in.Name) == "" || in.Email == "" || in.Password == "" {
		return nil, nil, apperr.New(apperr.KindInvalidRequest, "name, email and password are required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, nil, apperr.New(apperr.KindInvalidRequest, "invalid email")
	}
	if len(in.Password) < 6 {
		return nil, nil, apperr.New(apperr.KindInvalidRequest, "password must be at least 6 characters")
	}
	if in.Role == "" {
		in.Role = model.RoleUser
	}
	if in.Role != model.RoleUser && in.Role != model.RoleAgent {
		return nil, nil, apperr.New(apperr.KindInvalidRequest, "role must be user or agent")
	}
	return s.create(ctx, in)
}

func (s *AccountService) create(ctx context.Context, in RegisterInput) (*model.Account, *model.Wallet, error) {
	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindStoreUnavailable, "internal error", err)
	}
	acc := &model.Account{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(in.Name),
		Email:        in.Email,
		PasswordHash: hash,
		Phone:        in.Phone,
		Role:         in.Role,
		UserStatus:   model.UserActive,
		AgentStatus:  model.AgentApproved,
	}
	if in.Role == model.RoleUser {
		acc.AgentStatus = model.AgentSuspended
	}
	w, err := s.repo.CreateAccountWithWallet(ctx, acc, s.initialBalance)
	if err != nil {
		return nil, nil, s.storeErr(err)
	}
	s.log.Infow("account registered", "account_id", acc.ID, "role", acc.Role)
	return acc, w, nil
}

// Login checks credentials and returns a bearer token.
func (s *AccountService) Login(ctx context.Context, email, password string) (string, *model.Account, error) {
	acc, err := s.repo.GetAccountByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return "", nil, apperr.New(apperr.KindUnauthorized, "invalid email or password")
		}
		return "", nil, s.storeErr(err)
	}
	if !auth.CheckPassword(acc.PasswordHash, password) {
		return "", nil, apperr.New(apperr.KindUnauthorized, "invalid email or password")
	}
	tok, err := s.tokens.Issue(acc.ID, acc.Role)
	if err != nil {
		return "", nil, apperr.Wrap(apperr.KindStoreUnavailable, "internal error", err)
	}
	return tok, acc, nil
}

// SeedAdmin creates the admin account once; an existing admin is left alone.
func (s *AccountService) SeedAdmin(ctx context.Context, name, email, password string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return false, apperr.New(apperr.KindInvalidRequest, "admin email and password are required")
	}
	_, err := s.repo.GetAccountByEmail(ctx, email)
	if err == nil {
		return false, nil
	}
	if apperr.KindOf(err) != apperr.KindNotFound {
		return false, s.storeErr(err)
	}
	if _, _, err := s.create(ctx, RegisterInput{Name: name, Email: email, Password: password, Role: model.RoleAdmin}); err != nil {
		return false, err
	}
	return true, nil
}

// StatusUpdate carries exactly one status change.
type StatusUpdate struct {
	UserStatus   *model.UserStatus
	AgentStatus  *model.AgentStatus
	WalletStatus *model.WalletStatus
}

// UpdateStatus applies an administrative status change to one account or its wallet.
func (s *AccountService) UpdateStatus(ctx context.Context, accountID uuid.UUID, u StatusUpdate) (*model.Account, *model.Wallet, error) {
	if accountID == uuid.Nil {
		return nil, nil, apperr.New(apperr.KindInvalidRequest, "Missing required parameters")
	}
	set := 0
	for _, present := range []bool{u.UserStatus != nil, u.AgentStatus != nil, u.WalletStatus != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, nil, apperr.New(apperr.KindInvalidRequest, "exactly one of userStatus, agentStatus or status is required")
	}

	acc, err := s.repo.GetAccount(ctx, s.repo.DB(ctx), accountID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindPartyNotFound {
			return nil, nil, apperr.New(apperr.KindNotFound, "User not found")
		}
		return nil, nil, s.storeErr(err)
	}

	switch {
	case u.UserStatus != nil:
		if acc.Role != model.RoleUser {
			return nil, nil, apperr.New(apperr.KindInvalidRequest, "userStatus applies to users only")
		}
		if !u.UserStatus.Valid() {
			return nil, nil, apperr.New(apperr.KindInvalidRequest, "Invalid user status")
		}
		err = s.repo.UpdateAccountStatus(ctx, accountID, "user_status", *u.UserStatus)
	case u.AgentStatus != nil:
		if acc.Role != model.RoleAgent {
			return nil, nil, apperr.New(apperr.KindInvalidRequest, "agentStatus applies to agents only")
		}
		if !u.AgentStatus.Valid() {
			return nil, nil, apperr.New(apperr.KindInvalidRequest, "Invalid agent status")
		}
		err = s.repo.UpdateAccountStatus(ctx, accountID, "agent_status", *u.AgentStatus)
	case u.WalletStatus != nil:
		if !u.WalletStatus.Valid() {
			return nil, nil, apperr.New(apperr.KindInvalidRequest, "Invalid wallet status")
		}
		err = s.repo.UpdateWalletStatus(ctx, accountID, *u.WalletStatus)
	}
	if err != nil {
		return nil, nil, s.storeErr(err)
	}

	acc, err = s.repo.GetAccount(ctx, s.repo.DB(ctx), accountID)
	if err != nil {
		return nil, nil, s.storeErr(err)
	}
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), accountID)
	if err != nil {
		return nil, nil, s.storeErr(err)
	}
	s.log.Infow("status updated", "account_id", accountID)
	return acc, w, nil
}

// GetMe returns the caller's own account and wallet.
func (s *AccountService) GetMe(ctx context.Context, accountID uuid.UUID) (*model.Account, *model.Wallet, error) {
	acc, err := s.repo.GetAccount(ctx, s.repo.DB(ctx), accountID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindPartyNotFound {
			return nil, nil, apperr.New(apperr.KindNotFound, "User not found")
		}
		return nil, nil, s.storeErr(err)
	}
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), accountID)
	if err != nil {
		return nil, nil, s.storeErr(err)
	}
	return acc, w, nil
}

// ProfileUpdate is a self-service change. Nil fields are left alone; a new
// Password needs the current one in OldPassword.
type ProfileUpdate struct {
	Name        *string
	Phone       *string
	Password    string
	OldPassword string
}

// UpdateMe applies a profile change to the caller's own account. Role and
// status are never writable here.
func (s *AccountService) UpdateMe(ctx context.Context, accountID uuid.UUID, u ProfileUpdate) (*model.Account, error) {
	acc, err := s.repo.GetAccount(ctx, s.repo.DB(ctx), accountID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindPartyNotFound {
			return nil, apperr.New(apperr.KindNotFound, "User not found")
		}
		return nil, s.storeErr(err)
	}

	updates := map[string]interface{}{}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return nil, apperr.New(apperr.KindInvalidRequest, "name cannot be empty")
		}
		updates["name"] = name
	}
	if u.Phone != nil {
		updates["phone"] = strings.TrimSpace(*u.Phone)
	}
	if u.Password != "" {
		if len(u.Password) < 6 {
			return nil, apperr.New(apperr.KindInvalidRequest, "password must be at least 6 characters")
		}
		if u.OldPassword == "" {
			return nil, apperr.New(apperr.KindInvalidRequest, "Old password is required to change password")
		}
		if !auth.CheckPassword(acc.PasswordHash, u.OldPassword) {
			return nil, apperr.New(apperr.KindUnauthorized, "Old Password does not match")
		}
		hash, err := auth.HashPassword(u.Password, s.bcryptCost)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStoreUnavailable, "internal error", err)
		}
		updates["password_hash"] = hash
	}
	if len(updates) == 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "nothing to update")
	}

	if err := s.repo.UpdateAccountProfile(ctx, accountID, updates); err != nil {
		return nil, s.storeErr(err)
	}
	acc, err = s.repo.GetAccount(ctx, s.repo.DB(ctx), accountID)
	if err != nil {
		return nil, s.storeErr(err)
	}
	s.log.Infow("profile updated", "account_id", accountID)
	return acc, nil
}

// ListAccounts pages through every account; admin only at the transport layer.
func (s *AccountService) ListAccounts(ctx context.Context, page, limit int) ([]model.Account, PageMeta, error) {
	page, limit, offset := pageBounds(page, limit)
	accs, total, err := s.repo.ListAccounts(ctx, offset, limit)
	if err != nil {
		return nil, PageMeta{}, s.storeErr(err)
	}
	if accs == nil {
		accs = []model.Account{}
	}
	return accs, newPageMeta(page, limit, total), nil
}

// ListWallets pages through every wallet; admin only at the transport layer.
func (s *AccountService) ListWallets(ctx context.Context, page, limit int) ([]model.Wallet, PageMeta, error) {
	page, limit, offset := pageBounds(page, limit)
	ws, total, err := s.repo.ListWallets(ctx, offset, limit)
	if err != nil {
		return nil, PageMeta{}, s.storeErr(err)
	}
	if ws == nil {
		ws = []model.Wallet{}
	}
	return ws, newPageMeta(page, limit, total), nil
}

// GetBalance returns the wallet balance, served from cache when possible. A
// miss fills the cache with the row's version, so a concurrent commit that
// already cached a newer balance wins.
func (s *AccountService) GetBalance(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	bal, err := s.repo.GetCachedBalance(ctx, accountID)
	if err == nil {
		return bal, nil
	}
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), accountID)
	if err != nil {
		return decimal.Zero, s.storeErr(err)
	}
	if err := s.repo.CacheBalance(ctx, accountID, w.Balance, w.Version); err != nil {
		s.log.Warn(err)
	}
	return w.Balance, nil
}

func (s *AccountService) storeErr(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	s.log.Errorw("account store failure", "error", err)
	return apperr.Wrap(apperr.KindStoreUnavailable, "internal error", err)
}
