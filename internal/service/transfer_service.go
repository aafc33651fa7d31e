package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/wallet-ledger/internal/apperr"
	"github.com/richardliu001/wallet-ledger/internal/fee"
	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransferOptions tunes retries and caller wait time.
type TransferOptions struct {
	MaxRetries   int
	RetryBackoff time.Duration
	WaitTimeout  time.Duration
}

// TransferService moves money between two wallets. Each operation validates
// the request, resolves both parties, computes the fee, mutates both balances
// and records the transaction inside one store transaction.
type TransferService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
	opts TransferOptions
}

// NewTransferService returns TransferService.
func NewTransferService(r repo.RepositoryInterface, logger *zap.SugaredLogger, opts TransferOptions) *TransferService {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &TransferService{repo: r, log: logger, opts: opts}
}

// rule fixes who may take part in a kind and which side pays.
type rule struct {
	initiatorRole     model.Role
	counterpartyRole  model.Role
	initiatorPays     bool
	selfForbidden     bool
	initiatorLabel    string
	counterpartyLabel string
	verb              string
}

var rules = map[model.Kind]rule{
	model.KindCashIn: {
		initiatorRole: model.RoleAgent, counterpartyRole: model.RoleUser,
		initiatorPays: true, selfForbidden: true,
		initiatorLabel: "Agent", counterpartyLabel: "User", verb: "cash-in",
	},
	model.KindCashOut: {
		initiatorRole: model.RoleAgent, counterpartyRole: model.RoleUser,
		initiatorPays: false, selfForbidden: true,
		initiatorLabel: "Agent", counterpartyLabel: "User", verb: "cash-out",
	},
	model.KindWithdraw: {
		initiatorRole: model.RoleUser, counterpartyRole: model.RoleAgent,
		initiatorPays: true, selfForbidden: false,
		initiatorLabel: "User", counterpartyLabel: "Agent", verb: "withdrawal",
	},
	model.KindAddMoney: {
		initiatorRole: model.RoleUser, counterpartyRole: model.RoleAgent,
		initiatorPays: false, selfForbidden: true,
		initiatorLabel: "User", counterpartyLabel: "Agent", verb: "adding money",
	},
	model.KindSendMoney: {
		initiatorRole: model.RoleUser, counterpartyRole: model.RoleUser,
		initiatorPays: true, selfForbidden: true,
		initiatorLabel: "Sender", counterpartyLabel: "Receiver", verb: "sending money",
	},
}

type transferRequest struct {
	kind         model.Kind
	initiator    uuid.UUID
	counterparty uuid.UUID
	amount       decimal.Decimal
	idemKey      string
}

// party is one resolved side of a transfer.
type party struct {
	label   string
	account *model.Account
	wallet  *model.Wallet
}

// CashIn moves amount from the agent's wallet to the user's wallet.
func (s *TransferService) CashIn(ctx context.Context, agentID, userID uuid.UUID, amount decimal.Decimal, idemKey string) (*model.Transaction, error) {
	return s.execute(ctx, transferRequest{kind: model.KindCashIn, initiator: agentID, counterparty: userID, amount: amount, idemKey: idemKey})
}

// CashOut debits the user amount plus the service charge and credits the agent amount.
func (s *TransferService) CashOut(ctx context.Context, agentID, userID uuid.UUID, amount decimal.Decimal, idemKey string) (*model.Transaction, error) {
	return s.execute(ctx, transferRequest{kind: model.KindCashOut, initiator: agentID, counterparty: userID, amount: amount, idemKey: idemKey})
}

// Withdraw is a user-initiated cash-out through an agent.
func (s *TransferService) Withdraw(ctx context.Context, userID, agentID uuid.UUID, amount decimal.Decimal, idemKey string) (*model.Transaction, error) {
	return s.execute(ctx, transferRequest{kind: model.KindWithdraw, initiator: userID, counterparty: agentID, amount: amount, idemKey: idemKey})
}

// AddMoney is a user-initiated top-up funded by an agent.
func (s *TransferService) AddMoney(ctx context.Context, userID, agentID uuid.UUID, amount decimal.Decimal, idemKey string) (*model.Transaction, error) {
	return s.execute(ctx, transferRequest{kind: model.KindAddMoney, initiator: userID, counterparty: agentID, amount: amount, idemKey: idemKey})
}

// SendMoney moves amount between two users.
func (s *TransferService) SendMoney(ctx context.Context, fromUserID, toUserID uuid.UUID, amount decimal.Decimal, idemKey string) (*model.Transaction, error) {
	return s.execute(ctx, transferRequest{kind: model.KindSendMoney, initiator: fromUserID, counterparty: toUserID, amount: amount, idemKey: idemKey})
}

// Transfer dispatches by kind; used by callers that carry the kind as data.
func (s *TransferService) Transfer(ctx context.Context, kind model.Kind, initiator, counterparty uuid.UUID, amount decimal.Decimal, idemKey string) (*model.Transaction, error) {
	if _, ok := rules[kind]; !ok {
		return nil, apperr.Newf(apperr.KindInvalidRequest, "unknown transaction type %q", kind)
	}
	return s.execute(ctx, transferRequest{kind: kind, initiator: initiator, counterparty: counterparty, amount: amount, idemKey: idemKey})
}

func (s *TransferService) validate(req transferRequest) error {
	r := rules[req.kind]
	if req.initiator == uuid.Nil || req.counterparty == uuid.Nil {
		return apperr.New(apperr.KindInvalidRequest, "Missing required parameters")
	}
	if len(req.idemKey) > 64 {
		return apperr.New(apperr.KindInvalidRequest, "idempotency key must be at most 64 characters")
	}
	if !req.amount.IsPositive() {
		return apperr.New(apperr.KindInvalidAmount, "Amount must be greater than 0")
	}
	if !fee.ValidAmount(req.amount) {
		return apperr.Newf(apperr.KindInvalidAmount, "Amount must have at most %d decimal places", fee.MinorUnitPlaces)
	}
	if r.selfForbidden && req.initiator == req.counterparty {
		return apperr.Newf(apperr.KindSelfTransferForbidden, "%s cannot perform %s to themselves", r.initiatorLabel, r.verb)
	}
	return nil
}

type result struct {
	tx  *model.Transaction
	err error
}

// outcome is what one committed unit of work produced.
type outcome struct {
	tx       *model.Transaction
	wallets  []*model.Wallet
	replayed bool
}

// execute runs the unit of work detached from ctx cancellation: once started
// it always commits or aborts. The caller stops waiting on ctx.Done or after
// WaitTimeout; the outcome is then unknown to it.
func (s *TransferService) execute(ctx context.Context, req transferRequest) (*model.Transaction, error) {
	if err := s.validate(req); err != nil {
		s.log.Debugw("transfer rejected", "kind", req.kind, "error", err)
		return nil, err
	}

	done := make(chan result, 1)
	work := context.WithoutCancel(ctx)
	go func() {
		t, err := s.commit(work, req)
		done <- result{tx: t, err: err}
	}()

	var timeout <-chan time.Time
	if s.opts.WaitTimeout > 0 {
		timer := time.NewTimer(s.opts.WaitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-done:
		return res.tx, res.err
	case <-ctx.Done():
		s.log.Warnw("caller stopped waiting for transfer", "kind", req.kind, "error", ctx.Err())
		return nil, apperr.Wrap(apperr.KindTimeout, "transfer outcome unknown, check history before retrying", ctx.Err())
	case <-timeout:
		s.log.Warnw("transfer wait timed out", "kind", req.kind, "timeout", s.opts.WaitTimeout)
		return nil, apperr.New(apperr.KindTimeout, "transfer outcome unknown, check history before retrying")
	}
}

// commit retries the unit of work on store conflicts.
func (s *TransferService) commit(ctx context.Context, req transferRequest) (*model.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.opts.RetryBackoff * time.Duration(attempt))
		}
		out, err := s.attempt(ctx, req)
		if err == nil {
			s.afterCommit(ctx, out)
			return out.tx, nil
		}
		if !repo.IsConflict(err) && !repo.IsUniqueViolation(err) {
			return nil, s.classify(req, err)
		}
		lastErr = err
		s.log.Warnw("store conflict, retrying transfer", "kind", req.kind, "attempt", attempt+1, "error", err)
	}
	s.log.Errorw("transfer retries exhausted", "kind", req.kind, "error", lastErr)
	return nil, apperr.Wrap(apperr.KindStoreUnavailable, "transfer could not be completed, try again later", lastErr)
}

func (s *TransferService) classify(req transferRequest, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		s.log.Debugw("transfer rejected", "kind", req.kind, "error", err)
		return err
	}
	s.log.Errorw("transfer failed", "kind", req.kind, "error", err)
	return apperr.Wrap(apperr.KindStoreUnavailable, "internal error", err)
}

// attempt is one store transaction. The outcome is marked replayed when the
// initiator's idempotency key matched an earlier record.
func (s *TransferService) attempt(ctx context.Context, req transferRequest) (*outcome, error) {
	r := rules[req.kind]
	out := &outcome{}

	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		initiator, counterparty, err := s.resolveParties(ctx, tx, r, req)
		if err != nil {
			return err
		}
		payer, payee := initiator, counterparty
		if !r.initiatorPays {
			payer, payee = counterparty, initiator
		}

		existed, prev, err := s.repo.TxExists(ctx, tx, initiator.account.ID, req.idemKey, req.kind)
		if err != nil {
			return err
		}
		if existed {
			if !sameTransfer(prev, payer.account.ID, payee.account.ID, req.amount) {
				return apperr.New(apperr.KindDuplicate, "idempotency key already used for a different transfer")
			}
			out.tx, out.replayed = prev, true
			return nil
		}

		payer.wallet, payee.wallet, err = s.repo.LockWalletPair(ctx, tx, payer.account.ID, payee.account.ID)
		if err != nil {
			return err
		}
		for _, p := range []*party{initiator, counterparty} {
			if p.wallet == nil {
				return apperr.Newf(apperr.KindWalletNotFound, "%s wallet not found", p.label)
			}
			if p.wallet.Status != model.WalletActive {
				return apperr.Newf(apperr.KindWalletNotActive, "%s wallet is not active", p.label)
			}
		}

		charge := fee.For(req.kind, req.amount)
		debit := fee.TotalDebit(req.kind, req.amount)
		if payer.wallet.Balance.LessThan(debit) {
			if charge.IsZero() {
				return apperr.Newf(apperr.KindInsufficientFunds, "Insufficient %s balance", strings.ToLower(payer.label))
			}
			return apperr.Newf(apperr.KindInsufficientFunds, "Insufficient balance for %s and service charge", r.verb)
		}

		src, dst, err := s.repo.ApplyTransfer(ctx, tx, payer.wallet, payee.wallet, debit, req.amount)
		if err != nil {
			return err
		}

		t := &model.Transaction{
			Reference:         uuid.New(),
			InitiatorID:       &initiator.account.ID,
			FromWalletID:      &src.ID,
			ToWalletID:        &dst.ID,
			FromAccountID:     &payer.account.ID,
			ToAccountID:       &payee.account.ID,
			Amount:            req.amount,
			Fee:               charge,
			Kind:              req.kind,
			Status:            model.StatusCompleted,
			FromBalanceBefore: payer.wallet.Balance,
			FromBalanceAfter:  src.Balance,
			ToBalanceBefore:   payee.wallet.Balance,
			ToBalanceAfter:    dst.Balance,
		}
		if req.idemKey != "" {
			key := req.idemKey
			t.IdempotencyKey = &key
		}
		if err := s.repo.CreateTransaction(ctx, tx, t); err != nil {
			return err
		}
		evt, err := newTransactionEvent(t)
		if err != nil {
			return err
		}
		if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		out.tx, out.wallets = t, []*model.Wallet{src, dst}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sameTransfer reports whether a recorded transaction matches a replayed request.
func sameTransfer(prev *model.Transaction, payer, payee uuid.UUID, amount decimal.Decimal) bool {
	if prev.FromAccountID == nil || prev.ToAccountID == nil {
		return false
	}
	return *prev.FromAccountID == payer && *prev.ToAccountID == payee && prev.Amount.Equal(amount)
}

// resolveParties checks existence and role of both parties, then their status.
func (s *TransferService) resolveParties(ctx context.Context, tx *gorm.DB, r rule, req transferRequest) (*party, *party, error) {
	initiator := &party{label: r.initiatorLabel}
	counterparty := &party{label: r.counterpartyLabel}
	sides := []struct {
		p    *party
		id   uuid.UUID
		role model.Role
	}{
		{initiator, req.initiator, r.initiatorRole},
		{counterparty, req.counterparty, r.counterpartyRole},
	}

	for _, side := range sides {
		acc, err := s.repo.GetAccount(ctx, tx, side.id)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindPartyNotFound {
				return nil, nil, apperr.Newf(apperr.KindPartyNotFound, "%s not found", side.p.label)
			}
			return nil, nil, err
		}
		if acc.Role != side.role {
			return nil, nil, apperr.Newf(apperr.KindWrongRole, "%s has invalid role", side.p.label)
		}
		side.p.account = acc
	}
	for _, side := range sides {
		if !side.p.account.CanTransact() {
			return nil, nil, apperr.Newf(apperr.KindPartyNotActive, "%s is not %s for %s",
				side.p.label, activeWord(side.role), r.verb)
		}
	}
	return initiator, counterparty, nil
}

func activeWord(role model.Role) string {
	if role == model.RoleAgent {
		return "approved"
	}
	return "active"
}

// afterCommit writes the committed balances through to the cache. Each entry
// carries its wallet version so an older read can never replace it.
func (s *TransferService) afterCommit(ctx context.Context, out *outcome) {
	t := out.tx
	if out.replayed {
		s.log.Infow("idempotent transfer replayed", "kind", t.Kind, "reference", t.Reference)
		return
	}
	for _, w := range out.wallets {
		if err := s.repo.CacheBalance(ctx, w.AccountID, w.Balance, w.Version); err != nil {
			s.log.Warnw("cache balance", "account_id", w.AccountID, "error", err)
		}
	}
	s.log.Infow("transfer completed",
		"kind", t.Kind, "reference", t.Reference,
		"amount", t.Amount.String(), "fee", t.Fee.String())
}

// TransactionEvent is the outbox payload published for every completed transfer.
type TransactionEvent struct {
	Reference uuid.UUID       `json:"reference"`
	Kind      model.Kind      `json:"type"`
	Status    model.Status    `json:"status"`
	From      *uuid.UUID      `json:"from,omitempty"`
	To        *uuid.UUID      `json:"to,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	CreatedAt time.Time       `json:"created_at"`
}

func newTransactionEvent(t *model.Transaction) (*model.OutboxEvent, error) {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	payload, err := json.Marshal(TransactionEvent{
		Reference: t.Reference, Kind: t.Kind, Status: t.Status,
		From: t.FromAccountID, To: t.ToAccountID,
		Amount: t.Amount, Fee: t.Fee, CreatedAt: createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode transaction event: %w", err)
	}
	return &model.OutboxEvent{
		Aggregate:   "Transaction",
		AggregateID: t.Reference.String(),
		EventType:   fmt.Sprintf("transaction.%s", t.Kind),
		Payload:     string(payload),
	}, nil
}
