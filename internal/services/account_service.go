package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atabank/backend/internal/audit"
	"github.com/atabank/backend/internal/config"
	"github.com/atabank/backend/internal/models"
)

const baseCurrency = "TRY"

type AuditLogger interface {
	LogMovement(sessionID string, accountID int64, eventType string, amount decimal.Decimal, currency string, before, after decimal.Decimal)
	LogError(sessionID string, accountID int64, operation string, err error)
	LogOperation(sessionID string, accountID int64, operation, status, details string)
}

// Session is the logged-in state of the console. It is owned by the caller
// and passed into every operation; Account.Balance tracks the committed
// primary balance.
type Session struct {
	ID        uuid.UUID
	Account   models.Account
	StartedAt time.Time
}

func (s *Session) valid() bool {
	return s != nil && s.Account.ID != 0
}

func (s *Session) id() string {
	if s == nil {
		return ""
	}
	return s.ID.String()
}

type ExchangeResult struct {
	Code          string
	Quantity      decimal.Decimal
	Rate          decimal.Decimal
	Cost          decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Holding       decimal.Decimal
	// Entry is nil when exchanges are not recorded in the ledger.
	Entry *models.LedgerEntry
}

type PortfolioLine struct {
	Code   string
	Name   string
	Symbol string
	Amount decimal.Decimal
	Value  decimal.Decimal
}

// Portfolio is the dashboard view: the primary balance plus every non-zero
// holding that has a known rate, valued at the buy rate.
type Portfolio struct {
	Balance  decimal.Decimal
	Holdings []PortfolioLine
	Total    decimal.Decimal
}

type AccountService struct {
	ledger    Ledger
	hasher    PasswordHasher
	audit     AuditLogger
	validator *ValidationHelper
	cfg       config.LedgerConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewAccountService(ledger Ledger, hasher PasswordHasher, auditLogger AuditLogger, cfg config.LedgerConfig, logger *zap.Logger) *AccountService {
	return &AccountService{
		ledger:    ledger,
		hasher:    hasher,
		audit:     auditLogger,
		validator: NewValidationHelper(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Authenticate returns ErrAuthenticationFailed for unknown identities and
// wrong passwords alike.
func (s *AccountService) Authenticate(ctx context.Context, nationalID, firstName, lastName, password string) (*Session, error) {
	req := models.LoginRequest{
		NationalID: strings.TrimSpace(nationalID),
		FirstName:  strings.TrimSpace(firstName),
		LastName:   strings.TrimSpace(lastName),
		Password:   password,
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		s.audit.LogOperation("", 0, audit.EventLoginFailed, "DENIED", "incomplete credentials")
		return nil, ErrAuthenticationFailed
	}

	account, err := s.ledger.FindAccountForLogin(ctx, req.NationalID, req.FirstName, req.LastName)
	if errors.Is(err, ErrAccountNotFound) {
		s.logger.Info("Login denied", zap.String("reason", "unknown identity"))
		s.audit.LogOperation("", 0, audit.EventLoginFailed, "DENIED", "unknown identity")
		return nil, ErrAuthenticationFailed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		s.logger.Info("Login denied", zap.Int64("account_id", account.ID), zap.String("reason", "password mismatch"))
		s.audit.LogOperation("", account.ID, audit.EventLoginFailed, "DENIED", "password mismatch")
		return nil, ErrAuthenticationFailed
	}

	sess := &Session{ID: uuid.New(), Account: *account, StartedAt: s.now()}
	s.logger.Info("Login successful", zap.Int64("account_id", account.ID), zap.String("session_id", sess.ID.String()))
	s.audit.LogOperation(sess.ID.String(), account.ID, audit.EventLogin, "SUCCESS", "")
	return sess, nil
}

// Register creates an account with a zero balance.
func (s *AccountService) Register(ctx context.Context, req models.RegisterRequest) (*models.Account, error) {
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.NationalID = strings.TrimSpace(req.NationalID)
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		NationalID:   req.NationalID,
		PasswordHash: digest,
		Balance:      decimal.Zero,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.ledger.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateIdentity) {
			s.audit.LogOperation("", 0, audit.EventRegister, "REJECTED", "duplicate national id")
			return nil, err
		}
		return nil, fmt.Errorf("failed to register account: %w", err)
	}

	s.audit.LogOperation("", account.ID, audit.EventRegister, "SUCCESS", "")
	return account, nil
}

func (s *AccountService) Deposit(ctx context.Context, sess *Session, amount decimal.Decimal) (*models.LedgerEntry, error) {
	if !sess.valid() {
		return nil, ErrNoSession
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	before := sess.Account.Balance
	entry := &models.LedgerEntry{
		AccountID:     sess.Account.ID,
		Type:          models.EntryDeposit,
		Amount:        amount,
		Description:   "Cash deposit",
		BalanceBefore: before,
		BalanceAfter:  before.Add(amount),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.commitMovement(ctx, sess, entry); err != nil {
		return nil, fmt.Errorf("failed to record deposit: %w", err)
	}

	s.audit.LogMovement(sess.id(), entry.AccountID, audit.EventDeposit, amount, baseCurrency, entry.BalanceBefore, entry.BalanceAfter)
	return entry, nil
}

func (s *AccountService) Withdraw(ctx context.Context, sess *Session, amount decimal.Decimal) (*models.LedgerEntry, error) {
	if !sess.valid() {
		return nil, ErrNoSession
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	before := sess.Account.Balance
	if amount.GreaterThan(before) {
		s.audit.LogError(sess.id(), sess.Account.ID, "withdraw", ErrInsufficientFunds)
		return nil, ErrInsufficientFunds
	}

	entry := &models.LedgerEntry{
		AccountID:     sess.Account.ID,
		Type:          models.EntryWithdrawal,
		Amount:        amount,
		Description:   "Cash withdrawal",
		BalanceBefore: before,
		BalanceAfter:  before.Sub(amount),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.commitMovement(ctx, sess, entry); err != nil {
		return nil, fmt.Errorf("failed to record withdrawal: %w", err)
	}

	s.audit.LogMovement(sess.id(), entry.AccountID, audit.EventWithdrawal, amount, baseCurrency, entry.BalanceBefore, entry.BalanceAfter)
	return entry, nil
}

// commitMovement persists the new balance and its ledger entry atomically,
// then updates the session.
func (s *AccountService) commitMovement(ctx context.Context, sess *Session, entry *models.LedgerEntry) error {
	err := s.ledger.WithinTx(ctx, func(tx LedgerTx) error {
		if err := tx.SetPrimaryBalance(ctx, entry.AccountID, entry.BalanceAfter); err != nil {
			return err
		}
		return tx.AppendLedgerEntry(ctx, entry)
	})
	if err != nil {
		s.logger.Error("Balance update rolled back",
			zap.Int64("account_id", entry.AccountID),
			zap.String("type", string(entry.Type)),
			zap.Error(err))
		s.audit.LogError(sess.id(), entry.AccountID, string(entry.Type), err)
		return err
	}

	sess.Account.Balance = entry.BalanceAfter
	return nil
}

// Exchange buys quantity units of rate.Code at the sell rate, paid from the
// primary balance.
func (s *AccountService) Exchange(ctx context.Context, sess *Session, rate models.ExchangeRate, quantity decimal.Decimal) (*ExchangeResult, error) {
	if !sess.valid() {
		return nil, ErrNoSession
	}
	if !quantity.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !rate.SellRate.IsPositive() {
		return nil, ErrRateUnavailable
	}

	before := sess.Account.Balance
	cost := quantity.Mul(rate.SellRate)
	if cost.GreaterThan(before) {
		s.audit.LogError(sess.id(), sess.Account.ID, "exchange", ErrInsufficientFunds)
		return nil, ErrInsufficientFunds
	}

	result := &ExchangeResult{
		Code:          rate.Code,
		Quantity:      quantity,
		Rate:          rate.SellRate,
		Cost:          cost,
		BalanceBefore: before,
		BalanceAfter:  before.Sub(cost),
	}
	if s.cfg.RecordExchanges {
		result.Entry = &models.LedgerEntry{
			AccountID:     sess.Account.ID,
			Type:          models.EntryExchangeBuy,
			Amount:        cost,
			Description:   fmt.Sprintf("Bought %s %s @ %s", quantity.StringFixed(4), rate.Code, rate.SellRate.StringFixed(4)),
			BalanceBefore: before,
			BalanceAfter:  result.BalanceAfter,
			CreatedAt:     s.now().UTC(),
		}
	}

	accountID := sess.Account.ID
	err := s.ledger.WithinTx(ctx, func(tx LedgerTx) error {
		if err := tx.SetPrimaryBalance(ctx, accountID, result.BalanceAfter); err != nil {
			return err
		}
		holdings, err := tx.GetCurrencyHoldings(ctx, accountID)
		if err != nil {
			return err
		}
		result.Holding = holdings[rate.Code].Add(quantity)
		if err := tx.UpsertCurrencyHolding(ctx, accountID, rate.Code, result.Holding); err != nil {
			return err
		}
		if result.Entry != nil {
			return tx.AppendLedgerEntry(ctx, result.Entry)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Exchange rolled back", zap.Int64("account_id", accountID), zap.String("currency", rate.Code), zap.Error(err))
		s.audit.LogError(sess.id(), accountID, "exchange", err)
		return nil, fmt.Errorf("failed to record exchange: %w", err)
	}

	sess.Account.Balance = result.BalanceAfter
	s.audit.LogMovement(sess.id(), accountID, audit.EventExchangeBuy, quantity, rate.Code, result.BalanceBefore, result.BalanceAfter)
	return result, nil
}

func (s *AccountService) Portfolio(ctx context.Context, sess *Session, rates RateSnapshot) (*Portfolio, error) {
	if !sess.valid() {
		return nil, ErrNoSession
	}

	holdings, err := s.ledger.GetCurrencyHoldings(ctx, sess.Account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio: %w", err)
	}

	p := &Portfolio{Balance: sess.Account.Balance, Total: sess.Account.Balance}
	for _, rate := range rates.Ordered() {
		amount, ok := holdings[rate.Code]
		if !ok || !amount.IsPositive() {
			continue
		}
		value := amount.Mul(rate.BuyRate)
		p.Holdings = append(p.Holdings, PortfolioLine{
			Code:   rate.Code,
			Name:   rate.Name,
			Symbol: rate.Symbol,
			Amount: amount,
			Value:  value,
		})
		p.Total = p.Total.Add(value)
	}
	return p, nil
}

// History returns the newest ledger entries first. A non-positive limit
// falls back to the configured history size.
func (s *AccountService) History(ctx context.Context, sess *Session, limit int) ([]models.LedgerEntry, error) {
	if !sess.valid() {
		return nil, ErrNoSession
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}

	entries, err := s.ledger.ListLedgerEntries(ctx, sess.Account.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return entries, nil
}
