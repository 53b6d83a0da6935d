package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atabank/backend/internal/database"
	"github.com/atabank/backend/internal/models"
)

// timeLayout is fixed width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// LedgerTx is the set of store operations available inside WithinTx.
type LedgerTx interface {
	SetPrimaryBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error
	GetCurrencyHoldings(ctx context.Context, accountID int64) (map[string]decimal.Decimal, error)
	UpsertCurrencyHolding(ctx context.Context, accountID int64, code string, amount decimal.Decimal) error
	AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
}

// Ledger is the persistence contract the account service depends on.
type Ledger interface {
	LedgerTx
	CreateAccount(ctx context.Context, account *models.Account) error
	FindAccountForLogin(ctx context.Context, nationalID, firstName, lastName string) (*models.Account, error)
	ListLedgerEntries(ctx context.Context, accountID int64, limit int) ([]models.LedgerEntry, error)
	WithinTx(ctx context.Context, fn func(LedgerTx) error) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LedgerService owns every SQL statement touching Users, CurrencyBalances
// and Transactions. Methods called directly auto-commit.
type LedgerService struct {
	ledgerStore
	db     *sql.DB
	logger *zap.Logger
}

func NewLedgerService(db *sql.DB, dialect database.Dialect, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		ledgerStore: ledgerStore{q: db, dialect: dialect},
		db:          db,
		logger:      logger,
	}
}

// WithinTx runs fn against a single transaction. Any error or panic from fn
// rolls the transaction back.
func (s *LedgerService) WithinTx(ctx context.Context, fn func(LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&ledgerStore{q: tx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *LedgerService) CreateAccount(ctx context.Context, account *models.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT COUNT(*) FROM Users WHERE NationalId = ?`),
		account.NationalID).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to check national id: %w", err)
	}
	if existing > 0 {
		return ErrDuplicateIdentity
	}

	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	err = tx.QueryRowContext(ctx, s.dialect.Rebind(`
		INSERT INTO Users (FirstName, LastName, NationalId, PasswordHash, Balance, CreatedAt)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING Id`),
		account.FirstName, account.LastName, account.NationalID, account.PasswordHash,
		account.Balance, formatTime(account.CreatedAt)).Scan(&account.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateIdentity
		}
		return fmt.Errorf("failed to commit account: %w", err)
	}

	s.logger.Info("Account created", zap.Int64("account_id", account.ID))
	return nil
}

// FindAccountForLogin matches the national id exactly and both names
// case-insensitively, ignoring surrounding whitespace.
func (s *LedgerService) FindAccountForLogin(ctx context.Context, nationalID, firstName, lastName string) (*models.Account, error) {
	var (
		account   models.Account
		createdAt string
	)
	err := s.q.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT Id, FirstName, LastName, NationalId, PasswordHash, Balance, CreatedAt
		FROM Users
		WHERE NationalId = ?`), strings.TrimSpace(nationalID)).
		Scan(&account.ID, &account.FirstName, &account.LastName, &account.NationalID,
			&account.PasswordHash, &account.Balance, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if !sameName(account.FirstName, firstName) || !sameName(account.LastName, lastName) {
		return nil, ErrAccountNotFound
	}

	if account.CreatedAt, err = parseTime(createdAt); err != nil {
		s.logger.Warn("Unreadable account timestamp", zap.Int64("account_id", account.ID), zap.Error(err))
	}
	return &account, nil
}

// ListLedgerEntries returns at most limit entries, newest first.
func (s *LedgerService) ListLedgerEntries(ctx context.Context, accountID int64, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.q.QueryContext(ctx, s.dialect.Rebind(`
		SELECT Id, UserId, Type, Amount, Description, BalanceBefore, BalanceAfter, CreatedAt
		FROM Transactions
		WHERE UserId = ?
		ORDER BY Id DESC
		LIMIT ?`), accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			entry       models.LedgerEntry
			entryType   string
			description sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entryType, &entry.Amount, &description,
			&entry.BalanceBefore, &entry.BalanceAfter, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entry.Type = models.EntryType(entryType)
		entry.Description = description.String
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			s.logger.Warn("Unreadable ledger timestamp", zap.Int64("entry_id", entry.ID), zap.Error(err))
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger entries: %w", err)
	}
	return entries, nil
}

// ledgerStore implements LedgerTx over either the pool or a transaction.
type ledgerStore struct {
	q       querier
	dialect database.Dialect
}

func (s *ledgerStore) SetPrimaryBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	result, err := s.q.ExecContext(ctx, s.dialect.Rebind(`UPDATE Users SET Balance = ? WHERE Id = ?`),
		balance, accountID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account %d: %w", accountID, ErrAccountNotFound)
	}
	return nil
}

func (s *ledgerStore) GetCurrencyHoldings(ctx context.Context, accountID int64) (map[string]decimal.Decimal, error) {
	rows, err := s.q.QueryContext(ctx, s.dialect.Rebind(`
		SELECT CurrencyCode, Amount FROM CurrencyBalances WHERE UserId = ?`), accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load currency holdings: %w", err)
	}
	defer rows.Close()

	holdings := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			code   string
			amount decimal.Decimal
		)
		if err := rows.Scan(&code, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan currency holding: %w", err)
		}
		holdings[code] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read currency holdings: %w", err)
	}
	return holdings, nil
}

func (s *ledgerStore) UpsertCurrencyHolding(ctx context.Context, accountID int64, code string, amount decimal.Decimal) error {
	_, err := s.q.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO CurrencyBalances (UserId, CurrencyCode, Amount)
		VALUES (?, ?, ?)
		ON CONFLICT (UserId, CurrencyCode) DO UPDATE SET Amount = excluded.Amount`),
		accountID, code, amount)
	if err != nil {
		return fmt.Errorf("failed to upsert %s holding: %w", code, err)
	}
	return nil
}

func (s *ledgerStore) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := s.q.QueryRowContext(ctx, s.dialect.Rebind(`
		INSERT INTO Transactions (UserId, Type, Amount, Description, BalanceBefore, BalanceAfter, CreatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING Id`),
		entry.AccountID, string(entry.Type), entry.Amount, entry.Description,
		entry.BalanceBefore, entry.BalanceAfter, formatTime(entry.CreatedAt)).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func sameName(stored, given string) bool {
	return strings.EqualFold(strings.TrimSpace(stored), strings.TrimSpace(given))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime also reads the round-trip format of databases created before
// timestamps were normalised to UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.9999999", s, time.Local)
}
