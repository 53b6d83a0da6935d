package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/atabank/backend/internal/audit"
	"github.com/atabank/backend/internal/config"
	"github.com/atabank/backend/internal/database"
	"github.com/atabank/backend/internal/models"
)

var (
	aliVeli = models.RegisterRequest{FirstName: "Ali", LastName: "Veli", NationalID: "12345", Password: "pw1"}
	usdRate = models.ExchangeRate{
		Code:     "USD",
		Name:     "US Dollar",
		Symbol:   "$",
		BuyRate:  decimal.RequireFromString("33.0000"),
		SellRate: decimal.RequireFromString("33.5000"),
	}
)

type sqliteFixture struct {
	db      *sql.DB
	ledger  *LedgerService
	service *AccountService
}

func newSQLiteFixture(t *testing.T, recordExchanges bool) *sqliteFixture {
	t.Helper()
	ctx := context.Background()

	db, dialect, err := database.InitDB(ctx, config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, dialect))

	ledger := NewLedgerService(db, dialect, zap.NewNop())
	service := NewAccountService(
		ledger,
		NewArgon2Hasher(testArgon2Params()),
		audit.NewAuditLogger(zap.NewNop()),
		config.LedgerConfig{RecordExchanges: recordExchanges, HistoryLimit: 10},
		zap.NewNop(),
	)
	return &sqliteFixture{db: db, ledger: ledger, service: service}
}

// login registers Ali Veli and opens a session, optionally funded.
func (f *sqliteFixture) login(t *testing.T, funds string) *Session {
	t.Helper()
	ctx := context.Background()

	_, err := f.service.Register(ctx, aliVeli)
	require.NoError(t, err)
	sess, err := f.service.Authenticate(ctx, "12345", "Ali", "Veli", "pw1")
	require.NoError(t, err)

	if funds != "" {
		_, err = f.service.Deposit(ctx, sess, decimal.RequireFromString(funds))
		require.NoError(t, err)
	}
	return sess
}

func (f *sqliteFixture) storedBalance(t *testing.T, accountID int64) decimal.Decimal {
	t.Helper()
	var balance decimal.Decimal
	err := f.db.QueryRow("SELECT Balance FROM Users WHERE Id = ?", accountID).Scan(&balance)
	require.NoError(t, err)
	return balance
}

func (f *sqliteFixture) entryCount(t *testing.T, accountID int64) int {
	t.Helper()
	var n int
	err := f.db.QueryRow("SELECT COUNT(*) FROM Transactions WHERE UserId = ?", accountID).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestAccountService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("new account starts at zero", func(t *testing.T) {
		f := newSQLiteFixture(t, true)

		account, err := f.service.Register(ctx, aliVeli)
		require.NoError(t, err)
		assert.NotZero(t, account.ID)
		assert.True(t, account.Balance.IsZero())
		assert.NotEqual(t, "pw1", account.PasswordHash)
		assert.True(t, f.storedBalance(t, account.ID).IsZero())
	})

	t.Run("duplicate national id is rejected", func(t *testing.T) {
		f := newSQLiteFixture(t, true)

		first, err := f.service.Register(ctx, aliVeli)
		require.NoError(t, err)

		_, err = f.service.Register(ctx, models.RegisterRequest{
			FirstName: "Ayse", LastName: "Kaya", NationalID: "12345", Password: "other",
		})
		assert.ErrorIs(t, err, ErrDuplicateIdentity)

		var users int
		require.NoError(t, f.db.QueryRow("SELECT COUNT(*) FROM Users").Scan(&users))
		assert.Equal(t, 1, users)
		assert.True(t, f.storedBalance(t, first.ID).IsZero())
	})

	t.Run("missing fields", func(t *testing.T) {
		f := newSQLiteFixture(t, true)

		_, err := f.service.Register(ctx, models.RegisterRequest{FirstName: "  ", NationalID: "1"})
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Contains(t, verr.Fields, "FirstName")
		assert.Contains(t, verr.Fields, "LastName")
		assert.Contains(t, verr.Fields, "Password")
	})
}

func TestAccountService_Authenticate(t *testing.T) {
	ctx := context.Background()
	f := newSQLiteFixture(t, true)
	_, err := f.service.Register(ctx, aliVeli)
	require.NoError(t, err)

	t.Run("names are case-insensitive", func(t *testing.T) {
		sess, err := f.service.Authenticate(ctx, "12345", "ali", "VELI", "pw1")
		require.NoError(t, err)
		assert.Equal(t, "Ali", sess.Account.FirstName)
		assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", sess.ID.String())
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := f.service.Authenticate(ctx, "12345", "Ali", "Veli", "pw2")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("unknown national id", func(t *testing.T) {
		_, err := f.service.Authenticate(ctx, "99999", "Ali", "Veli", "pw1")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("wrong last name", func(t *testing.T) {
		_, err := f.service.Authenticate(ctx, "12345", "Ali", "Kaya", "pw1")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := f.service.Authenticate(ctx, "", "", "", "")
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	})

	t.Run("legacy digest still logs in", func(t *testing.T) {
		_, err := f.db.Exec(`INSERT INTO Users (FirstName, LastName, NationalId, PasswordHash, Balance, CreatedAt)
			VALUES ('Ayse', 'Kaya', '777', 'xZLfSoaTO5Kt3JhCQC3fGYxjjqm+WJFu5uNzTh4xUvg=', 12.5, '2024-05-01T09:30:00.1234567+03:00')`)
		require.NoError(t, err)

		sess, err := f.service.Authenticate(ctx, "777", "ayse", "kaya", "pw1")
		require.NoError(t, err)
		assert.True(t, sess.Account.Balance.Equal(decimal.RequireFromString("12.5")))
		assert.Equal(t, 2024, sess.Account.CreatedAt.Year())
	})
}

func TestAccountService_Deposit(t *testing.T) {
	ctx := context.Background()

	t.Run("persists balance and one ledger entry", func(t *testing.T) {
		f := newSQLiteFixture(t, true)
		sess := f.login(t, "")

		entry, err := f.service.Deposit(ctx, sess, decimal.NewFromInt(100))
		require.NoError(t, err)

		assert.NotZero(t, entry.ID)
		assert.Equal(t, models.EntryDeposit, entry.Type)
		assert.True(t, entry.BalanceBefore.IsZero())
		assert.True(t, entry.BalanceAfter.Equal(decimal.NewFromInt(100)))
		assert.True(t, sess.Account.Balance.Equal(decimal.NewFromInt(100)))
		assert.True(t, f.storedBalance(t, sess.Account.ID).Equal(decimal.NewFromInt(100)))
		assert.Equal(t, 1, f.entryCount(t, sess.Account.ID))
	})

	t.Run("non-positive amounts are rejected", func(t *testing.T) {
		f := newSQLiteFixture(t, true)
		sess := f.login(t, "")

		for _, amount := range []string{"0", "-5"} {
			_, err := f.service.Deposit(ctx, sess, decimal.RequireFromString(amount))
			assert.ErrorIs(t, err, ErrInvalidAmount, amount)
		}
		assert.True(t, sess.Account.Balance.IsZero())
		assert.Equal(t, 0, f.entryCount(t, sess.Account.ID))
	})

	t.Run("requires a session", func(t *testing.T) {
		f := newSQLiteFixture(t, true)

		_, err := f.service.Deposit(ctx, nil, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrNoSession)
		_, err = f.service.Deposit(ctx, &Session{}, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrNoSession)
	})
}

func TestAccountService_Withdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient funds leaves state untouched", func(t *testing.T) {
		f := newSQLiteFixture(t, true)
		sess := f.login(t, "50")

		_, err := f.service.Withdraw(ctx, sess, decimal.NewFromInt(80))
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.True(t, sess.Account.Balance.Equal(decimal.NewFromInt(50)))
		assert.True(t, f.storedBalance(t, sess.Account.ID).Equal(decimal.NewFromInt(50)))
		assert.Equal(t, 1, f.entryCount(t, sess.Account.ID))
	})

	t.Run("entire balance can be withdrawn", func(t *testing.T) {
		f := newSQLiteFixture(t, true)
		sess := f.login(t, "50")

		entry, err := f.service.Withdraw(ctx, sess, decimal.NewFromInt(50))
		require.NoError(t, err)
		assert.Equal(t, models.EntryWithdrawal, entry.Type)
		assert.True(t, entry.BalanceBefore.Equal(decimal.NewFromInt(50)))
		assert.True(t, entry.BalanceAfter.IsZero())
		assert.True(t, f.storedBalance(t, sess.Account.ID).IsZero())
	})

	t.Run("deposit then withdraw round-trips", func(t *testing.T) {
		f := newSQLiteFixture(t, true)
		sess := f.login(t, "20.25")
		start := sess.Account.Balance

		x := decimal.RequireFromString("123.45")
		_, err := f.service.Deposit(ctx, sess, x)
		require.NoError(t, err)
		_, err = f.service.Withdraw(ctx, sess, x)
		require.NoError(t, err)

		assert.True(t, sess.Account.Balance.Equal(start))
		assert.True(t, f.storedBalance(t, sess.Account.ID).Equal(start))
		assert.Equal(t, 3, f.entryCount(t, sess.Account.ID))
	})

	t.Run("balance never goes negative", func(t *testing.T) {
		f := newSQLiteFixture(t, true)
		sess := f.login(t, "")

		steps := []struct {
			deposit bool
			amount  string
		}{
			{true, "10"}, {false, "15"}, {false, "10"}, {false, "0.01"},
			{true, "5.5"}, {false, "5.49"}, {false, "0.02"}, {false, "0.01"},
		}
		for _, step := range steps {
			amount := decimal.RequireFromString(step.amount)
			if step.deposit {
				_, _ = f.service.Deposit(ctx, sess, amount)
			} else {
				_, _ = f.service.Withdraw(ctx, sess, amount)
			}
			assert.False(t, sess.Account.Balance.IsNegative())
			assert.True(t, f.storedBalance(t, sess.Account.ID).Equal(sess.Account.Balance))
		}
		assert.True(t, sess.Account.Balance.IsZero())
	})
}

func TestAccountService_Exchange(t *testing.T) {
	ctx := context.Background()

	t.Run("debits cost and credits holding with a ledger entry", func(t *testing.T) {
		f := newSQLiteFixture(t, true)
		sess := f.login(t, "1000")

		result, err := f.service.Exchange(ctx, sess, usdRate, decimal.NewFromInt(10))
		require.NoError(t, err)

		assert.Equal(t, "335.00", result.Cost.StringFixed(2))
		assert.True(t, result.BalanceAfter.Equal(decimal.NewFromInt(665)))
		assert.True(t, result.Holding.Equal(decimal.NewFromInt(10)))
		assert.True(t, sess.Account.Balance.Equal(decimal.NewFromInt(665)))
		assert.True(t, f.storedBalance(t, sess.Account.ID).Equal(decimal.NewFromInt(665)))

		holdings, err := f.ledger.GetCurrencyHoldings(ctx, sess.Account.ID)
		require.NoError(t, err)
		assert.True(t, holdings["USD"].Equal(decimal.NewFromInt(10)))

		require.NotNil(t, result.Entry)
		assert.Equal(t, models.EntryExchangeBuy, result.Entry.Type)
		assert.True(t, result.Entry.Amount.Equal(decimal.NewFromInt(335)))
		assert.True(t, result.Entry.BalanceBefore.Equal(decimal.NewFromInt(1000)))
		assert.True(t, result.Entry.BalanceAfter.Equal(decimal.NewFromInt(665)))
		assert.Equal(t, "Bought 10.0000 USD @ 33.5000", result.Entry.Description)
		assert.Equal(t, 2, f.entryCount(t, sess.Account.ID))
	})

	t.Run("holdings accumulate", func(t *testing.T) {
		f := newSQLiteFixture(t, true)
		sess := f.login(t, "1000")

		_, err := f.service.Exchange(ctx, sess, usdRate, decimal.NewFromInt(10))
		require.NoError(t, err)
		result, err := f.service.Exchange(ctx, sess, usdRate, decimal.RequireFromString("2.5"))
		require.NoError(t, err)

		assert.True(t, result.Holding.Equal(decimal.RequireFromString("12.5")))
		assert.True(t, sess.Account.Balance.Equal(decimal.RequireFromString("581.25")))
	})

	t.Run("unrecorded exchanges keep the ledger unchanged", func(t *testing.T) {
		f := newSQLiteFixture(t, false)
		sess := f.login(t, "1000")

		result, err := f.service.Exchange(ctx, sess, usdRate, decimal.NewFromInt(10))
		require.NoError(t, err)

		assert.Nil(t, result.Entry)
		assert.True(t, f.storedBalance(t, sess.Account.ID).Equal(decimal.NewFromInt(665)))
		assert.Equal(t, 1, f.entryCount(t, sess.Account.ID))
	})

	t.Run("insufficient TRY balance", func(t *testing.T) {
		f := newSQLiteFixture(t, true)
		sess := f.login(t, "100")

		_, err := f.service.Exchange(ctx, sess, usdRate, decimal.NewFromInt(10))
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.True(t, f.storedBalance(t, sess.Account.ID).Equal(decimal.NewFromInt(100)))

		holdings, err := f.ledger.GetCurrencyHoldings(ctx, sess.Account.ID)
		require.NoError(t, err)
		assert.Empty(t, holdings)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		f := newSQLiteFixture(t, true)
		sess := f.login(t, "100")

		_, err := f.service.Exchange(ctx, sess, usdRate, decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = f.service.Exchange(ctx, sess, models.ExchangeRate{Code: "USD"}, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrRateUnavailable)

		_, err = f.service.Exchange(ctx, nil, usdRate, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrNoSession)
	})
}

func TestAccountService_PortfolioAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newSQLiteFixture(t, true)
	sess := f.login(t, "1000")

	_, err := f.service.Exchange(ctx, sess, usdRate, decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = f.service.Withdraw(ctx, sess, decimal.NewFromInt(65))
	require.NoError(t, err)

	t.Run("portfolio values holdings at buy rate", func(t *testing.T) {
		snap := RateSnapshot{
			Rates:  map[string]models.ExchangeRate{"USD": usdRate},
			Status: RatesCached,
			order:  []string{"USD", "EUR", "GBP"},
		}

		p, err := f.service.Portfolio(ctx, sess, snap)
		require.NoError(t, err)
		assert.True(t, p.Balance.Equal(decimal.NewFromInt(600)))
		require.Len(t, p.Holdings, 1)
		assert.Equal(t, "USD", p.Holdings[0].Code)
		assert.True(t, p.Holdings[0].Value.Equal(decimal.NewFromInt(330)))
		assert.True(t, p.Total.Equal(decimal.NewFromInt(930)))
	})

	t.Run("holdings without a rate are hidden", func(t *testing.T) {
		p, err := f.service.Portfolio(ctx, sess, RateSnapshot{Status: RatesUnavailable})
		require.NoError(t, err)
		assert.Empty(t, p.Holdings)
		assert.True(t, p.Total.Equal(decimal.NewFromInt(600)))
	})

	t.Run("history is newest first", func(t *testing.T) {
		entries, err := f.service.History(ctx, sess, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, models.EntryWithdrawal, entries[0].Type)
		assert.Equal(t, models.EntryExchangeBuy, entries[1].Type)
		assert.Equal(t, models.EntryDeposit, entries[2].Type)
		assert.WithinDuration(t, time.Now(), entries[0].CreatedAt, time.Minute)

		limited, err := f.service.History(ctx, sess, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("state survives a new login", func(t *testing.T) {
		again, err := f.service.Authenticate(ctx, "12345", "Ali", "Veli", "pw1")
		require.NoError(t, err)
		assert.True(t, again.Account.Balance.Equal(decimal.NewFromInt(600)))
		assert.NotEqual(t, sess.ID, again.ID)
	})
}

func TestAccountService_RollbackKeepsSession(t *testing.T) {
	ctx := context.Background()
	ledger := new(MockLedger)
	auditLog := new(MockAuditLogger)
	service := NewAccountService(ledger, NewArgon2Hasher(testArgon2Params()), auditLog,
		config.LedgerConfig{RecordExchanges: true, HistoryLimit: 10}, zap.NewNop())

	sess := &Session{Account: models.Account{ID: 1, Balance: decimal.NewFromInt(100)}}
	appendErr := errors.New("disk I/O error")

	ledger.On("WithinTx", mock.Anything).Return(nil)
	ledger.On("SetPrimaryBalance", mock.Anything, int64(1), mock.Anything).Return(nil)
	ledger.On("AppendLedgerEntry", mock.Anything, mock.Anything).Return(appendErr)
	auditLog.On("LogError", mock.Anything, int64(1), mock.Anything, appendErr).Return()

	_, err := service.Deposit(ctx, sess, decimal.NewFromInt(50))
	assert.ErrorIs(t, err, appendErr)
	assert.True(t, sess.Account.Balance.Equal(decimal.NewFromInt(100)))

	_, err = service.Withdraw(ctx, sess, decimal.NewFromInt(50))
	assert.ErrorIs(t, err, appendErr)
	assert.True(t, sess.Account.Balance.Equal(decimal.NewFromInt(100)))

	auditLog.AssertNumberOfCalls(t, "LogError", 2)
	auditLog.AssertNotCalled(t, "LogMovement", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAccountService_AuditTrail(t *testing.T) {
	ctx := context.Background()
	ledger := new(MockLedger)
	auditLog := new(MockAuditLogger)
	service := NewAccountService(ledger, NewArgon2Hasher(testArgon2Params()), auditLog,
		config.LedgerConfig{RecordExchanges: true, HistoryLimit: 10}, zap.NewNop())

	sess := &Session{Account: models.Account{ID: 9, Balance: decimal.NewFromInt(10)}}

	ledger.On("WithinTx", mock.Anything).Return(nil)
	ledger.On("SetPrimaryBalance", mock.Anything, int64(9), mock.Anything).Return(nil)
	ledger.On("AppendLedgerEntry", mock.Anything, mock.Anything).Return(nil)
	auditLog.On("LogMovement", sess.ID.String(), int64(9), audit.EventDeposit, decimal.NewFromInt(5), "TRY",
		mock.Anything, mock.Anything).Return()

	_, err := service.Deposit(ctx, sess, decimal.NewFromInt(5))
	require.NoError(t, err)
	auditLog.AssertExpectations(t)
	ledger.AssertExpectations(t)
}

func TestAccountService_AuthenticateLookupFailure(t *testing.T) {
	ctx := context.Background()
	ledger := new(MockLedger)
	service := NewAccountService(ledger, NewArgon2Hasher(testArgon2Params()), audit.NewAuditLogger(zap.NewNop()),
		config.LedgerConfig{HistoryLimit: 10}, zap.NewNop())

	ledger.On("FindAccountForLogin", mock.Anything, "12345", "Ali", "Veli").Return(nil, sql.ErrConnDone)

	_, err := service.Authenticate(ctx, "12345", "Ali", "Veli", "pw1")
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NotErrorIs(t, err, ErrAuthenticationFailed)
}
