package services

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/atabank/backend/internal/models"
)

type MockQuoteClient struct {
	mock.Mock
}

func (m *MockQuoteClient) FetchMidRates(ctx context.Context) (map[string]decimal.Decimal, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]decimal.Decimal), args.Error(1)
}

type MockRateStore struct {
	mock.Mock
}

func (m *MockRateStore) Save(ctx context.Context, base string, snap StoredRates) error {
	args := m.Called(ctx, base, snap)
	return args.Error(0)
}

func (m *MockRateStore) Load(ctx context.Context, base string) (*StoredRates, error) {
	args := m.Called(ctx, base)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StoredRates), args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CreateAccount(ctx context.Context, account *models.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockLedger) FindAccountForLogin(ctx context.Context, nationalID, firstName, lastName string) (*models.Account, error) {
	args := m.Called(ctx, nationalID, firstName, lastName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockLedger) ListLedgerEntries(ctx context.Context, accountID int64, limit int) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, accountID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

// WithinTx hands the mock itself to fn so tx calls hit the same expectations.
func (m *MockLedger) WithinTx(ctx context.Context, fn func(LedgerTx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m)
}

func (m *MockLedger) SetPrimaryBalance(ctx context.Context, accountID int64, balance decimal.Decimal) error {
	args := m.Called(ctx, accountID, balance)
	return args.Error(0)
}

func (m *MockLedger) GetCurrencyHoldings(ctx context.Context, accountID int64) (map[string]decimal.Decimal, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]decimal.Decimal), args.Error(1)
}

func (m *MockLedger) UpsertCurrencyHolding(ctx context.Context, accountID int64, code string, amount decimal.Decimal) error {
	args := m.Called(ctx, accountID, code, amount)
	return args.Error(0)
}

func (m *MockLedger) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) LogMovement(sessionID string, accountID int64, eventType string, amount decimal.Decimal, currency string, before, after decimal.Decimal) {
	m.Called(sessionID, accountID, eventType, amount, currency, before, after)
}

func (m *MockAuditLogger) LogError(sessionID string, accountID int64, operation string, err error) {
	m.Called(sessionID, accountID, operation, err)
}

func (m *MockAuditLogger) LogOperation(sessionID string, accountID int64, operation, status, details string) {
	m.Called(sessionID, accountID, operation, status, details)
}
