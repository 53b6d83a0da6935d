package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryDeposit     EntryType = "Deposit"
	EntryWithdrawal  EntryType = "Withdrawal"
	EntryExchangeBuy EntryType = "ExchangeBuy"
)

// LedgerEntry is an append-only record of one primary balance movement.
// BalanceBefore and BalanceAfter are the TRY balance around the movement.
type LedgerEntry struct {
	ID            int64           `json:"id" db:"Id"`
	AccountID     int64           `json:"account_id" db:"UserId"`
	Type          EntryType       `json:"type" db:"Type"`
	Amount        decimal.Decimal `json:"amount" db:"Amount"`
	Description   string          `json:"description" db:"Description"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"BalanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"BalanceAfter"`
	CreatedAt     time.Time       `json:"created_at" db:"CreatedAt"`
}
