package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a bank customer together with their primary (TRY) balance.
type Account struct {
	ID           int64           `json:"id" db:"Id"`
	FirstName    string          `json:"first_name" db:"FirstName"`
	LastName     string          `json:"last_name" db:"LastName"`
	NationalID   string          `json:"national_id" db:"NationalId"`
	PasswordHash string          `json:"-" db:"PasswordHash"`
	Balance      decimal.Decimal `json:"balance" db:"Balance"`
	CreatedAt    time.Time       `json:"created_at" db:"CreatedAt"`
}

func (a Account) FullName() string {
	return a.FirstName + " " + a.LastName
}

type RegisterRequest struct {
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"required,max=100"`
	NationalID string `json:"national_id" validate:"required,max=32"`
	Password   string `json:"password" validate:"required"`
}

type LoginRequest struct {
	NationalID string `json:"national_id" validate:"required,max=32"`
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"required,max=100"`
	Password   string `json:"password" validate:"required"`
}
