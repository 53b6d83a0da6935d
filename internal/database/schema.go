package database

import (
	"context"
	"database/sql"
	"fmt"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS Users (
		Id INTEGER PRIMARY KEY AUTOINCREMENT,
		FirstName TEXT NOT NULL,
		LastName TEXT NOT NULL,
		NationalId TEXT NOT NULL UNIQUE,
		PasswordHash TEXT NOT NULL,
		Balance TEXT NOT NULL DEFAULT '0',
		CreatedAt TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS CurrencyBalances (
		UserId INTEGER NOT NULL,
		CurrencyCode TEXT NOT NULL,
		Amount TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (UserId, CurrencyCode)
	)`,
	`CREATE TABLE IF NOT EXISTS Transactions (
		Id INTEGER PRIMARY KEY AUTOINCREMENT,
		UserId INTEGER NOT NULL,
		Type TEXT NOT NULL,
		Amount TEXT NOT NULL,
		Description TEXT,
		BalanceBefore TEXT NOT NULL,
		BalanceAfter TEXT NOT NULL,
		CreatedAt TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON Transactions (UserId, Id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS Users (
		Id BIGSERIAL PRIMARY KEY,
		FirstName TEXT NOT NULL,
		LastName TEXT NOT NULL,
		NationalId TEXT NOT NULL UNIQUE,
		PasswordHash TEXT NOT NULL,
		Balance NUMERIC NOT NULL DEFAULT 0,
		CreatedAt TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS CurrencyBalances (
		UserId BIGINT NOT NULL REFERENCES Users (Id),
		CurrencyCode TEXT NOT NULL,
		Amount NUMERIC NOT NULL DEFAULT 0,
		PRIMARY KEY (UserId, CurrencyCode)
	)`,
	`CREATE TABLE IF NOT EXISTS Transactions (
		Id BIGSERIAL PRIMARY KEY,
		UserId BIGINT NOT NULL REFERENCES Users (Id),
		Type TEXT NOT NULL,
		Amount NUMERIC NOT NULL,
		Description TEXT,
		BalanceBefore NUMERIC NOT NULL,
		BalanceAfter NUMERIC NOT NULL,
		CreatedAt TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON Transactions (UserId, Id)`,
}

// Migrate creates the tables if they do not exist yet. It is safe to run on
// every start and leaves databases written by earlier releases untouched.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	stmts := sqliteSchema
	if dialect == Postgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
