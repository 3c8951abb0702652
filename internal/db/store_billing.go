package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrInsufficientBalance is returned when a debit would overdraw the
// account.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Billing Methods
//
// Invoicing and commission fan-out live outside this system; only the
// atomic balance mutation is owned here.

// DebitUser atomically subtracts amount from the user's balance and
// records the transaction. The row lock serializes concurrent debits.
func (db *DB) DebitUser(ctx context.Context, userID uuid.UUID, amount float64, memo string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive")
	}
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		var balance float64
		err := tx.QueryRow(ctx, `
			SELECT balance FROM users WHERE id = $1 FOR UPDATE
		`, userID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("user not found")
			}
			return fmt.Errorf("lock user balance: %w", err)
		}

		if balance < amount {
			return ErrInsufficientBalance
		}
		newBalance := balance - amount

		if _, err := tx.Exec(ctx, `
			UPDATE users SET balance = $2, updated_at = NOW() WHERE id = $1
		`, userID, newBalance); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO billing_transactions (user_id, amount, balance_after, memo)
			VALUES ($1, $2, $3, $4)
		`, userID, -amount, newBalance, memo); err != nil {
			return fmt.Errorf("record transaction: %w", err)
		}
		return nil
	})
}

// CreditUser atomically adds amount to the user's balance and records the
// transaction.
func (db *DB) CreditUser(ctx context.Context, userID uuid.UUID, amount float64, memo string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	return db.ExecTx(ctx, func(tx pgx.Tx) error {
		var balance float64
		err := tx.QueryRow(ctx, `
			SELECT balance FROM users WHERE id = $1 FOR UPDATE
		`, userID).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("user not found")
			}
			return fmt.Errorf("lock user balance: %w", err)
		}

		newBalance := balance + amount

		if _, err := tx.Exec(ctx, `
			UPDATE users SET balance = $2, updated_at = NOW() WHERE id = $1
		`, userID, newBalance); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO billing_transactions (user_id, amount, balance_after, memo)
			VALUES ($1, $2, $3, $4)
		`, userID, amount, newBalance, memo); err != nil {
			return fmt.Errorf("record transaction: %w", err)
		}
		return nil
	})
}

// GetUserBalance returns the current account balance.
func (db *DB) GetUserBalance(ctx context.Context, userID uuid.UUID) (float64, error) {
	var balance float64
	err := db.Pool.QueryRow(ctx, `
		SELECT balance FROM users WHERE id = $1
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("user not found")
		}
		return 0, fmt.Errorf("get user balance: %w", err)
	}
	return balance, nil
}
