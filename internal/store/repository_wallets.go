package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// WalletMutation selects the wallet row a mutation runs against. With Create
// set, a missing wallet (and its account stub) is created first. A non-empty
// IdempotencyKey that already exists in the journal aborts the mutation with
// ErrDuplicate and the current wallet.
type WalletMutation struct {
	AccountID      int64
	Create         bool
	IdempotencyKey string
}

const walletColumns = `account_id, balance, frozen, total_spent, halted, halt_reason, created_at, updated_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	var reason pgtype.Text
	if err := row.Scan(&w.AccountID, &w.Balance, &w.Frozen, &w.TotalSpent, &w.Halted, &reason, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, mapPgError(err)
	}
	w.HaltReason = textVal(reason)
	return w, nil
}

func ensureWalletTx(ctx context.Context, tx pgx.Tx, accountID int64) error {
	if _, err := tx.Exec(ctx, `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, accountID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `INSERT INTO wallets (account_id) VALUES ($1) ON CONFLICT (account_id) DO NOTHING`, accountID)
	return err
}

func (s *Store) GetWallet(ctx context.Context, accountID int64) (*Wallet, error) {
	w, err := scanWallet(s.Pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_id = $1`, accountID))
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// MutateWallet locks the wallet row, applies fn and persists the new balances
// together with the journal entry fn returns, all in one transaction.
func (s *Store) MutateWallet(ctx context.Context, m WalletMutation, fn func(*Wallet) (*LedgerEntry, error)) (Wallet, error) {
	var out Wallet
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if m.Create {
			if err := ensureWalletTx(ctx, tx, m.AccountID); err != nil {
				return err
			}
		}
		w, err := scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE account_id = $1 FOR UPDATE`, m.AccountID))
		if err != nil {
			return err
		}
		if m.IdempotencyKey != "" {
			var seen bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE idempotency_key = $1)`, m.IdempotencyKey).Scan(&seen); err != nil {
				return err
			}
			if seen {
				out = w
				return ErrDuplicate
			}
		}
		entry, err := fn(&w)
		if err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, `
			UPDATE wallets SET balance = $2, frozen = $3, total_spent = $4, updated_at = now()
			WHERE account_id = $1
			RETURNING updated_at
		`, w.AccountID, w.Balance, w.Frozen, w.TotalSpent).Scan(&w.UpdatedAt); err != nil {
			return err
		}
		if entry != nil {
			if entry.ID == "" {
				entry.ID = NewID()
			}
			entry.AccountID = w.AccountID
			entry.BalanceAfter = w.Balance
			entry.FrozenAfter = w.Frozen
			if m.IdempotencyKey != "" {
				entry.IdempotencyKey = m.IdempotencyKey
			}
			if err := tx.QueryRow(ctx, `
				INSERT INTO ledger_entries (id, account_id, op, amount, balance_after, frozen_after, ref_type, ref_id, idempotency_key)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				RETURNING created_at
			`, entry.ID, entry.AccountID, string(entry.Op), entry.Amount, entry.BalanceAfter, entry.FrozenAfter,
				entry.RefType, entry.RefID, textParam(entry.IdempotencyKey)).Scan(&entry.CreatedAt); err != nil {
				return err
			}
		}
		out = w
		return nil
	})
	return out, err
}

func (s *Store) SetWalletHalt(ctx context.Context, accountID int64, halted bool, reason string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE wallets SET halted = $2, halt_reason = $3, updated_at = now() WHERE account_id = $1
	`, accountID, halted, textParam(reason))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, f LedgerFilter, limit, offset int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	where := []string{"1=1"}
	args := []any{}
	if f.AccountID != 0 {
		args = append(args, f.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if f.Op != "" {
		args = append(args, string(f.Op))
		where = append(where, fmt.Sprintf("op = $%d", len(args)))
	}
	if f.RefType != "" {
		args = append(args, f.RefType)
		where = append(where, fmt.Sprintf("ref_type = $%d", len(args)))
	}
	if f.RefID != "" {
		args = append(args, f.RefID)
		where = append(where, fmt.Sprintf("ref_id = $%d", len(args)))
	}
	args = append(args, limit, offset)
	q := fmt.Sprintf(`
		SELECT id, account_id, op, amount, balance_after, frozen_after, ref_type, ref_id, created_at
		FROM ledger_entries WHERE %s
		ORDER BY id DESC LIMIT $%d OFFSET $%d
	`, strings.Join(where, " AND "), len(args)-1, len(args))
	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	out := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		var op string
		if err := rows.Scan(&e.ID, &e.AccountID, &op, &e.Amount, &e.BalanceAfter, &e.FrozenAfter, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Op = LedgerOp(op)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetMembership(ctx context.Context, accountID int64) (*Membership, error) {
	var m Membership
	var expires pgtype.Timestamptz
	err := s.Pool.QueryRow(ctx, `
		SELECT account_id, discount_percentage, expires_at FROM memberships WHERE account_id = $1
	`, accountID).Scan(&m.AccountID, &m.DiscountPercentage, &expires)
	if err != nil {
		return nil, mapPgError(err)
	}
	m.ExpiresAt = timePtrVal(expires)
	return &m, nil
}

func (s *Store) UpsertMembership(ctx context.Context, m Membership) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, m.AccountID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO memberships (account_id, discount_percentage, expires_at) VALUES ($1,$2,$3)
			ON CONFLICT (account_id) DO UPDATE
			SET discount_percentage = EXCLUDED.discount_percentage, expires_at = EXCLUDED.expires_at
		`, m.AccountID, m.DiscountPercentage, timeParam(m.ExpiresAt))
		return err
	})
}
