package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stream-billing/internal/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = apperr.ErrNotFound
	// ErrDuplicate is returned when a ledger idempotency key was already applied.
	ErrDuplicate = errors.New("duplicate")
	// ErrOpenAttendanceExists guards the one-open-attendance-per-viewer-and-session rule.
	ErrOpenAttendanceExists = errors.New("open_attendance_exists")
	ErrPositionTaken        = errors.New("position_taken")
)

// Store is the PostgreSQL repository.
type Store struct {
	Pool *pgxpool.Pool
}

func New(dsn string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return mapPgError(err)
	}
	return mapPgError(tx.Commit(ctx))
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", apperr.ErrConcurrentModification, pgErr.Message)
	case "23514":
		return fmt.Errorf("%w: check %s violated", apperr.ErrLedgerInconsistency, pgErr.ConstraintName)
	case "23505":
		switch pgErr.ConstraintName {
		case "attendances_open_viewer_session_idx":
			return ErrOpenAttendanceExists
		case "rooms_position_key":
			return ErrPositionTaken
		case "ledger_entries_idempotency_key_idx":
			return ErrDuplicate
		case "sessions_live_room_idx":
			return apperr.ErrRoomOccupied
		}
	}
	return err
}
