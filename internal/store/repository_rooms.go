package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const roomColumns = `id, position, occupying_streamer, status, rate_per_minute, is_pinned, entry_timestamp, created_at, updated_at`

func scanRoom(row pgx.Row) (Room, error) {
	var r Room
	var occupant pgtype.Int8
	var status string
	var entry pgtype.Timestamptz
	if err := row.Scan(&r.ID, &r.Position, &occupant, &status, &r.RatePerMinute, &r.IsPinned, &entry, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Room{}, mapPgError(err)
	}
	r.OccupyingStreamer = int64PtrVal(occupant)
	r.Status = RoomStatus(status)
	r.EntryTimestamp = timePtrVal(entry)
	return r, nil
}

func ensureAccountTx(ctx context.Context, tx pgx.Tx, accountID int64) error {
	_, err := tx.Exec(ctx, `INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, accountID)
	return err
}

func (s *Store) CreateRoom(ctx context.Context, r Room) (Room, error) {
	if r.Status == "" {
		r.Status = RoomInactive
	}
	return scanRoom(s.Pool.QueryRow(ctx, `
		INSERT INTO rooms (position, status, rate_per_minute, is_pinned)
		VALUES ($1,$2,$3,$4)
		RETURNING `+roomColumns,
		r.Position, string(r.Status), r.RatePerMinute, r.IsPinned))
}

func (s *Store) GetRoom(ctx context.Context, id int64) (*Room, error) {
	r, err := scanRoom(s.Pool.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRooms(ctx context.Context, includeDeleted bool) ([]Room, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE $1 OR status <> 'deleted'
		ORDER BY is_pinned DESC, position ASC
	`, includeDeleted)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()
	out := []Room{}
	for rows.Next() {
		r, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MutateRoom applies fn to the locked room row and persists its mutable
// fields. Returning an error from fn leaves the row untouched.
func (s *Store) MutateRoom(ctx context.Context, id int64, fn func(*Room) error) (Room, error) {
	var out Room
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		r, err := scanRoom(tx.QueryRow(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(&r); err != nil {
			return err
		}
		if r.OccupyingStreamer != nil {
			if err := ensureAccountTx(ctx, tx, *r.OccupyingStreamer); err != nil {
				return err
			}
		}
		out, err = scanRoom(tx.QueryRow(ctx, `
			UPDATE rooms
			SET occupying_streamer = $2, status = $3, rate_per_minute = $4, is_pinned = $5,
			    entry_timestamp = $6, updated_at = now()
			WHERE id = $1
			RETURNING `+roomColumns,
			r.ID, int8PtrParam(r.OccupyingStreamer), string(r.Status), r.RatePerMinute, r.IsPinned, timeParam(r.EntryTimestamp)))
		return err
	})
	return out, err
}

func (s *Store) CountRooms(ctx context.Context) (int, error) {
	var c int
	if err := s.Pool.QueryRow(ctx, `SELECT COUNT(1) FROM rooms`).Scan(&c); err != nil {
		return 0, mapPgError(err)
	}
	return c, nil
}

// EnsureDefaultRooms seeds the pyramid slots on an empty database. Slot 1 is
// the apex and is pinned.
func (s *Store) EnsureDefaultRooms(ctx context.Context, slots int, rate decimal.Decimal) error {
	c, err := s.CountRooms(ctx)
	if err != nil {
		return err
	}
	if c > 0 {
		return nil
	}
	for pos := 1; pos <= slots; pos++ {
		if _, err := s.CreateRoom(ctx, Room{Position: pos, RatePerMinute: rate, IsPinned: pos == 1}); err != nil {
			return err
		}
	}
	return nil
}
