package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const sessionColumns = `id, room_type, room_id, streamer_id, status, started_at, ended_at, credits_earned, disconnection_type, created_at`

func scanSession(row pgx.Row) (Session, error) {
	var s Session
	var roomType, status string
	var roomID pgtype.Int8
	var started, ended pgtype.Timestamptz
	var disc pgtype.Text
	if err := row.Scan(&s.ID, &roomType, &roomID, &s.StreamerID, &status, &started, &ended, &s.CreditsEarned, &disc, &s.CreatedAt); err != nil {
		return Session{}, mapPgError(err)
	}
	s.RoomType = RoomType(roomType)
	s.RoomID = int64PtrVal(roomID)
	s.Status = SessionStatus(status)
	s.StartedAt = timePtrVal(started)
	s.EndedAt = timePtrVal(ended)
	s.DisconnectionType = EndKind(textVal(disc))
	return s, nil
}

func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := ensureAccountTx(ctx, tx, sess.StreamerID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO sessions (id, room_type, room_id, streamer_id, status, started_at, credits_earned)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, sess.ID, string(sess.RoomType), int8PtrParam(sess.RoomID), sess.StreamerID, string(sess.Status),
			timeParam(sess.StartedAt), sess.CreditsEarned)
		return err
	})
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) FindLiveSessionByRoom(ctx context.Context, roomID int64) (*Session, error) {
	sess, err := scanSession(s.Pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE room_id = $1 AND status = 'live'
	`, roomID))
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) MutateSession(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	var out Session
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		sess, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(&sess); err != nil {
			return err
		}
		out, err = scanSession(tx.QueryRow(ctx, `
			UPDATE sessions
			SET status = $2, started_at = $3, ended_at = $4, credits_earned = $5, disconnection_type = $6
			WHERE id = $1
			RETURNING `+sessionColumns,
			sess.ID, string(sess.Status), timeParam(sess.StartedAt), timeParam(sess.EndedAt), sess.CreditsEarned,
			textParam(string(sess.DisconnectionType))))
		return err
	})
	return out, err
}

// RecomputeSessionEarnings sets credits_earned to the sum charged across the
// session's closed attendances.
func (s *Store) RecomputeSessionEarnings(ctx context.Context, sessionID string) (decimal.Decimal, error) {
	var earned decimal.Decimal
	err := s.Pool.QueryRow(ctx, `
		UPDATE sessions
		SET credits_earned = COALESCE((
			SELECT SUM(total_charged) FROM attendances WHERE session_id = $1 AND status = 'exited'
		), 0)
		WHERE id = $1
		RETURNING credits_earned
	`, sessionID).Scan(&earned)
	return earned, mapPgError(err)
}
