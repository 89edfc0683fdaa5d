package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const attendanceColumns = `id, session_id, viewer_id, entered_at, exited_at, rate_per_minute, max_minutes, flat_price,
	total_minutes, total_charged, held, settled_through, status, exit_kind, exit_reason`

func scanAttendance(row pgx.Row) (Attendance, error) {
	var a Attendance
	var exited pgtype.Timestamptz
	var status string
	var kind, reason pgtype.Text
	if err := row.Scan(&a.ID, &a.SessionID, &a.ViewerID, &a.EnteredAt, &exited, &a.RatePerMinute, &a.MaxMinutes,
		&a.FlatPrice, &a.TotalMinutes, &a.TotalCharged, &a.Held, &a.SettledThrough, &status, &kind, &reason); err != nil {
		return Attendance{}, mapPgError(err)
	}
	a.ExitedAt = timePtrVal(exited)
	a.Status = AttendanceStatus(status)
	a.ExitKind = ExitKind(textVal(kind))
	a.ExitReason = textVal(reason)
	return a, nil
}

func collectAttendances(rows pgx.Rows) ([]Attendance, error) {
	defer rows.Close()
	out := []Attendance{}
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapPgError(rows.Err())
}

// CreateAttendance inserts an open attendance. A second open record for the
// same viewer and session fails with ErrOpenAttendanceExists.
func (s *Store) CreateAttendance(ctx context.Context, a Attendance) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO attendances (id, session_id, viewer_id, entered_at, rate_per_minute, max_minutes,
			flat_price, total_minutes, total_charged, held, settled_through, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, a.ID, a.SessionID, a.ViewerID, a.EnteredAt, a.RatePerMinute, a.MaxMinutes,
		a.FlatPrice, a.TotalMinutes, a.TotalCharged, a.Held, a.SettledThrough, string(a.Status))
	return mapPgError(err)
}

func (s *Store) GetAttendance(ctx context.Context, id string) (*Attendance, error) {
	a, err := scanAttendance(s.Pool.QueryRow(ctx, `SELECT `+attendanceColumns+` FROM attendances WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) FindOpenAttendance(ctx context.Context, viewerID int64, sessionID string) (*Attendance, error) {
	a, err := scanAttendance(s.Pool.QueryRow(ctx, `
		SELECT `+attendanceColumns+` FROM attendances
		WHERE viewer_id = $1 AND session_id = $2 AND exited_at IS NULL
	`, viewerID, sessionID))
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveAttendanceProgress persists billing progress of an active attendance.
// It reports false when the attendance is no longer active.
func (s *Store) SaveAttendanceProgress(ctx context.Context, a Attendance) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE attendances
		SET total_minutes = $2, total_charged = $3, held = $4, settled_through = $5
		WHERE id = $1 AND status = 'active'
	`, a.ID, a.TotalMinutes, a.TotalCharged, a.Held, a.SettledThrough)
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// CloseAttendance moves an active attendance to exited with its final
// figures. It reports false when the record was already closed.
func (s *Store) CloseAttendance(ctx context.Context, a Attendance) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE attendances
		SET status = 'exited', exited_at = $2, total_minutes = $3, total_charged = $4, held = $5,
		    settled_through = $6, exit_kind = $7, exit_reason = $8
		WHERE id = $1 AND status = 'active'
	`, a.ID, timeParam(a.ExitedAt), a.TotalMinutes, a.TotalCharged, a.Held, a.SettledThrough,
		textParam(string(a.ExitKind)), textParam(a.ExitReason))
	if err != nil {
		return false, mapPgError(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListOpenAttendances returns active attendances, across all sessions when
// sessionID is empty.
func (s *Store) ListOpenAttendances(ctx context.Context, sessionID string) ([]Attendance, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+attendanceColumns+` FROM attendances
		WHERE status = 'active' AND ($1 = '' OR session_id = $1)
		ORDER BY entered_at ASC
	`, sessionID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectAttendances(rows)
}

func (s *Store) ListAttendancesBySession(ctx context.Context, sessionID string) ([]Attendance, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+attendanceColumns+` FROM attendances WHERE session_id = $1 ORDER BY entered_at ASC
	`, sessionID)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectAttendances(rows)
}
