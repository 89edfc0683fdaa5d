package memory

import (
	"context"
	"sort"

	"stream-billing/internal/apperr"
	"stream-billing/internal/store"

	"github.com/shopspring/decimal"
)

func (s *Store) liveRoomTakenLocked(sess store.Session) bool {
	if sess.Status != store.SessionLive || sess.RoomID == nil {
		return false
	}
	for _, other := range s.sessions {
		if other.ID != sess.ID && other.Status == store.SessionLive && other.RoomID != nil && *other.RoomID == *sess.RoomID {
			return true
		}
	}
	return false
}

func (s *Store) CreateSession(_ context.Context, sess store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return store.ErrDuplicate
	}
	if s.liveRoomTakenLocked(sess) {
		return apperr.ErrRoomOccupied
	}
	s.accounts[sess.StreamerID] = true
	sess.CreatedAt = s.now()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sess, nil
}

func (s *Store) FindLiveSessionByRoom(_ context.Context, roomID int64) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Status == store.SessionLive && sess.RoomID != nil && *sess.RoomID == roomID {
			return &sess, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) MutateSession(_ context.Context, id string, fn func(*store.Session) error) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	sess := cur
	if err := fn(&sess); err != nil {
		return store.Session{}, err
	}
	if s.liveRoomTakenLocked(sess) {
		return store.Session{}, apperr.ErrRoomOccupied
	}
	s.sessions[id] = sess
	return sess, nil
}

func (s *Store) RecomputeSessionEarnings(_ context.Context, sessionID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return decimal.Zero, store.ErrNotFound
	}
	sum := decimal.Zero
	for _, a := range s.attendances {
		if a.SessionID == sessionID && a.Status == store.AttendanceExited {
			sum = sum.Add(a.TotalCharged)
		}
	}
	sess.CreditsEarned = sum
	s.sessions[sessionID] = sess
	return sum, nil
}

func (s *Store) CreateAttendance(_ context.Context, a store.Attendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[a.SessionID]; !ok {
		return store.ErrNotFound
	}
	for _, other := range s.attendances {
		if other.ViewerID == a.ViewerID && other.SessionID == a.SessionID && other.ExitedAt == nil {
			return store.ErrOpenAttendanceExists
		}
	}
	s.attendances[a.ID] = a
	return nil
}

func (s *Store) GetAttendance(_ context.Context, id string) (*store.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attendances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) FindOpenAttendance(_ context.Context, viewerID int64, sessionID string) (*store.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attendances {
		if a.ViewerID == viewerID && a.SessionID == sessionID && a.ExitedAt == nil {
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SaveAttendanceProgress(_ context.Context, a store.Attendance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.attendances[a.ID]
	if !ok || cur.Status != store.AttendanceActive {
		return false, nil
	}
	cur.TotalMinutes = a.TotalMinutes
	cur.TotalCharged = a.TotalCharged
	cur.Held = a.Held
	cur.SettledThrough = a.SettledThrough
	s.attendances[a.ID] = cur
	return true, nil
}

func (s *Store) CloseAttendance(_ context.Context, a store.Attendance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.attendances[a.ID]
	if !ok || cur.Status != store.AttendanceActive {
		return false, nil
	}
	cur.Status = store.AttendanceExited
	cur.ExitedAt = a.ExitedAt
	cur.TotalMinutes = a.TotalMinutes
	cur.TotalCharged = a.TotalCharged
	cur.Held = a.Held
	cur.SettledThrough = a.SettledThrough
	cur.ExitKind = a.ExitKind
	cur.ExitReason = a.ExitReason
	s.attendances[a.ID] = cur
	return true, nil
}

func (s *Store) listAttendances(match func(store.Attendance) bool) []store.Attendance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []store.Attendance{}
	for _, a := range s.attendances {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnteredAt.Equal(out[j].EnteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EnteredAt.Before(out[j].EnteredAt)
	})
	return out
}

func (s *Store) ListOpenAttendances(_ context.Context, sessionID string) ([]store.Attendance, error) {
	return s.listAttendances(func(a store.Attendance) bool {
		return a.Status == store.AttendanceActive && (sessionID == "" || a.SessionID == sessionID)
	}), nil
}

func (s *Store) ListAttendancesBySession(_ context.Context, sessionID string) ([]store.Attendance, error) {
	return s.listAttendances(func(a store.Attendance) bool { return a.SessionID == sessionID }), nil
}
