// Package session runs streamer sessions and the viewer attendances metered
// inside them. Every attendance close, whatever triggers it, goes through
// one finalize routine guarded by the attendance status.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stream-billing/internal/alert"
	"stream-billing/internal/apperr"
	"stream-billing/internal/billing"
	"stream-billing/internal/command"
	"stream-billing/internal/keylock"
	"stream-billing/internal/ledger"
	"stream-billing/internal/pricing"
	"stream-billing/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Store interface {
	CreateSession(ctx context.Context, sess store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	FindLiveSessionByRoom(ctx context.Context, roomID int64) (*store.Session, error)
	MutateSession(ctx context.Context, id string, fn func(*store.Session) error) (store.Session, error)
	RecomputeSessionEarnings(ctx context.Context, sessionID string) (decimal.Decimal, error)

	CreateAttendance(ctx context.Context, a store.Attendance) error
	GetAttendance(ctx context.Context, id string) (*store.Attendance, error)
	FindOpenAttendance(ctx context.Context, viewerID int64, sessionID string) (*store.Attendance, error)
	SaveAttendanceProgress(ctx context.Context, a store.Attendance) (bool, error)
	CloseAttendance(ctx context.Context, a store.Attendance) (bool, error)
	ListOpenAttendances(ctx context.Context, sessionID string) ([]store.Attendance, error)
	ListAttendancesBySession(ctx context.Context, sessionID string) ([]store.Attendance, error)
}

type Wallets interface {
	billing.Wallets
	Freeze(ctx context.Context, accountID int64, amount decimal.Decimal, ref ledger.Ref) (store.Wallet, error)
}

type Pricer interface {
	Pyramid(ctx context.Context, room store.Room, viewerID int64) (pricing.Quote, error)
	Cam2Cam(ctx context.Context, streamerID, viewerID int64, minutes int) (pricing.Quote, error)
}

type Rooms interface {
	Get(ctx context.Context, id int64) (store.Room, error)
	Occupy(ctx context.Context, roomID, streamerID int64) (store.Room, bool, error)
	Vacate(ctx context.Context, roomID, streamerID int64) (store.Room, error)
}

type Notifier interface {
	Notify(ev alert.Event)
}

const (
	ReasonLeft            = "left"
	ReasonSessionEnded    = "session_ended"
	ReasonInsufficient    = "insufficient_credits"
	ReasonDurationElapsed = "duration_elapsed"
	ReasonLedgerHalted    = "ledger_halted"
)

type Manager struct {
	store   Store
	wallets Wallets
	pricer  Pricer
	rooms   Rooms
	meter   *billing.Meter
	alerts  Notifier
	now     func() time.Time

	sessionLocks    *keylock.Map[string]
	attendanceLocks *keylock.Map[string]

	closingMu sync.Mutex
	closing   map[string]int
}

func NewManager(s Store, w Wallets, p Pricer, r Rooms, meter *billing.Meter) *Manager {
	return &Manager{
		store:           s,
		wallets:         w,
		pricer:          p,
		rooms:           r,
		meter:           meter,
		now:             func() time.Time { return time.Now().UTC() },
		sessionLocks:    keylock.New[string](),
		attendanceLocks: keylock.New[string](),
		closing:         map[string]int{},
	}
}

func (m *Manager) WithNotifier(n Notifier) *Manager {
	m.alerts = n
	return m
}

func (m *Manager) notify(ev alert.Event) {
	if m.alerts == nil {
		return
	}
	m.alerts.Notify(ev)
}

// StartSession opens a session and takes it live in one step.
func (m *Manager) StartSession(ctx context.Context, cmd command.StartSession) (store.Session, error) {
	if err := command.Validate(cmd); err != nil {
		return store.Session{}, err
	}
	if store.RoomType(cmd.RoomType) == store.RoomTypePyramid {
		live, err := m.store.FindLiveSessionByRoom(ctx, cmd.RoomID)
		switch {
		case err == nil && live.StreamerID == cmd.StreamerID:
			return *live, nil
		case err == nil:
			return store.Session{}, apperr.ErrRoomOccupied
		case !errors.Is(err, store.ErrNotFound):
			return store.Session{}, err
		}
	}
	sess, err := m.Open(ctx, cmd)
	if err != nil {
		return store.Session{}, err
	}
	live, err := m.GoLive(ctx, sess.ID)
	if err != nil {
		if _, endErr := m.EndSession(ctx, sess.ID, store.EndDisconnected); endErr != nil {
			log.Error().Err(endErr).Str("session_id", sess.ID).Msg("discard pending session")
		}
		return store.Session{}, err
	}
	return live, nil
}

// Open records a pending session. Nothing is reserved until it goes live.
func (m *Manager) Open(ctx context.Context, cmd command.StartSession) (store.Session, error) {
	if err := command.Validate(cmd); err != nil {
		return store.Session{}, err
	}
	sess := store.Session{
		ID:            store.NewID(),
		RoomType:      store.RoomType(cmd.RoomType),
		StreamerID:    cmd.StreamerID,
		Status:        store.SessionPending,
		CreditsEarned: decimal.Zero,
	}
	if sess.RoomType == store.RoomTypePyramid {
		if _, err := m.rooms.Get(ctx, cmd.RoomID); err != nil {
			return store.Session{}, err
		}
		roomID := cmd.RoomID
		sess.RoomID = &roomID
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return store.Session{}, err
	}
	log.Info().Str("session_id", sess.ID).Int64("streamer_id", sess.StreamerID).Str("room_type", string(sess.RoomType)).Msg("session opened")
	return sess, nil
}

// GoLive moves a pending session to live, activating its pyramid room for
// the streamer. The room must be inactive or already held by that streamer.
func (m *Manager) GoLive(ctx context.Context, sessionID string) (store.Session, error) {
	unlock := m.sessionLocks.Lock(sessionID)
	defer unlock()

	cur, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	switch cur.Status {
	case store.SessionLive:
		return *cur, nil
	case store.SessionEnded:
		return store.Session{}, apperr.Transition("session", string(cur.Status), string(store.SessionLive))
	}

	activated := false
	if cur.RoomID != nil {
		_, changed, err := m.rooms.Occupy(ctx, *cur.RoomID, cur.StreamerID)
		if err != nil {
			return store.Session{}, err
		}
		activated = changed
	}
	now := m.now()
	sess, err := m.store.MutateSession(ctx, sessionID, func(s *store.Session) error {
		if s.Status != store.SessionPending {
			return apperr.Transition("session", string(s.Status), string(store.SessionLive))
		}
		s.Status = store.SessionLive
		s.StartedAt = &now
		return nil
	})
	if err != nil {
		if activated {
			if _, vErr := m.rooms.Vacate(ctx, *cur.RoomID, cur.StreamerID); vErr != nil {
				log.Error().Err(vErr).Int64("room_id", *cur.RoomID).Msg("vacate room after failed go-live")
			}
		}
		return store.Session{}, err
	}
	log.Info().Str("session_id", sess.ID).Msg("session live")
	return sess, nil
}

// EndSession ends a session, force-closing its open attendances and rolling
// their charges into CreditsEarned. Attendances are settled up to the end
// time. Ending an ended session closes whatever an earlier attempt left open
// and otherwise returns it as is. The pyramid room is vacated unless the room
// closing is what ended it.
func (m *Manager) EndSession(ctx context.Context, sessionID string, kind store.EndKind) (store.Session, error) {
	if kind == "" {
		kind = store.EndNormal
	}
	unlock := m.sessionLocks.Lock(sessionID)
	defer unlock()

	cur, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	retry := cur.Status == store.SessionEnded
	if !retry {
		now := m.now()
		ended, err := m.store.MutateSession(ctx, sessionID, func(s *store.Session) error {
			if s.Status == store.SessionEnded {
				return nil
			}
			s.Status = store.SessionEnded
			s.EndedAt = &now
			s.DisconnectionType = kind
			return nil
		})
		if err != nil {
			return store.Session{}, err
		}
		cur = &ended
	}
	endedAt := m.now()
	if cur.EndedAt != nil {
		endedAt = *cur.EndedAt
	}

	open, err := m.store.ListOpenAttendances(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	if retry && len(open) == 0 {
		return *cur, nil
	}
	var errs []error
	for _, a := range open {
		if _, _, err := m.exit(ctx, a.ID, endedAt, store.ExitSessionEnded, ReasonSessionEnded); err != nil {
			errs = append(errs, fmt.Errorf("close attendance %s: %w", a.ID, err))
		}
	}
	if _, err := m.store.RecomputeSessionEarnings(ctx, sessionID); err != nil {
		errs = append(errs, err)
	}
	if cur.RoomID != nil && cur.DisconnectionType != store.EndRoomClosed {
		if err := m.vacate(ctx, *cur); err != nil {
			errs = append(errs, fmt.Errorf("vacate room: %w", err))
		}
	}
	if retry {
		log.Info().Str("session_id", sessionID).Int("closed_attendances", len(open)).Msg("ended session cleaned up")
	} else {
		log.Info().Str("session_id", sessionID).Str("kind", string(kind)).Int("closed_attendances", len(open)).Msg("session ended")
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return store.Session{}, err
	}
	return *sess, errors.Join(errs...)
}

// vacate frees the ended session's room unless a newer live session of the
// same streamer holds it.
func (m *Manager) vacate(ctx context.Context, sess store.Session) error {
	live, err := m.store.FindLiveSessionByRoom(ctx, *sess.RoomID)
	switch {
	case err == nil && live.ID != sess.ID:
		return nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return err
	}
	_, err = m.rooms.Vacate(ctx, *sess.RoomID, sess.StreamerID)
	return err
}

// OnRoomDeactivated ends the streamer's live session in a room that was just
// closed.
func (m *Manager) OnRoomDeactivated(ctx context.Context, r store.Room, streamerID int64) error {
	sess, err := m.store.FindLiveSessionByRoom(ctx, r.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.StreamerID != streamerID {
		log.Warn().Int64("room_id", r.ID).Int64("streamer_id", streamerID).Str("session_id", sess.ID).
			Msg("live session belongs to another streamer, left running")
		return nil
	}
	_, err = m.EndSession(ctx, sess.ID, store.EndRoomClosed)
	return err
}

func (m *Manager) GetSession(ctx context.Context, id string) (store.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return store.Session{}, err
	}
	return *sess, nil
}

func (m *Manager) ListAttendances(ctx context.Context, sessionID string) ([]store.Attendance, error) {
	return m.store.ListAttendancesBySession(ctx, sessionID)
}
