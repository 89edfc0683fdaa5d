// Package room holds the pyramid room state machine:
// inactive -> active -> inactive, and inactive -> deleted (terminal, soft).
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stream-billing/internal/apperr"
	"stream-billing/internal/command"
	"stream-billing/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Store interface {
	CreateRoom(ctx context.Context, r store.Room) (store.Room, error)
	GetRoom(ctx context.Context, id int64) (*store.Room, error)
	ListRooms(ctx context.Context, includeDeleted bool) ([]store.Room, error)
	MutateRoom(ctx context.Context, id int64, fn func(*store.Room) error) (store.Room, error)
}

// Observer is told when an occupied room is closed so it can end whatever
// session the occupant was running there.
type Observer interface {
	OnRoomDeactivated(ctx context.Context, room store.Room, streamerID int64) error
}

type Machine struct {
	store Store
	now   func() time.Time

	mu        sync.RWMutex
	observers []Observer
}

func NewMachine(s Store) *Machine {
	return &Machine{store: s, now: func() time.Time { return time.Now().UTC() }}
}

func (m *Machine) Observe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Machine) Create(ctx context.Context, position int, rate decimal.Decimal, pinned bool) (store.Room, error) {
	if position <= 0 {
		return store.Room{}, apperr.Invalid("position", "must be positive")
	}
	if !rate.IsPositive() {
		return store.Room{}, apperr.Invalid("rate", "must be positive")
	}
	r, err := m.store.CreateRoom(ctx, store.Room{Position: position, RatePerMinute: rate, IsPinned: pinned})
	if errors.Is(err, store.ErrPositionTaken) {
		return store.Room{}, apperr.Invalid("position", fmt.Sprintf("%d is taken", position))
	}
	return r, err
}

func (m *Machine) Get(ctx context.Context, id int64) (store.Room, error) {
	r, err := m.store.GetRoom(ctx, id)
	if err != nil {
		return store.Room{}, err
	}
	return *r, nil
}

func (m *Machine) List(ctx context.Context) ([]store.Room, error) {
	return m.store.ListRooms(ctx, false)
}

// Activate seats streamerID in the room. Re-activating for the current
// occupant is a no-op; any other occupant yields ErrRoomOccupied and leaves
// the room untouched.
func (m *Machine) Activate(ctx context.Context, roomID, streamerID int64) (store.Room, error) {
	r, _, err := m.Occupy(ctx, roomID, streamerID)
	return r, err
}

// Occupy is Activate that also reports whether this call moved the room from
// inactive to active, so only that caller undoes it.
func (m *Machine) Occupy(ctx context.Context, roomID, streamerID int64) (store.Room, bool, error) {
	if streamerID <= 0 {
		return store.Room{}, false, apperr.Invalid("streamer_id", "must be positive")
	}
	var changed bool
	r, err := m.store.MutateRoom(ctx, roomID, func(r *store.Room) error {
		changed = false
		switch r.Status {
		case store.RoomDeleted:
			return apperr.Transition("room", string(r.Status), string(store.RoomActive))
		case store.RoomActive:
			if r.OccupyingStreamer != nil && *r.OccupyingStreamer == streamerID {
				return nil
			}
			return apperr.ErrRoomOccupied
		}
		if r.OccupyingStreamer != nil && *r.OccupyingStreamer != streamerID {
			return apperr.ErrRoomOccupied
		}
		now := m.now()
		id := streamerID
		r.Status = store.RoomActive
		r.OccupyingStreamer = &id
		r.EntryTimestamp = &now
		changed = true
		return nil
	})
	if err != nil {
		return store.Room{}, false, err
	}
	return r, changed, nil
}

// Deactivate closes an active room and notifies observers so the occupant's
// live session ends as room_closed. An inactive room is returned unchanged.
func (m *Machine) Deactivate(ctx context.Context, roomID int64) (store.Room, error) {
	var occupant int64
	r, err := m.store.MutateRoom(ctx, roomID, func(r *store.Room) error {
		occupant = 0
		switch r.Status {
		case store.RoomDeleted:
			return apperr.Transition("room", string(r.Status), string(store.RoomInactive))
		case store.RoomInactive:
			return nil
		}
		if r.OccupyingStreamer != nil {
			occupant = *r.OccupyingStreamer
		}
		r.Status = store.RoomInactive
		r.OccupyingStreamer = nil
		r.EntryTimestamp = nil
		return nil
	})
	if err != nil || occupant == 0 {
		return r, err
	}
	log.Info().Int64("room_id", roomID).Int64("streamer_id", occupant).Msg("room deactivated")

	m.mu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()
	var errs []error
	for _, o := range observers {
		if oerr := o.OnRoomDeactivated(ctx, r, occupant); oerr != nil {
			log.Error().Err(oerr).Int64("room_id", roomID).Msg("room close cascade failed")
			errs = append(errs, oerr)
		}
	}
	return r, errors.Join(errs...)
}

// Vacate frees the room when streamerID's session ended on its own. It does
// not notify observers.
func (m *Machine) Vacate(ctx context.Context, roomID, streamerID int64) (store.Room, error) {
	return m.store.MutateRoom(ctx, roomID, func(r *store.Room) error {
		if r.Status != store.RoomActive || r.OccupyingStreamer == nil || *r.OccupyingStreamer != streamerID {
			return nil
		}
		r.Status = store.RoomInactive
		r.OccupyingStreamer = nil
		r.EntryTimestamp = nil
		return nil
	})
}

// Delete soft-deletes an inactive room. The row stays for history.
func (m *Machine) Delete(ctx context.Context, roomID int64) (store.Room, error) {
	return m.store.MutateRoom(ctx, roomID, func(r *store.Room) error {
		switch r.Status {
		case store.RoomDeleted:
			return nil
		case store.RoomActive:
			return apperr.Transition("room", string(r.Status), string(store.RoomDeleted))
		}
		r.Status = store.RoomDeleted
		return nil
	})
}

// Update changes rate and pinning. Attendances already admitted keep their
// snapshotted rate.
func (m *Machine) Update(ctx context.Context, cmd command.UpdatePyramidRoom) (store.Room, error) {
	if err := command.Validate(cmd); err != nil {
		return store.Room{}, err
	}
	return m.store.MutateRoom(ctx, cmd.RoomID, func(r *store.Room) error {
		if r.Status == store.RoomDeleted {
			return apperr.Transition("room", string(r.Status), string(r.Status))
		}
		if cmd.Rate != nil {
			r.RatePerMinute = *cmd.Rate
		}
		if cmd.Pinned != nil {
			r.IsPinned = *cmd.Pinned
		}
		return nil
	})
}
