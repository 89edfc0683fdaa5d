package room

import (
	"context"
	"errors"
	"testing"

	"stream-billing/internal/apperr"
	"stream-billing/internal/command"
	"stream-billing/internal/store"
	"stream-billing/internal/store/memory"

	"github.com/shopspring/decimal"
)

var _ Store = (*store.Store)(nil)

type recordingObserver struct {
	rooms     []int64
	streamers []int64
}

func (o *recordingObserver) OnRoomDeactivated(_ context.Context, r store.Room, streamerID int64) error {
	o.rooms = append(o.rooms, r.ID)
	o.streamers = append(o.streamers, streamerID)
	return nil
}

func newMachine(t *testing.T) (*Machine, store.Room) {
	t.Helper()
	m := NewMachine(memory.New())
	r, err := m.Create(context.Background(), 1, decimal.RequireFromString("0.10"), true)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return m, r
}

func TestActivateRejectsSecondStreamer(t *testing.T) {
	m, r := newMachine(t)
	ctx := context.Background()
	a, err := m.Activate(ctx, r.ID, 100)
	if err != nil {
		t.Fatalf("activate A: %v", err)
	}
	if a.Status != store.RoomActive || a.OccupyingStreamer == nil || *a.OccupyingStreamer != 100 || a.EntryTimestamp == nil {
		t.Fatalf("room after activate = %+v", a)
	}
	if _, err := m.Activate(ctx, r.ID, 200); !errors.Is(err, apperr.ErrRoomOccupied) {
		t.Fatalf("activate B err = %v, want ErrRoomOccupied", err)
	}
	after, _ := m.Get(ctx, r.ID)
	if *after.OccupyingStreamer != 100 || !after.EntryTimestamp.Equal(*a.EntryTimestamp) {
		t.Fatalf("room changed after rejected activation: %+v", after)
	}
	again, err := m.Activate(ctx, r.ID, 100)
	if err != nil || !again.EntryTimestamp.Equal(*a.EntryTimestamp) {
		t.Fatalf("re-activate same streamer = %+v, %v", again, err)
	}
}

func TestOccupyReportsChange(t *testing.T) {
	m, r := newMachine(t)
	ctx := context.Background()
	_, changed, err := m.Occupy(ctx, r.ID, 100)
	if err != nil || !changed {
		t.Fatalf("first occupy changed = %v, err = %v, want true", changed, err)
	}
	_, changed, err = m.Occupy(ctx, r.ID, 100)
	if err != nil || changed {
		t.Fatalf("second occupy changed = %v, err = %v, want false", changed, err)
	}
	if _, changed, err = m.Occupy(ctx, r.ID, 200); !errors.Is(err, apperr.ErrRoomOccupied) || changed {
		t.Fatalf("other streamer changed = %v, err = %v, want ErrRoomOccupied", changed, err)
	}
}

func TestDeactivateNotifiesObservers(t *testing.T) {
	m, r := newMachine(t)
	ctx := context.Background()
	obs := &recordingObserver{}
	m.Observe(obs)

	if _, err := m.Deactivate(ctx, r.ID); err != nil {
		t.Fatalf("deactivate inactive: %v", err)
	}
	if len(obs.rooms) != 0 {
		t.Fatalf("observer called for inactive room")
	}
	if _, err := m.Activate(ctx, r.ID, 7); err != nil {
		t.Fatalf("activate: %v", err)
	}
	got, err := m.Deactivate(ctx, r.ID)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if got.Status != store.RoomInactive || got.OccupyingStreamer != nil {
		t.Fatalf("room = %+v, want inactive and empty", got)
	}
	if len(obs.streamers) != 1 || obs.streamers[0] != 7 {
		t.Fatalf("observer streamers = %v, want [7]", obs.streamers)
	}
}

func TestVacateOnlyClearsMatchingOccupant(t *testing.T) {
	m, r := newMachine(t)
	ctx := context.Background()
	_, _ = m.Activate(ctx, r.ID, 7)
	if got, _ := m.Vacate(ctx, r.ID, 8); got.Status != store.RoomActive {
		t.Fatalf("vacate by other streamer changed room: %+v", got)
	}
	if got, _ := m.Vacate(ctx, r.ID, 7); got.Status != store.RoomInactive {
		t.Fatalf("vacate by occupant left room %s", got.Status)
	}
}

func TestDeleteIsTerminal(t *testing.T) {
	m, r := newMachine(t)
	ctx := context.Background()
	_, _ = m.Activate(ctx, r.ID, 7)
	if _, err := m.Delete(ctx, r.ID); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("delete active err = %v, want ErrInvalidTransition", err)
	}
	_, _ = m.Deactivate(ctx, r.ID)
	if _, err := m.Delete(ctx, r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Activate(ctx, r.ID, 7); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Fatalf("activate deleted err = %v, want ErrInvalidTransition", err)
	}
	rooms, _ := m.List(ctx)
	if len(rooms) != 0 {
		t.Fatalf("list returned deleted room")
	}
}

func TestUpdateRateAndPin(t *testing.T) {
	m, r := newMachine(t)
	rate := decimal.RequireFromString("0.25")
	pinned := false
	got, err := m.Update(context.Background(), command.UpdatePyramidRoom{RoomID: r.ID, Rate: &rate, Pinned: &pinned})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.RatePerMinute.Equal(rate) || got.IsPinned {
		t.Fatalf("room = %+v", got)
	}
	if _, err := m.Create(context.Background(), 1, rate, false); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("duplicate position err = %v, want validation error", err)
	}
}
