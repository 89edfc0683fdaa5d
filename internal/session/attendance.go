package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stream-billing/internal/alert"
	"stream-billing/internal/apperr"
	"stream-billing/internal/billing"
	"stream-billing/internal/command"
	"stream-billing/internal/ledger"
	"stream-billing/internal/pricing"
	"stream-billing/internal/store"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Enter admits a viewer into a live session. One minute at the resolved rate
// is frozen up front; if that fails nothing is recorded. A viewer already
// inside gets the open attendance back.
func (m *Manager) Enter(ctx context.Context, cmd command.EnterSession) (store.Attendance, error) {
	if err := command.Validate(cmd); err != nil {
		return store.Attendance{}, err
	}
	unlock := m.sessionLocks.Lock(cmd.SessionID)
	defer unlock()

	sess, err := m.store.GetSession(ctx, cmd.SessionID)
	if err != nil {
		return store.Attendance{}, err
	}
	if sess.Status != store.SessionLive {
		return store.Attendance{}, apperr.Transition("session", string(sess.Status), "enter")
	}
	if cmd.ViewerID == sess.StreamerID {
		return store.Attendance{}, apperr.Invalid("viewer_id", "cannot attend own session")
	}
	if open, err := m.store.FindOpenAttendance(ctx, cmd.ViewerID, sess.ID); err == nil {
		return *open, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Attendance{}, err
	}

	quote, err := m.quote(ctx, *sess, cmd)
	if err != nil {
		return store.Attendance{}, err
	}
	now := m.now()
	a := store.Attendance{
		ID:             store.NewID(),
		SessionID:      sess.ID,
		ViewerID:       cmd.ViewerID,
		EnteredAt:      now,
		RatePerMinute:  quote.RatePerMinute,
		MaxMinutes:     quote.MaxMinutes,
		FlatPrice:      quote.Price,
		TotalCharged:   decimal.Zero,
		Held:           quote.RatePerMinute,
		SettledThrough: now,
		Status:         store.AttendanceActive,
	}
	ref := ledger.Ref{Type: "attendance", ID: a.ID}
	if _, err := m.wallets.Freeze(ctx, a.ViewerID, a.Held, ref); err != nil {
		return store.Attendance{}, err
	}
	if err := m.store.CreateAttendance(ctx, a); err != nil {
		if _, rErr := m.wallets.Release(ctx, a.ViewerID, a.Held, ref); rErr != nil {
			log.Error().Err(rErr).Str("attendance_id", a.ID).Msg("release entry hold")
		}
		return store.Attendance{}, err
	}
	log.Info().Str("attendance_id", a.ID).Str("session_id", a.SessionID).Int64("viewer_id", a.ViewerID).
		Str("rate", a.RatePerMinute.String()).Str("source", string(quote.Source)).Msg("viewer entered")
	return a, nil
}

func (m *Manager) quote(ctx context.Context, sess store.Session, cmd command.EnterSession) (pricing.Quote, error) {
	if sess.RoomType == store.RoomTypeCam2Cam {
		if cmd.DurationMinutes <= 0 {
			return pricing.Quote{}, apperr.Invalid("duration_minutes", "is required for cam2cam")
		}
		return m.pricer.Cam2Cam(ctx, sess.StreamerID, cmd.ViewerID, cmd.DurationMinutes)
	}
	if sess.RoomID == nil {
		return pricing.Quote{}, fmt.Errorf("%w: pyramid session %s has no room", apperr.ErrInvalidTransition, sess.ID)
	}
	r, err := m.rooms.Get(ctx, *sess.RoomID)
	if err != nil {
		return pricing.Quote{}, err
	}
	return m.pricer.Pyramid(ctx, r, cmd.ViewerID)
}

// Exit closes an attendance the viewer left. Exiting twice returns the same
// closed record.
func (m *Manager) Exit(ctx context.Context, attendanceID string) (store.Attendance, error) {
	a, _, err := m.exit(ctx, attendanceID, m.now(), store.ExitNormal, ReasonLeft)
	return a, err
}

// Kick force-closes an attendance on an operator's request.
func (m *Manager) Kick(ctx context.Context, attendanceID, reason string) (store.Attendance, error) {
	if reason == "" {
		reason = "kicked"
	}
	a, closed, err := m.exit(ctx, attendanceID, m.now(), store.ExitForced, reason)
	if err != nil {
		return a, err
	}
	if closed {
		m.notify(alert.Event{
			Kind:  alert.KindForcedExit,
			Title: "Viewer removed from session",
			Key:   a.ID,
			Fields: []alert.Field{
				{Name: "attendance", Value: a.ID},
				{Name: "session", Value: a.SessionID},
				{Name: "viewer", Value: fmt.Sprint(a.ViewerID)},
				{Name: "reason", Value: reason},
			},
			At: m.now(),
		})
	}
	return a, nil
}

func (m *Manager) GetAttendance(ctx context.Context, id string) (store.Attendance, error) {
	a, err := m.store.GetAttendance(ctx, id)
	if err != nil {
		return store.Attendance{}, err
	}
	return *a, nil
}

func (m *Manager) markClosing(id string) func() {
	m.closingMu.Lock()
	m.closing[id]++
	m.closingMu.Unlock()
	return func() {
		m.closingMu.Lock()
		if m.closing[id]--; m.closing[id] <= 0 {
			delete(m.closing, id)
		}
		m.closingMu.Unlock()
	}
}

func (m *Manager) isClosing(id string) bool {
	m.closingMu.Lock()
	defer m.closingMu.Unlock()
	return m.closing[id] > 0
}

// exit is the single close path. It announces itself before taking the
// attendance lock so a tick that has not started yet backs off. The bool
// reports whether this call closed the attendance.
func (m *Manager) exit(ctx context.Context, id string, at time.Time, kind store.ExitKind, reason string) (store.Attendance, bool, error) {
	done := m.markClosing(id)
	defer done()
	unlock := m.attendanceLocks.Lock(id)
	defer unlock()

	a, err := m.store.GetAttendance(ctx, id)
	if err != nil {
		return store.Attendance{}, false, err
	}
	if a.Status == store.AttendanceExited {
		return *a, false, nil
	}
	return m.finalize(ctx, *a, at, kind, reason)
}

// finalize settles and closes a, reporting whether this call closed it.
// Callers hold the attendance lock. A
// transient ledger failure keeps the attendance open with its progress saved
// so the close can be retried; a halted wallet closes it with what was
// settled.
func (m *Manager) finalize(ctx context.Context, a store.Attendance, at time.Time, kind store.ExitKind, reason string) (store.Attendance, bool, error) {
	settled, err := m.meter.Finalize(ctx, a, at)
	if err != nil {
		if !apperr.IsFatal(err) && !errors.Is(err, apperr.ErrWalletHalted) {
			if _, sErr := m.store.SaveAttendanceProgress(ctx, settled); sErr != nil {
				log.Error().Err(sErr).Str("attendance_id", a.ID).Msg("save progress after failed settlement")
			}
			return settled, false, err
		}
		log.Error().Err(err).Str("attendance_id", a.ID).Str("held", settled.Held.String()).
			Msg("settlement stopped by wallet halt, closing with partial settlement")
	}
	settled.Status = store.AttendanceExited
	settled.ExitedAt = &at
	settled.ExitKind = kind
	settled.ExitReason = reason
	closed, err := m.store.CloseAttendance(ctx, settled)
	if err != nil {
		return settled, false, err
	}
	if !closed {
		cur, err := m.store.GetAttendance(ctx, a.ID)
		if err != nil {
			return store.Attendance{}, false, err
		}
		return *cur, false, nil
	}
	if _, err := m.store.RecomputeSessionEarnings(ctx, a.SessionID); err != nil {
		log.Error().Err(err).Str("session_id", a.SessionID).Msg("recompute session earnings")
	}

	switch kind {
	case store.ExitForced, store.ExitSessionEnded:
		billing.MetricForcedExitsTotal.Add(1)
	case store.ExitInsufficientCredits:
		billing.MetricInsufficientExitsTotal.Add(1)
	}
	ev := log.Info()
	if kind == store.ExitForced || kind == store.ExitInsufficientCredits {
		ev = log.Warn()
	}
	ev.Str("attendance_id", a.ID).Str("kind", string(kind)).Str("reason", reason).
		Int64("minutes", settled.TotalMinutes).Str("charged", settled.TotalCharged.String()).Msg("attendance closed")
	return settled, true, nil
}

// OpenAttendanceIDs lists every attendance the clock must meter.
func (m *Manager) OpenAttendanceIDs(ctx context.Context) ([]string, error) {
	open, err := m.store.ListOpenAttendances(ctx, "")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(open))
	for _, a := range open {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// MeterAttendance bills the minutes completed since the last tick. It skips
// attendances that are being closed; the close settles them instead. An
// attendance whose session has already ended is closed as of the end time.
func (m *Manager) MeterAttendance(ctx context.Context, id string) error {
	if m.isClosing(id) {
		return nil
	}
	unlock, ok := m.attendanceLocks.TryLock(id)
	if !ok {
		return nil
	}
	defer unlock()

	a, err := m.store.GetAttendance(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != store.AttendanceActive {
		return nil
	}
	sess, err := m.store.GetSession(ctx, a.SessionID)
	if err != nil {
		return err
	}
	if sess.Status == store.SessionEnded {
		at := m.now()
		if sess.EndedAt != nil {
			at = *sess.EndedAt
		}
		log.Warn().Str("attendance_id", id).Str("session_id", sess.ID).Msg("open attendance in ended session, closing")
		_, _, err := m.finalize(ctx, *a, at, store.ExitSessionEnded, ReasonSessionEnded)
		return err
	}
	now := m.now()
	res, err := m.meter.Tick(ctx, *a, now)
	if err != nil {
		if apperr.IsFatal(err) || errors.Is(err, apperr.ErrWalletHalted) {
			_, _, fErr := m.finalize(ctx, res.Attendance, now, store.ExitForced, ReasonLedgerHalted)
			return errors.Join(err, fErr)
		}
		if _, sErr := m.store.SaveAttendanceProgress(ctx, res.Attendance); sErr != nil {
			log.Error().Err(sErr).Str("attendance_id", id).Msg("save progress after failed tick")
		}
		return err
	}
	if res.Insufficient {
		_, _, err := m.finalize(ctx, res.Attendance, now, store.ExitInsufficientCredits, ReasonInsufficient)
		return err
	}
	if res.Minutes == 0 {
		return nil
	}
	billing.MetricMinutesCapturedTotal.Add(res.Minutes)
	if billing.DurationReached(res.Attendance) {
		_, _, err := m.finalize(ctx, res.Attendance, now, store.ExitNormal, ReasonDurationElapsed)
		return err
	}
	if _, err := m.store.SaveAttendanceProgress(ctx, res.Attendance); err != nil {
		return fmt.Errorf("save attendance progress: %w", err)
	}
	return nil
}
