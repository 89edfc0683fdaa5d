package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Metered is the set of attendances the clock drives.
type Metered interface {
	OpenAttendanceIDs(ctx context.Context) ([]string, error)
	MeterAttendance(ctx context.Context, attendanceID string) error
}

type Clock struct {
	target   Metered
	interval time.Duration
	workers  int
}

func NewClock(target Metered, interval time.Duration, workers int) *Clock {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if workers <= 0 {
		workers = 8
	}
	return &Clock{target: target, interval: interval, workers: workers}
}

// Start runs a pass every interval until ctx is done.
func (c *Clock) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.RunOnce(ctx); err != nil {
					log.Error().Err(err).Msg("billing pass failed")
				}
			}
		}
	}()
}

// RunOnce meters every open attendance with at most workers in flight. A
// failing attendance is logged and does not stop the others.
func (c *Clock) RunOnce(ctx context.Context) error {
	start := time.Now()
	ids, err := c.target.OpenAttendanceIDs(ctx)
	if err != nil {
		return err
	}
	metricOpenAttendances.Set(int64(len(ids)))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for _, id := range ids {
		g.Go(func() error {
			if err := c.target.MeterAttendance(ctx, id); err != nil {
				metricTickErrorsTotal.Add(1)
				log.Error().Err(err).Str("attendance_id", id).Msg("metering failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	metricTickTotal.Add(1)
	metricTickDurationMS.Set(time.Since(start).Milliseconds())
	return nil
}
