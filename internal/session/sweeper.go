package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsboard/opsboard/internal/logging"
)

// IdleRemover deletes entries last seen before cutoff and returns their IDs.
type IdleRemover interface {
	RemoveIdle(cutoff time.Time) []string
}

// Sweeper periodically removes sessions that have been idle longer than the
// configured timeout.
type Sweeper struct {
	registry IdleRemover
	idle     time.Duration
	interval time.Duration
	onExpire func(id string)
	now      func() time.Time
	log      zerolog.Logger
}

// NewSweeper returns a sweeper over registry. onExpire is called once per
// removed session, after it has left the registry.
func NewSweeper(registry IdleRemover, idle, interval time.Duration, onExpire func(id string)) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		registry: registry,
		idle:     idle,
		interval: interval,
		onExpire: onExpire,
		now:      time.Now,
		log:      logging.Component("sweeper"),
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	if s.idle <= 0 {
		s.log.Info().Msg("idle timeout disabled, sweeper not running")
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one pass and returns the IDs it removed.
func (s *Sweeper) Sweep() []string {
	removed := s.registry.RemoveIdle(s.now().Add(-s.idle))
	for _, id := range removed {
		if s.onExpire != nil {
			s.onExpire(id)
		}
	}
	if len(removed) > 0 {
		s.log.Info().Int("count", len(removed)).Msg("expired idle sessions")
	}
	return removed
}
