package ratelimit

import (
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v2"
)

type Sweepable interface {
	Sweep(now time.Time) int
}

// Sweeper periodically removes expired entries from a Sweepable store.
type Sweeper struct {
	t tomb.Tomb
}

func StartSweeper(store Sweepable, interval time.Duration, log zerolog.Logger) *Sweeper {
	s := &Sweeper{}
	s.t.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.t.Dying():
				return nil
			case now := <-ticker.C:
				if n := store.Sweep(now); n > 0 {
					log.Debug().Int("removed", n).Msg("swept expired entries")
				}
			}
		}
	})
	return s
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() error {
	s.t.Kill(nil)
	return s.t.Wait()
}
