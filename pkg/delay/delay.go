// Package delay provides the randomized pauses used between actions, modules and accounts.
package delay

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Range struct {
	Min time.Duration
	Max time.Duration
}

func NewRange(min, max time.Duration) (Range, error) {
	if min < 0 || max < min {
		return Range{}, fmt.Errorf("delay: invalid range [%s, %s]", min, max)
	}
	return Range{Min: min, Max: max}, nil
}

// Pick returns a uniformly distributed duration in [Min, Max].
func (r Range) Pick() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int63n(int64(r.Max-r.Min)+1))
}

// Wait sleeps for a random duration from r using sleep, or Sleep when sleep is nil.
func (r Range) Wait(ctx context.Context, sleep Sleeper) error {
	if sleep == nil {
		sleep = Sleep
	}
	d := r.Pick()
	if d <= 0 {
		return nil
	}
	log.Debug().Dur("delay", d).Msgf("Waiting %s", d.Round(time.Second))
	return sleep(ctx, d)
}

func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep returns immediately unless ctx is already done.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
