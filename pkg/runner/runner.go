// Package runner walks the account list sequentially, processing and recording each account.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bridge-runner/pkg/accounts"
	"bridge-runner/pkg/delay"
	"bridge-runner/pkg/metrics"
	"bridge-runner/pkg/transfer"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrPanic = errors.New("runner: account processing panicked")

type Processor interface {
	Process(ctx context.Context, acct accounts.Account) (transfer.State, error)
}

type Recorder interface {
	Record(acct accounts.Account, outcome accounts.Outcome) error
}

type Source interface {
	Next() (accounts.Account, bool)
	Len() int
}

type Options struct {
	AccountDelay delay.Range
	Sleep        delay.Sleeper
	Reporter     metrics.Reporter
	// RunID tags every log line of the run. A random UUID is used when empty.
	RunID string
}

type Summary struct {
	RunID       string
	Completed   int
	Uncompleted int
}

type Runner struct {
	source    Source
	processor Processor
	recorder  Recorder
	opts      Options
	now       func() time.Time
}

func NewRunner(source Source, processor Processor, recorder Recorder, opts Options) *Runner {
	if opts.Sleep == nil {
		opts.Sleep = delay.Sleep
	}
	if opts.Reporter == nil {
		opts.Reporter = metrics.Nop{}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Runner{source: source, processor: processor, recorder: recorder, opts: opts, now: time.Now}
}

func (r *Runner) RunID() string { return r.opts.RunID }

// Run processes accounts until the source is exhausted or ctx is done. A failing account never
// stops the run; its key is recorded as uncompleted and the next account follows after the
// account delay.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: r.opts.RunID}
	total := r.source.Len()
	runLog := log.With().Str("run_id", r.opts.RunID).Logger()
	runLog.Info().Msgf("Starting run over %d accounts", total)

	for idx := 1; ; idx++ {
		acct, ok := r.source.Next()
		if !ok {
			break
		}
		acctLog := runLog.With().Str("address", acct.Address.Hex()).Logger()
		acctLog.Info().Msgf("Start [%d/%d]", idx, total)

		started := r.now()
		state, err := r.processSafely(ctx, acct)

		outcome := accounts.Completed
		if err != nil || state != transfer.Done {
			outcome = accounts.Uncompleted
			acctLog.Error().Err(err).Str("state", state.String()).Msgf("Account failed [%d/%d]", idx, total)
			summary.Uncompleted++
		} else {
			acctLog.Info().Str("status", "success").Msgf("Ended [%d/%d]", idx, total)
			summary.Completed++
		}
		if err := r.recorder.Record(acct, outcome); err != nil {
			acctLog.Error().Err(err).Msg("Failed to record account outcome")
		}
		r.opts.Reporter.AccountOutcome(ctx, acct.Address, outcome, r.now().Sub(started))

		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if idx >= total {
			break
		}
		acctLog.Info().Msg("Waiting for the next account")
		if err := r.opts.AccountDelay.Wait(ctx, r.opts.Sleep); err != nil {
			return summary, err
		}
	}

	runLog.Info().Msgf("All accounts processed: %d completed, %d uncompleted", summary.Completed, summary.Uncompleted)
	return summary, nil
}

func (r *Runner) processSafely(ctx context.Context, acct accounts.Account) (state transfer.State, err error) {
	defer func() {
		if p := recover(); p != nil {
			state = transfer.Failed
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return r.processor.Process(ctx, acct)
}
