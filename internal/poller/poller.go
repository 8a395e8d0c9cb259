package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"extendo/internal/constants"
	"extendo/internal/domain"
	"extendo/internal/upstream"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

// State of one polling run.
type State int

const (
	StatePolling State = iota
	StateSucceeded
	StateCancelled
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "POLLING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateCancelled:
		return "CANCELLED"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// RosterFetcher is the roster endpoint the poller drives.
type RosterFetcher interface {
	FetchMatchRoster(ctx context.Context, matchID string) (*domain.Roster, error)
}

type Options struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Budget       time.Duration
}

func DefaultOptions() Options {
	return Options{
		InitialDelay: constants.PollerInitialDelay,
		MaxDelay:     constants.PollerMaxDelay,
		Budget:       constants.PollerBudget,
	}
}

type Result struct {
	State    State
	Roster   *domain.Roster
	Err      error
	Attempts int
}

// Poller polls a roster endpoint with bounded exponential backoff until the
// roster appears, a non-retryable error occurs, the time budget runs out,
// or the run is superseded.
//
// Cancellation is cooperative: every Poll call takes the next value of a
// monotonically increasing run id, and a run compares its captured id
// against the current one before each side effect. A superseded run makes
// no further attempts and its result is discarded by construction.
type Poller struct {
	fetcher RosterFetcher
	opts    Options
	logger  zerolog.Logger

	run atomic.Uint64

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(fetcher RosterFetcher, opts Options, logger zerolog.Logger) *Poller {
	return &Poller{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Cancel supersedes any run currently in flight without starting a new one.
func (p *Poller) Cancel() {
	p.run.Add(1)
}

// Poll runs one polling sequence for matchID. Starting a new Poll (or
// calling Cancel) supersedes any earlier run still in flight.
func (p *Poller) Poll(ctx context.Context, matchID string) Result {
	runID := p.run.Add(1)
	backoff := retry.WithCappedDuration(p.opts.MaxDelay, retry.NewExponential(p.opts.InitialDelay))
	start := p.now()
	attempts := 0

	for {
		if p.superseded(runID) {
			return Result{State: StateCancelled, Attempts: attempts}
		}
		if p.now().Sub(start) > p.opts.Budget {
			p.logger.Warn().Str("match_id", matchID).Int("attempts", attempts).Msg("roster polling timed out")
			return Result{State: StateTimedOut, Attempts: attempts}
		}

		attempts++
		roster, err := p.fetcher.FetchMatchRoster(ctx, matchID)

		if p.superseded(runID) {
			return Result{State: StateCancelled, Attempts: attempts}
		}

		switch {
		case err == nil && len(roster.Nicknames) > 0:
			p.logger.Info().
				Str("match_id", matchID).
				Int("attempts", attempts).
				Int("players", len(roster.Nicknames)).
				Msg("roster resolved")
			return Result{State: StateSucceeded, Roster: roster, Attempts: attempts}

		case err == nil:
			// Well-formed but empty roster: the room exists and is still
			// filling up, keep polling.

		case errors.Is(err, upstream.ErrAuth):
			p.logger.Error().Err(err).Str("match_id", matchID).Msg("roster polling failed: bad credentials")
			return Result{State: StateFailed, Err: err, Attempts: attempts}

		case !upstream.Retryable(err):
			p.logger.Error().Err(err).Str("match_id", matchID).Msg("roster polling failed")
			return Result{State: StateFailed, Err: err, Attempts: attempts}

		default:
			p.logger.Debug().Err(err).Str("match_id", matchID).Int("attempt", attempts).Msg("roster not available yet")
		}

		delay, _ := backoff.Next()
		if err := p.sleep(ctx, delay); err != nil {
			return Result{State: StateCancelled, Err: err, Attempts: attempts}
		}
	}
}

func (p *Poller) superseded(runID uint64) bool {
	return p.run.Load() != runID
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
