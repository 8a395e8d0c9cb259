package service

import (
	"context"
	"errors"
	"time"

	"extendo/internal/aggregator"
	"extendo/internal/constants"
	"extendo/internal/domain"
	"extendo/internal/store"
	"extendo/internal/upstream"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// batchConcurrency bounds per-nickname parallelism inside one request so a
// full lobby doesn't burst ten upstream calls at once.
const batchConcurrency = 5

// SnapshotSource is what the service needs from the history store.
type SnapshotSource interface {
	ResolveNickname(ctx context.Context, nickname string) (string, error)
	GetOrRefresh(ctx context.Context, playerID string, maxAge time.Duration) (*domain.HistorySnapshot, error)
}

// PlayerStats is one successful batch entry: the profile the stats were
// derived from plus the derived metrics themselves.
type PlayerStats struct {
	Profile domain.PlayerProfile
	Derived domain.DerivedStats
}

// PlayerResult is one batch entry. Exactly one of Stats / Error is set.
type PlayerResult struct {
	Nickname string
	Stats    *PlayerStats
	Error    string
}

type StatsService struct {
	snapshots SnapshotSource
	logger    zerolog.Logger
}

func NewStatsService(snapshots *store.HistoryStore, logger zerolog.Logger) *StatsService {
	return newStatsService(snapshots, logger)
}

func newStatsService(snapshots SnapshotSource, logger zerolog.Logger) *StatsService {
	return &StatsService{snapshots: snapshots, logger: logger}
}

// GetStats produces one result per requested nickname, in request order.
// Each nickname is processed independently: a resolution or refresh failure
// becomes that entry's error and never aborts the rest of the batch.
func (s *StatsService) GetStats(ctx context.Context, nicknames []string, maxAge time.Duration) []PlayerResult {
	ctx, cancel := context.WithTimeout(ctx, constants.RequestTimeout)
	defer cancel()

	s.logger.Info().Int("players", len(nicknames)).Msg("getting lobby stats")

	results := make([]PlayerResult, len(nicknames))

	g := new(errgroup.Group)
	g.SetLimit(batchConcurrency)
	for i, nickname := range nicknames {
		i, nickname := i, nickname
		g.Go(func() error {
			results[i] = s.getOne(ctx, nickname, maxAge)
			return nil
		})
	}
	g.Wait()

	return results
}

func (s *StatsService) getOne(ctx context.Context, nickname string, maxAge time.Duration) PlayerResult {
	playerID, err := s.snapshots.ResolveNickname(ctx, nickname)
	if err != nil {
		s.logger.Warn().Err(err).Str("nickname", nickname).Msg("failed to resolve nickname")
		return PlayerResult{Nickname: nickname, Error: causeString(err)}
	}

	snap, err := s.snapshots.GetOrRefresh(ctx, playerID, maxAge)
	if err != nil {
		s.logger.Warn().Err(err).Str("nickname", nickname).Str("player_id", playerID).Msg("failed to get history")
		return PlayerResult{Nickname: nickname, Error: causeString(err)}
	}

	derived := aggregator.Compute(snap, aggregator.DefaultOptions())
	return PlayerResult{
		Nickname: nickname,
		Stats: &PlayerStats{
			Profile: snap.Profile,
			Derived: derived,
		},
	}
}

// causeString maps an error chain onto the short human-readable cause the
// batch response carries. Raw error payloads never reach the client.
func causeString(err error) string {
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		return "player not found"
	case errors.Is(err, upstream.ErrRateLimited):
		return "rate limited by stats provider"
	case errors.Is(err, upstream.ErrAuth):
		return "stats provider rejected our credentials"
	case errors.Is(err, upstream.ErrMalformedResponse):
		return "stats provider returned unusable data"
	case errors.Is(err, upstream.ErrTransport), errors.Is(err, upstream.ErrUnavailable):
		return "stats provider unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out fetching stats"
	default:
		return "failed to fetch stats"
	}
}
