package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"extendo/internal/constants"
	"extendo/internal/domain"
	"extendo/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Upstream is the subset of the FACEIT client the store needs.
type Upstream interface {
	ResolvePlayer(ctx context.Context, nickname string) (*domain.PlayerProfile, error)
	FetchProfile(ctx context.Context, playerID string) (*domain.PlayerProfile, error)
	FetchHistory(ctx context.Context, playerID string) ([]domain.MatchRecord, error)
}

// HistoryStore serves per-player HistorySnapshots, refreshing from upstream
// when the persisted snapshot is older than the caller's max age. Concurrent
// refreshes for the same player id collapse into a single upstream fetch,
// and a failed refresh falls back to the stale snapshot when one exists.
type HistoryStore struct {
	repo   *repository.SnapshotRepository
	client Upstream
	logger zerolog.Logger
	group  singleflight.Group
	now    func() time.Time
}

func NewHistoryStore(repo *repository.SnapshotRepository, client Upstream, logger zerolog.Logger) *HistoryStore {
	s := &HistoryStore{
		repo:   repo,
		client: client,
		logger: logger,
		now:    time.Now,
	}

	if n, err := repo.Count(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("failed to count persisted snapshots")
	} else {
		logger.Info().Int("snapshots", n).Msg("history store loaded")
	}
	return s
}

// GetOrRefresh returns the snapshot for playerID, contacting upstream only
// when no persisted snapshot is younger than maxAge.
func (s *HistoryStore) GetOrRefresh(ctx context.Context, playerID string, maxAge time.Duration) (*domain.HistorySnapshot, error) {
	stale, err := s.repo.Get(ctx, playerID)
	if err != nil && !errors.Is(err, repository.ErrNoSnapshot) {
		return nil, err
	}
	if stale != nil && s.now().Sub(stale.FetchedAt) <= maxAge {
		s.logger.Debug().
			Str("player_id", playerID).
			Time("fetched_at", stale.FetchedAt).
			Msg("returning fresh snapshot")
		return stale, nil
	}

	fresh, err, shared := s.group.Do(playerID, func() (any, error) {
		return s.refresh(ctx, playerID)
	})
	if err != nil {
		if stale != nil {
			s.logger.Warn().
				Err(err).
				Str("player_id", playerID).
				Time("fetched_at", stale.FetchedAt).
				Msg("refresh failed, serving stale snapshot")
			return stale, nil
		}
		return nil, err
	}

	if shared {
		s.logger.Debug().Str("player_id", playerID).Msg("refresh deduplicated with in-flight fetch")
	}
	return fresh.(*domain.HistorySnapshot), nil
}

// ResolveNickname maps a nickname to a player id, preferring the persisted
// profile (even a stale one, player ids are stable) over an upstream call.
func (s *HistoryStore) ResolveNickname(ctx context.Context, nickname string) (string, error) {
	snap, err := s.repo.GetByNickname(ctx, nickname)
	if err == nil {
		return snap.Profile.PlayerID, nil
	}
	if !errors.Is(err, repository.ErrNoSnapshot) {
		return "", err
	}

	apiCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	profile, err := s.client.ResolvePlayer(apiCtx, nickname)
	if err != nil {
		return "", fmt.Errorf("failed to resolve nickname %q: %w", nickname, err)
	}
	return profile.PlayerID, nil
}

func (s *HistoryStore) refresh(ctx context.Context, playerID string) (*domain.HistorySnapshot, error) {
	apiCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(apiCtx)
	var profile *domain.PlayerProfile
	var matches []domain.MatchRecord

	g.Go(func() error {
		var err error
		profile, err = s.client.FetchProfile(gCtx, playerID)
		return err
	})
	g.Go(func() error {
		var err error
		matches, err = s.client.FetchHistory(gCtx, playerID)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to refresh player %s: %w", playerID, err)
	}

	snap := &domain.HistorySnapshot{
		Profile:   *profile,
		Matches:   matches,
		FetchedAt: s.now().UTC(),
	}
	if err := s.repo.Replace(ctx, snap); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("player_id", playerID).
		Int("matches", len(snap.Matches)).
		Msg("snapshot refreshed from upstream")
	return snap, nil
}
