package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"extendo/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ErrNoSnapshot is returned when no persisted snapshot exists for the key.
var ErrNoSnapshot = errors.New("no snapshot for player")

// SnapshotRepository persists one HistorySnapshot per player id. A replace
// happens inside a single transaction so readers never observe a snapshot
// with a truncated match list.
type SnapshotRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSnapshotRepository(sqlDB *sql.DB, logger zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:     sqlDB,
		logger: logger,
	}
}

func (r *SnapshotRepository) Get(ctx context.Context, playerID string) (*domain.HistorySnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT player_id, nickname, current_elo, level, country, avatar, fetched_at
		FROM snapshots WHERE player_id = ?`, playerID)
	return r.scanSnapshot(ctx, row)
}

// GetByNickname resolves a snapshot by the profile nickname, matched
// case-insensitively. Used as the cached side of nickname resolution.
func (r *SnapshotRepository) GetByNickname(ctx context.Context, nickname string) (*domain.HistorySnapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT player_id, nickname, current_elo, level, country, avatar, fetched_at
		FROM snapshots WHERE nickname_lower = ?`, strings.ToLower(nickname))
	return r.scanSnapshot(ctx, row)
}

func (r *SnapshotRepository) scanSnapshot(ctx context.Context, row *sql.Row) (*domain.HistorySnapshot, error) {
	snap := &domain.HistorySnapshot{}
	err := row.Scan(
		&snap.Profile.PlayerID,
		&snap.Profile.Nickname,
		&snap.Profile.CurrentElo,
		&snap.Profile.Level,
		&snap.Profile.Country,
		&snap.Profile.Avatar,
		&snap.FetchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT match_id, seq, played_at, map_name, won, kills, deaths, adr, elo_after
		FROM snapshot_matches WHERE player_id = ? ORDER BY seq ASC`, snap.Profile.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot matches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m domain.MatchRecord
		if err := rows.Scan(&m.MatchID, &m.Seq, &m.PlayedAt, &m.Map, &m.Won, &m.Kills, &m.Deaths, &m.ADR, &m.EloAfter); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot match: %w", err)
		}
		m.PlayedAt = m.PlayedAt.UTC()
		snap.Matches = append(snap.Matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshot matches: %w", err)
	}

	snap.FetchedAt = snap.FetchedAt.UTC()
	return snap, nil
}

// Replace stores the snapshot wholesale: the profile row is upserted and the
// entire match list rewritten in one transaction. Ordering (newest-first),
// match-id dedupe and fetched_at monotonicity are enforced here so every
// persisted snapshot satisfies the invariants regardless of caller.
func (r *SnapshotRepository) Replace(ctx context.Context, snap *domain.HistorySnapshot) error {
	normalizeMatches(snap)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	fetchedAt := snap.FetchedAt
	var prevFetchedAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT fetched_at FROM snapshots WHERE player_id = ?`, snap.Profile.PlayerID,
	).Scan(&prevFetchedAt)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read previous fetched_at: %w", err)
	}
	if err == nil && prevFetchedAt.After(fetchedAt) {
		fetchedAt = prevFetchedAt
	}
	snap.FetchedAt = fetchedAt.UTC()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (player_id, nickname, nickname_lower, current_elo, level, country, avatar, fetched_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (player_id) DO UPDATE SET
			nickname = excluded.nickname,
			nickname_lower = excluded.nickname_lower,
			current_elo = excluded.current_elo,
			level = excluded.level,
			country = excluded.country,
			avatar = excluded.avatar,
			fetched_at = excluded.fetched_at,
			updated_at = excluded.updated_at`,
		snap.Profile.PlayerID,
		snap.Profile.Nickname,
		strings.ToLower(snap.Profile.Nickname),
		snap.Profile.CurrentElo,
		snap.Profile.Level,
		snap.Profile.Country,
		snap.Profile.Avatar,
		snap.FetchedAt,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshot_matches WHERE player_id = ?`, snap.Profile.PlayerID); err != nil {
		return fmt.Errorf("failed to clear snapshot matches: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO snapshot_matches (id, player_id, match_id, seq, played_at, map_name, won, kills, deaths, adr, elo_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare match insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range snap.Matches {
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("failed to generate nanoid: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			id, snap.Profile.PlayerID, m.MatchID, m.Seq, m.PlayedAt.UTC(),
			m.Map, m.Won, m.Kills, m.Deaths, m.ADR, m.EloAfter,
		); err != nil {
			return fmt.Errorf("failed to insert match %s: %w", m.MatchID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot replace: %w", err)
	}

	r.logger.Debug().
		Str("player_id", snap.Profile.PlayerID).
		Int("matches", len(snap.Matches)).
		Time("fetched_at", snap.FetchedAt).
		Msg("snapshot replaced")
	return nil
}

func (r *SnapshotRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

// normalizeMatches sorts newest-first (stable, so fetch order breaks
// timestamp ties), drops duplicate match ids keeping the first occurrence,
// and reassigns sequence numbers.
func normalizeMatches(snap *domain.HistorySnapshot) {
	sort.SliceStable(snap.Matches, func(i, j int) bool {
		if !snap.Matches[i].PlayedAt.Equal(snap.Matches[j].PlayedAt) {
			return snap.Matches[i].PlayedAt.After(snap.Matches[j].PlayedAt)
		}
		return snap.Matches[i].Seq < snap.Matches[j].Seq
	})

	seen := make(map[string]struct{}, len(snap.Matches))
	deduped := snap.Matches[:0]
	for _, m := range snap.Matches {
		if _, dup := seen[m.MatchID]; dup {
			continue
		}
		seen[m.MatchID] = struct{}{}
		deduped = append(deduped, m)
	}
	snap.Matches = deduped
	for i := range snap.Matches {
		snap.Matches[i].Seq = i
	}
}
