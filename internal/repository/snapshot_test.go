package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"extendo/internal/database"
	"extendo/internal/domain"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func openTestRepo(t *testing.T) *SnapshotRepository {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	// A pooled second connection would see a different :memory: database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := database.RunMigrations(db, zerolog.Nop()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	return NewSnapshotRepository(db, zerolog.Nop())
}

func testSnapshot(playerID string, fetchedAt time.Time, matches ...domain.MatchRecord) *domain.HistorySnapshot {
	return &domain.HistorySnapshot{
		Profile: domain.PlayerProfile{
			PlayerID:   playerID,
			Nickname:   "TestPlayer",
			CurrentElo: 2100,
			Level:      9,
			Country:    "SE",
			Avatar:     "https://example.com/a.jpg",
		},
		Matches:   matches,
		FetchedAt: fetchedAt,
	}
}

func match(id string, playedAt time.Time) domain.MatchRecord {
	return domain.MatchRecord{
		MatchID:  id,
		PlayedAt: playedAt,
		Map:      "de_mirage",
		Won:      true,
		Kills:    21,
		Deaths:   14,
		ADR:      88.5,
		EloAfter: 2050,
	}
}

func TestReplaceAndGetRoundtrip(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	snap := testSnapshot("p1", base,
		match("m1", base.Add(-1*time.Hour)),
		match("m2", base.Add(-2*time.Hour)),
	)

	if err := repo.Replace(ctx, snap); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := repo.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Profile != snap.Profile {
		t.Errorf("profile = %+v, want %+v", got.Profile, snap.Profile)
	}
	if len(got.Matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(got.Matches))
	}
	if got.Matches[0].MatchID != "m1" || got.Matches[1].MatchID != "m2" {
		t.Errorf("match order = %s, %s, want m1, m2", got.Matches[0].MatchID, got.Matches[1].MatchID)
	}
	if !got.FetchedAt.Equal(base) {
		t.Errorf("fetched_at = %v, want %v", got.FetchedAt, base)
	}
	if got.Matches[0].ADR != 88.5 {
		t.Errorf("adr = %v, want 88.5", got.Matches[0].ADR)
	}
}

func TestGetMissingReturnsErrNoSnapshot(t *testing.T) {
	repo := openTestRepo(t)

	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Get missing = %v, want ErrNoSnapshot", err)
	}
	if _, err := repo.GetByNickname(context.Background(), "nope"); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("GetByNickname missing = %v, want ErrNoSnapshot", err)
	}
}

func TestReplaceNormalizesOrderingAndDuplicates(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	// Oldest-first input with a duplicate id: Replace must store
	// newest-first, dedupe, and reassign sequence numbers.
	snap := testSnapshot("p1", base,
		match("old", base.Add(-3*time.Hour)),
		match("mid", base.Add(-2*time.Hour)),
		match("new", base.Add(-1*time.Hour)),
		match("mid", base.Add(-2*time.Hour)),
	)

	if err := repo.Replace(ctx, snap); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := repo.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Matches) != 3 {
		t.Fatalf("got %d matches, want 3 after dedupe", len(got.Matches))
	}
	wantOrder := []string{"new", "mid", "old"}
	for i, want := range wantOrder {
		if got.Matches[i].MatchID != want {
			t.Errorf("match[%d] = %s, want %s", i, got.Matches[i].MatchID, want)
		}
		if got.Matches[i].Seq != i {
			t.Errorf("match[%d].Seq = %d, want %d", i, got.Matches[i].Seq, i)
		}
	}
}

func TestReplaceIsWholesale(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	first := testSnapshot("p1", base,
		match("a", base.Add(-1*time.Hour)),
		match("b", base.Add(-2*time.Hour)),
	)
	if err := repo.Replace(ctx, first); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	second := testSnapshot("p1", base.Add(time.Hour), match("c", base))
	if err := repo.Replace(ctx, second); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := repo.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Matches) != 1 || got.Matches[0].MatchID != "c" {
		t.Errorf("matches after wholesale replace = %+v, want only c", got.Matches)
	}
}

func TestFetchedAtNeverDecreases(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	newer := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-1 * time.Hour)

	if err := repo.Replace(ctx, testSnapshot("p1", newer)); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := repo.Replace(ctx, testSnapshot("p1", older)); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := repo.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FetchedAt.Before(newer) {
		t.Errorf("fetched_at = %v, decreased below %v", got.FetchedAt, newer)
	}
}

func TestGetByNicknameCaseInsensitive(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	snap := testSnapshot("p1", time.Now().UTC())
	if err := repo.Replace(ctx, snap); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := repo.GetByNickname(ctx, "tEsTpLaYeR")
	if err != nil {
		t.Fatalf("GetByNickname: %v", err)
	}
	if got.Profile.PlayerID != "p1" {
		t.Errorf("resolved player = %s, want p1", got.Profile.PlayerID)
	}
}

func TestCount(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		snap := testSnapshot(fmt.Sprintf("p%d", i), time.Now().UTC())
		snap.Profile.Nickname = fmt.Sprintf("player%d", i)
		if err := repo.Replace(ctx, snap); err != nil {
			t.Fatalf("Replace: %v", err)
		}
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}
