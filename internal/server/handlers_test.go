package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"extendo/internal/config"
	"extendo/internal/database"
	"extendo/internal/domain"
	"extendo/internal/repository"
	"extendo/internal/service"
	"extendo/internal/store"
	"extendo/internal/upstream"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type fakeUpstream struct {
	profiles map[string]*domain.PlayerProfile
	history  map[string][]domain.MatchRecord
}

func (f *fakeUpstream) ResolvePlayer(ctx context.Context, nickname string) (*domain.PlayerProfile, error) {
	for _, p := range f.profiles {
		if p.Nickname == nickname {
			return p, nil
		}
	}
	return nil, fmt.Errorf("player %q: %w", nickname, upstream.ErrNotFound)
}

func (f *fakeUpstream) FetchProfile(ctx context.Context, playerID string) (*domain.PlayerProfile, error) {
	if p, ok := f.profiles[playerID]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("player %q: %w", playerID, upstream.ErrNotFound)
}

func (f *fakeUpstream) FetchHistory(ctx context.Context, playerID string) ([]domain.MatchRecord, error) {
	return f.history[playerID], nil
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := database.RunMigrations(db, zerolog.Nop()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	now := time.Now().UTC()
	history := make([]domain.MatchRecord, 15)
	for i := range history {
		history[i] = domain.MatchRecord{
			MatchID:  fmt.Sprintf("m-%d", i),
			PlayedAt: now.Add(-time.Duration(i+1) * time.Hour),
			Map:      "de_mirage",
			Won:      i%3 == 0,
			ADR:      82.5,
			EloAfter: 2000 - i,
		}
	}
	fake := &fakeUpstream{
		profiles: map[string]*domain.PlayerProfile{
			"p1": {PlayerID: "p1", Nickname: "s1mple", CurrentElo: 3200, Level: 10, Country: "UA"},
		},
		history: map[string][]domain.MatchRecord{"p1": history},
	}

	repo := repository.NewSnapshotRepository(db, zerolog.Nop())
	histStore := store.NewHistoryStore(repo, fake, zerolog.Nop())
	statsSvc := service.NewStatsService(histStore, zerolog.Nop())

	cfg := &config.Config{SnapshotTTL: time.Hour}
	srv := NewServer(statsSvc, nil, cfg, zerolog.Nop())

	router := mux.NewRouter()
	srv.Routes(router)
	return router
}

func postPlayers(t *testing.T, router *mux.Router, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/players", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPlayersEndpointMixedBatch(t *testing.T) {
	router := newTestRouter(t)

	rec := postPlayers(t, router, `{"nicknames":["s1mple","unknown_player"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var payload []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload) != 2 {
		t.Fatalf("got %d entries, want 2", len(payload))
	}

	first := payload[0]
	if first["nickname"] != "s1mple" || first["player_id"] != "p1" {
		t.Errorf("first entry = %v, want s1mple/p1", first)
	}
	if first["elo"] != float64(3200) {
		t.Errorf("elo = %v, want 3200", first["elo"])
	}
	if first["adr_last_10"] != 82.5 {
		t.Errorf("adr_last_10 = %v, want 82.5", first["adr_last_10"])
	}
	if _, hasErr := first["error"]; hasErr {
		t.Errorf("first entry unexpectedly failed: %v", first["error"])
	}
	// 15 matches: the 30-game window must be null, not absent.
	if v, present := first["adr_last_30"]; !present || v != nil {
		t.Errorf("adr_last_30 = %v (present=%v), want explicit null", v, present)
	}

	second := payload[1]
	if second["nickname"] != "unknown_player" {
		t.Errorf("second entry nickname = %v, want unknown_player", second["nickname"])
	}
	if second["error"] != "player not found" {
		t.Errorf("second entry error = %v, want player not found", second["error"])
	}
}

func TestPlayersEndpointEmptyBody(t *testing.T) {
	router := newTestRouter(t)

	if rec := postPlayers(t, router, `{"nicknames":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty nicknames status = %d, want 400", rec.Code)
	}
	if rec := postPlayers(t, router, `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("garbage body status = %d, want 400", rec.Code)
	}
}

func TestPlayersEndpointCapsBatch(t *testing.T) {
	router := newTestRouter(t)

	nicknames := make([]string, 14)
	for i := range nicknames {
		nicknames[i] = fmt.Sprintf("player%d", i)
	}
	body, _ := json.Marshal(map[string]any{"nicknames": nicknames})

	rec := postPlayers(t, router, string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload) != 10 {
		t.Errorf("got %d entries, want batch capped at 10", len(payload))
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["status"] != "ok" {
		t.Errorf("status field = %q, want ok", payload["status"])
	}
}

func TestStatusForUpstreamError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{upstream.ErrNotFound, http.StatusNotFound},
		{upstream.ErrBadRequest, http.StatusBadRequest},
		{upstream.ErrAuth, http.StatusUnauthorized},
		{upstream.ErrRateLimited, http.StatusServiceUnavailable},
		{upstream.ErrUnavailable, http.StatusServiceUnavailable},
		{upstream.ErrTransport, http.StatusServiceUnavailable},
		{upstream.ErrMalformedResponse, http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := statusForUpstreamError(fmt.Errorf("wrapped: %w", tc.err)); got != tc.want {
			t.Errorf("statusForUpstreamError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
