package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"extendo/internal/api"
	"extendo/internal/config"
	"extendo/internal/constants"
	"extendo/internal/domain"
	"extendo/internal/service"
	"extendo/internal/upstream"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Server exposes the stats service and the roster lookup as plain JSON
// endpoints.
type Server struct {
	statsSvc *service.StatsService
	faceit   *api.FaceitClient
	cfg      *config.Config
	logger   zerolog.Logger
}

func NewServer(statsSvc *service.StatsService, faceit *api.FaceitClient, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{statsSvc: statsSvc, faceit: faceit, cfg: cfg, logger: logger}
}

func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/players", s.handleGetPlayers).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/matches/{match_id}/roster", s.handleGetRoster).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

type playersRequest struct {
	Nicknames []string `json:"nicknames"`
}

// playerPayload flattens profile fields and derived metrics into one object
// per player, mirroring the shape the lobby overlay consumes.
type playerPayload struct {
	Nickname string `json:"nickname"`
	PlayerID string `json:"player_id"`
	Elo      int    `json:"elo"`
	Level    int    `json:"level"`
	Avatar   string `json:"avatar"`
	Country  string `json:"country"`
	domain.DerivedStats
}

type playerErrorPayload struct {
	Nickname string `json:"nickname"`
	Error    string `json:"error"`
}

func (s *Server) handleGetPlayers(w http.ResponseWriter, r *http.Request) {
	var req playersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Nicknames) == 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no nicknames provided"})
		return
	}
	nicknames := req.Nicknames
	if len(nicknames) > constants.MaxBatchNicknames {
		nicknames = nicknames[:constants.MaxBatchNicknames]
	}

	results := s.statsSvc.GetStats(r.Context(), nicknames, s.cfg.SnapshotTTL)

	payload := make([]any, len(results))
	for i, res := range results {
		if res.Stats == nil {
			payload[i] = playerErrorPayload{Nickname: res.Nickname, Error: res.Error}
			continue
		}
		payload[i] = playerPayload{
			Nickname:     res.Stats.Profile.Nickname,
			PlayerID:     res.Stats.Profile.PlayerID,
			Elo:          res.Stats.Profile.CurrentElo,
			Level:        res.Stats.Profile.Level,
			Avatar:       res.Stats.Profile.Avatar,
			Country:      res.Stats.Profile.Country,
			DerivedStats: res.Stats.Derived,
		}
	}

	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["match_id"]

	roster, err := s.faceit.FetchMatchRoster(r.Context(), matchID)
	if err != nil {
		s.logger.Warn().Err(err).Str("match_id", matchID).Msg("failed to fetch roster")
		s.writeJSON(w, statusForUpstreamError(err), map[string]string{"error": rosterCause(err)})
		return
	}

	s.writeJSON(w, http.StatusOK, roster)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// statusForUpstreamError keeps the retryable/non-retryable partition visible
// to HTTP clients: the poller treats 404/400/503 as "not indexed yet" and
// 401 as fatal.
func statusForUpstreamError(err error) int {
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, upstream.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, upstream.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, upstream.ErrRateLimited), errors.Is(err, upstream.ErrUnavailable), errors.Is(err, upstream.ErrTransport):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func rosterCause(err error) string {
	switch {
	case errors.Is(err, upstream.ErrNotFound):
		return "match not found"
	case errors.Is(err, upstream.ErrAuth):
		return "stats provider rejected our credentials"
	case errors.Is(err, upstream.ErrMalformedResponse):
		return "stats provider returned unusable data"
	default:
		return "stats provider unavailable"
	}
}
