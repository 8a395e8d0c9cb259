package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"extendo/internal/config"
	"extendo/internal/domain"
	"extendo/internal/upstream"

	"github.com/valyala/fasthttp"
)

const baseURL = "https://open.faceit.com/data/v4"

// FaceitClient is a thin wrapper over the FACEIT Data API. It knows nothing
// about aggregation or caching; all failures are mapped onto the upstream
// error taxonomy.
type FaceitClient struct {
	apiKey      string
	client      *fasthttp.Client
	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo
}

type RateLimitInfo struct {
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`

	// seconds until reset
	Reset int `json:"reset"`

	UpdatedAt time.Time `json:"updated_at"`
}

func NewFaceitClient(cfg *config.Config) *FaceitClient {
	return &FaceitClient{
		apiKey: cfg.FaceitAPIKey,
		client: &fasthttp.Client{
			MaxConnsPerHost:     100,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
	}
}

func (c *FaceitClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *FaceitClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-RateLimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-RateLimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	if reset := string(resp.Header.Peek("X-RateLimit-Reset")); reset != "" {
		if val, err := strconv.Atoi(reset); err == nil {
			c.rateLimit.Reset = val
		}
	}
	c.rateLimit.UpdatedAt = time.Now()
}

// ResolvePlayer looks up a player by nickname and returns the full profile.
func (c *FaceitClient) ResolvePlayer(ctx context.Context, nickname string) (*domain.PlayerProfile, error) {
	reqURL := fmt.Sprintf("%s/players?nickname=%s", baseURL, url.QueryEscape(nickname))
	resp, err := doRequest[playerResponse](ctx, c, reqURL)
	if err != nil {
		return nil, err
	}
	return resp.toProfile()
}

func (c *FaceitClient) FetchProfile(ctx context.Context, playerID string) (*domain.PlayerProfile, error) {
	reqURL := fmt.Sprintf("%s/players/%s", baseURL, url.PathEscape(playerID))
	resp, err := doRequest[playerResponse](ctx, c, reqURL)
	if err != nil {
		return nil, err
	}
	return resp.toProfile()
}

// FetchHistory returns the player's raw competitive match records,
// newest-first. Individual rows that fail to parse are skipped; a payload
// that yields no parseable row at all is reported as malformed.
func (c *FaceitClient) FetchHistory(ctx context.Context, playerID string) ([]domain.MatchRecord, error) {
	reqURL := fmt.Sprintf("%s/players/%s/games/cs2/stats?size=100", baseURL, url.PathEscape(playerID))
	resp, err := doRequest[gameStatsResponse](ctx, c, reqURL)
	if err != nil {
		return nil, err
	}

	records := make([]domain.MatchRecord, 0, len(resp.Items))
	for _, item := range resp.Items {
		rec, ok := item.toRecord()
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	if len(resp.Items) > 0 && len(records) == 0 {
		return nil, fmt.Errorf("player %s stats: %w", playerID, upstream.ErrMalformedResponse)
	}

	// The API serves newest-first already; enforce it and assign sequence
	// numbers so equal timestamps still order deterministically.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].PlayedAt.After(records[j].PlayedAt)
	})
	for i := range records {
		records[i].Seq = i
	}
	return records, nil
}

// FetchMatchRoster returns the two team rosters of a match room.
func (c *FaceitClient) FetchMatchRoster(ctx context.Context, matchID string) (*domain.Roster, error) {
	reqURL := fmt.Sprintf("%s/matches/%s", baseURL, url.PathEscape(matchID))
	resp, err := doRequest[matchResponse](ctx, c, reqURL)
	if err != nil {
		return nil, err
	}

	// An empty roster is not an error: the room exists but hasn't filled yet.
	// Pollers use that distinction to keep waiting.
	roster := &domain.Roster{Nicknames: []string{}}
	if t := resp.Teams.Faction1; len(t.Roster) > 0 {
		roster.Team1 = t.toTeam()
		roster.Nicknames = append(roster.Nicknames, roster.Team1.Players...)
	}
	if t := resp.Teams.Faction2; len(t.Roster) > 0 {
		roster.Team2 = t.toTeam()
		roster.Nicknames = append(roster.Nicknames, roster.Team2.Players...)
	}
	return roster, nil
}

func doRequest[T any](ctx context.Context, client *FaceitClient, url string) (*T, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Authorization", "Bearer "+client.apiKey)
	req.Header.Set("Accept", "application/json")

	deadline, ok := ctx.Deadline()
	if ok {
		if err := client.client.DoDeadline(req, resp, deadline); err != nil {
			return nil, fmt.Errorf("%w: %v", upstream.ErrTransport, err)
		}
	} else {
		if err := client.client.Do(req, resp); err != nil {
			return nil, fmt.Errorf("%w: %v", upstream.ErrTransport, err)
		}
	}

	client.updateRateLimit(resp)

	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d: %w", url, code, errorForStatus(code))
	}

	var result T
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("%w: %v", upstream.ErrMalformedResponse, err)
	}
	return &result, nil
}

func errorForStatus(code int) error {
	switch {
	case code == fasthttp.StatusUnauthorized || code == fasthttp.StatusForbidden:
		return upstream.ErrAuth
	case code == fasthttp.StatusNotFound:
		return upstream.ErrNotFound
	case code == fasthttp.StatusBadRequest:
		return upstream.ErrBadRequest
	case code == fasthttp.StatusTooManyRequests:
		return upstream.ErrRateLimited
	case code >= 500:
		return upstream.ErrUnavailable
	default:
		return upstream.ErrMalformedResponse
	}
}

type playerResponse struct {
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Country  string `json:"country"`
	Games    struct {
		CS2 struct {
			FaceitElo  int `json:"faceit_elo"`
			SkillLevel int `json:"skill_level"`
		} `json:"cs2"`
	} `json:"games"`
}

func (p *playerResponse) toProfile() (*domain.PlayerProfile, error) {
	if p.PlayerID == "" {
		return nil, upstream.ErrMalformedResponse
	}
	return &domain.PlayerProfile{
		PlayerID:   p.PlayerID,
		Nickname:   p.Nickname,
		CurrentElo: p.Games.CS2.FaceitElo,
		Level:      p.Games.CS2.SkillLevel,
		Country:    p.Country,
		Avatar:     p.Avatar,
	}, nil
}

type gameStatsResponse struct {
	Items []gameStatsItem `json:"items"`
}

// FACEIT serves per-match stat values as a loosely typed map: most values
// are strings ("1.85"), a few are numbers.
type gameStatsItem struct {
	Stats map[string]any `json:"stats"`
}

func (it gameStatsItem) toRecord() (domain.MatchRecord, bool) {
	matchID := statString(it.Stats, "Match Id")
	finishedAt, okTime := statInt64(it.Stats, "Match Finished At")
	adr, okADR := statFloat(it.Stats, "ADR")
	elo, okElo := statInt(it.Stats, "Elo")
	kills, okKills := statInt(it.Stats, "Kills")
	deaths, okDeaths := statInt(it.Stats, "Deaths")
	result, okResult := statInt(it.Stats, "Result")

	if matchID == "" || !okTime || !okADR || !okElo || !okKills || !okDeaths || !okResult {
		return domain.MatchRecord{}, false
	}

	return domain.MatchRecord{
		MatchID:  matchID,
		PlayedAt: time.UnixMilli(finishedAt).UTC(),
		Map:      statString(it.Stats, "Map"),
		Won:      result == 1,
		Kills:    kills,
		Deaths:   deaths,
		ADR:      adr,
		EloAfter: elo,
	}, true
}

func statString(stats map[string]any, key string) string {
	if v, ok := stats[key].(string); ok {
		return v
	}
	return ""
}

func statFloat(stats map[string]any, key string) (float64, bool) {
	switch v := stats[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func statInt(stats map[string]any, key string) (int, bool) {
	f, ok := statFloat(stats, key)
	return int(f), ok
}

func statInt64(stats map[string]any, key string) (int64, bool) {
	f, ok := statFloat(stats, key)
	return int64(f), ok
}

type matchResponse struct {
	MatchID string `json:"match_id"`
	Teams   struct {
		Faction1 matchFaction `json:"faction1"`
		Faction2 matchFaction `json:"faction2"`
	} `json:"teams"`
}

type matchFaction struct {
	Name   string `json:"name"`
	Roster []struct {
		Nickname string `json:"nickname"`
	} `json:"roster"`
}

func (f matchFaction) toTeam() *domain.RosterTeam {
	team := &domain.RosterTeam{Name: f.Name}
	for _, p := range f.Roster {
		if p.Nickname != "" {
			team.Players = append(team.Players, p.Nickname)
		}
	}
	return team
}
