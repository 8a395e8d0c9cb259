package domain

import (
	"time"
)

// MatchRecord is one historical competitive match for a player, as returned
// by the FACEIT stats endpoint. Immutable once fetched. Histories are kept
// newest-first; Seq is a monotonic fetch-order sequence number that keeps
// the ordering total when two matches share a timestamp.
type MatchRecord struct {
	MatchID  string
	Seq      int
	PlayedAt time.Time
	Map      string
	Won      bool
	Kills    int
	Deaths   int
	ADR      float64
	EloAfter int
}

type PlayerProfile struct {
	PlayerID   string
	Nickname   string
	CurrentElo int
	Level      int
	Country    string
	Avatar     string
}

// HistorySnapshot is a wholesale-replaceable capture of a player's profile
// and match history at one point in time. Matches are newest-first with no
// duplicate match ids; FetchedAt is non-decreasing across replacements for
// the same player id.
type HistorySnapshot struct {
	Profile   PlayerProfile
	Matches   []MatchRecord
	FetchedAt time.Time
}

type MapStats struct {
	Map           string  `json:"map"`
	MatchesPlayed int     `json:"matches_played"`
	WinRate       float64 `json:"win_rate"`
}

// DerivedStats is the aggregation output. Every look-back metric is a
// pointer: nil means the player does not have enough history for that
// window. Activity rates are always present (zero when no matches fall in
// the window).
type DerivedStats struct {
	ADRLast10  *float64 `json:"adr_last_10"`
	ADRLast30  *float64 `json:"adr_last_30"`
	ADRLast100 *float64 `json:"adr_last_100"`

	WinRateLast10  *float64 `json:"win_rate_last_10"`
	WinRateLast30  *float64 `json:"win_rate_last_30"`
	WinRateLast100 *float64 `json:"win_rate_last_100"`

	Elo10GamesAgo  *int `json:"elo_10_games_ago"`
	Elo30GamesAgo  *int `json:"elo_30_games_ago"`
	Elo100GamesAgo *int `json:"elo_100_games_ago"`

	Date10GamesAgo  *string `json:"date_10_games_ago"`
	Date30GamesAgo  *string `json:"date_30_games_ago"`
	Date100GamesAgo *string `json:"date_100_games_ago"`

	GamesPerDay7  float64 `json:"games_per_day_7"`
	GamesPerDay30 float64 `json:"games_per_day_30"`
	GamesPerDay90 float64 `json:"games_per_day_90"`

	TopEloAllTime *int    `json:"top_elo_all_time"`
	TopEloDate    *string `json:"top_elo_date"`

	TopMapsPlayed  []MapStats `json:"top_maps_played"`
	TopMapsWinRate []MapStats `json:"top_maps_wr"`
}

type RosterTeam struct {
	Name    string   `json:"name"`
	Players []string `json:"players"`
}

type Roster struct {
	Nicknames []string    `json:"nicknames"`
	Team1     *RosterTeam `json:"team1,omitempty"`
	Team2     *RosterTeam `json:"team2,omitempty"`
}
