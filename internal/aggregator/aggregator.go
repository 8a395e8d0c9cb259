package aggregator

import (
	"math"
	"sort"
	"time"

	"extendo/internal/domain"
)

// Look-back game windows and trailing activity windows are part of the
// output contract (field names of DerivedStats), so they are fixed here
// rather than configurable.
var (
	lookbackWindows = [3]int{10, 30, 100}
	activityWindows = [3]int{7, 30, 90}
)

// Options carries the presentation thresholds of the per-map rankings.
// The cutoffs are conveniences, not requirements, so they stay tunable.
type Options struct {
	// TopMapsLimit caps both ranked map lists.
	TopMapsLimit int
	// MinMapSample excludes small-sample maps from the win-rate ranking
	// (they stay eligible for the most-played ranking).
	MinMapSample int
	// Precision is the number of decimals percentages and averages are
	// rounded to.
	Precision int
	// Now anchors the trailing-day activity windows. Zero means time.Now.
	Now time.Time
}

func DefaultOptions() Options {
	return Options{
		TopMapsLimit: 7,
		MinMapSample: 3,
		Precision:    1,
	}
}

// Compute derives all statistics from a snapshot. Pure: no I/O, the
// snapshot is not modified, and equal inputs produce equal outputs
// (including the order of the ranked map lists).
//
// It relies on the snapshot invariant that Matches is sorted newest-first.
func Compute(snap *domain.HistorySnapshot, opts Options) domain.DerivedStats {
	if opts.TopMapsLimit == 0 {
		opts.TopMapsLimit = DefaultOptions().TopMapsLimit
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	matches := snap.Matches
	stats := domain.DerivedStats{}

	adrs := [3]**float64{&stats.ADRLast10, &stats.ADRLast30, &stats.ADRLast100}
	winRates := [3]**float64{&stats.WinRateLast10, &stats.WinRateLast30, &stats.WinRateLast100}
	elos := [3]**int{&stats.Elo10GamesAgo, &stats.Elo30GamesAgo, &stats.Elo100GamesAgo}
	dates := [3]**string{&stats.Date10GamesAgo, &stats.Date30GamesAgo, &stats.Date100GamesAgo}

	for i, n := range lookbackWindows {
		if len(matches) < n {
			continue
		}
		window := matches[:n]

		var adrSum float64
		wins := 0
		for _, m := range window {
			adrSum += m.ADR
			if m.Won {
				wins++
			}
		}
		adr := roundTo(adrSum/float64(n), opts.Precision)
		wr := roundTo(float64(wins)/float64(n)*100, opts.Precision)

		// The match exactly N games back is index N-1 newest-first.
		nth := window[n-1]
		elo := nth.EloAfter
		date := utcDate(nth.PlayedAt)

		*adrs[i] = &adr
		*winRates[i] = &wr
		*elos[i] = &elo
		*dates[i] = &date
	}

	rates := [3]*float64{&stats.GamesPerDay7, &stats.GamesPerDay30, &stats.GamesPerDay90}
	for i, days := range activityWindows {
		cutoff := opts.Now.Add(-time.Duration(days) * 24 * time.Hour)
		count := 0
		for _, m := range matches {
			if m.PlayedAt.After(cutoff) {
				count++
			}
		}
		*rates[i] = roundTo(float64(count)/float64(days), 2)
	}

	if len(matches) > 0 {
		top := matches[0]
		// >= so the oldest occurrence of the peak wins (iteration is
		// newest-first).
		for _, m := range matches[1:] {
			if m.EloAfter >= top.EloAfter {
				top = m
			}
		}
		elo := top.EloAfter
		date := utcDate(top.PlayedAt)
		stats.TopEloAllTime = &elo
		stats.TopEloDate = &date
	}

	byPlayed, byWinRate := rankMaps(matches, opts)
	stats.TopMapsPlayed = byPlayed
	stats.TopMapsWinRate = byWinRate

	return stats
}

func rankMaps(matches []domain.MatchRecord, opts Options) (byPlayed, byWinRate []domain.MapStats) {
	type accum struct {
		played int
		wins   int
	}
	accums := make(map[string]*accum)
	for _, m := range matches {
		if m.Map == "" {
			continue
		}
		a := accums[m.Map]
		if a == nil {
			a = &accum{}
			accums[m.Map] = a
		}
		a.played++
		if m.Won {
			a.wins++
		}
	}

	all := make([]domain.MapStats, 0, len(accums))
	for name, a := range accums {
		all = append(all, domain.MapStats{
			Map:           name,
			MatchesPlayed: a.played,
			WinRate:       roundTo(float64(a.wins)/float64(a.played)*100, opts.Precision),
		})
	}

	byPlayed = make([]domain.MapStats, len(all))
	copy(byPlayed, all)
	sort.Slice(byPlayed, func(i, j int) bool {
		if byPlayed[i].MatchesPlayed != byPlayed[j].MatchesPlayed {
			return byPlayed[i].MatchesPlayed > byPlayed[j].MatchesPlayed
		}
		if byPlayed[i].WinRate != byPlayed[j].WinRate {
			return byPlayed[i].WinRate > byPlayed[j].WinRate
		}
		return byPlayed[i].Map < byPlayed[j].Map
	})
	if len(byPlayed) > opts.TopMapsLimit {
		byPlayed = byPlayed[:opts.TopMapsLimit]
	}

	for _, m := range all {
		if m.MatchesPlayed >= opts.MinMapSample {
			byWinRate = append(byWinRate, m)
		}
	}
	sort.Slice(byWinRate, func(i, j int) bool {
		if byWinRate[i].WinRate != byWinRate[j].WinRate {
			return byWinRate[i].WinRate > byWinRate[j].WinRate
		}
		if byWinRate[i].MatchesPlayed != byWinRate[j].MatchesPlayed {
			return byWinRate[i].MatchesPlayed > byWinRate[j].MatchesPlayed
		}
		return byWinRate[i].Map < byWinRate[j].Map
	})
	if len(byWinRate) > opts.TopMapsLimit {
		byWinRate = byWinRate[:opts.TopMapsLimit]
	}

	return byPlayed, byWinRate
}

func roundTo(v float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(v*factor) / factor
}

// utcDate renders the UTC calendar date of an instant, independent of the
// caller's timezone.
func utcDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
