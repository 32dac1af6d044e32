package domain

import "sort"

// Rank builds the leaderboard: score desc, then correct answers desc, then total
// response time asc. Username and id break any remaining tie.
func Rank(players []Player) []RankingEntry {
	entries := make([]RankingEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, RankingEntry{
			ID:                p.ID,
			Username:          p.Username,
			Score:             p.Score,
			CorrectAnswers:    p.CorrectAnswers,
			TotalResponseTime: p.TotalResponseTime,
			Avatar:            p.Avatar,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CorrectAnswers != b.CorrectAnswers {
			return a.CorrectAnswers > b.CorrectAnswers
		}
		if a.TotalResponseTime != b.TotalResponseTime {
			return a.TotalResponseTime < b.TotalResponseTime
		}
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.ID < b.ID
	})
	return entries
}
