package app

import "trivia-live-service/internal/domain"

// Server-to-client events.
const (
	EventSessionCountdown   = "session-countdown"
	EventRoundStarted       = "round-started"
	EventRankingUpdated     = "ranking-updated"
	EventAnswerAcknowledged = "answer-acknowledged"
	EventSessionEnded       = "session-ended"
	EventRosterUpdated      = "roster-updated"
)

type CountdownPayload struct {
	Countdown int `json:"countdown"`
}

// RoundStartedPayload is sent privately; each player gets their own question.
type RoundStartedPayload struct {
	Question    domain.QuestionView `json:"question"`
	TimeLimit   int                 `json:"timeLimit"`
	RoundIndex  int                 `json:"roundIndex"`
	TotalRounds int                 `json:"totalRounds"`
}

type RankingPayload struct {
	Players []domain.RankingEntry `json:"players"`
}

type AnswerAckPayload struct {
	PlayerID      string `json:"playerId"`
	IsCorrect     bool   `json:"isCorrect"`
	PointsAwarded int    `json:"pointsAwarded"`
	NewScore      int    `json:"newScore"`
}

type SessionEndedPayload struct {
	Results []domain.FinalResult `json:"results"`
}

type RosterPayload struct {
	Status  domain.Status   `json:"status"`
	Players []PlayerSummary `json:"players"`
}

// PlayerSummary is the public view of a player in rosters and host views.
type PlayerSummary struct {
	ID       string         `json:"id"`
	Username string         `json:"username"`
	Avatar   *domain.Avatar `json:"avatar,omitempty"`
	Score    int            `json:"score"`
}

func summarize(players []domain.Player) []PlayerSummary {
	out := make([]PlayerSummary, 0, len(players))
	for _, p := range players {
		out = append(out, PlayerSummary{
			ID:       p.ID,
			Username: p.Username,
			Avatar:   p.Avatar,
			Score:    p.Score,
		})
	}
	return out
}

func (e *SessionEngine) broadcastRanking(s *domain.Session) {
	e.out.Broadcast(s.JoinCode, EventRankingUpdated, RankingPayload{Players: domain.Rank(s.Players)})
}

func (e *SessionEngine) broadcastRoster(s *domain.Session) {
	e.out.Broadcast(s.JoinCode, EventRosterUpdated, RosterPayload{Status: s.Status, Players: summarize(s.Players)})
}
