package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// NumberText holds a numeric answer as normalized text. It decodes from either
// a JSON number or a JSON string so clients may send both.
type NumberText string

func (n *NumberText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = NumberText(strings.TrimSpace(s))
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	// 4, 4.0 and 4e0 all compare as "4".
	*n = NumberText(strconv.FormatFloat(num, 'f', -1, 64))
	return nil
}

// AnswerContent is the shape of both a submission and a question's canonical answer.
type AnswerContent struct {
	Symbol string     `json:"symbol,omitempty"`
	Colors []string   `json:"colors,omitempty"`
	Number NumberText `json:"number,omitempty"`
}

// Empty reports whether nothing was submitted.
func (c AnswerContent) Empty() bool {
	return strings.TrimSpace(c.Symbol) == "" &&
		len(c.Colors) == 0 &&
		strings.TrimSpace(string(c.Number)) == ""
}

func (c AnswerContent) clone() AnswerContent {
	if c.Colors != nil {
		c.Colors = append([]string(nil), c.Colors...)
	}
	return c
}

// Question is read-only to the engine; it comes from the question bank.
type Question struct {
	ID      string        `json:"id"`
	Prompt  string        `json:"prompt"`
	Correct AnswerContent `json:"correctAnswer"`
}

// QuestionView is what players see. The correct answer is never sent.
type QuestionView struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// View strips the correct answer.
func (q Question) View() QuestionView {
	return QuestionView{ID: q.ID, Prompt: q.Prompt}
}

// Avatar is the character a player picked when joining.
type Avatar struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

// Answer is one player's response to one question.
type Answer struct {
	QuestionID    string        `json:"questionId"`
	Content       AnswerContent `json:"content"`
	IsCorrect     bool          `json:"isCorrect"`
	PointsAwarded int           `json:"pointsAwarded"`
	ResponseTime  float64       `json:"responseTime"`
}

// Scored reports whether the answer earned credit.
func (a Answer) Scored() bool {
	return a.IsCorrect || a.PointsAwarded > 0
}

// Placeholder reports whether the answer is the empty, unscored entry left by
// a round timeout. Only placeholders may be replaced by a submission.
func (a Answer) Placeholder() bool {
	return !a.Scored() && a.Content.Empty()
}

// Player is one participant of a session.
type Player struct {
	ID                string   `json:"id"`
	Username          string   `json:"username"`
	Avatar            *Avatar  `json:"avatar,omitempty"`
	Score             int      `json:"score"`
	CorrectAnswers    int      `json:"correctAnswers"`
	TotalResponseTime float64  `json:"totalResponseTime"`
	QuestionOrder     []string `json:"questionOrder"`
	CurrentRoundIndex int      `json:"currentRoundIndex"`
	Answers           []Answer `json:"answers"`
}

// QuestionAt returns the player's private question for a round.
func (p *Player) QuestionAt(round int) (string, bool) {
	if round < 0 || round >= len(p.QuestionOrder) {
		return "", false
	}
	return p.QuestionOrder[round], true
}

// AnswerFor returns the recorded answer for a question, if any.
func (p *Player) AnswerFor(questionID string) (*Answer, bool) {
	for i := range p.Answers {
		if p.Answers[i].QuestionID == questionID {
			return &p.Answers[i], true
		}
	}
	return nil, false
}

// RecordAnswer stores a submission. A new answer is appended; a timeout
// placeholder is replaced in place with its response time reconciled; any
// other recorded answer is final.
func (p *Player) RecordAnswer(a Answer) error {
	if existing, ok := p.AnswerFor(a.QuestionID); ok {
		if !existing.Placeholder() {
			return ErrDuplicateAnswer
		}
		p.TotalResponseTime -= existing.ResponseTime
		if p.TotalResponseTime < 0 {
			p.TotalResponseTime = 0
		}
		*existing = a
	} else {
		p.Answers = append(p.Answers, a)
	}
	if a.IsCorrect {
		p.Score += a.PointsAwarded
		p.CorrectAnswers++
	}
	p.TotalResponseTime += a.ResponseTime
	return nil
}

// ApplyTimeout fills the player's answer for q when the round timer expires.
// A missing answer becomes an empty, incorrect placeholder. An existing
// non-empty unscored answer is re-validated and credited MinPoints when it
// turns out correct. It returns the resulting answer and whether anything changed.
func (p *Player) ApplyTimeout(q Question, limitSeconds float64) (Answer, bool) {
	existing, ok := p.AnswerFor(q.ID)
	if !ok {
		placeholder := Answer{
			QuestionID:   q.ID,
			ResponseTime: limitSeconds,
		}
		p.Answers = append(p.Answers, placeholder)
		p.TotalResponseTime += limitSeconds
		return placeholder, true
	}
	if existing.Scored() || existing.Content.Empty() {
		return *existing, false
	}
	if !IsCorrect(existing.Content, q.Correct) {
		return *existing, false
	}
	existing.IsCorrect = true
	existing.PointsAwarded = MinPoints
	p.Score += MinPoints
	p.CorrectAnswers++
	return *existing, true
}

func (p Player) clone() Player {
	if p.Avatar != nil {
		a := *p.Avatar
		p.Avatar = &a
	}
	p.QuestionOrder = append([]string(nil), p.QuestionOrder...)
	if p.Answers != nil {
		answers := make([]Answer, len(p.Answers))
		for i, a := range p.Answers {
			a.Content = a.Content.clone()
			answers[i] = a
		}
		p.Answers = answers
	}
	return p
}

// Session is one trivia match. It is the versioned aggregate persisted by a
// SessionRepository; every mutation bumps Version on save.
type Session struct {
	JoinCode        string    `json:"joinCode"`
	Status          Status    `json:"status"`
	Players         []Player  `json:"players"`
	CurrentRound    int       `json:"currentRoundIndex"`
	QuestionIDs     []string  `json:"questionIds"`
	TimeLimitMillis int64     `json:"timeLimitMillis"`
	RoundStartedAt  time.Time `json:"roundStartTimestamp"`
	CreatedAt       time.Time `json:"createdAt"`
	Version         int64     `json:"version"`
}

// NewSession builds a waiting session. The round index starts at -1.
func NewSession(joinCode string, questionIDs []string, timeLimit time.Duration, now time.Time) *Session {
	return &Session{
		JoinCode:        joinCode,
		Status:          StatusWaiting,
		CurrentRound:    -1,
		QuestionIDs:     append([]string(nil), questionIDs...),
		TimeLimitMillis: timeLimit.Milliseconds(),
		CreatedAt:       now,
	}
}

// TimeLimit is the nominal per-round limit.
func (s *Session) TimeLimit() time.Duration {
	return time.Duration(s.TimeLimitMillis) * time.Millisecond
}

// TimeLimitSeconds is the nominal per-round limit in seconds.
func (s *Session) TimeLimitSeconds() float64 {
	return float64(s.TimeLimitMillis) / 1000
}

// TotalRounds is the number of questions, one per round.
func (s *Session) TotalRounds() int {
	return len(s.QuestionIDs)
}

// Player looks up a player by connection id.
func (s *Session) Player(id string) (*Player, bool) {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i], true
		}
	}
	return nil, false
}

// AddPlayer appends a player.
func (s *Session) AddPlayer(p Player) {
	s.Players = append(s.Players, p)
}

// RemovePlayer drops a player and reports whether it was present. Recorded
// answers leave with the player; nothing is rescored.
func (s *Session) RemovePlayer(id string) bool {
	for i := range s.Players {
		if s.Players[i].ID == id {
			s.Players = append(s.Players[:i], s.Players[i+1:]...)
			return true
		}
	}
	return false
}

// Start moves a waiting session into round 0. roundStart is when round 0
// actually begins, i.e. after the countdown.
func (s *Session) Start(roundStart time.Time) error {
	if s.Status != StatusWaiting {
		return InvalidStatef("session %s is %s", s.JoinCode, s.Status)
	}
	s.Status = StatusPlaying
	s.CurrentRound = 0
	s.RoundStartedAt = roundStart
	for i := range s.Players {
		s.Players[i].CurrentRoundIndex = 0
	}
	return nil
}

// AdvanceRound moves to the next round, finishing the session when the
// last round is done. The round index never exceeds TotalRounds.
func (s *Session) AdvanceRound(now time.Time) error {
	if s.Status != StatusPlaying {
		return InvalidStatef("session %s is %s", s.JoinCode, s.Status)
	}
	s.CurrentRound++
	s.RoundStartedAt = now
	if s.CurrentRound >= s.TotalRounds() {
		s.CurrentRound = s.TotalRounds()
		s.Status = StatusFinished
		return nil
	}
	for i := range s.Players {
		s.Players[i].CurrentRoundIndex = s.CurrentRound
	}
	return nil
}

// Finish ends a playing session. It reports false when the session was already finished.
func (s *Session) Finish() (bool, error) {
	switch s.Status {
	case StatusFinished:
		return false, nil
	case StatusPlaying:
		s.Status = StatusFinished
		return true, nil
	default:
		return false, InvalidStatef("session %s has not started", s.JoinCode)
	}
}

// RoundComplete reports whether every player has answered their own question
// for the current round.
func (s *Session) RoundComplete() bool {
	if s.Status != StatusPlaying || len(s.Players) == 0 {
		return false
	}
	if s.CurrentRound < 0 || s.CurrentRound >= s.TotalRounds() {
		return false
	}
	for i := range s.Players {
		qid, ok := s.Players[i].QuestionAt(s.CurrentRound)
		if !ok {
			return false
		}
		if _, answered := s.Players[i].AnswerFor(qid); !answered {
			return false
		}
	}
	return true
}

// RemainingSeconds is the time left in the current round, floored at zero and
// capped at the nominal limit.
func (s *Session) RemainingSeconds(now time.Time) int {
	limit := s.TimeLimit()
	elapsed := now.Sub(s.RoundStartedAt)
	remaining := int((limit - elapsed) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	if nominal := int(limit / time.Second); remaining > nominal {
		remaining = nominal
	}
	return remaining
}

// Results is the final per-player summary.
func (s *Session) Results() []FinalResult {
	results := make([]FinalResult, 0, len(s.Players))
	for _, p := range s.Players {
		results = append(results, FinalResult{
			Username:       p.Username,
			Score:          p.Score,
			CorrectAnswers: p.CorrectAnswers,
			TotalQuestions: s.TotalRounds(),
			Avatar:         p.Avatar,
		})
	}
	return results
}

// Clone returns a deep copy so repositories never share state with callers.
func (s *Session) Clone() *Session {
	c := *s
	c.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	if s.Players != nil {
		c.Players = make([]Player, len(s.Players))
		for i, p := range s.Players {
			c.Players[i] = p.clone()
		}
	}
	return &c
}

// FinalResult is one row of the session-ended payload.
type FinalResult struct {
	Username       string  `json:"username"`
	Score          int     `json:"score"`
	CorrectAnswers int     `json:"correctAnswers"`
	TotalQuestions int     `json:"totalQuestions"`
	Avatar         *Avatar `json:"avatar"`
}

// RankingEntry is a leaderboard row.
type RankingEntry struct {
	ID                string  `json:"id"`
	Username          string  `json:"username"`
	Score             int     `json:"score"`
	CorrectAnswers    int     `json:"correctAnswers"`
	TotalResponseTime float64 `json:"totalResponseTime"`
	Avatar            *Avatar `json:"avatar,omitempty"`
}
