package app

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/domain"
)

type JoinRequest struct {
	JoinCode string
	PlayerID string
	Username string
	Avatar   *domain.Avatar
}

type JoinResult struct {
	Status          domain.Status        `json:"status"`
	TotalQuestions  int                  `json:"totalQuestions"`
	JoinedMidGame   bool                 `json:"joinedMidGame"`
	CurrentQuestion *domain.QuestionView `json:"currentQuestion,omitempty"`
	TimeRemaining   *int                 `json:"timeRemaining,omitempty"`
	RoundIndex      int                  `json:"roundIndex"`
}

// JoinSession adds a player with a private question order. Joining a running
// session returns the player's current question with the time left in the
// round instead of the nominal limit. Joining again with the same player id
// keeps the order that was assigned the first time.
func (e *SessionEngine) JoinSession(ctx context.Context, req JoinRequest) (JoinResult, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return JoinResult{}, domain.Validationf("username is required")
	}
	if req.PlayerID == "" {
		return JoinResult{}, domain.Validationf("player id is required")
	}

	rejoined := false
	session, err := e.mutate(ctx, req.JoinCode, func(s *domain.Session) error {
		rejoined = false
		if s.Status == domain.StatusFinished {
			return domain.InvalidStatef("session %s has finished", s.JoinCode)
		}
		if p, ok := s.Player(req.PlayerID); ok {
			p.Username = username
			if req.Avatar != nil {
				p.Avatar = req.Avatar
			}
			rejoined = true
			return nil
		}
		round := s.CurrentRound
		if round < 0 {
			round = 0
		}
		s.AddPlayer(domain.Player{
			ID:                req.PlayerID,
			Username:          username,
			Avatar:            req.Avatar,
			QuestionOrder:     e.shuffler.Order(s.QuestionIDs),
			CurrentRoundIndex: round,
		})
		return nil
	})
	if err != nil {
		return JoinResult{}, err
	}

	log.Info().
		Str("join_code", session.JoinCode).
		Str("player_id", req.PlayerID).
		Str("username", username).
		Bool("rejoined", rejoined).
		Str("status", string(session.Status)).
		Msg("player joined")

	result := JoinResult{
		Status:         session.Status,
		TotalQuestions: session.TotalRounds(),
	}
	if session.Status == domain.StatusPlaying {
		result = e.lateJoin(ctx, session, req.PlayerID, result)
	}
	e.broadcastRoster(session)
	return result, nil
}

// lateJoin hands a player who arrives mid-game the question of the running
// round, clipped to the time that round has left.
func (e *SessionEngine) lateJoin(ctx context.Context, s *domain.Session, playerID string, result JoinResult) JoinResult {
	now := e.clock.Now()
	remaining := s.RemainingSeconds(now)
	result.JoinedMidGame = true
	result.TimeRemaining = &remaining
	result.RoundIndex = s.CurrentRound

	// Still counting down: the first distribution will reach this player.
	if now.Before(s.RoundStartedAt) {
		return result
	}

	p, ok := s.Player(playerID)
	if !ok {
		return result
	}
	qid, ok := p.QuestionAt(s.CurrentRound)
	if !ok {
		return result
	}
	questions, err := e.questions.GetQuestions(ctx, []string{qid})
	if err != nil {
		log.Error().Err(err).Str("join_code", s.JoinCode).Str("question_id", qid).Msg("load question for late joiner")
		return result
	}
	view := questions[qid].View()
	result.CurrentQuestion = &view

	e.out.SendTo(s.JoinCode, playerID, EventRoundStarted, RoundStartedPayload{
		Question:    view,
		TimeLimit:   remaining,
		RoundIndex:  s.CurrentRound,
		TotalRounds: s.TotalRounds(),
	})
	return result
}

type HostView struct {
	Status           domain.Status   `json:"status"`
	Players          []PlayerSummary `json:"players"`
	TimeLimitSeconds int             `json:"timeLimitSeconds"`
	QuestionCount    int             `json:"questionCount"`
}

// RejoinHost returns what a reconnecting host needs to rebuild its lobby.
func (e *SessionEngine) RejoinHost(ctx context.Context, joinCode string) (HostView, error) {
	session, err := e.sessions.Get(ctx, joinCode)
	if err != nil {
		return HostView{}, err
	}
	return HostView{
		Status:           session.Status,
		Players:          summarize(session.Players),
		TimeLimitSeconds: int(session.TimeLimitMillis / 1000),
		QuestionCount:    session.TotalRounds(),
	}, nil
}

// LeaveSession removes a player. Their recorded answers are not rescored.
// Leaving a session the player is not part of is a no-op.
func (e *SessionEngine) LeaveSession(ctx context.Context, joinCode, playerID string) error {
	session, err := e.mutate(ctx, joinCode, func(s *domain.Session) error {
		if !s.RemovePlayer(playerID) {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().Str("join_code", joinCode).Str("player_id", playerID).Int("players", len(session.Players)).Msg("player left")
	e.broadcastRoster(session)
	return nil
}

type CurrentQuestionView struct {
	Question       *domain.QuestionView `json:"question,omitempty"`
	TimeLeft       int                  `json:"timeLeft"`
	CurrentIndex   int                  `json:"currentIndex"`
	TotalQuestions int                  `json:"totalQuestions"`
}

// CurrentQuestion reports the player's question for the running round.
// CurrentIndex is 1-based and never exceeds the question count.
func (e *SessionEngine) CurrentQuestion(ctx context.Context, joinCode, playerID string) (CurrentQuestionView, error) {
	session, err := e.sessions.Get(ctx, joinCode)
	if err != nil {
		return CurrentQuestionView{}, err
	}

	view := CurrentQuestionView{TotalQuestions: session.TotalRounds()}
	if session.CurrentRound >= 0 {
		view.CurrentIndex = session.CurrentRound + 1
		if view.CurrentIndex > view.TotalQuestions {
			view.CurrentIndex = view.TotalQuestions
		}
	}
	if session.Status != domain.StatusPlaying {
		return view, nil
	}

	p, ok := session.Player(playerID)
	if !ok {
		return CurrentQuestionView{}, domain.ErrPlayerNotFound
	}
	qid, ok := p.QuestionAt(session.CurrentRound)
	if !ok {
		return view, nil
	}
	questions, err := e.questions.GetQuestions(ctx, []string{qid})
	if err != nil {
		return CurrentQuestionView{}, err
	}
	q := questions[qid].View()
	view.Question = &q
	view.TimeLeft = session.RemainingSeconds(e.clock.Now())
	return view, nil
}
