package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/domain"
)

type CreateSessionRequest struct {
	TimeLimitSeconds int
	QuestionIDs      []string
}

// CreateSession stores a new waiting session under a fresh join code.
func (e *SessionEngine) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if req.TimeLimitSeconds <= 0 {
		return nil, domain.Validationf("time limit must be positive, got %d", req.TimeLimitSeconds)
	}
	if len(req.QuestionIDs) == 0 {
		return nil, domain.Validationf("at least one question is required")
	}
	seen := make(map[string]struct{}, len(req.QuestionIDs))
	for _, id := range req.QuestionIDs {
		if id == "" {
			return nil, domain.Validationf("question id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return nil, domain.Validationf("question %s listed twice", id)
		}
		seen[id] = struct{}{}
	}
	if _, err := e.questions.GetQuestions(ctx, req.QuestionIDs); err != nil {
		return nil, err
	}

	limit := time.Duration(req.TimeLimitSeconds) * time.Second
	for attempt := 1; attempt <= maxJoinCodeAttempts; attempt++ {
		session := domain.NewSession(e.joinCodes(), req.QuestionIDs, limit, e.clock.Now())
		err := e.sessions.Create(ctx, session)
		if errors.Is(err, domain.ErrJoinCodeTaken) {
			log.Debug().Str("join_code", session.JoinCode).Int("attempt", attempt).Msg("join code collision")
			continue
		}
		if err != nil {
			return nil, err
		}

		e.metrics.sessionsCreated.Inc()
		log.Info().
			Str("join_code", session.JoinCode).
			Int("questions", len(req.QuestionIDs)).
			Dur("time_limit", limit).
			Msg("session created")
		return session, nil
	}
	return nil, fmt.Errorf("generate join code after %d attempts: %w", maxJoinCodeAttempts, domain.ErrJoinCodeTaken)
}

// StartSession moves a waiting session into round 0, announces the countdown
// and distributes the first round once it elapses.
func (e *SessionEngine) StartSession(ctx context.Context, joinCode string) error {
	roundStart := e.clock.Now().Add(e.countdown)
	session, err := e.mutate(ctx, joinCode, func(s *domain.Session) error {
		return s.Start(roundStart)
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("join_code", joinCode).
		Int("players", len(session.Players)).
		Dur("countdown", e.countdown).
		Msg("session started")

	e.out.Broadcast(joinCode, EventSessionCountdown, CountdownPayload{Countdown: int(e.countdown / time.Second)})
	if e.countdown <= 0 {
		e.distributeRound(ctx, session)
		return nil
	}
	e.timers.Set(joinCode, 0, e.countdown, func() {
		e.beginFirstRound(joinCode)
	})
	return nil
}

func (e *SessionEngine) beginFirstRound(joinCode string) {
	ctx, cancel := e.backgroundContext()
	defer cancel()

	session, err := e.sessions.Get(ctx, joinCode)
	if err != nil {
		log.Error().Err(err).Str("join_code", joinCode).Msg("load session after countdown")
		return
	}
	if session.Status != domain.StatusPlaying || session.CurrentRound != 0 {
		log.Debug().Str("join_code", joinCode).Str("status", string(session.Status)).Msg("countdown expired on a session that moved on")
		return
	}
	e.distributeRound(ctx, session)
}

// distributeRound sends every player their own question for the current
// round, rebroadcasts the ranking and arms the round timer.
func (e *SessionEngine) distributeRound(ctx context.Context, s *domain.Session) {
	joinCode := s.JoinCode
	round := s.CurrentRound

	questions, err := e.questions.GetQuestions(ctx, s.QuestionIDs)
	if err != nil {
		log.Error().Err(err).Str("join_code", joinCode).Int("round", round).Msg("load questions for round")
	}

	limitSeconds := int(s.TimeLimit() / time.Second)
	for _, p := range s.Players {
		qid, ok := p.QuestionAt(round)
		if !ok {
			continue
		}
		q, ok := questions[qid]
		if !ok {
			continue
		}
		e.out.SendTo(joinCode, p.ID, EventRoundStarted, RoundStartedPayload{
			Question:    q.View(),
			TimeLimit:   limitSeconds,
			RoundIndex:  round,
			TotalRounds: s.TotalRounds(),
		})
	}
	e.broadcastRanking(s)

	e.timers.Set(joinCode, round, s.TimeLimit(), func() {
		e.handleRoundTimeout(joinCode, round)
	})

	log.Info().
		Str("join_code", joinCode).
		Int("round", round).
		Int("players", len(s.Players)).
		Msg("round distributed")
}

// handleRoundTimeout fills missing answers, rebroadcasts the ranking and
// advances. It is a no-op when the round was already advanced.
func (e *SessionEngine) handleRoundTimeout(joinCode string, round int) {
	e.retryRoundTimeout(joinCode, round, 0)
}

// rearmTimeout schedules another timeout step for a round whose last step
// failed. The delay doubles per attempt up to maxTimeoutBackoff.
func (e *SessionEngine) rearmTimeout(joinCode string, round, attempt int) {
	if e.baseCtx.Err() != nil {
		return
	}
	delay := e.retry.MaxBackoff << attempt
	if delay <= 0 || delay > maxTimeoutBackoff {
		delay = maxTimeoutBackoff
	}
	log.Warn().
		Str("join_code", joinCode).
		Int("round", round).
		Int("attempt", attempt+1).
		Dur("delay", delay).
		Msg("re-arming round timer")
	e.timers.Set(joinCode, round, delay, func() {
		e.retryRoundTimeout(joinCode, round, attempt+1)
	})
}

func (e *SessionEngine) retryRoundTimeout(joinCode string, round, attempt int) {
	ctx, cancel := e.backgroundContext()
	defer cancel()

	var acks []AnswerAckPayload
	session, err := e.mutate(ctx, joinCode, func(s *domain.Session) error {
		acks = nil
		if s.Status != domain.StatusPlaying || s.CurrentRound != round {
			return errStaleRound
		}
		questions, err := e.questions.GetQuestions(ctx, s.QuestionIDs)
		if err != nil {
			return err
		}
		limitSeconds := s.TimeLimitSeconds()
		for i := range s.Players {
			p := &s.Players[i]
			qid, ok := p.QuestionAt(round)
			if !ok {
				continue
			}
			q, ok := questions[qid]
			if !ok {
				continue
			}
			answer, changed := p.ApplyTimeout(q, limitSeconds)
			if !changed {
				continue
			}
			acks = append(acks, AnswerAckPayload{
				PlayerID:      p.ID,
				IsCorrect:     answer.IsCorrect,
				PointsAwarded: answer.PointsAwarded,
				NewScore:      p.Score,
			})
		}
		return nil
	})
	switch {
	case errors.Is(err, errStaleRound), errors.Is(err, domain.ErrSessionNotFound):
		log.Debug().Str("join_code", joinCode).Int("round", round).Msg("round timer expired after the round moved on")
		return
	case err != nil:
		log.Error().Err(err).Str("join_code", joinCode).Int("round", round).Msg("apply round timeout")
		e.rearmTimeout(joinCode, round, attempt)
		return
	}

	for _, ack := range acks {
		e.metrics.answers.WithLabelValues(boolLabel(ack.IsCorrect), triggerTimeout).Inc()
		e.out.Broadcast(joinCode, EventAnswerAcknowledged, ack)
	}
	e.broadcastRanking(session)

	log.Info().Str("join_code", joinCode).Int("round", round).Int("filled", len(acks)).Msg("round timed out")

	if err := e.advanceRound(ctx, joinCode, round, triggerTimeout); err != nil {
		log.Error().Err(err).Str("join_code", joinCode).Int("round", round).Msg("advance after timeout")
		e.rearmTimeout(joinCode, round, attempt)
	}
}

// advanceRound moves the session past fromRound exactly once: whichever of
// the timer and the completion check gets here second finds the round
// already moved and does nothing.
func (e *SessionEngine) advanceRound(ctx context.Context, joinCode string, fromRound int, trigger string) error {
	session, err := e.mutate(ctx, joinCode, func(s *domain.Session) error {
		if s.Status != domain.StatusPlaying || s.CurrentRound != fromRound {
			return errStaleRound
		}
		return s.AdvanceRound(e.clock.Now())
	})
	if errors.Is(err, errStaleRound) {
		log.Debug().Str("join_code", joinCode).Int("round", fromRound).Str("trigger", trigger).Msg("round already advanced")
		return nil
	}
	if err != nil {
		return err
	}

	e.metrics.roundAdvances.WithLabelValues(trigger).Inc()
	log.Info().
		Str("join_code", joinCode).
		Int("from_round", fromRound).
		Int("round", session.CurrentRound).
		Str("trigger", trigger).
		Msg("round advanced")

	if session.Status == domain.StatusFinished {
		e.timers.Cancel(joinCode)
		e.publishResults(session)
		return nil
	}
	e.distributeRound(ctx, session)
	return nil
}

// FinishSession ends a playing session and publishes the results. Finishing
// an already finished session returns its results without side effects.
func (e *SessionEngine) FinishSession(ctx context.Context, joinCode string) ([]domain.FinalResult, error) {
	session, err := e.mutate(ctx, joinCode, func(s *domain.Session) error {
		changed, err := s.Finish()
		if err != nil {
			return err
		}
		if !changed {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return session.Results(), nil
	}
	if err != nil {
		return nil, err
	}

	e.timers.Cancel(joinCode)
	e.publishResults(session)
	return session.Results(), nil
}

func (e *SessionEngine) publishResults(s *domain.Session) {
	results := s.Results()
	e.out.Broadcast(s.JoinCode, EventSessionEnded, SessionEndedPayload{Results: results})
	log.Info().Str("join_code", s.JoinCode).Int("players", len(results)).Msg("session finished")
}
