package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/domain"
)

type SubmitAnswerRequest struct {
	JoinCode string
	PlayerID string
	// QuestionID is optional; when set it must be the player's current question.
	QuestionID          string
	Answer              domain.AnswerContent
	ResponseTimeSeconds float64
	IsAutoSubmit        bool
}

type SubmitAnswerResult struct {
	IsCorrect     bool `json:"isCorrect"`
	PointsAwarded int  `json:"pointsAwarded"`
	NewScore      int  `json:"newScore"`
}

// SubmitAnswer validates and records one answer for the player's current
// question. Concurrent submissions on the same session are reconciled by the
// retry loop. When the answer completes the round, the round advances
// immediately instead of waiting for the timer.
func (e *SessionEngine) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (SubmitAnswerResult, error) {
	if req.PlayerID == "" {
		return SubmitAnswerResult{}, domain.Validationf("player id is required")
	}

	var (
		result        SubmitAnswerResult
		round         int
		roundComplete bool
	)
	session, err := e.mutate(ctx, req.JoinCode, func(s *domain.Session) error {
		if s.Status != domain.StatusPlaying {
			return domain.InvalidStatef("session %s is %s", s.JoinCode, s.Status)
		}
		if e.clock.Now().Before(s.RoundStartedAt) {
			return domain.InvalidStatef("round %d of session %s has not started", s.CurrentRound, s.JoinCode)
		}
		p, ok := s.Player(req.PlayerID)
		if !ok {
			return domain.ErrPlayerNotFound
		}
		qid, ok := p.QuestionAt(s.CurrentRound)
		if !ok {
			return domain.ErrQuestionNotFound
		}
		if req.QuestionID != "" && req.QuestionID != qid {
			return fmt.Errorf("%w: %s is not the current question", domain.ErrQuestionNotFound, req.QuestionID)
		}
		questions, err := e.questions.GetQuestions(ctx, []string{qid})
		if err != nil {
			return err
		}
		question := questions[qid]

		limit := s.TimeLimit()
		correct := domain.IsCorrect(req.Answer, question.Correct)
		responseTime := domain.NormalizeResponseTime(req.ResponseTimeSeconds, limit, req.IsAutoSubmit)
		points := 0
		if correct {
			if req.IsAutoSubmit {
				points = domain.MinPoints
			} else {
				points = domain.Points(responseTime, limit)
			}
		}

		if err := p.RecordAnswer(domain.Answer{
			QuestionID:    qid,
			Content:       req.Answer,
			IsCorrect:     correct,
			PointsAwarded: points,
			ResponseTime:  responseTime,
		}); err != nil {
			return err
		}

		result = SubmitAnswerResult{IsCorrect: correct, PointsAwarded: points, NewScore: p.Score}
		round = s.CurrentRound
		roundComplete = s.RoundComplete()
		return nil
	})
	if err != nil {
		return SubmitAnswerResult{}, err
	}

	source := "manual"
	if req.IsAutoSubmit {
		source = "auto"
	}
	e.metrics.answers.WithLabelValues(boolLabel(result.IsCorrect), source).Inc()
	log.Info().
		Str("join_code", req.JoinCode).
		Str("player_id", req.PlayerID).
		Int("round", round).
		Bool("correct", result.IsCorrect).
		Int("points", result.PointsAwarded).
		Bool("auto", req.IsAutoSubmit).
		Msg("answer recorded")

	e.out.Broadcast(req.JoinCode, EventAnswerAcknowledged, AnswerAckPayload{
		PlayerID:      req.PlayerID,
		IsCorrect:     result.IsCorrect,
		PointsAwarded: result.PointsAwarded,
		NewScore:      result.NewScore,
	})
	e.broadcastRanking(session)

	if roundComplete {
		// The timer is already disarmed, so the advance must not die with the
		// submitting client's request.
		e.timers.CancelRound(req.JoinCode, round)
		bctx, cancel := e.backgroundContext()
		defer cancel()
		if err := e.advanceRound(bctx, req.JoinCode, round, triggerCompleted); err != nil {
			log.Error().Err(err).Str("join_code", req.JoinCode).Int("round", round).Msg("advance after round completed")
			e.rearmTimeout(req.JoinCode, round, 0)
		}
	}
	return result, nil
}
