package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/memory"
)

// twoPlayerGame starts a game where alice answering alone does not end the round.
func twoPlayerGame(t *testing.T) (*fixture, string) {
	t.Helper()
	f := newFixture(t)
	code := f.create(t, 30, "q1", "q2", "q3")
	f.join(t, code, "alice")
	f.join(t, code, "bob")
	require.NoError(t, f.engine.StartSession(context.Background(), code))
	return f, code
}

func TestSubmitAnswerScoresBySpeed(t *testing.T) {
	f, code := twoPlayerGame(t)

	res := f.answerCorrectly(t, code, "alice", 15)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, 50, res.PointsAwarded)
	assert.Equal(t, 50, res.NewScore)

	acks := f.out.named(EventAnswerAcknowledged)
	require.Len(t, acks, 1)
	assert.Equal(t, AnswerAckPayload{PlayerID: "alice", IsCorrect: true, PointsAwarded: 50, NewScore: 50}, acks[0].Payload)

	rankings := f.out.named(EventRankingUpdated)
	require.NotEmpty(t, rankings)
	top := rankings[len(rankings)-1].Payload.(RankingPayload).Players[0]
	assert.Equal(t, "alice", top.ID)
}

func TestSubmitAnswerRejectsSecondScoredAnswer(t *testing.T) {
	f, code := twoPlayerGame(t)

	f.answerCorrectly(t, code, "alice", 1)
	_, err := f.answer(t, code, "alice", f.current(t, code, "alice").Correct, 1)
	require.ErrorIs(t, err, domain.ErrDuplicateAnswer)
	assert.Equal(t, domain.CodeDuplicateAnswer, domain.ErrorCode(err))

	p, _ := f.session(t, code).Player("alice")
	assert.Len(t, p.Answers, 1)
	assert.Equal(t, 1, p.CorrectAnswers)
}

func TestSubmitAnswerWrongAnswerIsFinal(t *testing.T) {
	f, code := twoPlayerGame(t)

	res, err := f.answer(t, code, "alice", domain.AnswerContent{Symbol: "definitely-wrong"}, 4)
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)
	assert.Zero(t, res.PointsAwarded)

	_, err = f.answer(t, code, "alice", f.current(t, code, "alice").Correct, 6)
	require.ErrorIs(t, err, domain.ErrDuplicateAnswer)

	p, _ := f.session(t, code).Player("alice")
	require.Len(t, p.Answers, 1)
	assert.False(t, p.Answers[0].IsCorrect)
	assert.Zero(t, p.Score)
	assert.Equal(t, 4.0, p.TotalResponseTime)
}

func TestSubmitAnswerAutoSubmitEarnsMinimum(t *testing.T) {
	f, code := twoPlayerGame(t)

	res, err := f.engine.SubmitAnswer(context.Background(), SubmitAnswerRequest{
		JoinCode:            code,
		PlayerID:            "alice",
		Answer:              f.current(t, code, "alice").Correct,
		ResponseTimeSeconds: 2,
		IsAutoSubmit:        true,
	})
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, domain.MinPoints, res.PointsAwarded)

	p, _ := f.session(t, code).Player("alice")
	assert.Equal(t, 30.0, p.TotalResponseTime)
}

func TestSubmitAnswerErrors(t *testing.T) {
	f, code := twoPlayerGame(t)
	waiting := f.create(t, 30, "q1")
	f.join(t, waiting, "carol")

	current := f.current(t, code, "alice")
	var other string
	for id := range questionBank {
		if id != current.ID {
			other = id
			break
		}
	}

	cases := []struct {
		name string
		req  SubmitAnswerRequest
		want error
	}{
		{"unknown session", SubmitAnswerRequest{JoinCode: "NOPE00", PlayerID: "alice"}, domain.ErrSessionNotFound},
		{"not started", SubmitAnswerRequest{JoinCode: waiting, PlayerID: "carol"}, domain.ErrInvalidState},
		{"unknown player", SubmitAnswerRequest{JoinCode: code, PlayerID: "mallory"}, domain.ErrPlayerNotFound},
		{"missing player id", SubmitAnswerRequest{JoinCode: code}, domain.ErrValidation},
		{"not the current question", SubmitAnswerRequest{JoinCode: code, PlayerID: "alice", QuestionID: other}, domain.ErrQuestionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.SubmitAnswer(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSubmitAnswerCompletingRoundDisarmsItsTimer(t *testing.T) {
	f, code := twoPlayerGame(t)

	f.answerCorrectly(t, code, "alice", 1)
	round, ok := f.engine.Timers().Round(code)
	require.True(t, ok)
	require.Equal(t, 0, round)

	f.answerCorrectly(t, code, "bob", 1)
	round, ok = f.engine.Timers().Round(code)
	require.True(t, ok)
	assert.Equal(t, 1, round, "the next round's timer is armed")
	assert.Equal(t, 1, f.session(t, code).CurrentRound)
}

func TestSubmitAnswerRejectedDuringCountdown(t *testing.T) {
	f := newFixtureWith(t, memory.NewSessionStore(), Config{Countdown: 5 * time.Second})
	code := f.create(t, 30, "q1", "q2")
	f.join(t, code, "alice")
	require.NoError(t, f.engine.StartSession(context.Background(), code))

	_, err := f.answer(t, code, "alice", f.current(t, code, "alice").Correct, 0)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	round, ok := f.engine.Timers().Round(code)
	require.True(t, ok, "countdown timer must stay armed")
	assert.Equal(t, 0, round)

	f.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool {
		return len(f.out.roundStarts(0)) == 1
	}, time.Second, 5*time.Millisecond)

	res := f.answerCorrectly(t, code, "alice", 3)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, 90, res.PointsAwarded)
}
