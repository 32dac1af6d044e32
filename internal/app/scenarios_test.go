package app

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"trivia-live-service/internal/domain"
	"trivia-live-service/internal/infra/memory"
)

func TestScenarioAllRoundsAnsweredCorrectly(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	f := newFixtureWith(t, memory.NewSessionStore(), Config{Countdown: -1, Metrics: metrics})
	code := f.create(t, 30, "q1", "q2", "q3")
	f.join(t, code, "alice")
	f.join(t, code, "bob")

	require.NoError(t, f.engine.StartSession(context.Background(), code))

	for round := 0; round < 3; round++ {
		starts := f.out.roundStarts(round)
		require.Len(t, starts, 2, "round %d", round)
		require.Equal(t, 3, starts["alice"].TotalRounds)
		require.Equal(t, 30, starts["alice"].TimeLimit)

		f.answerCorrectly(t, code, "alice", 0)
		f.answerCorrectly(t, code, "bob", 0)
	}

	s := f.session(t, code)
	require.Equal(t, domain.StatusFinished, s.Status)
	require.Equal(t, 3, s.CurrentRound)
	for _, p := range s.Players {
		assert.Equal(t, 3*domain.MaxPoints, p.Score, p.Username)
		assert.Equal(t, 3, p.CorrectAnswers, p.Username)

		order := append([]string(nil), p.QuestionOrder...)
		sort.Strings(order)
		assert.Equal(t, []string{"q1", "q2", "q3"}, order, "order must be a permutation")
	}

	ended := f.out.named(EventSessionEnded)
	require.Len(t, ended, 1)
	results := ended[0].Payload.(SessionEndedPayload).Results
	require.Len(t, results, 2)
	assert.Equal(t, 3, results[0].TotalQuestions)

	assert.Equal(t, 0, f.engine.Timers().Len())
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.roundAdvances.WithLabelValues(triggerCompleted)))
	assert.Equal(t, float64(6), testutil.ToFloat64(metrics.answers.WithLabelValues("true", "manual")))
}

func TestScenarioTimeoutFillsMissingAnswer(t *testing.T) {
	f := newFixture(t)
	code := f.create(t, 30, "q1", "q2")
	f.join(t, code, "alice")
	f.join(t, code, "bob")
	require.NoError(t, f.engine.StartSession(context.Background(), code))

	f.answerCorrectly(t, code, "alice", 3)
	missed := f.current(t, code, "bob")

	round, armed := f.engine.Timers().Round(code)
	require.True(t, armed)
	require.Equal(t, 0, round)

	f.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool {
		return f.roundOf(code) == 1
	}, time.Second, 5*time.Millisecond)

	s := f.session(t, code)
	require.Equal(t, domain.StatusPlaying, s.Status)
	bob, _ := s.Player("bob")
	placeholder, ok := bob.AnswerFor(missed.ID)
	require.True(t, ok)
	assert.False(t, placeholder.IsCorrect)
	assert.Zero(t, placeholder.PointsAwarded)
	assert.Equal(t, 30.0, placeholder.ResponseTime)
	assert.Zero(t, bob.Score)

	var bobAck bool
	for _, e := range f.out.named(EventAnswerAcknowledged) {
		if ack := e.Payload.(AnswerAckPayload); ack.PlayerID == "bob" {
			bobAck = true
			assert.False(t, ack.IsCorrect)
		}
	}
	assert.True(t, bobAck, "timeout placeholder must be acknowledged")

	require.Eventually(t, func() bool {
		r, ok := f.engine.Timers().Round(code)
		return ok && r == 1
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, f.out.roundStarts(1), 2)
}

func TestScenarioLateJoinGetsClippedTime(t *testing.T) {
	f := newFixture(t)
	code := f.create(t, 30, "q1", "q2", "q3", "q4", "q5")
	f.join(t, code, "alice")
	require.NoError(t, f.engine.StartSession(context.Background(), code))

	f.answerCorrectly(t, code, "alice", 1)
	f.answerCorrectly(t, code, "alice", 1)
	require.Equal(t, 2, f.session(t, code).CurrentRound)

	f.clock.Advance(12 * time.Second)
	res := f.join(t, code, "carol")

	require.Equal(t, domain.StatusPlaying, res.Status)
	require.True(t, res.JoinedMidGame)
	require.NotNil(t, res.TimeRemaining)
	assert.Equal(t, 18, *res.TimeRemaining)
	assert.Equal(t, 2, res.RoundIndex)
	require.NotNil(t, res.CurrentQuestion)
	assert.Equal(t, f.current(t, code, "carol").ID, res.CurrentQuestion.ID)

	private := f.out.roundStarts(2)["carol"]
	assert.Equal(t, 18, private.TimeLimit, "late joiner must not get the nominal limit")
	assert.Equal(t, res.CurrentQuestion.ID, private.Question.ID)
}

func TestScenarioConcurrentSubmissionsBothPersist(t *testing.T) {
	f := newFixture(t)
	code := f.create(t, 30, "q1", "q2")
	f.join(t, code, "alice")
	f.join(t, code, "bob")
	require.NoError(t, f.engine.StartSession(context.Background(), code))

	alice := f.current(t, code, "alice")
	bob := f.current(t, code, "bob")

	var g errgroup.Group
	g.Go(func() error {
		_, err := f.answer(t, code, "alice", alice.Correct, 2)
		return err
	})
	g.Go(func() error {
		_, err := f.answer(t, code, "bob", bob.Correct, 4)
		return err
	})
	require.NoError(t, g.Wait())

	s := f.session(t, code)
	require.Equal(t, 1, s.CurrentRound, "round must advance exactly once")
	for _, id := range []string{"alice", "bob"} {
		p, _ := s.Player(id)
		assert.Equal(t, 1, p.CorrectAnswers, id)
		assert.Len(t, p.Answers, 1, id)
	}
	assert.Len(t, f.out.roundStarts(1), 2)
}

func TestSubmitRetriesOnVersionConflict(t *testing.T) {
	store := &flakyStore{SessionRepository: memory.NewSessionStore()}
	f := newFixtureWith(t, store, Config{Countdown: -1})
	code := f.create(t, 30, "q1", "q2")
	f.join(t, code, "alice")
	f.join(t, code, "bob")
	require.NoError(t, f.engine.StartSession(context.Background(), code))

	store.failNext.Store(2)
	res := f.answerCorrectly(t, code, "alice", 0)
	assert.True(t, res.IsCorrect)

	p, _ := f.session(t, code).Player("alice")
	assert.Equal(t, domain.MaxPoints, p.Score)
}

func TestSubmitSurfacesConflictWhenRetriesRunOut(t *testing.T) {
	store := &flakyStore{SessionRepository: memory.NewSessionStore()}
	f := newFixtureWith(t, store, Config{Countdown: -1})
	code := f.create(t, 30, "q1")
	f.join(t, code, "alice")
	require.NoError(t, f.engine.StartSession(context.Background(), code))

	store.failNext.Store(10)
	store.saves.Store(0)
	_, err := f.answer(t, code, "alice", questionBank["q1"].Correct, 0)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, domain.CodeConflict, domain.ErrorCode(err))
	assert.Equal(t, int32(DefaultRetryPolicy().MaxAttempts), store.saves.Load())
}

func TestScenarioTimeoutRecoversFromExhaustedRetries(t *testing.T) {
	store := &flakyStore{SessionRepository: memory.NewSessionStore()}
	f := newFixtureWith(t, store, Config{Countdown: -1})
	code := f.create(t, 30, "q1", "q2", "q3")
	f.join(t, code, "alice")
	f.join(t, code, "bob")
	require.NoError(t, f.engine.StartSession(context.Background(), code))
	f.answerCorrectly(t, code, "alice", 2)

	// Every attempt of the first timeout step hits a version conflict.
	store.failNext.Store(int32(DefaultRetryPolicy().MaxAttempts))
	f.clock.Advance(30 * time.Second)

	require.Eventually(t, func() bool {
		return store.failNext.Load() == 0 && f.engine.Timers().Len() == 1
	}, 2*time.Second, 5*time.Millisecond, "failed timeout step must re-arm the round timer")
	round, ok := f.engine.Timers().Round(code)
	require.True(t, ok)
	require.Equal(t, 0, round)
	require.Equal(t, 0, f.roundOf(code))

	f.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return f.roundOf(code) == 1
	}, 2*time.Second, 5*time.Millisecond)

	bob, _ := f.session(t, code).Player("bob")
	require.Len(t, bob.Answers, 1)
	assert.False(t, bob.Answers[0].IsCorrect)
}
