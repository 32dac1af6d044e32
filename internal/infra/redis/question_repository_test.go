package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"trivia-live-service/internal/domain"
)

type stubLoader struct {
	mu        sync.Mutex
	calls     int
	questions map[string]domain.Question
}

func (l *stubLoader) LoadQuestions(_ context.Context, ids []string) (map[string]domain.Question, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	out := make(map[string]domain.Question, len(ids))
	for _, id := range ids {
		if q, ok := l.questions[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func (l *stubLoader) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func newStubLoader() *stubLoader {
	return &stubLoader{questions: map[string]domain.Question{
		"q1": {ID: "q1", Prompt: "Which symbol?", Correct: domain.AnswerContent{Symbol: "star"}},
		"q2": {ID: "q2", Prompt: "How many?", Correct: domain.AnswerContent{Number: "4"}},
	}}
}

func TestQuestionRepositoryCachesLoadedQuestions(t *testing.T) {
	mr, client := newTestClient(t)
	loader := newStubLoader()
	repo := NewQuestionRepository(client, loader, time.Minute)
	ctx := context.Background()

	got, err := repo.GetQuestions(ctx, []string{"q1", "q2"})
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if len(got) != 2 || got["q1"].Correct.Symbol != "star" {
		t.Fatalf("unexpected questions: %+v", got)
	}
	if !mr.Exists("question:q1") || !mr.Exists("question:q2") {
		t.Fatalf("expected questions to be cached in redis")
	}
	if ttl := mr.TTL("question:q1"); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("expected ttl within jitter window, got %v", ttl)
	}

	if _, err := repo.GetQuestions(ctx, []string{"q2", "q1"}); err != nil {
		t.Fatalf("get questions again: %v", err)
	}
	if loader.Calls() != 1 {
		t.Fatalf("expected loader to be called once, got %d", loader.Calls())
	}
}

func TestQuestionRepositoryReadsPreloadedCache(t *testing.T) {
	mr, client := newTestClient(t)
	loader := newStubLoader()
	repo := NewQuestionRepository(client, loader, time.Minute)

	data, _ := json.Marshal(domain.Question{ID: "q7", Prompt: "Cached", Correct: domain.AnswerContent{Symbol: "moon"}})
	if err := mr.Set("question:q7", string(data)); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	got, err := repo.GetQuestions(context.Background(), []string{"q7"})
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if got["q7"].Prompt != "Cached" {
		t.Fatalf("unexpected question: %+v", got["q7"])
	}
	if loader.Calls() != 0 {
		t.Fatalf("loader should not be called on a full cache hit")
	}
}

func TestQuestionRepositoryUnknownQuestion(t *testing.T) {
	_, client := newTestClient(t)
	repo := NewQuestionRepository(client, newStubLoader(), time.Minute)

	_, err := repo.GetQuestions(context.Background(), []string{"q1", "missing"})
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}
