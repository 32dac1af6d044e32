package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trivia-live-service/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(sampleQuestions()),
	}
	repo := NewQuestionRepository(loader, time.Minute)

	got, err := repo.GetQuestions(context.Background(), []string{"q1", "q2"})
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if len(got) != 2 || got["q2"].Correct.Number != "4" {
		t.Fatalf("unexpected questions: %+v", got)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader once, got %d", loader.count())
	}

	if _, err := repo.GetQuestions(context.Background(), []string{"q2", "q1"}); err != nil {
		t.Fatalf("get questions 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.count())
	}
}

func TestQuestionRepositoryUnknownQuestion(t *testing.T) {
	repo := NewQuestionRepository(NewStaticQuestionLoader(sampleQuestions()), time.Minute)

	_, err := repo.GetQuestions(context.Background(), []string{"q1", "missing"})
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestQuestionRepositoryWithoutTTL(t *testing.T) {
	loader := &countingLoader{QuestionLoader: NewStaticQuestionLoader(sampleQuestions())}
	repo := NewQuestionRepository(loader, 0)

	for i := 0; i < 2; i++ {
		if _, err := repo.GetQuestions(context.Background(), []string{"q1"}); err != nil {
			t.Fatalf("get questions: %v", err)
		}
	}
	if loader.count() != 2 {
		t.Fatalf("expected no caching without ttl, loader calls %d", loader.count())
	}
}

type countingLoader struct {
	QuestionLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.QuestionLoader.LoadQuestions(ctx, ids)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleQuestions() map[string]domain.Question {
	return map[string]domain.Question{
		"q1": {ID: "q1", Prompt: "Pick the star", Correct: domain.AnswerContent{Symbol: "star"}},
		"q2": {ID: "q2", Prompt: "How many?", Correct: domain.AnswerContent{Number: "4"}},
	}
}
