package memory

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trivia-live-service/internal/domain"
)

// QuestionLoader fetches questions from the question bank (e.g. Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, ids []string) (map[string]domain.Question, error)
}

// QuestionRepository caches questions with TTL to avoid repeated bank hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuestion
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestion),
	}
}

// GetQuestions returns every requested question or domain.ErrQuestionNotFound.
func (r *QuestionRepository) GetQuestions(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	found, missing := r.lookup(ids)
	if len(missing) == 0 {
		return found, nil
	}

	sort.Strings(missing)
	result, err, _ := r.sf.Do(strings.Join(missing, ","), func() (interface{}, error) {
		// Re-check in case another caller filled the cache meanwhile.
		_, stillMissing := r.lookup(missing)
		if len(stillMissing) == 0 {
			return nil, nil
		}
		loaded, err := r.loader.LoadQuestions(ctx, stillMissing)
		if err != nil {
			return nil, err
		}

		now := r.clock()
		r.mu.Lock()
		for id, q := range loaded {
			r.cache[id] = cachedQuestion{
				question:  q,
				expiresAt: now.Add(r.ttlWithJitter()),
			}
		}
		r.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	if loaded, ok := result.(map[string]domain.Question); ok {
		for id, q := range loaded {
			found[id] = q
		}
	}
	var unresolved []string
	for _, id := range missing {
		if _, ok := found[id]; !ok {
			unresolved = append(unresolved, id)
		}
	}
	if len(unresolved) == 0 {
		return found, nil
	}
	// Anything loaded by a concurrent flight is in the cache by now.
	more, stillMissing := r.lookup(unresolved)
	if len(stillMissing) > 0 {
		return nil, domain.ErrQuestionNotFound
	}
	for id, q := range more {
		found[id] = q
	}
	return found, nil
}

func (r *QuestionRepository) lookup(ids []string) (map[string]domain.Question, []string) {
	now := r.clock()
	found := make(map[string]domain.Question, len(ids))
	var missing []string

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		if entry, ok := r.cache[id]; ok && entry.expiresAt.After(now) {
			found[id] = entry.question
			continue
		}
		missing = append(missing, id)
	}
	return found, missing
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticQuestionLoader struct {
	questions map[string]domain.Question
}

func NewStaticQuestionLoader(questions map[string]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: questions}
}

// LoadQuestions returns the subset of ids it knows; unknown ids are left out.
func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, ids []string) (map[string]domain.Question, error) {
	out := make(map[string]domain.Question, len(ids))
	for _, id := range ids {
		if q, ok := l.questions[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}
