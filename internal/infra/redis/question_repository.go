package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"trivia-live-service/internal/domain"
)

// QuestionLoader fetches questions from the question bank (e.g. Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, ids []string) (map[string]domain.Question, error)
}

// QuestionRepository caches questions in Redis and falls back to a loader on cache miss.
// Questions are stored as: SET question:{questionID} {json} EX ttl
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestions(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	found, missing := r.fromCache(ctx, ids)
	if len(missing) == 0 {
		return found, nil
	}

	sort.Strings(missing)
	result, err, _ := r.sf.Do(strings.Join(missing, ","), func() (interface{}, error) {
		loaded, err := r.loader.LoadQuestions(ctx, missing)
		if err != nil {
			return nil, err
		}

		pipe := r.client.Pipeline()
		for id, q := range loaded {
			data, err := json.Marshal(q)
			if err != nil {
				return nil, err
			}
			pipe.Set(ctx, r.key(id), data, r.ttlWithJitter())
		}
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warn().Err(err).Int("questions", len(loaded)).Msg("cache questions in redis")
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	loaded := result.(map[string]domain.Question)
	for _, id := range missing {
		q, ok := loaded[id]
		if !ok {
			return nil, domain.ErrQuestionNotFound
		}
		found[id] = q
	}
	return found, nil
}

func (r *QuestionRepository) fromCache(ctx context.Context, ids []string) (map[string]domain.Question, []string) {
	found := make(map[string]domain.Question, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		log.Warn().Err(err).Msg("read questions from redis")
		return found, append([]string(nil), ids...)
	}

	var missing []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			missing = append(missing, ids[i])
			continue
		}
		found[ids[i]] = q
	}
	return found, missing
}

func (r *QuestionRepository) key(questionID string) string {
	return "question:" + questionID
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
