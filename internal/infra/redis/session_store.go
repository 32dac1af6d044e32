package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-live-service/internal/domain"
)

// SessionStore is a Redis implementation of app.SessionRepository.
// Each session is one JSON document under session:{joinCode}. Saves run in a
// WATCH/MULTI transaction and only commit if the stored version is still the
// one the caller read, so concurrent writers never overwrite each other.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *SessionStore) Create(ctx context.Context, session *domain.Session) error {
	stored := session.Clone()
	stored.Version = 1
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(session.JoinCode), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session %s: %w", session.JoinCode, err)
	}
	if !ok {
		return domain.ErrJoinCodeTaken
	}
	session.Version = 1
	return nil
}

func (s *SessionStore) Get(ctx context.Context, joinCode string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, s.key(joinCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", joinCode, err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", joinCode, err)
	}
	return &session, nil
}

func (s *SessionStore) Save(ctx context.Context, session *domain.Session) error {
	key := s.key(session.JoinCode)

	next := session.Clone()
	next.Version = session.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		var stored struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(raw, &stored); err != nil {
			return fmt.Errorf("unmarshal stored version: %w", err)
		}
		if stored.Version != session.Version {
			return fmt.Errorf("save session %s at version %d (stored %d): %w",
				session.JoinCode, session.Version, stored.Version, domain.ErrVersionConflict)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("save session %s: %w", session.JoinCode, domain.ErrVersionConflict)
	}
	if err != nil {
		return err
	}
	session.Version = next.Version
	return nil
}

func (s *SessionStore) key(joinCode string) string {
	return "session:" + joinCode
}
