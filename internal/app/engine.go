package app

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-live-service/internal/domain"
)

// SessionRepository is a versioned document store for sessions (in-memory, Redis, etc).
type SessionRepository interface {
	// Create stores a new session. It fails with domain.ErrJoinCodeTaken when
	// the join code is already in use.
	Create(ctx context.Context, session *domain.Session) error
	// Get returns an independent copy of the latest stored version.
	Get(ctx context.Context, joinCode string) (*domain.Session, error)
	// Save writes session if the stored version still equals session.Version,
	// then bumps session.Version. A stale write fails with domain.ErrVersionConflict.
	Save(ctx context.Context, session *domain.Session) error
}

// QuestionRepository loads questions from the question bank (through a cache).
type QuestionRepository interface {
	GetQuestions(ctx context.Context, ids []string) (map[string]domain.Question, error)
}

// Broadcaster delivers server events to connected clients of a session.
type Broadcaster interface {
	Broadcast(joinCode, event string, payload any)
	SendTo(joinCode, playerID, event string, payload any)
}

const (
	defaultCountdown        = 5 * time.Second
	defaultOperationTimeout = 10 * time.Second
	maxJoinCodeAttempts     = 5
	// maxTimeoutBackoff caps the delay between retries of a failed timeout step.
	maxTimeoutBackoff = 5 * time.Second

	triggerCompleted = "completed"
	triggerTimeout   = "timeout"
)

var (
	// errStaleRound aborts a timer or completion step whose round was already handled.
	errStaleRound = errors.New("round already advanced")
	// errUnchanged aborts a mutation that has nothing to write.
	errUnchanged = errors.New("session unchanged")
)

// Config tunes a SessionEngine. Zero values fall back to defaults.
type Config struct {
	// Countdown is the delay between start and the first round. Negative disables it.
	Countdown        time.Duration
	OperationTimeout time.Duration
	Retry            RetryPolicy
	Clock            clockwork.Clock
	Shuffler         *domain.Shuffler
	Metrics          *Metrics
	// JoinCodes overrides join code generation.
	JoinCodes func() string
}

// SessionEngine runs live trivia sessions. It owns the round timers of every
// session it drives and serializes nothing but the repository writes.
type SessionEngine struct {
	sessions  SessionRepository
	questions QuestionRepository
	out       Broadcaster

	clock     clockwork.Clock
	timers    *TimerRegistry
	shuffler  *domain.Shuffler
	metrics   *Metrics
	retry     RetryPolicy
	countdown time.Duration
	opTimeout time.Duration
	joinCodes func() string

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewSessionEngine(sessions SessionRepository, questions QuestionRepository, out Broadcaster, cfg Config) *SessionEngine {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Shuffler == nil {
		cfg.Shuffler = domain.NewShuffler()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Countdown == 0 {
		cfg.Countdown = defaultCountdown
	}
	if cfg.Countdown < 0 {
		cfg.Countdown = 0
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = defaultOperationTimeout
	}
	if cfg.JoinCodes == nil {
		var mu sync.Mutex
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		cfg.JoinCodes = func() string {
			mu.Lock()
			defer mu.Unlock()
			return domain.NewJoinCode(rnd)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionEngine{
		sessions:  sessions,
		questions: questions,
		out:       out,
		clock:     cfg.Clock,
		timers:    NewTimerRegistry(cfg.Clock),
		shuffler:  cfg.Shuffler,
		metrics:   cfg.Metrics,
		retry:     cfg.Retry,
		countdown: cfg.Countdown,
		opTimeout: cfg.OperationTimeout,
		joinCodes: cfg.JoinCodes,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Timers exposes the engine's timer registry.
func (e *SessionEngine) Timers() *TimerRegistry {
	return e.timers
}

// Shutdown cancels every armed timer and any background step still running.
func (e *SessionEngine) Shutdown() {
	e.cancel()
	e.timers.Stop()
}

// backgroundContext bounds work started by timers rather than by a client request.
func (e *SessionEngine) backgroundContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.baseCtx, e.opTimeout)
}

// mutate runs a read-modify-write of one session under the retry policy. fn
// is re-applied to a fresh copy on every attempt. When fn returns errUnchanged
// the loaded session is returned with that error and nothing is written.
func (e *SessionEngine) mutate(ctx context.Context, joinCode string, fn func(s *domain.Session) error) (*domain.Session, error) {
	var loaded *domain.Session
	onConflict := func(attempt int) {
		e.metrics.versionConflicts.Inc()
		log.Debug().
			Str("join_code", joinCode).
			Int("attempt", attempt).
			Int("max_attempts", e.retry.MaxAttempts).
			Msg("session version conflict, retrying")
	}

	session, err := withRetry(ctx, e.retry, onConflict, func(ctx context.Context) (*domain.Session, error) {
		s, err := e.sessions.Get(ctx, joinCode)
		if err != nil {
			return nil, err
		}
		loaded = s
		if err := fn(s); err != nil {
			return nil, err
		}
		if err := e.sessions.Save(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	})
	if errors.Is(err, errUnchanged) {
		return loaded, err
	}
	return session, err
}
