// Package memory keeps a bounded conversation history per user.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"flightrag/internal/domain"
)

const DefaultMaxTurns = 20

// Service serialises history mutations per user. Different users never
// contend on the same lock.
type Service struct {
	store    Store
	maxTurns int
	idleTTL  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	mu         sync.Mutex
	lastActive time.Time
}

type Option func(*Service)

// WithMaxTurns bounds the number of turns kept per user.
func WithMaxTurns(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithIdleTTL evicts sessions idle for longer than d when Run is active.
func WithIdleTTL(d time.Duration) Option {
	return func(s *Service) { s.idleTTL = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(store Store, opts ...Option) *Service {
	if store == nil {
		store = NewMapStore()
	}
	s := &Service{
		store:    store,
		maxTurns: DefaultMaxTurns,
		logger:   zap.NewNop(),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxTurns returns the per-user bound.
func (s *Service) MaxTurns() int { return s.maxTurns }

func (s *Service) session(userID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{lastActive: s.now()}
		s.sessions[userID] = sess
	}
	return sess
}

// lock returns the user's current session with its mutex held. A session
// removed by Clear or Evict while the caller waited is skipped.
func (s *Service) lock(userID string) *session {
	for {
		sess := s.session(userID)
		sess.mu.Lock()
		s.mu.Lock()
		current := s.sessions[userID] == sess
		s.mu.Unlock()
		if current {
			return sess
		}
		sess.mu.Unlock()
	}
}

func validUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.InvalidArgument("user id must not be empty")
	}
	return nil
}

// Append adds turns in order, evicting the oldest beyond the bound.
func (s *Service) Append(ctx context.Context, userID string, turns ...domain.Turn) error {
	if err := validUser(userID); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	sess := s.lock(userID)
	defer sess.mu.Unlock()

	history, err := s.store.Load(ctx, userID)
	if err != nil {
		return err
	}
	now := s.now()
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		history = append(history, t)
	}
	if over := len(history) - s.maxTurns; over > 0 {
		history = history[over:]
	}
	if err := s.store.Save(ctx, userID, history); err != nil {
		return err
	}
	sess.lastActive = now
	return nil
}

// AppendExchange records a user query and the assistant reply as one step.
func (s *Service) AppendExchange(ctx context.Context, userID, query, reply string) error {
	now := s.now()
	return s.Append(ctx, userID,
		domain.Turn{Role: domain.RoleUser, Text: query, Timestamp: now},
		domain.Turn{Role: domain.RoleAssistant, Text: reply, Timestamp: now},
	)
}

// History returns a copy of the user's turns, oldest first.
func (s *Service) History(ctx context.Context, userID string) ([]domain.Turn, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	sess := s.lock(userID)
	defer sess.mu.Unlock()
	turns, err := s.store.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	return turns, nil
}

// Clear drops the user's session.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := validUser(userID); err != nil {
		return err
	}
	sess := s.lock(userID)
	defer sess.mu.Unlock()
	if err := s.store.Delete(ctx, userID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, userID)
	s.mu.Unlock()
	return nil
}

// Users returns the number of sessions touched since the last eviction.
func (s *Service) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Evict drops sessions idle for longer than the configured TTL and
// returns how many were removed.
func (s *Service) Evict(ctx context.Context) int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	candidates := make(map[string]*session)
	for id, sess := range s.sessions {
		candidates[id] = sess
	}
	s.mu.Unlock()

	evicted := 0
	for id, sess := range candidates {
		sess.mu.Lock()
		s.mu.Lock()
		current := s.sessions[id] == sess
		s.mu.Unlock()
		if current && sess.lastActive.Before(cutoff) {
			if err := s.store.Delete(ctx, id); err != nil {
				s.logger.Warn("evict session", zap.String("user_id", id), zap.Error(err))
			} else {
				s.mu.Lock()
				delete(s.sessions, id)
				s.mu.Unlock()
				evicted++
			}
		}
		sess.mu.Unlock()
	}
	if evicted > 0 {
		s.logger.Info("evicted idle sessions", zap.Int("count", evicted))
	}
	return evicted
}

// Run evicts idle sessions every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	if s.idleTTL <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Evict(ctx)
		}
	}
}
