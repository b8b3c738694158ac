// Package session gives every logical conversation a stable identity so
// providers that require parent-id chaining (the web-chat bridge in
// particular) can participate across turns. A session's id is the MD5 hex
// digest of its first user message: re-deriving it from any later turn in
// the same thread yields the same id, because the first user message is
// still present in the history sent on that turn.
package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentflow/storage"
	"go.uber.org/zap"
)

// DefaultTTL is the time a session stays valid after its last access.
const DefaultTTL = 30 * time.Minute

// DefaultSweepInterval is how often the background sweeper looks for
// expired sessions.
const DefaultSweepInterval = 10 * time.Minute

// sweepBatchSize bounds memory use when deleting a large backlog of
// expired sessions (spec: "batched sweep" over possibly thousands of rows).
const sweepBatchSize = 1000

// Manager owns session lifecycle: lookup-or-create, turn completion, TTL
// eviction and per-session serialisation.
type Manager struct {
	repo          *storage.SessionRepository
	logger        *zap.Logger
	ttl           time.Duration
	sweepInterval time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the default session TTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithSweepInterval overrides the default sweeper cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweepInterval = d }
}

// New creates a session Manager backed by the given repository.
func New(repo *storage.SessionRepository, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		repo:          repo,
		logger:        logger,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		locks:         make(map[string]*sync.Mutex),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IDFor computes the stable session id for a given first user message.
func IDFor(firstUserMessage string) string {
	sum := md5.Sum([]byte(firstUserMessage))
	return hex.EncodeToString(sum[:])
}

// Turn represents the resolved state of a session at the start of a turn:
// either freshly created or loaded from storage.
type Turn struct {
	ID               string
	ChatID           string
	ParentID         string
	MessageCount     int
	Created          bool
	FirstUserMessage string
}

// Resolve looks up (or creates) the session for firstUserMessage, applying
// expiry-on-access: a row found but past its expires_at is deleted and
// treated as new. The returned unlock function MUST be called
// exactly once, after the turn's upstream call and persistence have both
// completed, to release the per-session serialisation lock.
func (m *Manager) Resolve(ctx context.Context, firstUserMessage string) (*Turn, func(), error) {
	id := IDFor(firstUserMessage)
	lock := m.lockFor(id)
	lock.Lock()
	unlock := func() { lock.Unlock() }

	existing, err := m.repo.Get(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		// fall through to create
	case err != nil:
		unlock()
		return nil, nil, fmt.Errorf("resolve session: %w", err)
	default:
		now := time.Now()
		if !existing.Expired(now) {
			return &Turn{
				ID:               existing.ID,
				ChatID:           existing.ChatID,
				ParentID:         existing.ParentID,
				MessageCount:     existing.MessageCount,
				FirstUserMessage: existing.FirstUserMessage,
			}, unlock, nil
		}
		// Expired: delete stale row and fall through to create fresh.
		if derr := m.repo.Delete(ctx, id); derr != nil {
			m.logger.Warn("failed to delete expired session", zap.String("session_id", id), zap.Error(derr))
		}
	}

	now := time.Now()
	fresh := &storage.Session{
		ID:               id,
		FirstUserMessage: firstUserMessage,
		MessageCount:     0,
		CreatedAt:        now,
		LastAccessed:     now,
		ExpiresAt:        now.Add(m.ttl),
	}
	if err := m.repo.Create(ctx, fresh); err != nil {
		unlock()
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return &Turn{
		ID:               fresh.ID,
		FirstUserMessage: firstUserMessage,
		Created:          true,
	}, unlock, nil
}

// Complete records the outcome of a successful turn: the upstream chat id
// (set once, on creation) and the new parent id for the next turn, and
// refreshes last_accessed/expires_at and message_count.
func (m *Manager) Complete(ctx context.Context, sessionID, chatID, parentID string) error {
	if err := m.repo.Touch(ctx, sessionID, chatID, parentID, m.ttl); err != nil {
		return fmt.Errorf("complete turn for session %s: %w", sessionID, err)
	}
	return nil
}

// lockFor returns the per-session mutex, creating it if needed. Locks are
// never removed from the map: sessions are few enough in practice (one per
// live conversation) that this is simpler than reference-counted cleanup,
// and an abandoned mutex costs only a few dozen bytes.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// ClearAll deletes every session, used by the web-chat bridge at startup so
// it never references upstream chat state that predates the current
// credential.
func (m *Manager) ClearAll(ctx context.Context) error {
	return m.repo.DeleteAll(ctx)
}

// StartSweeper launches the background goroutine that evicts expired
// sessions every sweepInterval, in batches bounded by sweepBatchSize.
func (m *Manager) StartSweeper() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop halts the background sweeper and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	total := int64(0)
	for {
		n, err := m.repo.DeleteExpiredBatch(ctx, now, sweepBatchSize)
		if err != nil {
			m.logger.Error("session sweep failed", zap.Error(err))
			return
		}
		total += n
		if n < sweepBatchSize {
			break
		}
	}
	if total > 0 {
		m.logger.Info("swept expired sessions", zap.Int64("count", total))
	}
}
