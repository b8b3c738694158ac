package session

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/agentflow/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *storage.SessionRepository) {
	db, err := storage.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(storage.AllModels()...))

	repo := storage.NewSessionRepository(db)
	return New(repo, zap.NewNop(), opts...), repo
}

func TestIDFor_StableAcrossCalls(t *testing.T) {
	require.Equal(t, IDFor("hi"), IDFor("hi"))
	require.Len(t, IDFor("hi"), 32)
}

func TestManager_Resolve_CreatesThenReuses(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	turn1, unlock1, err := m.Resolve(ctx, "hi")
	require.NoError(t, err)
	require.True(t, turn1.Created)
	unlock1()

	require.NoError(t, m.Complete(ctx, turn1.ID, "chat-1", "msg-1"))

	turn2, unlock2, err := m.Resolve(ctx, "hi")
	require.NoError(t, err)
	defer unlock2()
	require.False(t, turn2.Created)
	require.Equal(t, turn1.ID, turn2.ID)
	require.Equal(t, "chat-1", turn2.ChatID)
	require.Equal(t, "msg-1", turn2.ParentID)
	require.Equal(t, 1, turn2.MessageCount)
}

func TestManager_Resolve_ExpiredSessionTreatedAsNew(t *testing.T) {
	ctx := context.Background()
	m, repo := newTestManager(t, WithTTL(time.Millisecond))

	turn1, unlock1, err := m.Resolve(ctx, "hi")
	require.NoError(t, err)
	unlock1()
	require.NoError(t, m.Complete(ctx, turn1.ID, "chat-1", "msg-1"))

	time.Sleep(5 * time.Millisecond)

	turn2, unlock2, err := m.Resolve(ctx, "hi")
	require.NoError(t, err)
	defer unlock2()
	require.True(t, turn2.Created)

	_, err = repo.Get(ctx, turn1.ID)
	require.NoError(t, err, "id is reused for the fresh row")
}

func TestManager_SweepRemovesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	m, repo := newTestManager(t, WithTTL(time.Millisecond), WithSweepInterval(10*time.Millisecond))

	turn, unlock, err := m.Resolve(ctx, "hi")
	require.NoError(t, err)
	unlock()
	require.NoError(t, m.Complete(ctx, turn.ID, "chat-1", ""))

	time.Sleep(5 * time.Millisecond)
	m.StartSweeper()
	defer m.Stop()

	require.Eventually(t, func() bool {
		_, err := repo.Get(ctx, turn.ID)
		return err == storage.ErrNotFound
	}, 2*time.Second, 20*time.Millisecond)
}
