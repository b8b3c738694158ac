package providerfactory

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/agentflow/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRepo(t *testing.T) *storage.ProviderRepository {
	db, err := storage.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(storage.AllModels()...))
	return storage.NewProviderRepository(db)
}

func TestFactory_Build_RequiresBaseURL(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	factory := New(repo, zap.NewNop())

	require.NoError(t, repo.Create(ctx, &storage.Provider{ID: "local", Type: TypeLocalOpenAICompatible, Name: "local", Enabled: true}, nil))
	row, err := repo.Get(ctx, "local")
	require.NoError(t, err)

	_, err = factory.Build(ctx, row)
	require.Error(t, err)
}

func TestFactory_Build_LocalAndHosted(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	factory := New(repo, zap.NewNop())

	require.NoError(t, repo.Create(ctx, &storage.Provider{ID: "local", Type: TypeLocalOpenAICompatible, Name: "local", Enabled: true},
		map[string]storage.ProviderConfigEntryValue{"baseURL": {Value: "http://127.0.0.1:8000"}}))
	localRow, err := repo.Get(ctx, "local")
	require.NoError(t, err)
	p, err := factory.Build(ctx, localRow)
	require.NoError(t, err)
	require.Equal(t, "local", p.Name())

	require.NoError(t, repo.Create(ctx, &storage.Provider{ID: "hosted", Type: TypeHostedOpenAICompatible, Name: "hosted", Enabled: true},
		map[string]storage.ProviderConfigEntryValue{
			"baseURL": {Value: "https://api.example.com"},
			"apiKey":  {Value: "sk-test", IsSensitive: true},
		}))
	hostedRow, err := repo.Get(ctx, "hosted")
	require.NoError(t, err)
	p, err = factory.Build(ctx, hostedRow)
	require.NoError(t, err)
	require.Equal(t, "hosted", p.Name())
}

func TestFactory_Build_UnrecognisedType(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	factory := New(repo, zap.NewNop())

	require.NoError(t, repo.Create(ctx, &storage.Provider{ID: "weird", Type: "something-else", Name: "weird", Enabled: true},
		map[string]storage.ProviderConfigEntryValue{"baseURL": {Value: "http://x"}}))
	row, err := repo.Get(ctx, "weird")
	require.NoError(t, err)
	_, err = factory.Build(ctx, row)
	require.Error(t, err)
}

func TestParseTimeout(t *testing.T) {
	require.Equal(t, 30*time.Second, parseTimeout("30"))
	require.Equal(t, 2*time.Second, parseTimeout("2s"))
	require.Equal(t, time.Duration(0), parseTimeout(""))
}

func TestLiveRegistry_CachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	reg := NewLiveRegistry(repo, zap.NewNop())

	require.NoError(t, repo.Create(ctx, &storage.Provider{ID: "local", Type: TypeLocalOpenAICompatible, Name: "local", Enabled: true},
		map[string]storage.ProviderConfigEntryValue{"baseURL": {Value: "http://127.0.0.1:8000"}}))

	p1, err := reg.Get(ctx, "local")
	require.NoError(t, err)
	p2, err := reg.Get(ctx, "local")
	require.NoError(t, err)
	require.Same(t, p1, p2, "second Get should hit the cache")

	reg.Invalidate("local")
	p3, err := reg.Get(ctx, "local")
	require.NoError(t, err)
	require.NotSame(t, p1, p3, "after invalidation a fresh instance is built")
}

func TestLiveRegistry_RejectsDisabledProvider(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	reg := NewLiveRegistry(repo, zap.NewNop())

	require.NoError(t, repo.Create(ctx, &storage.Provider{ID: "off", Type: TypeLocalOpenAICompatible, Name: "off", Enabled: false},
		map[string]storage.ProviderConfigEntryValue{"baseURL": {Value: "http://x"}}))

	_, err := reg.Get(ctx, "off")
	require.Error(t, err)
}
