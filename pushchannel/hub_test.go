package pushchannel

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/agentflow/api"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSnapshotter struct{ status api.ProxyStatus }

func (f fakeSnapshotter) Status(ctx context.Context) api.ProxyStatus { return f.status }

func TestHub_InitialSnapshotOnSubscribe(t *testing.T) {
	hub := NewHub(fakeSnapshotter{status: api.ProxyStatus{Status: "running"}}, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var evt api.PushEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, EventProxyStatus, evt.Type)
}

func TestHub_BroadcastReachesSubscriber(t *testing.T) {
	hub := NewHub(fakeSnapshotter{}, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Drain the initial proxy:status snapshot.
	_, _, err = conn.Read(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	hub.ProvidersUpdated("created", "p1", 1, 1)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var evt api.PushEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, EventProvidersUpdated, evt.Type)
}
