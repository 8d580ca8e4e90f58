package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/callsec/pkg/realtime"
	"github.com/tsarna/callsec/pkg/realtime/auth"
	"go.uber.org/zap/zaptest"
)

type testEnv struct {
	listener *Listener
	issuer   *auth.Issuer
	srv      *httptest.Server
	wsURL    string
}

func newTestEnv(t *testing.T, configure ...func(*ListenerConfig)) *testEnv {
	t.Helper()

	issuer, err := auth.NewIssuer().WithSecret([]byte("test-secret")).Build()
	require.NoError(t, err)

	config := NewListenerConfig().
		WithLogger(zaptest.NewLogger(t)).
		WithVerifier(issuer).
		WithPingInterval(0)
	for _, fn := range configure {
		fn(config)
	}

	listener, err := config.Build()
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(listener, issuer, auth.Users{"alice": "wonderland"}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		listener.Shutdown(ctx)
		srv.Close()
	})

	return &testEnv{
		listener: listener,
		issuer:   issuer,
		srv:      srv,
		wsURL:    "ws" + strings.TrimPrefix(srv.URL, "http") + realtime.UpgradePath,
	}
}

func (e *testEnv) token(t *testing.T, subject string) string {
	t.Helper()
	token, _, err := e.issuer.Issue(subject)
	require.NoError(t, err)
	return token
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, e.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func (e *testEnv) authenticated(t *testing.T, subject string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t)
	sendJSON(t, conn, realtime.AuthEnvelope(e.token(t, subject)))

	response := readEnvelope(t, conn)
	require.Equal(t, realtime.TypeAuthResponse, response.Type)
	require.Equal(t, realtime.AuthStatusSuccess, response.Status)
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) realtime.InboundEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	env, err := realtime.ParseInbound(data)
	require.NoError(t, err)
	return env
}

func TestListenerConfig(t *testing.T) {
	_, err := NewListenerConfig().Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Logger")
	assert.Contains(t, err.Error(), "Verifier")

	config := NewListenerConfig().WithQueueSize(-1).WithAuthTimeout(0).WithPingInterval(-time.Second)
	assert.Equal(t, DefaultQueueSize, config.queueSize)
	assert.Equal(t, DefaultAuthTimeout, config.authTimeout)
	assert.Equal(t, DefaultPingInterval, config.pingInterval)
}

func TestHandshake(t *testing.T) {
	env := newTestEnv(t, func(c *ListenerConfig) { c.WithAuthTimeout(300 * time.Millisecond) })

	t.Run("valid token", func(t *testing.T) {
		env.authenticated(t, "clinic-a/alice")
		assert.Eventually(t, func() bool { return env.listener.AuthenticatedCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("invalid token", func(t *testing.T) {
		conn := env.dial(t)
		sendJSON(t, conn, realtime.AuthEnvelope("garbage"))

		response := readEnvelope(t, conn)
		assert.Equal(t, realtime.TypeAuthResponse, response.Type)
		assert.Equal(t, "failure", response.Status)
		assert.Equal(t, authInvalid, response.Message)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _, err := conn.Read(ctx)
		assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	})

	t.Run("first frame not auth", func(t *testing.T) {
		conn := env.dial(t)
		sendJSON(t, conn, map[string]string{"type": "call"})

		response := readEnvelope(t, conn)
		assert.Equal(t, "failure", response.Status)
		assert.Equal(t, authRequired, response.Message)
	})

	t.Run("silent client times out", func(t *testing.T) {
		conn := env.dial(t)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _, err := conn.Read(ctx)
		assert.Error(t, err)
	})
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(t)

	alice := env.authenticated(t, "clinic-a/alice")
	bob := env.authenticated(t, "clinic-b/bob")
	env.dial(t)

	require.Eventually(t, func() bool { return env.listener.ConnectionCount() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, env.listener.AuthenticatedCount())

	t.Run("everyone authenticated", func(t *testing.T) {
		n, err := env.listener.Broadcast(context.Background(), realtime.CategoryCall, map[string]any{"action": "new"}, "")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		for _, conn := range []*websocket.Conn{alice, bob} {
			frame := readEnvelope(t, conn)
			assert.Equal(t, "call", frame.Type)
			assert.JSONEq(t, `{"action":"new"}`, string(frame.Data))
		}
	})

	t.Run("pattern limits recipients", func(t *testing.T) {
		n, err := env.listener.Broadcast(context.Background(), realtime.CategoryMessage, map[string]any{"action": "new"}, "clinic-a/#")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		frame := readEnvelope(t, alice)
		assert.Equal(t, "message", frame.Type)

		n, err = env.listener.Broadcast(context.Background(), realtime.CategoryMessage, nil, "+/bob")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "message", readEnvelope(t, bob).Type)
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := env.listener.Broadcast(context.Background(), realtime.Category("fax"), nil, "")
		assert.Error(t, err)
	})
}

func TestMatchesSubject(t *testing.T) {
	assert.True(t, matchesSubject("", "alice"))
	assert.True(t, matchesSubject("#", "clinic/alice"))
	assert.True(t, matchesSubject("clinic/+", "clinic/alice"))
	assert.False(t, matchesSubject("clinic/+", "other/alice"))
	assert.False(t, matchesSubject("", ""))
}

func TestShutdown(t *testing.T) {
	env := newTestEnv(t)
	conn := env.authenticated(t, "alice")

	// The client has to be reading to answer the close handshake.
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(context.Background())
		readErr <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.listener.Shutdown(ctx))
	assert.Equal(t, 0, env.listener.ConnectionCount())

	select {
	case err := <-readErr:
		assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	case <-time.After(5 * time.Second):
		t.Fatal("client read did not end")
	}
}
