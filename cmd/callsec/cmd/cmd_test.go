package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/callsec/pkg/realtime"
	"github.com/tsarna/callsec/pkg/realtime/auth"
	"github.com/tsarna/callsec/pkg/realtime/events"
	"github.com/tsarna/callsec/pkg/realtime/websockets/server"
	"go.uber.org/zap/zaptest"
)

func TestWatchCategories(t *testing.T) {
	all, err := watchCategories(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, realtime.Categories, all)

	configured, err := watchCategories(nil, []realtime.Category{realtime.CategoryCall})
	require.NoError(t, err)
	assert.Equal(t, []realtime.Category{realtime.CategoryCall}, configured)

	explicit, err := watchCategories([]string{"message", "system"}, []realtime.Category{realtime.CategoryCall})
	require.NoError(t, err)
	assert.Equal(t, []realtime.Category{realtime.CategoryMessage, realtime.CategorySystem}, explicit)

	_, err = watchCategories([]string{"fax"}, nil)
	assert.Error(t, err)
}

func TestPrinters(t *testing.T) {
	ctx := context.Background()
	newCall := json.RawMessage(`{"action":"new","call":{"call_id":"c1","caller_name":"Ada"}}`)
	updateCall := json.RawMessage(`{"action":"update","call":{"call_id":"c1","status":"active"}}`)

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		p := &jsonPrinter{out: &lockedWriter{w: &buf}}
		require.NoError(t, p.OnEvent(ctx, realtime.CategoryCall, newCall))
		assert.Equal(t, "call\t"+string(newCall)+"\n", buf.String())
	})

	t.Run("notify", func(t *testing.T) {
		var buf bytes.Buffer
		p := &notifyPrinter{out: &lockedWriter{w: &buf}, logger: zaptest.NewLogger(t)}

		require.NoError(t, p.OnEvent(ctx, realtime.CategoryCall, newCall))
		require.NoError(t, p.OnEvent(ctx, realtime.CategoryCall, updateCall))
		require.NoError(t, p.OnEvent(ctx, realtime.CategorySystem, json.RawMessage(`{"status":"reconnecting","attempt":2,"maxAttempts":5}`)))

		assert.Equal(t, "[info] New call from Ada\nCall c1 updated\n[warning] Attempt 2/5\n", buf.String())
	})

	t.Run("changes", func(t *testing.T) {
		var buf bytes.Buffer
		out := &lockedWriter{w: &buf}
		tracker := events.NewTracker(func(c events.Change) { printChange(out, c, zaptest.NewLogger(t)) })

		require.NoError(t, tracker.OnEvent(ctx, realtime.CategoryCall, newCall))
		buf.Reset()
		require.NoError(t, tracker.OnEvent(ctx, realtime.CategoryCall, updateCall))
		assert.Equal(t, "call\tupdate\tc1\t{\"status\":\"active\"}\n", buf.String())
	})
}

func TestConnectionMonitor(t *testing.T) {
	ctx := context.Background()
	failed := make(chan error, 1)
	monitor := connectionMonitor(zaptest.NewLogger(t), nil, func() int { return 5 }, failed)

	require.NoError(t, monitor.OnEvent(ctx, realtime.CategorySystem, json.RawMessage(`{"status":"auth_failed","error":"Invalid token"}`)))
	require.NoError(t, monitor.OnEvent(ctx, realtime.CategorySystem, json.RawMessage(`{"status":"reconnecting","attempt":5,"maxAttempts":5,"delay":15187}`)))
	assert.Empty(t, failed)

	require.NoError(t, monitor.OnEvent(ctx, realtime.CategorySystem, json.RawMessage(`{"status":"reconnect_failed","error":"Maximum reconnect attempts reached"}`)))
	select {
	case err := <-failed:
		assert.EqualError(t, err, "giving up after 5 reconnect attempts")
	default:
		t.Fatal("expected a failure to be reported")
	}

	// A second give-up while the first is unread is dropped.
	require.NoError(t, monitor.OnEvent(ctx, realtime.CategorySystem, json.RawMessage(`{"status":"reconnect_failed"}`)))
	require.NoError(t, monitor.OnEvent(ctx, realtime.CategorySystem, json.RawMessage(`{"status":"reconnect_failed"}`)))
	assert.Len(t, failed, 1)
}

func TestPostEvent(t *testing.T) {
	issuer, err := auth.NewIssuer().WithSecret([]byte("test-secret")).Build()
	require.NoError(t, err)

	listener, err := server.NewListenerConfig().
		WithLogger(zaptest.NewLogger(t)).
		WithVerifier(issuer).
		Build()
	require.NoError(t, err)

	srv := httptest.NewServer(server.NewRouter(listener, issuer, nil))
	defer srv.Close()

	token, _, err := issuer.Issue("clinic-a/admin")
	require.NoError(t, err)

	ctx := context.Background()

	delivered, err := postEvent(ctx, srv.URL+"/", token, realtime.CategorySystem, "clinic-a/#", []byte(`{"message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)

	_, err = postEvent(ctx, srv.URL, "forged", realtime.CategorySystem, "", []byte(`{}`))
	assert.ErrorContains(t, err, "Could not validate credentials")
}
