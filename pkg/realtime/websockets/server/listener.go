package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/coder/websocket"
	"github.com/tsarna/callsec/pkg/realtime"
	"go.uber.org/zap"
)

// Listener accepts realtime clients, runs the auth handshake with each and
// pushes category events to the authenticated ones.
type Listener struct {
	logger  *zap.Logger
	config  *ListenerConfig
	metrics *serverMetrics

	// Connection tracking for broadcast and graceful shutdown
	connections  map[*Connection]struct{}
	connMutex    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func newListener(config *ListenerConfig) *Listener {
	return &Listener{
		logger:      config.logger,
		config:      config,
		metrics:     newServerMetrics(config.metrics),
		connections: make(map[*Connection]struct{}),
		shutdown:    make(chan struct{}),
	}
}

// ServeWebsocket upgrades the request and runs the connection until it
// closes.
//
//	router.HandleFunc("/ws", listener.ServeWebsocket)
func (l *Listener) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: l.config.originPatterns,
	})
	if err != nil {
		l.logger.Error("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
		return
	}

	select {
	case <-l.shutdown:
		l.logger.Debug("Rejecting new connection due to shutdown")
		conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
	}

	connection := newConnection(r.Context(), conn, l.config, l.metrics)

	l.connMutex.Lock()
	l.connections[connection] = struct{}{}
	connCount := len(l.connections)
	l.connMutex.Unlock()
	l.metrics.recordConnections(r.Context(), connCount)

	connection.logger.Debug("WebSocket connection tracked",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("active_connections", connCount),
	)

	connection.Start()

	l.connMutex.Lock()
	delete(l.connections, connection)
	connCount = len(l.connections)
	l.connMutex.Unlock()
	l.metrics.recordConnections(context.Background(), connCount)

	connection.logger.Debug("WebSocket connection removed from tracking",
		zap.Int("active_connections", connCount),
	)
}

// Broadcast sends a category event to every authenticated connection whose
// subject matches the MQTT-style pattern to. An empty pattern reaches
// everyone. It returns the number of connections the event was queued for.
func (l *Listener) Broadcast(ctx context.Context, category realtime.Category, data any, to string) (int, error) {
	if !category.Valid() {
		return 0, fmt.Errorf("unknown category %q", category)
	}

	frame, err := json.Marshal(realtime.EventEnvelope{Type: category, Data: data})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal %s event: %w", category, err)
	}

	l.connMutex.RLock()
	targets := make([]*Connection, 0, len(l.connections))
	for conn := range l.connections {
		if matchesSubject(to, conn.Subject()) {
			targets = append(targets, conn)
		}
	}
	l.connMutex.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if conn.enqueue(frame) {
			delivered++
		}
	}

	l.metrics.recordBroadcast(ctx, string(category), delivered)
	l.logger.Debug("Broadcast event",
		zap.String("category", string(category)),
		zap.String("to", to),
		zap.Int("delivered", delivered),
	)

	return delivered, nil
}

func matchesSubject(pattern, subject string) bool {
	if subject == "" {
		return false
	}
	if pattern == "" {
		return true
	}
	return mqttpattern.Matches(pattern, subject)
}

// Shutdown stops accepting connections, closes the active ones with
// StatusGoingAway and waits for them to finish or for ctx to end.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.logger.Info("Starting graceful WebSocket shutdown")

		close(l.shutdown)

		l.connMutex.RLock()
		connections := make([]*Connection, 0, len(l.connections))
		for conn := range l.connections {
			connections = append(connections, conn)
		}
		l.connMutex.RUnlock()

		if len(connections) == 0 {
			l.logger.Info("No active connections to close")
			return
		}

		l.logger.Info("Closing active WebSocket connections",
			zap.Int("connection_count", len(connections)),
		)

		for _, conn := range connections {
			go conn.shutdownClose(websocket.StatusGoingAway, "Server shutting down")
		}
	})

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		remaining := l.ConnectionCount()
		if remaining == 0 {
			l.logger.Info("All WebSocket connections closed successfully")
			return nil
		}

		select {
		case <-ctx.Done():
			l.logger.Warn("Shutdown timeout reached with active connections",
				zap.Int("remaining_connections", remaining),
			)
			return ctx.Err()

		case <-ticker.C:
		}
	}
}

// ConnectionCount returns the current number of open connections,
// authenticated or not.
func (l *Listener) ConnectionCount() int {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	return len(l.connections)
}

// AuthenticatedCount returns the number of connections that completed the
// handshake.
func (l *Listener) AuthenticatedCount() int {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()

	n := 0
	for conn := range l.connections {
		if conn.authenticated.Load() {
			n++
		}
	}
	return n
}
