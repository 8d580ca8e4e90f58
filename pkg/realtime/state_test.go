package realtime

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionState(t *testing.T) {
	t.Run("string", func(t *testing.T) {
		assert.Equal(t, "disconnected", StateDisconnected.String())
		assert.Equal(t, "connecting", StateConnecting.String())
		assert.Equal(t, "connected", StateConnected.String())
		assert.Equal(t, "authenticated", StateAuthenticated.String())
		assert.Equal(t, "reconnecting", StateReconnecting.String())
		assert.Equal(t, "failed", StateFailed.String())
		assert.Equal(t, "unknown", ConnectionState(42).String())
	})

	t.Run("open states", func(t *testing.T) {
		assert.True(t, StateConnected.IsOpen())
		assert.True(t, StateAuthenticated.IsOpen())
		assert.False(t, StateConnecting.IsOpen())
		assert.False(t, StateReconnecting.IsOpen())
		assert.False(t, StateDisconnected.IsOpen())
		assert.False(t, StateFailed.IsOpen())
	})

	t.Run("transitions", func(t *testing.T) {
		tests := []struct {
			from, to ConnectionState
			legal    bool
		}{
			{StateDisconnected, StateConnecting, true},
			{StateConnecting, StateConnected, true},
			{StateConnected, StateAuthenticated, true},
			{StateAuthenticated, StateDisconnected, true},
			{StateConnected, StateDisconnected, true},
			{StateDisconnected, StateReconnecting, true},
			{StateReconnecting, StateConnecting, true},
			{StateDisconnected, StateFailed, true},
			{StateFailed, StateConnecting, true},

			{StateDisconnected, StateAuthenticated, false},
			{StateConnecting, StateAuthenticated, false},
			{StateAuthenticated, StateConnected, false},
			{StateFailed, StateReconnecting, false},
			{StateReconnecting, StateFailed, false},
			{StateConnected, StateReconnecting, false},
		}

		for _, tt := range tests {
			assert.Equal(t, tt.legal, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
		}
	})
}

func TestReconnectPolicy(t *testing.T) {
	t.Run("default delays", func(t *testing.T) {
		p := DefaultReconnectPolicy()
		assert.Equal(t, 5, p.MaxAttempts)
		assert.Equal(t, 3*time.Second, p.Delay(1))
		assert.Equal(t, 4500*time.Millisecond, p.Delay(2))
		assert.Equal(t, 6750*time.Millisecond, p.Delay(3))
		assert.Equal(t, 10125*time.Millisecond, p.Delay(4))
		assert.Equal(t, 15187500*time.Microsecond, p.Delay(5))
	})

	t.Run("attempt below one", func(t *testing.T) {
		p := DefaultReconnectPolicy()
		assert.Equal(t, p.Delay(1), p.Delay(0))
		assert.Equal(t, p.Delay(1), p.Delay(-3))
	})

	t.Run("delays never decrease", func(t *testing.T) {
		p := ReconnectPolicy{MaxAttempts: 50, BaseDelay: 100 * time.Millisecond, Factor: 2}
		prev := time.Duration(0)
		for n := 1; n <= 100; n++ {
			d := p.Delay(n)
			assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
			prev = d
		}
	})

	t.Run("saturates at the largest duration", func(t *testing.T) {
		p := ReconnectPolicy{MaxAttempts: 3, BaseDelay: time.Duration(1 << 62), Factor: 2}
		assert.Equal(t, time.Duration(math.MaxInt64), p.Delay(2))
		assert.Equal(t, time.Duration(math.MaxInt64), p.Delay(3))
		assert.Equal(t, time.Duration(math.MaxInt64), ReconnectPolicy{BaseDelay: time.Hour, Factor: 10}.Delay(40))
	})

	t.Run("constant backoff", func(t *testing.T) {
		p := ReconnectPolicy{MaxAttempts: 3, BaseDelay: time.Second, Factor: 1}
		assert.Equal(t, time.Second, p.Delay(3))
	})

	t.Run("validate", func(t *testing.T) {
		assert.NoError(t, DefaultReconnectPolicy().Validate())
		assert.NoError(t, ReconnectPolicy{MaxAttempts: 0, BaseDelay: 0, Factor: 1}.Validate())
		assert.Error(t, ReconnectPolicy{MaxAttempts: -1, BaseDelay: time.Second, Factor: 2}.Validate())
		assert.Error(t, ReconnectPolicy{MaxAttempts: 1, BaseDelay: -time.Second, Factor: 2}.Validate())
		assert.Error(t, ReconnectPolicy{MaxAttempts: 1, BaseDelay: time.Second, Factor: 0.9}.Validate())
	})
}
