package config

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/callsec/pkg/realtime"
	"github.com/tsarna/callsec/pkg/realtime/websockets"
	"github.com/tsarna/go2cty2go"
	"go.uber.org/zap/zaptest"
)

//go:embed testdata/full.hcl
var fullConfig []byte

func build(t *testing.T, sources ...any) (*Config, error) {
	t.Helper()
	config, diags := NewConfig().WithLogger(zaptest.NewLogger(t)).WithSources(sources...).Build()
	if diags.HasErrors() {
		return nil, diags
	}
	return config, nil
}

func constant(t *testing.T, config *Config, name string) any {
	t.Helper()
	value, ok := config.Constants[name]
	require.True(t, ok, "constant %s not defined", name)
	v, err := go2cty2go.CtyToAny(value)
	require.NoError(t, err)
	return v
}

func TestFullConfig(t *testing.T) {
	config, err := build(t, fullConfig)
	require.NoError(t, err)

	assert.Equal(t, "Good morning, CLINIC-A", constant(t, config, "greeting"))
	assert.Equal(t, "https://api.example.com", constant(t, config, "api"))

	require.NotNil(t, config.Client)
	target, err := config.Client.Target()
	require.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/ws", target)
	assert.Equal(t, websockets.DriverCoder, config.Client.WebsocketDriver)
	assert.Equal(t, []realtime.Category{realtime.CategoryCall, realtime.CategoryMessage}, config.Client.ParsedCategories())
	assert.Equal(t, realtime.ReconnectPolicy{MaxAttempts: 8, BaseDelay: 500 * time.Millisecond, Factor: realtime.DefaultBackoffFactor}, config.Client.ReconnectPolicy)

	require.NotNil(t, config.Server)
	assert.Equal(t, DefaultListen, config.Server.Listen)
	assert.Len(t, config.Server.Secret, 64)
	assert.Equal(t, map[string]string{"reception": "hunter2"}, config.Server.Users)
	assert.Equal(t, 15*time.Minute, config.Server.TokenTTLDuration)
	assert.Zero(t, config.Server.PingIntervalDuration)

	require.Contains(t, config.Schedules, "rounds")
	assert.Equal(t, time.UTC, config.Schedules["rounds"].Location)
}

func TestConst(t *testing.T) {
	t.Run("split across sources", func(t *testing.T) {
		config, err := build(t, []byte(`const { b = a * 2 }`), []byte(`const { a = 21 }`))
		require.NoError(t, err)
		assert.Equal(t, int64(42), constant(t, config, "b"))
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("CALLSEC_TEST_CLINIC", "clinic-b")
		config, err := build(t, []byte(`const { clinic = env.CALLSEC_TEST_CLINIC }`))
		require.NoError(t, err)
		assert.Equal(t, "clinic-b", constant(t, config, "clinic"))
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := build(t, []byte(`const {
  a = b
  b = a
}`))
		assert.ErrorContains(t, err, "Circular dependency")
	})

	t.Run("missing dependency", func(t *testing.T) {
		_, err := build(t, []byte(`const { a = nope }`))
		assert.ErrorContains(t, err, "Dependency nope of a not found")
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := build(t, []byte(`const { a = 1 }`), []byte(`const { a = 2 }`))
		assert.ErrorContains(t, err, "Duplicate attribute")
	})

	t.Run("env is reserved", func(t *testing.T) {
		_, err := build(t, []byte(`const { env = 1 }`))
		assert.ErrorContains(t, err, "Reserved name")
	})
}

func TestFunctions(t *testing.T) {
	t.Run("diff and patch", func(t *testing.T) {
		config, err := build(t, []byte(`const {
  before  = { status = "ringing", caller = "Ada" }
  after   = { status = "active", caller = "Ada" }
  delta   = diff(before, after)
  patched = patch(before, delta)
  kind    = typeof(after)
}`))
		require.NoError(t, err)

		assert.Equal(t, map[string]any{"status": "active"}, constant(t, config, "delta"))
		assert.Equal(t, map[string]any{"status": "active", "caller": "Ada"}, constant(t, config, "patched"))
		assert.Equal(t, "object", constant(t, config, "kind"))
	})

	t.Run("log functions", func(t *testing.T) {
		config, err := build(t, []byte(`const { logged = log_info("hello", { clinic = "a" }) }`))
		require.NoError(t, err)
		assert.Equal(t, true, constant(t, config, "logged"))
	})

	t.Run("file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "secret"), []byte("s3cret"), 0o600))

		config, diags := NewConfig().
			WithBaseDir(dir).
			WithSources([]byte(`const { secret = file("secret") }`)).
			Build()
		require.False(t, diags.HasErrors(), diags.Error())
		assert.Equal(t, "s3cret", constant(t, config, "secret"))
	})

	t.Run("error", func(t *testing.T) {
		_, err := build(t, []byte(`const { secret = error("SECRET is not set") }`))
		assert.ErrorContains(t, err, "SECRET is not set")
	})

	t.Run("reserved name", func(t *testing.T) {
		_, err := build(t, []byte(`function "upper" {
  params = [s]
  result = s
}`))
		assert.ErrorContains(t, err, "reserved")
	})
}

func TestAssert(t *testing.T) {
	_, err := build(t, []byte(`const { secret = "short" }

assert "secret_length" {
  condition = strlen(secret) >= 8
  message   = "secret is too short"
}`))
	assert.ErrorContains(t, err, "Assertion secret_length failed: secret is too short")

	_, err = build(t, []byte(`assert "ok" { condition = true }`))
	assert.NoError(t, err)
}

func TestClientBlock(t *testing.T) {
	t.Run("explicit url and defaults", func(t *testing.T) {
		config, err := build(t, []byte(`client {
  url    = "ws://localhost:8080/ws"
  token  = "abc"
  driver = "gorilla"
}`))
		require.NoError(t, err)

		target, err := config.Client.Target()
		require.NoError(t, err)
		assert.Equal(t, "ws://localhost:8080/ws", target)
		assert.Equal(t, websockets.DriverGorilla, config.Client.WebsocketDriver)
		assert.Equal(t, realtime.DefaultReconnectPolicy(), config.Client.ReconnectPolicy)
		assert.Empty(t, config.Client.ParsedCategories())
	})

	tests := []struct {
		name   string
		source string
		expect string
	}{
		{"unknown driver", `client { driver = "nope" }`, "Invalid driver"},
		{"unknown category", `client { categories = ["fax"] }`, "Invalid category"},
		{"conflicting credentials", `client {
  token      = "a"
  token_file = "b"
}`, "Conflicting credentials"},
		{"username without api_base", `client { username = "a" }`, "Missing api_base"},
		{"bad delay", `client {
  reconnect { base_delay = "soon" }
}`, "Invalid duration"},
		{"bad factor", `client {
  reconnect { factor = 0.5 }
}`, "Invalid reconnect policy"},
		{"duplicate", "client {}\nclient {}", "Duplicate client block"},
		{"unknown attribute", `client { colour = "red" }`, "Unsupported argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := build(t, []byte(tt.source))
			assert.ErrorContains(t, err, tt.expect)
		})
	}
}

func TestServerBlock(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		_, err := build(t, []byte(`server { secret = "" }`))
		assert.ErrorContains(t, err, "Missing secret")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := build(t, []byte(`server {
  secret       = "x"
  auth_timeout = "-1s"
}`))
		assert.ErrorContains(t, err, "Invalid duration")
	})

	t.Run("explicit listen", func(t *testing.T) {
		config, err := build(t, []byte(`server {
  secret       = "x"
  listen       = "127.0.0.1:9000"
  auth_timeout = "2s"
  origins      = ["dashboard.example.com"]
}`))
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9000", config.Server.Listen)
		assert.Equal(t, 2*time.Second, config.Server.AuthTimeoutDuration)
		assert.Equal(t, []string{"dashboard.example.com"}, config.Server.Origins)
	})
}

type pushed struct {
	category realtime.Category
	data     any
	to       string
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	pushes []pushed
}

func (f *fakeBroadcaster) Broadcast(ctx context.Context, category realtime.Category, data any, to string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, pushed{category: category, data: data, to: to})
	return 1, nil
}

func TestSchedules(t *testing.T) {
	t.Run("push evaluates data", func(t *testing.T) {
		config, err := build(t, fullConfig)
		require.NoError(t, err)

		broadcaster := &fakeBroadcaster{}
		crons, diags := config.BuildSchedules(broadcaster)
		require.False(t, diags.HasErrors(), diags.Error())
		require.Contains(t, crons, "rounds")

		entries := crons["rounds"].Entries()
		require.Len(t, entries, 1)

		job, ok := entries[0].Job.(*ScheduledPush)
		require.True(t, ok)
		job.RunAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))

		require.Len(t, broadcaster.pushes, 1)
		push := broadcaster.pushes[0]
		assert.Equal(t, realtime.CategorySystem, push.category)
		assert.Equal(t, "clinic-a/#", push.to)
		assert.Equal(t, map[string]any{
			"type":    "system",
			"status":  "info",
			"message": "Good morning, CLINIC-A at 09:00",
		}, push.data)
	})

	tests := []struct {
		name   string
		source string
		expect string
	}{
		{"bad spec", `schedule "s" {
  at "every tuesday" "x" {
    category = "system"
    data     = {}
  }
}`, "Invalid schedule"},
		{"bad category", `schedule "s" {
  at "@hourly" "x" {
    category = "fax"
    data     = {}
  }
}`, "Invalid category"},
		{"bad timezone", `schedule "s" {
  timezone = "Mars/Olympus"
}`, "Invalid timezone"},
		{"duplicate", "schedule \"s\" {}\nschedule \"s\" {}", "Duplicate schedule"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := build(t, []byte(tt.source))
			assert.ErrorContains(t, err, tt.expect)
		})
	}
}

func TestParseConfigFiles(t *testing.T) {
	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(`const { a = 1 }`), 0o600))
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o700))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.hcl"), []byte(`const { b = a + 1 }`), 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`not hcl {`), 0o600))

		config, err := build(t, dir)
		require.NoError(t, err)
		assert.Equal(t, int64(2), constant(t, config, "b"))
	})

	t.Run("missing file", func(t *testing.T) {
		_, diags := ParseConfigFiles(filepath.Join(t.TempDir(), "missing.hcl"))
		assert.True(t, diags.HasErrors())
	})

	t.Run("invalid source", func(t *testing.T) {
		_, diags := ParseConfigFiles(42)
		assert.True(t, diags.HasErrors())
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := build(t, []byte(`const {`))
		assert.Error(t, err)
	})
}

func TestEnv(t *testing.T) {
	t.Run("dotenv file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("CALLSEC_TEST_DOTENV=from-file\n"), 0o600))
		t.Cleanup(func() { os.Unsetenv("CALLSEC_TEST_DOTENV") })

		require.NoError(t, LoadEnvFiles(path))
		assert.Equal(t, "from-file", os.Getenv("CALLSEC_TEST_DOTENV"))

		env := GetEnvObject()
		assert.Equal(t, "from-file", env.GetAttr("CALLSEC_TEST_DOTENV").AsString())
	})

	t.Run("existing variables win", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("CALLSEC_TEST_KEEP=file\n"), 0o600))
		t.Setenv("CALLSEC_TEST_KEEP", "process")

		require.NoError(t, LoadEnvFiles(path))
		assert.Equal(t, "process", os.Getenv("CALLSEC_TEST_KEEP"))
	})

	t.Run("missing file", func(t *testing.T) {
		assert.Error(t, LoadEnvFiles(filepath.Join(t.TempDir(), "nope")))
		assert.NoError(t, LoadEnvFiles())
	})

	t.Run("sanitize", func(t *testing.T) {
		assert.Equal(t, "_", sanitizeEnvVarName(""))
		assert.Equal(t, "_PASSWORD", sanitizeEnvVarName("1PASSWORD"))
		assert.Equal(t, "a_b-c", sanitizeEnvVarName("a.b-c"))
	})
}
