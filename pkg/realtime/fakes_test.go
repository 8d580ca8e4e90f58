package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTransport struct {
	handler TransportHandler

	mu         sync.Mutex
	sent       [][]byte
	closed     bool
	closeCode  int
	closeCalls int
	sendErr    error
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, append([]byte(nil), data...))
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeCode = code
	t.closeCalls++
	return nil
}

func (t *fakeTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, s := range t.sent {
		out[i] = string(s)
	}
	return out
}

func (t *fakeTransport) open() { t.handler.HandleOpen() }

func (t *fakeTransport) receive(frame string) { t.handler.HandleMessage([]byte(frame)) }

func (t *fakeTransport) closeWith(code int) { t.handler.HandleClose(code, "") }

func (t *fakeTransport) fail(err error) { t.handler.HandleError(err) }

func (t *fakeTransport) authSucceeds() {
	t.receive(`{"type":"auth_response","status":"success"}`)
}

func (t *fakeTransport) authFails(message string) {
	t.receive(`{"type":"auth_response","status":"failure","message":"` + message + `"}`)
}

type fakeDialer struct {
	mu         sync.Mutex
	targets    []string
	transports []*fakeTransport
	err        error
}

func (d *fakeDialer) Dial(target string, handler TransportHandler) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets = append(d.targets, target)
	if d.err != nil {
		return nil, d.err
	}
	t := &fakeTransport{handler: handler}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) Last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// pick returns any transport dialed so far, current or stale.
func (d *fakeDialer) pick(rng *rand.Rand) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[rng.IntN(len(d.transports))]
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

// fakeClock records scheduled reconnects instead of waiting for them.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func (c *fakeClock) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// pick returns any timer scheduled so far, stopped or not.
func (c *fakeClock) pick(rng *rand.Rand) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[rng.IntN(len(c.timers))]
}

// fire runs the last timer the way time.AfterFunc would, stopped or not.
func (c *fakeClock) fire() {
	c.Last().fn()
}

// recorder collects everything delivered to it.
type recorder struct {
	mu       sync.Mutex
	payloads []json.RawMessage
}

func (r *recorder) OnEvent(ctx context.Context, category Category, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recorder) Payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.payloads))
	for i, p := range r.payloads {
		out[i] = string(p)
	}
	return out
}

func (r *recorder) System(t *testing.T) []SystemEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SystemEvent, 0, len(r.payloads))
	for _, p := range r.payloads {
		ev, err := DecodeSystemEvent(p)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func (r *recorder) Statuses(t *testing.T) []string {
	t.Helper()
	events := r.System(t)
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Status
	}
	return out
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = nil
}

type failingSubscriber struct {
	BaseSubscriber
}

func (f *failingSubscriber) OnEvent(ctx context.Context, category Category, payload json.RawMessage) error {
	return errors.New("subscriber failed")
}

type panickingSubscriber struct {
	BaseSubscriber
}

func (p *panickingSubscriber) OnEvent(ctx context.Context, category Category, payload json.RawMessage) error {
	panic("boom")
}

type testHarness struct {
	client *Client
	dialer *fakeDialer
	clock  *fakeClock
	system *recorder
}

func newHarness(t *testing.T, configure ...func(*ClientBuilder)) *testHarness {
	t.Helper()

	dialer := &fakeDialer{}
	clock := &fakeClock{}

	builder := NewClient().
		WithURL("ws://localhost:8080/ws").
		WithLogger(zaptest.NewLogger(t)).
		WithDialer(dialer).
		WithToken("secret-token")
	builder.afterFunc = clock.AfterFunc

	for _, fn := range configure {
		fn(builder)
	}

	client, err := builder.Build()
	require.NoError(t, err)

	system := &recorder{}
	require.True(t, client.On(CategorySystem, system))

	return &testHarness{
		client: client,
		dialer: dialer,
		clock:  clock,
		system: system,
	}
}

// authenticated connects and walks the handshake to StateAuthenticated.
func (h *testHarness) authenticated(t *testing.T) *fakeTransport {
	t.Helper()
	require.True(t, h.client.Connect())
	tr := h.dialer.Last()
	tr.open()
	tr.authSucceeds()
	require.Equal(t, StateAuthenticated, h.client.State())
	return tr
}
