package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pulsegate/socket/config"
	"github.com/pulsegate/socket/src/actions"
	"github.com/pulsegate/socket/src/session"
	"github.com/pulsegate/socket/src/store/storetest"
	"github.com/pulsegate/socket/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameStep struct {
	payload []byte
	ft      types.FrameType
	err     error
}

// mockTransport replays a scripted frame sequence and records sends. When
// the script runs out it reports a client close.
type mockTransport struct {
	mu     sync.Mutex
	frames []frameStep
	sent   [][]byte
	pongs  int
	closes int
}

func (m *mockTransport) ReceiveFrame(time.Duration) ([]byte, types.FrameType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return nil, types.FrameClose, nil
	}
	s := m.frames[0]
	m.frames = m.frames[1:]
	return s.payload, s.ft, s.err
}

func (m *mockTransport) SendText(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, append([]byte(nil), payload...))
	return nil
}

func (m *mockTransport) SendPong() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pongs++
	return nil
}

func (m *mockTransport) SendClose() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *mockTransport) sentMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([][]byte, len(m.sent))
	copy(cp, m.sent)
	return cp
}

func (m *mockTransport) pongCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pongs
}

func testConfig() *config.SocketConfig {
	cfg := config.DefaultConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	cfg.KeyPrefix = "test:"
	return cfg
}

// newTestConn builds an authenticated connection over an in-memory store.
func newTestConn(t *testing.T, st *storetest.Store, runner types.ActionRunner, hooks Hooks) *Conn {
	t.Helper()
	cfg := testConfig()
	sessions := session.New(st, cfg.KeyPrefix, time.Minute, zerolog.Nop())
	c := New(cfg, st, sessions, runner, hooks, zerolog.Nop())
	req := &types.Request{AuthHeader: []string{"bearer, alice"}}
	require.NoError(t, c.Authenticate(context.Background(), req))
	return c
}

func echoRunner(t *testing.T) types.ActionRunner {
	t.Helper()
	reg := actions.NewRegistry()
	reg.Register("ping", actions.Func(func(context.Context, *types.Envelope) (any, error) {
		return map[string]any{"pong": true}, nil
	}))
	reg.Register("notify", actions.Func(func(context.Context, *types.Envelope) (any, error) {
		return nil, nil
	}))
	reg.Register("scalar", actions.Func(func(context.Context, *types.Envelope) (any, error) {
		return "not-an-object", nil
	}))
	reg.Register("fail", actions.Func(func(context.Context, *types.Envelope) (any, error) {
		return nil, errors.New("handler exploded")
	}))
	return reg.Runner()
}

func TestAuthenticateRejectsBadRequests(t *testing.T) {
	st := storetest.New()
	cfg := testConfig()
	sessions := session.New(st, cfg.KeyPrefix, time.Minute, zerolog.Nop())

	cases := []struct {
		name string
		req  *types.Request
	}{
		{"headers already sent", &types.Request{HeadersSent: true, AuthHeader: []string{"bearer, tok"}}},
		{"missing header", &types.Request{}},
		{"pattern mismatch", &types.Request{AuthHeader: []string{"basic dXNlcg=="}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New(cfg, st, sessions, echoRunner(t), nil, zerolog.Nop())
			assert.Error(t, c.Authenticate(context.Background(), tc.req))
		})
	}
}

func TestAuthenticateBindsSessionAndChannel(t *testing.T) {
	st := storetest.New()
	c := newTestConn(t, st, echoRunner(t), nil)

	id, err := c.ID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", id)
	assert.Equal(t, "test:conn:1", c.Channel())

	sess := c.Session()
	require.NotNil(t, sess)
	assert.Equal(t, "alice", sess.ID())
	assert.Equal(t, id, sess.ConnectID())
	assert.Equal(t, id, st.Hash("test:sess:alice")["connect_id"])
}

func TestRunRequiresAuthentication(t *testing.T) {
	st := storetest.New()
	cfg := testConfig()
	sessions := session.New(st, cfg.KeyPrefix, time.Minute, zerolog.Nop())
	c := New(cfg, st, sessions, echoRunner(t), nil, zerolog.Nop())

	err := c.Run(context.Background(), &mockTransport{})
	assert.Error(t, err)
}

func TestCorrelatedRequestReply(t *testing.T) {
	st := storetest.New()
	c := newTestConn(t, st, echoRunner(t), nil)

	mt := &mockTransport{frames: []frameStep{
		{payload: []byte(`{"__id":"42","action":"ping"}`), ft: types.FrameText},
	}}
	require.NoError(t, c.Run(context.Background(), mt))

	sent := mt.sentMessages()
	require.Len(t, sent, 1)
	var reply map[string]any
	require.NoError(t, json.Unmarshal(sent[0], &reply))
	assert.Equal(t, "42", reply["__id"])
	assert.Equal(t, true, reply["pong"])
	assert.Equal(t, StateClosed, c.State())
}

func TestCorrelationIDRoundTripsVerbatim(t *testing.T) {
	st := storetest.New()
	c := newTestConn(t, st, echoRunner(t), nil)

	// Numeric id must come back as a number, not a string.
	mt := &mockTransport{frames: []frameStep{
		{payload: []byte(`{"__id":7,"action":"ping"}`), ft: types.FrameText},
	}}
	require.NoError(t, c.Run(context.Background(), mt))

	sent := mt.sentMessages()
	require.Len(t, sent, 1)
	var reply map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(sent[0], &reply))
	assert.Equal(t, "7", string(reply["__id"]))
}

func TestNoReplyCases(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"handler returned nothing", `{"__id":"1","action":"notify"}`},
		{"handler returned a non-object", `{"__id":"1","action":"scalar"}`},
		{"no correlation id", `{"action":"ping"}`},
		{"handler error", `{"__id":"1","action":"fail"}`},
		{"unknown action", `{"__id":"1","action":"nope"}`},
		{"malformed message", `[1,2,3]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := storetest.New()
			c := newTestConn(t, st, echoRunner(t), nil)
			mt := &mockTransport{frames: []frameStep{
				{payload: []byte(tc.payload), ft: types.FrameText},
			}}
			require.NoError(t, c.Run(context.Background(), mt))
			assert.Empty(t, mt.sentMessages())
			assert.Equal(t, StateClosed, c.State())
		})
	}
}

func TestPingProducesOnePong(t *testing.T) {
	st := storetest.New()
	c := newTestConn(t, st, echoRunner(t), nil)

	mt := &mockTransport{frames: []frameStep{
		{ft: types.FramePing},
		{ft: types.FramePong},
	}}
	require.NoError(t, c.Run(context.Background(), mt))
	assert.Equal(t, 1, mt.pongCount())
}

func TestReceiveTimeoutIsAPoll(t *testing.T) {
	st := storetest.New()
	c := newTestConn(t, st, echoRunner(t), nil)

	mt := &mockTransport{frames: []frameStep{
		{err: types.ErrReceiveAgain},
		{err: types.ErrReceiveAgain},
		{payload: []byte(`{"__id":"9","action":"ping"}`), ft: types.FrameText},
	}}
	require.NoError(t, c.Run(context.Background(), mt))
	assert.Len(t, mt.sentMessages(), 1)
}

func TestFatalReceiveErrorEndsLoop(t *testing.T) {
	st := storetest.New()
	c := newTestConn(t, st, echoRunner(t), nil)

	mt := &mockTransport{frames: []frameStep{
		{err: errors.New("connection reset")},
		// Never reached.
		{payload: []byte(`{"__id":"1","action":"ping"}`), ft: types.FrameText},
	}}
	require.NoError(t, c.Run(context.Background(), mt))
	assert.Empty(t, mt.sentMessages())
	assert.Equal(t, StateClosed, c.State())
}

func TestFragmentedRequestDispatchesOnce(t *testing.T) {
	st := storetest.New()
	c := newTestConn(t, st, echoRunner(t), nil)

	mt := &mockTransport{frames: []frameStep{
		{payload: []byte(`{"__id":"f1",`), ft: types.FrameContinuation},
		{payload: []byte(`"action":`), ft: types.FrameContinuation},
		{payload: []byte(`"ping"}`), ft: types.FrameText},
	}}
	require.NoError(t, c.Run(context.Background(), mt))

	sent := mt.sentMessages()
	require.Len(t, sent, 1)
	var reply map[string]any
	require.NoError(t, json.Unmarshal(sent[0], &reply))
	assert.Equal(t, "f1", reply["__id"])
}

func TestShutdownRemovesTagMapping(t *testing.T) {
	st := storetest.New()
	c := newTestConn(t, st, echoRunner(t), nil)
	require.NoError(t, c.SetTag(context.Background(), "alice-tag"))

	mt := &mockTransport{}
	require.NoError(t, c.Run(context.Background(), mt))

	assert.Empty(t, st.Hash("test:id2tag"))
	assert.Empty(t, st.Hash("test:tag2id"))
}

// lifecycleHooks records hook invocation order and sets a tag before the
// loop starts.
type lifecycleHooks struct {
	NopHooks
	mu    sync.Mutex
	order []string
}

func (h *lifecycleHooks) record(s string) {
	h.mu.Lock()
	h.order = append(h.order, s)
	h.mu.Unlock()
}

func (h *lifecycleHooks) SessionID(token string) string { return "sess-" + token }
func (h *lifecycleHooks) BeforeReady(ctx context.Context, c *Conn) {
	h.record("before-ready")
	_ = c.SetTag(ctx, "hooked")
}
func (h *lifecycleHooks) AfterReady(context.Context, *Conn)  { h.record("after-ready") }
func (h *lifecycleHooks) BeforeClose(context.Context, *Conn) { h.record("before-close") }
func (h *lifecycleHooks) AfterClose(context.Context, *Conn)  { h.record("after-close") }

func TestHooksRunInOrder(t *testing.T) {
	st := storetest.New()
	hooks := &lifecycleHooks{}
	c := newTestConn(t, st, echoRunner(t), hooks)

	tag, err := c.Tag(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tag)

	require.NoError(t, c.Run(context.Background(), &mockTransport{}))
	assert.Equal(t, []string{"before-ready", "after-ready", "before-close", "after-close"}, hooks.order)
	assert.Equal(t, "sess-alice", c.Session().ID())

	// Tag set by BeforeReady was cleaned up on close.
	assert.Empty(t, st.Hash("test:tag2id"))
}

func TestPanickingHookBecomesInternalError(t *testing.T) {
	st := storetest.New()
	c := newTestConn(t, st, echoRunner(t), panicHooks{})
	err := c.Run(context.Background(), &mockTransport{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal error")
}

type panicHooks struct{ NopHooks }

func (panicHooks) BeforeReady(context.Context, *Conn) { panic("hook broke") }
