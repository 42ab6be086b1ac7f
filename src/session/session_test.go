package session

import (
	"context"
	"testing"
	"time"

	"github.com/pulsegate/socket/src/store/storetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStartsEmpty(t *testing.T) {
	st := storetest.New()
	sessions := New(st, "test:", time.Minute, zerolog.Nop())

	sess, err := sessions.Open(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.ID())
	assert.Empty(t, sess.ConnectID())
}

func TestSaveWritesFieldsAndRefreshesTTL(t *testing.T) {
	st := storetest.New()
	sessions := New(st, "test:", time.Minute, zerolog.Nop())
	ctx := context.Background()

	sess, err := sessions.Open(ctx, "alice")
	require.NoError(t, err)
	sess.SetConnectID("7")
	sess.Set("role", "admin")
	sess.SetKeepAlive(true)
	require.NoError(t, sess.Save(ctx))

	assert.Equal(t, map[string]string{"connect_id": "7", "role": "admin"}, st.Hash("test:sess:alice"))
	assert.Equal(t, time.Minute, st.TTL("test:sess:alice"))
}

func TestSaveWithoutKeepAliveSkipsTTL(t *testing.T) {
	st := storetest.New()
	sessions := New(st, "test:", time.Minute, zerolog.Nop())
	ctx := context.Background()

	sess, err := sessions.Open(ctx, "bob")
	require.NoError(t, err)
	sess.Set("k", "v")
	require.NoError(t, sess.Save(ctx))

	assert.Zero(t, st.TTL("test:sess:bob"))
}

func TestReopenSeesSavedState(t *testing.T) {
	st := storetest.New()
	sessions := New(st, "test:", time.Minute, zerolog.Nop())
	ctx := context.Background()

	first, err := sessions.Open(ctx, "carol")
	require.NoError(t, err)
	first.SetConnectID("42")
	require.NoError(t, first.Save(ctx))

	second, err := sessions.Open(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, "42", second.ConnectID())
}

func TestSaveOnlyWritesDirtyFields(t *testing.T) {
	st := storetest.New()
	sessions := New(st, "test:", time.Minute, zerolog.Nop())
	ctx := context.Background()

	sess, err := sessions.Open(ctx, "dave")
	require.NoError(t, err)
	sess.Set("a", "1")
	require.NoError(t, sess.Save(ctx))

	// A second Save with nothing new buffered is a pure TTL refresh.
	sess.SetKeepAlive(true)
	require.NoError(t, sess.Save(ctx))
	assert.Equal(t, map[string]string{"a": "1"}, st.Hash("test:sess:dave"))
	assert.Equal(t, time.Minute, st.TTL("test:sess:dave"))
}
