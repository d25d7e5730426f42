package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry()
	conn, _ := socketPair(t, "conn-1")

	unregister, err := r.Register(conn)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Count())

	got, ok := r.Get("conn-1")
	require.True(t, ok)
	assert.Same(t, conn, got)

	unregister()
	unregister()
	assert.Equal(t, 0, r.Count())

	_, ok = r.Get("conn-1")
	assert.False(t, ok)
}

func TestRegistry_RegisterNil(t *testing.T) {
	r := NewRegistry()
	unregister, err := r.Register(nil)
	assert.ErrorIs(t, err, ErrNilConnection)
	assert.NotNil(t, unregister)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_ReplaceClosesPrevious(t *testing.T) {
	r := NewRegistry()
	first, _ := socketPair(t, "conn-1")
	second, _ := socketPair(t, "conn-1")

	unregisterFirst, err := r.Register(first)
	require.NoError(t, err)
	unregisterSecond, err := r.Register(second)
	require.NoError(t, err)

	select {
	case <-first.Done():
	default:
		t.Fatal("replaced connection left open")
	}
	assert.Equal(t, 1, r.Count())

	// The stale unregister must not evict the replacement.
	unregisterFirst()
	got, ok := r.Get("conn-1")
	require.True(t, ok)
	assert.Same(t, second, got)

	unregisterSecond()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, r.Wait(ctx))
}

func TestRegistry_WaitTimesOut(t *testing.T) {
	r := NewRegistry()
	conn, _ := socketPair(t, "conn-1")

	unregister, err := r.Register(conn)
	require.NoError(t, err)
	defer unregister()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, r.Wait(ctx))
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a, _ := socketPair(t, "a")
	b, _ := socketPair(t, "b")

	_, err := r.Register(a)
	require.NoError(t, err)
	_, err = r.Register(b)
	require.NoError(t, err)

	assert.Equal(t, 2, r.CloseAll())
	for _, c := range []*Connection{a, b} {
		select {
		case <-c.Done():
		default:
			t.Fatalf("connection %s still open", c.ID())
		}
	}
}
