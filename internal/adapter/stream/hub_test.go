package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
)

type fakeConn struct {
	id      string
	sendErr error

	mu       sync.Mutex
	received [][]byte
	closed   int
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(_ context.Context, payload []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.received))
	for i, p := range c.received {
		out[i] = string(p)
	}
	return out
}

func newTestHub(policy ControlPolicy) *Hub {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHub(logger, metrics.NewIngestMetrics(prometheus.NewRegistry()), policy)
}

func TestHub_BroadcastIsolatesFailures(t *testing.T) {
	hub := newTestHub(nil)
	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = newFakeConn(fmt.Sprintf("c%d", i))
		hub.Connect(conns[i])
	}
	conns[2].sendErr = errors.New("broken pipe")

	res := hub.Broadcast(context.Background(), []byte("r1"))

	assert.Equal(t, 5, res.Observers)
	assert.Equal(t, 4, res.Delivered)
	assert.Equal(t, 1, res.Pruned)
	assert.False(t, res.Paused)
	for i, c := range conns {
		if i == 2 {
			assert.Empty(t, c.messages())
			assert.Equal(t, 1, c.closed)
			continue
		}
		assert.Equal(t, []string{"r1"}, c.messages())
	}
	assert.Equal(t, 4, hub.Status().Observers)

	// The pruned connection is gone; the next pass reaches the rest only.
	res = hub.Broadcast(context.Background(), []byte("r2"))
	assert.Equal(t, 4, res.Delivered)
	assert.Zero(t, res.Pruned)
}

func TestHub_PauseSequence(t *testing.T) {
	hub := newTestHub(nil)
	a, b := newFakeConn("a"), newFakeConn("b")
	hub.Connect(a)
	hub.Connect(b)

	hub.Pause()
	res := hub.Broadcast(context.Background(), []byte("dropped"))
	assert.True(t, res.Paused)
	assert.Zero(t, res.Delivered)
	assert.Empty(t, a.messages())
	assert.Empty(t, b.messages())

	hub.Resume()
	res = hub.Broadcast(context.Background(), []byte("live"))
	assert.False(t, res.Paused)
	assert.Equal(t, 2, res.Delivered)

	// Nothing sent while paused is replayed.
	assert.Equal(t, []string{"live"}, a.messages())
	assert.Equal(t, []string{"live"}, b.messages())
}

func TestHub_PauseDoesNotChangeMembership(t *testing.T) {
	hub := newTestHub(nil)
	hub.Connect(newFakeConn("a"))
	hub.Pause()
	hub.Pause()

	st := hub.Status()
	assert.Equal(t, 1, st.Observers)
	assert.True(t, st.Paused)

	hub.Resume()
	assert.False(t, hub.Paused())
}

func TestHub_DisconnectIsIdempotent(t *testing.T) {
	hub := newTestHub(nil)
	c := newFakeConn("a")
	hub.Connect(c)

	assert.True(t, hub.Disconnect(c))
	assert.False(t, hub.Disconnect(c))
	assert.False(t, hub.Disconnect(newFakeConn("never-connected")))
	assert.Zero(t, hub.Status().Observers)
}

func TestHub_DisconnectIgnoresReplacedConn(t *testing.T) {
	hub := newTestHub(nil)
	old, replacement := newFakeConn("same"), newFakeConn("same")
	hub.Connect(old)
	hub.Connect(replacement)

	assert.False(t, hub.Disconnect(old))
	assert.Equal(t, 1, hub.Status().Observers)
}

func TestHub_BroadcastWithNoObservers(t *testing.T) {
	hub := newTestHub(nil)
	res := hub.Broadcast(context.Background(), []byte("r"))
	assert.Zero(t, res.Observers)
	assert.Zero(t, res.Delivered)
	assert.False(t, res.Paused)
}

func TestHub_PreservesOrderPerConnection(t *testing.T) {
	hub := newTestHub(nil)
	c := newFakeConn("a")
	hub.Connect(c)

	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprintf("r%d", i)
		hub.Broadcast(context.Background(), []byte(want[i]))
	}
	assert.Equal(t, want, c.messages())
}

func TestHub_ConcurrentMembershipAndBroadcast(t *testing.T) {
	hub := newTestHub(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i))
			hub.Connect(c)
			hub.Disconnect(c)
		}(i)
		go func() {
			defer wg.Done()
			hub.Broadcast(context.Background(), []byte("x"))
		}()
	}
	wg.Wait()
	assert.Zero(t, hub.Status().Observers)
}

func TestHub_Control(t *testing.T) {
	t.Run("hub wide", func(t *testing.T) {
		hub := newTestHub(HubWide{})
		a, b := newFakeConn("a"), newFakeConn("b")
		hub.Connect(a)
		hub.Connect(b)

		assert.True(t, hub.Control(a, "pause"))
		res := hub.Broadcast(context.Background(), []byte("x"))
		assert.True(t, res.Paused)
		assert.Empty(t, b.messages())

		assert.True(t, hub.Control(b, "resume"))
		assert.False(t, hub.Paused())
	})

	t.Run("per connection", func(t *testing.T) {
		hub := newTestHub(PerConnection{})
		a, b := newFakeConn("a"), newFakeConn("b")
		hub.Connect(a)
		hub.Connect(b)

		hub.Control(a, "pause")
		res := hub.Broadcast(context.Background(), []byte("x"))
		assert.False(t, res.Paused)
		assert.Equal(t, 1, res.Delivered)
		assert.Empty(t, a.messages())
		assert.Equal(t, []string{"x"}, b.messages())
		assert.Equal(t, 1, hub.Status().PausedObservers)

		hub.Control(a, "resume")
		res = hub.Broadcast(context.Background(), []byte("y"))
		assert.Equal(t, 2, res.Delivered)
	})

	t.Run("unknown action ignored", func(t *testing.T) {
		hub := newTestHub(nil)
		a := newFakeConn("a")
		hub.Connect(a)

		assert.False(t, hub.Control(a, "stop"))
		assert.False(t, hub.Control(a, ""))
		assert.False(t, hub.Paused())
	})
}

func TestPolicyFor(t *testing.T) {
	p, err := PolicyFor("")
	require.NoError(t, err)
	assert.Equal(t, ScopeHub, p.Scope())

	p, err = PolicyFor("connection")
	require.NoError(t, err)
	assert.Equal(t, ScopeConnection, p.Scope())

	_, err = PolicyFor("tenant")
	assert.Error(t, err)
}

func TestHub_CloseAll(t *testing.T) {
	hub := newTestHub(nil)
	a, b := newFakeConn("a"), newFakeConn("b")
	hub.Connect(a)
	hub.Connect(b)

	hub.CloseAll()
	assert.Zero(t, hub.Status().Observers)
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
}
