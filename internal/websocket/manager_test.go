package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"devtoolkit/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type gaugeRecorder struct {
	mu   sync.Mutex
	last int
}

func (g *gaugeRecorder) SetLiveSubscriptions(n int) {
	g.mu.Lock()
	g.last = n
	g.mu.Unlock()
}

func (g *gaugeRecorder) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

type recorderWithGauge struct {
	metrics.Nop
	g *gaugeRecorder
}

func (r recorderWithGauge) SetLiveSubscriptions(n int) { r.g.SetLiveSubscriptions(n) }

func startManager(t *testing.T, cfg Config, g *gaugeRecorder) *Manager {
	t.Helper()
	m := NewManager(cfg, recorderWithGauge{g: g}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	return m
}

func register(t *testing.T, m *Manager, id, userID string) *Client {
	t.Helper()
	c := NewClient(id, userID, nil, m)
	m.Register <- c
	require.Eventually(t, func() bool {
		m.clientsMutex.RLock()
		defer m.clientsMutex.RUnlock()
		_, ok := m.clients[id]
		return ok
	}, time.Second, time.Millisecond)
	return c
}

func readSnapshot(t *testing.T, c *Client) SnapshotPayload {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		require.Equal(t, TypeSnapshot, msg.Type)
		var p SnapshotPayload
		require.NoError(t, msg.UnmarshalPayload(&p))
		return p
	default:
		t.Fatal("no message queued")
		return SnapshotPayload{}
	}
}

func docs(ids ...string) Loader {
	return func() ([]DocumentPayload, error) {
		out := make([]DocumentPayload, 0, len(ids))
		for _, id := range ids {
			out = append(out, DocumentPayload{ID: id, Fields: map[string]interface{}{}})
		}
		return out, nil
	}
}

func TestPublishReachesOnlySubscribers(t *testing.T) {
	g := &gaugeRecorder{}
	m := startManager(t, Config{}, g)

	a := register(t, m, "a", "u1")
	b := register(t, m, "b", "u1")
	require.Equal(t, 2, m.GetUserConnections("u1"))

	require.NoError(t, m.Subscribe(a, "users/u1/favorites"))
	assert.Equal(t, 1, g.value())

	require.NoError(t, m.Publish("users/u1/favorites", docs("tool_a")))

	p := readSnapshot(t, a)
	assert.Equal(t, "users/u1/favorites", p.Collection)
	assert.Equal(t, uint64(1), p.Seq)
	require.Len(t, p.Docs, 1)
	assert.Equal(t, "tool_a", p.Docs[0].ID)
	assert.Empty(t, b.Send)
}

func TestSeqIncreasesPerCollection(t *testing.T) {
	m := startManager(t, Config{}, &gaugeRecorder{})
	a := register(t, m, "a", "u1")
	require.NoError(t, m.Subscribe(a, "users/u1/favorites"))

	require.NoError(t, m.SendSnapshot(a, "users/u1/favorites", docs()))
	require.NoError(t, m.Publish("users/u1/favorites", docs("x")))

	first := readSnapshot(t, a)
	second := readSnapshot(t, a)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.NotNil(t, first.Docs)
	assert.Empty(t, first.Docs)
}

func TestPublishWithoutSubscribersSkipsLoad(t *testing.T) {
	m := startManager(t, Config{}, &gaugeRecorder{})
	called := false
	err := m.Publish("users/u1/favorites", func() ([]DocumentPayload, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestPublishLoadError(t *testing.T) {
	m := startManager(t, Config{}, &gaugeRecorder{})
	a := register(t, m, "a", "u1")
	require.NoError(t, m.Subscribe(a, "users/u1/learn"))

	boom := errors.New("boom")
	err := m.Publish("users/u1/learn", func() ([]DocumentPayload, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, a.Send)
}

func TestUnsubscribeAndUnregister(t *testing.T) {
	g := &gaugeRecorder{}
	m := startManager(t, Config{}, g)
	a := register(t, m, "a", "u1")

	require.NoError(t, m.Subscribe(a, "users/u1/learn"))
	require.NoError(t, m.Subscribe(a, "users/u1/favorites"))
	require.NoError(t, m.Subscribe(a, "users/u1/favorites"), "duplicate subscribe is a no-op")
	assert.Equal(t, 2, g.value())

	m.Unsubscribe(a, "users/u1/learn")
	assert.Equal(t, 0, m.Subscribers("users/u1/learn"))
	assert.Equal(t, 1, g.value())

	m.Unregister <- a
	// Run handles messages in order, so the unregister is done once the
	// next registration lands.
	register(t, m, "probe", "u2")
	assert.Equal(t, 0, m.Subscribers("users/u1/favorites"))
	assert.Equal(t, 0, m.GetUserConnections("u1"))
	assert.Equal(t, 0, g.value())

	_, open := <-a.Send
	assert.False(t, open)
}

func TestConnectionAndSubscriptionLimits(t *testing.T) {
	m := startManager(t, Config{MaxConnPerUser: 1, MaxSubsPerClient: 1}, &gaugeRecorder{})
	a := register(t, m, "a", "u1")
	rejected := NewClient("b", "u1", nil, m)
	m.Register <- rejected

	_, open := <-rejected.Send
	assert.False(t, open)
	assert.Equal(t, 1, m.GetUserConnections("u1"))

	require.NoError(t, m.Subscribe(a, "users/u1/learn"))
	assert.ErrorIs(t, m.Subscribe(a, "users/u1/favorites"), ErrTooManySubscriptions)
}
