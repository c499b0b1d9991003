package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	return NewRegistry(NewFanout(2, 64))
}

func addClient(r *Registry, connID, userID string) *Client {
	c := NewClient(connID, nil, 8)
	r.Add(c)
	if userID != "" {
		r.Bind(connID, userID)
	}
	return c
}

func recvPayload(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case p := <-c.Send:
		return p
	case <-time.After(time.Second):
		t.Fatalf("no payload on %s", c.ConnID)
		return nil
	}
}

func TestBindJoinsPersonalRoom(t *testing.T) {
	r := newTestRegistry()
	c := addClient(r, "c1", "alice")

	require.True(t, r.IsMember("alice", "alice"))
	require.True(t, r.UserOnline("alice"))

	r.Publish("alice", []byte(`{"event":"x"}`))
	require.Equal(t, `{"event":"x"}`, string(recvPayload(t, c)))
}

func TestPublishReachesAllRoomMembers(t *testing.T) {
	r := newTestRegistry()
	a := addClient(r, "c1", "alice")
	b := addClient(r, "c2", "bob")
	r.Join("c1", "conv1")
	r.Join("c2", "conv1")

	r.Publish("conv1", []byte("hello"))
	require.Equal(t, "hello", string(recvPayload(t, a)))
	require.Equal(t, "hello", string(recvPayload(t, b)))
}

func TestPublishExceptSkipsOrigin(t *testing.T) {
	r := newTestRegistry()
	a := addClient(r, "c1", "alice")
	b := addClient(r, "c2", "bob")
	r.Join("c1", "conv1")
	r.Join("c2", "conv1")

	r.PublishExcept("conv1", "alice", []byte("typing"))
	require.Equal(t, "typing", string(recvPayload(t, b)))
	require.Empty(t, a.Send, "origin user must not hear their own typing")
}

func TestPublishToEmptyRoomIsNoop(t *testing.T) {
	r := newTestRegistry()
	// Must not panic or block.
	r.Publish("nobody-here", []byte("x"))
}

func TestMultiTabUserCountsAsOneMember(t *testing.T) {
	r := newTestRegistry()
	t1 := addClient(r, "c1", "alice")
	t2 := addClient(r, "c2", "alice")
	r.Join("c1", "conv1")
	r.Join("c2", "conv1")

	require.True(t, r.IsMember("alice", "conv1"))

	r.Publish("alice", []byte("direct"))
	require.Equal(t, "direct", string(recvPayload(t, t1)))
	require.Equal(t, "direct", string(recvPayload(t, t2)))

	// One tab leaving keeps the user a member through the other.
	r.Drop("c1")
	require.True(t, r.IsMember("alice", "conv1"))
	require.True(t, r.UserOnline("alice"))
}

func TestDropReleasesEverything(t *testing.T) {
	r := newTestRegistry()
	c := addClient(r, "c1", "alice")
	r.Join("c1", "conv1")
	r.Join("c1", "conv2")

	dropped := r.Drop("c1")
	require.Same(t, c, dropped)

	require.False(t, r.IsMember("alice", "conv1"))
	require.False(t, r.IsMember("alice", "conv2"))
	require.False(t, r.IsMember("alice", "alice"))
	require.False(t, r.UserOnline("alice"))
	require.Nil(t, r.Get("c1"))

	// A second drop for the same connection is a nil no-op.
	require.Nil(t, r.Drop("c1"))
}

func TestDeliverAppliesMirroredEventsLocally(t *testing.T) {
	r := newTestRegistry()
	a := addClient(r, "c1", "alice")
	r.Join("c1", "conv1")

	r.Deliver("conv1", "", []byte("remote"))
	require.Equal(t, "remote", string(recvPayload(t, a)))

	r.Deliver("", "", []byte("broadcast"))
	require.Equal(t, "broadcast", string(recvPayload(t, a)))
}
