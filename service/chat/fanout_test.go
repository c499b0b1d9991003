package chat

import (
	"context"
	"testing"
	"time"

	"DuoChat/module/chat/message"
	"DuoChat/module/chat/model"
	"DuoChat/service/chat/protocol"
	"DuoChat/service/storage"

	"github.com/stretchr/testify/require"
)

func TestFanoutCountsSlowClientDrops(t *testing.T) {
	f := NewFanout(1, 8)
	c := NewClient("c1", nil, 1)
	c.Send <- []byte("backlog") // queue is now full

	f.Broadcast([]*Client{c}, []byte("lost"))
	f.Close() // waits for the worker to finish the job

	require.EqualValues(t, 1, f.Dropped())
	require.Equal(t, "backlog", string(<-c.Send))
	require.Empty(t, c.Send, "the frame for the full queue must be gone")
}

func TestFanoutCloseDrainsPendingJobs(t *testing.T) {
	f := NewFanout(2, 8)
	c := NewClient("c1", nil, 4)

	f.Broadcast([]*Client{c}, []byte("a"))
	f.Broadcast([]*Client{c}, []byte("b"))
	f.Close()

	require.Len(t, c.Send, 2)
	require.Zero(t, f.Dropped())
}

// drainFrames reads everything that lands on a connection until it goes
// quiet, so async fan-out can be asserted on exactly.
func drainFrames(t *testing.T, c *Client) []protocol.Frame {
	t.Helper()
	var out []protocol.Frame
	for {
		select {
		case p := <-c.Send:
			fr, err := protocol.DecodeFrame(p)
			require.NoError(t, err)
			out = append(out, *fr)
		case <-time.After(200 * time.Millisecond):
			return out
		}
	}
}

func countEvents(frames []protocol.Frame, event string) int {
	n := 0
	for _, fr := range frames {
		if fr.Event == event {
			n++
		}
	}
	return n
}

func TestFocusedReceiverGetsEachMessageOnce(t *testing.T) {
	r := newTestRegistry()
	bob := addClient(r, "c1", "bob")
	r.Join("c1", "conv1")

	db := model.NewMemStore()
	db.SeedConversation(&model.Conversation{
		ID:           "conv1",
		Participants: []string{"alice", "bob"},
	})
	co := message.NewCoordinator(db, storage.NewMemPresenceStore(time.Minute), r)

	_, err := co.Send(context.Background(), message.SendInput{
		SenderID:       "alice",
		ConversationID: "conv1",
		Content:        "hey",
	})
	require.NoError(t, err)

	// Bob sits in both the conversation room and his personal room, yet the
	// message frame must land on his socket exactly once. The personal room
	// carries only the conversation summary.
	frames := drainFrames(t, bob)
	require.Equal(t, 1, countEvents(frames, protocol.EvMessageReceived))
	require.Equal(t, 1, countEvents(frames, protocol.EvConversationChanged))
}
