package natsx

import (
	"encoding/json"
	"time"

	"DuoChat/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

const fanoutSubject = "duochat.fanout"

// envelope is the cross-node fan-out frame. Node is the loop guard: a node
// ignores its own publishes coming back off the wire.
type envelope struct {
	Node       string          `json:"node"`
	Room       string          `json:"room"`
	ExceptUser string          `json:"except_user,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Bridge mirrors room publishes across gateway nodes over core NATS.
// Realtime frames are fire-and-forget; a node that misses one is no worse
// off than a client that reconnects, the durable state lives elsewhere.
type Bridge struct {
	nodeID string
	nc     *nats.Conn
	sub    *nats.Subscription
}

// Deliver is the local-apply side, satisfied by the registry.
type Deliver func(roomID, exceptUserID string, payload []byte)

func NewBridge(url, nodeID string, deliver Deliver) (*Bridge, error) {
	nc, err := nats.Connect(url,
		nats.Name("duochat-gateway-"+nodeID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	b := &Bridge{nodeID: nodeID, nc: nc}
	b.sub, err = nc.Subscribe(fanoutSubject, func(m *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			logger.Warnf("[natsx] bad envelope: %v", err)
			return
		}
		if env.Node == b.nodeID {
			return
		}
		deliver(env.Room, env.ExceptUser, env.Payload)
	})
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "subscribe fanout")
	}
	return b, nil
}

// Mirror repeats a local publish to the other nodes.
func (b *Bridge) Mirror(roomID, exceptUserID string, payload []byte) {
	raw, err := json.Marshal(envelope{
		Node:       b.nodeID,
		Room:       roomID,
		ExceptUser: exceptUserID,
		Payload:    payload,
	})
	if err != nil {
		logger.Errorf("[natsx] marshal envelope: %v", err)
		return
	}
	if err := b.nc.Publish(fanoutSubject, raw); err != nil {
		logger.Errorf("[natsx] publish fanout: %v", err)
	}
}

func (b *Bridge) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.nc != nil {
		b.nc.Close()
	}
}
