package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Broadcaster bridges the event channel to the hub. It is meant to consume
// the order.* wildcard on an ephemeral subscription: events published while
// the process is down are permanently missed by design.
type Broadcaster struct {
	hub *Hub
}

func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

// HandleEvent fans a delivered event out to every connected client. A
// malformed payload is reported as an error so the consumer rejects it
// without requeueing.
func (b *Broadcaster) HandleEvent(_ context.Context, routingKey string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("malformed payload on %s", routingKey)
	}

	b.hub.Broadcast(Envelope{
		Type:    routingKey,
		Payload: json.RawMessage(payload),
		Ts:      time.Now().UnixMilli(),
	})
	return nil
}
