// Package mq fans relay deliveries out across server instances over Redis
// pub/sub. Each instance publishes what it delivers locally and replays
// what the others publish.
package mq

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "pawmart:relay"

// Deliverer hands a frame to this instance's connections for userID.
type Deliverer interface {
	DeliverLocal(userID string, data []byte)
}

type event struct {
	Origin string          `json:"origin"`
	UserID string          `json:"userId"`
	Data   json.RawMessage `json:"data"`
}

type RedisBus struct {
	conn    *redis.Client
	channel string
	origin  string
}

func NewRedisBus(conn *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{conn: conn, channel: channel, origin: uuid.NewString()}
}

func (b *RedisBus) Publish(ctx context.Context, userID string, data []byte) error {
	payload, err := b.encode(userID, data)
	if err != nil {
		return err
	}
	return b.conn.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) encode(userID string, data []byte) ([]byte, error) {
	return json.Marshal(event{Origin: b.origin, UserID: userID, Data: data})
}

// decode returns the delivery carried by payload, skipping this
// instance's own publications.
func (b *RedisBus) decode(payload string) (userID string, data []byte, ok bool) {
	var ev event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Printf("mq: bad relay event: %v", err)
		return "", nil, false
	}
	if ev.Origin == b.origin || ev.UserID == "" {
		return "", nil, false
	}
	return ev.UserID, ev.Data, true
}

// Run replays other instances' deliveries into d until ctx ends.
func (b *RedisBus) Run(ctx context.Context, d Deliverer) error {
	sub := b.conn.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.Printf("mq: listening on %s", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if userID, data, ok := b.decode(msg.Payload); ok {
				d.DeliverLocal(userID, data)
			}
		}
	}
}
