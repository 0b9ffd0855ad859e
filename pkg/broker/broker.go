// Package broker fans feed events out across server instances over redis
// pub/sub.
package broker

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"

	"feedsync/pkg/envelope"
)

const DefaultChannel = "feed:events"

type HandlerFunc func(envelope.Envelope)

type Broker struct {
	rdb     *redis.Client
	channel string
}

func New(rdb *redis.Client, channel string) *Broker {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Broker{rdb: rdb, channel: channel}
}

func (b *Broker) Publish(ctx context.Context, env envelope.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

// Broadcast wraps data in an event envelope and publishes it.
func (b *Broker) Broadcast(ctx context.Context, action, service string, data interface{}) error {
	env, err := envelope.NewEvent(action, service, data)
	if err != nil {
		return err
	}
	return b.Publish(ctx, env)
}

// Subscribe calls fn for every envelope published on the channel, one at a
// time in publish order, until ctx is done. ready, if not nil, is closed once
// the subscription is confirmed by the server.
func (b *Broker) Subscribe(ctx context.Context, fn HandlerFunc, ready chan<- struct{}) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	glog.Infof("[BROKER] subscribed to %s", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := envelope.Unmarshal([]byte(msg.Payload))
			if err != nil {
				glog.Warningf("[BROKER] dropping malformed message: %v", err)
				continue
			}
			fn(env)
		}
	}
}
