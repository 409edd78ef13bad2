// Package redis bridges thread events between broker instances through
// Redis pub/sub. Each instance publishes the events it delivers locally and
// re-delivers events published by its peers, so clients connected to
// different instances see the same thread traffic.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"peergenius/pkg/interfaces"
	"peergenius/pkg/types"
)

const channelPrefix = "thread:"

// bridgeEnvelope wraps an event with the publishing instance's identity so
// subscribers can drop their own echoes
type bridgeEnvelope struct {
	InstanceID string       `json:"instanceId"`
	ThreadID   string       `json:"threadId"`
	Event      *types.Event `json:"event"`
}

// Bridge publishes local thread events to Redis and re-injects events from
// peer instances into the local broker
type Bridge struct {
	rdb        *redis.Client
	instanceID string
	sink       interfaces.EventSink
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewBridge connects to Redis and starts the subscription loop. sink
// receives events published by other instances
func NewBridge(redisURL string, sink interfaces.EventSink) (*Bridge, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithCancel(context.Background())

	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	bridge := &Bridge{
		rdb:        rdb,
		instanceID: uuid.New().String(),
		sink:       sink,
		ctx:        ctx,
		cancel:     cancel,
	}

	bridge.wg.Add(1)
	go bridge.subscribeLoop()

	log.Printf("Redis bridge connected (instance %s)", bridge.instanceID)
	return bridge, nil
}

// PublishThreadEvent implements interfaces.EventPublisher
func (b *Bridge) PublishThreadEvent(threadID string, event *types.Event) error {
	payload, err := json.Marshal(bridgeEnvelope{
		InstanceID: b.instanceID,
		ThreadID:   threadID,
		Event:      event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal bridge envelope: %w", err)
	}

	if err := b.rdb.Publish(b.ctx, channelPrefix+threadID, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// subscribeLoop listens on all thread channels and hands peer events to the
// local sink. Own publications are recognized by instance ID and dropped
func (b *Bridge) subscribeLoop() {
	defer b.wg.Done()

	pubsub := b.rdb.PSubscribe(b.ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(b.ctx); err != nil {
		if b.ctx.Err() == nil {
			log.Printf("Redis subscription failed: %v", err)
		}
		return
	}

	log.Printf("Redis bridge subscribed to %s*", channelPrefix)

	for msg := range pubsub.Channel() {
		var envelope bridgeEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			log.Printf("Dropping malformed bridge payload on %s: %v", msg.Channel, err)
			continue
		}

		if envelope.InstanceID == b.instanceID {
			continue
		}
		if envelope.Event == nil || envelope.ThreadID == "" {
			continue
		}
		// The channel name is authoritative for routing
		if got := strings.TrimPrefix(msg.Channel, channelPrefix); got != envelope.ThreadID {
			log.Printf("Dropping bridge event with mismatched thread (%s vs %s)", got, envelope.ThreadID)
			continue
		}

		if err := b.sink.DeliverToThread(envelope.ThreadID, envelope.Event); err != nil {
			log.Printf("Failed to deliver bridged event to thread %s: %v", envelope.ThreadID, err)
		}
	}
}

// Close stops the subscription loop and closes the Redis connection
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		b.wg.Wait()
		err = b.rdb.Close()
	})
	return err
}
