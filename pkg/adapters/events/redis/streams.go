package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/dagplan/pkg/domain"
	"github.com/aescanero/dagplan/pkg/ports"
)

// StreamsBus implements ports.EventBus on Redis Streams. Each topic maps to
// one stream. Delivery depends on the topic: run requests are a work queue,
// where subscribers share a consumer group and every event is handled once
// across the deployment; run events are a broadcast feed, where every
// subscriber reads the stream independently and sees every event.
type StreamsBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
}

// NewStreamsBus creates a Redis Streams event bus.
func NewStreamsBus(client *redis.Client, consumerGroup, consumerName string, logger *zap.Logger) *StreamsBus {
	return &StreamsBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
	}
}

// Publish appends an event to the topic's stream.
func (b *StreamsBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	streamKey := getStreamKey(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}

	if _, err := b.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	b.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("topic", topic),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe dispatches the topic's stream to the handler until ctx is
// cancelled. Broadcast topics are read per subscriber; queue topics join the
// shared consumer group.
func (b *StreamsBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)

	if isBroadcastTopic(topic) {
		b.logger.Info("subscribed to broadcast stream",
			zap.String("stream", streamKey),
			zap.String("topic", topic))
		go b.readBroadcast(ctx, streamKey, handler)
		return nil
	}

	err := b.client.XGroupCreateMkStream(ctx, streamKey, b.consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	b.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("topic", topic),
		zap.String("consumer_group", b.consumerGroup),
		zap.String("consumer", b.consumerName))

	go b.readStream(ctx, streamKey, handler)

	return nil
}

func (b *StreamsBus) readStream(ctx context.Context, streamKey string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    b.consumerGroup,
				Consumer: b.consumerName,
				Streams:  []string{streamKey, ">"},
				Count:    10,
				Block:    time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				b.logger.Error("failed to read from stream",
					zap.String("stream", streamKey),
					zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					b.processMessage(ctx, streamKey, message, handler)
				}
			}
		}
	}
}

// readBroadcast tails the stream from the subscription point onward. No
// consumer group, so concurrent subscribers each see every message.
func (b *StreamsBus) readBroadcast(ctx context.Context, streamKey string, handler ports.EventHandler) {
	lastID := "$"
	for {
		select {
		case <-ctx.Done():
			return
		default:
			streams, err := b.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{streamKey, lastID},
				Count:   10,
				Block:   time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				b.logger.Error("failed to read from stream",
					zap.String("stream", streamKey),
					zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					lastID = message.ID
					event, ok := decodeMessage(b.logger, streamKey, message)
					if !ok {
						continue
					}
					if err := handler(ctx, event); err != nil {
						b.logger.Error("handler error",
							zap.String("stream", streamKey),
							zap.String("message_id", message.ID),
							zap.Error(err))
					}
				}
			}
		}
	}
}

func (b *StreamsBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) {
	event, ok := decodeMessage(b.logger, streamKey, message)
	if !ok {
		return
	}

	if err := handler(ctx, event); err != nil {
		b.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	if err := b.client.XAck(ctx, streamKey, b.consumerGroup, message.ID).Err(); err != nil {
		b.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *StreamsBus) Close() error {
	return nil
}

func decodeMessage(logger *zap.Logger, streamKey string, message redis.XMessage) (domain.Event, bool) {
	data, ok := message.Values["data"].(string)
	if !ok {
		logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return domain.Event{}, false
	}

	var event domain.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return domain.Event{}, false
	}
	return event, true
}

// isBroadcastTopic reports whether every subscriber must see every event on
// the topic. Run lifecycle events fan out to all listeners; run requests
// stay a work queue where exactly one worker takes each event.
func isBroadcastTopic(topic string) bool {
	return topic == domain.TopicRunEvents
}

func getStreamKey(topic string) string {
	return fmt.Sprintf("dagplan:events:%s", topic)
}
