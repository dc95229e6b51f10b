package redis

import (
	"context"
	"encoding/json"

	"postauction-system/internal/domain"
	"postauction-system/pkg/logger"

	"github.com/go-redis/redis/v8"
)

const (
	auctionChannel = "postauction:auctions"
	eventChannel   = "postauction:events"
)

// RedisEventSubscriber feeds the matcher from the two inbound channels:
// auction submissions from the bidder and win/loss/campaign events from
// the exchange adapters. Messages are handed to the matcher one at a
// time, in channel order.
type RedisEventSubscriber struct {
	client *redis.Client
	log    logger.Logger
}

func NewRedisEventSubscriber(client *redis.Client, log logger.Logger) *RedisEventSubscriber {
	return &RedisEventSubscriber{
		client: client,
		log:    log,
	}
}

func (r *RedisEventSubscriber) Subscribe(ctx context.Context, handler domain.IngestHandler) error {
	pubsub := r.client.Subscribe(ctx, auctionChannel, eventChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	r.log.Info("Subscribed to post-auction events",
		"channels", []string{auctionChannel, eventChannel})

	for {
		select {
		case msg := <-ch:
			switch msg.Channel {
			case auctionChannel:
				event, err := r.parseAuction(msg.Payload)
				if err != nil {
					r.log.Error("Failed to parse auction record", "payload", msg.Payload, "error", err)
					continue
				}
				handler.HandleAuction(ctx, event)

			case eventChannel:
				event, err := r.parseEvent(msg.Payload)
				if err != nil {
					r.log.Error("Failed to parse post-auction event", "payload", msg.Payload, "error", err)
					continue
				}
				handler.HandleEvent(ctx, event)
			}

		case <-ctx.Done():
			r.log.Info("Event subscriber stopped")
			return ctx.Err()
		}
	}
}

func (r *RedisEventSubscriber) parseAuction(payload string) (*domain.SubmittedAuctionEvent, error) {
	var event domain.SubmittedAuctionEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *RedisEventSubscriber) parseEvent(payload string) (*domain.PostAuctionEvent, error) {
	var event domain.PostAuctionEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	return &event, nil
}
