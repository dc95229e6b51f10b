package redis

import (
	"context"
	"encoding/json"

	"postauction-system/internal/domain"

	"github.com/go-redis/redis/v8"
)

const (
	matchedWinLossChannel  = "postauction:matched:winloss"
	matchedCampaignChannel = "postauction:matched:campaign"
	unmatchedChannel       = "postauction:unmatched"
)

// RedisMatchedPublisher pushes matched outcomes to the downstream
// consumer channels.
type RedisMatchedPublisher struct {
	client *redis.Client
}

func NewRedisMatchedPublisher(client *redis.Client) *RedisMatchedPublisher {
	return &RedisMatchedPublisher{client: client}
}

func (r *RedisMatchedPublisher) PublishMatchedWinLoss(ctx context.Context, event *domain.MatchedWinLoss) error {
	return r.publish(ctx, matchedWinLossChannel, event)
}

func (r *RedisMatchedPublisher) PublishMatchedCampaignEvent(ctx context.Context, event *domain.MatchedCampaignEvent) error {
	return r.publish(ctx, matchedCampaignChannel, event)
}

func (r *RedisMatchedPublisher) PublishUnmatchedEvent(ctx context.Context, event *domain.UnmatchedEvent) error {
	return r.publish(ctx, unmatchedChannel, event)
}

func (r *RedisMatchedPublisher) publish(ctx context.Context, channel string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, payload).Err()
}
