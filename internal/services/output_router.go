package services

import (
	"context"

	"postauction-system/internal/domain"
	"postauction-system/pkg/logger"
)

// OutputRouter fans matched outcomes out to the downstream consumers:
// the Redis publisher, the MySQL archive, and the per-account stream.
// Handlers run on the matcher worker, so each delivery is dispatched to
// its own goroutine; outgoing ordering is not guaranteed.
type OutputRouter struct {
	publisher domain.MatchedEventPublisher
	archive   domain.MatchedEventArchive
	notifier  domain.AccountNotifier
	log       logger.Logger
}

func NewOutputRouter(
	publisher domain.MatchedEventPublisher,
	archive domain.MatchedEventArchive,
	notifier domain.AccountNotifier,
	log logger.Logger,
) *OutputRouter {
	return &OutputRouter{
		publisher: publisher,
		archive:   archive,
		notifier:  notifier,
		log:       log,
	}
}

// Handlers builds the capability record injected into the matcher.
func (r *OutputRouter) Handlers() domain.MatchedHandlers {
	return domain.MatchedHandlers{
		OnMatchedWinLoss:       r.onMatchedWinLoss,
		OnMatchedCampaignEvent: r.onMatchedCampaignEvent,
		OnUnmatchedEvent:       r.onUnmatchedEvent,
	}
}

func (r *OutputRouter) onMatchedWinLoss(event *domain.MatchedWinLoss) {
	go func() {
		ctx := context.Background()

		if r.publisher != nil {
			if err := r.publisher.PublishMatchedWinLoss(ctx, event); err != nil {
				r.log.Error("Failed to publish matched win/loss",
					"auction_id", event.AuctionID, "error", err)
			}
		}
		if r.archive != nil {
			if err := r.archive.SaveMatchedWinLoss(ctx, event); err != nil {
				r.log.Error("Failed to archive matched win/loss",
					"auction_id", event.AuctionID, "error", err)
			}
		}
		if r.notifier != nil {
			if err := r.notifier.NotifyAccount(ctx, event.Account, event); err != nil {
				r.log.Error("Failed to notify account watchers",
					"account", event.Account.String(), "error", err)
			}
		}
	}()
}

func (r *OutputRouter) onMatchedCampaignEvent(event *domain.MatchedCampaignEvent) {
	go func() {
		ctx := context.Background()

		if r.publisher != nil {
			if err := r.publisher.PublishMatchedCampaignEvent(ctx, event); err != nil {
				r.log.Error("Failed to publish matched campaign event",
					"auction_id", event.AuctionID, "label", event.Label, "error", err)
			}
		}
		if r.archive != nil {
			if err := r.archive.SaveCampaignEvent(ctx, event); err != nil {
				r.log.Error("Failed to archive campaign event",
					"auction_id", event.AuctionID, "label", event.Label, "error", err)
			}
		}
		if r.notifier != nil {
			if err := r.notifier.NotifyAccount(ctx, event.Account, event); err != nil {
				r.log.Error("Failed to notify account watchers",
					"account", event.Account.String(), "error", err)
			}
		}
	}()
}

func (r *OutputRouter) onUnmatchedEvent(event *domain.UnmatchedEvent) {
	go func() {
		if r.publisher != nil {
			if err := r.publisher.PublishUnmatchedEvent(context.Background(), event); err != nil {
				r.log.Error("Failed to publish unmatched event",
					"reason", event.Reason, "error", err)
			}
		}
	}()
}
