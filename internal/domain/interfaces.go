package domain

import "context"

// Banker is the external accounting service. Every attached bid must be
// settled by exactly one of WinBid or CancelBid; ForceWinBid settles
// without a prior reservation.
type Banker interface {
	AttachBid(ctx context.Context, account AccountKey, transactionID string, maxPrice Amount) error
	WinBid(ctx context.Context, account AccountKey, transactionID string, price Amount, lineItems LineItems) error
	ForceWinBid(ctx context.Context, account AccountKey, price Amount, lineItems LineItems) error
	CancelBid(ctx context.Context, account AccountKey, transactionID string) error
	LogBidEvents(ctx context.Context, recorder EventRecorder) error
}

// EventRecorder is the metrics sink. Keys are printf formats; the
// rendered names form a stable contract with ops dashboards.
type EventRecorder interface {
	RecordHit(format string, args ...interface{})
	RecordOutcome(value float64, format string, args ...interface{})
}

// MatchedHandlers is the output capability injected into the matcher.
// Handlers run on the matcher worker and must not block.
type MatchedHandlers struct {
	OnMatchedWinLoss       func(*MatchedWinLoss)
	OnMatchedCampaignEvent func(*MatchedCampaignEvent)
	OnUnmatchedEvent       func(*UnmatchedEvent)
}

// Event interfaces
type MatchedEventPublisher interface {
	PublishMatchedWinLoss(ctx context.Context, event *MatchedWinLoss) error
	PublishMatchedCampaignEvent(ctx context.Context, event *MatchedCampaignEvent) error
	PublishUnmatchedEvent(ctx context.Context, event *UnmatchedEvent) error
}

// IngestHandler consumes the two inbound streams. The subscriber calls
// it sequentially; implementations own their synchronization.
type IngestHandler interface {
	HandleAuction(ctx context.Context, event *SubmittedAuctionEvent)
	HandleEvent(ctx context.Context, event *PostAuctionEvent)
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, handler IngestHandler) error
}

// Repository interfaces
type MatchedEventArchive interface {
	SaveMatchedWinLoss(ctx context.Context, event *MatchedWinLoss) error
	SaveCampaignEvent(ctx context.Context, event *MatchedCampaignEvent) error
	GetAuctionOutcomes(ctx context.Context, auctionID ID) ([]*MatchedWinLoss, error)
}

// WebSocket interfaces
type WatcherConnection interface {
	Send(message interface{}) error
	Close() error
	WatcherID() string
	Account() string
}

type ConnectionManager interface {
	RegisterWatcher(account, watcherID string, conn WatcherConnection) error
	UnregisterWatcher(account, watcherID string) error
	BroadcastToAccount(account string, message interface{}) error
	CloseAccountWatchers(account string) error
}

type AccountNotifier interface {
	NotifyAccount(ctx context.Context, account AccountKey, message interface{}) error
}
