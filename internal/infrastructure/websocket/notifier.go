package websocket

import (
	"context"

	"postauction-system/internal/domain"
)

// MatchedEventNotifier bridges the matcher's account-keyed outputs onto
// the websocket connection registry.
type MatchedEventNotifier struct {
	connManager domain.ConnectionManager
}

func NewMatchedEventNotifier(connManager domain.ConnectionManager) *MatchedEventNotifier {
	return &MatchedEventNotifier{connManager: connManager}
}

func (n *MatchedEventNotifier) NotifyAccount(ctx context.Context, account domain.AccountKey, message interface{}) error {
	return n.connManager.BroadcastToAccount(account.String(), message)
}
