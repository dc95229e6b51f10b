package websocket

import (
	"encoding/json"
	"sync"

	"postauction-system/internal/domain"
	"postauction-system/pkg/logger"
)

// ConnectionManager tracks the watcher connections streaming matched
// events, indexed by account and by watcher.
type ConnectionManager struct {
	accounts map[string]map[string]domain.WatcherConnection // account -> watcherID -> connection
	watchers map[string][]domain.WatcherConnection          // watcherID -> connections
	mutex    sync.RWMutex
	log      logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		accounts: make(map[string]map[string]domain.WatcherConnection),
		watchers: make(map[string][]domain.WatcherConnection),
		log:      log,
	}
}

func (cm *ConnectionManager) RegisterWatcher(account, watcherID string, conn domain.WatcherConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.accounts[account] == nil {
		cm.accounts[account] = make(map[string]domain.WatcherConnection)
	}
	cm.accounts[account][watcherID] = conn

	cm.watchers[watcherID] = append(cm.watchers[watcherID], conn)

	cm.log.Info("Watcher registered", "watcher_id", watcherID, "account", account)
	return nil
}

func (cm *ConnectionManager) UnregisterWatcher(account, watcherID string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if accountConns, exists := cm.accounts[account]; exists {
		delete(accountConns, watcherID)
		if len(accountConns) == 0 {
			delete(cm.accounts, account)
		}
	}

	cm.removeWatcherConnsLocked(account, watcherID)

	cm.log.Info("Watcher unregistered", "watcher_id", watcherID, "account", account)
	return nil
}

func (cm *ConnectionManager) CloseAccountWatchers(account string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if accountConns, exists := cm.accounts[account]; exists {
		for watcherID, conn := range accountConns {
			if err := conn.Close(); err != nil {
				cm.log.Error("Failed to close watcher connection",
					"watcher_id", watcherID, "account", account, "error", err)
			}
			cm.removeWatcherConnsLocked(account, watcherID)
		}
		delete(cm.accounts, account)
	}

	cm.log.Info("Watchers closed for account", "account", account)
	return nil
}

func (cm *ConnectionManager) removeWatcherConnsLocked(account, watcherID string) {
	conns, exists := cm.watchers[watcherID]
	if !exists {
		return
	}

	var remaining []domain.WatcherConnection
	for _, existing := range conns {
		if existing.Account() != account {
			remaining = append(remaining, existing)
		}
	}

	if len(remaining) == 0 {
		delete(cm.watchers, watcherID)
	} else {
		cm.watchers[watcherID] = remaining
	}
}

func (cm *ConnectionManager) connectionsForAccount(account string) []domain.WatcherConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var connections []domain.WatcherConnection
	for _, conn := range cm.accounts[account] {
		connections = append(connections, conn)
	}
	return connections
}

// BroadcastToAccount sends a matched event to every watcher of the
// account. Send failures are logged and the rest still delivered.
func (cm *ConnectionManager) BroadcastToAccount(account string, message interface{}) error {
	connections := cm.connectionsForAccount(account)
	if len(connections) == 0 {
		return nil
	}

	messageBytes, err := json.Marshal(message)
	if err != nil {
		return err
	}

	for _, conn := range connections {
		if err := conn.Send(messageBytes); err != nil {
			cm.log.Error("Failed to send matched event", "watcher_id", conn.WatcherID(),
				"account", account, "error", err)
		}
	}

	return nil
}
