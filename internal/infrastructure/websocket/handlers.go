package websocket

import (
	"net/http"

	"postauction-system/internal/domain"
	"postauction-system/pkg/logger"
	"postauction-system/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// StreamHandler upgrades watcher connections and keeps them registered
// for the lifetime of the socket. Watchers are read-only consumers; the
// only inbound messages honored are pings.
type StreamHandler struct {
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewStreamHandler(connManager domain.ConnectionManager, log logger.Logger) *StreamHandler {
	return &StreamHandler{
		connManager: connManager,
		log:         log,
	}
}

func (h *StreamHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account := vars["account"]

	if account == "" {
		http.Error(w, "account required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	watcherID := utils.GenerateID("watcher")
	wsConn := NewWatcherConn(conn, watcherID, account, h.log)

	if err := h.connManager.RegisterWatcher(account, watcherID, wsConn); err != nil {
		h.log.Error("Failed to register watcher", "error", err)
		conn.Close()
		return
	}

	go h.handleMessages(wsConn, watcherID, account)
}

func (h *StreamHandler) handleMessages(conn *WatcherConn, watcherID, account string) {
	defer func() {
		h.connManager.UnregisterWatcher(account, watcherID)
		conn.Close()
	}()

	for {
		var msg map[string]interface{}
		if err := conn.conn.ReadJSON(&msg); err != nil {
			h.log.Debug("Watcher connection closed", "watcher_id", watcherID, "error", err)
			break
		}

		if msgType, ok := msg["type"].(string); ok && msgType == "ping" {
			conn.Send(map[string]string{"type": "pong"})
		}
	}
}

type WatcherConn struct {
	conn      *websocket.Conn
	watcherID string
	account   string
	log       logger.Logger
}

func NewWatcherConn(conn *websocket.Conn, watcherID, account string, log logger.Logger) *WatcherConn {
	return &WatcherConn{
		conn:      conn,
		watcherID: watcherID,
		account:   account,
		log:       log,
	}
}

func (wc *WatcherConn) Send(message interface{}) error {
	if payload, ok := message.([]byte); ok {
		return wc.conn.WriteMessage(websocket.TextMessage, payload)
	}
	return wc.conn.WriteJSON(message)
}

func (wc *WatcherConn) Close() error {
	return wc.conn.Close()
}

func (wc *WatcherConn) WatcherID() string {
	return wc.watcherID
}

func (wc *WatcherConn) Account() string {
	return wc.account
}
