package handlers

import (
	"net/http"

	"postauction-system/internal/infrastructure/websocket"
	"postauction-system/pkg/logger"
)

type WebSocketHandlers struct {
	streamHandler *websocket.StreamHandler
}

func NewWebSocketHandlers(connManager *websocket.ConnectionManager, log logger.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		streamHandler: websocket.NewStreamHandler(connManager, log),
	}
}

func (h *WebSocketHandlers) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.streamHandler.HandleConnection(w, r)
}
