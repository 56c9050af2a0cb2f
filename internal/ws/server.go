// Package ws provides the Socket.IO order status feed. Owners subscribe
// after login and receive order:status events as the orchestrator moves
// their orders through provisioning.
package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"domainflow/internal/model"
	"domainflow/internal/order"

	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
)

// OrderStatusEvent is the payload of an order:status broadcast.
type OrderStatusEvent struct {
	OrderID    int    `json:"order_id"`
	Domain     string `json:"domain"`
	Status     string `json:"status"`
	DNSStatus  string `json:"dns_status"`
	SSLStatus  string `json:"ssl_status"`
	FailReason string `json:"fail_reason,omitempty"`
	Published  bool   `json:"published"`
}

// Hub owns the Socket.IO server and the status broadcast. It implements
// the orchestrator's Notifier.
type Hub struct {
	server *socketio.Server
	store  order.Store
}

// NewHub creates the Socket.IO server and starts its serve loop.
func NewHub(store order.Store) *Hub {
	server := socketio.NewServer(&engineio.Options{
		Transports: []transport.Transport{
			&polling.Transport{
				CheckOrigin: func(r *http.Request) bool {
					// Allow all origins for now (can be restricted later)
					return true
				},
			},
			&websocket.Transport{
				CheckOrigin: func(r *http.Request) bool {
					// Allow all origins for now (can be restricted later)
					return true
				},
			},
		},
	})

	h := &Hub{server: server, store: store}

	server.OnConnect("/", func(s socketio.Conn) error {
		// The handshake middleware already validated the token.
		log.Printf("[WebSocket] Client connected: %s", s.ID())
		s.Emit("connected", map[string]interface{}{
			"ok": true,
		})
		return nil
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("[WebSocket] Client disconnected: %s, reason: %s", s.ID(), reason)
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Printf("[WebSocket] Error for client %s: %v", s.ID(), e)
	})

	server.OnEvent("/", "request:orders", h.handleRequestOrders)

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("[WebSocket] Server error: %v", err)
		}
	}()

	log.Println("[WebSocket] Socket.IO server initialized")
	return h
}

// OrderStatusChanged broadcasts the order's new state to all connected
// clients. Non-blocking.
func (h *Hub) OrderStatusChanged(o *model.DomainOrder) {
	h.server.BroadcastToNamespace("/", "order:status", OrderStatusEvent{
		OrderID:    o.ID,
		Domain:     o.Domain,
		Status:     string(o.Status),
		DNSStatus:  string(o.DNSStatus),
		SSLStatus:  string(o.SSLStatus),
		FailReason: o.FailReason,
		Published:  o.Published,
	})
}

// Close shuts the Socket.IO server down.
func (h *Hub) Close() error {
	return h.server.Close()
}

// handleRequestOrders sends the full order list for the requesting
// account. The client passes its token again because go-socket.io does
// not surface the handshake request on the connection.
func (h *Hub) handleRequestOrders(s socketio.Conn, data interface{}) {
	log.Printf("[WebSocket] request:orders from client %s", s.ID())

	var token string
	if dataMap, ok := data.(map[string]interface{}); ok {
		token, _ = dataMap["token"].(string)
	}

	claims, err := parseClaims(token)
	if err != nil {
		log.Printf("[WebSocket] request:orders rejected for client %s: %v", s.ID(), err)
		s.Emit("error", map[string]interface{}{
			"message": "Unauthorized",
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	orders, err := h.store.ListByAccount(ctx, claims.UID)
	if err != nil {
		log.Printf("[WebSocket] Failed to query orders: %v", err)
		s.Emit("error", map[string]interface{}{
			"message": "Failed to query orders",
		})
		return
	}

	items := make([]OrderStatusEvent, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		items = append(items, OrderStatusEvent{
			OrderID:    o.ID,
			Domain:     o.Domain,
			Status:     string(o.Status),
			DNSStatus:  string(o.DNSStatus),
			SSLStatus:  string(o.SSLStatus),
			FailReason: o.FailReason,
			Published:  o.Published,
		})
	}

	s.Emit("orders:initial", map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}
