package rest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/alert"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
	streamSendBuffer   = 64
)

// AlertStream fans triggered notifications out to connected websocket
// clients. A client that cannot keep up with its send buffer is dropped
// rather than allowed to stall the broadcast.
type AlertStream struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

type streamClient struct {
	conn *websocket.Conn
	send chan *alert.Notification
}

// NewAlertStream creates the fan-out hub
func NewAlertStream(logger *zap.Logger) *AlertStream {
	return &AlertStream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		clients: make(map[*streamClient]struct{}),
	}
}

// Run consumes the notification queue until the context is cancelled,
// broadcasting every notification to all connected clients.
func (s *AlertStream) Run(ctx context.Context, queue <-chan *alert.Notification) error {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return ctx.Err()
		case notification, ok := <-queue:
			if !ok {
				s.closeAll()
				return nil
			}
			s.broadcast(notification)
		}
	}
}

func (s *AlertStream) broadcast(notification *alert.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		select {
		case client.send <- notification:
		default:
			s.logger.Warn("dropping slow alert stream client")
			delete(s.clients, client)
			close(client.send)
		}
	}
}

// ClientCount reports connected clients
func (s *AlertStream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *AlertStream) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		close(client.send)
		delete(s.clients, client)
	}
}

func (s *AlertStream) remove(client *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

// ServeHTTP upgrades the request and streams notifications until the client
// disconnects.
func (s *AlertStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan *alert.Notification, streamSendBuffer),
	}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	go s.readLoop(client)
	s.writeLoop(client)
}

// readLoop discards inbound frames; its only job is noticing disconnects
func (s *AlertStream) readLoop(client *streamClient) {
	defer s.remove(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *AlertStream) writeLoop(client *streamClient) {
	ticker := time.NewTicker(streamPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case notification, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(streamWriteTimeout))
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := client.conn.WriteJSON(notification); err != nil {
				s.remove(client)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.remove(client)
				return
			}
		}
	}
}
