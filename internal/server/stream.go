package server

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/greenhouse-monitor/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 16
)

// Stream broadcasts monitor snapshots to connected dashboards
type Stream struct {
	upgrader       websocket.Upgrader
	info           models.SystemInfo
	logger         zerolog.Logger
	allowedOrigins []string

	mutex   sync.RWMutex
	clients map[*streamClient]struct{}
}

// streamClient is one dashboard connection
type streamClient struct {
	conn        *websocket.Conn
	send        chan []byte
	connectedAt time.Time
	closeOnce   sync.Once
}

// ClientInfo describes a connected dashboard
type ClientInfo struct {
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewStream creates a stream. An empty allowlist accepts only same-origin requests.
func NewStream(info models.SystemInfo, logger zerolog.Logger, allowedOrigins ...string) *Stream {
	s := &Stream{
		info:           info,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		clients:        make(map[*streamClient]struct{}),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the incoming request's Origin against the allowlist
func (s *Stream) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}
	if slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin) {
		return true
	}

	s.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP upgrades the request and streams messages until the client leaves
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	client := &streamClient{
		conn:        conn,
		send:        make(chan []byte, clientSendSize),
		connectedAt: time.Now(),
	}

	if hello, err := encode(models.MessageTypeHello, models.HelloMessage{Greenhouse: s.info}); err == nil {
		client.send <- hello
	}

	s.mutex.Lock()
	s.clients[client] = struct{}{}
	count := len(s.clients)
	s.mutex.Unlock()

	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Int("clients", count).Msg("Dashboard connected")

	go s.writePump(client)
	s.readPump(client)
}

// readPump keeps the read deadline fresh. The stream is read-only, so any
// client message is answered with an error.
func (s *Stream) readPump(c *streamClient) {
	defer s.remove(c)

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
		if msg, err := encode(models.MessageTypeError, models.ErrorMessage{Code: "read_only", Message: "the stream does not accept messages"}); err == nil {
			s.send(c, msg)
		}
	}
}

// writePump owns all writes to the connection
func (s *Stream) writePump(c *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to write to dashboard")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// remove unregisters a client and closes its send queue
func (s *Stream) remove(c *streamClient) {
	s.mutex.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	count := len(s.clients)
	s.mutex.Unlock()

	if ok {
		c.closeOnce.Do(func() { close(c.send) })
		s.logger.Info().Str("remote", c.conn.RemoteAddr().String()).Int("clients", count).Msg("Dashboard disconnected")
	}
}

// OnSnapshot broadcasts a snapshot message. Clients whose queue is full
// miss the message.
func (s *Stream) OnSnapshot(snap models.Snapshot) {
	msg, err := encode(models.MessageTypeSnapshot, snap)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode snapshot")
		return
	}
	s.Broadcast(msg)
}

// AlertRaised pushes a new alert to every dashboard
func (s *Stream) AlertRaised(a models.Alert) {
	msg, err := encode(models.MessageTypeAlerts, a)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode alert")
		return
	}
	s.Broadcast(msg)
}

// Broadcast queues raw bytes on every client without blocking
func (s *Stream) Broadcast(msg []byte) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for c := range s.clients {
		s.trySend(c, msg)
	}
}

// send queues msg for one client if it is still registered
func (s *Stream) send(c *streamClient, msg []byte) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if _, ok := s.clients[c]; ok {
		s.trySend(c, msg)
	}
}

// trySend must be called with the mutex held
func (s *Stream) trySend(c *streamClient, msg []byte) {
	select {
	case c.send <- msg:
	default:
		s.logger.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("Dashboard queue full, dropping message")
	}
}

// Clients returns the connected dashboards
func (s *Stream) Clients() []ClientInfo {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, ClientInfo{RemoteAddr: c.conn.RemoteAddr().String(), ConnectedAt: c.connectedAt})
	}
	return clients
}

// Close disconnects every client
func (s *Stream) Close() {
	s.mutex.Lock()
	clients := s.clients
	s.clients = make(map[*streamClient]struct{})
	s.mutex.Unlock()

	for c := range clients {
		c.closeOnce.Do(func() { close(c.send) })
	}
}

func encode(t models.MessageType, payload any) ([]byte, error) {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}
