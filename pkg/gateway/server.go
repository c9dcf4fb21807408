package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/agentkernel/gateway/pkg/reliability/ratelimit"
	"github.com/agentkernel/gateway/pkg/wire"
)

// Dispatcher handles one decoded frame from an authenticated client and
// returns the reply frame(s), if any. Implemented by pkg/taskrouter.
type Dispatcher interface {
	Dispatch(ctx context.Context, clientID string, frame wire.Frame) ([]wire.Frame, error)
}

// Config bounds the server's auth and per-client throughput policy.
type Config struct {
	AuthSecret           []byte
	AuthToken            []byte
	MessagesPerMinute    int
	WriteTimeout         time.Duration
	DrainPollInterval    time.Duration
}

// Client is one authenticated or authenticating WebSocket connection.
type Client struct {
	ID   string
	conn *websocket.Conn

	auth    authGate
	limiter *ratelimit.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *Client) send(frame wire.Frame) error {
	data, err := frameToJSON(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(c.ctx, c.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// Server manages every live WebSocket connection (§4.7: "broadcast, sendTo,
// getClients, close, drain").
type Server struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *slog.Logger

	mu       sync.RWMutex
	clients  map[string]*Client
	draining bool
}

// NewServer creates a Server dispatching authenticated frames to dispatcher.
func NewServer(cfg Config, dispatcher Dispatcher, logger *slog.Logger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.DrainPollInterval <= 0 {
		cfg.DrainPollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, dispatcher: dispatcher, logger: logger, clients: make(map[string]*Client)}
}

// ServeHTTP upgrades the connection and runs its lifecycle until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	draining := s.draining
	s.mu.RUnlock()
	if draining {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("gateway: upgrade failed", "error", err)
		return
	}
	s.handleConnection(r.Context(), conn)
}

func (s *Server) handleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Client{
		ID:           uuid.NewString(),
		conn:         conn,
		limiter:      ratelimit.New(ratelimit.Config{RequestsPerMinute: s.cfg.MessagesPerMinute, TokensPerMinute: 1 << 30}),
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: s.cfg.WriteTimeout,
	}
	defer s.unregister(c)

	authFrame, _ := wire.NewFrame(wire.TypeAuthRequired, "", nil)
	_ = c.send(authFrame)

	if !s.awaitAuth(ctx, c) {
		_ = c.conn.Close(websocket.StatusCode(wire.CloseRateLimitOrAuth), "auth failed")
		return
	}

	s.register(c)
	success, _ := wire.NewFrame(wire.TypeAuthSuccess, "", nil)
	_ = c.send(success)

	s.readLoop(ctx, c)
}

func (s *Server) awaitAuth(ctx context.Context, c *Client) bool {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return false
		}
		frame, err := frameFromJSON(data)
		if err != nil || frame.Type != wire.TypeAuth {
			continue
		}

		now := time.Now()
		if c.auth.locked(now) {
			failed, _ := wire.NewFrame(wire.TypeAuthFailed, frame.ID, wire.ErrorPayload{Code: wire.ErrCodeAuth, Message: "too many auth failures"})
			_ = c.send(failed)
			continue
		}

		var payload wire.AuthPayload
		if err := frame.Decode(&payload); err != nil {
			c.auth.recordFailure(now)
			continue
		}

		if verifyToken(s.cfg.AuthSecret, s.cfg.AuthToken, []byte(payload.Token)) {
			return true
		}
		c.auth.recordFailure(now)
		failed, _ := wire.NewFrame(wire.TypeAuthFailed, frame.ID, wire.ErrorPayload{Code: wire.ErrCodeAuth, Message: "invalid token"})
		_ = c.send(failed)
	}
}

func (s *Server) readLoop(ctx context.Context, c *Client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		if !c.limiter.Acquire(0) {
			_ = c.conn.Close(websocket.StatusCode(wire.CloseRateLimitOrAuth), "message rate limit exceeded")
			return
		}

		frame, err := frameFromJSON(data)
		if err != nil {
			errFrame, _ := wire.NewFrame(wire.TypeError, "", wire.ErrorPayload{Code: wire.ErrCodeValidation, Message: "malformed frame"})
			_ = c.send(errFrame)
			continue
		}

		if frame.Type == wire.TypePing {
			pong, _ := wire.NewFrame(wire.TypePong, frame.ID, nil)
			_ = c.send(pong)
			continue
		}

		replies, err := s.dispatcher.Dispatch(ctx, c.ID, frame)
		if err != nil {
			errFrame, _ := wire.NewFrame(wire.TypeError, frame.ID, wire.ErrorPayload{Code: wire.ErrCodeInternal, Message: err.Error()})
			_ = c.send(errFrame)
			continue
		}
		for _, reply := range replies {
			_ = c.send(reply)
		}
	}
}

func (s *Server) register(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.ID)
	s.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// SendTo sends frame to one client by ID (§4.7 sendTo).
func (s *Server) SendTo(clientID string, frame wire.Frame) error {
	s.mu.RLock()
	c, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.send(frame)
}

// Filter selects which clients a Broadcast reaches; nil matches every client.
type Filter func(clientID string) bool

// Broadcast sends frame to every client matching filter (§4.7 broadcast(msg, filter?)).
func (s *Server) Broadcast(frame wire.Frame, filter Filter) {
	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for id, c := range s.clients {
		if filter == nil || filter(id) {
			targets = append(targets, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(frame); err != nil {
			s.logger.Warn("gateway: broadcast send failed", "client", c.ID, "error", err)
		}
	}
}

// GetClients returns the IDs of every currently connected client (§4.7 getClients).
func (s *Server) GetClients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// Close forcibly terminates every connection (§4.7 close).
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.draining = true
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.Close(websocket.StatusCode(wire.CloseShutdown), "server shutting down")
	}
}

// Drain stops accepting new connections, broadcasts a shutdown notice,
// polls for natural client departure, and force-closes residual sockets at
// timeout (§4.7 drain(timeoutMs), §5 graceful shutdown steps a/b/d/e).
func (s *Server) Drain(ctx context.Context, timeout time.Duration) {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	sys, _ := wire.NewFrame(wire.TypeSystem, "", wire.SystemPayload{Message: "server shutting down"})
	s.Broadcast(sys, nil)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.cfg.DrainPollInterval)
	defer ticker.Stop()
drainLoop:
	for {
		s.mu.RLock()
		remaining := len(s.clients)
		s.mu.RUnlock()
		if remaining == 0 || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			break drainLoop
		case <-ticker.C:
		}
	}
	s.Close()
}

func frameToJSON(f wire.Frame) ([]byte, error) {
	return json.Marshal(f)
}

func frameFromJSON(data []byte) (wire.Frame, error) {
	var f wire.Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
