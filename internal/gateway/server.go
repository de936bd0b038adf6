// Package gateway is the HTTP and WebSocket surface: conversation creation,
// message ingress and the per-conversation push groups.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/morgana/internal/config"
	"github.com/nextlevelbuilder/morgana/internal/conversation"
	"github.com/nextlevelbuilder/morgana/pkg/protocol"
)

// frame is the envelope every websocket push uses.
type frame struct {
	Event   string `json:"event"`
	Type    string `json:"type,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Server handles HTTP ingress and fans pushes out to the websocket clients
// attached to each conversation.
type Server struct {
	cfg config.GatewayConfig
	mgr *conversation.Manager

	upgrader websocket.Upgrader
	limiter  *rate.Limiter // nil when rate_limit_rpm <= 0

	mu     sync.RWMutex
	groups map[string]map[*client]struct{}

	httpServer *http.Server
	mux        *http.ServeMux
}

func NewServer(cfg config.GatewayConfig, mgr *conversation.Manager) *Server {
	s := &Server{
		cfg:    cfg,
		mgr:    mgr,
		groups: make(map[string]map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	if cfg.RateLimitRPM > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPM)/60, 5)
	}
	return s
}

// Name identifies the websocket hub as a push channel.
func (s *Server) Name() string { return "websocket" }

// SendStructured pushes a finished response to the conversation's group.
func (s *Server) SendStructured(_ context.Context, conversationID string, resp *protocol.ConversationResponse) error {
	s.broadcast(conversationID, frame{Event: protocol.EventChat, Type: protocol.ChatEventMessage, Payload: resp})
	return nil
}

// SendChunk pushes a streaming fragment to the conversation's group.
func (s *Server) SendChunk(_ context.Context, conversationID string, chunk protocol.StreamChunk) error {
	s.broadcast(conversationID, frame{Event: protocol.EventChat, Type: protocol.ChatEventChunk, Payload: chunk})
	return nil
}

func (s *Server) broadcast(conversationID string, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("gateway.marshal_failed", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.groups[conversationID] {
		c.send(data)
	}
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/conversations", s.handleConversations)
	mux.HandleFunc("/messages", s.handleMessages)

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","conversations":%d}`, s.mgr.Active())
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if r.Body != nil {
		// Body is optional; an empty one means "pick an id for me".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	id := s.mgr.CreateConversation(req.ConversationID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"conversation_id": id})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	var req struct {
		ConversationID string `json:"conversation_id"`
		Text           string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" || req.Text == "" {
		http.Error(w, "conversation_id and text are required", http.StatusBadRequest)
		return
	}
	if max := s.cfg.MaxMessageChars; max > 0 && utf8.RuneCountInString(req.Text) > max {
		http.Error(w, fmt.Sprintf("message exceeds %d characters", max), http.StatusRequestEntityTooLarge)
		return
	}

	accepted := s.mgr.HandleMessage(r.Context(), req.ConversationID, req.Text)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]bool{"accepted": accepted})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway.upgrade_failed", "error", err)
		return
	}

	c := newClient(conn, conversationID, s)
	s.join(c)
	defer func() {
		s.leave(c)
		c.close()
	}()

	c.run(r.Context())
}

func (s *Server) join(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[c.conversationID]
	if !ok {
		group = make(map[*client]struct{})
		s.groups[c.conversationID] = group
	}
	group[c] = struct{}{}
	slog.Info("gateway.client_connected", "conversation_id", c.conversationID)
}

func (s *Server) leave(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group, ok := s.groups[c.conversationID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(s.groups, c.conversationID)
		}
	}
	slog.Info("gateway.client_disconnected", "conversation_id", c.conversationID)
}

// StartTestServer listens on a random local port. Used by integration tests.
func StartTestServer(ctx context.Context, s *Server) (addr string, start func()) {
	mux := s.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
