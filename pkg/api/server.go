package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/bus"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/events"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/services"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/sessionlock"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Server is the observability HTTP server.
type Server struct {
	engine  *gin.Engine
	hub     *Hub
	lock    *sessionlock.Lock
	threads *services.ThreadService
	bus     *bus.Bus
	token   string
	version string
	addr    string
}

// NewServer wires the routes. The hub must already be subscribed to the
// event bus.
func NewServer(addr string, hub *Hub, lock *sessionlock.Lock, threads *services.ThreadService, b *bus.Bus, token, version string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		hub:     hub,
		lock:    lock,
		threads: threads,
		bus:     b,
		token:   token,
		version: version,
		addr:    addr,
	}

	engine.Use(s.readOnlyMiddleware())

	apiGroup := engine.Group("/api")
	apiGroup.GET("/health", s.handleHealth)
	apiGroup.GET("/session/token", s.handleSessionToken)
	apiGroup.GET("/session/lock-state", s.handleLockState)
	apiGroup.POST("/messages", s.handleCreateMessage)
	apiGroup.POST("/messages/:id/thread", s.handleCreateThread)
	apiGroup.GET("/threads/:id", s.handleGetThread)

	engine.GET("/ws", s.handleWebSocket)
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Observability server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// readOnlyMiddleware rejects mutating requests while another process holds
// the write lock.
func (s *Server) readOnlyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			if s.lock.IsWriteLockedByOther() {
				state := s.lock.GetLockState()
				c.AbortWithStatusJSON(http.StatusLocked, gin.H{
					"error":   "Locked",
					"mode":    "read-only",
					"message": fmt.Sprintf("session is write-locked by %s", state.Holder),
				})
				return
			}
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleSessionToken(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"token": s.token})
}

func (s *Server) handleLockState(c *gin.Context) {
	state := s.lock.GetLockState()
	c.JSON(http.StatusOK, gin.H{
		"mode":       state.Mode,
		"isReadOnly": s.lock.IsWriteLockedByOther(),
		"holder":     state.Holder,
		"timestamp":  state.Timestamp,
	})
}

// handleWebSocket authenticates, upgrades, and hands the connection to the
// hub. The client supplies its ID and last seen sequence number to resume a
// previous stream.
func (s *Server) handleWebSocket(c *gin.Context) {
	token := c.GetHeader("X-Session-Token")
	if token == "" {
		token = c.Query("token")
	}
	if !tokenMatches(s.token, token) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
		return
	}

	clientID := c.GetHeader("X-Client-Id")
	if clientID == "" {
		clientID = c.Query("client_id")
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	var lastSeq uint64
	raw := c.GetHeader("X-Last-Sequence")
	if raw == "" {
		raw = c.Query("last_sequence")
	}
	if raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			lastSeq = n
		}
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	cl := &client{id: clientID, conn: conn, send: make(chan events.Event, 64)}
	if !s.hub.register(cl) {
		_ = conn.Close(websocket.StatusTryAgainLater, "connection limit reached")
		return
	}

	s.hub.serve(c.Request.Context(), cl, lastSeq)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
