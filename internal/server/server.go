// Package server exposes the bridge status surface: health, readiness, a
// status snapshot, prometheus metrics and a websocket frame feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danmuck/adsbridge/internal/auth"
	"github.com/danmuck/adsbridge/internal/forward"
	"github.com/danmuck/adsbridge/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 3 * time.Second
	pingInterval    = 30 * time.Second
)

// Source supplies the status snapshot.
type Source interface {
	StatusSnapshot() any
	Ready() bool
}

// Registrar accepts consumers created by the server, i.e. websocket clients.
type Registrar interface {
	AddConsumer(forward.Consumer) error
}

type Config struct {
	Addr         string
	AllowOrigins []string
	WebSocket    bool
	// Token, when set, is required on /status, /metrics and /ws.
	Token string
}

type Server struct {
	cfg      Config
	src      Source
	reg      Registrar
	router   *gin.Engine
	upgrader websocket.Upgrader
	started  time.Time
	clients  atomic.Uint64
}

func New(cfg Config, src Source, reg Registrar) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.Logger("server")))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.AllowOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		src:     src,
		reg:     reg,
		router:  r,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).Truncate(time.Second).String(),
			"service": "adsbridge",
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.src != nil && s.src.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready})
	})

	guarded := s.router.Group("/")
	if s.cfg.Token != "" {
		guarded.Use(requireToken(auth.StaticToken{Token: s.cfg.Token}))
	}

	guarded.GET("/status", func(c *gin.Context) {
		if s.src == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no status source"})
			return
		}
		c.JSON(http.StatusOK, s.src.StatusSnapshot())
	})

	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.cfg.WebSocket && s.reg != nil {
		guarded.GET("/ws", s.serveWebSocket)
	}
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.Validate(auth.FromRequest(c.Request)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) serveWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the http error
		return
	}
	name := fmt.Sprintf("ws:%d:%s", s.clients.Add(1), c.ClientIP())
	client := forward.NewWebSocketClient(name, conn)
	if err := s.reg.AddConsumer(client); err != nil {
		log.Warn().Msgf("server.ws rejected client=%s err=%v", name, err)
		_ = client.Close()
		return
	}
	log.Info().Msgf("server.ws client attached client=%s", name)
	go keepAlive(client)
}

func keepAlive(client *forward.WebSocketClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !client.Alive() {
			return
		}
		if err := client.Ping(); err != nil {
			return
		}
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("server.Run listening addr=%s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
