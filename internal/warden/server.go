package warden

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/warden/internal/observability"
	"github.com/danmuck/warden/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const serverVersion = "0.0.1"

// HTTPServer is the loopback introspection surface: health, readiness,
// metrics, and redacted session and report views.
type HTTPServer struct {
	agentID string
	addr    string
	agent   *Agent
	ready   func() bool
	started time.Time
	router  *gin.Engine
}

// NewHTTPServer builds the router. ready gates /ready on authority
// registration; a nil ready is always ready.
func NewHTTPServer(agentID, addr string, corsOrigins []string, agent *Agent, ready func() bool) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.Requests(agentID, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &HTTPServer{
		agentID: agentID,
		addr:    addr,
		agent:   agent,
		ready:   ready,
		started: time.Now(),
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *HTTPServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"agent":   s.agentID,
			"version": serverVersion,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		if s.ready != nil && !s.ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready": false,
				"agent": s.agentID,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"agent":   s.agentID,
			"uptime":  time.Since(s.started).String(),
			"version": serverVersion,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/sessions", func(c *gin.Context) {
		snaps := s.agent.Snapshots()
		c.JSON(http.StatusOK, gin.H{
			"live":     len(snaps),
			"sessions": snaps,
		})
	})

	s.router.GET("/reports", func(c *gin.Context) {
		reports := s.agent.Reports()
		views := make([]reportView, 0, len(reports))
		for _, rep := range reports {
			views = append(views, newReportView(rep))
		}
		c.JSON(http.StatusOK, gin.H{
			"pending": len(views),
			"reports": views,
		})
	})
}

// reportView is the wire shape for /reports. The cookie is an
// authority secret and never leaves the process.
type reportView struct {
	SessionID   string    `json:"session_id,omitempty"`
	ActionID    string    `json:"action_id"`
	Outcome     string    `json:"outcome,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Rounds      int       `json:"rounds"`
	QueuedAt    time.Time `json:"queued_at"`
	CompletedAt time.Time `json:"completed_at"`
	Deliveries  int       `json:"deliveries"`
	LastError   string    `json:"last_error,omitempty"`
}

func newReportView(rep session.PendingReport) reportView {
	return reportView{
		SessionID:   rep.SessionID,
		ActionID:    rep.ActionID,
		Outcome:     string(rep.Outcome),
		Reason:      rep.Reason,
		Rounds:      rep.Rounds,
		QueuedAt:    rep.QueuedAt,
		CompletedAt: rep.CompletedAt,
		Deliveries:  rep.Deliveries,
		LastError:   rep.LastError,
	}
}

// Router exposes the gin engine for tests.
func (s *HTTPServer) Router() *gin.Engine {
	return s.router
}

// Serve runs the server until ctx ends, then drains it. gin's own Run
// cannot be stopped, so the router is mounted on an http.Server.
func (s *HTTPServer) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errc
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
