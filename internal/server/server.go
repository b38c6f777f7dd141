// Package server exposes the calibration runner over HTTP: operator commands,
// status, camera previews and a websocket status stream.
package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"stereo-calib/internal/app"
	"stereo-calib/internal/capture"
	"stereo-calib/internal/frame"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Controller is the part of app.Runner the server drives.
type Controller interface {
	Status() app.Status
	Begin(ctx context.Context) (bool, error)
	SetSquareLength(ctx context.Context, mm float64) (bool, error)
	Confirm(ctx context.Context) (bool, error)
	Commit(ctx context.Context) (bool, error)
	Restart(ctx context.Context) (bool, error)
	Retry(ctx context.Context) (bool, error)
	Exit(ctx context.Context) (bool, error)
	SetPreviewMode(ctx context.Context, mode capture.PreviewMode) error
	Preview(ctx context.Context, side frame.Side, mode *capture.PreviewMode) ([]byte, error)
	OnAll(listener app.EventListener)
}

// CommandResponse is returned by every command endpoint.
type CommandResponse struct {
	Accepted bool       `json:"accepted"`
	Status   app.Status `json:"status"`
}

// StreamMessage is one websocket message.
type StreamMessage struct {
	Type   string     `json:"type"`
	Event  string     `json:"event,omitempty"`
	Side   string     `json:"side,omitempty"`
	Status app.Status `json:"status"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server serves the control API.
type Server struct {
	ctl      Controller
	router   *gin.Engine
	interval time.Duration

	mu   sync.Mutex
	subs map[chan StreamMessage]struct{}
}

// New builds the router. Status is pushed to websocket clients on every
// runner event and at least once per interval.
func New(ctl Controller, interval time.Duration) *Server {
	if interval <= 0 {
		interval = time.Second
	}
	s := &Server{
		ctl:      ctl,
		interval: interval,
		subs:     make(map[chan StreamMessage]struct{}),
	}
	ctl.OnAll(s.broadcast)
	s.router = s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.Use(cors())

	router.GET("/version", s.getVersion)
	router.GET("/status", s.getStatus)
	router.POST("/begin", s.command(s.ctl.Begin))
	router.PUT("/settings", s.putSettings)
	router.POST("/confirm", s.command(s.ctl.Confirm))
	router.POST("/commit", s.command(s.ctl.Commit))
	router.POST("/restart", s.command(s.ctl.Restart))
	router.POST("/retry", s.command(s.ctl.Retry))
	router.POST("/exit", s.command(s.ctl.Exit))
	router.PUT("/preview-mode", s.putPreviewMode)
	router.GET("/preview/:side", s.getPreview)
	router.GET("/ws", s.stream)

	return router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errc := make(chan error, 1)
	go func() {
		logrus.WithField("addr", addr).Info("control API listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "control API stopped")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ginLogger logs each request through logrus.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := int(math.Ceil(float64(time.Since(start).Nanoseconds()) / 1e6))
		statusCode := c.Writer.Status()

		entry := logger.WithFields(logrus.Fields{
			"statusCode": statusCode,
			"latency":    latency,
			"method":     c.Request.Method,
			"path":       path,
		})
		if len(c.Errors) > 0 {
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
			return
		}
		msg := fmt.Sprintf("%s %s %d (%dms)", c.Request.Method, path, statusCode, latency)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(msg)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, PUT")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
