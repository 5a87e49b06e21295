package api

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RouterDeps are the non-REST handlers mounted next to the API.
type RouterDeps struct {
	WebSocket http.HandlerFunc
	Metrics   http.Handler
	StaticDir string
}

// NewRouter builds the relay's single HTTP surface.
func NewRouter(h *Handler, deps RouterDeps, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	h.RegisterRoutes(router)

	if deps.WebSocket != nil {
		router.GET("/ws", gin.WrapF(deps.WebSocket))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	// Browser dashboards open the socket on the page origin itself.
	router.GET("/", func(c *gin.Context) {
		switch {
		case deps.WebSocket != nil && websocket.IsWebSocketUpgrade(c.Request):
			deps.WebSocket(c.Writer, c.Request)
		case deps.StaticDir != "":
			c.File(filepath.Join(deps.StaticDir, "login.html"))
		default:
			c.String(http.StatusNotFound, "404 page not found")
		}
	})

	if deps.StaticDir != "" {
		files := http.FileServer(http.Dir(deps.StaticDir))
		router.NoRoute(gin.WrapH(files))
	}
	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Websocket requests are logged by the gateway once the session ends.
		if websocket.IsWebSocketUpgrade(c.Request) {
			return
		}
		logger.Debug("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
