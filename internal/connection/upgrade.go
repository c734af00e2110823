package connection

import (
	"context"
	"net/http"
	"time"

	"github.com/Congyuwang/wuziqi/internal/logging"
	"github.com/Congyuwang/wuziqi/internal/registry"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checking is handled by the gin CORS middleware upstream of
	// this handler; the upgrader itself stays permissive to avoid
	// rejecting the same request twice under different rules.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade promotes an HTTP request to a WebSocket connection and runs its
// Connection Handler until the socket closes. Intended to be wired as the
// handler for the single /ws route named in spec §6.
func Upgrade(c *gin.Context, reg *registry.Registry, limiter UserLimiter, outboundCapacity int, stallGrace time.Duration) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(context.Background(), "websocket upgrade failed", zap.Error(err))
		return
	}

	h := New(conn, reg, limiter, outboundCapacity, stallGrace)
	h.Run()
}
