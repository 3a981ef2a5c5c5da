package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samsamfire/eposmaster/pkg/gateway"
	log "github.com/sirupsen/logrus"
)

const API_VERSION = "v1"

// GatewayServer exposes a [gateway.BaseGateway] over HTTP, read only
type GatewayServer struct {
	*gateway.BaseGateway
	engine *gin.Engine
	logger *log.Entry
}

func NewGatewayServer(base *gateway.BaseGateway, logger *log.Entry) *GatewayServer {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	gin.SetMode(gin.ReleaseMode)
	gw := &GatewayServer{
		BaseGateway: base,
		engine:      gin.New(),
		logger:      logger.WithField("service", "[GATEWAY]"),
	}
	gw.engine.Use(gin.Recovery(), gw.logRequests)
	InstallHandler(gw.engine.Group("/api/"+API_VERSION), gw)
	return gw
}

func InstallHandler(group *gin.RouterGroup, gw *GatewayServer) {
	group.GET("/version", gw.handleVersion)
	group.GET("/nodes", gw.handleNodes)
	group.GET("/nodes/:id", gw.handleNode)
	group.GET("/nodes/:id/sdo/:index/:subindex", gw.handleSDORead)
	group.GET("/orchestrator", gw.handleOrchestrator)
	group.GET("/receiver", gw.handleReceiver)
}

func (gw *GatewayServer) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	gw.logger.Debugf("%v %v %v (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

func (gw *GatewayServer) Handler() http.Handler {
	return gw.engine
}

// Serve until ctx is cancelled
func (gw *GatewayServer) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{Addr: addr, Handler: gw.engine}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdown)
	}()
	gw.logger.Infof("listening on %v", addr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
