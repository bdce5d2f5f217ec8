package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mcdiamondfire/modapi/internal/config"
	"github.com/mcdiamondfire/modapi/internal/observability"
	"github.com/mcdiamondfire/modapi/internal/protocol"
	"github.com/mcdiamondfire/modapi/internal/ws"
)

func newHTTPRouter(cfg config.Config, reg *protocol.Registry, hub *ws.Hub, upgrade http.Handler, logger *zap.Logger) *gin.Engine {
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	observability.RegisterMetrics()
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger.Named("http")))
	r.Use(observability.RequestMetricsMiddleware())

	r.GET("/ws", gin.WrapH(upgrade))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"server":      cfg.ServerName,
			"protocol":    cfg.Protocol,
			"subprotocol": cfg.Subprotocol,
			"packet_ids":  reg.Len(),
			"connections": hub.Count(),
			"uptime":      time.Since(started).Round(time.Second).String(),
		})
	})
	return r
}
