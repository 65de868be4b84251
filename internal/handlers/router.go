package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the relay's HTTP surface.
func NewRouter(cfg *config.Config, relay *Relay, log *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log.WithField("mod", "http")))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Relay connection: /ws?id=<peer>&secret=<secret>
	router.GET("/ws", relay.HandleSignaling)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", relay.Login(cfg.JWTSecret))

		peers := apiGroup.Group("/peers", middleware.JWTAuth(cfg.JWTSecret))
		peers.GET("", relay.ListPeers)
		peers.GET("/:peerId", relay.GetPeer)
		peers.DELETE("/:peerId", relay.DisconnectPeer)
	}

	return router
}
