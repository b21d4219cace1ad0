package adapters

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/luminodash/collab/internal/app"
	"github.com/luminodash/collab/internal/config"
	"github.com/luminodash/collab/internal/domain"
)

// SetupRouter wires HTTP routes: a health endpoint, a read-only rooms
// API for ops visibility, and the WebSocket upgrade. Room lifecycle is
// join-driven, so there are no mutation endpoints.
func SetupRouter(ctx context.Context, cfg *config.Config, coord *app.Coordinator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": coord.Rooms.List()})
	})

	api.GET("/rooms/:id", func(c *gin.Context) {
		room, ok := coord.Rooms.Get(domain.RoomID(c.Param("id")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not active"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"id":          room.ID,
			"memberCount": room.MemberCount(),
			"lockCount":   room.LockCount(),
			"lastFlush":   room.LastFlush(),
		})
	})

	ctl := &WSController{Coord: coord, ReadLimit: cfg.ReadLimit, PingPeriod: cfg.PingPeriod}
	r.GET("/ws", func(c *gin.Context) {
		ctl.Handle(ctx, c)
	})

	log.Info().Str("module", "adapters.router").Msg("router setup")
	return r
}
