package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"chatrelay/internal/config"
	"chatrelay/internal/httpapi/handlers"
)

func NewRouter(cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	h := handlers.NewHandler(cfg)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	r.POST("/api/chat", h.ChatStream)
	r.POST("/api/title", h.GenerateTitle)
	r.GET("/api/models", h.ListModels)
	r.GET("/api/me", h.Me)

	return r
}
