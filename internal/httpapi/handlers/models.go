package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListModels reports the models available upstream. Failures degrade to an
// empty list so the client can fall back to its defaults.
func (h *Handler) ListModels(c *gin.Context) {
	models, err := h.Upstream.ListModels(c.Request.Context())
	if err != nil {
		log.Printf("[ListModels] %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"models": []string{}})
		return
	}
	if models == nil {
		models = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}
