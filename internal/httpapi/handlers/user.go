package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Me returns the mock account record. There is no real authentication.
func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"id":        "user-123",
		"name":      "John Doe",
		"email":     "john@example.com",
		"workspace": "Pro workspace",
		"avatar":    "JD",
	})
}
