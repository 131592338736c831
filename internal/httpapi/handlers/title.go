package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatrelay/internal/chat"
)

type titleReq struct {
	Prompt string `json:"prompt"`
}

// GenerateTitle produces a short thread title from the user's first message.
func (h *Handler) GenerateTitle(c *gin.Context) {
	var req titleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	title, err := chat.GenerateTitle(c.Request.Context(), h.Upstream, h.Cfg.TitleModel, req.Prompt)
	if err != nil {
		log.Printf("[GenerateTitle] %v", err)
		fail(c, http.StatusInternalServerError, "Failed to generate title")
		return
	}

	c.JSON(http.StatusOK, gin.H{"title": title})
}
