package handlers

import (
	"chatrelay/internal/config"
	"chatrelay/internal/upstream"
)

type Handler struct {
	Cfg      config.Config
	Upstream *upstream.Client
}

func NewHandler(cfg config.Config) *Handler {
	return &Handler{
		Cfg:      cfg,
		Upstream: upstream.NewClient(cfg.OllamaBaseURL),
	}
}
