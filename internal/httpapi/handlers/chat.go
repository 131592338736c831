package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"chatrelay/internal/upstream"
)

func fail(c *gin.Context, httpStatus int, msg string) {
	c.JSON(httpStatus, gin.H{"error": msg})
}

type chatStreamReq struct {
	Messages []upstream.Message `json:"messages"`
	Model    string             `json:"model"`
}

// ChatStream relays a streaming completion as newline-delimited JSON events,
// one {"type":"delta","content":...} line per upstream content fragment and
// a single {"type":"done"} line at the end.
//
// A total upstream failure (before any event) surfaces as a JSON error
// response. A mid-stream failure drops the connection; no done is synthesized
// for the consumer.
func (h *Handler) ChatStream(c *gin.Context) {
	var req chatStreamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	model := req.Model
	if model == "" {
		model = h.Cfg.DefaultModel
	}

	ctx := c.Request.Context()
	events, errs := h.Upstream.ChatStream(ctx, model, req.Messages, upstream.ChatOptions)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fail(c, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Hold back headers until the upstream call is known to have started
	// producing, so a total failure can still return a proper error status.
	started := false
	start := func() {
		c.Header("Content-Type", "application/x-ndjson; charset=utf-8")
		c.Header("Cache-Control", "no-store")
		c.Status(http.StatusOK)
		started = true
	}

	writeEvent := func(ev upstream.Event) {
		b, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[ChatStream] marshal event: %v", err)
			return
		}
		fmt.Fprintf(c.Writer, "%s\n", b)
		flusher.Flush()
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !started {
				start()
			}
			writeEvent(ev)
			if ev.Type == upstream.EventDone {
				return
			}

		case err, ok := <-errs:
			if !ok {
				// Closed error channel: stop selecting on it so the loop
				// terminates on the events channel alone.
				errs = nil
				continue
			}
			log.Printf("[ChatStream] upstream error: %v", err)
			if !started {
				fail(c, http.StatusInternalServerError, "Failed to generate response")
				return
			}
			severStream(c)
			return

		case <-ctx.Done():
			return
		}
	}
}

// severStream hijacks and closes the underlying connection so the chunked
// terminator is never written: the consumer's next read fails instead of
// looking like a clean end of stream.
func severStream(c *gin.Context) {
	conn, _, err := c.Writer.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}
