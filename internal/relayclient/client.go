// Package relayclient consumes the relay's client-facing HTTP protocol:
// the newline-delimited JSON event stream plus the title and model-listing
// endpoints.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"chatrelay/internal/upstream"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		// No global timeout: a reply stream runs as long as generation does.
		HTTPClient: &http.Client{},
	}
}

type chatReq struct {
	Messages []upstream.Message `json:"messages"`
	Model    string             `json:"model"`
}

// StreamChat opens the relay's streaming chat endpoint and yields normalized
// events. Lines are reassembled across read boundaries; lines that are not
// valid JSON events are skipped. The events channel closes after the done
// event, or when the stream ends without one.
func (c *Client) StreamChat(ctx context.Context, model string, messages []upstream.Message) (<-chan upstream.Event, <-chan error) {
	events := make(chan upstream.Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		body, err := json.Marshal(chatReq{Messages: messages, Model: model})
		if err != nil {
			errs <- err
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
			msg := gjson.GetBytes(snippet, "error").String()
			if msg == "" {
				msg = fmt.Sprintf("status %d", resp.StatusCode)
			}
			errs <- fmt.Errorf("relay: %s", msg)
			return
		}

		emit := func(line string) bool {
			switch gjson.Get(line, "type").String() {
			case upstream.EventDelta:
				if content := gjson.Get(line, "content"); content.Type == gjson.String {
					events <- upstream.Event{Type: upstream.EventDelta, Content: content.String()}
				}
			case upstream.EventDone:
				events <- upstream.Event{Type: upstream.EventDone}
				return true
			}
			return false
		}

		var residual string
		buf := make([]byte, 32*1024)
		for {
			n, rerr := resp.Body.Read(buf)
			if n > 0 {
				residual += string(buf[:n])
				lines := strings.Split(residual, "\n")
				residual = lines[len(lines)-1]
				for _, raw := range lines[:len(lines)-1] {
					line := strings.TrimSpace(raw)
					if line == "" {
						continue
					}
					if emit(line) {
						return
					}
				}
			}
			if rerr != nil {
				if rerr == io.EOF {
					if tail := strings.TrimSpace(residual); tail != "" {
						emit(tail)
					}
					return
				}
				errs <- rerr
				return
			}
		}
	}()

	return events, errs
}

// Title requests a generated thread title for the given first message.
func (c *Client) Title(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.BaseURL+"/api/title", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("relay: title status %d", resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	if err != nil {
		return "", err
	}
	title := gjson.GetBytes(b, "title").String()
	if title == "" {
		return "", errors.New("relay: empty title")
	}
	return title, nil
}

// Models lists the model names the relay can reach upstream.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, c.BaseURL+"/api/models", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("relay: models status %d", resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}

	var models []string
	for _, m := range gjson.GetBytes(b, "models").Array() {
		if name := m.String(); name != "" {
			models = append(models, name)
		}
	}
	return models, nil
}

// DefaultModels is the hardcoded fallback when model listing fails or
// returns nothing.
func DefaultModels() []string {
	return []string{
		"gemma3:latest",
		"llama3.1:8b",
		"mistral:latest",
		"qwen2.5:7b",
		"phi3:mini",
	}
}
