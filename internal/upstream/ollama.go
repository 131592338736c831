package upstream

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
)

// Client talks to a locally-hosted Ollama server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 90 * time.Second},
	}
}

// Message is one prior turn sent upstream for context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options bound generation cost per request.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// ChatOptions and TitleOptions mirror what the product ships with.
var (
	ChatOptions  = Options{Temperature: 0.7, NumPredict: 1024}
	TitleOptions = Options{Temperature: 0.3, NumPredict: 64}
)

type chatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Options  Options   `json:"options"`
}

type chatLine struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// RequestError is a failed upstream call: non-success status or missing body.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama: status %d", e.StatusCode)
	}
	return fmt.Sprintf("ollama: status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		return nil, errors.New("ollama: http client is nil")
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		_ = resp.Body.Close()
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}

// Chat issues a non-streaming generation request and returns the full reply.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, opts Options) (string, error) {
	resp, err := c.post(ctx, "/api/chat", chatReq{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  opts,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded chatLine
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Message.Content, nil
}

// ChatStream issues a streaming generation request and reframes the upstream
// newline-delimited JSON into normalized events.
//
// The upstream transport delivers bytes at arbitrary chunk boundaries, so a
// residual buffer carries the last incomplete line across reads. Lines that
// fail to parse are dropped (keep-alives, partial garbage). When a line
// signals done, the residual is flush-parsed once in case the final content
// arrived without a trailing newline, then exactly one done event is emitted
// and no further bytes are read. If upstream closes without signaling done,
// done is synthesized so every invocation terminates with exactly one done.
//
// Both channels are closed when streaming ends.
func (c *Client) ChatStream(ctx context.Context, model string, messages []Message, opts Options) (<-chan Event, <-chan error) {
	events := make(chan Event, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)

		resp, err := c.post(ctx, "/api/chat", chatReq{
			Model:    model,
			Messages: messages,
			Stream:   true,
			Options:  opts,
		})
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

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
					var decoded chatLine
					if err := json.Unmarshal([]byte(line), &decoded); err != nil {
						continue
					}
					if decoded.Error != "" {
						errs <- errors.New(decoded.Error)
						return
					}
					if decoded.Message.Content != "" {
						events <- Event{Type: EventDelta, Content: decoded.Message.Content}
					}
					if decoded.Done {
						flushResidual(residual, events)
						events <- Event{Type: EventDone}
						return
					}
				}
			}
			if rerr != nil {
				if rerr == io.EOF {
					flushResidual(residual, events)
					events <- Event{Type: EventDone}
					return
				}
				errs <- rerr
				return
			}
		}
	}()

	return events, errs
}

func flushResidual(residual string, events chan<- Event) {
	tail := strings.TrimSpace(residual)
	if tail == "" {
		return
	}
	var decoded chatLine
	if err := json.Unmarshal([]byte(tail), &decoded); err != nil {
		return
	}
	if decoded.Message.Content != "" {
		events <- Event{Type: EventDelta, Content: decoded.Message.Content}
	}
}

type tagsResp struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of models the upstream server has pulled.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if c.HTTPClient == nil {
		return nil, errors.New("ollama: http client is nil")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var decoded tagsResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(decoded.Models))
	for _, m := range decoded.Models {
		if m.Name != "" {
			models = append(models, m.Name)
		}
	}
	return models, nil
}
