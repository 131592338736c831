package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"chatrelay/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeOllama emulates the upstream server for end-to-end handler tests.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			var req struct {
				Stream bool `json:"stream"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode upstream request: %v", err)
				return
			}
			if req.Stream {
				w.Write([]byte(`{"message":{"content":"Hel"},"done":false}` + "\n"))
				w.Write([]byte(`{"message":{"content":"lo"},"done":false}` + "\n"))
				w.Write([]byte(`{"done":true}` + "\n"))
			} else {
				w.Write([]byte(`{"message":{"content":"\"Short Title.\""}}`))
			}
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"gemma3:latest"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestRouter(upstreamURL string) *gin.Engine {
	cfg := config.Load()
	cfg.OllamaBaseURL = upstreamURL
	cfg.DefaultModel = "gemma3:latest"
	cfg.TitleModel = "gemma3:latest"
	return NewRouter(cfg)
}

func TestChatEndpoint_StreamsNormalizedEvents(t *testing.T) {
	up := fakeOllama(t)
	defer up.Close()
	r := newTestRouter(up.URL)

	body := `{"messages":[{"role":"user","content":"hi"}],"model":"gemma3:latest"}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/x-ndjson") {
		t.Fatalf("content type %q", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("cache control %q", cc)
	}

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 event lines, got %d: %q", len(lines), w.Body.String())
	}
	var content strings.Builder
	for i, line := range lines {
		var ev struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("line %d not json: %q", i, line)
		}
		switch ev.Type {
		case "delta":
			content.WriteString(ev.Content)
		case "done":
			if i != len(lines)-1 {
				t.Fatalf("done is not the final line")
			}
		default:
			t.Fatalf("unknown event type %q", ev.Type)
		}
	}
	if content.String() != "Hello" {
		t.Fatalf("reassembled %q", content.String())
	}
}

func TestChatEndpoint_UpstreamFailure(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer up.Close()
	r := newTestRouter(up.URL)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Failed to generate response") {
		t.Fatalf("body %q", w.Body.String())
	}
}

func TestChatEndpoint_MidStreamFailureSeversConnection(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"partial "},"done":false}` + "\n"))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer up.Close()

	// Severing hijacks the connection, so this needs a live server rather
	// than a recorder.
	srv := httptest.NewServer(newTestRouter(up.URL))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr == nil {
		t.Fatalf("expected read error from severed stream, body %q", body)
	}
	if strings.Contains(string(body), `"type":"done"`) {
		t.Fatalf("severed stream still delivered done: %q", body)
	}
}

func TestTitleEndpoint_Sanitizes(t *testing.T) {
	up := fakeOllama(t)
	defer up.Close()
	r := newTestRouter(up.URL)

	req := httptest.NewRequest(http.MethodPost, "/api/title", strings.NewReader(`{"prompt":"plan a trip"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Title != "Short Title" {
		t.Fatalf("title %q", resp.Title)
	}
}

func TestModelsEndpoint_EmptyListOnFailure(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer up.Close()
	r := newTestRouter(up.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Models) != 0 {
		t.Fatalf("expected empty models, got %v", resp.Models)
	}
}

func TestModelsEndpoint_ListsUpstreamModels(t *testing.T) {
	up := fakeOllama(t)
	defer up.Close()
	r := newTestRouter(up.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Models) != 1 || resp.Models[0] != "gemma3:latest" {
		t.Fatalf("models %v", resp.Models)
	}
}

func TestMeEndpoint(t *testing.T) {
	up := fakeOllama(t)
	defer up.Close()
	r := newTestRouter(up.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var user struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if user.ID != "user-123" || user.Email == "" {
		t.Fatalf("unexpected user %+v", user)
	}
}
