package relayclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatrelay/internal/upstream"
)

func ndjsonServer(t *testing.T, body string, chunkSize int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
		flusher := w.(http.Flusher)
		for i := 0; i < len(body); i += chunkSize {
			end := i + chunkSize
			if end > len(body) {
				end = len(body)
			}
			if _, err := w.Write([]byte(body[i:end])); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
}

func drain(t *testing.T, events <-chan upstream.Event, errs <-chan error) ([]upstream.Event, error) {
	t.Helper()
	var out []upstream.Event
	for ev := range events {
		out = append(out, ev)
	}
	select {
	case err := <-errs:
		return out, err
	default:
		return out, nil
	}
}

func TestStreamChat_ReframesAcrossReadBoundaries(t *testing.T) {
	body := `{"type":"delta","content":"Hel"}` + "\n" +
		`{"type":"delta","content":"lo"}` + "\n" +
		"garbage line\n" +
		`{"type":"done"}` + "\n"

	for _, size := range []int{2, 9, len(body)} {
		srv := ndjsonServer(t, body, size)

		c := New(srv.URL)
		events, errs := c.StreamChat(context.Background(), "m", []upstream.Message{{Role: "user", Content: "hi"}})
		got, err := drain(t, events, errs)
		srv.Close()
		if err != nil {
			t.Fatalf("size %d: unexpected error: %v", size, err)
		}

		var b strings.Builder
		for _, ev := range got {
			if ev.Type == upstream.EventDelta {
				b.WriteString(ev.Content)
			}
		}
		if b.String() != "Hello" {
			t.Fatalf("size %d: reassembled %q", size, b.String())
		}
		if got[len(got)-1].Type != upstream.EventDone {
			t.Fatalf("size %d: missing done", size)
		}
	}
}

func TestStreamChat_TrailingLineWithoutNewline(t *testing.T) {
	body := `{"type":"delta","content":"partial"}`
	srv := ndjsonServer(t, body, len(body))
	defer srv.Close()

	c := New(srv.URL)
	events, errs := c.StreamChat(context.Background(), "m", nil)
	got, err := drain(t, events, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Content != "partial" {
		t.Fatalf("trailing line not flushed: %+v", got)
	}
}

func TestStreamChat_SeveredMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
		w.Write([]byte(`{"type":"delta","content":"partial "}` + "\n"))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	c := New(srv.URL)
	events, errs := c.StreamChat(context.Background(), "m", nil)
	got, err := drain(t, events, errs)
	if err == nil {
		t.Fatalf("expected transport error from severed stream")
	}
	for _, ev := range got {
		if ev.Type == upstream.EventDone {
			t.Fatalf("severed stream produced done: %+v", got)
		}
	}
}

func TestStreamChat_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Failed to generate response"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	events, errs := c.StreamChat(context.Background(), "m", nil)
	got, err := drain(t, events, errs)
	if len(got) != 0 {
		t.Fatalf("expected no events, got %+v", got)
	}
	if err == nil || !strings.Contains(err.Error(), "Failed to generate response") {
		t.Fatalf("expected relay error with body message, got %v", err)
	}
}

func TestTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/title" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"title":"Fitness App Names"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	title, err := c.Title(context.Background(), "Brainstorm names for a fitness app")
	if err != nil {
		t.Fatalf("title: %v", err)
	}
	if title != "Fitness App Names" {
		t.Fatalf("unexpected title %q", title)
	}
}

func TestTitle_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Failed to generate title"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Title(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error on failure status")
	}
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":["gemma3:latest","mistral:latest"]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	models, err := c.Models(context.Background())
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if len(models) != 2 || models[0] != "gemma3:latest" {
		t.Fatalf("unexpected models %v", models)
	}
}

func TestDefaultModels_NonEmpty(t *testing.T) {
	if len(DefaultModels()) == 0 {
		t.Fatalf("fallback model list must not be empty")
	}
}
