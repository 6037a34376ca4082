package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	logx "sitewatch/pkg/logx"
)

func TestOpsSenderPostsToChat(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		path string
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		_ = json.Unmarshal(raw, &body)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"group"}}}`))
	}))
	defer srv.Close()

	s, err := NewOpsSender(Config{Token: "42:secret", ChatID: "-100", APIBase: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.SendLog(context.Background(), "[ERROR] lane stalled"); err != nil {
		t.Fatalf("send: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.HasSuffix(path, "/bot42:secret/sendMessage") {
		t.Fatalf("unexpected path %q", path)
	}
	if body["text"] != "[ERROR] lane stalled" {
		t.Fatalf("unexpected text: %v", body["text"])
	}
	if body["chat_id"] != "-100" {
		t.Fatalf("unexpected chat id: %v", body["chat_id"])
	}
}

func TestOpsSenderValidatesConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewOpsSender(Config{ChatID: "1"}, logx.Nop()); err == nil {
		t.Fatalf("expected missing token error")
	}
	if _, err := NewOpsSender(Config{Token: "t", ChatID: "@channel"}, logx.Nop()); err == nil {
		t.Fatalf("expected numeric chat id error")
	}
}

func TestOpsSenderHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	s, err := NewOpsSender(Config{Token: "t", ChatID: "1", APIBase: "http://127.0.0.1:1"}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SendLog(ctx, "x"); err == nil {
		t.Fatalf("expected canceled context error")
	}
}
