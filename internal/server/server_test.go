package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/adsbridge/internal/forward"
	"github.com/danmuck/adsbridge/internal/protocol/frame"
	"github.com/danmuck/adsbridge/internal/protocol/modes"
	"github.com/danmuck/adsbridge/internal/testutil/testlog"
	"github.com/danmuck/adsbridge/internal/validator"
	"github.com/gorilla/websocket"
)

type fakeSource struct {
	ready bool
}

func (f *fakeSource) StatusSnapshot() any {
	return map[string]any{"state": "streaming", "restarts": 2}
}

func (f *fakeSource) Ready() bool { return f.ready }

type fakeRegistrar struct {
	mu        sync.Mutex
	consumers []forward.Consumer
	added     chan forward.Consumer
}

func (f *fakeRegistrar) AddConsumer(c forward.Consumer) error {
	f.mu.Lock()
	f.consumers = append(f.consumers, c)
	f.mu.Unlock()
	f.added <- c
	return nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndStatusRoutes(t *testing.T) {
	testlog.Start(t)
	src := &fakeSource{}
	s := New(Config{}, src, nil)

	rr := get(t, s.Handler(), "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("health status=%d body=%s", rr.Code, rr.Body.String())
	}
	var health map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "ok" || health["service"] != "adsbridge" {
		t.Fatalf("unexpected health body: %#v", health)
	}

	rr = get(t, s.Handler(), "/status")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"state":"streaming"`) {
		t.Fatalf("status code=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = get(t, s.Handler(), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
}

func TestReadyReflectsSource(t *testing.T) {
	testlog.Start(t)
	src := &fakeSource{}
	s := New(Config{}, src, nil)

	if rr := get(t, s.Handler(), "/ready"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while not streaming, got %d", rr.Code)
	}
	src.ready = true
	if rr := get(t, s.Handler(), "/ready"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 while streaming, got %d", rr.Code)
	}
}

func TestWebSocketRouteDisabledWithoutRegistrar(t *testing.T) {
	testlog.Start(t)
	s := New(Config{WebSocket: true}, &fakeSource{}, nil)
	if rr := get(t, s.Handler(), "/ws"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestWebSocketClientReceivesRecords(t *testing.T) {
	testlog.Start(t)
	reg := &fakeRegistrar{added: make(chan forward.Consumer, 1)}
	s := New(Config{WebSocket: true}, &fakeSource{ready: true}, reg)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var consumer forward.Consumer
	select {
	case consumer = <-reg.added:
	case <-time.After(2 * time.Second):
		t.Fatalf("websocket client was not registered")
	}
	if !consumer.Alive() || !strings.HasPrefix(consumer.Name(), "ws:1:") {
		t.Fatalf("unexpected consumer name=%q alive=%v", consumer.Name(), consumer.Alive())
	}

	raw, _ := hex.DecodeString("8D4840D6202CC371C32CE0576098")
	v := validator.New(validator.DefaultConfig())
	vf, reason := v.Validate(frame.Message{Class: modes.ClassLong, Payload: raw})
	if reason != validator.Accepted {
		t.Fatalf("validate: %s", reason)
	}
	if err := consumer.Render(context.Background(), vf); err != nil {
		t.Fatalf("render: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rec validator.Record
	if err := conn.ReadJSON(&rec); err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.ICAO != "4840D6" || rec.DF != 17 || rec.Hex != "8D4840D6202CC371C32CE0576098" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := consumer.Reconnect(context.Background()); !errors.Is(err, forward.ErrNotReconnectable) {
		t.Fatalf("expected ErrNotReconnectable, got %v", err)
	}
	_ = consumer.Close()
}

func TestTokenGuardsDataEndpoints(t *testing.T) {
	testlog.Start(t)
	s := New(Config{Token: "s3cret"}, &fakeSource{ready: true}, nil)

	if rr := get(t, s.Handler(), "/status"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := get(t, s.Handler(), "/health"); rr.Code != http.StatusOK {
		t.Fatalf("health must stay open, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
	if rr := get(t, s.Handler(), "/metrics?token=s3cret"); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", rr.Code)
	}
}
