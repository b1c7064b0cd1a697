package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"relaybot/internal/auth"
	"relaybot/internal/bot"
	"relaybot/internal/metrics"
	"relaybot/internal/models"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (r *recordingDispatcher) Dispatch(_ context.Context, ev *models.Event) models.Outcome {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return models.Outcome{
		EventID: ev.ID,
		Route:   models.RouteFreeformText,
		Status:  models.StatusReplied,
		Reply:   "echo: " + ev.Text,
	}
}

func (r *recordingDispatcher) last() *models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestServer(t *testing.T, secret string) (*gin.Engine, *recordingDispatcher) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	disp := &recordingDispatcher{}
	router := gin.New()
	NewHandler(disp, metrics.New(), secret, nil).RegisterRoutes(router)
	return router, disp
}

func TestPostEvent(t *testing.T) {
	router, disp := newTestServer(t, "")

	rec := doJSONRequest(t, router, http.MethodPost, "/api/events", map[string]any{
		"user_id": "42",
		"chat":    map[string]string{"id": "42", "type": "private"},
		"text":    "hello",
	}, nil)
	assertStatus(t, rec, http.StatusOK)

	var out models.Outcome
	decodeJSON(t, rec.Body.Bytes(), &out)
	if out.Reply != "echo: hello" || out.Status != models.StatusReplied {
		t.Fatalf("unexpected outcome %+v", out)
	}
	ev := disp.last()
	if ev.ID == "" || out.EventID != ev.ID {
		t.Fatalf("event id should be assigned, got %q / %q", ev.ID, out.EventID)
	}
	if ev.ReceivedAt.IsZero() {
		t.Fatalf("received_at should be stamped")
	}
}

func TestPostEventKeepsCallerID(t *testing.T) {
	router, disp := newTestServer(t, "")
	rec := doJSONRequest(t, router, http.MethodPost, "/api/events", map[string]any{
		"id":      "update-7",
		"user_id": "42",
		"text":    "hi",
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	if got := disp.last(); got.ID != "update-7" || got.Chat.Type != models.ChatPrivate {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestPostEventRejectsMalformedJSON(t *testing.T) {
	router, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestWebhookSecret(t *testing.T) {
	router, _ := newTestServer(t, "s3cret")
	body := map[string]any{"user_id": "42", "text": "hi"}

	rec := doJSONRequest(t, router, http.MethodPost, "/api/events", body, nil)
	assertStatus(t, rec, http.StatusUnauthorized)

	rec = doJSONRequest(t, router, http.MethodPost, "/api/events", body, map[string]string{auth.SecretHeader: "wrong"})
	assertStatus(t, rec, http.StatusUnauthorized)

	rec = doJSONRequest(t, router, http.MethodPost, "/api/events", body, map[string]string{auth.SecretHeader: "s3cret"})
	assertStatus(t, rec, http.StatusOK)

	// operational endpoints stay open
	rec = doJSONRequest(t, router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, rec, http.StatusOK)
}

func TestListCommands(t *testing.T) {
	router, _ := newTestServer(t, "")
	rec := doJSONRequest(t, router, http.MethodGet, "/api/commands", nil, nil)
	assertStatus(t, rec, http.StatusOK)

	var set bot.CommandSet
	decodeJSON(t, rec.Body.Bytes(), &set)
	if len(set.Private) != 2 || len(set.Groups) != 4 {
		t.Fatalf("unexpected command set %+v", set)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestServer(t, "")
	rec := doJSONRequest(t, router, http.MethodGet, "/metrics", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected go collector output")
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	router, _ := newTestServer(t, "s3cret")
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	header := http.Header{}
	header.Set(auth.SecretHeader, "s3cret")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello wsMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read connected: %v", err)
	}
	if hello.Type != "connected" || hello.ConnectionID == "" {
		t.Fatalf("unexpected greeting %+v", hello)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("nope")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var bad wsMessage
	if err := conn.ReadJSON(&bad); err != nil {
		t.Fatalf("read error: %v", err)
	}
	if bad.Type != "error" {
		t.Fatalf("expected error message, got %+v", bad)
	}

	if err := conn.WriteJSON(map[string]any{"user_id": "42", "text": "over ws"}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	var got wsMessage
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read outcome: %v", err)
	}
	if got.Type != "outcome" || got.Outcome == nil || got.Outcome.Reply != "echo: over ws" {
		t.Fatalf("unexpected outcome %+v", got)
	}
}

func TestWebsocketRequiresSecret(t *testing.T) {
	router, _ := newTestServer(t, "s3cret")
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without secret")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
