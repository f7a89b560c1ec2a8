package stream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"backend-geotrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

type ingestCall struct {
	userID    string
	sessionID string
	samples   []tracking.Sample
}

type fakeIngestor struct {
	mu    sync.Mutex
	calls chan ingestCall
	err   error
}

func newFakeIngestor() *fakeIngestor {
	return &fakeIngestor{calls: make(chan ingestCall, 8)}
}

func (f *fakeIngestor) Ingest(_ context.Context, userID, sessionID string, samples []tracking.Sample) (tracking.IngestResult, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	f.calls <- ingestCall{userID: userID, sessionID: sessionID, samples: samples}
	if err != nil {
		return tracking.IngestResult{}, err
	}
	return tracking.IngestResult{SessionID: sessionID}, nil
}

func passAuth(c *fiber.Ctx) error {
	c.Locals("user_id", "user-1")
	return c.Next()
}

func denyAuth(c *fiber.Ctx) error {
	return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
}

func startApp(t *testing.T, hub *Hub, ingestor Ingestor, auth fiber.Handler) string {
	t.Helper()
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, ingestor, auth, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "ws://" + ln.Addr().String()
}

func waitForWatchers(t *testing.T, hub *Hub, sessionID string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		got := len(hub.clients[sessionID])
		hub.mu.RUnlock()
		if got == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d watchers on %s", n, sessionID)
}

func expectCall(t *testing.T, f *fakeIngestor) ingestCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for ingest call")
	}
	return ingestCall{}
}

func TestStreamHandlersUpgradeRequired(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(nil, nil), newFakeIngestor(), passAuth, nil)

	for _, path := range []string{"/stream/ws/session-1", "/stream/ingest"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request error: %v", err)
		}
		if resp.StatusCode != fiber.StatusUpgradeRequired {
			t.Fatalf("%s: expected 426 for non-websocket request, got %d", path, resp.StatusCode)
		}
	}
}

func TestStreamHandlersWebsocketBroadcast(t *testing.T) {
	hub := NewHub(nil, nil)
	base := startApp(t, hub, newFakeIngestor(), passAuth)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ws/session-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()
	waitForWatchers(t, hub, "session-1", 1)

	hub.Broadcast("session-1", []byte("hello"))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("unexpected message %q", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ignored")); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func TestStreamHandlersWatcherUnregistersOnClose(t *testing.T) {
	hub := NewHub(nil, nil)
	base := startApp(t, hub, newFakeIngestor(), passAuth)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ws/session-3", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	waitForWatchers(t, hub, "session-3", 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	waitForWatchers(t, hub, "session-3", 0)
	hub.Broadcast("session-3", []byte("ping"))
}

func TestStreamHandlersIngestSingleAndBatch(t *testing.T) {
	ingestor := newFakeIngestor()
	base := startApp(t, NewHub(nil, nil), ingestor, passAuth)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ingest", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	single := `{"session_id":"s-1","lat":28.6,"lng":77.2,"mode":"walk","timestamp":"2025-03-14T06:30:00Z"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(single)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	call := expectCall(t, ingestor)
	if call.userID != "user-1" || call.sessionID != "s-1" || len(call.samples) != 1 || call.samples[0].Mode != "walk" {
		t.Fatalf("unexpected call: %+v", call)
	}

	batch := `{"session_id":"s-1","locations":[{"lat":1,"lng":1},{"lat":2,"lng":2}]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(batch)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if call := expectCall(t, ingestor); len(call.samples) != 2 {
		t.Fatalf("unexpected batch call: %+v", call)
	}
}

func TestStreamHandlersIngestSkipsBadMessages(t *testing.T) {
	ingestor := newFakeIngestor()
	ingestor.err = errors.New("session not found")
	base := startApp(t, NewHub(nil, nil), ingestor, passAuth)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/stream/ingest", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	for _, msg := range []string{`not json`, `{"lat":1,"lng":1}`, `{"session_id":"s-9","lat":1,"lng":1}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}
	if call := expectCall(t, ingestor); call.sessionID != "s-9" {
		t.Fatalf("only the addressed message should reach the ingestor, got %+v", call)
	}

	// the loop survives a failed ingest
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"session_id":"s-10","lat":1,"lng":1}`)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	if call := expectCall(t, ingestor); call.sessionID != "s-10" {
		t.Fatalf("unexpected call: %+v", call)
	}
}

func TestStreamHandlersIngestRequiresAuth(t *testing.T) {
	base := startApp(t, NewHub(nil, nil), newFakeIngestor(), denyAuth)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/stream/ingest", nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}
