package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/crimson-sun/fraudlens/internal/model"
	"github.com/crimson-sun/fraudlens/internal/output"
)

func testHub() *Hub {
	return NewHub(slog.Default(), output.Standard)
}

func result(id string, level model.RiskLevel) model.ScoredTransaction {
	return model.ScoredTransaction{
		TransactionID: id,
		IsFraud:       level != model.RiskLow,
		RiskLevel:     level,
		ModelScores:   &model.ModelScores{Ensemble: 0.5},
	}
}

func event(level model.RiskLevel) *Event {
	return &Event{Type: EventPrediction, Data: result("TXN_1", level)}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_EmptySubscription(t *testing.T) {
	client := &Client{sub: Subscription{}}
	for _, lvl := range []model.RiskLevel{model.RiskLow, model.RiskMedium, model.RiskHigh} {
		if !shouldSend(client, event(lvl)) {
			t.Errorf("empty subscription should receive %s", lvl)
		}
	}
}

func TestShouldSend_MinRiskLevel(t *testing.T) {
	client := &Client{sub: Subscription{MinRiskLevel: model.RiskMedium}}

	if shouldSend(client, event(model.RiskLow)) {
		t.Error("should NOT receive LOW")
	}
	if !shouldSend(client, event(model.RiskMedium)) {
		t.Error("should receive MEDIUM")
	}
	if !shouldSend(client, event(model.RiskHigh)) {
		t.Error("should receive HIGH")
	}
}

func TestShouldSend_FraudOnly(t *testing.T) {
	client := &Client{sub: Subscription{FraudOnly: true}}

	if shouldSend(client, event(model.RiskLow)) {
		t.Error("fraud-only client should NOT receive legitimate transactions")
	}
	if !shouldSend(client, event(model.RiskHigh)) {
		t.Error("fraud-only client should receive fraud")
	}
}

func TestSubscriptionFromQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/stream?min_risk=HIGH&fraud_only=true", nil)
	sub := subscriptionFromQuery(r)
	if sub.MinRiskLevel != model.RiskHigh || !sub.FraudOnly {
		t.Errorf("unexpected subscription %+v", sub)
	}
	if got := subscriptionFromQuery(httptest.NewRequest("GET", "/stream", nil)); got != (Subscription{}) {
		t.Errorf("expected zero subscription, got %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256)}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_WriteReachesClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256)}
	h.register <- client

	if err := h.Write(context.Background(), result("TXN_42", model.RiskHigh)); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("invalid event JSON: %v", err)
		}
		if ev.Type != EventPrediction || ev.Data.TransactionID != "TXN_42" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_MinimalVerbosity(t *testing.T) {
	h := NewHub(nil, output.Minimal)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 1)}
	h.register <- client
	h.Broadcast(result("TXN_7", model.RiskHigh))

	select {
	case msg := <-client.send:
		if strings.Contains(string(msg), "model_scores") {
			t.Error("model_scores should be stripped at Minimal")
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for broadcast")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{MinRiskLevel: model.RiskHigh},
	}
	h.register <- client

	h.Broadcast(result("TXN_1", model.RiskLow))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive LOW event")
	default:
	}

	h.Broadcast(result("TXN_2", model.RiskHigh))

	select {
	case msg := <-client.send:
		if !strings.Contains(string(msg), "TXN_2") {
			t.Errorf("unexpected message %s", msg)
		}
	case <-time.After(time.Second):
		t.Error("Client should receive HIGH event")
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte)} // never drained
	h.register <- client

	h.Broadcast(result("TXN_1", model.RiskLow))
	time.Sleep(100 * time.Millisecond)

	if n := h.Stats()["connectedClients"].(int); n != 0 {
		t.Errorf("slow client should be disconnected, %d connected", n)
	}
	if _, ok := <-client.send; ok {
		t.Error("slow client's send channel should be closed")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(httpHandler(h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?fraud_only=true"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait until the hub registered the client.
	deadline := time.Now().Add(time.Second)
	for h.Stats()["connectedClients"].(int) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	h.Broadcast(result("TXN_LOW", model.RiskLow))
	h.Broadcast(result("TXN_HIGH", model.RiskHigh))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if ev.Data.TransactionID != "TXN_HIGH" {
		t.Errorf("first message = %s, want TXN_HIGH (LOW filtered)", ev.Data.TransactionID)
	}
}

func TestHub_RejectsAfterStop(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { h.Run(ctx); close(done) }()
	cancel()
	<-done

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != 503 {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWebSocket)
}
