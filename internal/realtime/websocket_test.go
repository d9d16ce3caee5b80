package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/repository/memory"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, bus *Bus, providerID uuid.UUID) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	watcher := NewSessionWatcher(bus, store.Sessions(), session.NewTracker(time.UTC),
		runningClock(time.Now()), 5*time.Second, zap.NewNop())

	claims := func(*gin.Context) (*domain.Claims, bool) {
		return &domain.Claims{UserID: uuid.New(), Role: domain.RoleProvider, ProviderID: &providerID}, true
	}
	authorize := func(_ context.Context, c *domain.Claims, topic string) bool {
		id, ok := ProviderIDFromTopic(topic)
		return ok && c.ProviderID != nil && *c.ProviderID == id
	}

	h := NewWebSocketHandler(bus, watcher, authorize, claims, []string{"*"}, 8, zap.NewNop())
	r := gin.New()
	r.GET("/ws", h.HandleConnect)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForTopic(t *testing.T, bus *Bus, topic string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for bus.TopicCount(topic) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no subscriber on %s", topic)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_ForwardsProviderEvents(t *testing.T) {
	bus := NewBus(8, nil, nil)
	provider := uuid.New()
	srv := newTestServer(t, bus, provider)
	conn := dial(t, srv)

	topic := ProviderTopic(provider)
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{topic}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitForTopic(t, bus, topic)

	_ = bus.Publish(context.Background(), Event{Type: TypeSlotsChanged, Topic: topic, Date: "2025-03-10"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != TypeSlotsChanged || got.Date != "2025-03-10" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestWebSocket_DeniesForeignTopics(t *testing.T) {
	bus := NewBus(8, nil, nil)
	srv := newTestServer(t, bus, uuid.New())
	conn := dial(t, srv)

	foreign := ProviderTopic(uuid.New())
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{foreign}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != TypeSubscriptionDenied || got.Topic != foreign {
		t.Fatalf("expected denial, got %+v", got)
	}
	if bus.TopicCount(foreign) != 0 {
		t.Fatal("denied topic must not be subscribed")
	}
}

func TestWebSocket_ReleasesSubscriptionOnClose(t *testing.T) {
	bus := NewBus(8, nil, nil)
	provider := uuid.New()
	srv := newTestServer(t, bus, provider)
	conn := dial(t, srv)

	topic := ProviderTopic(provider)
	_ = conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{topic}})
	waitForTopic(t, bus, topic)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription leaked after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
