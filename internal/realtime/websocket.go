package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

// TypeSubscriptionDenied is sent back when a client asks for a topic it may
// not observe.
const TypeSubscriptionDenied = "subscription.denied"

// ClientMessage is an inbound frame: {"action":"subscribe","topics":["provider/<id>"]}.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// TopicAuthorizer decides whether claims may observe topic.
type TopicAuthorizer func(ctx context.Context, claims *domain.Claims, topic string) bool

// ClaimsFunc extracts the authenticated caller from the request.
type ClaimsFunc func(c *gin.Context) (*domain.Claims, bool)

type WebSocketHandler struct {
	bus        *Bus
	watcher    *SessionWatcher
	authorize  TopicAuthorizer
	claims     ClaimsFunc
	sendBuffer int
	log        *zap.Logger
	upgrader   websocket.Upgrader
}

func NewWebSocketHandler(
	bus *Bus,
	watcher *SessionWatcher,
	authorize TopicAuthorizer,
	claims ClaimsFunc,
	allowedOrigins []string,
	sendBuffer int,
	log *zap.Logger,
) *WebSocketHandler {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &WebSocketHandler{
		bus:        bus,
		watcher:    watcher,
		authorize:  authorize,
		claims:     claims,
		sendBuffer: sendBuffer,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// client is one websocket connection. Provider topics are served straight
// from the bus; session topics are served by a SessionWatcher so time-driven
// status flips reach the client even when nothing is published.
type client struct {
	conn     *websocket.Conn
	claims   *domain.Claims
	sub      *Subscription
	out      chan Event
	mu       sync.Mutex
	watchers map[string]context.CancelFunc
}

// HandleConnect upgrades the request and serves the connection until the
// client goes away. It blocks for the life of the connection.
func (h *WebSocketHandler) HandleConnect(c *gin.Context) {
	claims, ok := h.claims(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cl := &client{
		conn:     conn,
		claims:   claims,
		sub:      h.bus.Subscribe(),
		out:      make(chan Event, h.sendBuffer),
		watchers: make(map[string]context.CancelFunc),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ctx, cl)
	}()

	h.readPump(ctx, cl)

	cancel()
	cl.sub.Close()
	<-done
	conn.Close()
}

func (h *WebSocketHandler) readPump(ctx context.Context, cl *client) {
	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		h.process(ctx, cl, msg)
	}
}

func (h *WebSocketHandler) process(ctx context.Context, cl *client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		for _, topic := range msg.Topics {
			if !h.authorize(ctx, cl.claims, topic) {
				cl.enqueue(Event{Type: TypeSubscriptionDenied, Topic: topic, Timestamp: time.Now().UTC()})
				continue
			}
			if id, ok := SessionIDFromTopic(topic); ok {
				h.startWatch(ctx, cl, topic, id)
				continue
			}
			h.bus.AddTopics(cl.sub, topic)
		}
	case "unsubscribe":
		for _, topic := range msg.Topics {
			cl.stopWatch(topic)
			h.bus.RemoveTopics(cl.sub, topic)
		}
	}
}

func (h *WebSocketHandler) startWatch(ctx context.Context, cl *client, topic string, id uuid.UUID) {
	cl.mu.Lock()
	if _, running := cl.watchers[topic]; running {
		cl.mu.Unlock()
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	cl.watchers[topic] = cancel
	cl.mu.Unlock()

	go func() {
		defer cl.stopWatch(topic)
		err := h.watcher.Watch(wctx, id, func(Snapshot) {
			cl.enqueue(Event{
				Type:         TypeSessionChanged,
				Topic:        topic,
				ResourceType: "session",
				ResourceID:   id.String(),
				Timestamp:    time.Now().UTC(),
			})
		})
		if err != nil {
			h.log.Warn("session watch ended", zap.String("session_id", id.String()), zap.Error(err))
		}
	}()
}

func (cl *client) stopWatch(topic string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cancel, ok := cl.watchers[topic]; ok {
		cancel()
		delete(cl.watchers, topic)
	}
}

func (cl *client) enqueue(e Event) {
	select {
	case cl.out <- e:
	default:
	}
}

// writePump is the connection's only writer.
func (h *WebSocketHandler) writePump(ctx context.Context, cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var event Event
		select {
		case <-ctx.Done():
			_ = cl.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case e, ok := <-cl.sub.Events():
			if !ok {
				return
			}
			event = e
		case e := <-cl.out:
			event = e
		}

		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := cl.conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// SessionIDFromTopic parses "session/<uuid>" topics.
func SessionIDFromTopic(topic string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(topic, "session/")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// ProviderIDFromTopic parses "provider/<uuid>" topics.
func ProviderIDFromTopic(topic string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(topic, "provider/")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
