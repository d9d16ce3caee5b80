package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/config"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/payout"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/session"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/domain/slot"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/handler/middleware"
	v1 "github.com/dmehra2102/prod-golang-projects/practiceflow/internal/handler/v1"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/realtime"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/repository/memory"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/service"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/internal/testfixtures"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/auth"
	"github.com/dmehra2102/prod-golang-projects/practiceflow/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var brt = time.FixedZone("BRT", -3*60*60)

type apiEnv struct {
	router   *gin.Engine
	clock    *testfixtures.Clock
	tokens   *auth.JWTManager
	provider uuid.UUID
	token    string
	healthy  error
}

func newAPIEnv(t *testing.T, now time.Time) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		App:       config.AppConfig{Name: "practiceflow", Environment: "test", Version: "test"},
		JWT:       config.JWTConfig{Secret: strings.Repeat("k", 32), AccessTokenTTL: time.Hour, Issuer: "practiceflow-test"},
		Tracing:   config.TracingConfig{ServiceName: "practiceflow"},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}, AllowedHeaders: []string{"Authorization"}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000},
	}

	store := memory.NewStore()
	clock := testfixtures.NewClock(now)
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector("test", reg)
	log := zap.NewNop()
	bus := realtime.NewBus(64, m, log)
	auditSvc := service.NewAuditService(store.Audit(), m, log)
	t.Cleanup(auditSvc.Shutdown)

	calendar := service.NewCalendarService(store.Slots(), store.Sessions(), service.CalendarOptions{
		Grid:           slot.Grid{Start: "07:00", End: "22:00", Step: time.Hour},
		HorizonDays:    60,
		SessionMinutes: session.DefaultDurationMinutes,
		Location:       brt,
	}, clock, bus, auditSvc, m, log)
	sessions := service.NewSessionService(store.Sessions(), store.Cancellations(), service.SessionOptions{
		Policy:       session.DefaultCancellationPolicy(brt),
		HorizonDays:  60,
		PollInterval: 15 * time.Second,
		Location:     brt,
	}, clock, bus, auditSvc, m, log)
	payouts := service.NewPayoutService(store.Payouts(), payout.DefaultGate(brt), clock, bus, auditSvc, m, log)

	tokens := auth.NewJWTManager(cfg.JWT)
	watcher := realtime.NewSessionWatcher(bus, sessions, sessions.Tracker(), clock, 15*time.Second, log)

	env := &apiEnv{clock: clock, tokens: tokens, provider: uuid.New()}
	ws := realtime.NewWebSocketHandler(bus, watcher, v1.TopicAuthorizer(sessions), middleware.ClaimsFrom, cfg.CORS.AllowedOrigins, 16, log)

	env.router = NewRouter(Deps{
		Config:   cfg,
		Calendar: calendar,
		Sessions: sessions,
		Payouts:  payouts,
		Realtime: ws,
		Tokens:   tokens,
		Checks: map[string]v1.HealthCheck{
			"store": func(context.Context) error { return env.healthy },
		},
		Metrics:  m,
		Gatherer: reg,
		Logger:   log,
	})
	env.token = env.tokenFor(t, domain.RoleProvider, &env.provider)
	return env
}

func (e *apiEnv) tokenFor(t *testing.T, role domain.Role, providerID *uuid.UUID) string {
	t.Helper()
	tok, _, err := e.tokens.GenerateAccessToken(&domain.Claims{UserID: uuid.New(), Role: role, ProviderID: providerID})
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	return tok
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Refetch bool            `json:"refetch"`
	Fields  []string        `json:"fields"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, into any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	if into != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, into); err != nil {
			t.Fatalf("decoding data: %v", err)
		}
	}
	return env
}

type slotJSON struct {
	ID          uuid.UUID `json:"id"`
	Time        string    `json:"time"`
	Status      string    `json:"status"`
	Interactive bool      `json:"interactive"`
}

// openSlot lists the day and makes hhmm Available through the API.
func (e *apiEnv) openSlot(t *testing.T, date, hhmm string) uuid.UUID {
	t.Helper()
	var day struct {
		Slots []slotJSON `json:"slots"`
	}
	rec := e.do(t, http.MethodGet, "/api/v1/calendar/slots?date="+date, e.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list slots: %d %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &day)
	for _, s := range day.Slots {
		if s.Time != hhmm {
			continue
		}
		rec = e.do(t, http.MethodPost, "/api/v1/calendar/slots/bulk", e.token, map[string]any{
			"slot_ids": []uuid.UUID{s.ID},
			"status":   "Available",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("open slot: %d %s", rec.Code, rec.Body.String())
		}
		return s.ID
	}
	t.Fatalf("no slot at %s", hhmm)
	return uuid.Nil
}

func (e *apiEnv) book(t *testing.T, slotID uuid.UUID) uuid.UUID {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/calendar/slots/"+slotID.String()+"/book", e.token, map[string]any{
		"counterpart_id": uuid.New(),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("book: %d %s", rec.Code, rec.Body.String())
	}
	var sess struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, rec, &sess)
	return sess.ID
}

func TestHealthz(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, brt))

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id on every response")
	}

	env.healthy = errors.New("connection refused")
	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"store":"down"`) {
		t.Fatalf("expected degraded health, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAPI_RequiresToken(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, brt))

	if rec := env.do(t, http.MethodGet, "/api/v1/sessions/dashboard", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/sessions/dashboard", "not-a-jwt", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestCalendar_ListSlots(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 10, 12, 30, 0, 0, brt))

	var day struct {
		ProviderID uuid.UUID  `json:"provider_id"`
		Date       string     `json:"date"`
		Slots      []slotJSON `json:"slots"`
	}
	rec := env.do(t, http.MethodGet, "/api/v1/calendar/slots?date=2025-03-10", env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &day)
	if day.ProviderID != env.provider || day.Date != "2025-03-10" || len(day.Slots) != 15 {
		t.Fatalf("unexpected day: %+v", day)
	}
	if day.Slots[0].Interactive || !day.Slots[14].Interactive {
		t.Fatal("expected past slots read-only and future slots interactive")
	}

	for _, q := range []string{"", "?date=10/03/2025", "?date=2025-03-10&provider_id=nope"} {
		if rec := env.do(t, http.MethodGet, "/api/v1/calendar/slots"+q, env.token, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("query %q: expected 400, got %d", q, rec.Code)
		}
	}
}

func TestCalendar_ForeignProviderForbidden(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, brt))

	rec := env.do(t, http.MethodGet, "/api/v1/calendar/slots?date=2025-03-10&provider_id="+uuid.NewString(), env.token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	staff := env.tokenFor(t, domain.RoleStaff, nil)
	rec = env.do(t, http.MethodGet, "/api/v1/calendar/slots?date=2025-03-10&provider_id="+env.provider.String(), staff, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected staff to act for the provider, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/calendar/slots?date=2025-03-10", staff, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when staff omit provider_id, got %d", rec.Code)
	}
}

func TestCalendar_BulkValidation(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, brt))

	rec := env.do(t, http.MethodPost, "/api/v1/calendar/slots/bulk", env.token, map[string]any{
		"slot_ids": []uuid.UUID{},
		"status":   "sideways",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec, nil)
	if body.Code != "validation_failed" || len(body.Fields) != 2 {
		t.Fatalf("unexpected validation body: %+v", body)
	}
}

func TestCalendar_BulkPartialSuccess(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 10, 12, 30, 0, 0, brt))

	var day struct {
		Slots []slotJSON `json:"slots"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/calendar/slots?date=2025-03-10", env.token, nil), &day)

	ids := []uuid.UUID{day.Slots[2].ID, day.Slots[11].ID, uuid.New()} // 09:00, 18:00, unknown
	rec := env.do(t, http.MethodPost, "/api/v1/calendar/slots/bulk", env.token, map[string]any{
		"slot_ids": ids,
		"status":   "available",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for partial success, got %d %s", rec.Code, rec.Body.String())
	}
	var res service.BulkUpdateResult
	decode(t, rec, &res)
	if res.Applied != 1 || res.Rejected != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Results[0].Reason != "slot_in_past" || res.Results[2].Reason != "slot_not_found" {
		t.Fatalf("unexpected reasons: %+v", res.Results)
	}
}

func TestCalendar_BookAndConflict(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, brt))

	slotID := env.openSlot(t, "2025-03-10", "09:00")
	env.book(t, slotID)

	rec := env.do(t, http.MethodPost, "/api/v1/calendar/slots/"+slotID.String()+"/book", env.token, map[string]any{
		"counterpart_id": uuid.New(),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on double booking, got %d %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec, nil)
	if body.Code != "slot_not_available" || !body.Refetch {
		t.Fatalf("unexpected conflict body: %+v", body)
	}

	if rec := env.do(t, http.MethodPost, "/api/v1/calendar/slots/not-a-uuid/book", env.token, map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed id, got %d", rec.Code)
	}
}

func TestSessions_Lifecycle(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, brt))

	sessionID := env.book(t, env.openSlot(t, "2025-03-10", "10:00"))
	base := "/api/v1/sessions/" + sessionID.String()

	rec := env.do(t, http.MethodPost, base+"/start", env.token, nil)
	if rec.Code != http.StatusUnprocessableEntity || decode(t, rec, nil).Code != "session_not_started" {
		t.Fatalf("expected 422 session_not_started, got %d %s", rec.Code, rec.Body.String())
	}

	env.clock.Set(time.Date(2025, time.March, 10, 10, 5, 0, 0, brt))
	var dash service.Dashboard
	rec = env.do(t, http.MethodGet, "/api/v1/sessions/dashboard", env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dashboard: %d %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &dash)
	if dash.Active == nil || dash.Active.ID != sessionID || dash.Active.EffectiveStatus != session.StatusInProgress {
		t.Fatalf("expected the booked session to be active: %+v", dash.Active)
	}

	if rec := env.do(t, http.MethodPost, base+"/start", env.token, nil); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	env.clock.Set(time.Date(2025, time.March, 10, 10, 50, 0, 0, brt))
	if rec := env.do(t, http.MethodPost, base+"/complete", env.token, nil); rec.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, base+"/complete", env.token, nil)
	if rec.Code != http.StatusConflict || !decode(t, rec, nil).Refetch {
		t.Fatalf("expected 409 with refetch on a repeated completion, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSessions_NotFound(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, brt))

	rec := env.do(t, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), env.token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decode(t, rec, nil); body.Code != "session_not_found" || !body.Refetch {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestSessions_Cancellation(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 9, 10, 0, 0, 0, brt))

	sessionID := env.book(t, env.openSlot(t, "2025-03-10", "09:00"))
	path := "/api/v1/sessions/" + sessionID.String() + "/cancellation"

	var auth session.Authorization
	rec := env.do(t, http.MethodGet, path, env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorize: %d %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &auth)
	if auth.Category != session.CategoryLate || !auth.RequiresJustification || !auth.RequiresDocument {
		t.Fatalf("expected a late cancellation needing justification and document: %+v", auth)
	}

	rec = env.do(t, http.MethodPost, path, env.token, map[string]any{"category": "late"})
	if rec.Code != http.StatusBadRequest || len(decode(t, rec, nil).Fields) != 2 {
		t.Fatalf("expected 400 with two missing fields, got %d %s", rec.Code, rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, path+"/record", env.token, nil); rec.Code != http.StatusNotFound || decode(t, rec, nil).Code != "cancellation_not_found" {
		t.Fatalf("expected 404 before cancelling, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, path, env.token, map[string]any{
		"category":      "late",
		"justification": "fever",
		"document_ref":  "docs/medical-note.pdf",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}

	var stored session.CancellationRecord
	rec = env.do(t, http.MethodGet, path+"/record", env.token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("record: %d %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &stored)
	if stored.Category != session.CategoryLate || stored.Justification != "fever" || stored.SessionID != sessionID {
		t.Fatalf("unexpected stored record %+v", stored)
	}

	rec = env.do(t, http.MethodPost, path, env.token, map[string]any{"category": "late", "justification": "again", "document_ref": "x"})
	if rec.Code != http.StatusConflict || decode(t, rec, nil).Code != "session_not_cancellable" {
		t.Fatalf("expected 409 session_not_cancellable, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPayouts_WindowAndRoles(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 20, 10, 0, 0, 0, brt))
	body := map[string]any{"amount_cents": 150000, "session_count": 12}

	rec := env.do(t, http.MethodPost, "/api/v1/payouts", env.token, body)
	if rec.Code != http.StatusUnprocessableEntity || decode(t, rec, nil).Code != "outside_monthly_window" {
		t.Fatalf("expected 422 outside_monthly_window, got %d %s", rec.Code, rec.Body.String())
	}

	staff := env.tokenFor(t, domain.RoleStaff, nil)
	staffBody := map[string]any{"provider_id": env.provider, "amount_cents": 150000}
	if rec := env.do(t, http.MethodPost, "/api/v1/payouts", staff, staffBody); rec.Code != http.StatusForbidden {
		t.Fatalf("expected staff to be refused, got %d", rec.Code)
	}

	env.clock.Set(time.Date(2025, time.March, 22, 10, 0, 0, 0, brt))
	rec = env.do(t, http.MethodPost, "/api/v1/payouts", env.token, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/payouts", env.token, body)
	if rec.Code != http.StatusUnprocessableEntity || decode(t, rec, nil).Code != "cooldown_active" {
		t.Fatalf("expected 422 cooldown_active, got %d %s", rec.Code, rec.Body.String())
	}

	var elig payout.Eligibility
	decode(t, env.do(t, http.MethodGet, "/api/v1/payouts/eligibility", env.token, nil), &elig)
	if elig.Eligible || elig.Reason != "cooldown_active" {
		t.Fatalf("unexpected eligibility: %+v", elig)
	}

	var list []payout.Request
	decode(t, env.do(t, http.MethodGet, "/api/v1/payouts?limit=5", env.token, nil), &list)
	if len(list) != 1 || list[0].PeriodLabel != "2025-03" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, brt))
	env.do(t, http.MethodGet, "/api/v1/calendar/slots?date=2025-03-10", env.token, nil)

	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `path="/api/v1/calendar/slots"`) {
		t.Fatal("expected request metrics labelled by route template")
	}
}

func TestRealtime_DeniesForeignTopic(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, brt))
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/realtime/ws?access_token=" + env.token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	foreign := realtime.ProviderTopic(uuid.New())
	if err := conn.WriteJSON(realtime.ClientMessage{Action: "subscribe", Topics: []string{foreign}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev realtime.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != realtime.TypeSubscriptionDenied || ev.Topic != foreign {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestRealtime_TokenOnlyOnUpgrade(t *testing.T) {
	env := newAPIEnv(t, time.Date(2025, time.March, 5, 10, 0, 0, 0, brt))

	rec := env.do(t, http.MethodGet, "/api/v1/sessions/dashboard?access_token="+env.token, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected query tokens to be ignored outside websocket upgrades, got %d", rec.Code)
	}
}
