package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"toad-architect-go/internal/config"
	"toad-architect-go/internal/middleware"
	"toad-architect-go/internal/model"
	"toad-architect-go/internal/repository"
	"toad-architect-go/internal/service"
	"toad-architect-go/pkg/database"
	"toad-architect-go/pkg/llm"
	"toad-architect-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

// stubLLM 返回固定回复或错误，流式调用时逐块写出。
type stubLLM struct {
	mu        sync.Mutex
	reply     string
	err       error
	chunks    []string
	healthErr error
}

func (s *stubLLM) Complete(context.Context, []llm.Message, *llm.GenerationParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubLLM) StreamChatMessages(_ context.Context, _ []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	var answer string
	for _, c := range s.chunks {
		if err := w.WriteMessage(websocket.TextMessage, []byte(c)); err != nil {
			return answer, err
		}
		answer += c
	}
	return answer, nil
}

func (s *stubLLM) ValidateCredentials(context.Context) error { return s.healthErr }

func (s *stubLLM) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type testServer struct {
	engine *gin.Engine
	llm    *stubLLM
	jwt    *token.JWTManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	db, err := database.OpenGorm("sqlite", filepath.Join(t.TempDir(), "toad.db"), nil)
	if err != nil {
		t.Fatalf("OpenGorm failed: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Session: config.SessionConfig{SummaryThreshold: 20, ContextWindowMax: 15, ContextWindowKeep: 5},
		Cleanup: config.CleanupConfig{RetentionDays: 30},
	}
	stub := &stubLLM{reply: "Let's start with your users.", chunks: []string{"Hel", "lo"}}
	repo := repository.NewSessionRepository(db)
	stats := service.NewStatsService(repository.NewMemoryStatsRepository(), logger)
	sessions := service.NewSessionService(repo, repository.NewLocalSessionLocker(time.Second), stub, cfg, logger,
		service.WithEventPublisher(service.NewLocalPublisher(stats)))
	jwtManager := token.NewJWTManager("test-secret", 1)

	engine := NewRouter(RouterDeps{
		Sessions:   sessions,
		Chat:       service.NewChatService(sessions),
		Health:     service.NewHealthService(repo, stub, logger),
		Stats:      stats,
		JWTManager: jwtManager,
		Logger:     logger,
	})
	return &testServer{engine: engine, llm: stub, jwt: jwtManager}
}

func (s *testServer) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) createSession(t *testing.T) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/sessions", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var session model.Session
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatal(err)
	}
	return session.SessionID
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorBody {
	t.Helper()
	var body middleware.ErrorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestCreateSession(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/sessions", `{"customInstructions":"  Focus on security  "}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var session model.Session
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatal(err)
	}
	if !isUUIDv4(session.SessionID) {
		t.Fatalf("expected v4 session id, got %q", session.SessionID)
	}
	if session.CurrentPhase != 1 || len(session.ConversationHistory) != 0 {
		t.Fatalf("unexpected new session %+v", session)
	}
	if session.CustomInstructions == nil || *session.CustomInstructions != "Focus on security" {
		t.Fatalf("custom instructions not trimmed: %v", session.CustomInstructions)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	s := newTestServer(t)
	long := strings.Repeat("x", maxCustomInstructions+1)

	w := s.do(t, http.MethodPost, "/api/sessions", `{"customInstructions":"`+long+`"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decodeError(t, w)
	if body.Error != "Validation failed" || body.Message != "Invalid input data" {
		t.Fatalf("unexpected body %+v", body)
	}

	w = s.do(t, http.MethodPost, "/api/sessions", `{"customInstructions":42}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-string instructions, got %d", w.Code)
	}
}

func TestGetSessionErrors(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/sessions/not-a-uuid", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/sessions/3f0c2a9e-6b1d-4c1e-9a57-2f3e4d5c6b7a", "", middleware.CorrelationHeader, "cid-1")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	body := decodeError(t, w)
	if body.Error != "Session not found" || body.CorrelationID != "cid-1" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestSendMessage(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	w := s.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", `{"content":"  I want to build a todo app  "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result service.SendMessageResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.SessionID != id || result.Message.Content != "Let's start with your users." {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Message.Role != model.RoleAssistant || result.Message.ID == "" {
		t.Fatalf("expected a stored assistant message, got %+v", result.Message)
	}
	if len(result.ConversationHistory) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result.ConversationHistory))
	}
	if result.ConversationHistory[0].Content != "I want to build a todo app" {
		t.Fatalf("content not trimmed: %q", result.ConversationHistory[0].Content)
	}

	w = s.do(t, http.MethodGet, "/api/sessions/"+id, "")
	var session model.Session
	_ = json.Unmarshal(w.Body.Bytes(), &session)
	if len(session.ConversationHistory) != 2 {
		t.Fatalf("expected persisted history of 2, got %d", len(session.ConversationHistory))
	}
}

func TestSendMessageValidation(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing", `{}`},
		{"blank", `{"content":"   "}`},
		{"too long", `{"content":"` + strings.Repeat("a", maxContentLength+1) + `"}`},
		{"not json", `content=hi`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestSendMessageProviderErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		label   string
		message string
	}{
		{"rate limit", errors.New("rate limit reached for gpt-4"), http.StatusTooManyRequests, "Rate limit exceeded", "rate limit reached for gpt-4"},
		{"invalid key", errors.New("invalid_api_key provided"), http.StatusInternalServerError, "Failed to send message", "Invalid API key. Please check your configuration."},
		{"generic", errors.New("upstream exploded"), http.StatusInternalServerError, "Failed to send message", "Failed to generate AI response. Please try again."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			id := s.createSession(t)
			s.llm.setErr(tt.err)

			w := s.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", `{"content":"hello"}`)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			body := decodeError(t, w)
			if body.Error != tt.label || body.Message != tt.message {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestExportSession(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)
	s.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", `{"content":"hello"}`)

	w := s.do(t, http.MethodGet, "/api/sessions/"+id+"/export", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="session-`+id+`.md"` {
		t.Fatalf("unexpected disposition %q", got)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/markdown") {
		t.Fatalf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "hello") {
		t.Fatalf("export missing message content")
	}

	w = s.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=html", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<html") {
		t.Fatalf("expected html export, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=pdf", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", w.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	if w := s.do(t, http.MethodDelete, "/api/sessions/"+id, ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := s.do(t, http.MethodDelete, "/api/sessions/"+id, ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", w.Code)
	}
}

func TestSummarizeSession(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)
	s.llm.reply = `{"keyPoints":["todo app"],"currentPhase":2,"nextSteps":["pick a stack"]}`

	w := s.do(t, http.MethodPost, "/api/sessions/"+id+"/summarize", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var summary model.ConversationSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatal(err)
	}
	if summary.CurrentPhase != 2 || len(summary.KeyPoints) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSearchDisabled(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	if w := s.do(t, http.MethodGet, "/api/sessions/"+id+"/search", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/sessions/"+id+"/search?q=todo", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when search disabled, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/health", "/api/health"} {
		w := s.do(t, http.MethodGet, path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		var body map[string]interface{}
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		if body["status"] != service.StatusHealthy || body["correlationId"] == "" {
			t.Fatalf("%s: unexpected body %v", path, body)
		}
	}

	s.llm.healthErr = errors.New("401")
	w := s.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body struct {
		Services service.HealthServices `json:"services"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Services.CompletionProvider != service.DepError || body.Services.Database != service.DepConnected {
		t.Fatalf("unexpected services %+v", body.Services)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	s.createSession(t)
	adminToken, err := s.jwt.GenerateToken("ops", token.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}

	if w := s.do(t, http.MethodGet, "/api/admin/stats", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/admin/stats", "", "Authorization", "Bearer "+adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats map[string]int64
	_ = json.Unmarshal(w.Body.Bytes(), &stats)
	if stats["sessions_created"] != 1 {
		t.Fatalf("expected 1 created session, got %v", stats)
	}

	w = s.do(t, http.MethodPost, "/api/admin/cleanup", `{"days":1}`, "Authorization", "Bearer "+adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result map[string]int
	_ = json.Unmarshal(w.Body.Bytes(), &result)
	if result["deletedCount"] != 0 {
		t.Fatalf("fresh session should survive cleanup, got %v", result)
	}

	w = s.do(t, http.MethodPost, "/api/admin/cleanup", `{"days":-3}`, "Authorization", "Bearer "+adminToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative days, got %d", w.Code)
	}
}

func TestStreamMessage(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)
	srv := httptest.NewServer(s.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"content": "hi"}); err != nil {
		t.Fatal(err)
	}
	var frames []map[string]interface{}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read failed after %d frames: %v", len(frames), err)
		}
		frames = append(frames, frame)
		if frame["type"] == "completion" {
			break
		}
	}
	if len(frames) != 3 || frames[0]["chunk"] != "Hel" || frames[1]["chunk"] != "lo" {
		t.Fatalf("unexpected frames %v", frames)
	}
	if frames[2]["status"] != "finished" || frames[2]["sessionId"] != id {
		t.Fatalf("unexpected completion frame %v", frames[2])
	}
	// completion 帧携带完整的助手消息，与 REST 接口返回的 message 字段一致
	msg, ok := frames[2]["message"].(map[string]interface{})
	if !ok {
		t.Fatalf("completion message should be an object, got %T", frames[2]["message"])
	}
	if msg["content"] != "Hello" || msg["role"] != string(model.RoleAssistant) || msg["id"] == "" {
		t.Fatalf("unexpected completion message %v", msg)
	}

	// 校验失败只回报错误帧，连接保持可用
	if err := conn.WriteJSON(map[string]string{"content": " "}); err != nil {
		t.Fatal(err)
	}
	var errFrame map[string]interface{}
	if err := conn.ReadJSON(&errFrame); err != nil {
		t.Fatal(err)
	}
	if errFrame["type"] != "error" || errFrame["error"] != "Validation failed" {
		t.Fatalf("unexpected error frame %v", errFrame)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/sessions/3f0c2a9e-6b1d-4c1e-9a57-2f3e4d5c6b7a/stream", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before upgrade, got %d", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("Not found")) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}
