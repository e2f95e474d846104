package routes

import (
	"academy/academy/config"
	"academy/academy/controllers"
	"academy/academy/services/chat"
	"academy/academy/services/llm"
	"academy/academy/services/mailer"
	"academy/academy/services/sequence"
	"academy/academy/services/stream"
	"academy/academy/sources/psql/dao"
	"academy/academy/sources/psql/models"
	"academy/academy/sources/psql/psqltest"
	"academy/academy/sources/storage"
	"academy/academy/types"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func sse(fragments ...string) string {
	var b strings.Builder
	for _, f := range fragments {
		b.WriteString(`data: {"choices":[{"delta":{"content":"` + f + `"}}]}` + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

type fakeGateway struct {
	body     string
	pipe     io.ReadCloser
	err      error
	payload  stream.ToolPayload
	requests []llm.ChatRequest
}

func (g *fakeGateway) Stream(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	if g.pipe != nil {
		return g.pipe, nil
	}
	return io.NopCloser(strings.NewReader(g.body)), nil
}

func (g *fakeGateway) Generate(ctx context.Context, kind stream.ToolKind, prompt string) (stream.ToolPayload, error) {
	if g.err != nil {
		return stream.ToolPayload{}, g.err
	}
	return g.payload, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return false, nil
}

type sentinelSender struct{ sent []types.SendEmailRequest }

func (s *sentinelSender) Send(ctx context.Context, req types.SendEmailRequest) error {
	s.sent = append(s.sent, req)
	return nil
}

// memArchive keeps reports under the same keys the object store uses.
type memArchive struct {
	mu      sync.Mutex
	objects map[string]types.ProcessorReport
}

func (a *memArchive) SaveReport(ctx context.Context, r types.ProcessorReport) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := storage.ReportKey(r)
	a.objects[key] = r
	return key, nil
}

func (a *memArchive) ListReports(ctx context.Context, day string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var keys []string
	for k := range a.objects {
		if strings.HasPrefix(k, "reports/"+day+"/") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (a *memArchive) GetReport(ctx context.Context, key string) (*types.ProcessorReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.objects[key]
	if !ok {
		return nil, errors.New("no such report")
	}
	return &r, nil
}

func (a *memArchive) only(t *testing.T) types.ProcessorReport {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.objects, 1)
	for _, r := range a.objects {
		return r
	}
	return types.ProcessorReport{}
}

type harness struct {
	db      *gorm.DB
	cfg     config.Config
	gateway *fakeGateway
	archive *memArchive
	router  chi.Router
	profile *models.Profile
	org     models.Organization
	token   string
}

func newHarness(t *testing.T, limiter controllers.RateLimiter, aiCredits int) *harness {
	t.Helper()
	db := psqltest.New(t)
	cfg := config.Config{JWTSecret: "secret", ChatRateLimit: 5, ChatRateWindow: time.Minute, StreamMaxRetries: 3}

	org := models.Organization{Name: "Acme", AICreditLimit: aiCredits}
	require.NoError(t, db.Create(&org).Error)
	profiles := dao.NewProfileDAO(db)
	p, err := profiles.CreateProfile(context.Background(), "ana@example.com", nil, &org.ID)
	require.NoError(t, err)
	token, err := controllers.SignToken(cfg.JWTSecret, p.ID, &org.ID, time.Hour)
	require.NoError(t, err)

	gw := &fakeGateway{}
	quota := dao.NewQuotaDAO(db, 1000, 500)
	chatCtrl := controllers.NewChatController(dao.NewChatMessageDAO(db), gw, quota, limiter, nil, nil, cfg)

	archive := &memArchive{objects: map[string]types.ProcessorReport{}}
	processor := sequence.NewProcessor(dao.NewSequenceStore(db), quota, &sentinelSender{})
	processor.Reports = archive
	mailCtrl := controllers.NewMailController(mailer.NewService(dao.NewMailDAO(db), nil))
	seqCtrl := controllers.NewSequenceController(processor, dao.NewSequenceDAO(db), archive)

	r := chi.NewRouter()
	r.Mount("/health", HealthRoutes(controllers.NewHealthController()))
	r.Mount("/auth", AuthRoutes(controllers.NewAuthController(profiles, cfg)))
	r.Mount("/users", UserRoutes(controllers.NewUserController(profiles), cfg))
	r.Mount("/chat", ChatRoutes(chatCtrl, cfg))
	r.Mount("/ai", AIRoutes(chatCtrl, cfg))
	r.Mount("/functions", FunctionRoutes(mailCtrl, seqCtrl, cfg))

	return &harness{db: db, cfg: cfg, gateway: gw, archive: archive, router: r, profile: p, org: org, token: token}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+h.token)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	return rr
}

func (h *harness) creditsUsed(t *testing.T) int {
	t.Helper()
	month := time.Now().UTC().Format("2006-01")
	counter, err := dao.NewQuotaDAO(h.db, 1000, 500).Usage(context.Background(), h.org.ID, month, models.UsageKindAICredits)
	require.NoError(t, err)
	if counter == nil {
		return 0
	}
	return counter.Used
}

func chatBody(text string) chat.Request {
	return chat.Request{Messages: []chat.Message{{Role: chat.RoleUser, Content: text}}, Mode: "support"}
}

func TestChatStreamRelaysAndPersists(t *testing.T) {
	h := newHarness(t, nil, 10)
	h.gateway.body = sse("Hel", "lo")

	rr := h.do(t, http.MethodPost, "/chat/stream", chatBody("Hi"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, sse("Hel", "lo"), rr.Body.String())
	sessionID := rr.Header().Get(controllers.SessionHeader)
	require.NotEmpty(t, sessionID)

	require.Len(t, h.gateway.requests, 1)
	assert.Equal(t, chat.RoleSystem, h.gateway.requests[0].Messages[0].Role)
	assert.Equal(t, 1, h.creditsUsed(t))

	var msgs []models.ChatMessage
	require.NoError(t, h.db.Find(&msgs, "session_id = ?", sessionID).Error)
	require.Len(t, msgs, 2)
	byRole := map[string]models.ChatMessage{}
	for _, m := range msgs {
		byRole[m.Role] = m
	}
	assert.Equal(t, "Hi", byRole[chat.RoleUser].Content)
	assert.Equal(t, "Hello", byRole[chat.RoleAssistant].Content)
	assert.Equal(t, "support", byRole[chat.RoleAssistant].Mode)

	rr = h.do(t, http.MethodGet, "/chat/sessions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var sessions []types.ChatSessionSummary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, sessionID, sessions[0].SessionID)

	rr = h.do(t, http.MethodGet, "/chat/session/"+sessionID+"/messages", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(t, http.MethodDelete, "/chat/session/"+sessionID, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = h.do(t, http.MethodDelete, "/chat/session/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestChatStreamRejections(t *testing.T) {
	t.Run("invalid body", func(t *testing.T) {
		h := newHarness(t, nil, 10)
		rr := h.do(t, http.MethodPost, "/chat/stream", chat.Request{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		h := newHarness(t, nil, 10)
		h.token = "garbage"
		rr := h.do(t, http.MethodPost, "/chat/stream", chatBody("Hi"))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		h := newHarness(t, denyLimiter{}, 10)
		rr := h.do(t, http.MethodPost, "/chat/stream", chatBody("Hi"))
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Empty(t, h.gateway.requests)
	})

	t.Run("credits exhausted", func(t *testing.T) {
		h := newHarness(t, nil, 1)
		h.gateway.body = sse("ok")
		require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/chat/stream", chatBody("Hi")).Code)

		rr := h.do(t, http.MethodPost, "/chat/stream", chatBody("Again"))
		require.Equal(t, http.StatusForbidden, rr.Code)
		var body controllers.ErrorBody
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, llm.CodeCreditsLimitReached, body.Code)

		// the client transport reads it back as a credits notice
		err := llm.ErrorFromStatus(rr.Code, rr.Body.Bytes())
		kind, code := chat.Classify(err)
		assert.Equal(t, chat.NoticeForbidden, kind)
		assert.Equal(t, llm.CodeCreditsLimitReached, code)
	})

	t.Run("gateway errors keep their status", func(t *testing.T) {
		for _, tc := range []struct {
			err    error
			status int
		}{
			{llm.ErrRateLimited, http.StatusTooManyRequests},
			{llm.ErrPaymentRequired, http.StatusPaymentRequired},
			{&llm.ForbiddenError{Code: llm.CodeCreditsLimitReached}, http.StatusForbidden},
			{&llm.StatusError{StatusCode: 500}, http.StatusInternalServerError},
		} {
			h := newHarness(t, nil, 10)
			h.gateway.err = tc.err
			rr := h.do(t, http.MethodPost, "/chat/stream", chatBody("Hi"))
			assert.Equal(t, tc.status, rr.Code)

			var count int64
			require.NoError(t, h.db.Model(&models.ChatMessage{}).Count(&count).Error)
			assert.Zero(t, count)
			// no reply, no credit
			assert.Zero(t, h.creditsUsed(t))
		}
	})
}

func TestGenerate(t *testing.T) {
	h := newHarness(t, nil, 10)
	h.gateway.payload = stream.ToolPayload{Kind: stream.ToolQuiz, Quiz: &stream.Quiz{Title: "Go"}}

	rr := h.do(t, http.MethodPost, "/ai/generate", types.GenerateRequest{Kind: "quiz", Topic: "goroutines"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"quiz"`)

	rr = h.do(t, http.MethodPost, "/ai/generate", types.GenerateRequest{Kind: "essay", Topic: "x"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 1, h.creditsUsed(t))

	h.gateway.err = &llm.StatusError{StatusCode: 503}
	rr = h.do(t, http.MethodPost, "/ai/generate", types.GenerateRequest{Kind: "quiz", Topic: "goroutines"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, 1, h.creditsUsed(t))
}

func TestAuthAndProfile(t *testing.T) {
	h := newHarness(t, nil, 10)

	rr := h.do(t, http.MethodPost, "/auth/token", types.TokenRequest{Email: "new@example.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	var tok map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tok))
	require.NotEmpty(t, tok["token"])

	h.token = tok["token"]
	rr = h.do(t, http.MethodGet, "/users/me", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "new@example.com")

	name := "New Person"
	rr = h.do(t, http.MethodPut, "/users/me", types.UpdateProfileRequest{FullName: &name})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), name)

	rr = h.do(t, http.MethodPost, "/auth/token", types.TokenRequest{Email: "nope"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = h.do(t, http.MethodGet, "/users/fetch/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestFunctions(t *testing.T) {
	h := newHarness(t, nil, 10)

	rr := h.do(t, http.MethodPost, "/functions/process-sequences", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"processed":0,"errors":0,"total":0}`, rr.Body.String())

	rr = h.do(t, http.MethodPost, "/functions/send-email", types.SendEmailRequest{Type: "sequence"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	seq := models.EmailSequence{OrganizationID: h.org.ID, Name: "Welcome", IsActive: true}
	require.NoError(t, h.db.Create(&seq).Error)
	require.NoError(t, h.db.Create(&models.SequenceStep{SequenceID: seq.ID, TemplateID: uuid.New(), StepOrder: 1}).Error)
	path := "/functions/sequences/" + seq.ID.String() + "/enroll"
	rr = h.do(t, http.MethodPost, path, types.EnrollRequest{UserID: h.profile.ID.String()})
	assert.Equal(t, http.StatusCreated, rr.Code)
	rr = h.do(t, http.MethodPost, path, types.EnrollRequest{UserID: h.profile.ID.String()})
	assert.Equal(t, http.StatusConflict, rr.Code)

	sqlDB, err := h.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	rr = h.do(t, http.MethodPost, "/functions/process-sequences", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), `"error"`)
}

func TestChatWebSocket(t *testing.T) {
	h := newHarness(t, nil, 10)
	h.gateway.body = sse("Hel", "lo")
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/chat/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	first, _ := json.Marshal(map[string]any{"token": h.token, "chat_request": chatBody("Hi")})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, first))

	var deltas []string
	var done controllers.WSFrame
	for done.Type == "" {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var f controllers.WSFrame
		require.NoError(t, json.Unmarshal(data, &f))
		switch f.Type {
		case controllers.FrameDelta:
			deltas = append(deltas, f.Content)
		case controllers.FrameDone:
			done = f
		default:
			t.Fatalf("unexpected frame %+v", f)
		}
	}
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", done.Content)
	require.NotEmpty(t, done.SessionID)

	var count int64
	require.NoError(t, h.db.Model(&models.ChatMessage{}).Where("session_id = ?", done.SessionID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func dialChat(t *testing.T, h *harness, ctx context.Context, srvURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srvURL, "http")+"/chat/ws", nil)
	require.NoError(t, err)
	first, _ := json.Marshal(map[string]any{"token": h.token, "chat_request": chatBody("Hi")})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, first))
	return conn
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) controllers.WSFrame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var f controllers.WSFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func sendControl(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) {
	t.Helper()
	b, _ := json.Marshal(map[string]string{"type": typ})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
}

func TestChatWebSocketMinimizeHoldsDeltas(t *testing.T) {
	h := newHarness(t, nil, 10)
	pr, pw := io.Pipe()
	h.gateway.pipe = pr
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialChat(t, h, ctx, srv.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	io.WriteString(pw, `data: {"choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
	f := readFrame(t, ctx, conn)
	assert.Equal(t, controllers.FrameDelta, f.Type)
	assert.Equal(t, "Hel", f.Content)

	sendControl(t, ctx, conn, controllers.ControlMinimize)
	f = readFrame(t, ctx, conn)
	assert.Equal(t, controllers.FrameState, f.Type)
	assert.True(t, f.Minimized)

	io.WriteString(pw, `data: {"choices":[{"delta":{"content":"lo"}}]}`+"\n\n")
	time.Sleep(50 * time.Millisecond)

	sendControl(t, ctx, conn, controllers.ControlRestore)
	f = readFrame(t, ctx, conn)
	assert.Equal(t, controllers.FrameState, f.Type)
	assert.False(t, f.Minimized)
	f = readFrame(t, ctx, conn)
	assert.Equal(t, controllers.FrameDelta, f.Type)
	assert.Equal(t, "lo", f.Content)

	io.WriteString(pw, "data: [DONE]\n\n")
	pw.Close()
	f = readFrame(t, ctx, conn)
	assert.Equal(t, controllers.FrameDone, f.Type)
	assert.Equal(t, "Hello", f.Content)
}

func TestChatWebSocketCloseCancelsReply(t *testing.T) {
	h := newHarness(t, nil, 10)
	pr, pw := io.Pipe()
	defer pw.Close()
	h.gateway.pipe = pr
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dialChat(t, h, ctx, srv.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	io.WriteString(pw, `data: {"choices":[{"delta":{"content":"partial"}}]}`+"\n\n")
	f := readFrame(t, ctx, conn)
	assert.Equal(t, "partial", f.Content)

	sendControl(t, ctx, conn, controllers.ControlClose)
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	// a cancelled reply is not persisted
	var count int64
	require.NoError(t, h.db.Model(&models.ChatMessage{}).Where("role = ?", chat.RoleAssistant).Count(&count).Error)
	assert.Zero(t, count)
}

func TestReports(t *testing.T) {
	h := newHarness(t, nil, 10)

	rr := h.do(t, http.MethodPost, "/functions/process-sequences", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	saved := h.archive.only(t)

	rr = h.do(t, http.MethodGet, "/functions/reports?day="+saved.StartedAt.UTC().Format("2006-01-02"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var reports []types.ProcessorReport
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, saved.RunID, reports[0].RunID)

	rr = h.do(t, http.MethodGet, "/functions/reports?day=2001/01/01", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	rr = h.do(t, http.MethodGet, "/functions/reports?day=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	_, status, err := controllers.NewSequenceController(nil, nil, nil).Reports(context.Background(), "")
	assert.ErrorIs(t, err, controllers.ErrNoArchive)
	assert.Equal(t, http.StatusNotImplemented, status)
}
