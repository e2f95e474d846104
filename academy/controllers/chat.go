// academy/controllers/chat.go
package controllers

import (
	"academy/academy/config"
	"academy/academy/middlewares"
	"academy/academy/services/chat"
	"academy/academy/services/llm"
	"academy/academy/services/stream"
	"academy/academy/sources/psql/models"
	"academy/academy/types"
	"academy/academy/utils/logging"
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gateway is the LLM side of the chat proxy. *llm.Client implements it.
type Gateway interface {
	Stream(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error)
	Generate(ctx context.Context, kind stream.ToolKind, prompt string) (stream.ToolPayload, error)
}

type ChatStore interface {
	CreateSessionID() string
	SaveMessage(ctx context.Context, sessionID string, userID uuid.UUID, role, content, mode string) error
	GetMessagesForSession(ctx context.Context, userID uuid.UUID, sessionID string) ([]models.ChatMessage, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]types.ChatSessionSummary, error)
	DeleteSession(ctx context.Context, userID uuid.UUID, sessionID string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type CreditQuota interface {
	Increment(ctx context.Context, orgID uuid.UUID, monthYear, kind string, amount int) (bool, int, error)
}

// admission is why a request was turned away.
type admission struct {
	status int
	msg    string
	code   string
}

const (
	CodeRateLimited = "RATE_LIMITED"
	SessionHeader   = "X-Session-Id"
)

type ChatController struct {
	store    ChatStore
	gateway  Gateway
	quota    CreditQuota // optional
	limiter  RateLimiter // optional
	modes    config.Modes
	notices  *chat.Notices
	cfg      config.Config
	validate *validator.Validate
}

func NewChatController(store ChatStore, gateway Gateway, quota CreditQuota, limiter RateLimiter, modes config.Modes, notices *chat.Notices, cfg config.Config) *ChatController {
	if modes == nil {
		modes = config.DefaultModes()
	}
	if notices == nil {
		notices = chat.DefaultNotices()
	}
	return &ChatController{
		store:    store,
		gateway:  gateway,
		quota:    quota,
		limiter:  limiter,
		modes:    modes,
		notices:  notices,
		cfg:      cfg,
		validate: validator.New(),
	}
}

// throttle applies the per-user rate limit. Limiter errors fail open.
func (c *ChatController) throttle(ctx context.Context, userID uuid.UUID) *admission {
	if c.limiter == nil {
		return nil
	}
	ok, err := c.limiter.Allow(ctx, "chat:"+userID.String(), c.cfg.ChatRateLimit, c.cfg.ChatRateWindow)
	if err != nil {
		logging.ErrorLogger.Error("chat rate limiter", zap.Error(err))
		return nil
	}
	if !ok {
		return &admission{http.StatusTooManyRequests, c.notices.Text(chat.NoticeRateLimited, ""), CodeRateLimited}
	}
	return nil
}

// charge takes one AI credit from the caller's organization once the gateway
// has accepted the request. Quota errors fail open.
func (c *ChatController) charge(ctx context.Context) *admission {
	orgID, hasOrg := middlewares.OrgID(ctx)
	if c.quota == nil || !hasOrg {
		return nil
	}
	month := time.Now().UTC().Format("2006-01")
	ok, _, err := c.quota.Increment(ctx, orgID, month, models.UsageKindAICredits, 1)
	if err != nil {
		logging.ErrorLogger.Error("ai credit quota", zap.Error(err), zap.String("org_id", orgID.String()))
		return nil
	}
	if !ok {
		return &admission{http.StatusForbidden, c.notices.Text(chat.NoticeForbidden, llm.CodeCreditsLimitReached), llm.CodeCreditsLimitReached}
	}
	return nil
}

// chargedStreamer charges a credit for every stream the gateway opens and
// turns a rejection into the gateway's own credits error.
type chargedStreamer struct {
	ctrl *ChatController
}

func (s chargedStreamer) Stream(ctx context.Context, req llm.ChatRequest) (io.ReadCloser, error) {
	body, err := s.ctrl.gateway.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	if a := s.ctrl.charge(ctx); a != nil {
		body.Close()
		return nil, &llm.ForbiddenError{Code: a.code, Message: a.msg}
	}
	return body, nil
}

func writeGatewayError(w http.ResponseWriter, err error) {
	status := llm.StatusCode(err)
	code := ""
	msg := err.Error()
	var fe *llm.ForbiddenError
	if errors.As(err, &fe) {
		code = fe.Code
		if fe.Message != "" {
			msg = fe.Message
		}
	}
	WriteError(w, status, msg, code)
}

func lastUserMessage(msgs []chat.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// StreamChat handles POST /chat/stream. The gateway's event stream is relayed
// line by line while a parser on the side collects the reply for persistence.
func (c *ChatController) StreamChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middlewares.UserID(ctx)
	if !ok {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid json", "")
		return
	}
	if err := c.validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if a := c.throttle(ctx, userID); a != nil {
		WriteError(w, a.status, a.msg, a.code)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = c.store.CreateSessionID()
	}
	mode := c.modes.Get(req.Mode).Name

	body, err := chargedStreamer{c}.Stream(ctx, chat.GatewayRequest(req, c.modes))
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	defer body.Close()

	if text := lastUserMessage(req.Messages); text != "" {
		if err := c.store.SaveMessage(ctx, sessionID, userID, chat.RoleUser, text, mode); err != nil {
			logging.ErrorLogger.Error("chat: saving user message", zap.Error(err), zap.String("session_id", sessionID))
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionHeader, sessionID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	content, streamErr := relay(body, w, flusher, stream.NewParser(c.cfg.StreamMaxRetries))
	if ctx.Err() != nil {
		logging.AppLogger.Info("chat client went away", zap.String("session_id", sessionID))
		return
	}
	if streamErr != nil {
		logging.ErrorLogger.Error("chat relay interrupted", zap.Error(streamErr), zap.String("session_id", sessionID))
	}
	if content == "" {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SaveMessage(saveCtx, sessionID, userID, chat.RoleAssistant, content, mode); err != nil {
		logging.ErrorLogger.Error("chat: saving assistant message", zap.Error(err), zap.String("session_id", sessionID))
	}
}

// relay copies body to w one line at a time and returns the content the
// parser decoded from it.
func relay(body io.Reader, w io.Writer, flusher http.Flusher, parser *stream.Parser) (string, error) {
	var acc strings.Builder
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				return acc.String(), werr
			}
			if flusher != nil {
				flusher.Flush()
			}
			for _, f := range parser.Push(line) {
				acc.WriteString(f)
			}
		}
		// the parser may still hold a malformed line when the terminator arrives
		terminated := stream.ClassifyLine(strings.TrimRight(string(line), "\r\n")).Kind == stream.KindTerminator
		if parser.Done() || terminated {
			for _, f := range parser.Flush() {
				acc.WriteString(f)
			}
			return acc.String(), nil
		}
		if err == io.EOF {
			for _, f := range parser.Flush() {
				acc.WriteString(f)
			}
			return acc.String(), nil
		}
		if err != nil {
			return acc.String(), err
		}
	}
}

func (c *ChatController) ListSessions(ctx context.Context, userID uuid.UUID) ([]types.ChatSessionSummary, error) {
	return c.store.ListSessions(ctx, userID)
}

func (c *ChatController) GetMessagesForSession(ctx context.Context, userID uuid.UUID, sessionID string) ([]models.ChatMessage, error) {
	return c.store.GetMessagesForSession(ctx, userID, sessionID)
}

func (c *ChatController) DeleteSession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	return c.store.DeleteSession(ctx, userID, sessionID)
}

// Generate handles POST /ai/generate. It returns the status to respond with.
func (c *ChatController) Generate(ctx context.Context, userID uuid.UUID, req types.GenerateRequest) (stream.ToolPayload, int, error) {
	if err := c.validate.Struct(req); err != nil {
		return stream.ToolPayload{}, http.StatusBadRequest, err
	}
	if a := c.throttle(ctx, userID); a != nil {
		return stream.ToolPayload{}, a.status, errors.New(a.msg)
	}
	payload, err := c.gateway.Generate(ctx, stream.ToolKind(req.Kind), req.Topic)
	if err != nil {
		if errors.Is(err, stream.ErrInvalidToolPayload) {
			return stream.ToolPayload{}, http.StatusBadGateway, fmt.Errorf("model returned an unusable %s: %w", req.Kind, err)
		}
		return stream.ToolPayload{}, llm.StatusCode(err), err
	}
	if a := c.charge(ctx); a != nil {
		return stream.ToolPayload{}, a.status, errors.New(a.msg)
	}
	return payload, http.StatusOK, nil
}
