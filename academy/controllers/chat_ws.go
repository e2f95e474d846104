package controllers

import (
	"academy/academy/middlewares"
	"academy/academy/services/chat"
	"academy/academy/utils/logging"
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	FrameDelta  = "delta"
	FrameDone   = "done"
	FrameNotice = "notice"
	FrameError  = "error"
	FrameState  = "state"
)

// Control frames a client may send while a reply streams.
const (
	ControlMinimize = "minimize"
	ControlRestore  = "restore"
	ControlClose    = "close"
)

// WSFrame is every server-to-client websocket message.
type WSFrame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Minimized bool   `json:"minimized,omitempty"`
}

type wsControl struct {
	Type string `json:"type"`
}

type wsInput struct {
	Token       string       `json:"token"`
	ChatRequest chat.Request `json:"chat_request"`
}

// ServeWS handles GET /chat/ws. The first client frame carries the token and
// the request; the reply streams back as delta frames followed by one done
// frame. While it streams the client may send minimize, restore and close
// control frames.
func (c *ChatController) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx := r.Context()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return
	}
	if typ != websocket.MessageText {
		conn.Close(websocket.StatusUnsupportedData, "unsupported data")
		return
	}

	var mu sync.Mutex
	send := func(f WSFrame) {
		mu.Lock()
		defer mu.Unlock()
		b, _ := json.Marshal(f)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			logging.AppLogger.Debug("ws write failed", zap.Error(err))
		}
	}

	var input wsInput
	if err := json.Unmarshal(data, &input); err != nil {
		send(WSFrame{Type: FrameError, Message: "invalid json"})
		conn.Close(websocket.StatusUnsupportedData, "invalid json")
		return
	}
	id, err := middlewares.ParseToken(c.cfg.JWTSecret, input.Token)
	if err != nil {
		send(WSFrame{Type: FrameError, Message: "invalid token"})
		conn.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}
	req := input.ChatRequest
	if err := c.validate.Struct(req); err != nil {
		send(WSFrame{Type: FrameError, Message: err.Error()})
		conn.Close(websocket.StatusPolicyViolation, "invalid request")
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != chat.RoleUser {
		send(WSFrame{Type: FrameError, Message: "last message must be from the user"})
		conn.Close(websocket.StatusPolicyViolation, "invalid request")
		return
	}

	ctx = middlewares.WithIdentity(ctx, id)
	if a := c.throttle(ctx, id.UserID); a != nil {
		send(WSFrame{Type: FrameNotice, Code: a.code, Message: a.msg})
		conn.Close(websocket.StatusPolicyViolation, a.msg)
		return
	}

	session := chat.ResumeSession(req.SessionID, id.UserID)
	defer session.Close()
	sessionID := session.EnsureID()
	mode := c.modes.Get(req.Mode).Name
	if err := c.store.SaveMessage(ctx, sessionID, id.UserID, chat.RoleUser, last.Content, mode); err != nil {
		logging.ErrorLogger.Error("chat ws: saving user message", zap.Error(err), zap.String("session_id", sessionID))
	}

	// deltas are held back while the widget is minimized and sent on restore
	var deltaMu sync.Mutex
	latest, sent := "", 0
	push := func(content string) {
		deltaMu.Lock()
		defer deltaMu.Unlock()
		if len(content) > len(latest) {
			latest = content
		}
		if session.Minimized() || len(latest) <= sent {
			return
		}
		send(WSFrame{Type: FrameDelta, Content: latest[sent:]})
		sent = len(latest)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				// client went away
				cancel()
				return
			}
			var ctl wsControl
			if json.Unmarshal(data, &ctl) != nil {
				continue
			}
			switch ctl.Type {
			case ControlMinimize:
				session.SetMinimized(true)
				send(WSFrame{Type: FrameState, SessionID: sessionID, Minimized: true})
			case ControlRestore:
				send(WSFrame{Type: FrameState, SessionID: sessionID})
				session.SetMinimized(false)
				push("")
			case ControlClose:
				session.Close()
				return
			}
		}
	}()

	conv := chat.NewConversation(chat.Options{
		Transport:  &chat.GatewayTransport{Client: chargedStreamer{c}, Modes: c.modes},
		Store:      c.store,
		Session:    session,
		Mode:       mode,
		Context:    req.Context,
		MaxRetries: c.cfg.StreamMaxRetries,
		History:    req.Messages[:len(req.Messages)-1],
		Notices:    c.notices,
		OnUpdate: func(st chat.State) {
			n := len(st.Messages)
			if n == 0 || st.Messages[n-1].Role != chat.RoleAssistant {
				return
			}
			push(st.Messages[n-1].Content)
		},
		OnNotice: func(n chat.Notice) {
			send(WSFrame{Type: FrameNotice, Kind: string(n.Kind), Code: n.Code, Message: n.Message})
		},
	})
	conv.Send(ctx, last.Content)

	if session.Closed() {
		conn.Close(websocket.StatusNormalClosure, "closed")
		return
	}
	if ctx.Err() != nil {
		return
	}
	final := ""
	if msgs := conv.State().Messages; len(msgs) > 0 && msgs[len(msgs)-1].Role == chat.RoleAssistant {
		final = msgs[len(msgs)-1].Content
	}
	send(WSFrame{Type: FrameDone, SessionID: sessionID, Content: final})
	conn.Close(websocket.StatusNormalClosure, "")
}
