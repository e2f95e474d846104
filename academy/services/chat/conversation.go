package chat

import (
	"academy/academy/services/stream"
	"academy/academy/utils/logging"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FailurePolicy decides what a failed send leaves in the transcript.
type FailurePolicy int

const (
	// NoAssistantMessage keeps only the user's message.
	NoAssistantMessage FailurePolicy = iota
	// ApologyMessage appends one apologetic assistant message.
	ApologyMessage
)

// Store persists finished assistant messages.
type Store interface {
	SaveMessage(ctx context.Context, sessionID string, userID uuid.UUID, role, content, mode string) error
}

type State struct {
	Messages  []Message `json:"messages"`
	Input     string    `json:"input"`
	Loading   bool      `json:"loading"`
	SessionID string    `json:"session_id,omitempty"`
}

type Options struct {
	Transport     Transport
	Store         Store
	Session       *Session
	Mode          string
	Context       map[string]any
	FailurePolicy FailurePolicy
	MaxRetries    int
	History       []Message
	Notices       *Notices

	OnUpdate func(State)
	OnNotice func(Notice)
}

// Conversation folds a streamed reply into chat state. At most one stream is
// in flight; Send while loading is ignored.
type Conversation struct {
	opts Options

	mu           sync.Mutex
	state        State
	acc          strings.Builder
	assistantIdx int
	cancel       context.CancelFunc
	closed       bool
}

func NewConversation(opts Options) *Conversation {
	if opts.Session == nil {
		opts.Session = NewSession(uuid.Nil)
	}
	if opts.Notices == nil {
		opts.Notices = DefaultNotices()
	}
	c := &Conversation{opts: opts, assistantIdx: -1}
	c.state.Messages = append([]Message(nil), opts.History...)
	c.state.SessionID = opts.Session.ID()
	opts.Session.onClose(c.Close)
	return c
}

// State returns a snapshot.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Conversation) snapshot() State {
	s := c.state
	s.Messages = append([]Message(nil), c.state.Messages...)
	return s
}

func (c *Conversation) SetInput(text string) {
	c.mu.Lock()
	c.state.Input = text
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) notify() {
	if c.opts.OnUpdate == nil {
		return
	}
	c.opts.OnUpdate(c.State())
}

// Send appends the user's message and streams the reply, blocking until the
// stream completes, fails, or is cancelled. It reports false when nothing was
// sent: blank text, a stream already in flight, or a closed conversation.
func (c *Conversation) Send(ctx context.Context, text string) bool {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.closed || c.state.Loading || text == "" {
		c.mu.Unlock()
		return false
	}
	c.state.Messages = append(c.state.Messages, Message{Role: RoleUser, Content: text})
	c.state.Input = ""
	c.state.Loading = true
	c.state.SessionID = c.opts.Session.EnsureID()
	c.acc.Reset()
	c.assistantIdx = -1

	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	req := Request{
		Messages:  append([]Message(nil), c.state.Messages...),
		Mode:      c.opts.Mode,
		Context:   c.opts.Context,
		SessionID: c.state.SessionID,
	}
	c.mu.Unlock()
	defer cancel()

	c.notify()
	c.run(streamCtx, req)
	return true
}

func (c *Conversation) run(ctx context.Context, req Request) {
	body, err := c.opts.Transport.Stream(ctx, req)
	if err != nil {
		c.fail(ctx, err, false)
		return
	}
	defer body.Close()
	// release the connection (and any blocked Read) as soon as ctx ends
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	frags, errCh := stream.Fragments(ctx, body, c.opts.MaxRetries)
	for f := range frags {
		c.Apply(f)
	}
	if err := <-errCh; err != nil {
		c.fail(ctx, err, true)
		return
	}
	if ctx.Err() != nil {
		c.abort()
		return
	}
	c.complete()
}

// Apply folds one fragment into the in-progress assistant message, creating
// it on the first fragment of a turn.
func (c *Conversation) Apply(fragment string) {
	c.mu.Lock()
	c.acc.WriteString(fragment)
	content := c.acc.String()
	n := len(c.state.Messages)
	switch {
	case c.assistantIdx >= 0 && c.assistantIdx < n:
		c.state.Messages[c.assistantIdx].Content = content
	case n > 0 && c.state.Messages[n-1].Role == RoleAssistant && c.state.Messages[n-1].Content == "":
		// reuse a dangling empty placeholder
		c.assistantIdx = n - 1
		c.state.Messages[n-1].Content = content
	default:
		c.state.Messages = append(c.state.Messages, Message{Role: RoleAssistant, Content: content})
		c.assistantIdx = n
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Conversation) finish() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Loading = false
	c.cancel = nil
	return c.acc.String()
}

func (c *Conversation) complete() {
	content := c.finish()
	c.persist(content)
	c.notify()
}

func (c *Conversation) abort() {
	c.finish()
	logging.AppLogger.Info("chat stream cancelled", zap.String("session_id", c.opts.Session.ID()))
	c.notify()
}

func (c *Conversation) fail(ctx context.Context, err error, midStream bool) {
	if ctx.Err() != nil {
		c.abort()
		return
	}
	notice, ok := c.opts.Notices.NoticeFor(err)
	if !ok {
		c.abort()
		return
	}
	logging.ErrorLogger.Error("chat send failed",
		zap.Error(err),
		zap.String("notice", string(notice.Kind)),
		zap.Bool("mid_stream", midStream))

	partial := c.finish()
	if midStream {
		// whatever arrived stays in the transcript
		c.persist(partial)
	} else if c.opts.FailurePolicy == ApologyMessage {
		c.mu.Lock()
		c.state.Messages = append(c.state.Messages, Message{Role: RoleAssistant, Content: c.opts.Notices.Apology()})
		c.mu.Unlock()
	}
	if c.opts.OnNotice != nil {
		c.opts.OnNotice(notice)
	}
	c.notify()
}

func (c *Conversation) persist(content string) {
	userID := c.opts.Session.UserID()
	if c.opts.Store == nil || userID == uuid.Nil || content == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.opts.Store.SaveMessage(ctx, c.opts.Session.ID(), userID, RoleAssistant, content, c.opts.Mode); err != nil {
		logging.ErrorLogger.Error("chat: saving assistant message", zap.Error(err), zap.String("session_id", c.opts.Session.ID()))
	}
}

// Close cancels any in-flight stream and makes later sends no-ops.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
