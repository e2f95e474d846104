package chat

import (
	"academy/academy/services/llm"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sse(fragments ...string) string {
	var b strings.Builder
	for _, f := range fragments {
		b.WriteString(`data: {"choices":[{"delta":{"content":"` + f + `"}}]}` + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

type fakeTransport struct {
	mu       sync.Mutex
	requests []Request
	open     func(ctx context.Context) (io.ReadCloser, error)
}

func (f *fakeTransport) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.open(ctx)
}

func bodyTransport(body string) *fakeTransport {
	return &fakeTransport{open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}}
}

func errTransport(err error) *fakeTransport {
	return &fakeTransport{open: func(context.Context) (io.ReadCloser, error) { return nil, err }}
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveMessage(ctx context.Context, sessionID string, userID uuid.UUID, role, content, mode string) error {
	args := m.Called(sessionID, userID, role, content, mode)
	return args.Error(0)
}

func TestConversationStreamsReply(t *testing.T) {
	userID := uuid.New()
	session := NewSession(userID)
	store := new(mockStore)
	store.On("SaveMessage", mock.Anything, userID, RoleAssistant, "Hello", "tutor").Return(nil).Once()

	var updates int
	conv := NewConversation(Options{
		Transport: bodyTransport(sse("Hel", "lo")),
		Store:     store,
		Session:   session,
		Mode:      "tutor",
		OnUpdate:  func(State) { updates++ },
	})

	require.True(t, conv.Send(context.Background(), "Hi"))

	st := conv.State()
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "Hi"},
		{Role: RoleAssistant, Content: "Hello"},
	}, st.Messages)
	assert.False(t, st.Loading)
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, st.SessionID, session.ID())
	assert.Greater(t, updates, 2)
	store.AssertExpectations(t)
}

func TestConversationKeepsHistoryAcrossTurns(t *testing.T) {
	tr := &fakeTransport{}
	replies := []string{sse("one"), sse("two")}
	tr.open = func(context.Context) (io.ReadCloser, error) {
		r := replies[0]
		replies = replies[1:]
		return io.NopCloser(strings.NewReader(r)), nil
	}
	conv := NewConversation(Options{Transport: tr, Mode: "support"})

	conv.Send(context.Background(), "first")
	conv.Send(context.Background(), "second")

	st := conv.State()
	require.Len(t, st.Messages, 4)
	assert.Equal(t, "one", st.Messages[1].Content)
	assert.Equal(t, "two", st.Messages[3].Content)
	// the second request carries the whole history
	require.Len(t, tr.requests, 2)
	assert.Len(t, tr.requests[1].Messages, 3)
	assert.Equal(t, "support", tr.requests[1].Mode)
	assert.Equal(t, tr.requests[0].SessionID, tr.requests[1].SessionID)
}

func TestConversationIgnoresBlankText(t *testing.T) {
	tr := bodyTransport(sse("x"))
	conv := NewConversation(Options{Transport: tr})

	assert.False(t, conv.Send(context.Background(), "   "))
	assert.Empty(t, conv.State().Messages)
	assert.Empty(t, tr.requests)
}

func TestConversationSendWhileLoadingIsNoop(t *testing.T) {
	pr, pw := io.Pipe()
	opened := make(chan struct{})
	tr := &fakeTransport{open: func(context.Context) (io.ReadCloser, error) {
		close(opened)
		return pr, nil
	}}
	conv := NewConversation(Options{Transport: tr})

	done := make(chan struct{})
	go func() {
		conv.Send(context.Background(), "Hi")
		close(done)
	}()
	<-opened
	require.True(t, conv.State().Loading)

	assert.False(t, conv.Send(context.Background(), "Hi again"))
	assert.Len(t, conv.State().Messages, 1)

	_, err := io.WriteString(pw, sse("ok"))
	require.NoError(t, err)
	pw.Close()
	<-done

	st := conv.State()
	assert.False(t, st.Loading)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "Hi"}, {Role: RoleAssistant, Content: "ok"}}, st.Messages)
	assert.Len(t, tr.requests, 1)
}

func TestConversationErrorsBeforeStreaming(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		policy FailurePolicy
		kind   NoticeKind
		code   string
		msgs   int
	}{
		{"rate limited", llm.ErrRateLimited, NoAssistantMessage, NoticeRateLimited, "", 1},
		{"payment required", llm.ErrPaymentRequired, NoAssistantMessage, NoticeCreditsExhausted, "", 1},
		{"credits limit", &llm.ForbiddenError{Code: llm.CodeCreditsLimitReached}, NoAssistantMessage, NoticeForbidden, llm.CodeCreditsLimitReached, 1},
		{"generic with apology", errors.New("dial tcp: refused"), ApologyMessage, NoticeGeneric, "", 2},
		{"rate limited with apology", llm.ErrRateLimited, ApologyMessage, NoticeRateLimited, "", 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := new(mockStore)
			var notices []Notice
			conv := NewConversation(Options{
				Transport:     errTransport(tc.err),
				Store:         store,
				Session:       NewSession(uuid.New()),
				FailurePolicy: tc.policy,
				OnNotice:      func(n Notice) { notices = append(notices, n) },
			})

			require.True(t, conv.Send(context.Background(), "Hi"))

			st := conv.State()
			assert.False(t, st.Loading)
			require.Len(t, st.Messages, tc.msgs)
			assert.Equal(t, Message{Role: RoleUser, Content: "Hi"}, st.Messages[0])
			if tc.msgs == 2 {
				assert.Equal(t, RoleAssistant, st.Messages[1].Role)
				assert.Equal(t, DefaultNotices().Apology(), st.Messages[1].Content)
			}
			require.Len(t, notices, 1)
			assert.Equal(t, tc.kind, notices[0].Kind)
			assert.Equal(t, tc.code, notices[0].Code)
			assert.NotEmpty(t, notices[0].Message)
			store.AssertNotCalled(t, "SaveMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(b []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(b, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *failingReader) Close() error { return nil }

func TestConversationMidStreamErrorKeepsPartial(t *testing.T) {
	userID := uuid.New()
	store := new(mockStore)
	store.On("SaveMessage", mock.Anything, userID, RoleAssistant, "Part", "").Return(nil).Once()

	var notices []Notice
	tr := &fakeTransport{open: func(context.Context) (io.ReadCloser, error) {
		return &failingReader{
			data: []byte(`data: {"choices":[{"delta":{"content":"Part"}}]}` + "\n"),
			err:  errors.New("connection reset by peer"),
		}, nil
	}}
	conv := NewConversation(Options{
		Transport:     tr,
		Store:         store,
		Session:       NewSession(userID),
		FailurePolicy: ApologyMessage,
		OnNotice:      func(n Notice) { notices = append(notices, n) },
	})

	conv.Send(context.Background(), "Hi")

	st := conv.State()
	assert.Equal(t, []Message{{Role: RoleUser, Content: "Hi"}, {Role: RoleAssistant, Content: "Part"}}, st.Messages)
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeGeneric, notices[0].Kind)
	store.AssertExpectations(t)
}

func TestSessionCloseCancelsStream(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	tr := &fakeTransport{open: func(context.Context) (io.ReadCloser, error) { return pr, nil }}

	store := new(mockStore)
	session := NewSession(uuid.New())
	var notices []Notice
	first := make(chan struct{})
	var once sync.Once
	conv := NewConversation(Options{
		Transport: tr,
		Store:     store,
		Session:   session,
		OnNotice:  func(n Notice) { notices = append(notices, n) },
		OnUpdate: func(s State) {
			if len(s.Messages) == 2 {
				once.Do(func() { close(first) })
			}
		},
	})

	done := make(chan struct{})
	go func() {
		conv.Send(context.Background(), "Hi")
		close(done)
	}()

	_, err := io.WriteString(pw, `data: {"choices":[{"delta":{"content":"Hal"}}]}`+"\n")
	require.NoError(t, err)
	<-first

	session.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after session close")
	}
	st := conv.State()
	assert.False(t, st.Loading)
	assert.Equal(t, "Hal", st.Messages[1].Content)
	assert.Empty(t, notices)
	store.AssertNotCalled(t, "SaveMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// closed conversations don't send
	assert.False(t, conv.Send(context.Background(), "again"))
}

func TestConversationAnonymousNotPersisted(t *testing.T) {
	store := new(mockStore)
	conv := NewConversation(Options{Transport: bodyTransport(sse("hey")), Store: store})

	conv.Send(context.Background(), "Hi")

	assert.Equal(t, "hey", conv.State().Messages[1].Content)
	store.AssertNotCalled(t, "SaveMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestApply(t *testing.T) {
	t.Run("appends then replaces", func(t *testing.T) {
		conv := NewConversation(Options{History: []Message{{Role: RoleUser, Content: "Hi"}}})
		conv.Apply("Hel")
		conv.Apply("lo")
		assert.Equal(t, []Message{
			{Role: RoleUser, Content: "Hi"},
			{Role: RoleAssistant, Content: "Hello"},
		}, conv.State().Messages)
	})

	t.Run("reuses empty placeholder", func(t *testing.T) {
		conv := NewConversation(Options{History: []Message{
			{Role: RoleUser, Content: "Hi"},
			{Role: RoleAssistant, Content: ""},
		}})
		conv.Apply("Yo")
		assert.Equal(t, []Message{
			{Role: RoleUser, Content: "Hi"},
			{Role: RoleAssistant, Content: "Yo"},
		}, conv.State().Messages)
	})
}
