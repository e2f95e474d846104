package mailer

import (
	"academy/academy/sources/psql/dao"
	"academy/academy/sources/psql/models"
	"academy/academy/sources/psql/psqltest"
	"academy/academy/types"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	data := TemplateData{Name: "<Ana>", Course: "Go 101"}

	subject, err := RenderSubject("Hi {{name}}, welcome to {{ course }}", data)
	require.NoError(t, err)
	assert.Equal(t, "Hi <Ana>, welcome to Go 101", subject)

	body, err := RenderHTML("<p>Welcome {{ name }} to {{course}}</p>", data)
	require.NoError(t, err)
	assert.Equal(t, "<p>Welcome &lt;Ana&gt; to Go 101</p>", body)

	_, err = RenderHTML("<p>{{ broken </p>", data)
	assert.Error(t, err)
}

func TestPlainText(t *testing.T) {
	text, err := PlainText(`<html><head><style>p{}</style></head><body>
		<p>Hello <b>Ana</b></p>
		<script>alert(1)</script>
		<p>Welcome to   Go 101<br>See you soon</p>
		<a href="https://academy.test/start">Start</a>
	</body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana\nWelcome to Go 101\nSee you soon\nStart (https://academy.test/start)", text)
}

type fakeProvider struct {
	sent []Message
	err  error
}

func (f *fakeProvider) Deliver(ctx context.Context, msg Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "msg-1", nil
}

func TestServiceSendEmail(t *testing.T) {
	db := psqltest.New(t)
	mail := dao.NewMailDAO(db)
	orgID := uuid.New()
	tpl := models.EmailTemplate{OrganizationID: orgID, Name: "welcome", Subject: "Hi {{name}}", HTMLBody: "<p>{{course}} starts today</p>"}
	require.NoError(t, db.Create(&tpl).Error)
	stepID := uuid.New()

	req := types.SendEmailRequest{
		Type:           types.EmailTypeSequence,
		OrganizationID: orgID.String(),
		RecipientEmail: "ana@example.com",
		RecipientName:  "Ana",
		CourseName:     "Go 101",
		SequenceStepID: stepID.String(),
		TemplateID:     tpl.ID.String(),
	}

	t.Run("delivers and logs", func(t *testing.T) {
		provider := &fakeProvider{}
		svc := NewService(mail, provider)

		resp, err := svc.SendEmail(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, types.SendEmailResponse{Success: true, MessageID: "msg-1"}, resp)

		require.Len(t, provider.sent, 1)
		assert.Equal(t, "Hi Ana", provider.sent[0].Subject)
		assert.Equal(t, "Go 101 starts today", provider.sent[0].Text)

		logs, err := mail.RecentEmailLogs(context.Background(), orgID, 10)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, models.EmailStatusSent, logs[0].Status)
		require.NotNil(t, logs[0].SequenceStepID)
		assert.Equal(t, stepID, *logs[0].SequenceStepID)
	})

	t.Run("provider failure is logged", func(t *testing.T) {
		svc := NewService(mail, &fakeProvider{err: errors.New("rejected")})
		err := svc.Send(context.Background(), req)
		assert.Error(t, err)

		var failed int64
		require.NoError(t, db.Model(&models.EmailLog{}).Where("status = ?", models.EmailStatusFailed).Count(&failed).Error)
		assert.Equal(t, int64(1), failed)
	})

	t.Run("template of another organization", func(t *testing.T) {
		other := req
		other.OrganizationID = uuid.NewString()
		_, err := NewService(mail, &fakeProvider{}).SendEmail(context.Background(), other)
		assert.ErrorIs(t, err, ErrTemplateNotFound)
	})

	t.Run("invalid request", func(t *testing.T) {
		bad := req
		bad.RecipientEmail = "not-an-email"
		_, err := NewService(mail, &fakeProvider{}).SendEmail(context.Background(), bad)
		assert.Error(t, err)
	})
}

func TestSendGridDeliver(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg := NewSendGrid("sg-key", "Academy", "no-reply@academy.test")
	sg.host = srv.URL

	id, err := sg.Deliver(context.Background(), Message{ToAddress: "ana@example.com", Subject: "Hi", HTML: "<p>Hi</p>", Text: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "sg-123", id)

	content := got["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "text/plain", content[0].(map[string]any)["type"])
}

func TestClientSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SecretHeader) != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req types.SendEmailRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(types.SendEmailResponse{Success: true, MessageID: req.TemplateID})
	}))
	defer srv.Close()

	req := types.SendEmailRequest{Type: types.EmailTypeSequence, TemplateID: uuid.NewString()}
	require.NoError(t, NewClient(srv.URL, "s3cret").Send(context.Background(), req))
	assert.Error(t, NewClient(srv.URL, "wrong").Send(context.Background(), req))
}
