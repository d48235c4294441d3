package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shineum/form-relay/internal/email"
	"github.com/shineum/form-relay/internal/submission"
)

type recordingProvider struct {
	mu   sync.Mutex
	sent []*email.Email
	err  error
}

func (p *recordingProvider) Send(_ context.Context, msg *email.Email) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return p.err
}

func (p *recordingProvider) Name() string { return "recording" }

func testSubmission() submission.Submission {
	return submission.Submission{
		Email:   "visitor@example.org",
		Subject: "Pricing question",
		Message: "Hello <script>alert(1)</script>\nSecond line & more",
	}
}

func TestMailer_Send(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{}
	m := New(p, Config{Recipient: "owner@example.com", Sender: "relay@example.com"}, nil)

	require.NoError(t, m.Send(context.Background(), testSubmission()))
	require.Len(t, p.sent, 1)

	msg := p.sent[0]
	require.Equal(t, []string{"owner@example.com"}, msg.To)
	require.Equal(t, []string{"visitor@example.org"}, msg.ReplyTo)
	require.Equal(t, "Contact form: Pricing question", msg.Subject)
	require.Contains(t, msg.TextBody, "From: visitor@example.org")
	require.Contains(t, msg.TextBody, "Second line & more")
	require.NotContains(t, msg.HTMLBody, "<script>")
	require.Contains(t, msg.HTMLBody, "Second line &amp; more")
	require.Contains(t, msg.HTMLBody, "<br>")
	require.True(t, strings.HasSuffix(msg.MessageID, "@example.com>"))
	require.Empty(t, msg.Attachments)
	require.Equal(t, "recording", m.ProviderName())
}

func TestMailer_SendWithAttachment(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{}
	m := New(p, Config{Recipient: "owner@example.com"}, nil)

	sub := testSubmission()
	sub.Attachment = &submission.Attachment{Filename: "cv.pdf", ContentType: "application/pdf", Content: []byte("%PDF")}
	require.NoError(t, m.Send(context.Background(), sub))

	msg := p.sent[0]
	require.Len(t, msg.Attachments, 1)
	require.Equal(t, "cv.pdf", msg.Attachments[0].Filename)
	require.Equal(t, []byte("%PDF"), msg.Attachments[0].Content)
	require.Contains(t, msg.TextBody, "Attachment: cv.pdf (application/pdf, 4 bytes)")
	require.True(t, strings.HasSuffix(msg.MessageID, "@form-relay.local>"))
}

func TestMailer_SendError(t *testing.T) {
	t.Parallel()

	boom := errors.New("provider down")
	m := New(&recordingProvider{err: boom}, Config{Recipient: "owner@example.com"}, nil)

	err := m.Send(context.Background(), testSubmission())
	require.ErrorIs(t, err, boom)
}

func TestMailer_SendAutoReply(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{}
	m := New(p, Config{
		Recipient:        "owner@example.com",
		AutoReplySubject: "Re: {{subject}}",
		AutoReplyMessage: "We got your note about {{subject}}.",
	}, nil)

	require.NoError(t, m.SendAutoReply(context.Background(), testSubmission()))

	msg := p.sent[0]
	require.Equal(t, []string{"visitor@example.org"}, msg.To)
	require.Empty(t, msg.ReplyTo)
	require.Equal(t, "Re: Pricing question", msg.Subject)
	require.Equal(t, "We got your note about Pricing question.", msg.TextBody)
	require.Equal(t, "<p>We got your note about Pricing question.</p>", msg.HTMLBody)
}

func TestMailer_AutoReplyDefaults(t *testing.T) {
	t.Parallel()

	p := &recordingProvider{}
	m := New(p, Config{Recipient: "owner@example.com"}, nil)

	require.NoError(t, m.SendAutoReply(context.Background(), testSubmission()))
	msg := p.sent[0]
	require.Equal(t, DefaultAutoReplySubject, msg.Subject)
	require.Contains(t, msg.TextBody, `"Pricing question"`)
	require.NotContains(t, msg.TextBody, "{{subject}}")
}
