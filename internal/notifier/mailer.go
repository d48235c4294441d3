// Package notifier turns admitted submissions into outbound messages and
// hands them to a delivery provider.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/shineum/form-relay/internal/email"
	"github.com/shineum/form-relay/internal/metrics"
	"github.com/shineum/form-relay/internal/provider"
	"github.com/shineum/form-relay/internal/submission"
)

const (
	DefaultSubjectPrefix    = "Contact form: "
	DefaultAutoReplySubject = "Thank you for contacting us"
	DefaultAutoReplyMessage = "Thank you for your message regarding \"{{subject}}\". We have received it and will get back to you as soon as possible."

	subjectPlaceholder = "{{subject}}"
)

// Config controls message composition.
type Config struct {
	// Recipient receives every submission.
	Recipient string
	// Sender is used for the Message-ID domain.
	Sender           string
	SubjectPrefix    string
	AutoReplySubject string
	AutoReplyMessage string
}

// Mailer delivers submissions through a Provider.
type Mailer struct {
	provider provider.Provider
	cfg      Config
	policy   *bluemonday.Policy
	logger   *slog.Logger
}

// New creates a Mailer. Empty composition fields fall back to defaults.
func New(p provider.Provider, cfg Config, logger *slog.Logger) *Mailer {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.AutoReplySubject == "" {
		cfg.AutoReplySubject = DefaultAutoReplySubject
	}
	if cfg.AutoReplyMessage == "" {
		cfg.AutoReplyMessage = DefaultAutoReplyMessage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{
		provider: p,
		cfg:      cfg,
		policy:   bluemonday.StrictPolicy(),
		logger:   logger,
	}
}

// ProviderName returns the name of the underlying provider.
func (m *Mailer) ProviderName() string {
	return m.provider.Name()
}

// Send delivers sub to the configured recipient, with Reply-To set to the
// submitter so the owner can answer directly.
func (m *Mailer) Send(ctx context.Context, sub submission.Submission) error {
	msg := &email.Email{
		To:        []string{m.cfg.Recipient},
		ReplyTo:   []string{sub.Email},
		Subject:   m.cfg.SubjectPrefix + sub.Subject,
		TextBody:  m.contactText(sub),
		HTMLBody:  m.contactHTML(sub),
		MessageID: m.messageID(),
	}
	if att := sub.Attachment; att != nil {
		msg.Attachments = []email.Attachment{{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Content:     att.Content,
		}}
	}
	return m.deliver(ctx, "primary", msg)
}

// SendAutoReply sends the acknowledgement message to the submitter.
func (m *Mailer) SendAutoReply(ctx context.Context, sub submission.Submission) error {
	body := strings.ReplaceAll(m.cfg.AutoReplyMessage, subjectPlaceholder, sub.Subject)
	msg := &email.Email{
		To:        []string{sub.Email},
		Subject:   strings.ReplaceAll(m.cfg.AutoReplySubject, subjectPlaceholder, sub.Subject),
		TextBody:  body,
		HTMLBody:  "<p>" + m.htmlText(body) + "</p>",
		MessageID: m.messageID(),
	}
	return m.deliver(ctx, "auto_reply", msg)
}

func (m *Mailer) deliver(ctx context.Context, kind string, msg *email.Email) error {
	start := time.Now()
	err := m.provider.Send(ctx, msg)
	metrics.RecordDelivery(m.provider.Name(), kind, err, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s delivery via %s: %w", kind, m.provider.Name(), err)
	}
	m.logger.Debug("message delivered",
		"provider", m.provider.Name(),
		"kind", kind,
		"message_id", msg.MessageID,
	)
	return nil
}

func (m *Mailer) contactText(sub submission.Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New contact form submission\n\n")
	fmt.Fprintf(&b, "From: %s\n", sub.Email)
	fmt.Fprintf(&b, "Subject: %s\n\n", sub.Subject)
	b.WriteString(sub.Message)
	b.WriteString("\n")
	if att := sub.Attachment; att != nil {
		fmt.Fprintf(&b, "\nAttachment: %s (%s, %d bytes)\n", att.Filename, att.ContentType, att.Size())
	}
	return b.String()
}

func (m *Mailer) contactHTML(sub submission.Submission) string {
	var b strings.Builder
	b.WriteString("<h2>New contact form submission</h2>\n")
	fmt.Fprintf(&b, "<p><strong>From:</strong> %s</p>\n", m.htmlText(sub.Email))
	fmt.Fprintf(&b, "<p><strong>Subject:</strong> %s</p>\n", m.htmlText(sub.Subject))
	fmt.Fprintf(&b, "<p>%s</p>\n", m.htmlText(sub.Message))
	if att := sub.Attachment; att != nil {
		fmt.Fprintf(&b, "<p><strong>Attachment:</strong> %s</p>\n", m.htmlText(att.Filename))
	}
	return b.String()
}

// htmlText strips markup from untrusted text and keeps line breaks.
func (m *Mailer) htmlText(s string) string {
	clean := m.policy.Sanitize(s)
	return strings.ReplaceAll(clean, "\n", "<br>\n")
}

func (m *Mailer) messageID() string {
	domain := "form-relay.local"
	if i := strings.LastIndexByte(m.cfg.Sender, '@'); i >= 0 && i < len(m.cfg.Sender)-1 {
		domain = m.cfg.Sender[i+1:]
	}
	return "<" + uuid.NewString() + "@" + domain + ">"
}
