// Package email defines the outbound message model handed to delivery
// providers, and its raw MIME rendering.
package email

import (
	"errors"
	"net/mail"
	"strings"
)

// Email is one outbound message. From is filled in by the provider from its
// configured sender; the relay sets everything else.
type Email struct {
	To          []string
	ReplyTo     []string
	Subject     string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	MessageID   string
}

// Attachment is a file carried by a message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ErrNoRecipients is returned when a message has no To address.
var ErrNoRecipients = errors.New("email has no recipients")

// Validate checks the minimum a provider needs to deliver the message.
func (e *Email) Validate() error {
	if len(e.To) == 0 {
		return ErrNoRecipients
	}
	if e.TextBody == "" && e.HTMLBody == "" {
		return errors.New("email has no body")
	}
	return nil
}

// FormatAddress renders "Name <addr>", or just addr when name is empty.
// The name is RFC 2047 encoded when needed.
func FormatAddress(name, addr string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return addr
	}
	return (&mail.Address{Name: name, Address: addr}).String()
}
