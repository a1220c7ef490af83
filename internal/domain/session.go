package domain

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotReady is returned by gateways before the session has paired and connected.
var ErrSessionNotReady = errors.New("session is not ready")

// SessionGateway is the narrow capability surface of the external messaging session.
// Target and address strings use the canonical "<digits>@c.us" / "<id>@g.us" form.
type SessionGateway interface {
	SendMessage(ctx context.Context, target string, content Content, opts SendOptions) (*SendResult, error)
	IsRegisteredUser(ctx context.Context, address string) (bool, error)
	GetChats(ctx context.Context) ([]Chat, error)
	GetChatByID(ctx context.Context, id string) (Chat, error)
}

// Chat is a conversation owned by the session. This service only reads it,
// apart from asking the session to clear its messages.
type Chat interface {
	ID() string
	Name() string
	IsGroup() bool
	ClearMessages(ctx context.Context) (bool, error)
}

// Content is either plain text or a media attachment.
type Content struct {
	Text  string
	Media *Attachment
}

// TextContent wraps a plain text body.
func TextContent(text string) Content {
	return Content{Text: text}
}

// Attachment is an outbound media payload. Data is base64 encoded.
type Attachment struct {
	MimeType string `json:"mimetype"`
	Data     string `json:"data"`
	Filename string `json:"filename,omitempty"`
}

// SendOptions carries per-send extras.
type SendOptions struct {
	Caption string
}

// SendResult is what the session reports for an accepted message.
type SendResult struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	HasMedia  bool      `json:"hasMedia"`
}

// SessionEventKind enumerates session lifecycle transitions.
type SessionEventKind string

const (
	EventQRIssued      SessionEventKind = "qr"
	EventAuthenticated SessionEventKind = "authenticated"
	EventReady         SessionEventKind = "ready"
	EventAuthFailure   SessionEventKind = "auth_failure"
	EventDisconnected  SessionEventKind = "disconnected"
)

// SessionEvent is a lifecycle transition published by the session manager.
// Payload holds the raw pairing code for EventQRIssued and the reason for
// EventDisconnected and EventAuthFailure.
type SessionEvent struct {
	Kind      SessionEventKind
	Payload   string
	Timestamp time.Time
}
