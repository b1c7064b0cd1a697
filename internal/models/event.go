package models

import (
	"strings"
	"time"
)

// UserID is the platform identifier of the acting user.
type UserID string

type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// ChatContext identifies the conversation an event arrived in.
type ChatContext struct {
	ID    string   `json:"id"`
	Type  ChatType `json:"type"`
	Title string   `json:"title,omitempty"`
}

// IsGroup reports whether the chat is shared between several users.
func (c ChatContext) IsGroup() bool {
	return c.Type == ChatGroup || c.Type == ChatSupergroup
}

// Image references an attached picture, either inline or by URL.
type Image struct {
	MIMEType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Empty reports whether the image carries neither bytes nor a URL.
func (i *Image) Empty() bool {
	return i == nil || (len(i.Data) == 0 && strings.TrimSpace(i.URL) == "")
}

// Event is an immutable snapshot of one inbound message.
type Event struct {
	ID          string      `json:"id"`
	UserID      UserID      `json:"user_id"`
	DisplayName string      `json:"display_name,omitempty"`
	Chat        ChatContext `json:"chat"`
	Text        string      `json:"text,omitempty"`
	Image       *Image      `json:"image,omitempty"`
	ReceivedAt  time.Time   `json:"received_at"`
}

// HasText reports whether the event carries non-blank text.
func (e *Event) HasText() bool {
	return strings.TrimSpace(e.Text) != ""
}

// HasImage reports whether the event carries an image payload.
func (e *Event) HasImage() bool {
	return !e.Image.Empty()
}
