// Package domain contains core domain types for the Baun tutor server.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies which interface a user (and their conversations) belongs to.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// MessageRole identifies the author of a message.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// MessageStatus is the canonical message status enum. The legacy external
// representation (sending/sent/error) is translated at the store boundary only.
type MessageStatus string

const (
	StatusPending  MessageStatus = "pending"
	StatusComplete MessageStatus = "complete"
	StatusError    MessageStatus = "error"
)

// Message is a single entry in a conversation transcript. Assistant content is
// markdown-flavored text; the persistence layer treats it as opaque.
type Message struct {
	ID          string        `json:"id"`
	Role        MessageRole   `json:"role"`
	Content     string        `json:"content"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	Attachments []string      `json:"attachments,omitempty"`
}

// titleMaxLen is the number of leading runes of the first user message used as
// the auto-derived conversation title.
const titleMaxLen = 30

// DefaultTitle is the title of a conversation before its first user message.
const DefaultTitle = "New Conversation"

// Conversation is a titled, ordered sequence of messages owned by exactly one
// role and identity. Messages are append-only; edits update in place by id.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	LastUpdated time.Time `json:"lastUpdated"`
	UserRole    Role      `json:"userRole"`
	UserID      string    `json:"userId,omitempty"`
}

// NewConversation creates an empty conversation owned by the given role and
// identity with a freshly generated id.
func NewConversation(role Role, userID string) *Conversation {
	return &Conversation{
		ID:          uuid.NewString(),
		Title:       DefaultTitle,
		Messages:    []Message{},
		LastUpdated: time.Now(),
		UserRole:    role,
		UserID:      userID,
	}
}

// NewMessage creates a message with a generated id and the current timestamp.
func NewMessage(role MessageRole, content string, status MessageStatus) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Status:    status,
	}
}

// Append adds a message and refreshes LastUpdated. If this is the first
// message of the conversation and it is a user message, the title is derived
// from its content.
func (c *Conversation) Append(msg Message) {
	if len(c.Messages) == 0 && msg.Role == MessageRoleUser {
		c.Title = DeriveTitle(msg.Content)
	}
	c.Messages = append(c.Messages, msg)
	c.Touch()
}

// UpdateMessage replaces content and status of the message with the given id.
// Unknown ids are ignored.
func (c *Conversation) UpdateMessage(id, content string, status MessageStatus) {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			c.Messages[i].Content = content
			c.Messages[i].Status = status
			c.Messages[i].Timestamp = time.Now()
			c.Touch()
			return
		}
	}
}

// Touch refreshes the LastUpdated timestamp.
func (c *Conversation) Touch() {
	c.LastUpdated = time.Now()
}

// DeriveTitle returns the first titleMaxLen runes of content, with an ellipsis
// marker when content is longer.
func DeriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxLen {
		return content
	}
	return string(runes[:titleMaxLen]) + "..."
}
