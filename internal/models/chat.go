package models

import (
	"fmt"
	"time"
)

// Message roles. The assistant role is stored as "ai" to match the wire shape
// clients already consume.
const (
	RoleUser      = "user"
	RoleAssistant = "ai"
)

// Chat is a conversation session. Title is auto-derived from the first
// message's project selection when the client doesn't supply one.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one chat turn. ProjectIDs freezes which projects were toggled on
// when the message was sent; retrieval for a reply scopes to exactly that set.
type Message struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ProjectIDs []string  `json:"project_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// ChatDetail is the read model for GET /api/chats/{id}.
type ChatDetail struct {
	Chat
	Messages []*Message `json:"messages"`
}

// AutoChatTitle derives a chat title from the selected companies:
// "Chat with <Company>" for a single project, "Chat with N companies"
// otherwise.
func AutoChatTitle(companyNames []string) string {
	switch len(companyNames) {
	case 0:
		return "New chat"
	case 1:
		return "Chat with " + companyNames[0]
	default:
		return fmt.Sprintf("Chat with %d companies", len(companyNames))
	}
}
