package chat

import (
	"time"

	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
)

// Role distinguishes who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one row of the shared chat log. Turns are written once and never mutated.
type Turn struct {
	Timestamp      time.Time  `json:"timestamp"`
	ConversationID string     `json:"conversationId"`
	BotType        persona.ID `json:"botType"`
	Role           Role       `json:"role"`
	Name           string     `json:"name"`
	Content        string     `json:"content"`
}
