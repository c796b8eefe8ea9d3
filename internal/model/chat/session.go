package chat

import (
	"time"

	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
)

// Page is the step of the two-page flow a session is on.
type Page string

const (
	PageLogin Page = "login"
	PageChat  Page = "chat"
)

// AnonymousName is used when a session carries no display name.
const AnonymousName = "anonymous"

// Session captures one participant's state between interactions.
//
// Buffer holds turns only while ConversationID is unassigned; once the
// endpoint assigns an id the chat log is the source of truth.
type Session struct {
	ID             string     `json:"id"`
	Page           Page       `json:"page"`
	PersonaID      persona.ID `json:"personaId"`
	ConversationID string     `json:"conversationId"`
	Name           string     `json:"name"`
	Buffer         []Turn     `json:"buffer,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// PersonaLocked reports whether persona selection is frozen by an assigned conversation id.
func (s Session) PersonaLocked() bool {
	return s.ConversationID != ""
}

// DisplayName returns the name sent to the endpoint and written to the log.
func (s Session) DisplayName() string {
	if s.Name == "" {
		return AnonymousName
	}
	return s.Name
}

// Clone returns a copy that shares no buffer storage with s.
func (s Session) Clone() Session {
	if s.Buffer != nil {
		s.Buffer = append([]Turn(nil), s.Buffer...)
	}
	return s
}
