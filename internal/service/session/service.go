package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/persona-chat/backend/internal/model/chat"
	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPersonaLocked   = errors.New("persona cannot change once a conversation id is assigned")
	ErrNameRequired    = errors.New("display name is required")
	ErrPersonaRequired = errors.New("persona is required")
)

// Share-link query parameters.
const (
	ParamPage           = "page"
	ParamConversationID = "cid"
	ParamBot            = "bot"
	ParamName           = "name"
)

// Resolver maps persona labels onto catalog entries.
type Resolver interface {
	Resolve(label string) (persona.Persona, error)
}

// LoginForm carries what the participant typed or picked explicitly.
type LoginForm struct {
	Name           string `json:"name"`
	Persona        string `json:"persona"`
	ConversationID string `json:"conversationId"`
}

type entry struct {
	mu      sync.Mutex
	session chat.Session
}

// Service keeps sessions in memory and serialises actions per session.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	personas Resolver
	now      func() time.Time
}

// NewService bootstraps an empty session registry.
func NewService(personas Resolver) *Service {
	return &Service{
		sessions: make(map[string]*entry),
		personas: personas,
		now:      time.Now,
	}
}

// Login creates a chat-page session. Explicit form fields win; share-link
// query parameters only fill fields the form left empty. An unresolvable
// persona label is reported as a warning and leaves the persona unset.
func (s *Service) Login(_ context.Context, form LoginForm, query url.Values) (chat.Session, []string, error) {
	name := strings.TrimSpace(form.Name)
	label := strings.TrimSpace(form.Persona)
	cid := strings.TrimSpace(form.ConversationID)

	if query != nil {
		if name == "" {
			name = strings.TrimSpace(query.Get(ParamName))
		}
		if label == "" {
			label = strings.TrimSpace(query.Get(ParamBot))
		}
		if cid == "" {
			cid = strings.TrimSpace(query.Get(ParamConversationID))
		}
	}

	var warnings []string
	var personaID persona.ID
	if label != "" {
		p, err := s.personas.Resolve(label)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("persona %q was not recognised; please choose one from the list", label))
		} else {
			personaID = p.ID
		}
	}

	if name == "" {
		return chat.Session{}, warnings, ErrNameRequired
	}
	if personaID == "" {
		return chat.Session{}, warnings, ErrPersonaRequired
	}

	session := chat.Session{
		ID:             uuid.NewString(),
		Page:           chat.PageChat,
		PersonaID:      personaID,
		ConversationID: cid,
		Name:           name,
		CreatedAt:      s.now().UTC(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = &entry{session: session}
	s.mu.Unlock()

	log.Printf("[session] login session=%s persona=%s joined=%t", session.ID, personaID, cid != "")
	return session.Clone(), warnings, nil
}

// Get retrieves a snapshot of a session.
func (s *Service) Get(_ context.Context, sessionID string) (chat.Session, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// Update runs fn with the session held exclusively, so one action completes
// before the next starts. The returned session replaces the stored one
// unless fn fails.
func (s *Service) Update(_ context.Context, sessionID string, fn func(chat.Session) (chat.Session, error)) (chat.Session, error) {
	e, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := fn(e.session.Clone())
	if err != nil {
		return e.session.Clone(), err
	}
	next.ID = e.session.ID
	e.session = next.Clone()
	return next, nil
}

// SetPersona switches the session's persona. It is rejected while a
// conversation id is present.
func (s *Service) SetPersona(ctx context.Context, sessionID, label string) (chat.Session, error) {
	return s.Update(ctx, sessionID, func(sess chat.Session) (chat.Session, error) {
		if sess.PersonaLocked() {
			return sess, ErrPersonaLocked
		}
		p, err := s.personas.Resolve(label)
		if err != nil {
			return sess, err
		}
		sess.PersonaID = p.ID
		return sess, nil
	})
}

// Logout forgets the session and returns the initial empty state.
func (s *Service) Logout(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}

	// Wait for an in-flight action to finish before reporting the logout.
	e.mu.Lock()
	e.mu.Unlock()

	log.Printf("[session] logout session=%s", sessionID)
	return chat.Session{Page: chat.PageLogin}, nil
}

func (s *Service) lookup(sessionID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// ShareLink serialises the fields a second participant needs to join the
// same conversation. It is empty until a conversation id is assigned.
func ShareLink(sess chat.Session) string {
	if sess.ConversationID == "" {
		return ""
	}
	values := url.Values{}
	values.Set(ParamPage, string(chat.PageChat))
	values.Set(ParamConversationID, sess.ConversationID)
	values.Set(ParamBot, string(sess.PersonaID))
	if sess.Name != "" {
		values.Set(ParamName, sess.Name)
	}
	return "/?" + values.Encode()
}
