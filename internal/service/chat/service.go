package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zhouzirui/persona-chat/backend/internal/metrics"
	"github.com/zhouzirui/persona-chat/backend/internal/model/chat"
	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
	"github.com/zhouzirui/persona-chat/backend/internal/service/ai"
)

var (
	ErrPersonaRequired      = errors.New("persona is required")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrInputTooLong         = errors.New("message exceeds the maximum input length")
	ErrConversationConflict = errors.New("endpoint returned a different conversation id; choose the persona that started the conversation")
)

// NoAnswerText replaces an empty endpoint answer.
const NoAnswerText = "⚠️ No response was returned."

// Endpoint is the hosted conversational AI.
type Endpoint interface {
	Send(ctx context.Context, apiKey string, req ai.Request) (ai.Reply, error)
}

// TurnLog is the shared chat log.
type TurnLog interface {
	Append(ctx context.Context, turn chat.Turn) error
	Read(ctx context.Context, conversationID string, botType *persona.ID) []chat.Turn
	PrimaryPersona(ctx context.Context, conversationID string) (string, bool)
}

// Credentials yields the bearer token of each persona.
type Credentials interface {
	Credential(id persona.ID) (string, bool)
}

// Config tunes message validation.
type Config struct {
	// MaxInputChars rejects longer messages when positive.
	MaxInputChars int
}

// Outcome is what one send produced for display.
type Outcome struct {
	Turns    []chat.Turn `json:"turns"`
	Warnings []string    `json:"warnings,omitempty"`
	// Refresh asks the caller to re-render history from the log.
	Refresh bool `json:"refresh"`
	// EndpointErr is set when the endpoint call failed; its text is shown
	// as the assistant turn.
	EndpointErr error `json:"-"`
	// Err rejects the message. The returned session is then unchanged.
	Err error `json:"-"`
}

// Service runs the turn protocol between a session, the endpoint and the log.
type Service struct {
	endpoint    Endpoint
	log         TurnLog
	credentials Credentials
	cfg         Config
	metrics     *metrics.Metrics
	now         func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock sets the time source used to stamp turns.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the orchestrator.
func NewService(endpoint Endpoint, turnLog TurnLog, credentials Credentials, cfg Config, opts ...Option) *Service {
	s := &Service{
		endpoint:    endpoint,
		log:         turnLog,
		credentials: credentials,
		cfg:         cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send handles one outgoing user message and returns the updated session.
//
// A new conversation keeps the user turn in the session buffer until the
// endpoint assigns an id. A continuing conversation persists the user turn
// under its id once the endpoint call settles, so a conflicting reply writes
// nothing. Persistence failures surface as warnings.
func (s *Service) Send(ctx context.Context, sess chat.Session, text string) (chat.Session, Outcome) {
	if err := s.validate(sess, text); err != nil {
		return sess, Outcome{Err: err}
	}
	apiKey, ok := s.credentials.Credential(sess.PersonaID)
	if !ok {
		return sess, Outcome{Err: fmt.Errorf("%w: %s", persona.ErrMissingCredential, sess.PersonaID)}
	}

	next := sess.Clone()
	isNew := next.ConversationID == ""
	userTurn := chat.Turn{
		Timestamp:      s.now().UTC(),
		ConversationID: next.ConversationID,
		BotType:        next.PersonaID,
		Role:           chat.RoleUser,
		Name:           next.DisplayName(),
		Content:        text,
	}
	if isNew {
		next.Buffer = append(next.Buffer, userTurn)
	}

	start := time.Now()
	reply, err := s.endpoint.Send(ctx, apiKey, ai.Request{
		Query:          text,
		User:           next.DisplayName(),
		ConversationID: next.ConversationID,
	})
	s.metrics.EndpointCalled(time.Since(start), err)

	var out Outcome
	if err != nil {
		log.Printf("[chat] endpoint call failed for session=%s conversation=%s: %v", next.ID, next.ConversationID, err)
		if !isNew {
			s.persist(ctx, userTurn, &out)
		}
		out.EndpointErr = err
		out.Turns = []chat.Turn{userTurn, s.assistantTurn(next, "⚠️ API request error: "+err.Error())}
		return next, out
	}

	answer := reply.Answer
	if answer == "" {
		answer = NoAnswerText
	}

	switch {
	case !isNew && reply.ConversationID != "" && reply.ConversationID != next.ConversationID:
		log.Printf("[chat] conversation conflict for session=%s: held=%s returned=%s", sess.ID, sess.ConversationID, reply.ConversationID)
		s.metrics.ConversationConflict()
		return sess, Outcome{Err: ErrConversationConflict}

	case isNew && reply.ConversationID == "":
		assistant := s.assistantTurn(next, answer)
		next.Buffer = append(next.Buffer, assistant)
		out.Warnings = append(out.Warnings, "the endpoint did not assign a conversation id; this exchange is kept locally and not saved")
		out.Turns = []chat.Turn{userTurn, assistant}
		return next, out

	case isNew:
		next.ConversationID = reply.ConversationID
		userTurn.ConversationID = reply.ConversationID
	}

	s.persist(ctx, userTurn, &out)
	assistant := s.assistantTurn(next, answer)
	s.persist(ctx, assistant, &out)
	out.Turns = []chat.Turn{userTurn, assistant}

	if isNew {
		next.Buffer = nil
		out.Refresh = true
		log.Printf("[chat] session=%s started conversation=%s", next.ID, next.ConversationID)
	}
	return next, out
}

// History returns the turns to display: the log once an id is assigned,
// the local buffer before.
func (s *Service) History(ctx context.Context, sess chat.Session) []chat.Turn {
	if sess.ConversationID == "" {
		return append([]chat.Turn{}, sess.Buffer...)
	}
	return s.log.Read(ctx, sess.ConversationID, nil)
}

// AlignPersona switches a session joining an existing conversation to the
// persona that conversation mostly ran under.
func (s *Service) AlignPersona(ctx context.Context, sess chat.Session) (chat.Session, []string) {
	if sess.ConversationID == "" {
		return sess, nil
	}
	label, ok := s.log.PrimaryPersona(ctx, sess.ConversationID)
	if !ok {
		return sess, nil
	}
	id, ok := persona.Resolve(label)
	if !ok {
		return sess, []string{fmt.Sprintf("conversation %s was held with an unknown persona %q; please check the selected persona", sess.ConversationID, label)}
	}
	if id == sess.PersonaID {
		return sess, nil
	}

	previous := sess.PersonaID
	sess.PersonaID = id
	log.Printf("[chat] session=%s aligned persona %s -> %s for conversation=%s", sess.ID, previous, id, sess.ConversationID)
	return sess, []string{fmt.Sprintf("switched persona to %s to match conversation %s", id, sess.ConversationID)}
}

func (s *Service) validate(sess chat.Session, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if s.cfg.MaxInputChars > 0 && utf8.RuneCountInString(text) > s.cfg.MaxInputChars {
		return fmt.Errorf("%w (max %d characters)", ErrInputTooLong, s.cfg.MaxInputChars)
	}
	if sess.PersonaID == "" {
		return ErrPersonaRequired
	}
	return nil
}

func (s *Service) assistantTurn(sess chat.Session, content string) chat.Turn {
	return chat.Turn{
		Timestamp:      s.now().UTC(),
		ConversationID: sess.ConversationID,
		BotType:        sess.PersonaID,
		Role:           chat.RoleAssistant,
		Name:           string(sess.PersonaID),
		Content:        content,
	}
}

func (s *Service) persist(ctx context.Context, turn chat.Turn, out *Outcome) {
	if err := s.log.Append(ctx, turn); err != nil {
		log.Printf("[chat] failed to save %s turn for conversation=%s: %v", turn.Role, turn.ConversationID, err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("failed to save the %s turn: %v", turn.Role, err))
	}
}
