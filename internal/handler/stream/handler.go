package stream

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/persona-chat/backend/internal/model/chat"
	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
	"github.com/zhouzirui/persona-chat/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// TurnReader reads a conversation from the shared chat log.
type TurnReader interface {
	Read(ctx context.Context, conversationID string, botType *persona.ID) []chat.Turn
}

// Handler pushes turns of a shared conversation to WebSocket clients as they
// appear in the log, so participants see each other's messages.
type Handler struct {
	turns    TurnReader
	interval time.Duration
	upgrader websocket.Upgrader
}

// New creates a watch handler that polls the log every interval.
func New(turns TurnReader, interval time.Duration) *Handler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Handler{
		turns:    turns,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes registers the watch endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{conversationID}/ws", h.handleWatch)
}

// Event is one message sent to a watching client.
type Event struct {
	Event          string     `json:"event"`
	ConversationID string     `json:"conversationId"`
	Turn           *chat.Turn `json:"turn,omitempty"`
	Timestamp      int64      `json:"timestamp"`
}

func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.TrimSpace(chi.URLParam(r, "conversationID"))
	if conversationID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationID is required")
		return
	}

	var botType *persona.ID
	if label := r.URL.Query().Get("bot"); label != "" {
		id, ok := persona.Resolve(label)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, "persona not recognised")
			return
		}
		botType = &id
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[stream] watching conversation=%s", conversationID)
	defer log.Printf("[stream] closed watch for conversation=%s", conversationID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	// Clients only send control frames; reading keeps pongs flowing and
	// notices when the peer goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[stream] read error: %v", err)
				}
				return
			}
		}
	}()

	if err := h.send(conn, Event{Event: "connected", ConversationID: conversationID}); err != nil {
		return
	}

	seen := make(map[string]struct{})
	push := func() error {
		for _, turn := range diffTurns(seen, h.turns.Read(ctx, conversationID, botType)) {
			turn := turn
			if err := h.send(conn, Event{Event: "turn", ConversationID: conversationID, Turn: &turn}); err != nil {
				return err
			}
		}
		return nil
	}
	if err := push(); err != nil {
		return
	}

	poll := time.NewTicker(h.interval)
	defer poll.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if err := push(); err != nil {
				log.Printf("[stream] write failed for conversation=%s: %v", conversationID, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) send(conn *websocket.Conn, event Event) error {
	event.Timestamp = time.Now().UnixMilli()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(event)
}

// diffTurns returns the turns not yet in seen, in the given order, and marks
// them seen. Rows from other writers may sort before ones already sent.
func diffTurns(seen map[string]struct{}, turns []chat.Turn) []chat.Turn {
	var fresh []chat.Turn
	for _, turn := range turns {
		key := turnKey(turn)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, turn)
	}
	return fresh
}

func turnKey(turn chat.Turn) string {
	return strings.Join([]string{
		turn.Timestamp.UTC().Format(time.RFC3339Nano),
		string(turn.BotType),
		string(turn.Role),
		turn.Name,
		turn.Content,
	}, "\x1f")
}
