package logstore

import (
	"context"
	"strings"
	"time"

	"github.com/zhouzirui/persona-chat/backend/internal/model/chat"
	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
)

// Column names of the chat log, in write order.
const (
	ColumnTimestamp      = "timestamp"
	ColumnConversationID = "conversation_id"
	ColumnBotType        = "bot_type"
	ColumnRole           = "role"
	ColumnName           = "name"
	ColumnContent        = "content"
)

// Columns is the header row every backing table carries.
var Columns = []string{
	ColumnTimestamp,
	ColumnConversationID,
	ColumnBotType,
	ColumnRole,
	ColumnName,
	ColumnContent,
}

// Record is one log row keyed by header name.
type Record map[string]string

// Table is the tabular collaborator behind the log store.
type Table interface {
	// Append writes one row in Columns order.
	Append(ctx context.Context, row []string) error
	// Records returns every data row, header excluded, in append order.
	Records(ctx context.Context) ([]Record, error)
}

// timestampLayouts are tried in order when reading rows back. Spreadsheet
// edits can rewrite the stored RFC 3339 value into a local date format.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006/01/02 15:04:05",
	"2006/1/2 15:04:05",
}

func rowFromTurn(turn chat.Turn) []string {
	return []string{
		turn.Timestamp.UTC().Format(time.RFC3339Nano),
		turn.ConversationID,
		string(turn.BotType),
		string(turn.Role),
		turn.Name,
		turn.Content,
	}
}

func turnFromRecord(rec Record) chat.Turn {
	ts, _ := parseTimestamp(rec[ColumnTimestamp])
	return chat.Turn{
		Timestamp:      ts,
		ConversationID: rec[ColumnConversationID],
		BotType:        persona.ID(rec[ColumnBotType]),
		Role:           chat.Role(rec[ColumnRole]),
		Name:           rec[ColumnName],
		Content:        rec[ColumnContent],
	}
}

// parseTimestamp returns the zero time and false for values no layout accepts.
func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// recordFromRow maps a positional row onto header names, padding short rows.
func recordFromRow(header, row []string) Record {
	rec := make(Record, len(header))
	for i, name := range header {
		if name == "" {
			continue
		}
		if i < len(row) {
			rec[name] = row[i]
		} else {
			rec[name] = ""
		}
	}
	return rec
}
