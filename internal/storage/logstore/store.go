// Package logstore persists chat turns to an append-only tabular log and reads
// them back per conversation.
package logstore

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/zhouzirui/persona-chat/backend/internal/metrics"
	"github.com/zhouzirui/persona-chat/backend/internal/model/chat"
	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
)

// DefaultCacheTTL bounds how long a read snapshot may hide rows written by other sessions.
const DefaultCacheTTL = 3 * time.Second

// Store appends turns with bounded retries and serves filtered, ordered reads.
type Store struct {
	table   Table
	backoff Backoff
	sleep   func(context.Context, time.Duration) error
	now     func() time.Time
	ttl     time.Duration
	cache   *snapshotCache
	metrics *metrics.Metrics
}

// Option customises a Store.
type Option func(*Store)

// WithBackoff overrides the append retry schedule.
func WithBackoff(b Backoff) Option {
	return func(s *Store) { s.backoff = b }
}

// WithSleeper replaces the wait between retries, mainly for tests.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Store) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithCacheTTL sets the read snapshot lifetime; zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock sets the time source used by the read cache.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New wraps table with the retry policy and read cache.
func New(table Table, opts ...Option) *Store {
	s := &Store{
		table:   table,
		backoff: DefaultBackoff,
		sleep:   sleepContext,
		now:     time.Now,
		ttl:     DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newSnapshotCache(s.ttl, s.now)
	return s
}

// Append writes one turn. Transient store errors are retried on the backoff
// schedule; any other error is returned immediately.
func (s *Store) Append(ctx context.Context, turn chat.Turn) error {
	if turn.ConversationID == "" {
		return ErrMissingConversationID
	}

	row := rowFromTurn(turn)
	attempts := s.backoff.attempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := s.table.Append(ctx, row)
		if err == nil {
			s.cache.invalidate()
			s.metrics.TurnPersisted(string(turn.Role))
			return nil
		}
		if !IsTransient(err) {
			return fmt.Errorf("append chat log row: %w", err)
		}

		lastErr = err
		if attempt == attempts-1 {
			break
		}

		delay := s.backoff.Delay(attempt)
		log.Printf("[logstore] transient append failure for conversation=%s (attempt %d/%d), retrying in %s: %v",
			turn.ConversationID, attempt+1, attempts, delay, err)
		s.metrics.AppendRetried()
		if err := s.sleep(ctx, delay); err != nil {
			return fmt.Errorf("append chat log row: %w", err)
		}
	}

	s.metrics.AppendFailed()
	return fmt.Errorf("%w after %d attempts: %v", ErrPersistenceFailed, attempts, lastErr)
}

// Read returns the turns of one conversation, optionally restricted to one
// persona, ordered by timestamp. Rows with unparseable timestamps come last.
// An unreachable store yields an empty history rather than an error.
func (s *Store) Read(ctx context.Context, conversationID string, botType *persona.ID) []chat.Turn {
	turns := make([]chat.Turn, 0)
	if conversationID == "" {
		return turns
	}

	records, err := s.cache.get(ctx, s.table.Records)
	if err != nil {
		log.Printf("[logstore] failed to read chat log for conversation=%s: %v", conversationID, err)
		s.metrics.ReadFailed()
		return turns
	}

	for _, rec := range records {
		if rec[ColumnConversationID] != conversationID {
			continue
		}
		if botType != nil && rec[ColumnBotType] != string(*botType) {
			continue
		}
		turns = append(turns, turnFromRecord(rec))
	}

	sortTurns(turns)
	return turns
}

// PrimaryPersona returns the bot_type label used most often in a conversation.
// Ties go to the label that appears first.
func (s *Store) PrimaryPersona(ctx context.Context, conversationID string) (string, bool) {
	turns := s.Read(ctx, conversationID, nil)

	counts := make(map[string]int)
	var order []string
	for _, turn := range turns {
		label := string(turn.BotType)
		if label == "" {
			continue
		}
		if counts[label] == 0 {
			order = append(order, label)
		}
		counts[label]++
	}

	best, bestCount := "", 0
	for _, label := range order {
		if counts[label] > bestCount {
			best, bestCount = label, counts[label]
		}
	}
	return best, bestCount > 0
}

func sortTurns(turns []chat.Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		a, b := turns[i].Timestamp, turns[j].Timestamp
		switch {
		case a.IsZero():
			return false
		case b.IsZero():
			return true
		default:
			return a.Before(b)
		}
	})
}
