package logstore

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zhouzirui/persona-chat/backend/internal/metrics"
	"github.com/zhouzirui/persona-chat/backend/internal/model/chat"
	"github.com/zhouzirui/persona-chat/backend/internal/model/persona"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func newTestStore(table Table, opts ...Option) (*Store, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	opts = append([]Option{WithSleeper(sleeper.sleep), WithCacheTTL(0)}, opts...)
	return New(table, opts...), sleeper
}

func sampleTurn(cid string, role chat.Role, content string, ts time.Time) chat.Turn {
	return chat.Turn{
		Timestamp:      ts,
		ConversationID: cid,
		BotType:        persona.IdealInfantMom,
		Role:           role,
		Name:           "yui",
		Content:        content,
	}
}

func rateLimited() error {
	return &StatusError{Code: http.StatusTooManyRequests, Err: errors.New("quota exceeded")}
}

func TestAppendRetriesTransientErrorsThenSucceeds(t *testing.T) {
	table := NewMemoryTable()
	table.FailNextAppends(rateLimited(), rateLimited())
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store, sleeper := newTestStore(table, WithMetrics(m))

	turn := sampleTurn("abc", chat.RoleUser, "hello", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	if err := store.Append(context.Background(), turn); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	if got := len(table.Rows()); got != 1 {
		t.Fatalf("expected exactly one persisted row, got %d", got)
	}
	if table.AppendCalls() != 3 {
		t.Fatalf("expected 3 append attempts, got %d", table.AppendCalls())
	}
	want := []time.Duration{time.Second, 1500 * time.Millisecond}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("unexpected delays: %v", sleeper.delays)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Fatalf("delay %d = %s, want %s", i, sleeper.delays[i], want[i])
		}
	}
	if got := testutil.ToFloat64(m.AppendRetries); got != 2 {
		t.Fatalf("expected 2 retries recorded, got %v", got)
	}
}

func TestAppendExhaustsRetryBudget(t *testing.T) {
	table := NewMemoryTable()
	table.FailNextAppends(rateLimited(), rateLimited(), rateLimited(), rateLimited(), rateLimited())
	store, sleeper := newTestStore(table)

	err := store.Append(context.Background(), sampleTurn("abc", chat.RoleUser, "hello", time.Now()))
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("expected ErrPersistenceFailed, got %v", err)
	}
	if table.AppendCalls() != DefaultBackoff.Attempts {
		t.Fatalf("expected %d attempts, got %d", DefaultBackoff.Attempts, table.AppendCalls())
	}
	if len(sleeper.delays) != DefaultBackoff.Attempts-1 {
		t.Fatalf("expected %d waits, got %d", DefaultBackoff.Attempts-1, len(sleeper.delays))
	}
	if len(table.Rows()) != 0 {
		t.Fatal("expected no rows after exhausted retries")
	}
}

func TestAppendDoesNotRetryPermanentErrors(t *testing.T) {
	table := NewMemoryTable()
	forbidden := &StatusError{Code: http.StatusForbidden, Err: errors.New("no access")}
	table.FailNextAppends(forbidden)
	store, sleeper := newTestStore(table)

	err := store.Append(context.Background(), sampleTurn("abc", chat.RoleUser, "hello", time.Now()))
	if err == nil || errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("expected the permanent error to propagate, got %v", err)
	}
	if !errors.Is(err, forbidden) {
		t.Fatalf("expected wrapped forbidden error, got %v", err)
	}
	if table.AppendCalls() != 1 || len(sleeper.delays) != 0 {
		t.Fatalf("expected a single attempt without waiting, calls=%d waits=%d", table.AppendCalls(), len(sleeper.delays))
	}
}

func TestAppendRejectsEmptyConversationID(t *testing.T) {
	table := NewMemoryTable()
	store, _ := newTestStore(table)

	err := store.Append(context.Background(), sampleTurn("", chat.RoleUser, "hello", time.Now()))
	if !errors.Is(err, ErrMissingConversationID) {
		t.Fatalf("expected ErrMissingConversationID, got %v", err)
	}
	if table.AppendCalls() != 0 {
		t.Fatal("expected no write for an unassigned conversation id")
	}
}

func TestAppendThenReadRoundTrip(t *testing.T) {
	store, _ := newTestStore(NewMemoryTable())
	ctx := context.Background()

	turn := sampleTurn("round", chat.RoleAssistant, "hi there", time.Date(2025, 5, 6, 7, 8, 9, 123456789, time.UTC))
	if err := store.Append(ctx, turn); err != nil {
		t.Fatalf("Append err: %v", err)
	}

	got := store.Read(ctx, "round", nil)
	if len(got) != 1 {
		t.Fatalf("expected one turn, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(turn.Timestamp) || got[0] != turn {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got[0], turn)
	}
}

func TestReadFiltersAndSorts(t *testing.T) {
	table := NewMemoryTable()
	ctx := context.Background()
	rows := [][]string{
		{"2025-01-01T10:00:02Z", "c1", string(persona.IdealInfantMom), "assistant", "bot", "second"},
		{"not a time", "c1", string(persona.IdealInfantMom), "user", "yui", "undated"},
		{"2025-01-01T10:00:01Z", "c1", string(persona.IdealInfantMom), "user", "yui", "first"},
		{"2025-01-01T10:00:00Z", "c2", string(persona.IdealInfantMom), "user", "other", "other conversation"},
		{"2025-01-01T10:00:03Z", "c1", string(persona.CasualMenopause), "assistant", "bot", "third"},
	}
	for _, row := range rows {
		if err := table.Append(ctx, row); err != nil {
			t.Fatalf("seed err: %v", err)
		}
	}
	store, _ := newTestStore(table)

	got := store.Read(ctx, "c1", nil)
	wantOrder := []string{"first", "second", "third", "undated"}
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d turns, got %d", len(wantOrder), len(got))
	}
	for i, content := range wantOrder {
		if got[i].Content != content {
			t.Fatalf("turn %d = %q, want %q", i, got[i].Content, content)
		}
	}
	for i := 1; i < len(got)-1; i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("turns not sorted at %d", i)
		}
	}

	bot := persona.CasualMenopause
	filtered := store.Read(ctx, "c1", &bot)
	if len(filtered) != 1 || filtered[0].Content != "third" {
		t.Fatalf("unexpected bot-filtered turns: %+v", filtered)
	}
}

func TestReadEmptyAndUnreachable(t *testing.T) {
	table := NewMemoryTable()
	store, _ := newTestStore(table)
	ctx := context.Background()

	if got := store.Read(ctx, "missing", nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}

	table.FailReads(errors.New("store offline"))
	if got := store.Read(ctx, "missing", nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty history for unreachable store, got %#v", got)
	}
}

func TestReadCacheWindowAndInvalidation(t *testing.T) {
	table := NewMemoryTable()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := New(table, WithCacheTTL(3*time.Second), WithClock(clock), WithSleeper(func(context.Context, time.Duration) error { return nil }))
	ctx := context.Background()

	if err := store.Append(ctx, sampleTurn("c", chat.RoleUser, "one", now)); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if got := len(store.Read(ctx, "c", nil)); got != 1 {
		t.Fatalf("expected 1 turn, got %d", got)
	}

	// A row written by another process is hidden until the snapshot expires.
	if err := table.Append(ctx, rowFromTurn(sampleTurn("c", chat.RoleAssistant, "two", now.Add(time.Second)))); err != nil {
		t.Fatalf("seed err: %v", err)
	}
	if got := len(store.Read(ctx, "c", nil)); got != 1 {
		t.Fatalf("expected cached snapshot with 1 turn, got %d", got)
	}
	now = now.Add(3 * time.Second)
	if got := len(store.Read(ctx, "c", nil)); got != 2 {
		t.Fatalf("expected refreshed snapshot with 2 turns, got %d", got)
	}

	// Our own appends are visible immediately.
	if err := store.Append(ctx, sampleTurn("c", chat.RoleUser, "three", now)); err != nil {
		t.Fatalf("Append err: %v", err)
	}
	if got := len(store.Read(ctx, "c", nil)); got != 3 {
		t.Fatalf("expected 3 turns after own append, got %d", got)
	}
}

func TestPrimaryPersona(t *testing.T) {
	table := NewMemoryTable()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	labels := []persona.ID{persona.CasualInfantDad, persona.IdealInfantMom, persona.CasualInfantDad}
	for i, label := range labels {
		turn := sampleTurn("shared", chat.RoleUser, "x", base.Add(time.Duration(i)*time.Second))
		turn.BotType = label
		if err := table.Append(ctx, rowFromTurn(turn)); err != nil {
			t.Fatalf("seed err: %v", err)
		}
	}
	store, _ := newTestStore(table)

	got, ok := store.PrimaryPersona(ctx, "shared")
	if !ok || got != string(persona.CasualInfantDad) {
		t.Fatalf("PrimaryPersona = %q, %v", got, ok)
	}
	if _, ok := store.PrimaryPersona(ctx, "nothing"); ok {
		t.Fatal("expected no primary persona for an unknown conversation")
	}
}
