package logstore

import (
	"context"
	"sync"
)

// MemoryTable keeps the log in process. It backs local runs and lets tests
// inject append failures.
type MemoryTable struct {
	mu          sync.Mutex
	rows        [][]string
	failures    []error
	readErr     error
	appendCalls int
}

// NewMemoryTable returns an empty table.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{}
}

// FailNextAppends queues errors returned, in order, by the next Append calls.
// A failed call writes nothing.
func (t *MemoryTable) FailNextAppends(errs ...error) {
	t.mu.Lock()
	t.failures = append(t.failures, errs...)
	t.mu.Unlock()
}

// FailReads makes Records return err until cleared with nil.
func (t *MemoryTable) FailReads(err error) {
	t.mu.Lock()
	t.readErr = err
	t.mu.Unlock()
}

// Append implements Table.
func (t *MemoryTable) Append(_ context.Context, row []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.appendCalls++
	if len(t.failures) > 0 {
		err := t.failures[0]
		t.failures = t.failures[1:]
		if err != nil {
			return err
		}
	}

	t.rows = append(t.rows, append([]string(nil), row...))
	return nil
}

// Records implements Table.
func (t *MemoryTable) Records(_ context.Context) ([]Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.readErr != nil {
		return nil, t.readErr
	}

	records := make([]Record, 0, len(t.rows))
	for _, row := range t.rows {
		records = append(records, recordFromRow(Columns, row))
	}
	return records, nil
}

// Rows returns a copy of every stored row.
func (t *MemoryTable) Rows() [][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := make([][]string, len(t.rows))
	for i, row := range t.rows {
		rows[i] = append([]string(nil), row...)
	}
	return rows
}

// AppendCalls counts Append invocations, failed ones included.
func (t *MemoryTable) AppendCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendCalls
}

var _ Table = (*MemoryTable)(nil)
