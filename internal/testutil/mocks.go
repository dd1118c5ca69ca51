// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"statflow/internal/domain"
)

// === Structure Source Mock ===

// MockStructureSource implements domain.StructureSource for testing.
type MockStructureSource struct {
	SourceIDValue         string
	DataflowsFn           func(ctx context.Context) ([]domain.DataflowDescriptor, error)
	DataStructureFn       func(ctx context.Context, flow domain.DataflowDescriptor) (domain.DataflowDescriptor, error)
	CodelistFn            func(ctx context.Context, id string) ([]domain.CodeEntry, error)
	AvailableIndicatorsFn func(ctx context.Context, flow domain.DataflowDescriptor) ([]string, error)
}

// SourceID implements the interface method for testing.
func (m *MockStructureSource) SourceID() string {
	if m.SourceIDValue == "" {
		return "mock"
	}
	return m.SourceIDValue
}

// Dataflows implements the interface method for testing.
func (m *MockStructureSource) Dataflows(ctx context.Context) ([]domain.DataflowDescriptor, error) {
	if m.DataflowsFn != nil {
		return m.DataflowsFn(ctx)
	}
	panic("unexpected call to MockStructureSource.Dataflows")
}

// DataStructure implements the interface method for testing.
func (m *MockStructureSource) DataStructure(ctx context.Context, flow domain.DataflowDescriptor) (domain.DataflowDescriptor, error) {
	if m.DataStructureFn != nil {
		return m.DataStructureFn(ctx, flow)
	}
	panic("unexpected call to MockStructureSource.DataStructure")
}

// Codelist implements the interface method for testing.
func (m *MockStructureSource) Codelist(ctx context.Context, id string) ([]domain.CodeEntry, error) {
	if m.CodelistFn != nil {
		return m.CodelistFn(ctx, id)
	}
	panic("unexpected call to MockStructureSource.Codelist")
}

// AvailableIndicators implements the interface method for testing.
func (m *MockStructureSource) AvailableIndicators(ctx context.Context, flow domain.DataflowDescriptor) ([]string, error) {
	if m.AvailableIndicatorsFn != nil {
		return m.AvailableIndicatorsFn(ctx, flow)
	}
	panic("unexpected call to MockStructureSource.AvailableIndicators")
}

// === Data Source Mock ===

// MockDataSource implements domain.DataSource for testing. Every call is
// recorded; it is safe for concurrent use when FetchPageFn is.
type MockDataSource struct {
	FetchPageFn func(ctx context.Context, q domain.DataQuery, page domain.PageRange) (*domain.DataPage, error)

	mu    sync.Mutex
	calls []domain.DataQuery
}

// FetchPage implements the interface method for testing.
func (m *MockDataSource) FetchPage(ctx context.Context, q domain.DataQuery, page domain.PageRange) (*domain.DataPage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, q)
	m.mu.Unlock()
	if m.FetchPageFn != nil {
		return m.FetchPageFn(ctx, q, page)
	}
	panic("unexpected call to MockDataSource.FetchPage")
}

// Calls returns every query seen so far, in call order.
func (m *MockDataSource) Calls() []domain.DataQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DataQuery(nil), m.calls...)
}

// CallsFor returns how many calls targeted the given dataflow.
func (m *MockDataSource) CallsFor(dataflow string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.calls {
		if q.Dataflow.ID == dataflow {
			n++
		}
	}
	return n
}

// === Scripted Data Source ===

// Step is one scripted FetchPage outcome.
type Step struct {
	Rows []domain.ObservationRow
	Next *domain.PageRange
	Err  error
	// Block waits for the request context to end and returns its error.
	Block bool
}

// ScriptedDataSource replays scripted steps per dataflow. Each call for a
// dataflow consumes the next step; the last step repeats once the script runs
// out. Dataflows without a script answer with a structural not-found.
type ScriptedDataSource struct {
	Steps map[string][]Step

	mu    sync.Mutex
	calls map[string]int
	pages map[string][]domain.PageRange
}

// FetchPage implements domain.DataSource.
func (s *ScriptedDataSource) FetchPage(ctx context.Context, q domain.DataQuery, page domain.PageRange) (*domain.DataPage, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
		s.pages = make(map[string][]domain.PageRange)
	}
	flow := q.Dataflow.ID
	n := s.calls[flow]
	s.calls[flow] = n + 1
	s.pages[flow] = append(s.pages[flow], page)
	steps := s.Steps[flow]
	s.mu.Unlock()

	if len(steps) == 0 {
		return nil, domain.ErrNotFound("%s: not found", flow)
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	step := steps[n]

	if step.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &domain.DataPage{Rows: step.Rows, Next: step.Next}, nil
}

// Calls returns how many FetchPage calls targeted dataflow.
func (s *ScriptedDataSource) Calls(dataflow string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[dataflow]
}

// Pages returns the page ranges requested from dataflow, in call order.
func (s *ScriptedDataSource) Pages(dataflow string) []domain.PageRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PageRange(nil), s.pages[dataflow]...)
}

// TransientErr is a retryable failure for scripted steps.
type TransientErr struct{ Msg string }

func (e *TransientErr) Error() string   { return e.Msg }
func (e *TransientErr) Transient() bool { return true }

// PermanentErr is a failure that is neither transient nor structural.
type PermanentErr struct{ Msg string }

func (e *PermanentErr) Error() string   { return e.Msg }
func (e *PermanentErr) Transient() bool { return false }

// === Snapshot Repository Mock ===

// MockSnapshotRepo implements domain.SnapshotRepository in memory.
type MockSnapshotRepo struct {
	SaveFn func(ctx context.Context, c *domain.Catalog) error
	LoadFn func(ctx context.Context) (*domain.Catalog, error)

	mu    sync.Mutex
	Saved []*domain.Catalog // collected saves for assertions
}

// Save implements the interface method for testing.
func (m *MockSnapshotRepo) Save(ctx context.Context, c *domain.Catalog) error {
	if m.SaveFn != nil {
		if err := m.SaveFn(ctx, c); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Saved = append(m.Saved, c)
	m.mu.Unlock()
	return nil
}

// Load implements the interface method for testing. Without LoadFn it returns
// the last saved catalog, or a not-found error.
func (m *MockSnapshotRepo) Load(ctx context.Context) (*domain.Catalog, error) {
	if m.LoadFn != nil {
		return m.LoadFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Saved) == 0 {
		return nil, domain.ErrNotFound("no snapshot saved")
	}
	return m.Saved[len(m.Saved)-1], nil
}

// SaveCount returns how many saves succeeded.
func (m *MockSnapshotRepo) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Saved)
}
