// Package metadata holds the immutable, queryable index over one metadata
// snapshot and the registry that swaps snapshots atomically.
package metadata

import (
	"sort"
	"strings"
	"sync/atomic"

	"statflow/internal/domain"
)

// Snapshot is an immutable index over one catalog. It is safe for unlimited
// concurrent readers; nothing mutates it after NewSnapshot returns.
type Snapshot struct {
	catalog    *domain.Catalog
	fallbacks  *FallbackTable
	indicators map[string]domain.IndicatorMetadata
	dataflows  map[string]domain.DataflowDescriptor
	categories map[string]bool
}

// NewSnapshot indexes c. It rejects duplicate indicator codes and dataflow ids.
// The snapshot takes ownership of c; callers must not modify it afterwards.
func NewSnapshot(c *domain.Catalog, fallbacks *FallbackTable) (*Snapshot, error) {
	if c == nil {
		c = &domain.Catalog{}
	}
	if fallbacks == nil {
		return nil, domain.ErrValidation("snapshot requires a fallback table")
	}

	s := &Snapshot{
		catalog:    c,
		fallbacks:  fallbacks,
		indicators: make(map[string]domain.IndicatorMetadata, len(c.Indicators)),
		dataflows:  make(map[string]domain.DataflowDescriptor, len(c.Dataflows)),
		categories: make(map[string]bool),
	}

	for _, ind := range c.Indicators {
		if _, dup := s.indicators[ind.Code]; dup {
			return nil, domain.ErrValidation("duplicate indicator code %q in snapshot", ind.Code)
		}
		s.indicators[ind.Code] = ind
		if ind.Category != "" {
			s.categories[strings.ToUpper(ind.Category)] = true
		}
	}
	for _, df := range c.Dataflows {
		if _, dup := s.dataflows[df.ID]; dup {
			return nil, domain.ErrValidation("duplicate dataflow %q in snapshot", df.ID)
		}
		s.dataflows[df.ID] = df
	}
	return s, nil
}

// EmptySnapshot returns a snapshot with no catalog records. Resolution still
// works through the fallback table.
func EmptySnapshot(fallbacks *FallbackTable) *Snapshot {
	s, _ := NewSnapshot(&domain.Catalog{}, fallbacks)
	return s
}

// Header returns the snapshot header.
func (s *Snapshot) Header() domain.SnapshotHeader { return s.catalog.Header }

// Catalog returns the underlying records. Callers must treat it as read-only.
func (s *Snapshot) Catalog() *domain.Catalog { return s.catalog }

// Fallbacks returns the fallback table the snapshot resolves with.
func (s *Snapshot) Fallbacks() *FallbackTable { return s.fallbacks }

// Lookup returns the metadata for code, or a *domain.NotFoundError.
func (s *Snapshot) Lookup(code string) (domain.IndicatorMetadata, error) {
	if m, ok := s.indicators[code]; ok {
		return m, nil
	}
	return domain.IndicatorMetadata{}, domain.ErrNotFound("indicator %q not in catalog", code)
}

// Dataflow returns the descriptor for id, if the snapshot knows it.
func (s *Snapshot) Dataflow(id string) (domain.DataflowDescriptor, bool) {
	df, ok := s.dataflows[id]
	return df, ok
}

// Indicators returns every indicator sorted by code.
func (s *Snapshot) Indicators() []domain.IndicatorMetadata {
	out := make([]domain.IndicatorMetadata, 0, len(s.indicators))
	for _, m := range s.indicators {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// FallbackSequenceFor returns the dataflows to try for code. The explicit
// sequence for the code's prefix wins; otherwise a sequence is synthesized from
// the code's dataflow hint followed by the catch-all dataflow.
func (s *Snapshot) FallbackSequenceFor(code string) domain.FallbackSequence {
	prefix := Prefix(code)
	if seq, ok := s.fallbacks.Sequence(prefix); ok {
		return seq
	}
	var hint string
	if m, ok := s.indicators[code]; ok {
		hint = m.DataflowHint
	}
	// The catch-all is never blank, so construction cannot fail.
	seq, _ := domain.NewFallbackSequence(prefix, hint, s.fallbacks.CatchAll())
	return seq
}

// IsDomainPlaceholder reports whether code names a dataflow, an indicator
// category or a fallback prefix rather than a real indicator. Verified
// indicators are never placeholders.
func (s *Snapshot) IsDomainPlaceholder(code string) bool {
	if m, ok := s.indicators[code]; ok && m.Tier == domain.TierVerified {
		return false
	}
	upper := strings.ToUpper(strings.TrimSpace(code))
	if _, ok := s.dataflows[upper]; ok {
		return true
	}
	if s.categories[upper] {
		return true
	}
	if upper == strings.ToUpper(s.fallbacks.CatchAll()) {
		return true
	}
	if _, ok := s.fallbacks.Sequence(upper); ok {
		return true
	}
	for _, id := range s.fallbacks.Dataflows() {
		if strings.EqualFold(id, upper) {
			return true
		}
	}
	return false
}

// Registry holds the active snapshot. Readers take the pointer once per call
// and keep a consistent view while a reload swaps in a replacement.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry holding initial, which must not be nil.
func NewRegistry(initial *Snapshot) *Registry {
	r := &Registry{}
	r.current.Store(initial)
	return r
}

// Current returns the active snapshot.
func (r *Registry) Current() *Snapshot { return r.current.Load() }

// Swap installs s as the active snapshot and returns the previous one.
func (r *Registry) Swap(s *Snapshot) *Snapshot { return r.current.Swap(s) }
