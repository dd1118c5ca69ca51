package metadata

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"statflow/internal/domain"
)

//go:embed fallbacks.yaml
var defaultFallbacks []byte

// FallbackTable maps code prefixes to fallback sequences. It is immutable once
// built and shared by every snapshot that references it.
type FallbackTable struct {
	catchAll  string
	sequences map[string]domain.FallbackSequence
}

type fallbackFile struct {
	CatchAll  string              `yaml:"catch_all"`
	Sequences map[string][]string `yaml:"sequences"`
}

// ParseFallbackTable parses a YAML fallback table. Empty sequences are rejected;
// repeated dataflows within a sequence are collapsed keeping the first position.
func ParseFallbackTable(data []byte) (*FallbackTable, error) {
	var f fallbackFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fallback table: %w", err)
	}
	return NewFallbackTable(f.CatchAll, f.Sequences)
}

// NewFallbackTable builds a table from prefix -> dataflow lists.
func NewFallbackTable(catchAll string, sequences map[string][]string) (*FallbackTable, error) {
	catchAll = strings.TrimSpace(catchAll)
	if catchAll == "" {
		return nil, domain.ErrValidation("fallback table has no catch-all dataflow")
	}
	t := &FallbackTable{
		catchAll:  catchAll,
		sequences: make(map[string]domain.FallbackSequence, len(sequences)),
	}
	for prefix, ids := range sequences {
		prefix = strings.ToUpper(strings.TrimSpace(prefix))
		if prefix == "" {
			return nil, domain.ErrValidation("fallback table has a blank prefix")
		}
		if _, dup := t.sequences[prefix]; dup {
			return nil, domain.ErrValidation("fallback prefix %q declared twice", prefix)
		}
		seq, err := domain.NewFallbackSequence(prefix, trimAll(ids)...)
		if err != nil {
			return nil, err
		}
		t.sequences[prefix] = seq
	}
	return t, nil
}

// DefaultFallbackTable returns the table compiled into the binary.
func DefaultFallbackTable() (*FallbackTable, error) {
	return ParseFallbackTable(defaultFallbacks)
}

// LoadFallbackTable reads a table from path, or returns the default table when path is empty.
// A non-empty catchAll overrides the catch-all declared in the file.
func LoadFallbackTable(path, catchAll string) (*FallbackTable, error) {
	data := defaultFallbacks
	if path != "" {
		b, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read fallback table: %w", err)
		}
		data = b
	}
	t, err := ParseFallbackTable(data)
	if err != nil {
		return nil, err
	}
	if catchAll != "" && catchAll != t.catchAll {
		raw := make(map[string][]string, len(t.sequences))
		for p, s := range t.sequences {
			raw[p] = s.Dataflows()
		}
		return NewFallbackTable(catchAll, raw)
	}
	return t, nil
}

// CatchAll returns the universal catch-all dataflow.
func (t *FallbackTable) CatchAll() string { return t.catchAll }

// Sequence returns the explicit sequence for prefix.
func (t *FallbackTable) Sequence(prefix string) (domain.FallbackSequence, bool) {
	s, ok := t.sequences[prefix]
	return s, ok
}

// Prefixes returns every declared prefix, sorted.
func (t *FallbackTable) Prefixes() []string {
	out := make([]string, 0, len(t.sequences))
	for p := range t.sequences {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Dataflows returns every dataflow referenced by any sequence, sorted.
func (t *FallbackTable) Dataflows() []string {
	seen := map[string]bool{t.catchAll: true}
	for _, s := range t.sequences {
		for _, id := range s.Dataflows() {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Prefix returns the part of code before its first underscore, upper-cased.
// Codes without an underscore are their own prefix.
func Prefix(code string) string {
	head, _, _ := strings.Cut(strings.TrimSpace(code), "_")
	return strings.ToUpper(head)
}

func trimAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strings.TrimSpace(id)
	}
	return out
}
