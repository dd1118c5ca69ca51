package metadata

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statflow/internal/domain"
)

func testCatalog() *domain.Catalog {
	return &domain.Catalog{
		Header: domain.SnapshotHeader{FormatVersion: domain.SnapshotFormatVersion, SyncID: "s1"},
		Indicators: []domain.IndicatorMetadata{
			{Code: "CME_MRY0T4", DisplayName: "Under-five mortality rate", Category: "CME", DataflowHint: "CME", Tier: domain.TierVerified},
			{Code: "XX_CUSTOM", DisplayName: "Custom", Category: "Custom", DataflowHint: "CUSTOM_FLOW", Tier: domain.TierDefinedNoData},
			{Code: "ZZ_GHOST", DisplayName: "Ghost", Tier: domain.TierOrphan},
			{Code: "NUTRITION", DisplayName: "Nutrition domain", Tier: domain.TierDefinedNoData},
		},
		Dataflows: []domain.DataflowDescriptor{
			{ID: "CME", Agency: "UNICEF", Version: "1.0"},
			{ID: "NUTRITION", Agency: "UNICEF", Version: "1.0"},
			{ID: "CUSTOM_FLOW", Agency: "UNICEF", Version: "1.0"},
		},
		Countries: []domain.CodeEntry{{ID: "USA", Name: "United States"}},
		Regions:   []domain.CodeEntry{{ID: "UNICEF_LAC", Name: "Latin America and the Caribbean"}},
	}
}

func mustDefaultTable(t *testing.T) *FallbackTable {
	t.Helper()
	table, err := DefaultFallbackTable()
	require.NoError(t, err)
	return table
}

func TestNewSnapshot_RejectsDuplicates(t *testing.T) {
	table := mustDefaultTable(t)

	c := testCatalog()
	c.Indicators = append(c.Indicators, domain.IndicatorMetadata{Code: "CME_MRY0T4"})
	_, err := NewSnapshot(c, table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate indicator")

	c = testCatalog()
	c.Dataflows = append(c.Dataflows, domain.DataflowDescriptor{ID: "CME"})
	_, err = NewSnapshot(c, table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate dataflow")
}

func TestSnapshot_Lookup(t *testing.T) {
	s, err := NewSnapshot(testCatalog(), mustDefaultTable(t))
	require.NoError(t, err)

	m, err := s.Lookup("CME_MRY0T4")
	require.NoError(t, err)
	assert.Equal(t, "CME", m.DataflowHint)

	_, err = s.Lookup("NOPE")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestSnapshot_FallbackSequenceFor(t *testing.T) {
	s, err := NewSnapshot(testCatalog(), mustDefaultTable(t))
	require.NoError(t, err)

	tests := []struct {
		name string
		code string
		want []string
	}{
		{name: "explicit prefix", code: "CME_MRY0T4", want: []string{"CME", "CME_SUBNAT", "GLOBAL_DATAFLOW"}},
		{name: "explicit prefix unknown code", code: "NT_ANT_HAZ_NE2", want: []string{"NUTRITION", "GLOBAL_DATAFLOW"}},
		{name: "synthesized from hint", code: "XX_CUSTOM", want: []string{"CUSTOM_FLOW", "GLOBAL_DATAFLOW"}},
		{name: "synthesized without hint", code: "QQ_UNKNOWN", want: []string{"GLOBAL_DATAFLOW"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.FallbackSequenceFor(tt.code).Dataflows())
		})
	}
}

func TestSnapshot_FallbackSequencesNeverEmptyOrDuplicated(t *testing.T) {
	table, err := NewFallbackTable("GLOBAL_DATAFLOW", map[string][]string{
		"AA": {"A1", "A1", "GLOBAL_DATAFLOW", "A2", "GLOBAL_DATAFLOW"},
		"BB": {"GLOBAL_DATAFLOW"},
	})
	require.NoError(t, err)

	c := testCatalog()
	c.Indicators = append(c.Indicators,
		domain.IndicatorMetadata{Code: "CC_HINT_IS_CATCHALL", DataflowHint: "GLOBAL_DATAFLOW"},
	)
	s, err := NewSnapshot(c, table)
	require.NoError(t, err)

	codes := []string{"AA_1", "BB_2", "CC_HINT_IS_CATCHALL", "CME_MRY0T4", "XX_CUSTOM", "", "_", "plain"}
	for _, code := range codes {
		seq := s.FallbackSequenceFor(code).Dataflows()
		require.NotEmpty(t, seq, code)

		seen := map[string]bool{}
		for _, id := range seq {
			assert.False(t, seen[id], "code %q repeats dataflow %q in %v", code, id, seq)
			seen[id] = true
		}
	}
	assert.Equal(t, []string{"A1", "GLOBAL_DATAFLOW", "A2"}, s.FallbackSequenceFor("AA_1").Dataflows())
}

func TestSnapshot_IsDomainPlaceholder(t *testing.T) {
	s, err := NewSnapshot(testCatalog(), mustDefaultTable(t))
	require.NoError(t, err)

	tests := []struct {
		code string
		want bool
	}{
		{"CME_MRY0T4", false},
		{"NT_ANT_HAZ_NE2", false},
		{"NUTRITION", true},       // dataflow id, not a verified indicator
		{"cme", true},             // dataflow id, case-insensitive
		{"Custom", true},          // indicator category
		{"GLOBAL_DATAFLOW", true}, // catch-all
		{"WS", true},              // fallback prefix
		{"WASH_SCHOOLS", true},    // dataflow named only by the fallback table
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.IsDomainPlaceholder(tt.code), tt.code)
	}
}

func TestRegistry_SwapKeepsReadersConsistent(t *testing.T) {
	table := mustDefaultTable(t)
	first, err := NewSnapshot(testCatalog(), table)
	require.NoError(t, err)

	reg := NewRegistry(first)
	held := reg.Current()

	second := EmptySnapshot(table)
	prev := reg.Swap(second)

	assert.Same(t, first, prev)
	assert.Same(t, second, reg.Current())

	// A reader that took the pointer before the swap still sees the old catalog.
	_, err = held.Lookup("CME_MRY0T4")
	assert.NoError(t, err)
	_, err = reg.Current().Lookup("CME_MRY0T4")
	assert.Error(t, err)
}

func TestRegistry_ConcurrentReadsDuringSwap(t *testing.T) {
	table := mustDefaultTable(t)
	a, err := NewSnapshot(testCatalog(), table)
	require.NoError(t, err)
	b := EmptySnapshot(table)
	reg := NewRegistry(a)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s := reg.Current()
				assert.NotNil(t, s)
				_ = s.FallbackSequenceFor("CME_MRY0T4")
			}
		}()
	}
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			reg.Swap(b)
		} else {
			reg.Swap(a)
		}
	}
	wg.Wait()
}
