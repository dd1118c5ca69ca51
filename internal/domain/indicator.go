package domain

import "fmt"

// Tier classifies how much confidence the catalog has in an indicator code.
type Tier int

const (
	// TierVerified codes map to a dataflow that has reported observations for them.
	TierVerified Tier = iota + 1
	// TierDefinedNoData codes map to a dataflow but have never yielded observations.
	TierDefinedNoData
	// TierLegacyUndocumented codes yield observations but are absent from the indicator codelist.
	TierLegacyUndocumented
	// TierOrphan codes have no dataflow mapping at all. They are never sent to the data endpoint.
	TierOrphan
)

var tierNames = map[Tier]string{
	TierVerified:           "verified",
	TierDefinedNoData:      "defined_no_data",
	TierLegacyUndocumented: "legacy_undocumented",
	TierOrphan:             "orphan",
}

func (t Tier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Fetchable reports whether codes of this tier may be sent to the data endpoint.
func (t Tier) Fetchable() bool {
	switch t {
	case TierVerified, TierDefinedNoData, TierLegacyUndocumented:
		return true
	case TierOrphan:
		return false
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	if _, ok := tierNames[t]; !ok {
		return nil, fmt.Errorf("unknown tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier parses the persisted name of a tier.
func ParseTier(s string) (Tier, error) {
	for t, name := range tierNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// IndicatorMetadata describes one indicator code in the catalog.
type IndicatorMetadata struct {
	Code                     string   `json:"code"`
	DisplayName              string   `json:"display_name"`
	Description              string   `json:"description,omitempty"`
	Category                 string   `json:"category,omitempty"`
	DataflowHint             string   `json:"dataflow_hint,omitempty"`
	Tier                     Tier     `json:"tier"`
	SupportedDisaggregations []string `json:"supported_disaggregations,omitempty"`
}

// CodeEntry is one entry of a structural codelist (indicators, countries, regions).
type CodeEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parent      string `json:"parent,omitempty"`
}
