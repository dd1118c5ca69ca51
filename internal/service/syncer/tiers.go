package syncer

import (
	"sort"

	"statflow/internal/domain"
	"statflow/internal/metadata"
)

// inferIndicators builds the indicator catalog from the indicator codelist and
// the per-dataflow availability constraints:
//
//	observed and in the codelist        -> Verified
//	observed, not in the codelist       -> LegacyUndocumented
//	in the codelist, mapped, not seen   -> DefinedNoData
//	in the codelist, no dataflow known  -> Orphan
func (s *Service) inferIndicators(codes []domain.CodeEntry, flows []flowInfo) []domain.IndicatorMetadata {
	catchAll := s.fallbacks.CatchAll()
	descriptors := make(map[string]domain.DataflowDescriptor, len(flows))
	observedIn := make(map[string][]string)
	for _, f := range flows {
		descriptors[f.descriptor.ID] = f.descriptor
		for _, code := range f.available {
			observedIn[code] = append(observedIn[code], f.descriptor.ID)
		}
	}
	for code := range observedIn {
		sort.Strings(observedIn[code])
	}

	out := make([]domain.IndicatorMetadata, 0, len(codes)+len(observedIn))
	listed := make(map[string]bool, len(codes))
	for _, entry := range codes {
		if entry.ID == "" || listed[entry.ID] {
			continue
		}
		listed[entry.ID] = true

		m := domain.IndicatorMetadata{
			Code:        entry.ID,
			DisplayName: entry.Name,
			Description: entry.Description,
			Category:    category(entry),
		}
		if flowsFor := observedIn[entry.ID]; len(flowsFor) > 0 {
			m.Tier = domain.TierVerified
			m.DataflowHint = hintFrom(flowsFor, catchAll)
		} else if hint, ok := s.mappedDataflow(entry.ID, descriptors); ok {
			m.Tier = domain.TierDefinedNoData
			m.DataflowHint = hint
		} else {
			m.Tier = domain.TierOrphan
		}
		if df, ok := descriptors[m.DataflowHint]; ok {
			m.SupportedDisaggregations = df.Disaggregations()
		}
		out = append(out, m)
	}

	for code, flowsFor := range observedIn {
		if listed[code] {
			continue
		}
		m := domain.IndicatorMetadata{
			Code:         code,
			DisplayName:  code,
			Category:     metadata.Prefix(code),
			Tier:         domain.TierLegacyUndocumented,
			DataflowHint: hintFrom(flowsFor, catchAll),
		}
		if df, ok := descriptors[m.DataflowHint]; ok {
			m.SupportedDisaggregations = df.Disaggregations()
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// hintFrom picks the first observing dataflow, preferring anything over the
// catch-all.
func hintFrom(flows []string, catchAll string) string {
	for _, id := range flows {
		if id != catchAll {
			return id
		}
	}
	return flows[0]
}

// mappedDataflow finds a dataflow for a code with no observations: the first
// known dataflow of its prefix sequence (catch-all excluded), or a dataflow
// named exactly like the prefix.
func (s *Service) mappedDataflow(code string, known map[string]domain.DataflowDescriptor) (string, bool) {
	prefix := metadata.Prefix(code)
	if seq, ok := s.fallbacks.Sequence(prefix); ok {
		for _, id := range seq.Dataflows() {
			if id == s.fallbacks.CatchAll() {
				continue
			}
			if _, ok := known[id]; ok {
				return id, true
			}
		}
	}
	if _, ok := known[prefix]; ok && prefix != s.fallbacks.CatchAll() {
		return prefix, true
	}
	return "", false
}

func category(e domain.CodeEntry) string {
	if e.Parent != "" {
		return e.Parent
	}
	return metadata.Prefix(e.ID)
}
