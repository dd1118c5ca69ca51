// Package resolver turns indicator codes into ordered dataflow plans using a
// metadata snapshot. It never touches the network.
package resolver

import (
	"errors"
	"sort"
	"strings"

	"statflow/internal/domain"
	"statflow/internal/metadata"
)

// Plan is the resolution of one indicator code.
type Plan struct {
	Code      string
	Primary   domain.DataflowDescriptor
	Fallbacks []domain.DataflowDescriptor // excludes Primary
	Tier      domain.Tier
	// Known is false when the code is absent from the catalog and was
	// resolved through its prefix alone.
	Known    bool
	Metadata domain.IndicatorMetadata
}

// Chain returns the primary followed by the fallbacks.
func (p Plan) Chain() []domain.DataflowDescriptor {
	out := make([]domain.DataflowDescriptor, 0, 1+len(p.Fallbacks))
	out = append(out, p.Primary)
	return append(out, p.Fallbacks...)
}

// ChainIDs returns the dataflow ids of Chain.
func (p Plan) ChainIDs() []string {
	chain := p.Chain()
	ids := make([]string, len(chain))
	for i, df := range chain {
		ids[i] = df.ID
	}
	return ids
}

// Priority returns the position of dataflow in the chain, or the chain length
// when it is not part of it.
func (p Plan) Priority(dataflow string) int {
	for i, id := range p.ChainIDs() {
		if id == dataflow {
			return i
		}
	}
	return len(p.Fallbacks) + 1
}

// Resolve builds the plan for code. Orphan codes and domain placeholders
// (codes naming a dataflow, category or fallback prefix) fail with a
// *domain.NotFoundError.
func Resolve(snap *metadata.Snapshot, code string) (Plan, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Plan{}, domain.ErrValidation("indicator code must not be blank")
	}

	meta, err := snap.Lookup(code)
	known := err == nil
	if !known {
		meta = domain.IndicatorMetadata{Code: code, DisplayName: code, Tier: domain.TierLegacyUndocumented}
	}

	if snap.IsDomainPlaceholder(code) {
		return Plan{}, domain.ErrNotFound("%s names a dataflow or indicator group, not an indicator", code)
	}

	switch meta.Tier {
	case domain.TierOrphan:
		return Plan{}, domain.ErrNotFound("%s has no dataflow mapping", code)
	case domain.TierVerified, domain.TierDefinedNoData, domain.TierLegacyUndocumented:
	default:
		return Plan{}, domain.ErrNotFound("%s has unknown tier %s", code, meta.Tier)
	}

	ids := snap.FallbackSequenceFor(code).Dataflows()
	if hint := meta.DataflowHint; hint != "" && meta.Tier != domain.TierDefinedNoData && !containsID(ids, hint) {
		// Observed evidence outranks the prefix table.
		ids = append([]string{hint}, ids...)
	}

	chain := make([]domain.DataflowDescriptor, len(ids))
	for i, id := range ids {
		if df, ok := snap.Dataflow(id); ok {
			chain[i] = df
		} else {
			chain[i] = domain.DataflowDescriptor{ID: id}
		}
	}

	return Plan{
		Code:      code,
		Primary:   chain[0],
		Fallbacks: chain[1:],
		Tier:      meta.Tier,
		Known:     known,
		Metadata:  meta,
	}, nil
}

// Resolution is the per-code result inside a BatchPlan.
type Resolution struct {
	Code string
	Plan Plan
	Err  error // non-nil when the code could not be resolved
}

// BatchPlan resolves several codes for one query.
type BatchPlan struct {
	Resolutions []Resolution
	// CommonDimensions are disaggregation dimensions declared by every
	// resolved plan; SpecificDimensions lists the rest per code.
	CommonDimensions   []string
	SpecificDimensions map[string][]string
	// TotalCodes maps a dimension to its declared aggregate code.
	TotalCodes map[string]string
}

// Plans returns the successful resolutions in request order.
func (b *BatchPlan) Plans() []Plan {
	out := make([]Plan, 0, len(b.Resolutions))
	for _, r := range b.Resolutions {
		if r.Err == nil {
			out = append(out, r.Plan)
		}
	}
	return out
}

// ResolveBatch resolves codes against one snapshot. Per-code resolution
// failures are kept in the batch. filterDims are the disaggregation
// dimensions the query filters on: each must be declared by at least one
// known candidate dataflow, or the batch fails with a *domain.ValidationError.
func ResolveBatch(snap *metadata.Snapshot, codes []string, filterDims []string) (*BatchPlan, error) {
	batch := &BatchPlan{
		SpecificDimensions: make(map[string][]string),
		TotalCodes:         make(map[string]string),
	}

	declared := make(map[string]bool)
	knownFlows := 0
	var perPlan []map[string]bool
	var planCodes []string

	for _, code := range codes {
		plan, err := Resolve(snap, code)
		if err != nil {
			var invalid *domain.ValidationError
			if errors.As(err, &invalid) {
				return nil, err
			}
			batch.Resolutions = append(batch.Resolutions, Resolution{Code: code, Err: err})
			continue
		}
		batch.Resolutions = append(batch.Resolutions, Resolution{Code: plan.Code, Plan: plan})

		dims := make(map[string]bool)
		for _, df := range plan.Chain() {
			if len(df.Dimensions) == 0 {
				continue
			}
			knownFlows++
			for _, d := range df.Dimensions {
				declared[d.ID] = true
				if d.TotalCode != "" {
					if _, seen := batch.TotalCodes[d.ID]; !seen {
						batch.TotalCodes[d.ID] = d.TotalCode
					}
				}
			}
			for _, d := range df.Disaggregations() {
				dims[d] = true
			}
		}
		for _, d := range plan.Metadata.SupportedDisaggregations {
			dims[d] = true
		}
		perPlan = append(perPlan, dims)
		planCodes = append(planCodes, plan.Code)
	}

	if knownFlows > 0 {
		for _, dim := range filterDims {
			if !declared[dim] {
				return nil, domain.ErrValidation("no candidate dataflow declares dimension %s", dim)
			}
		}
	}

	batch.CommonDimensions = intersect(perPlan)
	common := make(map[string]bool, len(batch.CommonDimensions))
	for _, d := range batch.CommonDimensions {
		common[d] = true
	}
	for i, dims := range perPlan {
		var specific []string
		for d := range dims {
			if !common[d] {
				specific = append(specific, d)
			}
		}
		sort.Strings(specific)
		if len(specific) > 0 {
			batch.SpecificDimensions[planCodes[i]] = specific
		}
	}
	return batch, nil
}

func intersect(sets []map[string]bool) []string {
	if len(sets) == 0 {
		return nil
	}
	var out []string
	for d := range sets[0] {
		inAll := true
		for _, s := range sets[1:] {
			if !s[d] {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
