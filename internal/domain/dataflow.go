package domain

import "fmt"

// Reserved dimension identifiers shared by every dataflow.
const (
	DimRefArea    = "REF_AREA"
	DimIndicator  = "INDICATOR"
	DimTimePeriod = "TIME_PERIOD"
)

// Dimension is one positional dimension of a dataflow key.
type Dimension struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	// TotalCode is the code that aggregates the whole dimension (for example
	// "_T" for SEX). Empty when the dimension declares no total.
	TotalCode string `json:"total_code,omitempty"`
}

// DataflowDescriptor describes a named, versioned collection of observations.
type DataflowDescriptor struct {
	ID         string      `json:"id"`
	Agency     string      `json:"agency"`
	Version    string      `json:"version"`
	Name       string      `json:"name"`
	Dimensions []Dimension `json:"dimensions"`
	Attributes []string    `json:"attributes,omitempty"`
}

// Ref returns the agency,id,version triple used in data URLs.
func (d DataflowDescriptor) Ref() string {
	version := d.Version
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("%s,%s,%s", d.Agency, d.ID, version)
}

// Dimension returns the named dimension, if declared.
func (d DataflowDescriptor) Dimension(id string) (Dimension, bool) {
	for _, dim := range d.Dimensions {
		if dim.ID == id {
			return dim, true
		}
	}
	return Dimension{}, false
}

// HasDimension reports whether the dataflow declares the dimension.
func (d DataflowDescriptor) HasDimension(id string) bool {
	_, ok := d.Dimension(id)
	return ok
}

// Disaggregations returns the declared dimensions other than reference area,
// indicator and time, in key order.
func (d DataflowDescriptor) Disaggregations() []string {
	out := make([]string, 0, len(d.Dimensions))
	for _, dim := range d.Dimensions {
		switch dim.ID {
		case DimRefArea, DimIndicator, DimTimePeriod:
			continue
		}
		out = append(out, dim.ID)
	}
	return out
}

// FallbackSequence is the ordered list of dataflows tried for codes sharing a prefix.
// Sequences are constructed through NewFallbackSequence and are never empty
// and never contain the same dataflow twice.
type FallbackSequence struct {
	Prefix    string
	dataflows []string
}

// NewFallbackSequence builds a sequence, dropping blank and repeated ids while
// preserving first-seen order. It fails when nothing remains.
func NewFallbackSequence(prefix string, dataflows ...string) (FallbackSequence, error) {
	out := DedupeOrdered(dataflows)
	if len(out) == 0 {
		return FallbackSequence{}, ErrValidation("fallback sequence %q has no dataflows", prefix)
	}
	return FallbackSequence{Prefix: prefix, dataflows: out}, nil
}

// Dataflows returns a copy of the ordered dataflow ids.
func (s FallbackSequence) Dataflows() []string {
	return append([]string(nil), s.dataflows...)
}

// Len returns the number of dataflows in the sequence.
func (s FallbackSequence) Len() int { return len(s.dataflows) }

// DedupeOrdered returns ids with blanks and repeats removed, first occurrence wins.
func DedupeOrdered(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
