package domain

import "time"

// SnapshotFormatVersion is the schema version written into persisted snapshots.
// Record counts may grow freely without bumping it.
const SnapshotFormatVersion = 1

// Snapshot record categories.
const (
	CategoryIndicators = "indicators"
	CategoryDataflows  = "dataflows"
	CategoryCountries  = "countries"
	CategoryRegions    = "regions"
)

// SnapshotHeader describes a persisted metadata snapshot.
type SnapshotHeader struct {
	FormatVersion int            `json:"format_version"`
	SyncID        string         `json:"sync_id"`
	SyncedAt      time.Time      `json:"synced_at"`
	Source        string         `json:"source"`
	Counts        map[string]int `json:"counts"`
}

// Catalog is the full record set of one metadata snapshot, as persisted.
type Catalog struct {
	Header     SnapshotHeader
	Indicators []IndicatorMetadata
	Dataflows  []DataflowDescriptor
	Countries  []CodeEntry
	Regions    []CodeEntry
}

// RecountHeader sets the per-category counts from the record lists.
func (c *Catalog) RecountHeader() {
	c.Header.Counts = map[string]int{
		CategoryIndicators: len(c.Indicators),
		CategoryDataflows:  len(c.Dataflows),
		CategoryCountries:  len(c.Countries),
		CategoryRegions:    len(c.Regions),
	}
}
