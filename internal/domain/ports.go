package domain

import "context"

// StructureSource reads structural metadata from the warehouse.
// Implemented by sdmx.Client.
type StructureSource interface {
	// SourceID identifies the endpoint (recorded in snapshot headers).
	SourceID() string
	// Dataflows lists every dataflow of the agency, without dimensions.
	Dataflows(ctx context.Context) ([]DataflowDescriptor, error)
	// DataStructure returns flow with its dimensions and attributes filled in.
	DataStructure(ctx context.Context, flow DataflowDescriptor) (DataflowDescriptor, error)
	// Codelist returns the entries of the named codelist.
	Codelist(ctx context.Context, id string) ([]CodeEntry, error)
	// AvailableIndicators returns the indicator codes that have reported
	// observations in flow.
	AvailableIndicators(ctx context.Context, flow DataflowDescriptor) ([]string, error)
}

// DataQuery is one dataflow-scoped request for observations.
type DataQuery struct {
	Dataflow  DataflowDescriptor
	Indicator string
	Countries []string
	StartYear int // 0 = unbounded
	EndYear   int // 0 = unbounded
	// Filters only reference dimensions the dataflow declares.
	Filters map[string][]string
}

// PageRange addresses a slice of a multi-page data response by value index.
type PageRange struct {
	Start int
	End   int // inclusive
}

// DataPage is one page of a data response.
type DataPage struct {
	Rows []ObservationRow
	Next *PageRange // nil on the last page
}

// DataSource reads observations from the warehouse.
// Implemented by sdmx.Client.
//
// FetchPage returns a *NotFoundError for a definitive structural not-found.
// Any other error is classified by IsTransient.
type DataSource interface {
	FetchPage(ctx context.Context, q DataQuery, page PageRange) (*DataPage, error)
}

// TransientError is implemented by errors that may succeed on retry.
type TransientError interface {
	error
	Transient() bool
}

// SnapshotRepository persists metadata snapshots.
// Implemented by repository.SnapshotRepo.
type SnapshotRepository interface {
	// Save atomically replaces the persisted snapshot.
	Save(ctx context.Context, c *Catalog) error
	// Load returns the persisted snapshot, or a *NotFoundError when none exists.
	Load(ctx context.Context) (*Catalog, error)
}
