package ui

import (
	"strconv"
	"strings"

	"statflow/internal/domain"

	. "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"
)

type overviewData struct {
	Header    domain.SnapshotHeader
	Loaded    *bool  // nil before the first sync or load
	Duration  string // empty for snapshots loaded from disk
	Fallbacks []fallbackRow
}

type fallbackRow struct {
	Prefix string
	Chain  []string
}

func overviewPage(d overviewData) Node {
	if d.Header.SyncID == "" {
		return appPage("Overview", "home", d.Header,
			emptyStateCard("No metadata snapshot is active yet. Run a sync to populate the catalog."))
	}

	counts := make([]Node, 0, len(d.Header.Counts))
	for _, category := range sortedKeys(d.Header.Counts) {
		counts = append(counts, Div(
			Class(cardClass()),
			P(Class(mutedClass()), Text(category)),
			Div(Class("stat"), Text(strconv.Itoa(d.Header.Counts[category]))),
		))
	}

	origin := "-"
	if d.Loaded != nil {
		origin = "fresh sync"
		if *d.Loaded {
			origin = "loaded from disk"
		}
	}

	fallbackRows := make([]Node, 0, len(d.Fallbacks))
	for _, f := range d.Fallbacks {
		fallbackRows = append(fallbackRows, Tr(Td(Code(Text(f.Prefix))), Td(Text(strings.Join(f.Chain, " → ")))))
	}

	return appPage("Overview", "home", d.Header,
		Div(Class("grid"), Group(counts)),
		Div(
			Class(cardClass()),
			Dl(
				Dt(Text("Sync ID")), Dd(Code(Text(d.Header.SyncID))),
				Dt(Text("Synced at")), Dd(Text(formatTime(d.Header.SyncedAt))),
				Dt(Text("Source")), Dd(Text(orDash(d.Header.Source))),
				Dt(Text("Format version")), Dd(Text(strconv.Itoa(d.Header.FormatVersion))),
				Dt(Text("Origin")), Dd(Text(origin)),
				If(d.Duration != "", Group([]Node{Dt(Text("Sync duration")), Dd(Text(d.Duration))})),
			),
		),
		H2(Text("Fallback chains")),
		table([]string{"Prefix", "Dataflows"}, fallbackRows),
	)
}
