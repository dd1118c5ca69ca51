package ui

import (
	"net/url"
	"strconv"
	"strings"

	"statflow/internal/domain"

	. "maragu.dev/gomponents"
	data "maragu.dev/gomponents-datastar"
	. "maragu.dev/gomponents/html"
)

func dataflowsListPage(header domain.SnapshotHeader, flows []domain.DataflowDescriptor, indicatorCounts map[string]int) Node {
	if len(flows) == 0 {
		return appPage("Dataflows", "dataflows", header, emptyStateCard("The active snapshot has no dataflows."))
	}

	rows := make([]Node, 0, len(flows))
	for _, df := range flows {
		dims := make([]string, 0, len(df.Dimensions))
		for _, d := range df.Dimensions {
			dims = append(dims, d.ID)
		}
		rows = append(rows, Tr(
			data.Show(containsExpr(df.ID+" "+df.Name)),
			Td(A(Href("/ui/dataflows/"+url.PathEscape(df.ID)), Code(Text(df.ID)))),
			Td(Text(orDash(df.Name))),
			Td(Text(df.Ref())),
			Td(Text(strings.Join(dims, ", "))),
			Td(Text(strconv.Itoa(indicatorCounts[df.ID]))),
		))
	}
	return appPage("Dataflows", "dataflows", header,
		quickFilterCard("Filter by dataflow id or name"),
		table([]string{"ID", "Name", "Reference", "Dimensions", "Indicators"}, rows),
	)
}

func dataflowDetailPage(header domain.SnapshotHeader, df domain.DataflowDescriptor, indicators []indicatorRow) Node {
	dimRows := make([]Node, 0, len(df.Dimensions))
	for _, d := range df.Dimensions {
		dimRows = append(dimRows, Tr(
			Td(Text(strconv.Itoa(d.Position))),
			Td(Code(Text(d.ID))),
			Td(Text(orDash(d.TotalCode))),
		))
	}

	indRows := make([]Node, 0, len(indicators))
	for _, row := range indicators {
		indRows = append(indRows, Tr(
			Td(A(Href(row.URL), Code(Text(row.Code)))),
			Td(Text(row.Name)),
			Td(tierLabel(row.Tier)),
		))
	}

	return appPage(df.ID, "dataflows", header,
		Div(
			Class(cardClass()),
			Dl(
				Dt(Text("Name")), Dd(Text(orDash(df.Name))),
				Dt(Text("Reference")), Dd(Code(Text(df.Ref()))),
				Dt(Text("Attributes")), Dd(Text(orDash(strings.Join(df.Attributes, ", ")))),
			),
		),
		H2(Text("Dimensions")),
		table([]string{"Position", "Dimension", "Total code"}, dimRows),
		H2(Text("Indicators")),
		If(len(indRows) == 0, emptyStateCard("No catalog indicator names this dataflow.")),
		If(len(indRows) > 0, table([]string{"Code", "Name", "Tier"}, indRows)),
	)
}
