package ui

import (
	"net/url"
	"strings"

	"statflow/internal/domain"

	. "maragu.dev/gomponents"
	data "maragu.dev/gomponents-datastar"
	. "maragu.dev/gomponents/html"
)

type indicatorRow struct {
	Code     string
	Name     string
	Category string
	Dataflow string
	Tier     domain.Tier
	URL      string
	Filter   string
}

func indicatorsListPage(header domain.SnapshotHeader, rows []indicatorRow, tier string) Node {
	if len(rows) == 0 && tier == "" {
		return appPage("Indicators", "indicators", header, emptyStateCard("The active snapshot has no indicators."))
	}

	tableRows := make([]Node, 0, len(rows))
	for _, row := range rows {
		tableRows = append(tableRows, Tr(
			data.Show(containsExpr(row.Filter)),
			Td(A(Href(row.URL), Code(Text(row.Code)))),
			Td(Text(row.Name)),
			Td(Text(orDash(row.Category))),
			Td(Text(orDash(row.Dataflow))),
			Td(tierLabel(row.Tier)),
		))
	}

	return appPage("Indicators", "indicators", header,
		quickFilterCard("Filter by code, name or category", tierSelect(tier)),
		table([]string{"Code", "Name", "Category", "Dataflow", "Tier"}, tableRows),
	)
}

// tierSelect narrows the list server side; the quick filter works on what is shown.
func tierSelect(selected string) Node {
	options := []Node{Option(Value(""), Text("All tiers"), If(selected == "", Selected()))}
	for _, t := range []domain.Tier{domain.TierVerified, domain.TierDefinedNoData, domain.TierLegacyUndocumented, domain.TierOrphan} {
		name := t.String()
		options = append(options, Option(Value(name), Text(name), If(selected == name, Selected())))
	}
	return Form(
		Method("get"),
		Action("/ui/indicators"),
		Class("row"),
		Select(Name("tier"), Class("form-control"), Group(options)),
		Button(Type("submit"), Class("btn"), Text("Apply")),
	)
}

type indicatorDetail struct {
	Code     string
	Meta     domain.IndicatorMetadata
	Known    bool
	Tier     domain.Tier
	Chain    []domain.DataflowDescriptor
	ErrorMsg string
}

func indicatorDetailPage(header domain.SnapshotHeader, d indicatorDetail) Node {
	title := d.Code
	if d.Meta.DisplayName != "" {
		title = d.Code + " · " + d.Meta.DisplayName
	}

	info := Div(
		Class(cardClass()),
		Dl(
			Dt(Text("Code")), Dd(Code(Text(d.Code))),
			Dt(Text("Tier")), Dd(tierLabel(d.Tier)),
			Dt(Text("In catalog")), Dd(Text(yesNo(d.Known))),
			Dt(Text("Category")), Dd(Text(orDash(d.Meta.Category))),
			Dt(Text("Dataflow hint")), Dd(Text(orDash(d.Meta.DataflowHint))),
			Dt(Text("Disaggregations")), Dd(Text(orDash(strings.Join(d.Meta.SupportedDisaggregations, ", ")))),
		),
		If(d.Meta.Description != "", P(Text(d.Meta.Description))),
	)

	var plan Node
	if d.ErrorMsg != "" {
		plan = Div(Class(cardClass()), statusLabel("not fetchable", "danger"), P(Text(d.ErrorMsg)))
	} else {
		steps := make([]Node, 0, len(d.Chain))
		for i, df := range d.Chain {
			role := "fallback"
			if i == 0 {
				role = "primary"
			}
			steps = append(steps, Li(
				A(Href("/ui/dataflows/"+url.PathEscape(df.ID)), Code(Text(df.ID))),
				Text(" "),
				statusLabel(role, ""),
				If(df.Name != "", Span(Class(mutedClass()), Text(" "+df.Name))),
			))
		}
		plan = Div(Class(cardClass()), Ol(Class("chain"), Group(steps)))
	}

	return appPage(title, "indicators", header,
		info,
		H2(Text("Fetch plan")),
		plan,
		P(A(Href("/ui/indicators"), Text("← All indicators"))),
	)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
