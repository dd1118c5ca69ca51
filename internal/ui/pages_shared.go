package ui

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"statflow/internal/domain"

	. "maragu.dev/gomponents"
	data "maragu.dev/gomponents-datastar"
	. "maragu.dev/gomponents/html"
)

type navItem struct {
	Label string
	Href  string
	Key   string
}

var navItems = []navItem{
	{Label: "Overview", Href: "/ui", Key: "home"},
	{Label: "Indicators", Href: "/ui/indicators", Key: "indicators"},
	{Label: "Dataflows", Href: "/ui/dataflows", Key: "dataflows"},
}

func pageHead(title string, withDatastar bool) Node {
	return Head(
		Meta(Charset("utf-8")),
		Meta(Name("viewport"), Content("width=device-width, initial-scale=1")),
		TitleEl(Text(title+" | statflow")),
		Link(Rel("icon"), Href("data:,")),
		StyleEl(Raw(appCSS)),
		Script(Raw(themeInitScript)),
		If(withDatastar, Script(
			Type("module"),
			Src("https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.7/bundles/datastar.js"),
		)),
	)
}

func appPage(title, active string, header domain.SnapshotHeader, body ...Node) Node {
	nav := make([]Node, 0, len(navItems))
	for _, item := range navItems {
		className := "app-nav-link"
		if item.Key == active {
			className += " active"
		}
		nav = append(nav, A(Href(item.Href), Class(className), Text(item.Label)))
	}

	snapshot := "no snapshot loaded"
	if header.SyncID != "" {
		snapshot = "snapshot " + shortID(header.SyncID) + " synced " + formatTime(header.SyncedAt)
	}

	return HTML(
		Lang("en"),
		Attr("data-color-mode", "auto"),
		pageHead(title, true),
		Body(
			Main(Class("app-shell"),
				Aside(
					Class("app-sidebar"),
					Div(
						Class("brand"),
						Strong(Text("statflow")),
						P(Class(mutedClass()), Text("Indicator metadata browser")),
					),
					Nav(Class("app-nav"), Group(nav)),
				),
				Section(
					Class("app-main"),
					Div(
						Class("topbar"),
						H1(Class("page-title"), Text(title)),
						Div(
							P(Class(mutedClass()), Text(snapshot)),
							Button(Type("button"), Class("btn btn-sm"), ID("theme-toggle"), Text("Theme")),
						),
					),
					Div(Class("content"), Group(body)),
				),
			),
			Script(Raw(themeBehaviorScript)),
		),
	)
}

func errorPage(title, message string) Node {
	return HTML(
		Lang("en"),
		Attr("data-color-mode", "auto"),
		pageHead(title, false),
		Body(
			Main(
				Class("layout"),
				H1(Class("page-title"), Text(title)),
				P(Text(message)),
				P(A(Href("/ui"), Text("Back to overview"))),
			),
		),
	)
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsExpr(value string) string {
	lower := strings.ToLower(value)
	return "$q === '' || " + strconv.Quote(lower) + ".includes($q.toLowerCase())"
}

func cardClass(extra ...string) string {
	parts := []string{"card"}
	parts = append(parts, extra...)
	return strings.Join(parts, " ")
}

func mutedClass() string {
	return "muted"
}

func quickFilterCard(placeholder string, extraControls ...Node) Node {
	controls := []Node{
		Div(
			Class("grow"),
			Label(Class("sr-only"), Text("Quick filter")),
			Input(Type("search"), Class("form-control"), Placeholder(placeholder), data.Bind("q"), AutoComplete("off")),
		),
	}
	controls = append(controls, extraControls...)
	return Div(
		Class(cardClass("toolbar")),
		data.Signals(map[string]any{"q": ""}),
		Div(Class("row"), Group(controls)),
	)
}

func emptyStateCard(message string) Node {
	return Div(Class(cardClass("blankslate")), P(Class(mutedClass()), Text(message)))
}

func statusLabel(text, tone string) Node {
	className := "label"
	if tone != "" {
		className += " label-" + tone
	}
	return Span(Class(className), Text(text))
}

func tierLabel(t domain.Tier) Node {
	tone := ""
	switch t {
	case domain.TierVerified:
		tone = "success"
	case domain.TierDefinedNoData:
		tone = "attention"
	case domain.TierLegacyUndocumented:
		tone = "accent"
	case domain.TierOrphan:
		tone = "danger"
	}
	return statusLabel(t.String(), tone)
}

func table(headers []string, rows []Node) Node {
	ths := make([]Node, 0, len(headers))
	for _, h := range headers {
		ths = append(ths, Th(Text(h)))
	}
	return Div(Class(cardClass("table-wrap")), Table(THead(Tr(Group(ths))), TBody(Group(rows))))
}
