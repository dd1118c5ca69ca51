package sdmx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"statflow/internal/domain"
)

// structureMessage is the subset of an SDMX-JSON structure message we read.
type structureMessage struct {
	Data struct {
		Dataflows          []jsonDataflow          `json:"dataflows"`
		DataStructures     []jsonDataStructure     `json:"dataStructures"`
		Codelists          []jsonCodelist          `json:"codelists"`
		ContentConstraints []jsonContentConstraint `json:"contentConstraints"`
	} `json:"data"`
}

type jsonDataflow struct {
	ID       string            `json:"id"`
	AgencyID string            `json:"agencyID"`
	Version  string            `json:"version"`
	Name     string            `json:"name"`
	Names    map[string]string `json:"names"`
}

type jsonDataStructure struct {
	ID         string `json:"id"`
	Components struct {
		DimensionList struct {
			Dimensions []struct {
				ID       string `json:"id"`
				Position int    `json:"position"`
			} `json:"dimensions"`
		} `json:"dimensionList"`
		AttributeList struct {
			Attributes []struct {
				ID string `json:"id"`
			} `json:"attributes"`
		} `json:"attributeList"`
	} `json:"dataStructureComponents"`
}

type jsonCodelist struct {
	ID    string     `json:"id"`
	Codes []jsonCode `json:"codes"`
}

type jsonCode struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Names        map[string]string `json:"names"`
	Description  string            `json:"description"`
	Descriptions map[string]string `json:"descriptions"`
	Parent       string            `json:"parent"`
}

type jsonContentConstraint struct {
	CubeRegions []struct {
		KeyValues []struct {
			ID     string   `json:"id"`
			Values []string `json:"values"`
		} `json:"keyValues"`
	} `json:"cubeRegions"`
}

// localized prefers the plain field, then English, then any language in key order.
func localized(plain string, byLang map[string]string) string {
	if plain != "" {
		return plain
	}
	if v, ok := byLang["en"]; ok {
		return v
	}
	langs := make([]string, 0, len(byLang))
	for l := range byLang {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	if len(langs) > 0 {
		return byLang[langs[0]]
	}
	return ""
}

func (c *Client) getStructure(ctx context.Context, path string, query url.Values, what string) (*structureMessage, error) {
	resp, err := c.doWithRetry(ctx, request{path: path, query: query, accept: structureMediaType})
	if nf := structuralNotFound(resp, err, what); nf != nil {
		return nil, nf
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", what, err)
	}

	var msg structureMessage
	if err := json.Unmarshal(resp.body, &msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	return &msg, nil
}

// Dataflows lists every dataflow published by the agency.
func (c *Client) Dataflows(ctx context.Context) ([]domain.DataflowDescriptor, error) {
	path := fmt.Sprintf("dataflow/%s/all/latest", c.cfg.Agency)
	msg, err := c.getStructure(ctx, path, url.Values{"references": {"none"}}, "dataflow list")
	if err != nil {
		return nil, err
	}

	out := make([]domain.DataflowDescriptor, 0, len(msg.Data.Dataflows))
	for _, df := range msg.Data.Dataflows {
		if df.ID == "" {
			continue
		}
		agency := df.AgencyID
		if agency == "" {
			agency = c.cfg.Agency
		}
		out = append(out, domain.DataflowDescriptor{
			ID:      df.ID,
			Agency:  agency,
			Version: df.Version,
			Name:    localized(df.Name, df.Names),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// DataStructure fills in the dimensions and attributes of flow from its data
// structure definition. Dimensions are returned in key position order.
func (c *Client) DataStructure(ctx context.Context, flow domain.DataflowDescriptor) (domain.DataflowDescriptor, error) {
	version := flow.Version
	if version == "" {
		version = "latest"
	}
	path := fmt.Sprintf("dataflow/%s/%s/%s", flow.Agency, flow.ID, version)
	msg, err := c.getStructure(ctx, path, url.Values{"references": {"datastructure"}}, "structure of "+flow.ID)
	if err != nil {
		return flow, err
	}
	if len(msg.Data.DataStructures) == 0 {
		return flow, fmt.Errorf("structure of %s: response has no data structure", flow.ID)
	}

	dsd := msg.Data.DataStructures[0].Components
	positioned := false
	for _, d := range dsd.DimensionList.Dimensions {
		positioned = positioned || d.Position != 0
	}
	dims := make([]domain.Dimension, 0, len(dsd.DimensionList.Dimensions))
	for i, d := range dsd.DimensionList.Dimensions {
		pos := d.Position
		if !positioned {
			pos = i
		}
		dims = append(dims, domain.Dimension{ID: d.ID, Position: pos})
	}
	sort.SliceStable(dims, func(i, j int) bool { return dims[i].Position < dims[j].Position })

	attrs := make([]string, 0, len(dsd.AttributeList.Attributes))
	for _, a := range dsd.AttributeList.Attributes {
		attrs = append(attrs, a.ID)
	}

	out := flow
	out.Dimensions = dims
	out.Attributes = attrs
	return out, nil
}

// Codelist returns the codes of the named codelist.
func (c *Client) Codelist(ctx context.Context, id string) ([]domain.CodeEntry, error) {
	path := fmt.Sprintf("codelist/%s/%s/latest", c.cfg.Agency, id)
	msg, err := c.getStructure(ctx, path, nil, "codelist "+id)
	if err != nil {
		return nil, err
	}
	if len(msg.Data.Codelists) == 0 {
		return nil, fmt.Errorf("codelist %s: response has no codelist", id)
	}

	codes := msg.Data.Codelists[0].Codes
	out := make([]domain.CodeEntry, 0, len(codes))
	for _, code := range codes {
		out = append(out, domain.CodeEntry{
			ID:          code.ID,
			Name:        localized(code.Name, code.Names),
			Description: localized(code.Description, code.Descriptions),
			Parent:      code.Parent,
		})
	}
	return out, nil
}

// AvailableIndicators returns the INDICATOR codes with reported observations
// in flow. A dataflow with no data yields an empty list, not an error.
func (c *Client) AvailableIndicators(ctx context.Context, flow domain.DataflowDescriptor) ([]string, error) {
	path := fmt.Sprintf("availableconstraint/%s/all/all/%s", flow.Ref(), domain.DimIndicator)
	msg, err := c.getStructure(ctx, path, url.Values{"mode": {"available"}}, "availability of "+flow.ID)
	if domain.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, cc := range msg.Data.ContentConstraints {
		for _, region := range cc.CubeRegions {
			for _, kv := range region.KeyValues {
				if kv.ID != domain.DimIndicator {
					continue
				}
				for _, v := range kv.Values {
					seen[v] = true
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}
