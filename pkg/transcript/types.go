// Package transcript holds the in-memory conversation state that the assembler
// fills while a response streams in.
package transcript

import (
	"encoding/json"
	"maps"
	"slices"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChartKind string

const (
	ChartBar     ChartKind = "bar"
	ChartLine    ChartKind = "line"
	ChartPie     ChartKind = "pie"
	ChartScatter ChartKind = "scatter"
)

func (k ChartKind) Valid() bool {
	switch k {
	case ChartBar, ChartLine, ChartPie, ChartScatter:
		return true
	default:
		return false
	}
}

// ChartSpec describes a chart attached to an assistant turn. XKey and YKey select
// which attributes of each data row are plotted.
type ChartSpec struct {
	ChartType ChartKind        `json:"chart_type" yaml:"chart_type"`
	Title     string           `json:"title" yaml:"title"`
	XKey      string           `json:"x_key" yaml:"x_key"`
	YKey      string           `json:"y_key" yaml:"y_key"`
	Data      []map[string]any `json:"data" yaml:"data"`
	XLabel    string           `json:"x_label" yaml:"x_label"`
	YLabel    string           `json:"y_label" yaml:"y_label"`
}

func (c *ChartSpec) clone() *ChartSpec {
	if c == nil {
		return nil
	}
	ret := *c
	if c.Data != nil {
		ret.Data = make([]map[string]any, len(c.Data))
		for i, row := range c.Data {
			ret.Data[i] = maps.Clone(row)
		}
	}
	return &ret
}

type GeometryType string

const (
	GeometryPoint      GeometryType = "Point"
	GeometryLineString GeometryType = "LineString"
	GeometryPolygon    GeometryType = "Polygon"
)

// Geometry keeps coordinates raw; their nesting depends on the geometry type.
type Geometry struct {
	Type        GeometryType    `json:"type" yaml:"type"`
	Coordinates json.RawMessage `json:"coordinates" yaml:"coordinates"`
}

type Feature struct {
	Type       string         `json:"type" yaml:"type"`
	Geometry   Geometry       `json:"geometry" yaml:"geometry"`
	Properties map[string]any `json:"properties" yaml:"properties"`
}

// GeoPayload is a GeoJSON feature collection passed through to the renderer.
type GeoPayload struct {
	Type     string    `json:"type" yaml:"type"`
	Features []Feature `json:"features" yaml:"features"`
}

func (g *GeoPayload) clone() *GeoPayload {
	if g == nil {
		return nil
	}
	ret := &GeoPayload{Type: g.Type}
	if g.Features != nil {
		ret.Features = make([]Feature, len(g.Features))
		for i, f := range g.Features {
			f.Geometry.Coordinates = slices.Clone(f.Geometry.Coordinates)
			f.Properties = maps.Clone(f.Properties)
			ret.Features[i] = f
		}
	}
	return ret
}

// Turn is one message of the transcript.
type Turn struct {
	ID      string      `json:"id" yaml:"id"`
	Role    Role        `json:"role" yaml:"role"`
	Content string      `json:"content" yaml:"content"`
	SQL     string      `json:"sql,omitempty" yaml:"sql,omitempty"`
	Chart   *ChartSpec  `json:"chart,omitempty" yaml:"chart,omitempty"`
	Map     *GeoPayload `json:"map,omitempty" yaml:"map,omitempty"`
}

func (t Turn) clone() Turn {
	t.Chart = t.Chart.clone()
	t.Map = t.Map.clone()
	return t
}

// Message is the role/content pair echoed back to the backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
