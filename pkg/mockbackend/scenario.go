package mockbackend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-go-golems/fr8chat/pkg/transcript"
)

// Scenario is the canned answer to one question.
type Scenario struct {
	SQL      string
	Markdown string
	Chart    *transcript.ChartSpec
	Map      *transcript.GeoPayload
	// Fail makes the stream end with the generic internal error frame.
	Fail bool
}

// Responder picks the scenario for the latest user question.
type Responder func(question string) Scenario

var terminals = []struct {
	name     string
	city     string
	lon, lat float64
}{
	{"Duisburg Gateway", "Duisburg", 6.7623, 51.4344},
	{"Verona Quadrante Europa", "Verona", 10.9167, 45.4167},
	{"Basel Nord", "Basel", 7.6113, 47.5776},
}

// DefaultResponder answers every question with a query and a short markdown
// table. Questions mentioning "chart" also get a bar chart, questions mentioning
// "map" or "terminal" a point map, and questions containing "fail" an error.
func DefaultResponder(question string) Scenario {
	q := strings.ToLower(question)
	if strings.Contains(q, "fail") {
		return Scenario{SQL: "SELECT broken FROM nowhere", Fail: true}
	}

	s := Scenario{
		SQL: "SELECT name, city FROM terminals ORDER BY name LIMIT 3",
	}
	var md strings.Builder
	fmt.Fprintf(&md, "Found %d terminals matching **%s**.\n\n", len(terminals), strings.TrimSpace(question))
	md.WriteString("| Terminal | City |\n|---|---|\n")
	for _, t := range terminals {
		fmt.Fprintf(&md, "| %s | %s |\n", t.name, t.city)
	}
	s.Markdown = md.String()

	if strings.Contains(q, "chart") {
		s.SQL = "SELECT city, COUNT(*) AS routes FROM routes GROUP BY city"
		s.Chart = &transcript.ChartSpec{
			ChartType: transcript.ChartBar,
			Title:     "Routes per terminal city",
			XKey:      "city",
			YKey:      "routes",
			XLabel:    "City",
			YLabel:    "Routes",
			Data: []map[string]any{
				{"city": "Duisburg", "routes": 12},
				{"city": "Verona", "routes": 7},
				{"city": "Basel", "routes": 4},
			},
		}
	}
	if strings.Contains(q, "map") || strings.Contains(q, "terminal") {
		geo := &transcript.GeoPayload{Type: "FeatureCollection"}
		for _, t := range terminals {
			coords, _ := json.Marshal([]float64{t.lon, t.lat})
			geo.Features = append(geo.Features, transcript.Feature{
				Type:       "Feature",
				Geometry:   transcript.Geometry{Type: transcript.GeometryPoint, Coordinates: coords},
				Properties: map[string]any{"name": t.name, "city": t.city},
			})
		}
		s.Map = geo
	}
	return s
}
