package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const linkingFixture = `{
  "@context": "http://www.w3.org/ns/anno.jsonld",
  "id": "https://annorepo.example/w3c/c/link-1",
  "type": "Annotation",
  "motivation": "linking",
  "target": ["urn:a", "urn:b"],
  "body": {
    "type": "SpecificResource",
    "purpose": "geotagging",
    "source": {
      "id": "https://id.necessaryreunions.org/place/42",
      "type": "Feature",
      "label": "Cochin",
      "geometry": {"type": "Point", "coordinates": [76.26, 9.93]},
      "properties": {"title": "Cochin", "lat": "9.93", "lon": 76.26, "place_rank": 16}
    }
  },
  "created": "2025-01-01T00:00:00Z",
  "x-custom": {"keep": true}
}`

func TestAnnotationDecodeShapes(t *testing.T) {
	var a Annotation
	require.NoError(t, json.Unmarshal([]byte(linkingFixture), &a))

	assert.True(t, a.IsLinking())
	assert.Equal(t, []string{"urn:a", "urn:b"}, a.TargetIDs())
	require.Len(t, a.Body, 1)

	src := a.Body[0].Source
	require.NotNil(t, src)
	assert.Equal(t, "Cochin", src.Name())
	lat, lon, ok := src.GeoPoint()
	require.True(t, ok)
	assert.InDelta(t, 9.93, lat, 1e-9)
	assert.InDelta(t, 76.26, lon, 1e-9)
	assert.Equal(t, 9.93, float64(*src.Properties.Lat))

	_, isGeo := a.Body[0].Variant().(GeotaggingBody)
	assert.True(t, isGeo)
}

func TestAnnotationEncodeKeepsUnknownFields(t *testing.T) {
	var a Annotation
	require.NoError(t, json.Unmarshal([]byte(linkingFixture), &a))

	out, err := json.Marshal(a)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Contains(t, raw, "x-custom")
	assert.Equal(t, []any{"urn:a", "urn:b"}, raw["target"])
	// body wird immer als Liste geschrieben
	bodies, ok := raw["body"].([]any)
	require.True(t, ok)
	props := bodies[0].(map[string]any)["source"].(map[string]any)["properties"].(map[string]any)
	assert.Contains(t, props, "place_rank")
}

func TestEmptyBodyEncodesAsList(t *testing.T) {
	a := Annotation{Motivation: MotivationLinking, Target: NewTargets([]string{"urn:a"})}
	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"motivation":"linking","target":["urn:a"],"body":[]}`, string(out))
}

func TestObjectTargetRoundTrip(t *testing.T) {
	in := `{"id":"t1","motivation":"iconography","target":{"type":"SpecificResource","source":{"id":"https://iiif.example/canvas/p1","type":"Canvas"},"selector":{"type":"SvgSelector","value":"<svg/>"}},"body":[]}`
	var a Annotation
	require.NoError(t, json.Unmarshal([]byte(in), &a))
	require.Len(t, a.Target, 1)
	assert.Equal(t, "https://iiif.example/canvas/p1", a.Target[0].Source)
	svg, ok := a.Target[0].Selector.First(SelectorSvg)
	require.True(t, ok)
	assert.Equal(t, "<svg/>", svg.Value)

	out, err := json.Marshal(a)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	_, isObject := raw["target"].(map[string]any)
	assert.True(t, isObject)
}

func TestSelectingBodyWithCanvasRef(t *testing.T) {
	in := `{"type":"SpecificResource","purpose":"selecting","source":"https://iiif.example/canvas/p1","selector":{"type":"PointSelector","x":10,"y":20.5}}`
	var b Body
	require.NoError(t, json.Unmarshal([]byte(in), &b))

	sel, ok := b.Variant().(SelectingBody)
	require.True(t, ok)
	assert.Equal(t, "https://iiif.example/canvas/p1", sel.CanvasID)
	require.NotNil(t, sel.Point)
	assert.True(t, sel.Point.SamePoint(NewPointSelector(10, 20.5)))
	assert.False(t, sel.Point.SamePoint(NewPointSelector(10, 20.50001)))

	out, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestAgentFromString(t *testing.T) {
	var a Agent
	require.NoError(t, json.Unmarshal([]byte(`"https://orcid.org/0000"`), &a))
	assert.Equal(t, "https://orcid.org/0000", a.ID)
}

func TestAgentFromUserProfile(t *testing.T) {
	var a Agent
	require.NoError(t, json.Unmarshal([]byte(`{"email":"ana@example.org","name":"Ana"}`), &a))
	assert.Equal(t, Agent{ID: "ana@example.org", Label: "Ana"}, a)

	var explicit Agent
	require.NoError(t, json.Unmarshal([]byte(`{"id":"https://orcid.org/0001","label":"Ana B.","type":"Person","email":"ana@example.org","name":"Ana"}`), &explicit))
	assert.Equal(t, Agent{ID: "https://orcid.org/0001", Type: "Person", Label: "Ana B."}, explicit)
}

func TestParseWKTPoint(t *testing.T) {
	lon, lat, err := ParseWKTPoint("POINT(76.26 9.93)")
	require.NoError(t, err)
	assert.Equal(t, 76.26, lon)
	assert.Equal(t, 9.93, lat)

	_, _, err = ParseWKTPoint("LINESTRING(1 2, 3 4)")
	assert.Error(t, err)
}

func TestCategoryKey(t *testing.T) {
	assert.Equal(t, "place", (*Source)(nil).CategoryKey())
	assert.Equal(t, "river", (&Source{Category: "river/tributary"}).CategoryKey())
	assert.Equal(t, "place", (&Source{}).CategoryKey())
}
