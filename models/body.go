package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Purpose ist der W3C-Zweck eines Body-Eintrags.
type Purpose string

const (
	PurposeIdentifying   Purpose = "identifying"
	PurposeGeotagging    Purpose = "geotagging"
	PurposeSelecting     Purpose = "selecting"
	PurposeClassifying   Purpose = "classifying"
	PurposeCommenting    Purpose = "commenting"
	PurposeAssessing     Purpose = "assessing"
	PurposeSupplementing Purpose = "supplementing"
	PurposeHighlighting  Purpose = "highlighting"
)

// Accumulates meldet Zwecke, deren Einträge sich beim Merge ansammeln statt sich zu ersetzen.
func (p Purpose) Accumulates() bool {
	return p == PurposeCommenting
}

const (
	BodyTypeSpecificResource = "SpecificResource"
	BodyTypeTextual          = "TextualBody"
)

// Body ist ein Eintrag in annotation.body.
type Body struct {
	Type      string    `json:"type,omitempty"`
	Purpose   Purpose   `json:"purpose,omitempty"`
	Value     string    `json:"value,omitempty"`
	Format    string    `json:"format,omitempty"`
	Language  string    `json:"language,omitempty"`
	Source    *Source   `json:"source,omitempty"`
	Selector  Selectors `json:"selector,omitempty"`
	Creator   *Agent    `json:"creator,omitempty"`
	Generator *Agent    `json:"generator,omitempty"`
	Created   string    `json:"created,omitempty"`
	Modified  string    `json:"modified,omitempty"`

	Extra Extra `json:"-"`
}

type bodyAlias Body

var bodyKeys = []string{"type", "purpose", "value", "format", "language", "source", "selector", "creator", "generator", "created", "modified"}

func (b *Body) UnmarshalJSON(data []byte) error {
	var alias bodyAlias
	extra, err := decodeWithExtra(data, &alias, bodyKeys...)
	if err != nil {
		return err
	}
	*b = Body(alias)
	b.Extra = extra
	return nil
}

func (b Body) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(bodyAlias(b), b.Extra)
}

// PointSelector liefert den ersten PointSelector des Bodys.
func (b Body) PointSelector() (Selector, bool) {
	s, ok := b.Selector.First(SelectorPoint)
	if !ok || !s.IsPoint() {
		return Selector{}, false
	}
	return s, true
}

// Bodies ist annotation.body: einzelner Eintrag oder Liste, geschrieben wird immer eine Liste.
type Bodies []Body

func (bs *Bodies) UnmarshalJSON(data []byte) error {
	if isJSONNull(data) {
		*bs = nil
		return nil
	}
	if isJSONArray(data) {
		var list []Body
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*bs = list
		return nil
	}
	var single Body
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*bs = Bodies{single}
	return nil
}

func (bs Bodies) MarshalJSON() ([]byte, error) {
	list := []Body(bs)
	if list == nil {
		list = []Body{}
	}
	return json.Marshal(list)
}

// HasPurpose meldet, ob mindestens ein Eintrag den Zweck trägt.
func (bs Bodies) HasPurpose(p Purpose) bool {
	for _, b := range bs {
		if b.Purpose == p {
			return true
		}
	}
	return false
}

// Purposes liefert die unterschiedlichen Zwecke in Reihenfolge des Auftretens.
func (bs Bodies) Purposes() []Purpose {
	var out []Purpose
	seen := map[Purpose]bool{}
	for _, b := range bs {
		if b.Purpose == "" || seen[b.Purpose] {
			continue
		}
		seen[b.Purpose] = true
		out = append(out, b.Purpose)
	}
	return out
}

// Source ist die verlinkte Ressource (Gazetteer-Feature, Canvas-ID, ...).
// Ref ist gesetzt, wenn source im JSON ein reiner String war.
type Source struct {
	Ref              string            `json:"-"`
	ID               string            `json:"id,omitempty"`
	URI              string            `json:"uri,omitempty"`
	Type             string            `json:"type,omitempty"`
	Label            string            `json:"label,omitempty"`
	PreferredTerm    string            `json:"preferredTerm,omitempty"`
	Category         string            `json:"category,omitempty"`
	AlternativeTerms []string          `json:"alternativeTerms,omitempty"`
	Geometry         *Geometry         `json:"geometry,omitempty"`
	Properties       *SourceProperties `json:"properties,omitempty"`
	DefinedBy        string            `json:"defined_by,omitempty"`

	Extra Extra `json:"-"`
}

type sourceAlias Source

var sourceKeys = []string{"id", "uri", "type", "label", "preferredTerm", "category", "alternativeTerms", "geometry", "properties", "defined_by"}

func (s *Source) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		var ref string
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		*s = Source{Ref: ref}
		return nil
	}
	var alias sourceAlias
	extra, err := decodeWithExtra(data, &alias, sourceKeys...)
	if err != nil {
		return err
	}
	*s = Source(alias)
	s.Extra = extra
	return nil
}

func (s Source) MarshalJSON() ([]byte, error) {
	if s.Ref != "" && s.isBareRef() {
		return json.Marshal(s.Ref)
	}
	return encodeWithExtra(sourceAlias(s), s.Extra)
}

func (s Source) isBareRef() bool {
	return s.ID == "" && s.URI == "" && s.Type == "" && s.Label == "" && s.PreferredTerm == "" &&
		s.Category == "" && len(s.AlternativeTerms) == 0 && s.Geometry == nil && s.Properties == nil &&
		s.DefinedBy == "" && len(s.Extra) == 0
}

// Identifier liefert uri, id oder den String-Verweis.
func (s *Source) Identifier() string {
	if s == nil {
		return ""
	}
	switch {
	case s.URI != "":
		return s.URI
	case s.ID != "":
		return s.ID
	default:
		return s.Ref
	}
}

// Name liefert preferredTerm, label oder properties.title.
func (s *Source) Name() string {
	if s == nil {
		return ""
	}
	if s.PreferredTerm != "" {
		return s.PreferredTerm
	}
	if s.Label != "" {
		return s.Label
	}
	if s.Properties != nil {
		if s.Properties.Title != "" {
			return s.Properties.Title
		}
		if s.Properties.DisplayName != "" {
			return s.Properties.DisplayName
		}
	}
	return ""
}

// CategoryKey liefert das erste Pfadsegment der Kategorie ("place" als Default).
func (s *Source) CategoryKey() string {
	if s == nil {
		return "place"
	}
	category := s.Category
	if category == "" && s.Properties != nil {
		category = s.Properties.Category
	}
	category = strings.TrimSpace(strings.Split(category, "/")[0])
	if category == "" {
		return "place"
	}
	return category
}

// GeoPoint liefert lat/lon aus geometry, properties oder defined_by (WKT).
func (s *Source) GeoPoint() (lat, lon float64, ok bool) {
	if s == nil {
		return 0, 0, false
	}
	if s.Geometry != nil {
		if lo, la, found := s.Geometry.Point(); found {
			return la, lo, true
		}
	}
	if p := s.Properties; p != nil && p.Lat != nil && p.Lon != nil {
		return float64(*p.Lat), float64(*p.Lon), true
	}
	if s.DefinedBy != "" {
		if lo, la, err := ParseWKTPoint(s.DefinedBy); err == nil {
			return la, lo, true
		}
	}
	return 0, 0, false
}

// Geometry ist eine GeoJSON-Geometrie; Koordinaten bleiben roh, damit auch Polygone durchgehen.
type Geometry struct {
	Type        string          `json:"type,omitempty"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
}

// Point liefert lon/lat einer Point-Geometrie.
func (g *Geometry) Point() (lon, lat float64, ok bool) {
	if g == nil || len(g.Coordinates) == 0 {
		return 0, 0, false
	}
	if g.Type != "" && g.Type != "Point" {
		return 0, 0, false
	}
	var coords []float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil || len(coords) < 2 {
		return 0, 0, false
	}
	return coords[0], coords[1], true
}

// SourceProperties sind die GeoJSON-Properties eines Features.
type SourceProperties struct {
	Title            string     `json:"title,omitempty"`
	Description      string     `json:"description,omitempty"`
	Category         string     `json:"category,omitempty"`
	DisplayName      string     `json:"display_name,omitempty"`
	Lat              *FlexFloat `json:"lat,omitempty"`
	Lon              *FlexFloat `json:"lon,omitempty"`
	AlternativeTerms []string   `json:"alternativeTerms,omitempty"`

	Extra Extra `json:"-"`
}

type propertiesAlias SourceProperties

var propertiesKeys = []string{"title", "description", "category", "display_name", "lat", "lon", "alternativeTerms"}

func (p *SourceProperties) UnmarshalJSON(data []byte) error {
	var alias propertiesAlias
	extra, err := decodeWithExtra(data, &alias, propertiesKeys...)
	if err != nil {
		return err
	}
	*p = SourceProperties(alias)
	p.Extra = extra
	return nil
}

func (p SourceProperties) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(propertiesAlias(p), p.Extra)
}

// ParseWKTPoint liest "POINT(lon lat)".
func ParseWKTPoint(wkt string) (lon, lat float64, err error) {
	s := strings.TrimSpace(wkt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POINT") {
		return 0, 0, fmt.Errorf("not a WKT point: %q", wkt)
	}
	open := strings.Index(s, "(")
	closing := strings.LastIndex(s, ")")
	if open < 0 || closing <= open {
		return 0, 0, fmt.Errorf("not a WKT point: %q", wkt)
	}
	parts := strings.Fields(s[open+1 : closing])
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("not a WKT point: %q", wkt)
	}
	if lon, err = strconv.ParseFloat(parts[0], 64); err != nil {
		return 0, 0, err
	}
	if lat, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return 0, 0, err
	}
	return lon, lat, nil
}
