package models

import "strings"

// Coordinates sind x/y: bei geografischen Koordinaten x = lon, y = lat.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

const (
	CoordinateGeographic = "geographic"
	CoordinatePixel      = "pixel"
)

// GeotagSource beschreibt die Quelle der kanonischen Identität.
type GeotagSource struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Thesaurus Thesaurus `json:"thesaurus"`
}

// TextPart ist ein Textfragment mit Herkunftslabel (creator, loghi, icon).
type TextPart struct {
	Value    string `json:"value"`
	Source   string `json:"source"`
	TargetID string `json:"targetId"`
}

// Classification ist das Label eines klassifizierten Icons.
type Classification struct {
	ID      string `json:"id,omitempty"`
	Label   string `json:"label"`
	Creator *Agent `json:"creator,omitempty"`
	Created string `json:"created,omitempty"`
}

// TextRecognitionSource ist ein geernteter Text- oder Icon-Befund eines Targets.
type TextRecognitionSource struct {
	Text            string          `json:"text"`
	Source          TextSource      `json:"source"`
	Motivation      string          `json:"motivation,omitempty"`
	Creator         *Agent          `json:"creator,omitempty"`
	Generator       *Agent          `json:"generator,omitempty"`
	Created         string          `json:"created,omitempty"`
	TargetID        string          `json:"targetId"`
	IsHumanVerified bool            `json:"isHumanVerified,omitempty"`
	VerifiedBy      *Agent          `json:"verifiedBy,omitempty"`
	VerifiedDate    string          `json:"verifiedDate,omitempty"`
	SvgSelector     string          `json:"svgSelector,omitempty"`
	CanvasURL       string          `json:"canvasUrl,omitempty"`
	Classification  *Classification `json:"classification,omitempty"`
}

// Comment ist ein commenting-Body eines Targets.
type Comment struct {
	Value    string `json:"value"`
	TargetID string `json:"targetId"`
	Creator  *Agent `json:"creator,omitempty"`
	Created  string `json:"created,omitempty"`
}

// MapReference verweist auf eine Karte, auf der der Ort vorkommt.
type MapReference struct {
	MapID               string `json:"mapId"`
	MapTitle            string `json:"mapTitle"`
	CanvasID            string `json:"canvasId"`
	LinkingAnnotationID string `json:"linkingAnnotationId,omitempty"`
}

// Dimensions eines Canvas.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MapInfo sind die Metadaten eines IIIF-Manifests.
type MapInfo struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Date        string      `json:"date,omitempty"`
	Permalink   string      `json:"permalink,omitempty"`
	CanvasID    string      `json:"canvasId"`
	CanvasLabel string      `json:"canvasLabel,omitempty"`
	Dimensions  *Dimensions `json:"dimensions,omitempty"`
}

// PlaceHierarchy ist ein part_of-Eintrag aus dem externen Datensatz.
type PlaceHierarchy struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// ParsedRemarks sind die kategorisierten Bemerkungen eines Orts.
type ParsedRemarks struct {
	Context        []string `json:"context"`
	Coord          []string `json:"coord"`
	Disambiguation []string `json:"disambiguation"`
	Association    []string `json:"association"`
	Inference      []string `json:"inference"`
	Automatic      []string `json:"automatic"`
	Source         []string `json:"source"`
	AltLabel       []string `json:"altLabel"`
	Other          []string `json:"other"`
}

// NewParsedRemarks liefert Remarks mit leeren (nicht nil) Listen.
func NewParsedRemarks() *ParsedRemarks {
	return &ParsedRemarks{
		Context:        []string{},
		Coord:          []string{},
		Disambiguation: []string{},
		Association:    []string{},
		Inference:      []string{},
		Automatic:      []string{},
		Source:         []string{},
		AltLabel:       []string{},
		Other:          []string{},
	}
}

// IsEmpty meldet, ob keine Kategorie Einträge hat.
func (r *ParsedRemarks) IsEmpty() bool {
	if r == nil {
		return true
	}
	return len(r.Context)+len(r.Coord)+len(r.Disambiguation)+len(r.Association)+len(r.Inference)+
		len(r.Automatic)+len(r.Source)+len(r.AltLabel)+len(r.Other) == 0
}

// PlaceEnrichment sind die Zusatzdaten aus einem externen Gazetteer-Datensatz.
type PlaceEnrichment struct {
	PreferredName    string           `json:"preferredName,omitempty"`
	AlternativeNames []string         `json:"alternativeNames,omitempty"`
	PartOf           []PlaceHierarchy `json:"partOf,omitempty"`
	Remarks          string           `json:"remarks,omitempty"`
	Coordinates      *Coordinates     `json:"coordinates,omitempty"`
}

// Place ist ein aggregierter Gazetteer-Eintrag.
type Place struct {
	ID                     string                  `json:"id"`
	Name                   string                  `json:"name"`
	Slug                   string                  `json:"slug"`
	Category               string                  `json:"category"`
	Coordinates            *Coordinates            `json:"coordinates,omitempty"`
	CoordinateType         string                  `json:"coordinateType,omitempty"`
	AlternativeNames       []string                `json:"alternativeNames"`
	GeotagSource           *GeotagSource           `json:"geotagSource,omitempty"`
	TextParts              []TextPart              `json:"textParts,omitempty"`
	TextRecognitionSources []TextRecognitionSource `json:"textRecognitionSources"`
	Comments               []Comment               `json:"comments,omitempty"`
	MapReferences          []MapReference          `json:"mapReferences"`
	MapInfo                *MapInfo                `json:"mapInfo,omitempty"`
	CanvasID               string                  `json:"canvasId,omitempty"`
	TargetIDs              []string                `json:"targetIds,omitempty"`
	LinkingAnnotationID    string                  `json:"linkingAnnotationId,omitempty"`
	LinkingAnnotationCount int                     `json:"linkingAnnotationCount"`
	TargetAnnotationCount  int                     `json:"targetAnnotationCount"`
	HasPointSelection      bool                    `json:"hasPointSelection"`
	HasGeotagging          bool                    `json:"hasGeotagging"`
	HasHumanVerification   bool                    `json:"hasHumanVerification"`
	PartOf                 []PlaceHierarchy        `json:"partOf,omitempty"`
	ParsedRemarks          *ParsedRemarks          `json:"parsedRemarks,omitempty"`
	Creator                *Agent                  `json:"creator,omitempty"`
	Created                string                  `json:"created,omitempty"`
	Modified               string                  `json:"modified,omitempty"`
}

// IsGeographic meldet geografische Koordinaten.
func (p *Place) IsGeographic() bool {
	return p.Coordinates != nil && p.CoordinateType == CoordinateGeographic
}

// HasAlternativeName prüft (ohne Groß-/Kleinschreibung), ob der Name schon bekannt ist.
func (p *Place) HasAlternativeName(name string) bool {
	for _, n := range p.AlternativeNames {
		if equalFoldTrim(n, name) {
			return true
		}
	}
	return false
}

// AddAlternativeName fügt einen Namen hinzu, sofern er nicht leer, nicht der Hauptname und neu ist.
func (p *Place) AddAlternativeName(name string) {
	if name == "" || name == UnknownPlaceName || equalFoldTrim(name, p.Name) || p.HasAlternativeName(name) {
		return
	}
	p.AlternativeNames = append(p.AlternativeNames, name)
}

// UnknownPlaceName ist der Platzhalter, bis ein Name aufgelöst ist.
const UnknownPlaceName = "Unknown Place"

// PlaceCategory ist ein Kategorie-Zähler für die Übersicht.
type PlaceCategory struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

func equalFoldTrim(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
