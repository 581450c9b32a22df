package models

// BodyVariant ist die nach Zweck getypte Sicht auf einen Body.
// Implementierungen: IdentifyingBody, GeotaggingBody, SelectingBody,
// ClassifyingBody, TextBody, OtherBody.
type BodyVariant interface {
	isBodyVariant()
}

// IdentifyingBody verweist auf eine Gazetteer-Ressource.
type IdentifyingBody struct {
	Source *Source
}

// GeotaggingBody verortet den Link geografisch.
type GeotaggingBody struct {
	Source *Source
}

// SelectingBody markiert einen Punkt auf dem Canvas.
type SelectingBody struct {
	Point    *Selector
	CanvasID string
}

// ClassifyingBody klassifiziert ein Icon.
type ClassifyingBody struct {
	ID      string
	Label   string
	Creator *Agent
	Created string
}

// TextBody trägt Text (supplementing, commenting, assessing).
type TextBody struct {
	Purpose   Purpose
	Value     string
	Creator   *Agent
	Generator *Agent
	Created   string
}

// OtherBody ist alles, was keinem bekannten Zweck entspricht.
type OtherBody struct {
	Body Body
}

func (IdentifyingBody) isBodyVariant() {}
func (GeotaggingBody) isBodyVariant()  {}
func (SelectingBody) isBodyVariant()   {}
func (ClassifyingBody) isBodyVariant() {}
func (TextBody) isBodyVariant()        {}
func (OtherBody) isBodyVariant()       {}

// Variant klassifiziert den Body nach seinem Zweck.
func (b Body) Variant() BodyVariant {
	switch b.Purpose {
	case PurposeIdentifying:
		if b.Source != nil {
			return IdentifyingBody{Source: b.Source}
		}
	case PurposeGeotagging:
		if b.Source != nil {
			return GeotaggingBody{Source: b.Source}
		}
	case PurposeSelecting:
		sel := SelectingBody{}
		if p, ok := b.PointSelector(); ok {
			sel.Point = &p
		}
		if b.Source != nil && b.Source.Ref != "" {
			sel.CanvasID = b.Source.Ref
		} else if b.Source != nil {
			sel.CanvasID = b.Source.Identifier()
		}
		return sel
	case PurposeClassifying:
		c := ClassifyingBody{Creator: b.Creator, Created: b.Created}
		if b.Source != nil {
			c.ID = b.Source.Identifier()
			c.Label = b.Source.Name()
		}
		if c.Label == "" {
			c.Label = b.Value
		}
		return c
	case PurposeCommenting, PurposeAssessing, PurposeSupplementing, "":
		if b.Value != "" {
			return TextBody{Purpose: b.Purpose, Value: b.Value, Creator: b.Creator, Generator: b.Generator, Created: b.Created}
		}
	}
	return OtherBody{Body: b}
}
