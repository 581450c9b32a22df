package models

import (
	"encoding/json"
	"strings"
)

// AnnoContext ist der JSON-LD-Kontext der W3C Web Annotations.
const AnnoContext = "http://www.w3.org/ns/anno.jsonld"

// Motivationen, die der Service auswertet.
const (
	MotivationLinking      = "linking"
	MotivationTextspotting = "textspotting"
	MotivationIconography  = "iconography"
	// Schreibfehler, der in Bestandsdaten vorkommt.
	MotivationIconographyTypo = "iconograpy"
	MotivationGeoreferencing  = "georeferencing"
)

// IsIconography akzeptiert auch die falsch geschriebene Variante.
func IsIconography(motivation string) bool {
	return motivation == MotivationIconography || motivation == MotivationIconographyTypo
}

// Annotation ist eine W3C Web Annotation, wie sie AnnoRepo liefert.
type Annotation struct {
	Context    json.RawMessage `json:"@context,omitempty"`
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type,omitempty"`
	Motivation string          `json:"motivation,omitempty"`
	Target     Targets         `json:"target,omitempty"`
	Body       Bodies          `json:"body"`
	Creator    *Agent          `json:"creator,omitempty"`
	Generator  *Agent          `json:"generator,omitempty"`
	Created    string          `json:"created,omitempty"`
	Modified   string          `json:"modified,omitempty"`

	Extra Extra  `json:"-"`
	ETag  string `json:"-"`
}

type annotationAlias Annotation

var annotationKeys = []string{"@context", "id", "type", "motivation", "target", "body", "creator", "generator", "created", "modified"}

func (a *Annotation) UnmarshalJSON(data []byte) error {
	var alias annotationAlias
	extra, err := decodeWithExtra(data, &alias, annotationKeys...)
	if err != nil {
		return err
	}
	*a = Annotation(alias)
	a.Extra = extra
	return nil
}

func (a Annotation) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(annotationAlias(a), a.Extra)
}

// TargetIDs liefert die Target-IDs in Lesereihenfolge.
func (a *Annotation) TargetIDs() []string {
	ids := make([]string, 0, len(a.Target))
	for _, t := range a.Target {
		if id := t.Identifier(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsLinking meldet, ob es sich um eine Linking-Annotation handelt.
func (a *Annotation) IsLinking() bool {
	return a.Motivation == MotivationLinking
}

// Clone erstellt eine tiefe Kopie über JSON.
func (a *Annotation) Clone() (*Annotation, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var out Annotation
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	out.ETag = a.ETag
	return &out, nil
}

// Agent ist Creator oder Generator einer Annotation bzw. eines Bodys.
type Agent struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type,omitempty"`
	Label string `json:"label,omitempty"`
}

type agentAlias Agent

// UnmarshalJSON akzeptiert auch einen reinen String als ID.
// email und name füllen ID und Label, wenn id bzw. label fehlen.
func (a *Agent) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		return json.Unmarshal(data, &a.ID)
	}
	var user struct {
		agentAlias
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(data, &user); err != nil {
		return err
	}
	*a = Agent(user.agentAlias)
	if a.ID == "" {
		a.ID = user.Email
	}
	if a.Label == "" {
		a.Label = user.Name
	}
	return nil
}

// Target ist ein Eintrag in annotation.target: entweder eine reine URI
// oder ein SpecificResource-Objekt mit source und selector.
type Target struct {
	ID       string    `json:"id,omitempty"`
	Type     string    `json:"type,omitempty"`
	Source   string    `json:"source,omitempty"`
	Selector Selectors `json:"selector,omitempty"`

	Extra Extra `json:"-"`
}

type targetAlias Target

var targetKeys = []string{"id", "type", "source", "selector"}

// Identifier liefert die URI, über die das Target referenziert wird.
func (t Target) Identifier() string {
	if t.ID != "" {
		return t.ID
	}
	return t.Source
}

func (t Target) isObject() bool {
	return t.Type != "" || t.Source != "" || len(t.Selector) > 0 || len(t.Extra) > 0
}

func (t *Target) UnmarshalJSON(data []byte) error {
	if isJSONString(data) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Target{ID: s}
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	// source kann String oder Objekt mit id sein
	var source string
	if rawSource, ok := raw["source"]; ok && !isJSONString(rawSource) {
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(rawSource, &ref); err != nil {
			return err
		}
		source = ref.ID
		delete(raw, "source")
		data, _ = json.Marshal(raw)
	}
	var alias targetAlias
	extra, err := decodeWithExtra(data, &alias, targetKeys...)
	if err != nil {
		return err
	}
	*t = Target(alias)
	if source != "" {
		t.Source = source
	}
	t.Extra = extra
	return nil
}

func (t Target) MarshalJSON() ([]byte, error) {
	if !t.isObject() {
		return json.Marshal(t.ID)
	}
	return encodeWithExtra(targetAlias(t), t.Extra)
}

// Targets ist annotation.target: einzelner Wert oder geordnete Liste.
type Targets []Target

// NewTargets baut Targets aus einer Liste von URIs.
func NewTargets(ids []string) Targets {
	out := make(Targets, 0, len(ids))
	for _, id := range ids {
		out = append(out, Target{ID: id})
	}
	return out
}

func (ts *Targets) UnmarshalJSON(data []byte) error {
	if isJSONNull(data) {
		*ts = nil
		return nil
	}
	if isJSONArray(data) {
		var list []Target
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*ts = list
		return nil
	}
	var single Target
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*ts = Targets{single}
	return nil
}

// MarshalJSON schreibt ein einzelnes Objekt-Target als Objekt, sonst immer eine Liste.
func (ts Targets) MarshalJSON() ([]byte, error) {
	if len(ts) == 1 && ts[0].isObject() {
		return json.Marshal(ts[0])
	}
	list := []Target(ts)
	if list == nil {
		list = []Target{}
	}
	return json.Marshal(list)
}

// Selector ist ein W3C-Selector (PointSelector, SvgSelector, FragmentSelector, ...).
type Selector struct {
	Type       string   `json:"type"`
	X          *float64 `json:"x,omitempty"`
	Y          *float64 `json:"y,omitempty"`
	Value      string   `json:"value,omitempty"`
	ConformsTo string   `json:"conformsTo,omitempty"`

	Extra Extra `json:"-"`
}

const (
	SelectorPoint = "PointSelector"
	SelectorSvg   = "SvgSelector"
)

type selectorAlias Selector

var selectorKeys = []string{"type", "x", "y", "value", "conformsTo"}

func (s *Selector) UnmarshalJSON(data []byte) error {
	var alias selectorAlias
	extra, err := decodeWithExtra(data, &alias, selectorKeys...)
	if err != nil {
		return err
	}
	*s = Selector(alias)
	s.Extra = extra
	return nil
}

func (s Selector) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(selectorAlias(s), s.Extra)
}

// IsPoint meldet einen PointSelector mit gesetzten Koordinaten.
func (s Selector) IsPoint() bool {
	return s.Type == SelectorPoint && s.X != nil && s.Y != nil
}

// SamePoint vergleicht zwei PointSelectoren exakt (ohne Toleranz).
func (s Selector) SamePoint(o Selector) bool {
	return s.IsPoint() && o.IsPoint() && *s.X == *o.X && *s.Y == *o.Y
}

// NewPointSelector baut einen PointSelector.
func NewPointSelector(x, y float64) Selector {
	return Selector{Type: SelectorPoint, X: &x, Y: &y}
}

// Selectors ist ein einzelner Selector oder eine Liste davon.
type Selectors []Selector

func (ss *Selectors) UnmarshalJSON(data []byte) error {
	if isJSONNull(data) {
		*ss = nil
		return nil
	}
	if isJSONArray(data) {
		var list []Selector
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*ss = list
		return nil
	}
	var single Selector
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*ss = Selectors{single}
	return nil
}

func (ss Selectors) MarshalJSON() ([]byte, error) {
	if len(ss) == 1 {
		return json.Marshal(ss[0])
	}
	return json.Marshal([]Selector(ss))
}

// First liefert den ersten Selector des gegebenen Typs.
func (ss Selectors) First(selectorType string) (Selector, bool) {
	for _, s := range ss {
		if strings.EqualFold(s.Type, selectorType) {
			return s, true
		}
	}
	return Selector{}, false
}
