package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Thesaurus ist die Herkunft einer kanonischen Orts-ID. Höherer Wert gewinnt.
type Thesaurus int

const (
	ThesaurusUnknown Thesaurus = iota
	ThesaurusOpenStreetMap
	ThesaurusGlobalise
	ThesaurusGavoc
)

var thesaurusNames = map[Thesaurus]string{
	ThesaurusUnknown:       "unknown",
	ThesaurusOpenStreetMap: "openstreetmap",
	ThesaurusGlobalise:     "globalise",
	ThesaurusGavoc:         "gavoc",
}

func (t Thesaurus) String() string {
	if name, ok := thesaurusNames[t]; ok {
		return name
	}
	return "unknown"
}

// Compare ordnet total: >0 wenn t Vorrang vor o hat.
func (t Thesaurus) Compare(o Thesaurus) int {
	return int(t) - int(o)
}

// Outranks meldet strikten Vorrang.
func (t Thesaurus) Outranks(o Thesaurus) bool {
	return t.Compare(o) > 0
}

func (t Thesaurus) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Thesaurus) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseThesaurus(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseThesaurus liest den Namen eines Thesaurus.
func ParseThesaurus(s string) (Thesaurus, error) {
	for t, name := range thesaurusNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return ThesaurusUnknown, fmt.Errorf("unknown thesaurus %q", s)
}

// DetectThesaurus erkennt den Thesaurus anhand der URI.
func DetectThesaurus(uri string) Thesaurus {
	u := strings.ToLower(uri)
	switch {
	case u == "":
		return ThesaurusUnknown
	case strings.Contains(u, "/gavoc/"):
		return ThesaurusGavoc
	case strings.Contains(u, "necessaryreunions.org/place/") || strings.Contains(u, "/globalise/"):
		return ThesaurusGlobalise
	case strings.Contains(u, "openstreetmap.org") || strings.Contains(u, "nominatim"):
		return ThesaurusOpenStreetMap
	default:
		return ThesaurusUnknown
	}
}

// TextSource ist die Herkunft eines erkannten Texts. Niedrigerer Rang gewinnt.
type TextSource int

const (
	TextSourceHuman TextSource = iota + 1
	TextSourceLoghiHTR
	TextSourceAIPipeline
)

var textSourceNames = map[TextSource]string{
	TextSourceHuman:      "human",
	TextSourceLoghiHTR:   "loghi-htr",
	TextSourceAIPipeline: "ai-pipeline",
}

func (s TextSource) String() string {
	if name, ok := textSourceNames[s]; ok {
		return name
	}
	return "ai-pipeline"
}

// Rank ist die numerische Priorität (1 = beste).
func (s TextSource) Rank() int {
	return int(s)
}

// Compare ordnet total: <0 wenn s besser ist als o.
func (s TextSource) Compare(o TextSource) int {
	return int(s) - int(o)
}

// Better meldet, ob s strikt besser ist als o.
func (s TextSource) Better(o TextSource) bool {
	return s.Compare(o) < 0
}

// PartLabel ist das Label in textParts (human → creator, sonst loghi).
func (s TextSource) PartLabel() string {
	if s == TextSourceHuman {
		return "creator"
	}
	return "loghi"
}

func (s TextSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *TextSource) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for k, v := range textSourceNames {
		if v == name {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown text source %q", name)
}

// ClassifyTextSource bestimmt die Herkunft eines Text-Bodys:
// creator → human, Generator mit "Loghi" → loghi-htr, sonst ai-pipeline.
func ClassifyTextSource(creator, generator *Agent) TextSource {
	if creator != nil && (creator.ID != "" || creator.Label != "") {
		return TextSourceHuman
	}
	if generator != nil && (strings.Contains(generator.Label, "Loghi") || strings.Contains(generator.ID, "loghi")) {
		return TextSourceLoghiHTR
	}
	return TextSourceAIPipeline
}
