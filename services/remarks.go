package services

import (
	"regexp"
	"strings"

	"anno-linker/models"
)

var remarkTagRE = regexp.MustCompile(`\[([A-Za-z_]+)\]\s*`)

// ParseRemarks zerlegt "[TAG] Text. [TAG2] Text2." in Kategorien.
// Unbekannte Tags landen mit ihrem Originaltag in Other, Text ohne Tags komplett in Context.
func ParseRemarks(text string) *models.ParsedRemarks {
	out := models.NewParsedRemarks()
	text = strings.TrimSpace(text)
	if text == "" {
		return out
	}

	matches := remarkTagRE.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		out.Context = append(out.Context, text)
		return out
	}

	// Text vor dem ersten Tag zählt als Kontext.
	if lead := cleanRemark(text[:matches[0][0]]); lead != "" {
		out.Context = append(out.Context, lead)
	}

	for i, m := range matches {
		tag := text[m[2]:m[3]]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := cleanRemark(text[m[1]:end])
		if content == "" {
			continue
		}
		switch strings.ToUpper(tag) {
		case "CONTEXT":
			out.Context = append(out.Context, content)
		case "COORD":
			out.Coord = append(out.Coord, content)
		case "DISAMBIGUATION":
			out.Disambiguation = append(out.Disambiguation, content)
		case "ASSOCIATION":
			out.Association = append(out.Association, content)
		case "INFERENCE":
			out.Inference = append(out.Inference, content)
		case "AUTOMATIC":
			out.Automatic = append(out.Automatic, content)
		case "SOURCE":
			out.Source = append(out.Source, content)
		case "ALT_LABEL":
			out.AltLabel = append(out.AltLabel, content)
		default:
			out.Other = append(out.Other, "["+tag+"] "+content)
		}
	}
	return out
}

func cleanRemark(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	return strings.TrimSpace(s)
}
