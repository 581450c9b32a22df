package services

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugInvalidRE   = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaceRE     = regexp.MustCompile(`\s+`)
	slugDashesRE    = regexp.MustCompile(`-+`)
	textIDInvalidRE = regexp.MustCompile(`[^a-z0-9]`)
	multiSpaceRE    = regexp.MustCompile(`[\s\x{00A0}]+`)
)

var ligatures = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬀ", "ff",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬆ", "st",
	"œ", "oe",
	"æ", "ae",
	"Œ", "OE",
	"Æ", "AE",
	"ß", "ss",
)

// foldDiacritics zerlegt (NFD), entfernt kombinierende Zeichen und setzt wieder zusammen (NFC).
func foldDiacritics(s string) string {
	s = ligatures.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// NormalizeText vereinheitlicht Leerraum und Unicode-Form eines erkannten Texts.
func NormalizeText(s string) string {
	s = norm.NFC.String(s)
	return strings.TrimSpace(multiSpaceRE.ReplaceAllString(s, " "))
}

// CreateSlug baut den URL-Slug eines Ortsnamens ("São Tomé" → "sao-tome").
func CreateSlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(foldDiacritics(name)))
	s = slugInvalidRE.ReplaceAllString(s, "")
	s = slugSpaceRE.ReplaceAllString(s, "-")
	s = slugDashesRE.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// TextBasedID ist die synthetische ID eines nur über Text benannten Orts.
func TextBasedID(name string) string {
	return "text-based-" + textIDInvalidRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// nameKey ist der Vergleichsschlüssel für Namen (ohne Groß-/Kleinschreibung und Diakritika).
func nameKey(name string) string {
	return strings.ToLower(NormalizeText(foldDiacritics(name)))
}

// CoordinateKey ist der Dedup-Schlüssel (Name, lat und lon auf zwei Stellen gerundet).
// Zwei Stellen entsprechen etwa einem Kilometer; nahe beieinander liegende Orte gleichen
// Namens fallen dabei zusammen.
func CoordinateKey(name string, lat, lng float64) string {
	return fmt.Sprintf("%s|%.2f|%.2f", nameKey(name), round2(lat), round2(lng))
}

func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0 // -0.00 vermeiden
	}
	return r
}
