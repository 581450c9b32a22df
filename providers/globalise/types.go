package globalise

// Classification ist ein classified_as-Eintrag (Linked Art).
type Classification struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"_label"`
}

// Name ist ein identified_by-Eintrag.
type Name struct {
	Type         string           `json:"type"`
	Content      string           `json:"content"`
	ClassifiedAs []Classification `json:"classified_as"`
}

// Reference ist ein part_of-Eintrag.
type Reference struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"_label"`
}

// Statement ist ein referred_to_by-Eintrag (Beschreibung, Bemerkungen).
type Statement struct {
	Type         string           `json:"type"`
	Content      string           `json:"content"`
	ClassifiedAs []Classification `json:"classified_as"`
}

// Place ist ein Ort des GLOBALISE/NeRu-Datensatzes.
type Place struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Label        string           `json:"_label"`
	ClassifiedAs []Classification `json:"classified_as"`
	IdentifiedBy []Name           `json:"identified_by"`
	ReferredToBy []Statement      `json:"referred_to_by"`
	PartOf       []Reference      `json:"part_of"`
	DefinedBy    string           `json:"defined_by"`
}

func hasClass(classes []Classification, match func(Classification) bool) bool {
	for _, c := range classes {
		if match(c) {
			return true
		}
	}
	return false
}
