package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateSlug(t *testing.T) {
	cases := map[string]string{
		"Cochin":              "cochin",
		"  São Tomé  ":        "sao-tome",
		"'T RYK TREVANCOUR":   "t-ryk-trevancour",
		"Kaap de Goede Hoop!": "kaap-de-goede-hoop",
		"Paramaribo -- Fort":  "paramaribo-fort",
		"Mandie.":             "mandie",
	}
	for in, want := range cases {
		assert.Equal(t, want, CreateSlug(in), in)
	}
}

func TestTextBasedID(t *testing.T) {
	assert.Equal(t, "text-based-st--jago", TextBasedID("St. Jago"))
}

func TestCoordinateKeyRoundsToTwoDecimals(t *testing.T) {
	a := CoordinateKey("Cochin", 9.9312, 76.2673)
	b := CoordinateKey("cochin ", 9.9349, 76.2651)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, CoordinateKey("Cochin", 9.95, 76.2673))
	assert.Equal(t, CoordinateKey("Quito", -0.001, 0), CoordinateKey("quito", 0.001, 0))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "Cabo da Boa Esperança", NormalizeText("  Cabo da  Boa\nEsperança "))
}
