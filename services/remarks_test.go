package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRemarksTags(t *testing.T) {
	r := ParseRemarks("[CONTEXT] Foo. [COORD] 1,2. [WEIRD] Bar.")
	assert.Equal(t, []string{"Foo"}, r.Context)
	assert.Equal(t, []string{"1,2"}, r.Coord)
	assert.Equal(t, []string{"[WEIRD] Bar"}, r.Other)
	assert.Empty(t, r.Disambiguation)
	assert.Empty(t, r.Association)
	assert.Empty(t, r.Inference)
	assert.Empty(t, r.Automatic)
	assert.Empty(t, r.Source)
	assert.Empty(t, r.AltLabel)
}

func TestParseRemarksWithoutTags(t *testing.T) {
	r := ParseRemarks("  Port town on the Malabar coast.  ")
	assert.Equal(t, []string{"Port town on the Malabar coast."}, r.Context)
	assert.Empty(t, r.Coord)
	assert.Empty(t, r.Other)
}

func TestParseRemarksCaseAndAltLabel(t *testing.T) {
	r := ParseRemarks("[alt_label] Cochim. [Source] VOC archive. [automatic] matched")
	assert.Equal(t, []string{"Cochim"}, r.AltLabel)
	assert.Equal(t, []string{"VOC archive"}, r.Source)
	assert.Equal(t, []string{"matched"}, r.Automatic)
}

func TestParseRemarksEmpty(t *testing.T) {
	r := ParseRemarks("")
	assert.True(t, r.IsEmpty())
	assert.NotNil(t, r.Context)
}
