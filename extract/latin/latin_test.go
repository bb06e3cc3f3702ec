package latin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonfinder"
	"taxonfinder/extract/latin"
)

func TestExtract_BinomialMatch_UnknownName(t *testing.T) {
	e := latin.New(nil)

	candidates := e.Extract("We found Tilia cordata, near the river.", nil)

	require.Len(t, candidates, 1)
	assert.Equal(t, "Tilia cordata", candidates[0].SourceText)
	assert.Equal(t, 0.7, candidates[0].Confidence)
	assert.Equal(t, taxonfinder.MethodLatinRegex, candidates[0].Method)
}

func TestExtract_BinomialMatch_KnownNameRaisesConfidence(t *testing.T) {
	known := func(lower string) bool { return lower == "tilia cordata" }
	e := latin.New(nil, latin.WithKnownNamePredicate(known))

	candidates := e.Extract("Tilia cordata, grows here.", nil)

	require.Len(t, candidates, 1)
	assert.Equal(t, 0.9, candidates[0].Confidence)
}

func TestExtract_RejectsStopPhrase(t *testing.T) {
	e := latin.New(nil)

	candidates := e.Extract("Status quo, restored at last.", nil)

	assert.Empty(t, candidates)
}

func TestExtract_RejectsShortWords(t *testing.T) {
	e := latin.New(nil)

	candidates := e.Extract("Is Ab cd a valid binomial?", nil)

	assert.Empty(t, candidates)
}

func TestExtract_RejectsPersonTitle(t *testing.T) {
	e := latin.New(nil)

	candidates := e.Extract("According to Dr. Smith mayer, this works.", nil)

	assert.Empty(t, candidates)
}

func TestExtract_ThreeWordBinomial(t *testing.T) {
	e := latin.New(nil)

	candidates := e.Extract("We observed Quercus robur pedunculata.", nil)

	require.Len(t, candidates, 1)
	assert.Equal(t, "Quercus robur pedunculata", candidates[0].SourceText)
}
