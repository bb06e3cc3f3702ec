package gazetteer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonfinder"
	extractgaz "taxonfinder/extract/gazetteer"
)

func TestExtract_ExactNormalizedHit_UniqueTaxon(t *testing.T) {
	mappings := extractgaz.Mappings{
		Normalized: map[string][]int{"липа": {54586}},
	}
	e := extractgaz.New(mappings, nil, 0)

	candidates := e.Extract("В парке растёт старая липа.")

	require.Len(t, candidates, 1)
	assert.Equal(t, taxonfinder.MethodGazetteer, candidates[0].Method)
}

func TestExtract_ExactNormalizedHit_Ambiguous(t *testing.T) {
	mappings := extractgaz.Mappings{
		Normalized: map[string][]int{"липа": {1, 2}},
	}
	e := extractgaz.New(mappings, nil, 0)

	candidates := e.Extract("липа растёт здесь")

	require.Len(t, candidates, 1)
	assert.Equal(t, 0.8, candidates[0].Confidence)
	assert.ElementsMatch(t, []int{1, 2}, candidates[0].GazetteerTaxonIDs)
}

func TestExtract_LemmatizedHit_FallsBackWhenNoNormalizedMatch(t *testing.T) {
	mappings := extractgaz.Mappings{
		Lemmatized: map[string][]int{"липа": {54586}},
	}
	morph := fakeMorph{"липы": "липа"}
	e := extractgaz.New(mappings, morph, 0)

	candidates := e.Extract("видел липы")

	require.Len(t, candidates, 1)
	assert.Equal(t, 0.9, candidates[0].Confidence)
}

func TestExtract_NoMatch_ReturnsEmpty(t *testing.T) {
	mappings := extractgaz.Mappings{Normalized: map[string][]int{"липа": {1}}}
	e := extractgaz.New(mappings, nil, 0)

	candidates := e.Extract("ничего интересного тут нет")

	assert.Empty(t, candidates)
}

func TestExtract_MultiWordPhrase_Matched(t *testing.T) {
	mappings := extractgaz.Mappings{
		Normalized: map[string][]int{"белый гриб": {9001}},
	}
	e := extractgaz.New(mappings, nil, 0)

	candidates := e.Extract("в лесу нашли белый гриб у тропы")

	require.Len(t, candidates, 1)
	assert.Equal(t, "белый гриб", candidates[0].Normalized)
}

type fakeMorph map[string]string

func (m fakeMorph) Parse(word string) []string {
	if lemma, ok := m[word]; ok {
		return []string{lemma}
	}
	return nil
}
