package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonfinder"
)

func sampleResult() taxonfinder.TaxonResult {
	en := "red fox"
	return taxonfinder.TaxonResult{
		SourceText:           "Vulpes vulpes",
		Identified:           true,
		ExtractionConfidence: 0.9,
		ExtractionMethod:     taxonfinder.MethodLatinRegex,
		Occurrences: []taxonfinder.Occurrence{
			{LineNumber: 1, SourceText: "Vulpes vulpes", SourceContext: "We saw Vulpes vulpes near the river."},
			{LineNumber: 4, SourceText: "V. vulpes", SourceContext: "V. vulpes tracks crossed the trail."},
		},
		Matches: []taxonfinder.TaxonMatch{
			{TaxonID: 1, TaxonName: "Vulpes vulpes", TaxonRank: "species", TaxonCommonNameEn: &en, Score: 1.0},
		},
		CandidateNames: nil,
		Reason:         "",
	}
}

func TestDeduplicated_OneEntryPerResultWithCount(t *testing.T) {
	envelope := Deduplicated([]taxonfinder.TaxonResult{sampleResult()})

	assert.Equal(t, "1.0", envelope.Version)
	require.Len(t, envelope.Results, 1)

	item, ok := envelope.Results[0].(deduplicatedItem)
	require.True(t, ok)
	assert.Equal(t, 2, item.Count)
	assert.Equal(t, "Vulpes vulpes", item.SourceText)
	assert.True(t, item.Identified)
}

func TestDeduplicated_EmptyInput_ReturnsEmptyResults(t *testing.T) {
	envelope := Deduplicated(nil)
	assert.Equal(t, "1.0", envelope.Version)
	assert.Empty(t, envelope.Results)
}

func TestFull_OneEntryPerOccurrence(t *testing.T) {
	envelope := Full([]taxonfinder.TaxonResult{sampleResult()})

	assert.Equal(t, "1.0", envelope.Version)
	require.Len(t, envelope.Results, 2)

	first, ok := envelope.Results[0].(fullItem)
	require.True(t, ok)
	assert.Equal(t, 1, first.LineNumber)
	assert.Equal(t, "Vulpes vulpes", first.SourceText)
	assert.True(t, first.Identified)

	second, ok := envelope.Results[1].(fullItem)
	require.True(t, ok)
	assert.Equal(t, 4, second.LineNumber)
	assert.Equal(t, "V. vulpes", second.SourceText)
}

func TestFull_NoOccurrences_ProducesNoItems(t *testing.T) {
	result := sampleResult()
	result.Occurrences = nil
	envelope := Full([]taxonfinder.TaxonResult{result})
	assert.Empty(t, envelope.Results)
}

func TestFull_EmptyInput_ReturnsEmptyNotNilResults(t *testing.T) {
	envelope := Full(nil)
	assert.NotNil(t, envelope.Results)
	assert.Empty(t, envelope.Results)
}
