package enrich_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonfinder"
	"taxonfinder/enrich"
)

type stubClient struct {
	response string
	err      error
}

func (s *stubClient) Complete(ctx context.Context, systemPrompt, userContent string, schema map[string]any) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestEnrich_FiltersOutOriginatingCandidate(t *testing.T) {
	client := &stubClient{response: `{"common_names_loc":["липа","осина"],"common_names_en":["linden"],"latin_names":["Tilia cordata"]}`}
	e := enrich.New(enrich.Config{MaxRetries: 1}, client)

	group := taxonfinder.CandidateGroup{
		Normalized: "липа",
		Occurrences: []taxonfinder.Occurrence{
			{SourceText: "липу", SourceContext: "Нашли липу в лесу."},
		},
	}

	response := e.Enrich(context.Background(), "Нашли липу в лесу.", group)

	assert.Equal(t, []string{"осина"}, response.CommonNamesLoc)
	assert.Equal(t, []string{"linden"}, response.CommonNamesEn)
	assert.Equal(t, []string{"Tilia cordata"}, response.LatinNames)
}

func TestEnrich_DeduplicatesAndDropsEmpties(t *testing.T) {
	client := &stubClient{response: `{"common_names_loc":["а","а"," ",""],"common_names_en":[],"latin_names":[]}`}
	e := enrich.New(enrich.Config{MaxRetries: 1}, client)

	group := taxonfinder.CandidateGroup{Normalized: "x"}
	response := e.Enrich(context.Background(), "some text here", group)

	require.Len(t, response.CommonNamesLoc, 1)
	assert.Equal(t, "а", response.CommonNamesLoc[0])
}

func TestEnrich_InvalidJsonExhausted_ReturnsEmpty(t *testing.T) {
	client := &stubClient{response: "not json"}
	e := enrich.New(enrich.Config{MaxRetries: 1}, client)

	response := e.Enrich(context.Background(), "some text", taxonfinder.CandidateGroup{Normalized: "x"})

	assert.Empty(t, response.CommonNamesLoc)
	assert.Empty(t, response.CommonNamesEn)
	assert.Empty(t, response.LatinNames)
}
