// Package format renders a finished pipeline run's TaxonResults into the
// two JSON shapes the CLI can emit: deduplicated (one entry per distinct
// taxon mention, with an occurrence count) and full (one entry per surface
// occurrence).
package format

import "taxonfinder"

// Envelope wraps a results array with a wire-format version tag, letting a
// consumer detect a shape change in a future release.
type Envelope struct {
	Version string `json:"version"`
	Results []any  `json:"results"`
}

// Deduplicated renders results as one JSON object per TaxonResult, with an
// added "count" of its folded occurrences.
func Deduplicated(results []taxonfinder.TaxonResult) Envelope {
	items := make([]any, 0, len(results))
	for _, result := range results {
		items = append(items, deduplicatedItem{
			SourceText:           result.SourceText,
			Identified:           result.Identified,
			ExtractionConfidence: result.ExtractionConfidence,
			ExtractionMethod:     result.ExtractionMethod,
			Occurrences:          result.Occurrences,
			Matches:              result.Matches,
			LlmResponse:          result.LlmResponse,
			CandidateNames:       result.CandidateNames,
			Reason:               result.Reason,
			Count:                result.Count(),
		})
	}
	return Envelope{Version: "1.0", Results: items}
}

type deduplicatedItem struct {
	SourceText           string                             `json:"source_text"`
	Identified           bool                               `json:"identified"`
	ExtractionConfidence float64                            `json:"extraction_confidence"`
	ExtractionMethod     taxonfinder.ExtractionMethod       `json:"extraction_method"`
	Occurrences          []taxonfinder.Occurrence           `json:"occurrences"`
	Matches              []taxonfinder.TaxonMatch            `json:"matches"`
	LlmResponse          *taxonfinder.LlmEnrichmentResponse `json:"llm_response"`
	CandidateNames       []string                           `json:"candidate_names"`
	Reason               string                             `json:"reason"`
	Count                int                                `json:"count"`
}

// Full renders results as one JSON object per surface occurrence: the
// shared identification fields are repeated alongside each occurrence's own
// line number and source text/context.
func Full(results []taxonfinder.TaxonResult) Envelope {
	var items []any
	for _, result := range results {
		for _, occ := range result.Occurrences {
			items = append(items, fullItem{
				LineNumber:           occ.LineNumber,
				SourceText:           occ.SourceText,
				SourceContext:        occ.SourceContext,
				Identified:           result.Identified,
				ExtractionConfidence: result.ExtractionConfidence,
				ExtractionMethod:     result.ExtractionMethod,
				Matches:              result.Matches,
				CandidateNames:       result.CandidateNames,
				Reason:               result.Reason,
				LlmResponse:          result.LlmResponse,
			})
		}
	}
	if items == nil {
		items = []any{}
	}
	return Envelope{Version: "1.0", Results: items}
}

type fullItem struct {
	LineNumber           int                                `json:"line_number"`
	SourceText           string                             `json:"source_text"`
	SourceContext        string                             `json:"source_context"`
	Identified           bool                               `json:"identified"`
	ExtractionConfidence float64                            `json:"extraction_confidence"`
	ExtractionMethod     taxonfinder.ExtractionMethod       `json:"extraction_method"`
	Matches              []taxonfinder.TaxonMatch            `json:"matches"`
	CandidateNames       []string                           `json:"candidate_names"`
	Reason               string                             `json:"reason"`
	LlmResponse          *taxonfinder.LlmEnrichmentResponse `json:"llm_response"`
}
