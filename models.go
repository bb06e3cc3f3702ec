// Package taxonfinder identifies biological taxa mentioned in free-form
// natural-language text and resolves each mention to a canonical taxon
// record via a streaming extraction-and-resolution pipeline.
package taxonfinder

// ExtractionMethod names the extractor that produced a Candidate.
type ExtractionMethod string

const (
	MethodGazetteer  ExtractionMethod = "gazetteer"
	MethodLatinRegex ExtractionMethod = "latin_regex"
	MethodLLM        ExtractionMethod = "llm"
)

// Candidate is a single raw hit produced by an extractor, anchored to a
// byte span of the source text.
type Candidate struct {
	SourceText        string
	SourceContext     string
	LineNumber        int
	StartChar         int
	EndChar           int
	Normalized        string
	Lemmatized        string
	Method            ExtractionMethod
	Confidence        float64
	GazetteerTaxonIDs []int
}

// Occurrence records one surface appearance of a merged candidate group.
type Occurrence struct {
	LineNumber    int    `json:"line_number"`
	SourceText    string `json:"source_text"`
	SourceContext string `json:"source_context"`
}

// ToOccurrence reduces a Candidate to the span/text fields carried forward
// once it has been merged into a group.
func (c Candidate) ToOccurrence() Occurrence {
	return Occurrence{
		LineNumber:    c.LineNumber,
		SourceText:    c.SourceText,
		SourceContext: c.SourceContext,
	}
}

// CandidateGroup is the result of merging overlapping/duplicate candidates
// that share a lemma and a compatible taxon-ID set.
type CandidateGroup struct {
	Normalized        string
	Lemmatized        string
	Method            ExtractionMethod
	Confidence        float64
	Occurrences       []Occurrence
	GazetteerTaxonIDs []int
	SkipResolution    bool
}

// TaxonomyInfo is the ancestor-rank ladder for a matched taxon. The "class"
// rank is exposed on the wire as bare "class", not "class_" (the Class
// field's `json:"class"` tag).
//
// _taxonomy_from_ancestry limitation: when synthesized from a gazetteer
// ancestry string (the skip-resolution path), only the focal rank is
// populated — ancestor taxon IDs in the ancestry string are not resolved to
// names without an additional lookup table. Callers that go through the
// upstream searcher get the full ladder from the response's ancestors[].
type TaxonomyInfo struct {
	Kingdom *string `json:"kingdom"`
	Phylum  *string `json:"phylum"`
	Class   *string `json:"class"`
	Order   *string `json:"order"`
	Family  *string `json:"family"`
	Genus   *string `json:"genus"`
	Species *string `json:"species"`
}

// SetRank assigns name to the TaxonomyInfo field matching rank, a no-op for
// unrecognized ranks.
func (t *TaxonomyInfo) SetRank(rank, name string) {
	if rank == "" || name == "" {
		return
	}
	n := name
	switch rank {
	case "kingdom":
		t.Kingdom = &n
	case "phylum":
		t.Phylum = &n
	case "class":
		t.Class = &n
	case "order":
		t.Order = &n
	case "family":
		t.Family = &n
	case "genus":
		t.Genus = &n
	case "species":
		t.Species = &n
	}
}

// TaxonMatch is one candidate resolution returned by a Searcher.
type TaxonMatch struct {
	TaxonID            int          `json:"taxon_id"`
	TaxonName          string       `json:"taxon_name"`
	TaxonRank          string       `json:"taxon_rank"`
	Taxonomy           TaxonomyInfo `json:"taxonomy"`
	TaxonCommonNameEn  *string      `json:"taxon_common_name_en"`
	TaxonCommonNameLoc *string      `json:"taxon_common_name_loc"`
	TaxonMatchedName   string       `json:"taxon_matched_name"`
	TaxonURL           string       `json:"taxon_url"`
	Score              float64      `json:"score"`
	TaxonNames         []string     `json:"-"`
}

// LlmEnrichmentResponse is the parsed output of the LLM enricher for one
// unresolved candidate group.
type LlmEnrichmentResponse struct {
	CommonNamesLoc []string `json:"common_names_loc"`
	CommonNamesEn  []string `json:"common_names_en"`
	LatinNames     []string `json:"latin_names"`
}

// ResolvedCandidate pairs a CandidateGroup with the outcome of resolution
// and (optionally) enrichment.
type ResolvedCandidate struct {
	Group         CandidateGroup
	Matches       []TaxonMatch
	Identified    bool
	LlmResponse   *LlmEnrichmentResponse
	CandidateNames []string
	Reason        string
}

// TaxonResult is one finished, assembled pipeline output.
type TaxonResult struct {
	SourceText          string                 `json:"source_text"`
	Identified          bool                   `json:"identified"`
	ExtractionConfidence float64               `json:"extraction_confidence"`
	ExtractionMethod    ExtractionMethod        `json:"extraction_method"`
	Occurrences         []Occurrence           `json:"occurrences"`
	Matches             []TaxonMatch            `json:"matches"`
	LlmResponse         *LlmEnrichmentResponse  `json:"llm_response"`
	CandidateNames      []string               `json:"candidate_names"`
	Reason              string                 `json:"reason"`
}

// Count is the number of distinct surface occurrences folded into this
// result.
func (r TaxonResult) Count() int {
	return len(r.Occurrences)
}
