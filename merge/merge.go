// Package merge implements the two-stage candidate merger: span-overlap
// resolution followed by lemma-keyed grouping with taxon-ID compatibility.
package merge

import (
	"sort"

	"taxonfinder"
)

var methodPriority = map[taxonfinder.ExtractionMethod]int{
	taxonfinder.MethodGazetteer:  3,
	taxonfinder.MethodLatinRegex: 2,
	taxonfinder.MethodLLM:        1,
}

// SkipResolutionCheck decides, for a single candidate, whether its group
// can skip upstream resolution because it already carries a full gazetteer
// record.
type SkipResolutionCheck func(taxonfinder.Candidate) bool

// groupBuilder accumulates the candidates that will become one
// CandidateGroup.
type groupBuilder struct {
	normalized        string
	lemmatized        string
	method            taxonfinder.ExtractionMethod
	confidence        float64
	spanLength        int
	gazetteerTaxonIDs []int
	occurrences       []taxonfinder.Occurrence
	members           []taxonfinder.Candidate
}

func newGroupBuilder(candidate taxonfinder.Candidate) *groupBuilder {
	return &groupBuilder{
		normalized:        candidate.Normalized,
		lemmatized:        candidate.Lemmatized,
		method:            candidate.Method,
		confidence:        candidate.Confidence,
		spanLength:        candidate.EndChar - candidate.StartChar,
		gazetteerTaxonIDs: append([]int(nil), candidate.GazetteerTaxonIDs...),
		occurrences:       []taxonfinder.Occurrence{candidate.ToOccurrence()},
		members:           []taxonfinder.Candidate{candidate},
	}
}

// add folds candidate into the builder: appends its occurrence, unions its
// taxon IDs, and promotes it to representative if it beats the current one
// under the same (confidence, method priority, span length) ordering used
// in Stage A.
func (b *groupBuilder) add(candidate taxonfinder.Candidate) {
	b.occurrences = append(b.occurrences, candidate.ToOccurrence())
	b.members = append(b.members, candidate)
	b.gazetteerTaxonIDs = mergeTaxonIDs(b.gazetteerTaxonIDs, candidate.GazetteerTaxonIDs)

	representative := taxonfinder.Candidate{
		Normalized:        b.normalized,
		Lemmatized:        b.lemmatized,
		Method:            b.method,
		Confidence:        b.confidence,
		EndChar:           b.spanLength,
		GazetteerTaxonIDs: b.gazetteerTaxonIDs,
	}
	if selectBestIndex([]taxonfinder.Candidate{representative, candidate}) == 1 {
		b.normalized = candidate.Normalized
		b.method = candidate.Method
		b.confidence = candidate.Confidence
		b.spanLength = candidate.EndChar - candidate.StartChar
	}
}

func (b *groupBuilder) build(skip bool) taxonfinder.CandidateGroup {
	return taxonfinder.CandidateGroup{
		Normalized:        b.normalized,
		Lemmatized:        b.lemmatized,
		Method:            b.method,
		Confidence:        b.confidence,
		Occurrences:       append([]taxonfinder.Occurrence(nil), b.occurrences...),
		GazetteerTaxonIDs: append([]int(nil), b.gazetteerTaxonIDs...),
		SkipResolution:    skip,
	}
}

// Merge runs Stage A (overlap resolution) and Stage B (lemma grouping) over
// candidates and returns the resulting groups. skipResolutionCheck may be
// nil, in which case no group is ever marked SkipResolution.
func Merge(candidates []taxonfinder.Candidate, skipResolutionCheck SkipResolutionCheck) []taxonfinder.CandidateGroup {
	best := selectBestOverlaps(candidates)

	grouped := make(map[string][]*groupBuilder)
	var order []string

	for _, candidate := range best {
		builders, seen := grouped[candidate.Lemmatized]
		if !seen {
			order = append(order, candidate.Lemmatized)
		}

		placed := false
		for _, b := range builders {
			if canMerge(b.gazetteerTaxonIDs, candidate.GazetteerTaxonIDs) {
				b.add(candidate)
				placed = true
				break
			}
		}
		if !placed {
			builders = append(builders, newGroupBuilder(candidate))
		}
		grouped[candidate.Lemmatized] = builders
	}

	var groups []taxonfinder.CandidateGroup
	for _, lemma := range order {
		for _, b := range grouped[lemma] {
			skip := false
			if skipResolutionCheck != nil {
				for _, m := range b.members {
					if skipResolutionCheck(m) {
						skip = true
						break
					}
				}
			}
			groups = append(groups, b.build(skip))
		}
	}
	return groups
}

// selectBestOverlaps sorts candidates by (start, end) and greedily clusters
// overlapping spans (next.start < currentEnd), keeping only the single best
// candidate per cluster. Adjacency (next.start == currentEnd) is not
// overlap.
func selectBestOverlaps(candidates []taxonfinder.Candidate) []taxonfinder.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	ordered := append([]taxonfinder.Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].StartChar != ordered[j].StartChar {
			return ordered[i].StartChar < ordered[j].StartChar
		}
		return ordered[i].EndChar < ordered[j].EndChar
	})

	var clusters [][]taxonfinder.Candidate
	current := []taxonfinder.Candidate{ordered[0]}
	currentEnd := ordered[0].EndChar

	for _, cand := range ordered[1:] {
		if cand.StartChar < currentEnd {
			current = append(current, cand)
			if cand.EndChar > currentEnd {
				currentEnd = cand.EndChar
			}
		} else {
			clusters = append(clusters, current)
			current = []taxonfinder.Candidate{cand}
			currentEnd = cand.EndChar
		}
	}
	clusters = append(clusters, current)

	best := make([]taxonfinder.Candidate, 0, len(clusters))
	for _, cluster := range clusters {
		best = append(best, cluster[selectBestIndex(cluster)])
	}
	return best
}

// selectBestIndex returns the index of the lexicographically greatest
// candidate by (confidence, method priority, span length).
func selectBestIndex(candidates []taxonfinder.Candidate) int {
	bestIdx := 0
	for i := 1; i < len(candidates); i++ {
		if scoreLess(candidates[bestIdx], candidates[i]) {
			bestIdx = i
		}
	}
	return bestIdx
}

func scoreLess(a, b taxonfinder.Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence < b.Confidence
	}
	pa, pb := methodPriority[a.Method], methodPriority[b.Method]
	if pa != pb {
		return pa < pb
	}
	return (a.EndChar - a.StartChar) < (b.EndChar - b.StartChar)
}

func canMerge(idsA, idsB []int) bool {
	if len(idsA) == 0 || len(idsB) == 0 {
		return true
	}
	set := make(map[int]bool, len(idsA))
	for _, id := range idsA {
		set[id] = true
	}
	for _, id := range idsB {
		if set[id] {
			return true
		}
	}
	return false
}

func mergeTaxonIDs(a, b []int) []int {
	if len(a) == 0 {
		return append([]int(nil), b...)
	}
	if len(b) == 0 {
		return append([]int(nil), a...)
	}
	set := make(map[int]bool, len(a)+len(b))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		set[id] = true
	}
	merged := make([]int, 0, len(set))
	for id := range set {
		merged = append(merged, id)
	}
	sort.Ints(merged)
	return merged
}
