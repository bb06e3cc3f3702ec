// Package identify implements the identification resolver: the decision of
// whether a CandidateGroup's resolved matches confirm, reject, or leave
// ambiguous the group's identity.
package identify

import (
	"taxonfinder"
	"taxonfinder/normalize"
)

// Resolve decides (identified, reason) for group given its resolved
// matches. reason is empty iff identified.
func Resolve(group taxonfinder.CandidateGroup, matches []taxonfinder.TaxonMatch) (bool, string) {
	if len(matches) == 0 {
		return false, "No matches in iNaturalist"
	}

	for _, match := range matches {
		if matchesName(group.Normalized, group.Lemmatized, match) {
			return true, ""
		}
	}

	if len(matches) > 1 {
		return false, "Multiple candidate taxa found"
	}
	return false, "Common name not matched"
}

func matchesName(normalized, lemmatized string, match taxonfinder.TaxonMatch) bool {
	candidates := matchCandidates(match)
	return candidates[normalized] || candidates[lemmatized]
}

func matchCandidates(match taxonfinder.TaxonMatch) map[string]bool {
	values := []string{match.TaxonMatchedName, match.TaxonName}
	if match.TaxonCommonNameEn != nil {
		values = append(values, *match.TaxonCommonNameEn)
	}
	if match.TaxonCommonNameLoc != nil {
		values = append(values, *match.TaxonCommonNameLoc)
	}
	values = append(values, match.TaxonNames...)

	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		set[normalize.Normalize(v)] = true
	}
	return set
}
