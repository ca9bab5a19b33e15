package mapping

import (
	"sort"
	"strings"

	"github.com/kartoteket/kundeimport/internal/domain"
	"github.com/kartoteket/kundeimport/internal/fingerprint"
)

// headerSynonyms maps known header spellings to target customer fields. This
// is the deterministic fallback when no external suggestion source is wired.
var headerSynonyms = map[string][]string{
	domain.FieldNavn:       {"navn", "name", "kunde", "kundenavn", "firmanavn", "firma", "company"},
	domain.FieldAdresse:    {"adresse", "address", "gateadresse", "gate", "street"},
	domain.FieldPostnummer: {"postnummer", "postnr", "zip", "zipcode", "postal code"},
	domain.FieldPoststed:   {"poststed", "by", "sted", "city"},
	domain.FieldEpost:      {"epost", "e-post", "email", "e-mail", "mail"},
	domain.FieldTelefon:    {"telefon", "tlf", "phone", "mobil", "mobile"},
	domain.FieldOrgnummer:  {"orgnummer", "org.nr", "orgnr", "organisasjonsnummer"},
	domain.FieldEksternID:  {"kundenr", "kundenummer", "ekstern id", "external id", "customer id"},
}

// synonymFieldOrder fixes the scan order over headerSynonyms so equal-score
// ties always resolve to the same target field.
var synonymFieldOrder = []string{
	domain.FieldNavn,
	domain.FieldAdresse,
	domain.FieldPostnummer,
	domain.FieldPoststed,
	domain.FieldEpost,
	domain.FieldTelefon,
	domain.FieldOrgnummer,
	domain.FieldEksternID,
}

// fuzzySuggestThreshold is the minimum header similarity for a fuzzy
// synonym hit to be suggested at all.
const fuzzySuggestThreshold = 0.8

// Suggest merges deterministic pattern matches with externally supplied
// suggestions into one ranked candidate list. External confidence and
// reasoning pass through unmodified; ranking is by confidence, ties broken
// by source column for deterministic output. Nothing here persists anything:
// suggestions become a template only after human confirmation.
func Suggest(headers []string, external []domain.MappingSuggestion) []domain.MappingSuggestion {
	suggestions := make([]domain.MappingSuggestion, 0, len(headers)+len(external))

	for _, header := range headers {
		if s, ok := patternSuggestion(header); ok {
			suggestions = append(suggestions, s)
		}
	}
	suggestions = append(suggestions, external...)

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Confidence != suggestions[j].Confidence {
			return suggestions[i].Confidence > suggestions[j].Confidence
		}
		return suggestions[i].SourceColumn < suggestions[j].SourceColumn
	})
	return suggestions
}

func patternSuggestion(header string) (domain.MappingSuggestion, bool) {
	normalized := fingerprint.Normalize(header)

	var (
		bestField string
		bestScore float64
		bestWhy   string
	)
	for _, field := range synonymFieldOrder {
		synonyms := headerSynonyms[field]
		for _, synonym := range synonyms {
			switch {
			case normalized == synonym:
				if 0.95 > bestScore {
					bestField, bestScore = field, 0.95
					bestWhy = "header matches known name"
				}
			case strings.Contains(normalized, synonym):
				if 0.75 > bestScore {
					bestField, bestScore = field, 0.75
					bestWhy = "header contains known name"
				}
			default:
				if score := fingerprint.Similarity(normalized, synonym); score >= fuzzySuggestThreshold && score*0.9 > bestScore {
					bestField, bestScore = field, score*0.9
					bestWhy = "header is close to known name"
				}
			}
		}
	}

	if bestField == "" {
		return domain.MappingSuggestion{}, false
	}
	return domain.MappingSuggestion{
		SourceColumn: header,
		TargetField:  bestField,
		Confidence:   bestScore,
		Reasoning:    bestWhy,
		Origin:       "pattern",
	}, true
}
