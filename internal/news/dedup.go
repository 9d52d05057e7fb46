package news

// Deduplicate collapses near-duplicate titles. Input is expected sorted by
// score, highest first.
//
// Each article is compared with the kept representatives in keep order.
// The first one at or above threshold absorbs it: a strictly higher score
// takes over that representative's slot, otherwise the article is dropped.
// A replacement is not re-checked against the other representatives, so
// with unsorted input two kept titles may still be similar.
func Deduplicate(articles []Article, threshold float64) []Article {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	kept := make([]Article, 0, len(articles))
	for _, a := range articles {
		duplicate := false
		for i := range kept {
			if TitleSimilarity(a.Title, kept[i].Title) < threshold {
				continue
			}
			duplicate = true
			if a.ImportanceScore > kept[i].ImportanceScore {
				kept[i] = a
			}
			break
		}
		if !duplicate {
			kept = append(kept, a)
		}
	}
	return kept
}
