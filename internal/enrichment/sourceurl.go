package enrichment

import (
	"regexp"
	"strings"
)

// scoreURLFeatures implements the original archiver's _score_url_features:
// a handful of host/path heuristics that bias toward a library's canonical
// catalog detail page and away from OAI endpoints, search result pages,
// and derivative media links.
func scoreURLFeatures(url string, fromSeeAlso bool) int {
	lower := strings.ToLower(url)
	score := 0

	switch {
	case isOAIURL(lower):
		score -= 500
	case isVaticanDetailURL(lower):
		score += 320
	case isGallicaCatalogURL(lower):
		score += 250
	case isOxfordDetailURL(lower):
		score += 220
	case isDetailURL(lower):
		score += 170
	}

	if isSearchURL(lower) {
		score -= 160
	}
	if isDerivativeMediaURL(lower) {
		score -= 90
	}
	if fromSeeAlso {
		score += 15
	}
	if strings.HasPrefix(lower, "https://") {
		score += 5
	}
	return score
}

func isOAIURL(lower string) bool {
	return strings.Contains(lower, "oai") && (strings.Contains(lower, "verb=") || strings.Contains(lower, "oaihandler"))
}

func isVaticanDetailURL(lower string) bool {
	return strings.Contains(lower, "digi.vatlib.it/mss/detail")
}

func isGallicaCatalogURL(lower string) bool {
	return strings.Contains(lower, "gallica.bnf.fr/ark:")
}

func isOxfordDetailURL(lower string) bool {
	return strings.Contains(lower, "digital.bodleian.ox.ac.uk/objects")
}

var detailURLMarkers = []string{"/detail", "/record", "/item", "/notice", "/catalogue"}

func isDetailURL(lower string) bool {
	for _, m := range detailURLMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var searchURLMarkers = []string{"/search", "searchanddiscover", "advancedsearch", "?q=", "query="}

func isSearchURL(lower string) bool {
	for _, m := range searchURLMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var derivativeMediaExtensions = []string{".jpg", ".jpeg", ".png", ".tif", ".tiff", ".pdf", "/full/", "/iiif/"}

func isDerivativeMediaURL(lower string) bool {
	for _, m := range derivativeMediaExtensions {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var nonWordRE = regexp.MustCompile(`[^a-z0-9]+`)

// compactToken lowercases and strips all non-alphanumeric characters,
// used both for generic-title detection and the shelfmark/doc-id
// token-match bonus.
func compactToken(s string) string {
	return nonWordRE.ReplaceAllString(strings.ToLower(s), "")
}

// urlScore adds a token-match bonus on top of scoreURLFeatures when the
// shelfmark or document id appears (in compacted form) within the URL,
// matching _url_score.
func urlScore(url, shelfmark, docID string, fromSeeAlso bool) int {
	score := scoreURLFeatures(url, fromSeeAlso)
	compactURL := compactToken(url)
	for _, token := range []string{shelfmark, docID} {
		if token == "" {
			continue
		}
		if t := compactToken(token); t != "" && strings.Contains(compactURL, t) {
			score += 80
			break
		}
	}
	return score
}

// ChoosePrimaryDetailURL dedups candidate, seeAlso and fallback URLs and
// returns the highest-scoring one, preferring seeAlso provenance on ties
// via the +15 bonus baked into urlScore.
func ChoosePrimaryDetailURL(seeAlsoURLs []string, shelfmark, docID string, fallbackURLs []string) string {
	type candidate struct {
		url         string
		fromSeeAlso bool
	}
	seen := make(map[string]bool)
	var candidates []candidate
	for _, u := range seeAlsoURLs {
		if u != "" && !seen[u] {
			seen[u] = true
			candidates = append(candidates, candidate{u, true})
		}
	}
	for _, u := range fallbackURLs {
		if u != "" && !seen[u] {
			seen[u] = true
			candidates = append(candidates, candidate{u, false})
		}
	}

	best := ""
	bestScore := -1 << 30
	for _, c := range candidates {
		s := urlScore(c.url, shelfmark, docID, c.fromSeeAlso)
		if s > bestScore {
			bestScore = s
			best = c.url
		}
	}
	return best
}

var vaticanDetailIDRE = regexp.MustCompile(`(?i)MSS_([A-Za-z]+(?:\.[A-Za-z]+)?\.?\d+)`)

// DeriveVaticanDetailURL builds the digi.vatlib.it catalog detail page URL
// for a manifest that otherwise carries no seeAlso link, stripping any
// "mss_"/"mss." prefix from the extracted id.
func DeriveVaticanDetailURL(manifestURL, docID string) string {
	detailID := docID
	if m := vaticanDetailIDRE.FindStringSubmatch(manifestURL); m != nil {
		detailID = m[1]
	}
	detailID = strings.TrimPrefix(strings.TrimPrefix(detailID, "mss_"), "mss.")
	if detailID == "" {
		return ""
	}
	return "https://digi.vatlib.it/mss/detail/" + detailID
}
