package enrichment

import "strings"

// genericSiteTitles is the set of compacted (lowercased, non-alphanumeric
// stripped) strings known to be repository chrome rather than a real
// manuscript title — page titles like "Gallica" or "DigiVatLib" that a
// naive <title> scrape would otherwise surface as the reference text.
var genericSiteTitles = map[string]bool{
	"digivatlib":                     true,
	"gallica":                        true,
	"oaihandler":                     true,
	"bibliothequenationaledefrance":  true,
	"bibliotecaapostolicavaticana":   true,
	"searchanddiscovermanuscripts":   true,
	"advancedsearch":                 true,
	"bodleianlibraries":              true,
	"digitalbodleian":                true,
	"institutdefrance":               true,
	"bibnum":                         true,
	"home":                           true,
	"accueil":                        true,
	"bibliothquenationale":           true,
}

// IsGenericSiteTitle reports whether text is repository-chrome boilerplate
// rather than a real manuscript title, matching the original archiver's
// _is_generic_site_title: exact membership in the known-token set, any
// title (of any length) mentioning both "search" and "manuscript", and any
// title of at most three words that still contains a known token.
func IsGenericSiteTitle(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	token := compactToken(trimmed)
	if genericSiteTitles[token] {
		return true
	}

	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "search") && strings.Contains(lower, "manuscript") {
		return true
	}

	words := strings.Fields(trimmed)
	if len(words) <= 3 {
		for known := range genericSiteTitles {
			if strings.Contains(token, known) {
				return true
			}
		}
	}
	return false
}

// IsGenericCatalogText is an exported alias of IsGenericSiteTitle for
// callers outside this package.
func IsGenericCatalogText(text string) bool {
	return IsGenericSiteTitle(text)
}
