package enrichment

import (
	"encoding/json"
	"strings"

	"vault-iiif-mirror/internal/manifest"
	"vault-iiif-mirror/internal/models"
)

// shelfmarkKeys, dateKeys and languageKeys are the metadata keys
// (lowercased) consulted for shelfmark/date/language, tried in this order
// per field.
var (
	shelfmarkKeys = []string{"shelfmark", "collocazione", "segnatura", "cote"}
	dateKeys      = []string{"date", "data", "datazione"}
	languageKeys  = []string{"language", "lingua", "langue"}
)

// ExternalFetcher fetches a catalog detail page's HTML, implemented by
// internal/httpclient at the call site. Kept as an interface here so this
// package stays free of transport concerns and is trivial to test.
type ExternalFetcher func(url string) (string, error)

// BuildCatalogEnrichment runs the full enrichment pipeline over a parsed
// manifest: item-type inference, shelfmark/date/language extraction, best
// source-detail-URL selection, and (when fetchExternal is non-nil and
// enrichExternal is true) reference-text scraping from that detail page.
// Mirrors the original archiver's parse_manifest_catalog end to end.
func BuildCatalogEnrichment(m *manifest.Manifest, manifestURL, docID string, fetchExternal ExternalFetcher, enrichExternal bool) models.CatalogEnrichment {
	metadataMap := m.MetadataMap()

	itemType, confidence, reason := InferItemType(m.Label, m.Description, metadataMap)

	shelfmark := firstMetadataValue(metadataMap, shelfmarkKeys)
	dateLabel := firstMetadataValue(metadataMap, dateKeys)
	languageLabel := firstMetadataValue(metadataMap, languageKeys)

	var fallback []string
	if strings.Contains(strings.ToLower(manifestURL), "vatlib.it") {
		if u := DeriveVaticanDetailURL(manifestURL, docID); u != "" {
			fallback = append(fallback, u)
		}
	}
	sourceDetailURL := ChoosePrimaryDetailURL(m.SeeAlso, shelfmark, docID, fallback)

	catalogTitle := selectManifestTitle(m, metadataMap)

	enrichment := models.CatalogEnrichment{
		ManifestID:         manifestURL,
		Label:              m.Label,
		Description:        m.Description,
		Attribution:        m.Attribution,
		Shelfmark:          shelfmark,
		DateLabel:          dateLabel,
		LanguageLabel:      languageLabel,
		SeeAlsoURLs:        m.SeeAlso,
		SourceDetailURL:    sourceDetailURL,
		CatalogTitle:       catalogTitle,
		ItemType:           itemType,
		ItemTypeConfidence: confidence,
		ItemTypeReason:     reason,
		MetadataMap:        metadataMap,
		ExternalFields:     map[string]string{},
	}

	if b, err := json.Marshal(metadataMap); err == nil {
		enrichment.MetadataJSON = string(b)
	}

	if pdfURL, ok := m.NativePDF(); ok {
		enrichment.HasNativePDF = true
		enrichment.NativePDFURL = pdfURL
	}

	if enrichExternal && fetchExternal != nil && sourceDetailURL != "" {
		if pageHTML, err := fetchExternal(sourceDetailURL); err == nil {
			data := ExtractReferenceFromHTML(pageHTML)
			if data.ReferenceText != "" {
				enrichment.ReferenceText = data.ReferenceText
				if enrichment.CatalogTitle == "" {
					enrichment.CatalogTitle = data.ReferenceText
				}
			}
			if data.Author != "" {
				enrichment.ExternalFields["author"] = data.Author
			}
			if data.Description != "" {
				enrichment.ExternalFields["description"] = data.Description
			}
		}
	}

	return enrichment
}

func firstMetadataValue(metadataMap map[string]string, keys []string) string {
	for _, k := range keys {
		if v, ok := metadataMap[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

// selectManifestTitle prefers the manifest's own label, falling back to a
// metadata title field, and discards anything that reads as generic
// repository chrome.
func selectManifestTitle(m *manifest.Manifest, metadataMap map[string]string) string {
	if m.Label != "" && !IsGenericSiteTitle(m.Label) {
		return m.Label
	}
	if t, ok := metadataMap["title"]; ok && t != "" && !IsGenericSiteTitle(t) {
		return t
	}
	return ""
}
