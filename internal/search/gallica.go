// Package search implements the external catalog-discovery surfaces: BnF's
// SRU/CQL search (Gallica), an HTML scrape of the Institut de France
// digital library's record listing, and Vatican Library shelfmark
// probing (digi.vatlib.it exposes no public search API, so candidate
// shelfmarks are synthesized and checked against the manifest endpoint
// directly).
package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"vault-iiif-mirror/internal/httpclient"
	"vault-iiif-mirror/internal/models"
)

const gallicaSRUEndpoint = "https://gallica.bnf.fr/SRU"

// sruResponse models just enough of a SRU searchRetrieveResponse to reach
// the Dublin Core records; stdlib encoding/xml never resolves external
// entities or DTDs, so this decoding is XXE-safe by construction without
// needing a dedicated safe-XML library.
type sruResponse struct {
	XMLName xml.Name   `xml:"searchRetrieveResponse"`
	Records []sruRecord `xml:"records>record"`
}

type sruRecord struct {
	DC dublinCore `xml:"recordData>dc"`
}

type dublinCore struct {
	Title       []string `xml:"title"`
	Creator     []string `xml:"creator"`
	Date        []string `xml:"date"`
	Description []string `xml:"description"`
	Publisher   []string `xml:"publisher"`
	Source      []string `xml:"source"`
	Language    []string `xml:"language"`
	Identifier  []string `xml:"identifier"`
}

// SearchGallica runs a CQL query against BnF's SRU endpoint and returns
// the Dublin Core records as SearchResult, keeping only records that
// carry (or can be constructed into) a resolvable ark:/ identifier.
// Mirrors the original archiver's search_gallica: title-and-manuscript
// CQL, collapsing enabled, maximumRecords capped at 50, and embedded
// double quotes replaced with single quotes so a query containing double
// quotes cannot close the quoted CQL term early. A failed request or an
// unparseable response is logged and yields an empty result, not an error.
func SearchGallica(ctx context.Context, client *httpclient.Client, query string, maxRecords int) ([]models.SearchResult, error) {
	if maxRecords <= 0 || maxRecords > 50 {
		maxRecords = 50
	}
	escaped := strings.ReplaceAll(query, `"`, `'`)
	cql := fmt.Sprintf(`(dc.title all "%s") and (dc.type all "manuscrit")`, escaped)
	u := fmt.Sprintf("%s?operation=searchRetrieve&version=1.2&query=%s&maximumRecords=%d&startRecord=1&collapsing=true&recordSchema=dc",
		gallicaSRUEndpoint, url.QueryEscape(cql), maxRecords)

	body, err := client.Get(ctx, u)
	if err != nil {
		log.WithError(err).Warn("querying Gallica SRU failed")
		return nil, nil
	}

	var resp sruResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		log.WithError(err).Warn("parsing Gallica SRU response failed")
		return nil, nil
	}

	var out []models.SearchResult
	for _, rec := range resp.Records {
		ark, ok := extractValidIdentifier(rec.DC.Identifier, rec.DC.Source)
		if !ok {
			continue
		}
		out = append(out, dcToSearchResult(rec.DC, ark))
	}
	return out, nil
}

// extractValidIdentifier scans identifier and source fields for an
// ark:/... substring first; when none is present it falls back to
// accepting a bare identifier (one starting with "b" or "c", BnF's own
// document-id convention) and constructs its ark under the BnF NAAN
// 12148, matching the original archiver's _extract_valid_identifier.
func extractValidIdentifier(candidates ...[]string) (string, bool) {
	for _, list := range candidates {
		for _, v := range list {
			if idx := strings.Index(v, "ark:/"); idx >= 0 {
				return v[idx:], true
			}
		}
	}
	for _, list := range candidates {
		for _, v := range list {
			v = strings.TrimSpace(v)
			if v != "" && (strings.HasPrefix(v, "b") || strings.HasPrefix(v, "c")) && !strings.ContainsAny(v, " /:") {
				return "ark:/12148/" + v, true
			}
		}
	}
	return "", false
}

func dcToSearchResult(dc dublinCore, ark string) models.SearchResult {
	parts := strings.SplitN(strings.TrimPrefix(ark, "ark:/"), "/", 2)
	var manifestURL, docID string
	if len(parts) == 2 {
		docID = parts[1]
		manifestURL = fmt.Sprintf("https://gallica.bnf.fr/iiif/ark:/%s/%s/manifest.json", parts[0], parts[1])
	}
	return models.SearchResult{
		ID:          docID,
		Title:       firstOrEmpty(dc.Title),
		Author:      firstOrEmpty(dc.Creator),
		Manifest:    manifestURL,
		Thumbnail:   fmt.Sprintf("https://gallica.bnf.fr/%s.thumbnail", ark),
		Library:     "Gallica",
		Date:        firstOrEmpty(dc.Date),
		Description: firstOrEmpty(dc.Description),
		Publisher:   firstOrEmpty(dc.Publisher),
		Language:    firstOrEmpty(dc.Language),
		Ark:         ark,
	}
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
