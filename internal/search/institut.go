package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"vault-iiif-mirror/internal/httpclient"
	"vault-iiif-mirror/internal/models"
)

const institutSearchURL = "https://bibnum.institutdefrance.fr/records/default?search="

var institutRecordLinkRE = regexp.MustCompile(`href="(/records/item/(\d+)[^"]*)"[^>]*>([^<]*)<`)

// SearchInstitutDeFrance scrapes the Institut de France digital library's
// search result page for a free-text query, since the site exposes no
// structured search API. Each matched record link yields one
// SearchResult with a manifest URL built from the extracted document id.
// A failed request is logged and yields an empty result, not an error.
func SearchInstitutDeFrance(ctx context.Context, client *httpclient.Client, query string) ([]models.SearchResult, error) {
	body, err := client.Get(ctx, institutSearchURL+query)
	if err != nil {
		log.WithError(err).Warn("fetching Institut de France search results failed")
		return nil, nil
	}

	matches := institutRecordLinkRE.FindAllStringSubmatch(string(body), -1)
	seen := make(map[string]bool)
	var out []models.SearchResult
	for _, m := range matches {
		docID := m[2]
		if seen[docID] {
			continue
		}
		seen[docID] = true
		title := strings.TrimSpace(m[3])
		out = append(out, models.SearchResult{
			ID:       docID,
			Title:    title,
			Manifest: fmt.Sprintf("https://bibnum.institutdefrance.fr/iiif/%s/manifest", docID),
			Library:  "Institut de France",
		})
	}
	return out, nil
}
