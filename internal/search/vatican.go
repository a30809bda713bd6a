package search

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"vault-iiif-mirror/internal/httpclient"
	"vault-iiif-mirror/internal/models"
	"vault-iiif-mirror/internal/resolver"
)

// vaticanCollectionPrefixes is the fixed set of shelfmark collections the
// Vatican Library's manuscript holdings are organized under. Because
// digi.vatlib.it exposes no public search endpoint, finding a manuscript
// by a bare number means probing each of these in turn.
var vaticanCollectionPrefixes = []string{
	"Urb.lat", "Vat.lat", "Pal.lat", "Reg.lat", "Barb.lat", "Vat.gr", "Pal.gr",
}

var numberOnlyRE = regexp.MustCompile(`^\d+$`)

const vaticanProbeTimeout = 8 * time.Second

// ProbeVatican takes a bare number or partial shelfmark and tries it
// against every known collection prefix, returning one SearchResult per
// manifest URL that answers with a 2xx status. If query already names
// a collection (e.g. "urb lat 1779"), only that normalized shelfmark is
// tried.
func ProbeVatican(ctx context.Context, client *httpclient.Client, query string) ([]models.SearchResult, error) {
	var candidates []string
	if numberOnlyRE.MatchString(query) {
		for _, prefix := range vaticanCollectionPrefixes {
			candidates = append(candidates, fmt.Sprintf("%s.%s", prefix, query))
		}
	} else if shelfmark, err := resolver.NormalizeShelfmark(query); err == nil {
		candidates = append(candidates, shelfmark)
	} else {
		return nil, fmt.Errorf("vatican probing: %q is neither a bare number nor a recognizable shelfmark", query)
	}

	var out []models.SearchResult
	for _, candidate := range candidates {
		docID, err := resolver.NormalizeShelfmark(candidate)
		if err != nil {
			continue
		}
		manifestURL := fmt.Sprintf("https://digi.vatlib.it/iiif/%s/manifest.json", docID)

		probeCtx, cancel := context.WithTimeout(ctx, vaticanProbeTimeout)
		status, _, err := client.GetStatus(probeCtx, manifestURL)
		cancel()
		if err != nil || status == 404 {
			continue
		}
		if status < 200 || status >= 300 {
			continue
		}

		out = append(out, models.SearchResult{
			ID:       docID,
			Title:    docID,
			Manifest: manifestURL,
			Library:  "Vaticana",
		})
	}
	return out, nil
}
