package resolver

import (
	"context"
	"fmt"
	"strings"
)

// gallicaNAAN is BnF's own Name Assigning Authority Number, substituted
// for bare document identifiers that carry no explicit ark:/<naan>/ prefix.
const gallicaNAAN = "12148"

// GallicaResolver handles gallica.bnf.fr URLs, bare ark:/<naan>/<id>
// identifiers, and bare document identifiers starting with "b" or "c"
// (e.g. "btv1b10033406t"), rewriting all three into the library's
// documented IIIF manifest endpoint.
type GallicaResolver struct{}

func (r *GallicaResolver) CanResolve(input string) bool {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "gallica.bnf.fr") || strings.Contains(input, "ark:/") {
		return true
	}
	return len(input) > 0 && (input[0] == 'b' || input[0] == 'c')
}

func (r *GallicaResolver) ResolveManifestURL(ctx context.Context, input string) (string, string, error) {
	const marker = "ark:/"
	idx := strings.Index(input, marker)
	if idx < 0 {
		// No ark:/ identifier present: treat input as a bare document id
		// (must start with "b" or "c" per §4.3) and synthesize the ark
		// under BnF's own NAAN.
		docID := strings.Trim(input, "/")
		if docID == "" || (docID[0] != 'b' && docID[0] != 'c') {
			return "", "", fmt.Errorf("%w: %q is not a recognizable Gallica identifier", ErrUnresolvable, input)
		}
		manifestURL := fmt.Sprintf("https://gallica.bnf.fr/iiif/ark:/%s/%s/manifest.json", gallicaNAAN, docID)
		return manifestURL, docID, nil
	}

	rest := input[idx+len(marker):]
	rest = strings.TrimSuffix(rest, "/manifest.json")
	rest = strings.Trim(rest, "/")

	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: %q has a malformed ark identifier", ErrUnresolvable, input)
	}
	repoID, docID := parts[0], parts[1]
	manifestURL := fmt.Sprintf("https://gallica.bnf.fr/iiif/ark:/%s/%s/manifest.json", repoID, docID)
	return manifestURL, docID, nil
}
