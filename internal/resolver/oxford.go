package resolver

import (
	"context"
	"fmt"
	"strings"
)

// OxfordResolver handles digital.bodleian.ox.ac.uk URLs and bare UUIDs,
// rewriting them into the Bodleian's IIIF manifest endpoint.
type OxfordResolver struct{}

func (r *OxfordResolver) CanResolve(input string) bool {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "digital.bodleian.ox.ac.uk") {
		return true
	}
	return uuidRE.MatchString(strings.TrimSpace(strings.TrimRight(input, "/")))
}

func (r *OxfordResolver) ResolveManifestURL(ctx context.Context, input string) (string, string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(input), "/")
	m := uuidFindRE.FindString(trimmed)
	if m == "" {
		return "", "", fmt.Errorf("%w: %q has no Bodleian UUID", ErrUnresolvable, input)
	}
	docID := strings.ToLower(m)
	manifestURL := fmt.Sprintf("https://iiif.bodleian.ox.ac.uk/iiif/manifest/%s.json", docID)
	return manifestURL, docID, nil
}
