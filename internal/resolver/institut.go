package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

const institutBaseURL = "https://bibnum.institutdefrance.fr"

var (
	institutViewerRE   = regexp.MustCompile(`/viewer/(\d+)`)
	institutManifestRE = regexp.MustCompile(`/iiif/(\d+)/manifest/?`)
	institutRecordRE   = regexp.MustCompile(`/records/item/(\d+)`)
	institutNumericRE  = regexp.MustCompile(`^\d+$`)
)

// InstitutResolver handles Institut de France digital library URLs and
// bare numeric document ids, across the site's three URL shapes (viewer,
// manifest, record).
type InstitutResolver struct{}

func (r *InstitutResolver) CanResolve(input string) bool {
	trimmed := strings.TrimSpace(input)
	if institutNumericRE.MatchString(trimmed) {
		return true
	}
	lower := strings.ToLower(trimmed)
	if !strings.Contains(lower, "institutdefrance.fr") {
		return false
	}
	return institutViewerRE.MatchString(trimmed) ||
		institutManifestRE.MatchString(trimmed) ||
		institutRecordRE.MatchString(trimmed)
}

func (r *InstitutResolver) ResolveManifestURL(ctx context.Context, input string) (string, string, error) {
	trimmed := strings.TrimSpace(input)

	var docID string
	switch {
	case institutNumericRE.MatchString(trimmed):
		docID = trimmed
	case institutManifestRE.MatchString(trimmed):
		docID = institutManifestRE.FindStringSubmatch(trimmed)[1]
	case institutViewerRE.MatchString(trimmed):
		docID = institutViewerRE.FindStringSubmatch(trimmed)[1]
	case institutRecordRE.MatchString(trimmed):
		docID = institutRecordRE.FindStringSubmatch(trimmed)[1]
	default:
		return "", "", fmt.Errorf("%w: %q has no recognizable Institut de France document id", ErrUnresolvable, input)
	}

	return fmt.Sprintf("%s/iiif/%s/manifest", institutBaseURL, docID), docID, nil
}
