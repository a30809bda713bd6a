package resolver

import (
	"context"
	"strings"
)

// GenericResolver is the fallback for any manifest URL not recognized by
// a library-specific resolver: it passes the URL through unchanged and
// guesses a document id from the last meaningful path segment.
type GenericResolver struct{}

func (r *GenericResolver) CanResolve(input string) bool {
	lower := strings.ToLower(strings.TrimSpace(input))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (r *GenericResolver) ResolveManifestURL(ctx context.Context, input string) (string, string, error) {
	trimmed := strings.TrimSpace(input)
	docID := guessDocID(trimmed)
	return trimmed, docID, nil
}

func guessDocID(manifestURL string) string {
	trimmed := strings.TrimRight(manifestURL, "/")
	parts := strings.Split(trimmed, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		seg := parts[i]
		if seg == "" || strings.EqualFold(seg, "manifest.json") || strings.EqualFold(seg, "manifest") {
			continue
		}
		return seg
	}
	return "unknown"
}
