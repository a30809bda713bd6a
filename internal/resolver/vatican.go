package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"vault-iiif-mirror/internal/httpclient"
)

// shelfmarkRE matches a Vatican Library shelfmark in any of its common
// spellings: "Urb.lat.1779", "urb lat 1779", "MSS_Vat.gr.1209", etc.
// Collection codes are the handful the Vatican Library actually uses.
var shelfmarkRE = regexp.MustCompile(`(?i)^(?:MSS[_\s\-]*)?(vat|urb|pal|reg|barb|ott|borg|arch|cap)[\s\._\-:]*?(lat|gr)?[\s\._\-:]*?(\d+)$`)

// vaticanManifestPathRE extracts a document id out of a digi.vatlib.it
// viewer or manifest URL, e.g. https://digi.vatlib.it/view/MSS_Urb.lat.1779.
var vaticanManifestPathRE = regexp.MustCompile(`(?i)MSS_[A-Za-z]+\.?[A-Za-z]*\.?\d+`)

var uuidRE = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// uuidFindRE matches a UUID anywhere within a larger string, used when
// extracting one out of a URL path rather than validating a bare input.
var uuidFindRE = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// VaticanResolver handles digi.vatlib.it shelfmarks and viewer URLs. The
// Vatican Library exposes no manifest-by-ID lookup endpoint, so a bare
// shelfmark is normalized into the manifest URL convention directly
// rather than resolved through any API.
type VaticanResolver struct {
	client *httpclient.Client
}

// NormalizeShelfmark canonicalizes any of the Vatican Library's accepted
// shelfmark spellings into "MSS_<Coll>.<series>.<n>" (or "MSS_<Coll>.<n>"
// when there is no series), matching the original archiver's
// normalize_shelfmark exactly so catalog lookups and manifest URLs stay
// consistent regardless of how a shelfmark was typed.
func NormalizeShelfmark(input string) (string, error) {
	s := strings.TrimSpace(input)
	s = strings.TrimPrefix(s, "MSS_")
	s = strings.TrimPrefix(s, "mss_")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ReplaceAll(s, ".", " ")
	s = strings.ReplaceAll(s, "/", " ")
	s = strings.Join(strings.Fields(s), " ")

	m := shelfmarkRE.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("%w: %q is not a recognized Vatican shelfmark", ErrUnresolvable, input)
	}
	coll := capitalize(strings.ToLower(m[1]))
	series := strings.ToLower(m[2])
	number := m[3]

	if series != "" {
		return fmt.Sprintf("MSS_%s.%s.%s", coll, series, number), nil
	}
	return fmt.Sprintf("MSS_%s.%s", coll, number), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (r *VaticanResolver) CanResolve(input string) bool {
	if uuidRE.MatchString(strings.TrimSpace(input)) {
		return false
	}
	if strings.Contains(strings.ToLower(input), "vatlib.it") {
		return true
	}
	_, err := NormalizeShelfmark(input)
	return err == nil
}

func (r *VaticanResolver) ResolveManifestURL(ctx context.Context, input string) (string, string, error) {
	trimmed := strings.TrimSpace(input)
	if uuidRE.MatchString(trimmed) {
		return "", "", fmt.Errorf(
			"%w: %q looks like a Bodleian/Oxford UUID, not a Vatican shelfmark; "+
				"did you mean to use the Oxford resolver?", ErrUnresolvable, input)
	}

	if strings.Contains(strings.ToLower(trimmed), "vatlib.it") {
		if m := vaticanManifestPathRE.FindString(trimmed); m != "" {
			docID := m
			return fmt.Sprintf("https://digi.vatlib.it/iiif/%s/manifest.json", docID), docID, nil
		}
		parts := strings.Split(strings.TrimRight(trimmed, "/"), "/")
		docID := parts[len(parts)-1]
		return fmt.Sprintf("https://digi.vatlib.it/iiif/%s/manifest.json", docID), docID, nil
	}

	docID, err := NormalizeShelfmark(trimmed)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("https://digi.vatlib.it/iiif/%s/manifest.json", docID), docID, nil
}
