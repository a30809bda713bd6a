package enrichment

import (
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
)

// metaPriority is the ordered list of <meta> tags tried when looking for a
// page's real title, matching the original archiver's preference order:
// OpenGraph and Twitter card tags first (most likely to be curated),
// citation/Dublin Core tags next, generic "title" last.
var metaPriority = []struct{ attr, value string }{
	{"property", "og:title"},
	{"name", "twitter:title"},
	{"name", "citation_title"},
	{"name", "dc.title"},
	{"name", "dcterms.title"},
	{"name", "title"},
}

// ExternalPageData is what scraping a catalog detail page yields: a best
// reference title plus whatever host-specific fields were found in meta
// tags.
type ExternalPageData struct {
	ReferenceText string
	Author        string
	Description   string
}

// ExtractReferenceFromHTML pulls a human-readable reference title out of a
// catalog detail page's HTML, trying meta tags, the <title> element, the
// first h1/h2 heading, and JSON-LD in that order, and discarding anything
// that looks like generic
// repository chrome.
func ExtractReferenceFromHTML(pageHTML string) ExternalPageData {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return ExternalPageData{}
	}

	metas := extractMetaContents(doc)
	var data ExternalPageData

	for _, candidate := range metaPriority {
		key := candidate.attr + ":" + candidate.value
		if v, ok := metas[key]; ok {
			if cleaned := cleanReferenceCandidate(v); cleaned != "" && !IsGenericSiteTitle(cleaned) {
				data.ReferenceText = cleaned
				break
			}
		}
	}

	if data.ReferenceText == "" {
		if t := firstTitleText(doc); t != "" {
			if cleaned := cleanReferenceCandidate(t); cleaned != "" && !IsGenericSiteTitle(cleaned) {
				data.ReferenceText = cleaned
			}
		}
	}

	if data.ReferenceText == "" {
		if h := firstHeadingText(doc); h != "" {
			if cleaned := cleanReferenceCandidate(h); cleaned != "" && !IsGenericSiteTitle(cleaned) {
				data.ReferenceText = cleaned
			}
		}
	}

	if data.ReferenceText == "" {
		for _, obj := range extractJSONLDObjects(doc) {
			for _, key := range []string{"headline", "name", "title"} {
				if v, ok := obj[key].(string); ok {
					if cleaned := cleanReferenceCandidate(v); cleaned != "" && !IsGenericSiteTitle(cleaned) {
						data.ReferenceText = cleaned
						break
					}
				}
			}
			if data.ReferenceText != "" {
				break
			}
		}
	}

	if v, ok := metas["name:author"]; ok {
		data.Author = v
	}
	if v, ok := metas["property:og:description"]; ok {
		data.Description = v
	} else if v, ok := metas["name:description"]; ok {
		data.Description = v
	}

	return data
}

func extractMetaContents(n *html.Node) map[string]string {
	out := make(map[string]string)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var attr, value, content string
			for _, a := range n.Attr {
				switch a.Key {
				case "property":
					attr, value = "property", a.Val
				case "name":
					if attr == "" {
						attr, value = "name", a.Val
					}
				case "content":
					content = a.Val
				}
			}
			if attr != "" && value != "" && content != "" {
				out[attr+":"+strings.ToLower(value)] = strings.TrimSpace(content)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func firstHeadingText(n *html.Node) string {
	var result string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if result != "" {
			return
		}
		if n.Type == html.ElementNode && (n.Data == "h1" || n.Data == "h2") {
			result = textContent(n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return result
}

func firstTitleText(n *html.Node) string {
	var result string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if result != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			result = textContent(n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return result
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func extractJSONLDObjects(n *html.Node) []map[string]any {
	var out []map[string]any
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			isLD := false
			for _, a := range n.Attr {
				if a.Key == "type" && strings.Contains(a.Val, "ld+json") {
					isLD = true
				}
			}
			if isLD {
				raw := textContent(n)
				var obj map[string]any
				if err := json.Unmarshal([]byte(raw), &obj); err == nil {
					out = append(out, obj)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

// cleanReferenceCandidate strips surrounding whitespace and picks the best
// chunk out of a pipe/dash-separated title ("Urb.lat.1779 — BAV | DigiVatLib"
// becomes "Urb.lat.1779 — BAV"), matching the original archiver's
// _clean_reference_candidate plus _pick_best_reference_chunk.
func cleanReferenceCandidate(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	var chunks []string
	for _, sep := range []string{" | ", " — ", " – ", " - "} {
		if strings.Contains(trimmed, sep) {
			chunks = strings.Split(trimmed, sep)
			break
		}
	}
	if chunks == nil {
		chunks = []string{trimmed}
	}
	return pickBestReferenceChunk(chunks)
}

// pickBestReferenceChunk scores separator-delimited title chunks by word
// count and length, penalizing short or generic ones, matching the
// original archiver's chunk-scoring heuristic.
func pickBestReferenceChunk(chunks []string) string {
	best := ""
	bestScore := -1 << 30
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		score := len(strings.Fields(c))*10 + len(c)
		if IsGenericSiteTitle(c) {
			score -= 1000
		}
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}
