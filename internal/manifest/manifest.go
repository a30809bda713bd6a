// Package manifest parses IIIF Presentation API v2 and v3 manifests into
// the canonical shapes consumed by the rest of the archiver: a flattened
// label/description/attribution, an ordered canvas list, a metadata map,
// seeAlso URLs, and a thumbnail per canvas.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"vault-iiif-mirror/internal/models"
)

// Manifest is the normalized, shape-agnostic view of a fetched IIIF
// manifest document. Downstream code (engine, enrichment) consumes only
// this struct and never touches the raw JSON again.
type Manifest struct {
	Raw            map[string]any
	Label          string
	Description    string
	Attribution    string
	Canvases       []models.Canvas
	Metadata       []MetadataEntry
	SeeAlso        []string
	Rendering      []RenderingLink
}

// MetadataEntry is one label/value pair from the manifest's metadata array,
// still carrying the raw label so callers can do their own lowering.
type MetadataEntry struct {
	Label string
	Value string
}

// RenderingLink is one entry of the manifest's `rendering` array, used to
// detect a server-advertised native PDF.
type RenderingLink struct {
	ID     string
	Format string
}

// Parse decodes raw manifest JSON bytes into a Manifest. It tolerates both
// IIIF v2 (sequences/canvases/images) and v3 (items/items/items/body) shapes.
func Parse(raw []byte, manifestURL string) (*Manifest, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding manifest JSON from %s: %w", manifestURL, err)
	}
	return ParseDoc(doc)
}

// ParseDoc builds a Manifest from an already-decoded JSON object; Parse
// calls it after decoding raw bytes.
func ParseDoc(doc map[string]any) (*Manifest, error) {
	m := &Manifest{Raw: doc}

	m.Label = NormalizeLabelValue(firstOf(doc, "label", "title"))
	m.Description = NormalizeLabelValue(doc["description"])
	m.Attribution = NormalizeLabelValue(firstOf(doc, "attribution", "requiredStatement"))
	m.Metadata = parseMetadata(doc["metadata"])
	m.SeeAlso = extractSeeAlsoURLs(doc["seeAlso"])
	m.Rendering = parseRendering(doc["rendering"])

	canvasNodes := canvasEntities(doc)
	m.Canvases = make([]models.Canvas, 0, len(canvasNodes))
	for i, node := range canvasNodes {
		c := models.Canvas{Index: i}
		if obj, ok := node.(map[string]any); ok {
			c.ServiceBase = resolveCanvasServiceBase(obj)
			c.ThumbnailURL = extractCanvasThumbnail(obj)
			c.Label = NormalizeLabelValue(obj["label"])
		}
		m.Canvases = append(m.Canvases, c)
	}

	return m, nil
}

func firstOf(doc map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := doc[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// NormalizeLabelValue flattens IIIF's several text-container shapes (bare
// string, list of strings, list of {"@value","@language"} dicts, IIIF v3
// language map of lang->[]string) into a single readable string. Multiple
// surviving values are joined with " | ". Generic repository-chrome strings
// are treated as empty by the caller (see enrichment.IsGenericSiteTitle);
// this function only flattens shape, it does not filter content.
func NormalizeLabelValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		var chunks []string
		for _, inner := range v {
			if s := NormalizeLabelValue(inner); s != "" {
				chunks = append(chunks, s)
			}
		}
		return dedupJoin(chunks)
	case map[string]any:
		// Either a single {"@value":...,"@language":...} entry or a full
		// IIIF v3 language map {"en": ["..."], "none": ["..."]}.
		if val, ok := v["@value"]; ok {
			return NormalizeLabelValue(val)
		}
		var chunks []string
		for _, inner := range v {
			if s := NormalizeLabelValue(inner); s != "" {
				chunks = append(chunks, s)
			}
		}
		return dedupJoin(chunks)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func dedupJoin(chunks []string) string {
	seen := make(map[string]bool, len(chunks))
	var out []string
	for _, c := range chunks {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return strings.Join(out, " | ")
}

func parseMetadata(raw any) []MetadataEntry {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]MetadataEntry, 0, len(list))
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		label := NormalizeLabelValue(firstOf(obj, "label", "name"))
		value := NormalizeLabelValue(firstOf(obj, "value", "val"))
		if label != "" && value != "" {
			out = append(out, MetadataEntry{Label: label, Value: value})
		}
	}
	return out
}

// MetadataMap lowercases entry labels into a map, last-write-wins, matching
// the Python reference's metadata_to_map behavior.
func (m *Manifest) MetadataMap() map[string]string {
	out := make(map[string]string, len(m.Metadata))
	for _, e := range m.Metadata {
		out[strings.ToLower(e.Label)] = e.Value
	}
	return out
}

func extractSeeAlsoURLs(raw any) []string {
	if raw == nil {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	var urls []string
	seen := make(map[string]bool)
	for _, item := range items {
		var candidate string
		switch v := item.(type) {
		case string:
			candidate = strings.TrimSpace(v)
		case map[string]any:
			candidate = strings.TrimSpace(fmt.Sprintf("%v", firstOf(v, "id", "@id", "url")))
			if candidate == "<nil>" {
				candidate = ""
			}
		}
		if candidate != "" && !seen[candidate] {
			seen[candidate] = true
			urls = append(urls, candidate)
		}
	}
	return urls
}

func parseRendering(raw any) []RenderingLink {
	if raw == nil {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	var out []RenderingLink
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := firstOf(obj, "id", "@id").(string)
		format, _ := obj["format"].(string)
		out = append(out, RenderingLink{ID: id, Format: format})
	}
	return out
}

// NativePDF reports whether the manifest advertises a server-side PDF
// rendering, and its URL if so. This is a supplemented, read-only signal
// consumed by external PDF-composition collaborators (see SPEC_FULL.md);
// the core never generates the PDF itself.
func (m *Manifest) NativePDF() (url string, ok bool) {
	for _, r := range m.Rendering {
		if r.Format == "application/pdf" || strings.HasSuffix(strings.ToLower(r.ID), ".pdf") {
			return r.ID, r.ID != ""
		}
	}
	return "", false
}

// canvasEntities returns the raw canvas/item node list: v2's
// sequences[0].canvases, or v3's items, in that preference order.
func canvasEntities(doc map[string]any) []any {
	if sequences, ok := doc["sequences"].([]any); ok && len(sequences) > 0 {
		if seq0, ok := sequences[0].(map[string]any); ok {
			if canvases, ok := seq0["canvases"].([]any); ok {
				return canvases
			}
		}
	}
	if items, ok := doc["items"].([]any); ok {
		return items
	}
	return nil
}

// resolveCanvasServiceBase implements the §4.2 image-service-resolution
// algorithm: descend into the first image annotation (v2) or item (v3),
// unwrap the resource/body, read its service @id/id, and fall back to
// stripping "/full/..." off the resource's own identifier.
func resolveCanvasServiceBase(canvas map[string]any) string {
	var images []any
	if v, ok := canvas["images"].([]any); ok {
		images = v
	} else if v, ok := canvas["items"].([]any); ok {
		images = v
	}
	if len(images) == 0 {
		return ""
	}
	imgObj, ok := images[0].(map[string]any)
	if !ok {
		return ""
	}

	// IIIF v3 wraps the annotation one level deeper than v2: canvas.items[0]
	// is an AnnotationPage, whose own items[0] is the Annotation that
	// actually carries body/service. v2 annotations have no nested "items",
	// so this only descends for the v3 shape.
	if inner, ok := imgObj["items"].([]any); ok && len(inner) > 0 {
		if innerObj, ok := inner[0].(map[string]any); ok {
			imgObj = innerObj
		}
	}

	resource, ok := firstOf(imgObj, "resource", "body").(map[string]any)
	if !ok {
		resource = imgObj
	}
	if resource == nil {
		return ""
	}

	service := resource["service"]
	if list, ok := service.([]any); ok && len(list) > 0 {
		service = list[0]
	}
	if svcObj, ok := service.(map[string]any); ok {
		if id, _ := firstOf(svcObj, "@id", "id").(string); id != "" {
			return id
		}
	}

	val, _ := firstOf(resource, "@id", "id").(string)
	if idx := strings.Index(val, "/full/"); idx >= 0 {
		return val[:idx]
	}
	return val
}

func extractCanvasThumbnail(canvas map[string]any) string {
	thumb := canvas["thumbnail"]
	if list, ok := thumb.([]any); ok {
		if len(list) == 0 {
			return ""
		}
		thumb = list[0]
	}
	switch v := thumb.(type) {
	case string:
		return v
	case map[string]any:
		id, _ := firstOf(v, "id", "@id").(string)
		return id
	}
	return ""
}

// Fetching manifest bytes is implemented in internal/archiver using the
// shared internal/httpclient; this package is
// pure data transformation and performs no network IO, mirroring the
// teacher's separation of parsing from transport.
