// Package enrichment derives catalog metadata from a parsed manifest:
// item-type classification, shelfmark/date/language extraction, the best
// external catalog-detail URL, and a human-readable reference text pulled
// from that detail page. It is pure post-processing over a
// manifest.Manifest plus an optional fetched detail page; it holds no
// transport logic itself.
package enrichment

import (
	"strings"

	"vault-iiif-mirror/internal/models"
)

// typeRule is one entry of the ordered classification table: the first
// rule whose tokens all appear in the lowered label+description+metadata
// corpus wins.
type typeRule struct {
	itemType   models.ItemType
	tokens     []string
	confidence float64
}

// typeRules mirrors the original archiver's _TYPE_RULES exactly, in the
// same evaluation order and with the same confidence scores.
var typeRules = []typeRule{
	{models.ItemIncunabulum, []string{"incunabolo"}, 0.96},
	{models.ItemMusicScore, []string{"musica"}, 0.92},
	{models.ItemMusicScore, []string{"spartito"}, 0.92},
	{models.ItemMapAtlas, []string{"mappa"}, 0.9},
	{models.ItemMapAtlas, []string{"atlante"}, 0.9},
	{models.ItemPeriodical, []string{"periodico"}, 0.9},
	{models.ItemPrintedBook, []string{"libro a stampa"}, 0.88},
	{models.ItemManuscript, []string{"manoscritto"}, 0.87},
	{models.ItemMiscellanea, []string{"miscellanea"}, 0.75},
}

var itemTypeAliases = map[string]models.ItemType{
	"altro":   models.ItemUnclassified,
	"other":   models.ItemUnclassified,
	"unknown": models.ItemUnclassified,
}

// NormalizeItemType maps a free-form or legacy item-type string onto the
// closed taxonomy, treating unrecognized values as unclassified.
func NormalizeItemType(raw string) models.ItemType {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := itemTypeAliases[lower]; ok {
		return alias
	}
	for _, t := range allItemTypes() {
		if string(t) == lower {
			return t
		}
	}
	return models.ItemUnclassified
}

func allItemTypes() []models.ItemType {
	return []models.ItemType{
		models.ItemManuscript, models.ItemPrintedBook, models.ItemIncunabulum,
		models.ItemPeriodical, models.ItemMusicScore, models.ItemMapAtlas,
		models.ItemMiscellanea, models.ItemUnclassified,
	}
}

// InferItemType classifies a manuscript from its label, description and
// flattened metadata values, returning the first matching rule's type,
// confidence, and a short human-readable reason. No rule matching falls
// back to "non classificato" at low confidence.
func InferItemType(label, description string, metadata map[string]string) (models.ItemType, float64, string) {
	var corpus strings.Builder
	corpus.WriteString(strings.ToLower(label))
	corpus.WriteByte(' ')
	corpus.WriteString(strings.ToLower(description))
	for _, v := range metadata {
		corpus.WriteByte(' ')
		corpus.WriteString(strings.ToLower(v))
	}
	text := corpus.String()

	for _, rule := range typeRules {
		matched := true
		for _, tok := range rule.tokens {
			if !strings.Contains(text, tok) {
				matched = false
				break
			}
		}
		if matched {
			return rule.itemType, rule.confidence, "matched keyword \"" + strings.Join(rule.tokens, " ") + "\""
		}
	}
	return models.ItemUnclassified, 0.2, "no classification keyword matched"
}

// FlattenIIIFValue recursively flattens a decoded IIIF JSON value (string,
// []any, map[string]any) into a single " | "-joined string, matching the
// shape-agnostic label handling used elsewhere for manifest text fields.
func FlattenIIIFValue(value any) string {
	var parts []string
	flattenInto(value, &parts)
	return dedupJoin(parts)
}

func flattenInto(value any, out *[]string) {
	switch v := value.(type) {
	case nil:
		return
	case string:
		s := strings.TrimSpace(v)
		if s != "" {
			*out = append(*out, s)
		}
	case []any:
		for _, item := range v {
			flattenInto(item, out)
		}
	case map[string]any:
		if val, ok := v["@value"]; ok {
			flattenInto(val, out)
			return
		}
		for _, item := range v {
			flattenInto(item, out)
		}
	}
}

func dedupJoin(parts []string) string {
	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return strings.Join(out, " | ")
}

// MetadataToMap lowercases metadata entry labels into a map, matching the
// original archiver's metadata_to_map.
func MetadataToMap(entries map[string]any) map[string]string {
	out := make(map[string]string, len(entries))
	for k, v := range entries {
		out[strings.ToLower(k)] = FlattenIIIFValue(v)
	}
	return out
}
