package enrichment

import (
	"testing"

	"vault-iiif-mirror/internal/manifest"
	"vault-iiif-mirror/internal/models"
)

func TestInferItemTypeMatchesOrderedRules(t *testing.T) {
	cases := []struct {
		name           string
		label, desc    string
		metadata       map[string]string
		wantType       models.ItemType
		wantConfidence float64
	}{
		{"incunabulum wins over miscellanea", "Incunabolo miscellanea", "", nil, models.ItemIncunabulum, 0.96},
		{"music score", "Spartito per organo", "", nil, models.ItemMusicScore, 0.92},
		{"map", "Atlante geografico", "", nil, models.ItemMapAtlas, 0.9},
		{"manuscript", "Manoscritto membranaceo", "", nil, models.ItemManuscript, 0.87},
		{"unmatched falls back unclassified", "Some untagged document", "", nil, models.ItemUnclassified, 0.2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			itemType, confidence, reason := InferItemType(c.label, c.desc, c.metadata)
			if itemType != c.wantType {
				t.Errorf("got item type %q, want %q", itemType, c.wantType)
			}
			if confidence != c.wantConfidence {
				t.Errorf("got confidence %v, want %v", confidence, c.wantConfidence)
			}
			if reason == "" {
				t.Error("expected a non-empty reason")
			}
		})
	}
}

func TestIsGenericSiteTitle(t *testing.T) {
	cases := map[string]bool{
		"":                                true,
		"Gallica":                         true,
		"DigiVatLib":                       true,
		"Search and Discover Manuscripts": true,
		"Urb. lat. 1779, Historia Romana": false,
		"Home":                             true,
	}
	for text, want := range cases {
		if got := IsGenericSiteTitle(text); got != want {
			t.Errorf("IsGenericSiteTitle(%q) = %v, want %v", text, got, want)
		}
	}
}

func TestChoosePrimaryDetailURLPrefersDetailOverSearch(t *testing.T) {
	seeAlso := []string{
		"https://digi.vatlib.it/search?q=Urb.lat.1779",
		"https://digi.vatlib.it/mss/detail/Urb.lat.1779",
	}
	got := ChoosePrimaryDetailURL(seeAlso, "Urb.lat.1779", "MSS_Urb.lat.1779", nil)
	if got != "https://digi.vatlib.it/mss/detail/Urb.lat.1779" {
		t.Errorf("got %q, want the detail page to outrank the search page", got)
	}
}

func TestChoosePrimaryDetailURLFallsBackWhenNoSeeAlso(t *testing.T) {
	fallback := []string{"https://digi.vatlib.it/mss/detail/Urb.lat.1779"}
	got := ChoosePrimaryDetailURL(nil, "Urb.lat.1779", "MSS_Urb.lat.1779", fallback)
	if got != fallback[0] {
		t.Errorf("got %q, want fallback URL %q", got, fallback[0])
	}
}

func TestDeriveVaticanDetailURLStripsMSSPrefix(t *testing.T) {
	got := DeriveVaticanDetailURL("https://digi.vatlib.it/iiif/MSS_Urb.lat.1779/manifest.json", "MSS_Urb.lat.1779")
	want := "https://digi.vatlib.it/mss/detail/Urb.lat.1779"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeItemTypeAliases(t *testing.T) {
	if got := NormalizeItemType("Altro"); got != models.ItemUnclassified {
		t.Errorf("got %q, want %q", got, models.ItemUnclassified)
	}
	if got := NormalizeItemType(string(models.ItemManuscript)); got != models.ItemManuscript {
		t.Errorf("got %q, want %q", got, models.ItemManuscript)
	}
	if got := NormalizeItemType("totally-unknown-value"); got != models.ItemUnclassified {
		t.Errorf("got %q, want unclassified fallback", got)
	}
}

func TestBuildCatalogEnrichmentWithoutExternalFetch(t *testing.T) {
	man, err := manifest.Parse([]byte(`{
		"label": "Urb. lat. 1779",
		"metadata": [{"label": "Shelfmark", "value": "Urb.lat.1779"}, {"label": "Date", "value": "s. XV"}],
		"sequences": [{"canvases": []}]
	}`), "https://digi.vatlib.it/iiif/MSS_Urb.lat.1779/manifest.json")
	if err != nil {
		t.Fatalf("parsing fixture manifest: %v", err)
	}

	enr := BuildCatalogEnrichment(man, "https://digi.vatlib.it/iiif/MSS_Urb.lat.1779/manifest.json", "MSS_Urb.lat.1779", nil, false)
	if enr.Shelfmark != "Urb.lat.1779" {
		t.Errorf("got shelfmark %q, want Urb.lat.1779", enr.Shelfmark)
	}
	if enr.DateLabel != "s. XV" {
		t.Errorf("got date label %q, want s. XV", enr.DateLabel)
	}
	if enr.SourceDetailURL != "https://digi.vatlib.it/mss/detail/Urb.lat.1779" {
		t.Errorf("got source detail URL %q, want the derived Vatican detail page", enr.SourceDetailURL)
	}
	if enr.ReferenceText != "" {
		t.Errorf("expected no reference text when enrichExternal is false, got %q", enr.ReferenceText)
	}
}
