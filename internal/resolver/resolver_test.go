package resolver

import (
	"context"
	"strings"
	"testing"
)

func TestNormalizeShelfmarkIdempotence(t *testing.T) {
	canonical, err := NormalizeShelfmark("Urb.lat.1779")
	if err != nil {
		t.Fatalf("normalizing canonical form: %v", err)
	}
	variant, err := NormalizeShelfmark("urb lat 1779")
	if err != nil {
		t.Fatalf("normalizing loose form: %v", err)
	}
	if canonical != variant {
		t.Errorf("expected same canonical form, got %q vs %q", canonical, variant)
	}
	if canonical != "MSS_Urb.lat.1779" {
		t.Errorf("got %q, want MSS_Urb.lat.1779", canonical)
	}
}

func TestNormalizeShelfmarkWithoutSeries(t *testing.T) {
	got, err := NormalizeShelfmark("Barb 123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "MSS_Barb.123" {
		t.Errorf("got %q, want MSS_Barb.123", got)
	}
}

func TestVaticanResolveFromShelfmark(t *testing.T) {
	r := &VaticanResolver{}
	manifestURL, docID, err := r.ResolveManifestURL(context.Background(), "Urb. lat. 1779")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manifestURL != "https://digi.vatlib.it/iiif/MSS_Urb.lat.1779/manifest.json" {
		t.Errorf("unexpected manifest URL: %s", manifestURL)
	}
	if docID != "MSS_Urb.lat.1779" {
		t.Errorf("unexpected doc id: %s", docID)
	}
}

func TestVaticanRejectsOxfordUUID(t *testing.T) {
	r := &VaticanResolver{}
	_, _, err := r.ResolveManifestURL(context.Background(), "080f88f5-7586-4b8a-8064-63ab3495393c")
	if err == nil {
		t.Fatal("expected an error for a UUID input")
	}
	if !strings.Contains(err.Error(), "Oxford") {
		t.Errorf("expected error to mention Oxford, got: %v", err)
	}
}

func TestVaticanCanResolveRejectsUUID(t *testing.T) {
	r := &VaticanResolver{}
	if r.CanResolve("080f88f5-7586-4b8a-8064-63ab3495393c") {
		t.Error("VaticanResolver should not claim a UUID-shaped input")
	}
}

func TestGallicaResolveArkURL(t *testing.T) {
	r := &GallicaResolver{}
	if !r.CanResolve("https://gallica.bnf.fr/ark:/12148/btv1b10033406t") {
		t.Fatal("expected CanResolve to accept a gallica.bnf.fr URL")
	}
	manifestURL, docID, err := r.ResolveManifestURL(context.Background(), "https://gallica.bnf.fr/ark:/12148/btv1b10033406t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manifestURL != "https://gallica.bnf.fr/iiif/ark:/12148/btv1b10033406t/manifest.json" {
		t.Errorf("unexpected manifest URL: %s", manifestURL)
	}
	if docID != "btv1b10033406t" {
		t.Errorf("unexpected doc id: %s", docID)
	}
}

func TestGallicaResolveBareDocumentID(t *testing.T) {
	// §8 end-to-end scenario 3: a bare document id, not a URL, must still
	// resolve under BnF's own NAAN.
	r := &GallicaResolver{}
	if !r.CanResolve("btv1b10033406t") {
		t.Fatal("expected CanResolve to accept a bare document id starting with b")
	}
	manifestURL, docID, err := r.ResolveManifestURL(context.Background(), "btv1b10033406t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manifestURL != "https://gallica.bnf.fr/iiif/ark:/12148/btv1b10033406t/manifest.json" {
		t.Errorf("unexpected manifest URL: %s", manifestURL)
	}
	if docID != "btv1b10033406t" {
		t.Errorf("unexpected doc id: %s", docID)
	}
}

func TestGallicaResolveBareArk(t *testing.T) {
	r := &GallicaResolver{}
	if !r.CanResolve("ark:/12148/cb32895690z") {
		t.Fatal("expected CanResolve to accept a bare ark identifier")
	}
	manifestURL, docID, err := r.ResolveManifestURL(context.Background(), "ark:/12148/cb32895690z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manifestURL != "https://gallica.bnf.fr/iiif/ark:/12148/cb32895690z/manifest.json" {
		t.Errorf("unexpected manifest URL: %s", manifestURL)
	}
	if docID != "cb32895690z" {
		t.Errorf("unexpected doc id: %s", docID)
	}
}

func TestOxfordResolveUUIDWithTrailingSlash(t *testing.T) {
	r := &OxfordResolver{}
	input := "https://digital.bodleian.ox.ac.uk/objects/cb1df5f1-7435-468b-8860-d56db988b929/"
	manifestURL, docID, err := r.ResolveManifestURL(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://iiif.bodleian.ox.ac.uk/iiif/manifest/cb1df5f1-7435-468b-8860-d56db988b929.json"
	if manifestURL != want {
		t.Errorf("got %q, want %q", manifestURL, want)
	}
	if docID != "cb1df5f1-7435-468b-8860-d56db988b929" {
		t.Errorf("unexpected doc id: %s", docID)
	}
}

func TestOxfordResolveRejectsNonUUID(t *testing.T) {
	r := &OxfordResolver{}
	if r.CanResolve("not-a-uuid-at-all") {
		t.Error("OxfordResolver should not accept non-UUID input")
	}
}

func TestInstitutResolvesAllInputShapes(t *testing.T) {
	r := &InstitutResolver{}
	cases := []struct{ input, wantID string }{
		{"12345", "12345"},
		{"https://bibnum.institutdefrance.fr/viewer/67890", "67890"},
		{"https://bibnum.institutdefrance.fr/records/item/111", "111"},
		{"https://bibnum.institutdefrance.fr/iiif/222/manifest", "222"},
	}
	for _, c := range cases {
		manifestURL, docID, err := r.ResolveManifestURL(context.Background(), c.input)
		if err != nil {
			t.Fatalf("input %q: unexpected error: %v", c.input, err)
		}
		if docID != c.wantID {
			t.Errorf("input %q: got doc id %q, want %q", c.input, docID, c.wantID)
		}
		want := "https://bibnum.institutdefrance.fr/iiif/" + c.wantID + "/manifest"
		if manifestURL != want {
			t.Errorf("input %q: got manifest URL %q, want %q", c.input, manifestURL, want)
		}
	}
}

func TestGenericResolverPassthrough(t *testing.T) {
	r := &GenericResolver{}
	manifestURL, docID, err := r.ResolveManifestURL(context.Background(), "https://example.org/iiif/abc123/manifest.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if manifestURL != "https://example.org/iiif/abc123/manifest.json" {
		t.Errorf("generic resolver should pass the URL through unchanged, got %s", manifestURL)
	}
	if docID != "abc123" {
		t.Errorf("got doc id %q, want abc123", docID)
	}
}

func TestRegistryDispatchByKeyword(t *testing.T) {
	reg := NewRegistry(nil)
	if _, ok := reg.ForLibrary("Vaticana (BAV)").(*VaticanResolver); !ok {
		t.Error("expected Vaticana (BAV) to dispatch to VaticanResolver")
	}
	if _, ok := reg.ForLibrary("Gallica (BnF)").(*GallicaResolver); !ok {
		t.Error("expected Gallica (BnF) to dispatch to GallicaResolver")
	}
	if _, ok := reg.ForLibrary("Some Unknown Library").(*GenericResolver); !ok {
		t.Error("expected an unknown library to fall back to GenericResolver")
	}
}
