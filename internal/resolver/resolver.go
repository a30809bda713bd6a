// Package resolver turns a library name plus either a free-form shelfmark
// or a library-site URL into a concrete IIIF manifest URL. Each library
// gets its own Resolver; Registry dispatches to the right one by a
// substring match against the library name, mirroring the keyword table
// the rest of this system's siblings use for the same problem.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"vault-iiif-mirror/internal/httpclient"
)

// Resolver turns library-specific input into a manifest URL.
type Resolver interface {
	// CanResolve reports whether this resolver should handle input, which
	// may be a bare shelfmark or a full URL depending on the library.
	CanResolve(input string) bool
	// ResolveManifestURL returns the IIIF manifest URL for input, along
	// with the document id the caller should use for on-disk storage.
	ResolveManifestURL(ctx context.Context, input string) (manifestURL, docID string, err error)
}

// Registry maps library keywords to a Resolver instance, the same
// shape as the Python reference's _MAP keyword dispatch table.
type Registry struct {
	client *httpclient.Client
	byKeyword map[string]Resolver
	generic   Resolver
}

// NewRegistry builds the standard registry wired to the given transport.
func NewRegistry(client *httpclient.Client) *Registry {
	r := &Registry{
		client:    client,
		byKeyword: make(map[string]Resolver),
		generic:   &GenericResolver{},
	}
	r.register("vatican", &VaticanResolver{client: client})
	r.register("gallica", &GallicaResolver{})
	r.register("bnf", &GallicaResolver{})
	r.register("institut", &InstitutResolver{})
	r.register("bibnum", &InstitutResolver{})
	r.register("oxford", &OxfordResolver{})
	r.register("bodleian", &OxfordResolver{})
	return r
}

func (r *Registry) register(keyword string, res Resolver) {
	r.byKeyword[keyword] = res
}

// ForLibrary returns the resolver for library, matching by substring
// against the registered keywords (case-insensitive), falling back to the
// generic URL-passthrough resolver when nothing matches.
func (r *Registry) ForLibrary(library string) Resolver {
	lower := strings.ToLower(library)
	for keyword, res := range r.byKeyword {
		if strings.Contains(lower, keyword) {
			return res
		}
	}
	return r.generic
}

// Resolve resolves input for the named library.
func (r *Registry) Resolve(ctx context.Context, library, input string) (manifestURL, docID string, err error) {
	res := r.ForLibrary(library)
	if !res.CanResolve(input) {
		return "", "", fmt.Errorf("%w: library %q cannot resolve %q", ErrUnresolvable, library, input)
	}
	return res.ResolveManifestURL(ctx, input)
}

// ErrUnresolvable is returned when no resolver for the named library can
// make sense of the given input.
var ErrUnresolvable = fmt.Errorf("resolver: input not resolvable for this library")
