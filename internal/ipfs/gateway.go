package ipfs

import (
	"strings"

	"github.com/ipfs/go-cid"
)

// Scheme is the content-addressed URI prefix used by token and image references.
const Scheme = "ipfs://"

// DefaultGateways is the built-in mirror list, most trusted first.
var DefaultGateways = []string{
	"https://ipfs.io/ipfs/",
	"https://cloudflare-ipfs.com/ipfs/",
	"https://gateway.pinata.cloud/ipfs/",
	"https://dweb.link/ipfs/",
}

// ContentRef is an ipfs:// reference split into its cid and optional sub-path.
type ContentRef struct {
	CID  string
	Path string
}

// ParseRef splits ipfs://[ipfs/]<cid>[/<path>]. It reports false for references that are not
// content-addressed or whose cid segment is empty or contains non-alphanumeric characters.
func ParseRef(ref string) (ContentRef, bool) {
	ref = strings.TrimSpace(ref)
	if !IsContentRef(ref) {
		return ContentRef{}, false
	}
	rest := ref[len(Scheme):]
	rest = strings.TrimPrefix(rest, "ipfs/")
	rest = strings.TrimLeft(rest, "/")

	id, path, _ := strings.Cut(rest, "/")
	if id == "" || !isAlnum(id) {
		return ContentRef{}, false
	}
	return ContentRef{CID: id, Path: strings.Trim(path, "/")}, true
}

// IsContentRef reports whether ref uses the ipfs:// scheme.
func IsContentRef(ref string) bool {
	return len(ref) >= len(Scheme) && strings.EqualFold(ref[:len(Scheme)], Scheme)
}

// IsHTTP reports whether ref is already an http(s) URL.
func IsHTTP(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// Resolver expands content references into ordered gateway URLs. It is read-only after
// construction and safe for concurrent use.
type Resolver struct {
	gateways []string
	strict   bool
}

// NewResolver builds a resolver over gateways, in priority order. An empty list selects
// DefaultGateways. With strict set, references whose cid does not decode yield no candidates.
func NewResolver(gateways []string, strict bool) *Resolver {
	if len(gateways) == 0 {
		gateways = DefaultGateways
	}
	gs := make([]string, 0, len(gateways))
	for _, g := range gateways {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if !strings.HasSuffix(g, "/") {
			g += "/"
		}
		gs = append(gs, g)
	}
	return &Resolver{gateways: gs, strict: strict}
}

// Gateways returns a copy of the configured mirror list.
func (r *Resolver) Gateways() []string {
	return append([]string(nil), r.gateways...)
}

// Candidates returns absolute URLs to try for ref, in priority order. An http(s) ref is returned
// unchanged as the only candidate. For each gateway the bare cid comes first, followed by the
// cid with its sub-path when one is present. Unresolvable refs yield an empty slice.
func (r *Resolver) Candidates(ref string) []string {
	ref = strings.TrimSpace(ref)
	if IsHTTP(ref) {
		return []string{ref}
	}
	cr, ok := ParseRef(ref)
	if !ok {
		return nil
	}
	if r.strict && !ValidCID(cr.CID) {
		return nil
	}

	out := make([]string, 0, 2*len(r.gateways))
	for _, g := range r.gateways {
		out = append(out, g+cr.CID)
		if cr.Path != "" {
			out = append(out, g+cr.CID+"/"+cr.Path)
		}
	}
	return out
}

// DocumentCandidates returns one URL per gateway addressing the full cid/path of ref, for
// fetching documents where the bare directory cid is never the answer.
func (r *Resolver) DocumentCandidates(ref string) []string {
	ref = strings.TrimSpace(ref)
	if IsHTTP(ref) {
		return []string{ref}
	}
	cr, ok := ParseRef(ref)
	if !ok || (r.strict && !ValidCID(cr.CID)) {
		return nil
	}
	out := make([]string, 0, len(r.gateways))
	for _, g := range r.gateways {
		u := g + cr.CID
		if cr.Path != "" {
			u += "/" + cr.Path
		}
		out = append(out, u)
	}
	return out
}

// Normalize returns the preferred HTTP form of ref: the full path on the first gateway, or ref
// itself when it is already HTTP. Unresolvable refs return "".
func (r *Resolver) Normalize(ref string) string {
	ref = strings.TrimSpace(ref)
	if IsHTTP(ref) {
		return ref
	}
	cr, ok := ParseRef(ref)
	if !ok || len(r.gateways) == 0 {
		return ""
	}
	if r.strict && !ValidCID(cr.CID) {
		return ""
	}
	u := r.gateways[0] + cr.CID
	if cr.Path != "" {
		u += "/" + cr.Path
	}
	return u
}

// ToContentRef maps a gateway URL produced by this resolver back to its ipfs:// form.
func (r *Resolver) ToContentRef(u string) (string, bool) {
	for _, g := range r.gateways {
		if strings.HasPrefix(u, g) {
			rest := strings.TrimPrefix(u, g)
			if rest == "" {
				return "", false
			}
			return Scheme + rest, true
		}
	}
	return "", false
}

// ValidCID reports whether s decodes as a CIDv0 or CIDv1.
func ValidCID(s string) bool {
	_, err := cid.Decode(s)
	return err == nil
}

func isAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}
