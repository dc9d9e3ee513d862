package html2pdf

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

// DefaultCSP is injected on the navigation response of every document.
const DefaultCSP = "default-src 'none'; " +
	"img-src * data: blob: 'self'; " +
	"style-src 'self' 'unsafe-inline' https:; " +
	"font-src 'self' https:; " +
	"frame-src 'none'; " +
	"object-src 'none'; " +
	"base-uri 'none'"

// DefaultAllowedResourceTypes are the sub-resource categories a document may
// fetch. Everything else, scripts and XHR included, is blocked.
var DefaultAllowedResourceTypes = []proto.NetworkResourceType{
	proto.NetworkResourceTypeImage,
	proto.NetworkResourceTypeStylesheet,
	proto.NetworkResourceTypeFont,
	proto.NetworkResourceTypeMedia,
}

// knownResourceTypes lists the categories ParseResourceTypes accepts.
var knownResourceTypes = []proto.NetworkResourceType{
	proto.NetworkResourceTypeDocument,
	proto.NetworkResourceTypeStylesheet,
	proto.NetworkResourceTypeImage,
	proto.NetworkResourceTypeMedia,
	proto.NetworkResourceTypeFont,
	proto.NetworkResourceTypeScript,
	proto.NetworkResourceTypeTextTrack,
	proto.NetworkResourceTypeXHR,
	proto.NetworkResourceTypeFetch,
	proto.NetworkResourceTypeEventSource,
	proto.NetworkResourceTypeWebSocket,
	proto.NetworkResourceTypeManifest,
	proto.NetworkResourceTypePing,
	proto.NetworkResourceTypeOther,
}

// ParseResourceTypes maps case-insensitive names such as "image" or "XHR"
// to CDP resource types.
func ParseResourceTypes(names []string) ([]proto.NetworkResourceType, error) {
	out := make([]proto.NetworkResourceType, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(knownResourceTypes, func(t proto.NetworkResourceType) bool {
			return strings.EqualFold(string(t), strings.TrimSpace(name))
		})
		if i < 0 {
			return nil, fmt.Errorf("unknown resource type %q", name)
		}
		out = append(out, knownResourceTypes[i])
	}
	return out, nil
}

// capabilityScript strips high-risk APIs from the global scope before any
// document script could observe them.
const capabilityScript = `(() => {
	const strip = (obj, name) => {
		try { Object.defineProperty(obj, name, { value: undefined, configurable: false, writable: false }); } catch (e) {}
	};
	strip(window, "Notification");
	strip(window, "PaymentRequest");
	strip(Navigator.prototype, "geolocation");
	strip(Navigator.prototype, "clipboard");
	strip(navigator, "geolocation");
	strip(navigator, "clipboard");
})();`

// SecurityPolicy is the fixed rule set applied to every rendering context.
type SecurityPolicy struct {
	// CSP is sent as the Content-Security-Policy header of the document.
	CSP string
	// AllowedResourceTypes lists the sub-resource categories let through.
	AllowedResourceTypes []proto.NetworkResourceType
	// BypassPageCSP disables CSP declared inside the document so that only
	// the injected header applies.
	BypassPageCSP bool
}

// DefaultSecurityPolicy returns the default CSP and allow-list.
func DefaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		CSP:                  DefaultCSP,
		AllowedResourceTypes: slices.Clone(DefaultAllowedResourceTypes),
		BypassPageCSP:        true,
	}
}

// Verdict is the sandbox decision for one intercepted request.
type Verdict int

// Verdicts.
const (
	// VerdictBlock aborts the request.
	VerdictBlock Verdict = iota
	// VerdictAllow lets the request through unmodified.
	VerdictAllow
	// VerdictServeDocument answers the top-level navigation with the
	// sanitized document and the policy header.
	VerdictServeDocument
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictServeDocument:
		return "serve-document"
	}
	return "block"
}

// Decide applies the allow-list to one request. topLevel reports whether the
// request is the main-frame navigation of the context.
func (p SecurityPolicy) Decide(resourceType proto.NetworkResourceType, topLevel bool) Verdict {
	if topLevel {
		return VerdictServeDocument
	}
	if slices.Contains(p.AllowedResourceTypes, resourceType) {
		return VerdictAllow
	}
	return VerdictBlock
}

// documentHeaders are the response headers of the served document.
func (p SecurityPolicy) documentHeaders() []string {
	return []string{
		"Content-Type", "text/html; charset=utf-8",
		"Content-Security-Policy", p.CSP,
		"X-Content-Type-Options", "nosniff",
	}
}
