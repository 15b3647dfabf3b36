package router

import (
	"strings"
	"sync/atomic"

	"github.com/saiset-co/sai-dispatch/types"
)

// Methods lists the pre-seeded per-method pattern buckets. Registering any
// other method is an error.
var Methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "TRACE"}

type segmentKind uint8

const (
	segmentStatic segmentKind = iota
	segmentParam
	segmentWildcard
)

type segment struct {
	kind segmentKind
	text string
}

type route struct {
	pattern  string
	segments []segment
	handler  types.Handler
}

type routeKey struct {
	method string
	path   string
}

// Router is write-once: all registration happens before Seal, matching after.
// No locking is needed during serving because no concurrent writer exists.
//
// Matching order between pattern routes is registration order, and the first
// route that accepts wins; there is no specificity scoring. A `*` segment
// accepts immediately, so anything registered after it in the same pattern is
// unreachable.
type Router struct {
	exact    map[routeKey]types.Handler
	patterns map[string][]*route
	strict   bool
	sealed   atomic.Bool
}

func New(strict bool) *Router {
	r := &Router{
		exact:    make(map[routeKey]types.Handler),
		patterns: make(map[string][]*route, len(Methods)),
		strict:   strict,
	}

	for _, method := range Methods {
		r.patterns[method] = make([]*route, 0)
	}

	return r
}

// Register adds a route. Patterns with no `:name` or `*` segment go to the
// exact index keyed by the original path string; re-registering the same
// exact key overwrites unless strict mode is on. Everything else is appended
// to the method's pattern list in registration order.
func (r *Router) Register(method, pattern string, handler types.Handler) error {
	if r.sealed.Load() {
		return types.ErrRouterFinalized
	}
	if handler == nil {
		return types.ErrHandlerIsNil
	}
	if pattern == "" {
		return types.ErrPatternEmpty
	}

	bucket, exists := r.patterns[method]
	if !exists {
		return types.Errorf(types.ErrMethodUnknown, "method: %s", method)
	}

	segments := parsePattern(pattern)

	if isExact(segments) {
		key := routeKey{method: method, path: pattern}
		if r.strict {
			if _, dup := r.exact[key]; dup {
				return types.Errorf(types.ErrRouteDuplicate, "%s %s", method, pattern)
			}
		}
		r.exact[key] = handler
		return nil
	}

	r.patterns[method] = append(bucket, &route{
		pattern:  pattern,
		segments: segments,
		handler:  handler,
	})

	return nil
}

func (r *Router) GET(pattern string, handler types.Handler) error {
	return r.Register("GET", pattern, handler)
}

func (r *Router) POST(pattern string, handler types.Handler) error {
	return r.Register("POST", pattern, handler)
}

func (r *Router) PUT(pattern string, handler types.Handler) error {
	return r.Register("PUT", pattern, handler)
}

func (r *Router) DELETE(pattern string, handler types.Handler) error {
	return r.Register("DELETE", pattern, handler)
}

func (r *Router) PATCH(pattern string, handler types.Handler) error {
	return r.Register("PATCH", pattern, handler)
}

func (r *Router) HEAD(pattern string, handler types.Handler) error {
	return r.Register("HEAD", pattern, handler)
}

func (r *Router) OPTIONS(pattern string, handler types.Handler) error {
	return r.Register("OPTIONS", pattern, handler)
}

func (r *Router) TRACE(pattern string, handler types.Handler) error {
	return r.Register("TRACE", pattern, handler)
}

// Seal freezes the table. The server seals before serving so the route maps
// are shared read-only across connection workers.
func (r *Router) Seal() {
	r.sealed.Store(true)
}

func (r *Router) Sealed() bool {
	return r.sealed.Load()
}

func (r *Router) RouteCount() int {
	count := len(r.exact)
	for _, bucket := range r.patterns {
		count += len(bucket)
	}
	return count
}

func parsePattern(pattern string) []segment {
	parts := splitPath(pattern)
	segments := make([]segment, 0, len(parts))

	for _, part := range parts {
		switch {
		case part == "*":
			segments = append(segments, segment{kind: segmentWildcard})
		case part[0] == ':' && len(part) > 1:
			segments = append(segments, segment{kind: segmentParam, text: part[1:]})
		default:
			segments = append(segments, segment{kind: segmentStatic, text: part})
		}
	}

	return segments
}

func isExact(segments []segment) bool {
	for _, seg := range segments {
		if seg.kind != segmentStatic {
			return false
		}
	}
	return true
}

// splitPath breaks a path into non-empty `/`-delimited segments; leading,
// trailing and duplicate slashes are skipped.
func splitPath(path string) []string {
	if path == "" || path == "/" {
		return nil
	}

	segments := make([]string, 0, strings.Count(path, "/")+1)
	start := 0

	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '/' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}

	return segments
}
