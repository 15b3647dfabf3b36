package router

import (
	"strings"

	"github.com/saiset-co/sai-dispatch/types"
)

// Match resolves a request to a handler. The exact index is tried first and
// returns nil params; otherwise the method's pattern routes are scanned in
// registration order and the first accepting route wins.
func (r *Router) Match(method, path string) (types.Handler, map[string]string, bool) {
	if handler, exists := r.exact[routeKey{method: method, path: path}]; exists {
		return handler, nil, true
	}

	bucket, exists := r.patterns[method]
	if !exists {
		return nil, nil, false
	}

	pathSegments := splitPath(path)

	for _, candidate := range bucket {
		if params, ok := matchRoute(candidate, pathSegments); ok {
			return candidate.handler, params, true
		}
	}

	return nil, nil, false
}

func matchRoute(candidate *route, pathSegments []string) (map[string]string, bool) {
	var params map[string]string

	for i, seg := range candidate.segments {
		if i >= len(pathSegments) {
			return nil, false
		}

		switch seg.kind {
		case segmentStatic:
			if seg.text != pathSegments[i] {
				return nil, false
			}

		case segmentParam:
			if params == nil {
				params = make(map[string]string, 2)
			}
			if i == len(candidate.segments)-1 {
				// Trailing param captures the whole remaining tail, so
				// /a/:rest matched against /a/b/c binds rest to "b/c".
				params[seg.text] = strings.Join(pathSegments[i:], "/")
				return params, true
			}
			params[seg.text] = pathSegments[i]

		case segmentWildcard:
			if params == nil {
				params = make(map[string]string, 1)
			}
			params["*"] = pathSegments[i]
			return params, true
		}
	}

	return params, true
}
