package node

import (
	"maps"
	"net/url"

	"github.com/vango-dev/livetree/pkg/routepath"
)

// Router is a component that renders the first route whose pattern matches
// the current location. Routes are tried in registration order; patterns
// use routepath syntax, e.g. "/var/{value}" or "/{path*}".
//
// The routed element sits at a position named after its pattern, so
// switching routes never hands one page's local state to another. Route
// parameters are available below it through Context.RouteParam.
//
// A Router is configured once and may be mounted by many sessions.
type Router struct {
	routes   []route
	notFound func() Element
}

type route struct {
	pattern *routepath.Pattern
	factory func() Element
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Handle registers factory for pattern. It panics on an invalid pattern.
func (r *Router) Handle(pattern string, factory func() Element) *Router {
	r.routes = append(r.routes, route{pattern: routepath.MustCompile(pattern), factory: factory})
	return r
}

// NotFound sets the element rendered when no route matches.
// Default: <h1>Not found!</h1>.
func (r *Router) NotFound(factory func() Element) *Router {
	r.notFound = factory
	return r
}

// Match returns the pattern and parameters of the first route matching
// path. The path is canonicalized first.
func (r *Router) Match(path string) (pattern string, params map[string]string, ok bool) {
	rt, params, ok := r.match(path)
	if !ok {
		return "", nil, false
	}
	return rt.pattern.String(), params, true
}

func (r *Router) match(path string) (*route, map[string]string, bool) {
	canonical, err := routepath.Canonicalize(path)
	if err != nil {
		return nil, nil, false
	}
	for i := range r.routes {
		if params, ok := r.routes[i].pattern.Match(canonical); ok {
			return &r.routes[i], params, true
		}
	}
	return nil, nil, false
}

func (r *Router) Render(ctx *Context) (Element, error) {
	path := "/"
	if u, err := url.Parse(ctx.Location()); err == nil {
		path = u.EscapedPath()
	}

	rt, params, ok := r.match(path)
	switch {
	case ok:
		return routed(rt.pattern.String(), params, rt.factory()), nil
	case r.notFound != nil:
		return routed("!not-found", nil, r.notFound()), nil
	default:
		return El("h1", nil, Text("Not found!")), nil
	}
}

func routed(pattern string, params map[string]string, el Element) Element {
	return ElementFunc(func(ctx *Context) Node {
		sub := ctx.Sub(Name("route:" + pattern))
		sub.params = params
		return el.ToNode(sub)
	})
}

// RouteParams returns a copy of the parameters bound by the nearest Router.
func (c *Context) RouteParams() map[string]string {
	return maps.Clone(c.params)
}

// RouteParam returns one route parameter, or "" when it is not bound.
func (c *Context) RouteParam(name string) string {
	return c.params[name]
}
