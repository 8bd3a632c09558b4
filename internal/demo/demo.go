// Package demo is the sample application served by `livetree serve`.
package demo

import (
	"context"
	"io"
	"time"

	"github.com/a-h/templ"

	"github.com/vango-dev/livetree/pkg/events"
	"github.com/vango-dev/livetree/pkg/node"
)

// Options tunes the demo app.
type Options struct {
	// ClockInterval is the tick of the live clock. Default: one second.
	ClockInterval time.Duration

	// Now is the clock source. Default: time.Now.
	Now func() time.Time
}

// New returns the demo app factory.
func New(opts Options) func() node.Element {
	if opts.ClockInterval <= 0 {
		opts.ClockInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	pages := routes()
	return func() node.Element {
		return node.Mount(&Layout{opts: opts, pages: pages})
	}
}

func routes() *node.Router {
	return node.NewRouter().
		Handle("/", func() node.Element {
			return node.Fragment(
				node.Mount(&Counter{}),
				node.Mount(&TodoList{}),
			)
		}).
		Handle("/about", func() node.Element {
			return node.El("p", nil, node.Text("livetree keeps component state on the server and ships re-rendered HTML."))
		}).
		Handle("/hello/{name}", func() node.Element {
			return node.Mount(node.ComponentFunc(func(ctx *node.Context) (node.Element, error) {
				return node.El("h1", nil, node.Textf("hello, %s", ctx.RouteParam("name"))), nil
			}))
		}).
		NotFound(func() node.Element {
			return node.Mount(node.ComponentFunc(func(ctx *node.Context) (node.Element, error) {
				return node.El("p", []node.Attr{node.A("class", "not-found")}, node.Textf("nothing at %s", ctx.Path())), nil
			}))
		})
}

var theme = node.Global[string]("theme")

// Layout carries the navigation and the theme switch around the routed
// pages.
type Layout struct {
	opts  Options
	pages *node.Router
}

var (
	navigate = node.NewParamHandler("navigate", func(l *Layout, ctx *node.Context, p struct {
		Path string `json:"path" param:"currentTarget.pathname" validate:"required,startswith=/,max=256"`
	}) error {
		ctx.Navigate(p.Path)
		return nil
	})
	toggleTheme = node.NewHandler("toggle-theme", func(l *Layout, ctx *node.Context) error {
		return switchTheme(ctx)
	})
	shortcut = node.NewParamHandler("shortcut", func(l *Layout, ctx *node.Context, p struct {
		Key string `json:"key" param:"key" validate:"max=32"`
	}) error {
		if p.Key == "t" {
			return switchTheme(ctx)
		}
		return nil
	})
	goLive = node.NewHandler("go-live", func(l *Layout, ctx *node.Context) error {
		ctx.UseStreaming(true)
		return nil
	})
	layoutHandlers = node.Handlers(navigate, toggleTheme, shortcut, goLive)
)

func (l *Layout) Handlers() *node.HandlerTable { return layoutHandlers }

func switchTheme(ctx *node.Context) error {
	next := "dark"
	if currentTheme(ctx) == "dark" {
		next = "light"
	}
	theme.Set(ctx, next)
	return ctx.SetCookie(events.Cookie{Name: "theme", Value: next, Path: "/"})
}

// currentTheme prefers the session state and falls back to the cookie.
func currentTheme(ctx *node.Context) string {
	if t := theme.Get(ctx); t != "" {
		return t
	}
	if t, ok := ctx.Cookie("theme"); ok && (t == "dark" || t == "light") {
		return t
	}
	return "light"
}

func (l *Layout) Render(ctx *node.Context) (node.Element, error) {
	live := node.El("button", []node.Attr{ctx.On("click", goLive)}, node.Text("go live"))
	if ctx.Persistent() {
		live = node.Mount(&Clock{Interval: l.opts.ClockInterval, Now: l.opts.Now})
	}

	return node.El("main", []node.Attr{node.A("data-theme", currentTheme(ctx))},
		node.WindowEvent("keydown", shortcut),
		node.El("nav", nil,
			link(ctx, "/", "home"),
			link(ctx, "/about", "about"),
			node.El("a", []node.Attr{node.A("href", "/hello/world"), node.NavigateOn("click", "/hello/world")}, node.Text("hello")),
			node.El("button", []node.Attr{ctx.On("click", toggleTheme)}, node.Text("theme")),
			live,
		),
		node.Mount(l.pages),
		node.Templ(footer()),
	), nil
}

func link(ctx *node.Context, href, label string) node.Element {
	return node.El("a", []node.Attr{node.A("href", href), ctx.On("click", navigate, events.PreventDefault())}, node.Text(label))
}

func footer() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<footer>served by livetree</footer>`)
		return err
	})
}
