package server

import (
	"context"
	"io"

	"github.com/a-h/templ"

	"github.com/vango-dev/livetree/pkg/session"
)

// InitScriptID is the id of the JSON script element carrying page boot data.
const InitScriptID = "live-init"

// pageShell wraps a rendered tree in a complete HTML document.
func pageShell(cfg *Config, page session.Page) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1">`+
			`<title>`+templ.EscapeString(cfg.Title)+`</title>`+
			`<style>live-meta { display: contents; }</style>`); err != nil {
			return err
		}
		if cfg.Head != nil {
			if err := cfg.Head.Render(ctx, w); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `</head><body>`); err != nil {
			return err
		}
		if err := templ.Raw(page.HTML).Render(ctx, w); err != nil {
			return err
		}
		if err := templ.JSONScript(InitScriptID, page.Init).Render(ctx, w); err != nil {
			return err
		}
		if cfg.ClientScript != "" {
			if _, err := io.WriteString(w, `<script src="`+templ.EscapeString(cfg.ClientScriptPath)+`" defer></script>`); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}
