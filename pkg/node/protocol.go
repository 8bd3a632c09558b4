package node

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-dev/livetree/pkg/events"
)

// Protocol keys written by the session.
const (
	LocationKey     = "!location"
	HeaderKeyPrefix = "!header;"
)

// HeaderKey returns the store key of a request header.
func HeaderKey(name string) string {
	return HeaderKeyPrefix + strings.ToLower(name)
}

// Location returns the client location (path and query) and subscribes the
// enclosing component to changes.
func (c *Context) Location() string {
	loc, _ := c.Get(LocationKey)
	return loc
}

// Path returns the path part of Location.
func (c *Context) Path() string {
	u, err := url.Parse(c.Location())
	if err != nil {
		return ""
	}
	return u.Path
}

// Query returns the parsed query of Location.
func (c *Context) Query() url.Values {
	u, err := url.Parse(c.Location())
	if err != nil {
		return url.Values{}
	}
	return u.Query()
}

// Header returns every value of a request header.
func (c *Context) Header(name string) []string {
	raw, ok := c.Get(HeaderKey(name))
	if !ok || raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

// Cookie returns a request cookie by name.
func (c *Context) Cookie(name string) (string, bool) {
	for _, line := range c.Header("cookie") {
		cookies, err := http.ParseCookie(line)
		if err != nil {
			continue
		}
		for _, ck := range cookies {
			if ck.Name == name {
				return ck.Value, true
			}
		}
	}
	return "", false
}

// Navigate moves the client to location. Repeated identical intents within
// one output batch are sent once; the location state reflects the last call.
func (c *Context) Navigate(location string) {
	c.Set(LocationKey, location)
	c.rt.output.Add(events.Navigate{Location: location})
}

// SetCookie asks the client to store cookie.
func (c *Context) SetCookie(cookie events.Cookie) error {
	if err := cookie.Validate(); err != nil {
		return err
	}
	c.rt.output.Add(events.SetCookie{Cookie: cookie})
	return nil
}

// DeleteCookie asks the client to drop the cookie name at path.
func (c *Context) DeleteCookie(name, path string) error {
	zero := 0
	epoch := time.Unix(0, 0).UTC()
	return c.SetCookie(events.Cookie{Name: name, Path: path, MaxAge: &zero, Expires: &epoch})
}

// UseStreaming asks the client to open (enabled) or close the persistent
// connection.
func (c *Context) UseStreaming(enabled bool) {
	c.rt.output.Add(events.UpgradeToStreaming{Enabled: enabled})
}

// ForceRefresh asks the client to reload the page.
func (c *Context) ForceRefresh() {
	c.rt.output.Add(events.ForceRefresh{})
}

// Emit sends an application event to client listeners.
func (c *Context) Emit(name string, data any) {
	c.rt.output.Add(events.Custom{Name: name, Data: data})
}
