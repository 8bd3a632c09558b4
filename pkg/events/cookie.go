package events

import (
	"errors"
	"net/http"
	"regexp"
	"time"
)

var (
	cookieNamePattern  = regexp.MustCompile(`^[^=;, \t\n\r\f\v]+$`)
	cookieValuePattern = regexp.MustCompile(`^[^;, \t\n\r\f\v]+$`)
	cookiePathPattern  = regexp.MustCompile(`^[^\x00-\x20;,\s]+$`)
)

// Cookie errors.
var (
	ErrCookieName   = errors.New("events: invalid cookie name")
	ErrCookieValue  = errors.New("events: invalid cookie value")
	ErrCookiePath   = errors.New("events: invalid cookie path")
	ErrCookieDomain = errors.New("events: invalid cookie domain")
)

// Cookie describes a cookie the client should store.
// MaxAge is nil when unset; a pointer to 0 deletes the cookie.
type Cookie struct {
	Name     string
	Value    string
	Expires  *time.Time
	Path     string
	MaxAge   *int
	Secure   bool
	HTTPOnly bool
	Domain   string
}

// Validate checks the cookie fields against the characters a Set-Cookie
// header can carry.
func (c Cookie) Validate() error {
	if !cookieNamePattern.MatchString(c.Name) {
		return ErrCookieName
	}
	if c.Value != "" && !cookieValuePattern.MatchString(c.Value) {
		return ErrCookieValue
	}
	if c.Path != "" && !cookiePathPattern.MatchString(c.Path) {
		return ErrCookiePath
	}
	if c.Domain != "" && !cookieValuePattern.MatchString(c.Domain) {
		return ErrCookieDomain
	}
	return nil
}

// HTTP converts the cookie to its net/http form.
func (c Cookie) HTTP() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if c.Expires != nil {
		hc.Expires = *c.Expires
	}
	if c.MaxAge != nil {
		if *c.MaxAge <= 0 {
			hc.MaxAge = -1
		} else {
			hc.MaxAge = *c.MaxAge
		}
	}
	return hc
}

// Header renders the Set-Cookie header value.
func (c Cookie) Header() string {
	return c.HTTP().String()
}
