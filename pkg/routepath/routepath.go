// Package routepath canonicalizes request paths and matches them against
// route patterns.
//
// A pattern is a path with parameter placeholders:
//
//	/var/{value}     one segment, bound to "value"
//	/files/{rest*}   the remainder of the path, slashes included
//	/{}              an unnamed segment, matched but not bound
//
// Matching is case-insensitive and always covers the whole path.
package routepath

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Canonicalization and pattern errors.
var (
	ErrBackslashInPath      = errors.New("routepath: path contains backslash")
	ErrNullByteInPath       = errors.New("routepath: path contains null byte")
	ErrInvalidPercentEscape = errors.New("routepath: invalid percent escape sequence")
	ErrPathEscapesRoot      = errors.New("routepath: path escapes root via ..")
	ErrInvalidPattern       = errors.New("routepath: invalid pattern")
)

// Canonicalize normalizes a path for matching:
//   - a leading "/" is added and an empty path becomes "/"
//   - repeated slashes collapse and "." segments are dropped
//   - ".." segments are resolved
//   - a trailing slash is removed, except for the root
//
// Backslashes, NUL bytes, malformed percent escapes and ".." above the root
// are rejected. A query string, if any, is cut off.
func Canonicalize(input string) (string, error) {
	path, _, _ := strings.Cut(input, "?")
	if path == "" {
		return "/", nil
	}
	if strings.Contains(path, "\\") {
		return "", ErrBackslashInPath
	}
	if strings.Contains(path, "\x00") || strings.Contains(strings.ToUpper(path), "%00") {
		return "", ErrNullByteInPath
	}
	if strings.Contains(path, "%") {
		if err := validatePercentEscapes(path); err != nil {
			return "", err
		}
	}

	var out []string
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(out) == 0 {
				return "", ErrPathEscapesRoot
			}
			out = out[:len(out)-1]
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/"), nil
}

func validatePercentEscapes(path string) error {
	for i := 0; i < len(path); i++ {
		if path[i] != '%' {
			continue
		}
		if i+2 >= len(path) || !isHexDigit(path[i+1]) || !isHexDigit(path[i+2]) {
			return ErrInvalidPercentEscape
		}
		i += 2
	}
	return nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

const (
	segmentChars = `[A-Za-z0-9._~\-%]*`
	pathChars    = `[A-Za-z0-9._~\-%/]*`
)

var (
	placeholder = regexp.MustCompile(`\{([^*}]*)(\*)?\}`)
	literalPath = regexp.MustCompile(`^` + pathChars + `$`)
	identifier  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Pattern is a compiled route pattern.
type Pattern struct {
	source   string
	re       *regexp.Regexp
	catchAll map[string]bool
}

// Compile parses a route pattern.
func Compile(pattern string) (*Pattern, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	catchAll := make(map[string]bool)

	index := 0
	for _, m := range placeholder.FindAllStringSubmatchIndex(pattern, -1) {
		if err := writeLiteral(&b, pattern, pattern[index:m[0]]); err != nil {
			return nil, err
		}

		name := pattern[m[2]:m[3]]
		chars := segmentChars
		if m[4] >= 0 {
			chars = pathChars
		}
		switch {
		case name == "":
			b.WriteString("(?:" + chars + ")")
		case identifier.MatchString(name):
			if _, dup := catchAll[name]; dup {
				return nil, fmt.Errorf("%w: parameter %q repeated in %q", ErrInvalidPattern, name, pattern)
			}
			catchAll[name] = m[4] >= 0
			b.WriteString("(?P<" + name + ">" + chars + ")")
		default:
			return nil, fmt.Errorf("%w: %q is not a valid parameter name in %q", ErrInvalidPattern, name, pattern)
		}
		index = m[1]
	}
	if err := writeLiteral(&b, pattern, pattern[index:]); err != nil {
		return nil, err
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	return &Pattern{source: pattern, re: re, catchAll: catchAll}, nil
}

func writeLiteral(b *strings.Builder, pattern, literal string) error {
	if !literalPath.MatchString(literal) {
		return fmt.Errorf("%w: segment %q in %q", ErrInvalidPattern, literal, pattern)
	}
	b.WriteString(regexp.QuoteMeta(literal))
	return nil
}

// MustCompile is Compile that panics on an invalid pattern.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern source.
func (p *Pattern) String() string { return p.source }

// Match reports whether path matches the whole pattern and returns the
// decoded named parameters. The path is matched as given; callers
// canonicalize it first. A single-segment parameter never decodes to a
// value containing "/".
func (p *Pattern) Match(path string) (map[string]string, bool) {
	m := p.re.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string)
	for i, name := range p.re.SubexpNames() {
		if name == "" {
			continue
		}
		v, err := url.PathUnescape(m[i])
		if err != nil || (!p.catchAll[name] && strings.Contains(v, "/")) {
			return nil, false
		}
		params[name] = v
	}
	return params, true
}
