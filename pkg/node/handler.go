package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vango-dev/livetree/pkg/events"
)

// validate is shared by every handler; it caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Handler is a named, typed event handler of one component type.
// Handlers are built once, typically as package variables.
type Handler struct {
	name   string
	params map[string]string
	bind   func(comp Component, data map[string]any) (func(*Context) error, error)
}

// Name returns the handler name sent by the client.
func (h *Handler) Name() string { return h.name }

// ParamMap returns a copy of the parameter map: parameter name to the
// client-side expression the client evaluates for it.
func (h *Handler) ParamMap() map[string]string {
	out := make(map[string]string, len(h.params))
	for k, v := range h.params {
		out[k] = v
	}
	return out
}

// NewHandler builds a handler that takes no parameters.
func NewHandler[C Component](name string, fn func(c C, ctx *Context) error) *Handler {
	return &Handler{
		name:   name,
		params: map[string]string{},
		bind: func(comp Component, data map[string]any) (func(*Context) error, error) {
			c, ok := comp.(C)
			if !ok {
				return nil, errForeignComponent
			}
			if len(data) > 0 {
				return nil, fmt.Errorf("unexpected parameters %v", sortedKeys(data))
			}
			return func(ctx *Context) error { return fn(c, ctx) }, nil
		},
	}
}

// NewParamHandler builds a handler whose parameters are the fields of P.
//
// Every exported field of P tagged `param:"<expression>"` is a parameter.
// Its name is the field's json name. Values are decoded with encoding/json,
// so a value of the wrong type rejects the event, and then checked against
// the field's `validate` tag. Every parameter must be present. P must be a struct; NewParamHandler panics
// otherwise.
func NewParamHandler[C Component, P any](name string, fn func(c C, ctx *Context, p P) error) *Handler {
	params := paramMap(reflect.TypeOf((*P)(nil)).Elem())
	return &Handler{
		name:   name,
		params: params,
		bind: func(comp Component, data map[string]any) (func(*Context) error, error) {
			c, ok := comp.(C)
			if !ok {
				return nil, errForeignComponent
			}
			p, err := decodeParams[P](params, data)
			if err != nil {
				return nil, err
			}
			return func(ctx *Context) error { return fn(c, ctx, p) }, nil
		},
	}
}

func decodeParams[P any](params map[string]string, data map[string]any) (P, error) {
	var p P
	for k := range data {
		if _, ok := params[k]; !ok {
			return p, fmt.Errorf("unknown parameter %q", k)
		}
	}
	for k := range params {
		if _, ok := data[k]; !ok {
			return p, fmt.Errorf("missing parameter %q", k)
		}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return p, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, err
	}
	if err := validate.Struct(p); err != nil {
		return p, err
	}
	return p, nil
}

func paramMap(t reflect.Type) map[string]string {
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("node: handler parameters must be a struct, got %s", t))
	}
	out := make(map[string]string)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		expr, ok := f.Tag.Lookup("param")
		if !ok || !f.IsExported() {
			continue
		}
		name := f.Name
		if tag := f.Tag.Get("json"); tag != "" {
			if n, _, _ := strings.Cut(tag, ","); n != "" && n != "-" {
				name = n
			}
		}
		out[name] = expr
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HandlerTable maps handler names to handlers for one component type.
type HandlerTable struct {
	handlers map[string]*Handler
}

// Handlers builds a table. Duplicate names panic.
func Handlers(hs ...*Handler) *HandlerTable {
	t := &HandlerTable{handlers: make(map[string]*Handler, len(hs))}
	for _, h := range hs {
		if _, dup := t.handlers[h.name]; dup {
			panic(fmt.Sprintf("node: duplicate handler %q", h.name))
		}
		t.handlers[h.name] = h
	}
	return t
}

// Lookup returns the handler registered under name.
func (t *HandlerTable) Lookup(name string) (*Handler, bool) {
	if t == nil {
		return nil, false
	}
	h, ok := t.handlers[name]
	return h, ok
}

// On returns the attribute that makes the client call h on event, e.g.
// ctx.On("click", increment) renders live-on-click="...".
func (c *Context) On(event string, h *Handler, opts ...events.Option) Attr {
	d := events.Descriptor{
		ContextID:   c.comp,
		HandlerName: h.name,
		ParamMap:    h.params,
		Options:     events.NewOptions(opts...),
	}
	return A("live-on-"+event, d.Encode())
}
