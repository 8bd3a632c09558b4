package events

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidDescriptor is returned when a descriptor cannot be decoded into a
// well-formed value. Callers must drop the event.
var ErrInvalidDescriptor = errors.New("events: invalid descriptor")

// Input is one client event addressed to a component instance.
type Input struct {
	ContextID   string         `json:"context_id"`
	HandlerName string         `json:"handler_name"`
	Data        map[string]any `json:"data"`
}

// Options tune how the client triggers an event. Timing options are
// enforced by the client; the server only carries them.
type Options struct {
	Debounce       int  `json:"debounce,omitempty"`
	Throttle       int  `json:"throttle,omitempty"`
	PreventDefault bool `json:"prevent_default,omitempty"`
	NoTrigger      bool `json:"no_trigger,omitempty"`
}

// Option sets a field of Options.
type Option func(*Options)

// Debounce delays the event until the client has been quiet for ms.
func Debounce(ms int) Option { return func(o *Options) { o.Debounce = ms } }

// Throttle limits the event to one per ms.
func Throttle(ms int) Option { return func(o *Options) { o.Throttle = ms } }

// PreventDefault cancels the browser default action.
func PreventDefault() Option { return func(o *Options) { o.PreventDefault = true } }

// NoTrigger queues the event client side without a server round-trip.
func NoTrigger() Option { return func(o *Options) { o.NoTrigger = true } }

// NewOptions applies opts to a zero Options.
func NewOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Descriptor is the attribute payload that lets the client invoke a handler.
type Descriptor struct {
	ContextID   string            `json:"context_id"`
	HandlerName string            `json:"handler_name"`
	ParamMap    map[string]string `json:"param_map"`
	Options     Options           `json:"options"`
}

// Encode returns the descriptor as base64 of its JSON encoding.
func (d Descriptor) Encode() string {
	if d.ParamMap == nil {
		d.ParamMap = map[string]string{}
	}
	raw, err := json.Marshal(d)
	if err != nil {
		// Only strings, ints and bools: marshaling cannot fail.
		panic(fmt.Sprintf("events: encode descriptor: %v", err))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeDescriptor parses an encoded descriptor. Any structural problem
// (bad base64, unknown fields, trailing data, missing ids, negative timings)
// yields ErrInvalidDescriptor.
func DecodeDescriptor(s string) (Descriptor, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	if dec.More() {
		return Descriptor{}, fmt.Errorf("%w: trailing data", ErrInvalidDescriptor)
	}
	if d.ContextID == "" || d.HandlerName == "" {
		return Descriptor{}, fmt.Errorf("%w: missing context or handler", ErrInvalidDescriptor)
	}
	if d.Options.Debounce < 0 || d.Options.Throttle < 0 {
		return Descriptor{}, fmt.Errorf("%w: negative timing", ErrInvalidDescriptor)
	}
	return d, nil
}

// Input builds the event a client would send for d with the given values.
func (d Descriptor) Input(data map[string]any) Input {
	if data == nil {
		data = map[string]any{}
	}
	return Input{ContextID: d.ContextID, HandlerName: d.HandlerName, Data: data}
}
