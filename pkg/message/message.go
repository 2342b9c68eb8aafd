// Package message defines the closed set of messages exchanged between a
// parent and its preview frames, and their JSON wire encoding.
//
// Wire shapes:
//
//	{"type":"design-system-params","params":{"theme":"neutral",...}}
//	{"type":"canva-zoom","command":{"type":"ZOOM_SET","value":1.5}}
//	{"type":"canva-zoom","zoom":1.5}
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"designsync/pkg/params"
	"designsync/pkg/zoom"
)

// Wire type tags.
const (
	TypeDesignSystemParams = "design-system-params"
	TypeCanvaZoom          = "canva-zoom"
)

// Kind identifies a message channel. Zoom commands and zoom reports share a
// wire tag but are distinct channels.
type Kind int

const (
	KindParams Kind = iota + 1
	KindZoomCommand
	KindZoomReport
)

func (k Kind) String() string {
	switch k {
	case KindParams:
		return "params"
	case KindZoomCommand:
		return "zoom-command"
	case KindZoomReport:
		return "zoom-report"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a configured name ("params", "zoom-command", "zoom-report"
// or the params wire tag) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "params", TypeDesignSystemParams:
		return KindParams, nil
	case "zoom-command":
		return KindZoomCommand, nil
	case "zoom-report":
		return KindZoomReport, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

var (
	// ErrUnknownType is returned when the type tag is not part of the protocol.
	ErrUnknownType = errors.New("message: unknown type")
	// ErrMalformed is returned for invalid JSON or a payload that does not
	// match its type tag.
	ErrMalformed = errors.New("message: malformed payload")
)

// Message is one of Params, ZoomCommand or ZoomReport.
type Message interface {
	Kind() Kind
	sealed()
}

// Params carries the full tracked parameter subset.
type Params struct {
	Values params.Set
}

// ZoomCommand asks a frame to change its canvas zoom.
type ZoomCommand struct {
	Command zoom.Command
}

// ZoomReport tells the parent the zoom level a frame ended up at.
type ZoomReport struct {
	Zoom float64
}

func (Params) Kind() Kind      { return KindParams }
func (ZoomCommand) Kind() Kind { return KindZoomCommand }
func (ZoomReport) Kind() Kind  { return KindZoomReport }

func (Params) sealed()      {}
func (ZoomCommand) sealed() {}
func (ZoomReport) sealed()  {}

type wireCommand struct {
	Type  zoom.Op  `json:"type"`
	Value *float64 `json:"value,omitempty"`
}

type wireEnvelope struct {
	Type    string         `json:"type"`
	Params  map[string]any `json:"params,omitempty"`
	Command *wireCommand   `json:"command,omitempty"`
	Zoom    *float64       `json:"zoom,omitempty"`
}

// Encode serializes m to its wire form.
func Encode(m Message) ([]byte, error) {
	var env wireEnvelope
	switch v := m.(type) {
	case Params:
		env.Type = TypeDesignSystemParams
		env.Params = make(map[string]any, len(v.Values))
		for k := range v.Values {
			env.Params[string(k)] = v.Values.Native(k)
		}
	case ZoomCommand:
		if !v.Command.Op.Valid() {
			return nil, fmt.Errorf("%w: zoom op %q", ErrMalformed, v.Command.Op)
		}
		env.Type = TypeCanvaZoom
		env.Command = &wireCommand{Type: v.Command.Op}
		if v.Command.Op == zoom.OpZoomSet {
			if math.IsNaN(v.Command.Value) || math.IsInf(v.Command.Value, 0) {
				return nil, fmt.Errorf("%w: non-finite zoom value", ErrMalformed)
			}
			val := v.Command.Value
			env.Command.Value = &val
		}
	case ZoomReport:
		if math.IsNaN(v.Zoom) || math.IsInf(v.Zoom, 0) {
			return nil, fmt.Errorf("%w: non-finite zoom report", ErrMalformed)
		}
		env.Type = TypeCanvaZoom
		z := v.Zoom
		env.Zoom = &z
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	return json.Marshal(env)
}

// Decode parses a wire message. Unknown tags yield ErrUnknownType; payloads
// that do not match their tag yield ErrMalformed.
func Decode(data []byte) (Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeDesignSystemParams:
		return decodeParams(env)
	case TypeCanvaZoom:
		switch {
		case env.Command != nil && env.Zoom == nil:
			return decodeCommand(env.Command)
		case env.Zoom != nil && env.Command == nil:
			return ZoomReport{Zoom: *env.Zoom}, nil
		default:
			return nil, fmt.Errorf("%w: canva-zoom needs exactly one of command or zoom", ErrMalformed)
		}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeParams(env wireEnvelope) (Message, error) {
	if env.Params == nil {
		return nil, fmt.Errorf("%w: params missing", ErrMalformed)
	}
	set := make(params.Set, len(env.Params))
	for name, raw := range env.Params {
		v, err := params.FromNative(params.Key(name), raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		set[params.Key(name)] = v
	}
	return Params{Values: set}, nil
}

func decodeCommand(c *wireCommand) (Message, error) {
	if !c.Type.Valid() {
		return nil, fmt.Errorf("%w: zoom op %q", ErrUnknownType, c.Type)
	}
	cmd := zoom.Command{Op: c.Type}
	if c.Type == zoom.OpZoomSet {
		if c.Value == nil {
			return nil, fmt.Errorf("%w: ZOOM_SET without value", ErrMalformed)
		}
		cmd.Value = *c.Value
	}
	return ZoomCommand{Command: cmd}, nil
}
