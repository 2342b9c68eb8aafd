package zoom

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Op is a zoom command discriminator as it appears on the wire.
type Op string

// Supported zoom operations.
const (
	OpZoomIn  Op = "ZOOM_IN"
	OpZoomOut Op = "ZOOM_OUT"
	OpZoomSet Op = "ZOOM_SET"
	OpZoomFit Op = "ZOOM_FIT"
	OpReset   Op = "RESET"
)

// Valid reports whether o is one of the known operations.
func (o Op) Valid() bool {
	switch o {
	case OpZoomIn, OpZoomOut, OpZoomSet, OpZoomFit, OpReset:
		return true
	}
	return false
}

// Command is a one-shot instruction for a canvas. Value is only used by OpZoomSet.
type Command struct {
	Op    Op
	Value float64
}

// In, Out, Fit, Reset and Set build commands.
func In() Command               { return Command{Op: OpZoomIn} }
func Out() Command              { return Command{Op: OpZoomOut} }
func Fit() Command              { return Command{Op: OpZoomFit} }
func Reset() Command            { return Command{Op: OpReset} }
func Set(value float64) Command { return Command{Op: OpZoomSet, Value: value} }

func (c Command) String() string {
	if c.Op == OpZoomSet {
		return fmt.Sprintf("%s(%g)", c.Op, c.Value)
	}
	return string(c.Op)
}

// Check reports whether the command could be applied to any canvas.
func (c Command) Check() error {
	if !c.Op.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownOp, c.Op)
	}
	if c.Op == OpZoomSet && !isFinite(c.Value) {
		return fmt.Errorf("%w: %v", ErrInvalidZoom, c.Value)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// round trims float drift from repeated steps.
func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

var (
	// ErrUnknownOp is returned for commands outside the closed set of operations.
	ErrUnknownOp = errors.New("zoom: unknown operation")
	// ErrInvalidZoom is returned when ZOOM_SET carries a non-finite value.
	ErrInvalidZoom = errors.New("zoom: invalid zoom value")
	// ErrInvalidLimits is returned by Limits.Validate.
	ErrInvalidLimits = errors.New("zoom: invalid limits")
)

// Limits bounds the zoom level of a canvas.
type Limits struct {
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Step    float64 `yaml:"step"`
	Default float64 `yaml:"default"`
	// Padding is the fraction of the viewport left empty around fitted content.
	Padding float64 `yaml:"padding"`
}

// DefaultLimits are the bounds used by the preview canvas.
var DefaultLimits = Limits{Min: 0.25, Max: 2, Step: 0.1, Default: 1, Padding: 0.05}

// Validate checks that the limits describe a non-empty range containing Default.
func (l Limits) Validate() error {
	switch {
	case !isFinite(l.Min) || !isFinite(l.Max) || !isFinite(l.Step) || !isFinite(l.Default):
		return fmt.Errorf("%w: non-finite value", ErrInvalidLimits)
	case l.Min <= 0 || l.Min > l.Max:
		return fmt.Errorf("%w: need 0 < min <= max, got min=%g max=%g", ErrInvalidLimits, l.Min, l.Max)
	case l.Step <= 0:
		return fmt.Errorf("%w: step must be positive", ErrInvalidLimits)
	case l.Default < l.Min || l.Default > l.Max:
		return fmt.Errorf("%w: default %g outside [%g, %g]", ErrInvalidLimits, l.Default, l.Min, l.Max)
	case l.Padding < 0 || l.Padding >= 0.5:
		return fmt.Errorf("%w: padding must be in [0, 0.5)", ErrInvalidLimits)
	}
	return nil
}

// Size is a width/height pair in CSS pixels.
type Size struct {
	Width  float64
	Height float64
}

func (s Size) empty() bool { return s.Width <= 0 || s.Height <= 0 }

// Point is a pan offset.
type Point struct {
	X float64
	Y float64
}

// Canvas holds the zoom and pan state of a preview canvas.
// It is safe for concurrent use.
type Canvas struct {
	mu       sync.Mutex
	limits   Limits
	zoom     float64
	pan      Point
	viewport Size
	content  Size
}

// NewCanvas creates a canvas at the default zoom level.
func NewCanvas(limits Limits) (*Canvas, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Canvas{limits: limits, zoom: limits.Default}, nil
}

// Apply executes cmd and returns the resulting zoom level. A rejected command
// leaves the state unchanged.
func (c *Canvas) Apply(cmd Command) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := c.limits
	switch cmd.Op {
	case OpZoomIn:
		c.zoom = clamp(round(c.zoom+l.Step), l.Min, l.Max)
	case OpZoomOut:
		c.zoom = clamp(round(c.zoom-l.Step), l.Min, l.Max)
	case OpZoomSet:
		if !isFinite(cmd.Value) {
			return c.zoom, fmt.Errorf("%w: %v", ErrInvalidZoom, cmd.Value)
		}
		c.zoom = clamp(round(cmd.Value), l.Min, l.Max)
	case OpZoomFit:
		c.zoom = c.fitLocked()
		c.pan = Point{}
	case OpReset:
		c.zoom = l.Default
		c.pan = Point{}
	default:
		return c.zoom, fmt.Errorf("%w: %q", ErrUnknownOp, cmd.Op)
	}
	return c.zoom, nil
}

func (c *Canvas) fitLocked() float64 {
	if c.viewport.empty() || c.content.empty() {
		return c.limits.Default
	}
	usable := 1 - 2*c.limits.Padding
	fit := math.Min(
		c.viewport.Width*usable/c.content.Width,
		c.viewport.Height*usable/c.content.Height,
	)
	return clamp(round(fit), c.limits.Min, c.limits.Max)
}

// Zoom returns the current zoom level.
func (c *Canvas) Zoom() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoom
}

// Pan returns the current pan offset.
func (c *Canvas) Pan() Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pan
}

// PanBy moves the canvas by the given offset.
func (c *Canvas) PanBy(dx, dy float64) Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pan.X += dx
	c.pan.Y += dy
	return c.pan
}

// SetViewport records the visible area used by ZOOM_FIT.
func (c *Canvas) SetViewport(s Size) {
	c.mu.Lock()
	c.viewport = s
	c.mu.Unlock()
}

// SetContent records the content size used by ZOOM_FIT.
func (c *Canvas) SetContent(s Size) {
	c.mu.Lock()
	c.content = s
	c.mu.Unlock()
}

// Limits returns the canvas bounds.
func (c *Canvas) Limits() Limits {
	return c.limits
}
