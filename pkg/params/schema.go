package params

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
)

// Key names a design-system parameter. The set of keys is fixed.
type Key string

// Parameter keys as they appear in the query string.
const (
	KeyBase        Key = "base"
	KeyStyle       Key = "style"
	KeyTheme       Key = "theme"
	KeyBaseColor   Key = "baseColor"
	KeyFont        Key = "font"
	KeyIconLibrary Key = "iconLibrary"
	KeyItem        Key = "item"
	KeyMenuAccent  Key = "menuAccent"
	KeyMenuColor   Key = "menuColor"
	KeyRadius      Key = "radius"
	KeySize        Key = "size"
	KeyCustom      Key = "custom"
	KeyTemplate    Key = "template"
)

// Type is the value kind of a parameter.
type Type int

const (
	// TypeEnum values must appear in the descriptor's allow-list.
	TypeEnum Type = iota
	// TypeString values are free-form slugs.
	TypeString
	// TypeInt values are base-10 integers.
	TypeInt
	// TypeBool values are "true" or "false".
	TypeBool
)

func (t Type) String() string {
	switch t {
	case TypeEnum:
		return "enum"
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

var (
	// ErrUnknownKey is returned for keys outside the schema.
	ErrUnknownKey = errors.New("params: unknown key")
	// ErrInvalidValue is returned when a value fails validation on the strict write path.
	ErrInvalidValue = errors.New("params: invalid value")
)

// Descriptor describes one parameter: its type, default and allowed values.
type Descriptor struct {
	Key     Key
	Type    Type
	Default string
	Allowed []string
}

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Validate reports whether raw is an acceptable value and returns its canonical form.
func (d Descriptor) Validate(raw string) (string, bool) {
	switch d.Type {
	case TypeEnum:
		if slices.Contains(d.Allowed, raw) {
			return raw, true
		}
	case TypeString:
		if slugRegex.MatchString(raw) {
			return raw, true
		}
	case TypeInt:
		n, err := strconv.Atoi(raw)
		if err == nil {
			return strconv.Itoa(n), true
		}
	case TypeBool:
		if raw == "true" || raw == "false" {
			return raw, true
		}
	}
	return "", false
}

// Normalize returns the canonical form of raw, or the default when raw is invalid.
func (d Descriptor) Normalize(raw string) string {
	if v, ok := d.Validate(raw); ok {
		return v
	}
	return d.Default
}

var baseColors = []string{"neutral", "stone", "zinc", "gray"}

var themes = append(slices.Clone(baseColors),
	"amber", "blue", "cyan", "emerald", "fuchsia", "green", "indigo", "lime",
	"orange", "pink", "purple", "red", "rose", "sky", "teal", "violet", "yellow",
)

// schema is ordered; Keys() preserves this order.
var schema = []Descriptor{
	{Key: KeyBase, Type: TypeEnum, Default: "radix", Allowed: []string{"radix", "base"}},
	{Key: KeyStyle, Type: TypeEnum, Default: "vega", Allowed: []string{"vega", "nova", "maia", "lyra", "mira"}},
	{Key: KeyTheme, Type: TypeEnum, Default: "neutral", Allowed: themes},
	{Key: KeyBaseColor, Type: TypeEnum, Default: "neutral", Allowed: baseColors},
	{Key: KeyFont, Type: TypeEnum, Default: "inter", Allowed: []string{
		"inter", "noto-sans", "nunito-sans", "figtree", "roboto", "raleway",
		"dm-sans", "public-sans", "outfit", "geist", "geist-mono", "jetbrains-mono",
	}},
	{Key: KeyIconLibrary, Type: TypeEnum, Default: "lucide", Allowed: []string{"lucide", "tabler", "hugeicons", "phosphor", "remixicon"}},
	{Key: KeyItem, Type: TypeString, Default: "preview"},
	{Key: KeyMenuAccent, Type: TypeEnum, Default: "subtle", Allowed: []string{"subtle", "bold"}},
	{Key: KeyMenuColor, Type: TypeEnum, Default: "default", Allowed: []string{"default", "inverted"}},
	{Key: KeyRadius, Type: TypeEnum, Default: "default", Allowed: []string{"default", "none", "small", "medium", "large"}},
	{Key: KeySize, Type: TypeInt, Default: "100"},
	{Key: KeyCustom, Type: TypeBool, Default: "false"},
	{Key: KeyTemplate, Type: TypeEnum, Default: "next", Allowed: []string{"next", "start", "vite"}},
}

var byKey = func() map[Key]Descriptor {
	m := make(map[Key]Descriptor, len(schema))
	for _, d := range schema {
		m[d.Key] = d
	}
	return m
}()

// DefaultTrackedKeys are the keys the parent resends to preview frames.
var DefaultTrackedKeys = []Key{KeyTheme, KeyIconLibrary, KeyStyle, KeyFont, KeyItem, KeyBaseColor}

// Keys returns every schema key in declaration order.
func Keys() []Key {
	keys := make([]Key, len(schema))
	for i, d := range schema {
		keys[i] = d.Key
	}
	return keys
}

// Lookup returns the descriptor for k.
func Lookup(k Key) (Descriptor, bool) {
	d, ok := byKey[k]
	return d, ok
}

// ParseKeys converts raw key names, rejecting any that are not in the schema.
func ParseKeys(names []string) ([]Key, error) {
	keys := make([]Key, 0, len(names))
	for _, n := range names {
		if _, ok := byKey[Key(n)]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, n)
		}
		keys = append(keys, Key(n))
	}
	return keys, nil
}
