package params

import (
	"fmt"
	"maps"
	"net/url"
	"strconv"
	"strings"
)

// Set maps parameter keys to canonical string values.
// A Set produced by Parse or Defaults holds every schema key.
type Set map[Key]string

// Defaults returns a Set holding the default value of every key.
func Defaults() Set {
	s := make(Set, len(schema))
	for _, d := range schema {
		s[d.Key] = d.Default
	}
	return s
}

// Parse decodes a raw query string into a fully populated Set.
// A leading "?" is accepted. Unknown keys are ignored, invalid or missing
// values fall back to their defaults and the first occurrence of a repeated
// key wins.
func Parse(query string) Set {
	query = strings.TrimPrefix(query, "?")
	// ParseQuery keeps every well-formed pair even when it reports an error.
	vals, _ := url.ParseQuery(query)
	return ParseValues(vals)
}

// ParseValues is Parse for already-decoded query values.
func ParseValues(vals url.Values) Set {
	s := make(Set, len(schema))
	for _, d := range schema {
		raw, ok := vals[string(d.Key)]
		if !ok || len(raw) == 0 {
			s[d.Key] = d.Default
			continue
		}
		s[d.Key] = d.Normalize(raw[0])
	}
	return s
}

// Encode serializes the Set into a compact query string: keys are sorted and
// values equal to their default are omitted. Parse(s.Encode()) equals s for
// any Set returned by Parse.
func (s Set) Encode() string {
	vals := url.Values{}
	for _, d := range schema {
		v, ok := s[d.Key]
		if !ok || v == d.Default {
			continue
		}
		vals.Set(string(d.Key), v)
	}
	return vals.Encode()
}

// EncodeFull is Encode without the compaction: every schema key is written,
// sorted, with missing keys at their default.
func (s Set) EncodeFull() string {
	vals := url.Values{}
	for _, d := range schema {
		v, ok := s[d.Key]
		if !ok {
			v = d.Default
		}
		vals.Set(string(d.Key), v)
	}
	return vals.Encode()
}

// With returns a copy of s with key set to raw. Unlike Parse it rejects
// invalid input instead of substituting the default.
func (s Set) With(key Key, raw string) (Set, error) {
	d, ok := Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	v, ok := d.Validate(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, raw)
	}
	out := s.Clone()
	out[key] = v
	return out, nil
}

// Clone returns a shallow copy of s.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// Subset returns a new Set restricted to keys. Keys missing from s are omitted.
func (s Set) Subset(keys []Key) Set {
	out := make(Set, len(keys))
	for _, k := range keys {
		if v, ok := s[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Equal reports whether s and other hold the same keys and values.
func (s Set) Equal(other Set) bool {
	return maps.Equal(s, other)
}

// Get returns the value at k or the key's default.
func (s Set) Get(k Key) string {
	if v, ok := s[k]; ok {
		return v
	}
	d, _ := Lookup(k)
	return d.Default
}

// Int returns the integer value at k, falling back to the default.
func (s Set) Int(k Key) int {
	if n, err := strconv.Atoi(s.Get(k)); err == nil {
		return n
	}
	d, _ := Lookup(k)
	n, _ := strconv.Atoi(d.Default)
	return n
}

// Bool returns the boolean value at k.
func (s Set) Bool(k Key) bool {
	return s.Get(k) == "true"
}

// Native returns the value at k as a JSON-friendly scalar: int for TypeInt,
// bool for TypeBool and string otherwise.
func (s Set) Native(k Key) any {
	d, ok := Lookup(k)
	if !ok {
		return s[k]
	}
	switch d.Type {
	case TypeInt:
		return s.Int(k)
	case TypeBool:
		return s.Bool(k)
	default:
		return s.Get(k)
	}
}

// FromNative canonicalizes a decoded JSON scalar for key k.
// Numbers are accepted for TypeInt only when integral.
func FromNative(k Key, v any) (string, error) {
	d, ok := Lookup(k)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, k)
	}
	var raw string
	switch x := v.(type) {
	case string:
		raw = x
	case bool:
		raw = strconv.FormatBool(x)
	case float64:
		if x != float64(int64(x)) {
			return "", fmt.Errorf("%w: %s=%v", ErrInvalidValue, k, x)
		}
		raw = strconv.FormatInt(int64(x), 10)
	default:
		return "", fmt.Errorf("%w: %s has type %T", ErrInvalidValue, k, v)
	}
	canon, ok := d.Validate(raw)
	if !ok {
		return "", fmt.Errorf("%w: %s=%q", ErrInvalidValue, k, raw)
	}
	return canon, nil
}
