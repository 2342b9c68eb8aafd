package params

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	s := Parse("")
	require.Len(t, s, len(Keys()))
	assert.True(t, s.Equal(Defaults()))
	assert.Equal(t, 100, s.Int(KeySize))
	assert.False(t, s.Bool(KeyCustom))
	assert.Equal(t, "next", s.Get(KeyTemplate))
}

func TestParse_DefaultSubstitution(t *testing.T) {
	tests := []struct {
		name  string
		query string
		key   Key
		want  string
	}{
		{"UnknownTheme", "theme=chartreuse", KeyTheme, "neutral"},
		{"UnknownStyle", "style=retro", KeyStyle, "vega"},
		{"BadTemplate", "template=remix", KeyTemplate, "next"},
		{"SizeNotANumber", "size=abc", KeySize, "100"},
		{"SizeFloat", "size=12.5", KeySize, "100"},
		{"SizeEmpty", "size=", KeySize, "100"},
		{"CustomGarbage", "custom=yes", KeyCustom, "false"},
		{"CustomNumeric", "custom=1", KeyCustom, "false"},
		{"ItemUppercase", "item=Login-Form", KeyItem, "preview"},
		{"ItemPathTraversal", "item=../etc", KeyItem, "preview"},
		{"BaseColorAccentOnly", "baseColor=blue", KeyBaseColor, "neutral"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Parse(tt.query)
			assert.Equal(t, tt.want, s.Get(tt.key))
		})
	}
}

func TestParse_ValidValues(t *testing.T) {
	s := Parse("?theme=blue&style=nova&size=120&custom=true&item=login-01&template=vite")
	assert.Equal(t, "blue", s.Get(KeyTheme))
	assert.Equal(t, "nova", s.Get(KeyStyle))
	assert.Equal(t, 120, s.Int(KeySize))
	assert.True(t, s.Bool(KeyCustom))
	assert.Equal(t, "login-01", s.Get(KeyItem))
	assert.Equal(t, "vite", s.Get(KeyTemplate))
}

func TestParse_FirstValueWinsAndUnknownKeysIgnored(t *testing.T) {
	s := Parse("theme=zinc&theme=stone&unknown=1")
	assert.Equal(t, "zinc", s.Get(KeyTheme))
	_, ok := s[Key("unknown")]
	assert.False(t, ok)
}

func TestParse_MalformedEscapesKeepGoodPairs(t *testing.T) {
	s := Parse("font=%zz&style=lyra")
	assert.Equal(t, "lyra", s.Get(KeyStyle))
	assert.Equal(t, "inter", s.Get(KeyFont))
}

func TestEncode_RoundTrip(t *testing.T) {
	queries := []string{
		"",
		"style=vega&theme=neutral",
		"baseColor=zinc&font=geist&iconLibrary=tabler&item=card-02&style=mira&theme=rose",
		"custom=true&size=80&template=start",
		"menuAccent=bold&menuColor=inverted&radius=large&size=007",
		"theme=chartreuse&size=big",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			first := Parse(q)
			second := Parse(first.Encode())
			assert.True(t, first.Equal(second), "parse(encode(parse(q))) != parse(q)")
			assert.Equal(t, first.Encode(), second.Encode())
		})
	}
}

func TestEncode_CompactAndSorted(t *testing.T) {
	s := Parse("theme=rose&style=vega&font=geist")
	// style=vega is the default and disappears.
	assert.Equal(t, "font=geist&theme=rose", s.Encode())
	assert.Equal(t, "", Defaults().Encode())
}

func TestEncodeFull_KeepsDefaults(t *testing.T) {
	s := Parse("theme=neutral&style=vega")
	full := s.EncodeFull()
	assert.Contains(t, full, "style=vega")
	assert.Contains(t, full, "theme=neutral")
	assert.Len(t, strings.Split(full, "&"), len(Keys()))
	assert.True(t, Parse(full).Equal(s))

	// Missing keys are written at their default.
	assert.Equal(t, Defaults().EncodeFull(), Set{}.EncodeFull())
}

func TestWith_Strict(t *testing.T) {
	base := Defaults()

	next, err := base.With(KeyTheme, "amber")
	require.NoError(t, err)
	assert.Equal(t, "amber", next.Get(KeyTheme))
	assert.Equal(t, "neutral", base.Get(KeyTheme), "With must not mutate the receiver")

	_, err = base.With(KeyTheme, "chartreuse")
	assert.True(t, errors.Is(err, ErrInvalidValue))

	_, err = base.With(Key("colour"), "red")
	assert.True(t, errors.Is(err, ErrUnknownKey))

	next, err = base.With(KeySize, "+42")
	require.NoError(t, err)
	assert.Equal(t, "42", next.Get(KeySize))
}

func TestSubset(t *testing.T) {
	s := Parse("theme=blue&font=roboto&size=90")
	sub := s.Subset(DefaultTrackedKeys)
	assert.Len(t, sub, len(DefaultTrackedKeys))
	assert.Equal(t, "blue", sub[KeyTheme])
	_, ok := sub[KeySize]
	assert.False(t, ok)
}

func TestFromNative(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		in      any
		want    string
		wantErr bool
	}{
		{"EnumString", KeyTheme, "stone", "stone", false},
		{"EnumInvalid", KeyTheme, "nope", "", true},
		{"IntNumber", KeySize, float64(110), "110", false},
		{"IntFraction", KeySize, 1.5, "", true},
		{"IntString", KeySize, "95", "95", false},
		{"BoolNative", KeyCustom, true, "true", false},
		{"BoolWrongType", KeyCustom, float64(1), "", true},
		{"NilValue", KeyFont, nil, "", true},
		{"UnknownKey", Key("colour"), "red", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromNative(tt.key, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNative(t *testing.T) {
	s := Parse("size=64&custom=true")
	assert.Equal(t, 64, s.Native(KeySize))
	assert.Equal(t, true, s.Native(KeyCustom))
	assert.Equal(t, "neutral", s.Native(KeyTheme))
}

func TestParseKeys(t *testing.T) {
	keys, err := ParseKeys([]string{"theme", "font"})
	require.NoError(t, err)
	assert.Equal(t, []Key{KeyTheme, KeyFont}, keys)

	_, err = ParseKeys([]string{"theme", "colour"})
	assert.ErrorIs(t, err, ErrUnknownKey)
}
