package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypecasts(t *testing.T) {
	v, err := IntCast{}.Cast(float64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	_, err = IntCast{}.Cast(5.5)
	assert.Error(t, err)

	v, err = BoolCast{}.Cast("true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = EnumCast{Values: []string{"activity", "content"}}.Cast("activity")
	require.NoError(t, err)
	assert.Equal(t, "activity", v)

	_, err = EnumCast{Values: []string{"activity"}}.Cast("game")
	assert.Error(t, err)

	v, err = ListCast{Of: StringCast{}}.Cast("solo")
	require.NoError(t, err)
	assert.Equal(t, []any{"solo"}, v)

	v, err = ListCast{Of: IntCast{}}.Cast([]any{float64(1), "2"})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, v)
}

func TestDefaultRepr(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, DefaultRepr([]any{"a", "b"}))
	assert.Equal(t, []string{"1"}, DefaultRepr(true))
	assert.Equal(t, []string{"5"}, DefaultRepr(int64(5)))
	assert.Nil(t, DefaultRepr(nil))
}

func TestMetadataValidation(t *testing.T) {
	_, err := New("context",
		&Property{Name: "title", Slot: 1, Prefix: "T"},
		&Property{Name: "summary", Slot: 1, Prefix: "S"},
	)
	assert.ErrorContains(t, err, "slot 1 already used")

	_, err = New("context",
		&Property{Name: "title", Prefix: "T"},
		&Property{Name: "summary", Prefix: "T"},
	)
	assert.ErrorContains(t, err, `prefix "T" already used`)

	_, err = New("context", &Property{Name: "title", Slot: CtimeSlot})
	assert.ErrorContains(t, err, "reserved")

	_, err = New("context", &Property{Name: "preview", Blob: true, Slot: 2})
	assert.ErrorContains(t, err, "cannot be indexed")

	_, err = New("context", &Property{Name: "data", Slot: 3, Typecast: DictCast{}})
	assert.ErrorContains(t, err, "cannot back a slot")
}

func TestMetadataBuiltins(t *testing.T) {
	m, err := New("context", &Property{Name: "title", Slot: 1, Prefix: "T", Localized: true})
	require.NoError(t, err)

	for _, name := range []string{"guid", "ctime", "mtime", "seqno", "layer", "author"} {
		_, ok := m.Property(name)
		assert.True(t, ok, name)
	}

	guid, _ := m.Property("guid")
	assert.Equal(t, GUIDSlot, guid.Slot)
	assert.Equal(t, GUIDPrefix, guid.Prefix)

	assert.NoError(t, m.AssertAccess("title", AccessWrite))
	assert.Error(t, m.AssertAccess("seqno", AccessWrite))
	assert.Error(t, m.AssertAccess("absent", AccessRead))
}

func TestLocalizedCast(t *testing.T) {
	SetDefaultLang("en")
	p := &Property{Name: "title", Localized: true}

	v, err := p.Cast("Hello")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"en": "Hello"}, v)

	v, err = p.Cast(map[string]any{"ru": "Privet"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ru": "Privet"}, v)
}

func TestLocalizedValue(t *testing.T) {
	SetDefaultLang("en")
	value := map[string]any{"en": "Hello", "es": "Hola", "pt-br": "Oi"}

	assert.Equal(t, "Hola", LocalizedValue(value, []string{"es"}))
	assert.Equal(t, "Oi", LocalizedValue(value, []string{"pt-BR"}))
	assert.Equal(t, "Hello", LocalizedValue(value, []string{"fr"}))
	assert.Equal(t, "plain", LocalizedValue("plain", nil))
}

func TestGUID(t *testing.T) {
	guid := NewGUID()
	assert.NoError(t, ValidateGUID(guid))
	assert.NotContains(t, guid, "-")

	assert.Error(t, ValidateGUID(""))
	assert.Error(t, ValidateGUID("bad guid"))
	assert.NoError(t, ValidateGUID("org.laptop.Chat"))
}
