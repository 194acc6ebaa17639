package schema

import (
	"strings"
	"sync/atomic"
)

// GUIDPrefix is the inverted-index prefix that keys documents by GUID.
const GUIDPrefix = "I"

// ExactPrefix namespaces exact-match terms within a property prefix.
const ExactPrefix = "X"

// Reserved slots for the built-in bookkeeping properties.
const (
	GUIDSlot  = 0
	CtimeSlot = 1000
	MtimeSlot = 1001
	SeqnoSlot = 1002
)

var defaultLang atomic.Value

func init() {
	defaultLang.Store("en")
}

// SetDefaultLang sets the language used to store scalar values of
// localized properties and to pick a translation when the request
// carries no accept list.
func SetDefaultLang(lang string) {
	defaultLang.Store(normalizeLang(lang))
}

// DefaultLang returns the node-wide default language tag.
func DefaultLang() string {
	return defaultLang.Load().(string)
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, ";."); i >= 0 {
		lang = lang[:i]
	}
	if lang == "" {
		return "en"
	}
	return strings.Replace(lang, "_", "-", 1)
}

// Doc is the view of a document that getters and setters receive.
type Doc interface {
	GUID() string
	Get(prop string) (any, error)
}

// Getter projects a stored value into the reply payload.
type Getter func(doc Doc, value any) (any, error)

// Setter rewrites an incoming value before it is stored.
type Setter func(doc Doc, value any) (any, error)

// Property describes one document property. Prefix, Slot and FullText
// select what gets indexed; a property with none of them is stored only.
type Property struct {
	Name     string
	Access   Access
	Default  any
	Typecast Typecast
	Repr     Reprcast

	// Prefix is the inverted-index term prefix; empty means no terms.
	Prefix string
	// Slot is the value slot used for sorting and ranges; 0 means none
	// for everything but the GUID property.
	Slot int
	// FullText feeds the value through the free-text tokenizer.
	FullText bool
	// Boolean indexes the value as an unweighted filter term.
	Boolean bool

	// Localized properties store language-tag to string maps.
	Localized bool
	// Blob properties keep their bytes in a sidecar file.
	Blob bool
	// MimeType is the default content type served for Blob properties.
	MimeType string

	OnGet Getter
	OnSet Setter
}

// Indexed reports whether writes to the property must reach the index.
func (p *Property) Indexed() bool {
	return p.Prefix != "" || p.Slot > 0 || p.Name == "guid" || p.FullText
}

// Terms returns the strings indexed for a stored value.
func (p *Property) Terms(v any) []string {
	if p.Repr != nil {
		return p.Repr(v)
	}
	return DefaultRepr(v)
}

// Cast validates an incoming value against the property typecast. For
// localized properties a scalar string is wrapped into a default-language
// map.
func (p *Property) Cast(v any) (any, error) {
	if p.Localized {
		if s, ok := v.(string); ok {
			return map[string]any{DefaultLang(): s}, nil
		}
		return DictCast{}.Cast(v)
	}
	if p.Typecast == nil {
		return v, nil
	}
	return p.Typecast.Cast(v)
}

// LocalizedValue picks the best translation from a localized value for
// the given accept-language list.
func LocalizedValue(v any, accept []string) string {
	m, ok := v.(map[string]any)
	if !ok {
		if s, ok := v.(string); ok {
			return s
		}
		return ""
	}
	langs := append([]string{}, accept...)
	langs = append(langs, DefaultLang())
	for _, lang := range langs {
		lang = normalizeLang(lang)
		if s, ok := m[lang].(string); ok {
			return s
		}
		// Fall back to the bare language without a region
		if i := strings.Index(lang, "-"); i > 0 {
			if s, ok := m[lang[:i]].(string); ok {
				return s
			}
		}
	}
	for _, item := range m {
		if s, ok := item.(string); ok {
			return s
		}
	}
	return ""
}
