package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/sugar-network/node/pkg/errs"
)

var guidRe = regexp.MustCompile(`^[a-zA-Z0-9_+.-]+$`)

// NewGUID generates a random document GUID.
func NewGUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidateGUID checks a caller-supplied GUID against the allowed
// character set.
func ValidateGUID(guid string) error {
	if guid == "" || !guidRe.MatchString(guid) {
		return errs.Newf(errs.BadRequest, "malformed GUID %q", guid)
	}
	return nil
}

// Metadata is the validated property set of one document class.
type Metadata struct {
	name  string
	props map[string]*Property
	order []string
}

// Builtins returns the bookkeeping properties every document class
// carries.
func Builtins() []*Property {
	return []*Property{
		{
			Name:   "guid",
			Access: AccessCreate | AccessRead,
			Slot:   GUIDSlot,
			Prefix: GUIDPrefix,
		},
		{
			Name:     "ctime",
			Access:   AccessRead,
			Slot:     CtimeSlot,
			Prefix:   "IC",
			Typecast: IntCast{},
			Default:  int64(0),
		},
		{
			Name:     "mtime",
			Access:   AccessRead,
			Slot:     MtimeSlot,
			Prefix:   "IM",
			Typecast: IntCast{},
			Default:  int64(0),
		},
		{
			Name:     "seqno",
			Access:   AccessRead,
			Slot:     SeqnoSlot,
			Prefix:   "IS",
			Typecast: IntCast{},
			Default:  int64(0),
		},
		{
			Name:     "layer",
			Access:   AccessRead | AccessSystem,
			Prefix:   "RL",
			Typecast: ListCast{Of: StringCast{}},
			Default:  []any{"public"},
		},
		{
			Name:     "tags",
			Access:   AccessPublic,
			Prefix:   "RT",
			Typecast: ListCast{Of: StringCast{}},
			Default:  []any{},
		},
		{
			Name:     "author",
			Access:   AccessRead | AccessSystem,
			Prefix:   "RA",
			Typecast: DictCast{},
			Default:  map[string]any{},
		},
	}
}

// New builds the metadata for a document class from the built-in
// properties plus the given class-specific ones, validating slot and
// prefix assignments.
func New(name string, props ...*Property) (*Metadata, error) {
	m := &Metadata{
		name:  name,
		props: make(map[string]*Property),
	}
	slots := make(map[int]string)
	prefixes := make(map[string]string)

	add := func(p *Property, builtin bool) error {
		if p.Name == "" {
			return fmt.Errorf("%s: property with empty name", name)
		}
		if _, ok := m.props[p.Name]; ok {
			return fmt.Errorf("%s: duplicate property %q", name, p.Name)
		}
		// Slot 0 in a class definition means "no slot"; only the guid
		// built-in actually occupies slot 0.
		if !builtin && p.Slot >= CtimeSlot {
			return fmt.Errorf("%s.%s: slot %d is reserved", name, p.Name, p.Slot)
		}
		if p.Slot > 0 || p.Name == "guid" {
			if owner, ok := slots[p.Slot]; ok {
				return fmt.Errorf("%s.%s: slot %d already used by %q", name, p.Name, p.Slot, owner)
			}
			slots[p.Slot] = p.Name
			if !p.Localized && !slotable(p.Typecast) {
				return fmt.Errorf("%s.%s: typecast cannot back a slot", name, p.Name)
			}
		}
		if p.Prefix != "" {
			if owner, ok := prefixes[p.Prefix]; ok {
				return fmt.Errorf("%s.%s: prefix %q already used by %q", name, p.Name, p.Prefix, owner)
			}
			prefixes[p.Prefix] = p.Name
		}
		if p.Blob && (p.Prefix != "" || p.Slot > 0 || p.FullText) {
			return fmt.Errorf("%s.%s: BLOB properties cannot be indexed", name, p.Name)
		}
		m.props[p.Name] = p
		m.order = append(m.order, p.Name)
		return nil
	}

	for _, p := range Builtins() {
		if err := add(p, true); err != nil {
			return nil, err
		}
	}
	for _, p := range props {
		if err := add(p, false); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNew is New for startup-time class definitions.
func MustNew(name string, props ...*Property) *Metadata {
	m, err := New(name, props...)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the document class name.
func (m *Metadata) Name() string {
	return m.name
}

// Property returns the descriptor for name.
func (m *Metadata) Property(name string) (*Property, bool) {
	p, ok := m.props[name]
	return p, ok
}

// Properties returns all descriptors in declaration order, built-ins
// first.
func (m *Metadata) Properties() []*Property {
	out := make([]*Property, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.props[name])
	}
	return out
}

// AssertAccess returns Forbidden unless the property grants mode.
func (m *Metadata) AssertAccess(prop string, mode Access) error {
	p, ok := m.props[prop]
	if !ok {
		return errs.Newf(errs.NotFound, "property %q is absent in %q", prop, m.name)
	}
	if p.Access&mode == 0 {
		return errs.Newf(errs.Forbidden, "property %q in %q is not available for this operation", prop, m.name)
	}
	return nil
}
