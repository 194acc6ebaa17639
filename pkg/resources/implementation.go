package resources

import "github.com/sugar-network/node/pkg/schema"

// Implementation is one released version of a context. Everything is
// create-and-read only: a release is never edited, a fixed one is
// published as a new implementation. The version slot is backed by
// EncodeVersion so range queries follow version order, not string
// order.
func Implementation() *schema.Metadata {
	return schema.MustNew("implementation",
		&schema.Property{
			Name:   "context",
			Access: schema.AccessCreate | schema.AccessRead,
			Prefix: "C",
		},
		&schema.Property{
			Name:     "license",
			Access:   schema.AccessCreate | schema.AccessRead,
			Prefix:   "L",
			FullText: true,
			Typecast: schema.ListCast{Of: schema.EnumCast{Values: GoodLicenses}},
		},
		&schema.Property{
			Name:   "version",
			Access: schema.AccessCreate | schema.AccessRead,
			Slot:   1,
			Prefix: "V",
			Repr:   EncodeVersion,
		},
		&schema.Property{
			Name:     "stability",
			Access:   schema.AccessCreate | schema.AccessRead,
			Prefix:   "S",
			Typecast: schema.EnumCast{Values: Stabilities},
		},
		&schema.Property{
			Name:     "requires",
			Access:   schema.AccessCreate | schema.AccessRead,
			Prefix:   "R",
			Typecast: schema.ListCast{Of: schema.StringCast{}},
			Default:  []any{},
		},
		&schema.Property{
			Name:      "notes",
			Access:    schema.AccessCreate | schema.AccessRead,
			Prefix:    "N",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:     "spec",
			Access:   schema.AccessPublic,
			Typecast: schema.DictCast{},
			Default:  map[string]any{},
		},
		&schema.Property{
			Name:   "data",
			Access: schema.AccessPublic,
			Blob:   true,
		},
	)
}
