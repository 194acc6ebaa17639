package resources

import "github.com/sugar-network/node/pkg/schema"

// Report is a crash or failure log uploaded for an implementation; the
// data blob holds the raw log.
func Report() *schema.Metadata {
	return schema.MustNew("report",
		&schema.Property{
			Name:   "context",
			Access: schema.AccessCreate | schema.AccessRead,
			Prefix: "C",
		},
		&schema.Property{
			Name:    "implementation",
			Access:  schema.AccessCreate | schema.AccessRead,
			Prefix:  "V",
			Default: "",
		},
		&schema.Property{
			Name:      "description",
			Access:    schema.AccessCreate | schema.AccessRead,
			Prefix:    "D",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:    "version",
			Access:  schema.AccessCreate | schema.AccessRead,
			Default: "",
		},
		&schema.Property{
			Name:     "environ",
			Access:   schema.AccessCreate | schema.AccessRead,
			Typecast: schema.DictCast{},
			Default:  map[string]any{},
		},
		&schema.Property{
			Name:   "error",
			Access: schema.AccessCreate | schema.AccessRead,
			Prefix: "T",
		},
		&schema.Property{
			Name:   "data",
			Access: schema.AccessPublic,
			Blob:   true,
		},
	)
}
