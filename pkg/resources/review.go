package resources

import "github.com/sugar-network/node/pkg/schema"

// Review rates a context or one of its artifacts.
func Review() *schema.Metadata {
	return schema.MustNew("review",
		&schema.Property{
			Name:   "context",
			Access: schema.AccessCreate | schema.AccessRead,
			Prefix: "C",
		},
		&schema.Property{
			Name:    "artifact",
			Access:  schema.AccessCreate | schema.AccessRead,
			Prefix:  "A",
			Default: "",
		},
		&schema.Property{
			Name:      "title",
			Access:    schema.AccessCreate | schema.AccessRead,
			Prefix:    "S",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:      "content",
			Access:    schema.AccessCreate | schema.AccessRead,
			Prefix:    "N",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:     "rating",
			Access:   schema.AccessCreate | schema.AccessRead,
			Slot:     1,
			Typecast: schema.IntCast{},
			OnSet:    ratingRange("rating"),
			Default:  int64(0),
		},
	)
}
