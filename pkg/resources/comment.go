package resources

import "github.com/sugar-network/node/pkg/schema"

// Comment threads under a review, a feedback entry or a solution.
// The context link mirrors the parent's and is read only.
func Comment() *schema.Metadata {
	return schema.MustNew("comment",
		&schema.Property{
			Name:    "context",
			Access:  schema.AccessRead,
			Prefix:  "C",
			Default: "",
		},
		&schema.Property{
			Name:    "review",
			Access:  schema.AccessCreate | schema.AccessRead,
			Prefix:  "R",
			Default: "",
		},
		&schema.Property{
			Name:    "feedback",
			Access:  schema.AccessCreate | schema.AccessRead,
			Prefix:  "F",
			Default: "",
		},
		&schema.Property{
			Name:    "solution",
			Access:  schema.AccessCreate | schema.AccessRead,
			Prefix:  "S",
			Default: "",
		},
		&schema.Property{
			Name:      "message",
			Access:    schema.AccessCreate | schema.AccessRead,
			Prefix:    "M",
			FullText:  true,
			Localized: true,
		},
	)
}
