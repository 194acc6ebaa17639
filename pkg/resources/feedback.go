package resources

import "github.com/sugar-network/node/pkg/schema"

// Feedback is a question, idea or problem filed against a context;
// solution points at the implementation that settled it.
func Feedback() *schema.Metadata {
	return schema.MustNew("feedback",
		&schema.Property{
			Name:   "context",
			Access: schema.AccessCreate | schema.AccessRead,
			Prefix: "C",
		},
		&schema.Property{
			Name:     "type",
			Access:   schema.AccessPublic,
			Prefix:   "T",
			Typecast: schema.ListCast{Of: schema.EnumCast{Values: FeedbackTypes}},
		},
		&schema.Property{
			Name:      "title",
			Access:    schema.AccessPublic,
			Prefix:    "S",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:      "content",
			Access:    schema.AccessPublic,
			Prefix:    "N",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:    "solution",
			Access:  schema.AccessPublic,
			Prefix:  "A",
			Default: "",
		},
	)
}
