package resources

import "github.com/sugar-network/node/pkg/schema"

// Artifact is an object produced with a context, an instance a user
// shares back. It carries the same local-only favorite/clone pair and
// system-maintained counters as context.
func Artifact() *schema.Metadata {
	return schema.MustNew("artifact",
		&schema.Property{
			Name:   "context",
			Access: schema.AccessCreate | schema.AccessRead,
			Prefix: "C",
		},
		&schema.Property{
			Name:     "type",
			Access:   schema.AccessPublic,
			Prefix:   "T",
			Typecast: schema.ListCast{Of: schema.EnumCast{Values: ArtifactTypes}},
		},
		&schema.Property{
			Name:      "title",
			Access:    schema.AccessCreate | schema.AccessRead,
			Slot:      1,
			Prefix:    "S",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:      "description",
			Access:    schema.AccessCreate | schema.AccessRead,
			Prefix:    "D",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:     "downloads",
			Access:   schema.AccessRead | schema.AccessSystem,
			Slot:     2,
			Typecast: schema.IntCast{},
			Default:  int64(0),
		},
		&schema.Property{
			Name:     "rating",
			Access:   schema.AccessRead | schema.AccessSystem,
			Slot:     3,
			Typecast: schema.IntCast{},
			Default:  int64(0),
			OnSet:    ratingRange("rating"),
		},
		&schema.Property{
			Name:    "reviews",
			Access:  schema.AccessRead | schema.AccessSystem,
			Default: []any{int64(0), int64(0)},
			OnGet:   reviewsCount,
		},
		&schema.Property{
			Name:     "preview",
			Access:   schema.AccessPublic,
			Blob:     true,
			MimeType: "image/png",
		},
		&schema.Property{
			Name:   "data",
			Access: schema.AccessPublic,
			Blob:   true,
		},
		&schema.Property{
			Name:     "favorite",
			Access:   schema.AccessRead | schema.AccessLocal,
			Prefix:   "K",
			Typecast: schema.BoolCast{},
			Default:  false,
		},
		&schema.Property{
			Name:     "clone",
			Access:   schema.AccessRead | schema.AccessLocal,
			Prefix:   "L",
			Typecast: schema.IntCast{},
			Default:  int64(0),
			OnSet:    intEnum("clone", 0, 1, 2),
		},
	)
}
