package resources

import "github.com/sugar-network/node/pkg/schema"

// Context is the hub every other class points at: an activity, a
// project, a package or a content bundle. The downloads, rating and
// reviews counters are system-maintained aggregates; favorite and
// clone live only on the local node and never sync.
func Context() *schema.Metadata {
	return schema.MustNew("context",
		&schema.Property{
			Name:     "type",
			Access:   schema.AccessPublic,
			Prefix:   "T",
			FullText: true,
			Typecast: schema.ListCast{Of: schema.EnumCast{Values: ContextTypes}},
		},
		&schema.Property{
			Name:     "implement",
			Access:   schema.AccessPublic,
			Prefix:   "M",
			FullText: true,
			Typecast: schema.ListCast{Of: schema.StringCast{}},
			Default:  []any{},
		},
		&schema.Property{
			Name:      "title",
			Access:    schema.AccessPublic,
			Slot:      1,
			Prefix:    "S",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:      "summary",
			Access:    schema.AccessPublic,
			Prefix:    "R",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:      "description",
			Access:    schema.AccessPublic,
			Prefix:    "D",
			FullText:  true,
			Localized: true,
		},
		&schema.Property{
			Name:    "homepage",
			Access:  schema.AccessPublic,
			Prefix:  "H",
			Default: "",
		},
		&schema.Property{
			Name:     "mime_types",
			Access:   schema.AccessPublic,
			Prefix:   "Y",
			Typecast: schema.ListCast{Of: schema.StringCast{}},
			Default:  []any{},
		},
		&schema.Property{
			Name:     "icon",
			Access:   schema.AccessPublic,
			Blob:     true,
			MimeType: "image/png",
		},
		&schema.Property{
			Name:     "artifact_icon",
			Access:   schema.AccessPublic,
			Blob:     true,
			MimeType: "image/svg+xml",
		},
		&schema.Property{
			Name:     "preview",
			Access:   schema.AccessPublic,
			Blob:     true,
			MimeType: "image/png",
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
