package resources

import "github.com/sugar-network/node/pkg/schema"

// User describes an account: the display name is searchable, the
// machine fields bind the account to the client that registered it,
// and the public key is write-once at registration.
func User() *schema.Metadata {
	return schema.MustNew("user",
		&schema.Property{
			Name:     "name",
			Access:   schema.AccessPublic,
			Slot:     1,
			Prefix:   "N",
			FullText: true,
		},
		&schema.Property{
			Name:    "color",
			Access:  schema.AccessPublic,
			Default: "",
		},
		&schema.Property{
			Name:    "machine_sn",
			Access:  schema.AccessCreate | schema.AccessWrite,
			Prefix:  "S",
			Default: "",
		},
		&schema.Property{
			Name:    "machine_uuid",
			Access:  schema.AccessCreate | schema.AccessWrite,
			Prefix:  "U",
			Default: "",
		},
		&schema.Property{
			Name:   "pubkey",
			Access: schema.AccessCreate,
		},
		&schema.Property{
			Name:     "location",
			Access:   schema.AccessPublic,
			Prefix:   "P",
			FullText: true,
			Default:  "",
		},
		&schema.Property{
			Name:     "birthday",
			Access:   schema.AccessPublic,
			Slot:     2,
			Prefix:   "B",
			Typecast: schema.IntCast{},
			Default:  int64(0),
		},
	)
}
