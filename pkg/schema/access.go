package schema

// Access is a bitmask controlling who may touch a property or run a
// command.
type Access int

const (
	// AccessCreate permits setting the property on document creation.
	AccessCreate Access = 1 << iota
	// AccessWrite permits updating the property on an existing document.
	AccessWrite
	// AccessRead permits returning the property in replies.
	AccessRead
	// AccessDelete permits removing the document.
	AccessDelete
	// AccessAuth requires an authenticated principal.
	AccessAuth
	// AccessAuthor restricts the operation to the document's authors.
	AccessAuthor
	// AccessSystem marks requests originating inside the process.
	AccessSystem
	// AccessLocal marks requests from local frontends.
	AccessLocal
	// AccessRemote marks requests arriving over the network.
	AccessRemote
)

const (
	// AccessPublic is full CRUD.
	AccessPublic = AccessCreate | AccessWrite | AccessRead | AccessDelete
	// AccessLevels masks the request-origin bits.
	AccessLevels = AccessSystem | AccessLocal | AccessRemote
)

// Has reports whether every bit of mode is set.
func (a Access) Has(mode Access) bool {
	return a&mode == mode
}
