package commands

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/schema"
	"github.com/sugar-network/node/pkg/storage"
)

// Scope selects what a command operates on.
type Scope int

const (
	// VolumeScope commands have no document in the path.
	VolumeScope Scope = iota
	// DirectoryScope commands address a document class.
	DirectoryScope
	// DocumentScope commands address one document.
	DocumentScope
	// PropertyScope commands address one property of one document.
	PropertyScope
)

// Handler executes a resolved command. The returned value is serialized
// as JSON unless it is a *storage.Meta, which the HTTP layer streams as
// a BLOB.
type Handler func(request *Request, response *Response) (any, error)

// Wrapper runs around a handler. Pre wrappers may rewrite the request;
// post wrappers receive the result and may replace it.
type (
	PreWrapper  func(request *Request) error
	PostWrapper func(request *Request, response *Response, result any) (any, error)
)

// Caster coerces a request argument before dispatch.
type Caster func(value any) (any, error)

// ToInt casts an argument to an integer.
func ToInt(value any) (any, error) {
	switch x := value.(type) {
	case int:
		return x, nil
	case float64:
		return int(x), nil
	case string:
		n, err := strconv.Atoi(x)
		if err != nil {
			return nil, errs.Newf(errs.BadRequest, "%q is not an integer", x)
		}
		return n, nil
	}
	return nil, errs.Newf(errs.BadRequest, "%v is not an integer", value)
}

// ToBool casts an argument to a boolean; bare flags count as true.
func ToBool(value any) (any, error) {
	switch x := value.(type) {
	case bool:
		return x, nil
	case string:
		if x == "" {
			return true, nil
		}
		b, err := strconv.ParseBool(x)
		if err != nil {
			return nil, errs.Newf(errs.BadRequest, "%q is not a boolean", x)
		}
		return b, nil
	}
	return nil, errs.Newf(errs.BadRequest, "%v is not a boolean", value)
}

// ToList casts an argument to a string list, splitting comma-separated
// scalars.
func ToList(value any) (any, error) {
	return toStringList(value), nil
}

func toStringList(value any) []string {
	switch x := value.(type) {
	case []string:
		return x
	case []any:
		var out []string
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if x == "" {
			return nil
		}
		parts := strings.Split(x, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return nil
}

// Command is one registry entry. An empty Document serves any class;
// class-specific entries win over generic ones.
type Command struct {
	Scope    Scope
	Method   string
	Cmd      string
	Document string
	// Access gates the command: origin bits are matched against the
	// request's access level, the Auth bit demands a principal.
	Access schema.Access
	// MimeType is the response content type when the result does not
	// dictate one.
	MimeType string
	// Args maps argument names to casters applied before dispatch.
	Args    map[string]Caster
	Handler Handler
}

type routeKey struct {
	scope    Scope
	method   string
	cmd      string
	document string
}

// Registry resolves requests to commands.
type Registry struct {
	commands map[routeKey]*Command
	pre      map[routeKey][]PreWrapper
	post     map[routeKey][]PostWrapper
	logger   zerolog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[routeKey]*Command),
		pre:      make(map[routeKey][]PreWrapper),
		post:     make(map[routeKey][]PostWrapper),
		logger:   log.WithComponent("commands"),
	}
}

// Register adds commands; duplicate routes panic, they are a wiring
// bug.
func (r *Registry) Register(commands ...*Command) {
	for _, c := range commands {
		if c.Access == 0 {
			c.Access = schema.AccessLevels
		}
		key := routeKey{c.Scope, c.Method, c.Cmd, c.Document}
		if _, ok := r.commands[key]; ok {
			panic("duplicate command route")
		}
		r.commands[key] = c
	}
}

// RegisterPre adds a pre wrapper for the given route.
func (r *Registry) RegisterPre(scope Scope, method, cmd, document string, w PreWrapper) {
	key := routeKey{scope, method, cmd, document}
	r.pre[key] = append(r.pre[key], w)
}

// RegisterPost adds a post wrapper for the given route.
func (r *Registry) RegisterPost(scope Scope, method, cmd, document string, w PostWrapper) {
	key := routeKey{scope, method, cmd, document}
	r.post[key] = append(r.post[key], w)
}

// resolve finds the command and its wrappers for a request: the scope
// follows from which of document, guid and prop are present, and the
// class-specific entry is tried before the generic one.
func (r *Registry) resolve(request *Request) (*Command, routeKey, error) {
	var scope Scope
	switch {
	case request.Document == "":
		scope = VolumeScope
	case request.GUID == "":
		scope = DirectoryScope
	case request.Prop == "":
		scope = DocumentScope
	default:
		scope = PropertyScope
	}

	if scope != VolumeScope {
		key := routeKey{scope, request.Method, request.Cmd, request.Document}
		if c, ok := r.commands[key]; ok {
			return c, key, nil
		}
	}
	key := routeKey{scope, request.Method, request.Cmd, ""}
	if c, ok := r.commands[key]; ok {
		return c, key, nil
	}
	return nil, key, errs.Newf(errs.CommandNotFound, "no such command: %s cmd=%q document=%q",
		request.Method, request.Cmd, request.Document)
}

// Call resolves and runs a request through the full pipeline:
// authorization, argument coercion, pre wrappers, handler, post
// wrappers, content-type defaulting.
func (r *Registry) Call(request *Request, response *Response) (any, error) {
	command, key, err := r.resolve(request)
	if err != nil {
		return nil, err
	}

	if request.AccessLevel&command.Access&schema.AccessLevels == 0 {
		return nil, errs.New(errs.Forbidden, "operation is not available at this access level")
	}
	if command.Access.Has(schema.AccessAuth) && request.Principal == "" {
		return nil, errs.New(errs.Unauthorized, "authentication required")
	}

	for name, cast := range command.Args {
		value, ok := request.Args[name]
		if !ok {
			continue
		}
		coerced, err := cast(value)
		if err != nil {
			return nil, err
		}
		request.Args[name] = coerced
	}

	// Wrappers registered for the generic route run for class-specific
	// resolutions too
	genericKey := key
	genericKey.document = ""
	var pre []PreWrapper
	var post []PostWrapper
	if genericKey != key {
		pre = append(pre, r.pre[genericKey]...)
		post = append(post, r.post[genericKey]...)
	}
	pre = append(pre, r.pre[key]...)
	post = append(post, r.post[key]...)

	for _, w := range pre {
		if err := w(request); err != nil {
			return nil, err
		}
	}
	result, err := command.Handler(request, response)
	if err != nil {
		return nil, err
	}
	for _, w := range post {
		result, err = w(request, response, result)
		if err != nil {
			return nil, err
		}
	}

	if response.ContentType == "" {
		if meta, ok := result.(*storage.Meta); ok && meta.MimeType != "" {
			response.ContentType = meta.MimeType
		} else {
			response.ContentType = command.MimeType
		}
	}
	return result, nil
}
