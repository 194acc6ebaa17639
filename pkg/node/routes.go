package node

import (
	"github.com/rs/zerolog"

	"github.com/sugar-network/node/pkg/commands"
	"github.com/sugar-network/node/pkg/document"
	"github.com/sugar-network/node/pkg/errs"
	"github.com/sugar-network/node/pkg/index"
	"github.com/sugar-network/node/pkg/log"
	"github.com/sugar-network/node/pkg/schema"
)

// defaultFindLimit caps find replies: it is the default page size and
// the upper bound for caller-supplied limits.
const defaultFindLimit = 32

// Config identifies the node inside command replies.
type Config struct {
	// GUID is this node's identity.
	GUID string
	// Master is the GUID of the master this node syncs with; equal to
	// GUID on the master itself.
	Master string
}

// Routes binds the volume CRUD commands to a registry.
type Routes struct {
	volume *document.Volume
	guid   string
	master string
	logger zerolog.Logger
}

// New registers the volume command set and returns the route table.
func New(volume *document.Volume, registry *commands.Registry, cfg Config) *Routes {
	r := &Routes{
		volume: volume,
		guid:   cfg.GUID,
		master: cfg.Master,
		logger: log.WithComponent("node"),
	}
	auth := schema.AccessLevels | schema.AccessAuth
	registry.Register(
		&commands.Command{Scope: commands.VolumeScope, Method: "GET", Cmd: "info",
			MimeType: "application/json", Handler: r.info},
		&commands.Command{Scope: commands.DirectoryScope, Method: "POST", Access: auth,
			MimeType: "application/json", Handler: r.create},
		&commands.Command{Scope: commands.DirectoryScope, Method: "GET",
			MimeType: "application/json",
			Args: map[string]commands.Caster{
				"offset": commands.ToInt,
				"limit":  commands.ToInt,
				"reply":  commands.ToList,
			},
			Handler: r.find},
		&commands.Command{Scope: commands.DocumentScope, Method: "GET",
			MimeType: "application/json",
			Args:     map[string]commands.Caster{"reply": commands.ToList},
			Handler:  r.get},
		&commands.Command{Scope: commands.DocumentScope, Method: "GET", Cmd: "exists",
			MimeType: "application/json", Handler: r.exists},
		&commands.Command{Scope: commands.DocumentScope, Method: "GET", Cmd: "deleted",
			MimeType: "application/json", Handler: r.deleted},
		&commands.Command{Scope: commands.DocumentScope, Method: "PUT", Access: auth,
			Handler: r.update},
		&commands.Command{Scope: commands.DocumentScope, Method: "DELETE", Access: auth,
			Handler: r.delete},
		&commands.Command{Scope: commands.PropertyScope, Method: "GET", Handler: r.getProp},
		&commands.Command{Scope: commands.PropertyScope, Method: "PUT", Access: auth,
			Handler: r.updateProp},
	)
	return r
}

func (r *Routes) info(request *commands.Request, _ *commands.Response) (any, error) {
	documents := make(map[string]any)
	for _, dir := range r.volume.Directories() {
		documents[dir.Name()] = map[string]any{"mtime": dir.Mtime()}
	}
	return map[string]any{
		"guid":      r.guid,
		"master":    r.master,
		"documents": documents,
	}, nil
}

func (r *Routes) create(request *commands.Request, _ *commands.Response) (any, error) {
	dir, err := r.volume.Directory(request.Document)
	if err != nil {
		return nil, err
	}
	props, err := request.ContentMap()
	if err != nil {
		return nil, err
	}
	meta := dir.Metadata()
	for name, value := range props {
		if err := meta.AssertAccess(name, schema.AccessCreate); err != nil {
			return nil, err
		}
		if p, ok := meta.Property(name); ok && p.OnSet != nil {
			if props[name], err = p.OnSet(nil, value); err != nil {
				return nil, err
			}
		}
	}
	r.stampAuthor(props, request.Principal)

	guid, err := dir.Create(props)
	if err != nil {
		return nil, err
	}
	return map[string]any{"guid": guid}, nil
}

// stampAuthor records the principal as the document creator. A
// principal known to the user directory gets the insystem bit and its
// display name.
func (r *Routes) stampAuthor(props map[string]any, principal string) {
	if principal == "" {
		return
	}
	role := AuthorOriginal
	name := ""
	if users, err := r.volume.Directory("user"); err == nil {
		if doc, err := users.Get(principal); err == nil {
			role |= AuthorInsystem
			if value, err := doc.GetLocalized("name", nil); err == nil {
				name = value
			}
		}
	}
	authors, _ := props["author"].(map[string]any)
	props["author"] = addAuthor(authors, principal, role, name)
}

func (r *Routes) find(request *commands.Request, _ *commands.Response) (any, error) {
	dir, err := r.volume.Directory(request.Document)
	if err != nil {
		return nil, err
	}
	offset, err := request.Int("offset", 0)
	if err != nil {
		return nil, err
	}
	limit, err := request.Int("limit", defaultFindLimit)
	if err != nil {
		return nil, err
	}
	if limit > defaultFindLimit {
		r.logger.Warn().Int("limit", limit).Int("max", defaultFindLimit).
			Msg("find limit is restricted to the node maximum")
		limit = defaultFindLimit
	}
	q := &index.Query{
		Offset:  offset,
		Limit:   limit,
		Query:   request.String("query"),
		OrderBy: request.String("order_by"),
		GroupBy: request.String("group_by"),
	}
	q.Parse()
	// Hidden documents never match: the layer filter defaults to
	// public, and a caller-supplied layer list loses "deleted".
	var layers []any
	for _, layer := range request.List("layer") {
		if layer != "deleted" {
			layers = append(layers, layer)
		}
	}
	if len(layers) == 0 {
		layers = []any{"public"}
	}
	q.Filter("layer", layers...)
	meta := dir.Metadata()
	for name, value := range request.Args {
		if name == "layer" {
			continue
		}
		if _, ok := meta.Property(name); !ok {
			continue
		}
		if values, ok := value.([]any); ok {
			q.Filter(name, values...)
		} else {
			q.Filter(name, value)
		}
	}

	docs, total, err := dir.Find(q)
	if err != nil {
		return nil, err
	}
	reply := request.List("reply")
	if len(reply) == 0 {
		reply = []string{"guid"}
	}
	result := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		row, err := r.reply(doc, reply, request.AcceptLanguage)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return map[string]any{"result": result, "total": total}, nil
}

func (r *Routes) get(request *commands.Request, _ *commands.Response) (any, error) {
	doc, err := r.document(request)
	if err != nil {
		return nil, err
	}
	if doc.Deleted() {
		return nil, errs.New(errs.NotFound, "Document deleted")
	}
	reply := request.List("reply")
	if len(reply) == 0 {
		for _, p := range doc.Directory().Metadata().Properties() {
			if p.Blob || !p.Access.Has(schema.AccessRead) {
				continue
			}
			reply = append(reply, p.Name)
		}
	}
	return r.reply(doc, reply, request.AcceptLanguage)
}

func (r *Routes) exists(request *commands.Request, _ *commands.Response) (any, error) {
	_, err := r.document(request)
	if err != nil {
		return nil, err
	}
	return true, nil
}

func (r *Routes) deleted(request *commands.Request, _ *commands.Response) (any, error) {
	doc, err := r.document(request)
	if err != nil {
		return nil, err
	}
	return doc.Deleted(), nil
}

func (r *Routes) update(request *commands.Request, _ *commands.Response) (any, error) {
	doc, err := r.document(request)
	if err != nil {
		return nil, err
	}
	props, err := request.ContentMap()
	if err != nil {
		return nil, err
	}
	meta := doc.Directory().Metadata()
	for name, value := range props {
		if err := meta.AssertAccess(name, schema.AccessWrite); err != nil {
			return nil, err
		}
		if p, ok := meta.Property(name); ok && p.OnSet != nil {
			if props[name], err = p.OnSet(doc, value); err != nil {
				return nil, err
			}
		}
	}
	return nil, doc.Directory().Update(request.GUID, props)
}

// delete hides the document by replacing its layer with "deleted";
// the record itself survives so the deletion syncs like any other
// write, and the default find filter stops matching it.
func (r *Routes) delete(request *commands.Request, _ *commands.Response) (any, error) {
	doc, err := r.document(request)
	if err != nil {
		return nil, err
	}
	if doc.Deleted() {
		return nil, nil
	}
	return nil, doc.Directory().Update(request.GUID, map[string]any{"layer": []any{"deleted"}})
}

func (r *Routes) getProp(request *commands.Request, _ *commands.Response) (any, error) {
	doc, err := r.document(request)
	if err != nil {
		return nil, err
	}
	meta := doc.Directory().Metadata()
	p, ok := meta.Property(request.Prop)
	if !ok {
		return nil, errs.Newf(errs.NotFound, "property %q is absent in %q", request.Prop, request.Document)
	}
	if p.Blob {
		blob, err := doc.Meta(request.Prop)
		if err != nil {
			return nil, err
		}
		if blob == nil {
			return nil, errs.Newf(errs.NotFound, "BLOB %q is not set", request.Prop)
		}
		if blob.Path == "" && blob.URL != "" {
			return nil, errs.NewRedirect(blob.URL)
		}
		return blob, nil
	}
	if err := meta.AssertAccess(request.Prop, schema.AccessRead); err != nil {
		return nil, err
	}
	row, err := r.reply(doc, []string{request.Prop}, request.AcceptLanguage)
	if err != nil {
		return nil, err
	}
	return row[request.Prop], nil
}

func (r *Routes) updateProp(request *commands.Request, _ *commands.Response) (any, error) {
	doc, err := r.document(request)
	if err != nil {
		return nil, err
	}
	dir := doc.Directory()
	p, ok := dir.Metadata().Property(request.Prop)
	if !ok {
		return nil, errs.Newf(errs.NotFound, "property %q is absent in %q", request.Prop, request.Document)
	}
	if p.Blob {
		if request.Stream == nil {
			return nil, errs.New(errs.BadRequest, "BLOB content expected")
		}
		return nil, dir.SetBlob(request.GUID, request.Prop, request.Stream, request.ContentType)
	}
	if err := dir.Metadata().AssertAccess(request.Prop, schema.AccessWrite); err != nil {
		return nil, err
	}
	value, err := request.DecodeContent()
	if err != nil {
		return nil, err
	}
	if p.OnSet != nil {
		if value, err = p.OnSet(doc, value); err != nil {
			return nil, err
		}
	}
	return nil, dir.Update(request.GUID, map[string]any{request.Prop: value})
}

func (r *Routes) document(request *commands.Request) (*document.Document, error) {
	dir, err := r.volume.Directory(request.Document)
	if err != nil {
		return nil, err
	}
	return dir.Get(request.GUID)
}

// reply projects the named properties of a document, applying read
// access, getter hooks and localization.
func (r *Routes) reply(doc *document.Document, names []string, accept []string) (map[string]any, error) {
	meta := doc.Directory().Metadata()
	out := make(map[string]any, len(names))
	for _, name := range names {
		p, ok := meta.Property(name)
		if !ok || p.Blob {
			return nil, errs.Newf(errs.NotFound, "property %q is absent in %q", name, meta.Name())
		}
		if err := meta.AssertAccess(name, schema.AccessRead); err != nil {
			return nil, err
		}
		var value any
		var err error
		if p.Localized {
			value, err = doc.GetLocalized(name, accept)
		} else {
			value, err = doc.Get(name)
		}
		if err != nil {
			return nil, err
		}
		if p.OnGet != nil {
			if value, err = p.OnGet(doc, value); err != nil {
				return nil, err
			}
		}
		out[name] = value
	}
	return out, nil
}
