package blocks

import (
	"sort"

	"folio/api/internal/store"
)

// Ownership says whether a placement owns its content or points at a shared
// entity that outlives it.
type Ownership int

const (
	Owned Ownership = iota
	Referenced
)

func (o Ownership) String() string {
	if o == Referenced {
		return "referenced"
	}
	return "owned"
}

// Shape is Flat when one payload row is enough to render, Joined when the
// payload fans out to further rows (collection -> items -> rcmd/link).
type Shape int

const (
	Flat Shape = iota
	Joined
)

// Capabilities are the controls a renderer exposes for a block.
type Capabilities struct {
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
	Drag   bool `json:"drag"`
}

var (
	PublicCaps   = Capabilities{}
	EditableCaps = Capabilities{Edit: true, Delete: true, Drag: true}
)

type Item struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Title    string `json:"title"`
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"imageUrl,omitempty"`
	Order    int    `json:"order"`
}

// Rendered is the view model shared by the public and editable surfaces.
type Rendered struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	Order       int          `json:"order"`
	Title       string       `json:"title,omitempty"`
	Body        string       `json:"body,omitempty"`
	URL         string       `json:"url,omitempty"`
	ImageURL    string       `json:"imageUrl,omitempty"`
	Width       int          `json:"width,omitempty"`
	Height      int          `json:"height,omitempty"`
	RefID       string       `json:"refId,omitempty"`
	ShortID     string       `json:"shortId,omitempty"`
	Items       []Item       `json:"items,omitempty"`
	Permissions Capabilities `json:"capabilities"`
}

type Renderer func(Block, Capabilities) (Rendered, bool)

type Spec struct {
	Kind      Kind
	Table     string
	Shape     Shape
	Ownership Ownership
	Renderer  Renderer
}

type Registry struct {
	specs map[Kind]Spec
}

func NewRegistry(specs ...Spec) *Registry {
	r := &Registry{specs: make(map[Kind]Spec, len(specs))}
	for _, spec := range specs {
		r.specs[spec.Kind] = spec
	}
	return r
}

// Default returns the registry for the five built-in kinds.
func Default() *Registry {
	return NewRegistry(
		Spec{Kind: KindText, Table: "text_blocks", Shape: Flat, Ownership: Owned, Renderer: renderText},
		Spec{Kind: KindImage, Table: "image_blocks", Shape: Flat, Ownership: Owned, Renderer: renderImage},
		Spec{Kind: KindLink, Table: "link_blocks", Shape: Flat, Ownership: Referenced, Renderer: renderLink},
		Spec{Kind: KindRcmd, Table: "rcmd_blocks", Shape: Flat, Ownership: Referenced, Renderer: renderRcmd},
		Spec{Kind: KindCollection, Table: "collection_blocks", Shape: Joined, Ownership: Referenced, Renderer: renderCollection},
	)
}

func (r *Registry) Lookup(kind Kind) (Spec, bool) {
	spec, ok := r.specs[kind]
	return spec, ok
}

// Render returns false for kinds without a spec and for referenced blocks
// whose entity did not load. Callers skip those blocks.
func (r *Registry) Render(block Block, caps Capabilities) (Rendered, bool) {
	spec, ok := r.specs[block.Kind()]
	if !ok || spec.Renderer == nil {
		return Rendered{}, false
	}
	return spec.Renderer(block, caps)
}

// RenderAll renders blocks in the order given, dropping anything Render
// refuses.
func (r *Registry) RenderAll(list []Block, caps Capabilities) []Rendered {
	out := make([]Rendered, 0, len(list))
	for _, block := range list {
		if rendered, ok := r.Render(block, caps); ok {
			out = append(out, rendered)
		}
	}
	return out
}

// Renderable returns the blocks RenderAll keeps, in the order given. Drag
// indexes from an editor refer to this list.
func (r *Registry) Renderable(list []Block, caps Capabilities) []Block {
	out := make([]Block, 0, len(list))
	for _, block := range list {
		if _, ok := r.Render(block, caps); ok {
			out = append(out, block)
		}
	}
	return out
}

func base(block Block, caps Capabilities) Rendered {
	return Rendered{ID: block.ID, Kind: block.Kind(), Order: block.Order, Permissions: caps}
}

func renderText(block Block, caps Capabilities) (Rendered, bool) {
	payload, ok := block.Payload.(TextPayload)
	if !ok {
		return Rendered{}, false
	}
	out := base(block, caps)
	out.Body = payload.Text
	return out, true
}

func renderImage(block Block, caps Capabilities) (Rendered, bool) {
	payload, ok := block.Payload.(ImagePayload)
	if !ok || payload.URL == "" {
		return Rendered{}, false
	}
	out := base(block, caps)
	out.ImageURL = payload.URL
	out.Width = payload.Width
	out.Height = payload.Height
	out.Body = payload.Caption
	return out, true
}

func renderLink(block Block, caps Capabilities) (Rendered, bool) {
	payload, ok := block.Payload.(LinkRef)
	if !ok || payload.Link == nil {
		return Rendered{}, false
	}
	out := base(block, caps)
	out.RefID = payload.Link.ID
	out.Title = payload.Link.Title
	out.URL = payload.Link.URL
	out.Body = payload.Link.Description
	out.ImageURL = payload.Link.FaviconURL
	return out, true
}

func renderRcmd(block Block, caps Capabilities) (Rendered, bool) {
	payload, ok := block.Payload.(RcmdRef)
	if !ok || payload.Rcmd == nil {
		return Rendered{}, false
	}
	out := base(block, caps)
	out.RefID = payload.Rcmd.ID
	out.Title = payload.Rcmd.Title
	out.URL = payload.Rcmd.URL
	out.Body = payload.Rcmd.Description
	out.ImageURL = payload.Rcmd.ImageURL
	return out, true
}

func renderCollection(block Block, caps Capabilities) (Rendered, bool) {
	payload, ok := block.Payload.(CollectionRef)
	if !ok || payload.Collection == nil {
		return Rendered{}, false
	}
	out := base(block, caps)
	out.RefID = payload.Collection.ID
	out.ShortID = payload.Collection.ShortID
	out.Title = payload.Collection.Name
	out.Body = payload.Collection.Description
	out.Items = CollectionItems(payload.Collection.Items)
	return out, true
}

// CollectionItems converts stored items to view items ordered by
// order_index, skipping items whose entity is gone.
func CollectionItems(items []store.CollectionItem) []Item {
	sorted := make([]store.CollectionItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OrderIndex < sorted[j].OrderIndex })

	out := make([]Item, 0, len(sorted))
	for _, item := range sorted {
		switch {
		case item.Rcmd != nil:
			out = append(out, Item{ID: item.Rcmd.ID, Kind: KindRcmd, Title: item.Rcmd.Title, URL: item.Rcmd.URL, ImageURL: item.Rcmd.ImageURL, Order: item.OrderIndex})
		case item.Link != nil:
			out = append(out, Item{ID: item.Link.ID, Kind: KindLink, Title: item.Link.Title, URL: item.Link.URL, ImageURL: item.Link.FaviconURL, Order: item.OrderIndex})
		}
	}
	return out
}
