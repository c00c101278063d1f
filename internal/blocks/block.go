// Package blocks models page blocks as a placement plus a typed payload and
// holds the registry that knows how each kind is stored and rendered.
package blocks

import (
	"encoding/json"
	"time"

	"folio/api/internal/store"
)

type Kind string

const (
	KindText       Kind = "text"
	KindImage      Kind = "image"
	KindLink       Kind = "link"
	KindRcmd       Kind = "rcmd"
	KindCollection Kind = "collection"
)

// Kinds lists every kind the registry understands, in menu order.
var Kinds = []Kind{KindText, KindImage, KindLink, KindRcmd, KindCollection}

func (k Kind) Known() bool {
	switch k {
	case KindText, KindImage, KindLink, KindRcmd, KindCollection:
		return true
	default:
		return false
	}
}

// Payload is the content half of a block. The set of variants is closed;
// rows with an unrecognised type decode to Unknown.
type Payload interface {
	kind() Kind
}

type TextPayload struct {
	Text string
}

type ImagePayload struct {
	URL     string `json:"url"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type LinkRef struct {
	Link *store.Link
}

type RcmdRef struct {
	Rcmd *store.Rcmd
}

// CollectionRef points at a shared collection. Items are attached after the
// block list is loaded because collections are a joined shape.
type CollectionRef struct {
	Collection *store.Collection
}

// Unknown keeps a row whose type this build does not know about.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (TextPayload) kind() Kind   { return KindText }
func (ImagePayload) kind() Kind  { return KindImage }
func (LinkRef) kind() Kind       { return KindLink }
func (RcmdRef) kind() Kind       { return KindRcmd }
func (CollectionRef) kind() Kind { return KindCollection }
func (u Unknown) kind() Kind     { return Kind(u.Type) }

type Block struct {
	ID        string
	ProfileID string
	PageID    string
	Order     int
	CreatedAt time.Time
	UpdatedAt time.Time
	Payload   Payload
}

func (b Block) Kind() Kind {
	if b.Payload == nil {
		return ""
	}
	return b.Payload.kind()
}

// FromRow decodes a joined store row into a Block.
func FromRow(row store.BlockRow) Block {
	block := Block{
		ID:        row.ID,
		ProfileID: row.ProfileID,
		PageID:    row.PageID,
		Order:     row.DisplayOrder,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	switch Kind(row.Type) {
	case KindText:
		var text string
		if row.Text != nil {
			text = *row.Text
		}
		block.Payload = TextPayload{Text: text}
	case KindImage:
		var url string
		if row.ImageURL != nil {
			url = *row.ImageURL
		}
		block.Payload = ImagePayload{URL: url, Width: row.ImageWidth, Height: row.ImageHeight, Caption: row.ImageCaption}
	case KindLink:
		block.Payload = LinkRef{Link: row.Link}
	case KindRcmd:
		block.Payload = RcmdRef{Rcmd: row.Rcmd}
	case KindCollection:
		block.Payload = CollectionRef{Collection: row.Collection}
	default:
		raw, _ := json.Marshal(map[string]any{"id": row.ID, "type": row.Type, "displayOrder": row.DisplayOrder})
		block.Payload = Unknown{Type: row.Type, Raw: raw}
	}
	return block
}

func FromRows(rows []store.BlockRow) []Block {
	out := make([]Block, 0, len(rows))
	for _, row := range rows {
		out = append(out, FromRow(row))
	}
	return out
}

// CollectionIDs returns the distinct collections referenced by the list.
func CollectionIDs(list []Block) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, block := range list {
		ref, ok := block.Payload.(CollectionRef)
		if !ok || ref.Collection == nil {
			continue
		}
		if _, dup := seen[ref.Collection.ID]; dup {
			continue
		}
		seen[ref.Collection.ID] = struct{}{}
		ids = append(ids, ref.Collection.ID)
	}
	return ids
}

// AttachItems fills each collection block with its loaded items.
func AttachItems(list []Block, items map[string][]store.CollectionItem) {
	for i, block := range list {
		ref, ok := block.Payload.(CollectionRef)
		if !ok || ref.Collection == nil {
			continue
		}
		collection := *ref.Collection
		collection.Items = items[collection.ID]
		list[i].Payload = CollectionRef{Collection: &collection}
	}
}
