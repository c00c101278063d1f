package blocks

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"folio/api/internal/store"
)

var ErrInvalidInput = errors.New("invalid block input")

// Input is the request body for adding a block. Exactly the fields for Type
// are read; the rest are ignored.
type Input struct {
	Type         Kind          `json:"type"`
	Text         *string       `json:"text,omitempty"`
	Image        *ImagePayload `json:"image,omitempty"`
	LinkID       string        `json:"linkId,omitempty"`
	RcmdID       string        `json:"rcmdId,omitempty"`
	CollectionID string        `json:"collectionId,omitempty"`
}

// Validate reports the first problem as a field -> message pair.
func (in Input) Validate() (string, error) {
	switch in.Type {
	case KindText:
		if in.Text == nil || strings.TrimSpace(*in.Text) == "" {
			return "text", fmt.Errorf("%w: text is required", ErrInvalidInput)
		}
	case KindImage:
		if in.Image == nil || strings.TrimSpace(in.Image.URL) == "" {
			return "image.url", fmt.Errorf("%w: image url is required", ErrInvalidInput)
		}
		if parsed, err := url.Parse(in.Image.URL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return "image.url", fmt.Errorf("%w: image url must be absolute", ErrInvalidInput)
		}
		if in.Image.Width < 0 || in.Image.Height < 0 {
			return "image", fmt.Errorf("%w: image dimensions must not be negative", ErrInvalidInput)
		}
	case KindLink:
		if strings.TrimSpace(in.LinkID) == "" {
			return "linkId", fmt.Errorf("%w: linkId is required", ErrInvalidInput)
		}
	case KindRcmd:
		if strings.TrimSpace(in.RcmdID) == "" {
			return "rcmdId", fmt.Errorf("%w: rcmdId is required", ErrInvalidInput)
		}
	case KindCollection:
		if strings.TrimSpace(in.CollectionID) == "" {
			return "collectionId", fmt.Errorf("%w: collectionId is required", ErrInvalidInput)
		}
	default:
		return "type", fmt.Errorf("%w: unsupported block type %q", ErrInvalidInput, in.Type)
	}
	return "", nil
}

// NewBlock converts validated input into the store write for a page.
func (in Input) NewBlock(profileID, pageID string) store.NewBlock {
	out := store.NewBlock{ProfileID: profileID, PageID: pageID, Type: string(in.Type)}
	switch in.Type {
	case KindText:
		out.Text = in.Text
	case KindImage:
		out.Image = &store.ImagePayload{
			URL:     strings.TrimSpace(in.Image.URL),
			Width:   in.Image.Width,
			Height:  in.Image.Height,
			Caption: in.Image.Caption,
		}
	case KindLink:
		out.LinkID = strings.TrimSpace(in.LinkID)
	case KindRcmd:
		out.RcmdID = strings.TrimSpace(in.RcmdID)
	case KindCollection:
		out.CollectionID = strings.TrimSpace(in.CollectionID)
	}
	return out
}

// Patch is the request body for editing a block's payload in place.
type Patch struct {
	Text         *string `json:"text,omitempty"`
	ImageURL     *string `json:"imageUrl,omitempty"`
	ImageWidth   *int    `json:"width,omitempty"`
	ImageHeight  *int    `json:"height,omitempty"`
	ImageCaption *string `json:"caption,omitempty"`
	LinkID       *string `json:"linkId,omitempty"`
	RcmdID       *string `json:"rcmdId,omitempty"`
	CollectionID *string `json:"collectionId,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Text == nil && p.ImageURL == nil && p.ImageWidth == nil && p.ImageHeight == nil &&
		p.ImageCaption == nil && p.LinkID == nil && p.RcmdID == nil && p.CollectionID == nil
}

func (p Patch) Store() store.PayloadPatch {
	return store.PayloadPatch{
		Text:         p.Text,
		ImageURL:     p.ImageURL,
		ImageWidth:   p.ImageWidth,
		ImageHeight:  p.ImageHeight,
		ImageCaption: p.ImageCaption,
		LinkID:       p.LinkID,
		RcmdID:       p.RcmdID,
		CollectionID: p.CollectionID,
	}
}
