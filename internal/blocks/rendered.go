package blocks

import "folio/api/internal/store"

// FromRendered rebuilds a Block from the view model an API response carries.
// Clients use it to drive a reorder board from JSON; fields the view model
// does not carry stay zero.
func FromRendered(r Rendered) Block {
	block := Block{ID: r.ID, Order: r.Order}
	switch r.Kind {
	case KindText:
		block.Payload = TextPayload{Text: r.Body}
	case KindImage:
		block.Payload = ImagePayload{URL: r.ImageURL, Width: r.Width, Height: r.Height, Caption: r.Body}
	case KindLink:
		block.Payload = LinkRef{Link: &store.Link{ID: r.RefID, Title: r.Title, URL: r.URL, Description: r.Body, FaviconURL: r.ImageURL}}
	case KindRcmd:
		block.Payload = RcmdRef{Rcmd: &store.Rcmd{ID: r.RefID, Title: r.Title, URL: r.URL, Description: r.Body, ImageURL: r.ImageURL}}
	case KindCollection:
		collection := &store.Collection{ID: r.RefID, ShortID: r.ShortID, Name: r.Title, Description: r.Body}
		for _, item := range r.Items {
			ci := store.CollectionItem{CollectionID: r.RefID, ItemType: string(item.Kind), OrderIndex: item.Order}
			switch item.Kind {
			case KindRcmd:
				ci.Rcmd = &store.Rcmd{ID: item.ID, Title: item.Title, URL: item.URL, ImageURL: item.ImageURL}
			case KindLink:
				ci.Link = &store.Link{ID: item.ID, Title: item.Title, URL: item.URL, FaviconURL: item.ImageURL}
			}
			collection.Items = append(collection.Items, ci)
		}
		block.Payload = CollectionRef{Collection: collection}
	default:
		block.Payload = Unknown{Type: string(r.Kind)}
	}
	return block
}

func FromRenderedList(list []Rendered) []Block {
	out := make([]Block, 0, len(list))
	for _, r := range list {
		out = append(out, FromRendered(r))
	}
	return out
}
