// Package pages resolves a (handle, slug) pair to the page or content tab a
// visitor should see.
package pages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"folio/api/internal/blocks"
	"folio/api/internal/store"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrPageNotFound    = errors.New("page not found")
)

type TabKind string

const (
	TabCustom      TabKind = "custom"
	TabRcmds       TabKind = "rcmds"
	TabLinks       TabKind = "links"
	TabCollections TabKind = "collections"
)

// Tab is one entry in a profile's navigation. Custom tabs carry the page.
type Tab struct {
	Kind   TabKind `json:"kind"`
	Slug   string  `json:"slug"`
	Name   string  `json:"name"`
	PageID string  `json:"pageId,omitempty"`
}

var virtualTabs = map[string]Tab{
	string(TabRcmds):       {Kind: TabRcmds, Slug: "rcmds", Name: "RCMDs"},
	string(TabLinks):       {Kind: TabLinks, Slug: "links", Name: "Links"},
	string(TabCollections): {Kind: TabCollections, Slug: "collections", Name: "Collections"},
}

// VirtualTabs returns the fixed content-type tabs in display order.
func VirtualTabs() []Tab {
	return []Tab{virtualTabs["rcmds"], virtualTabs["links"], virtualTabs["collections"]}
}

// BlockKind is the block kind a virtual tab aggregates.
func (k TabKind) BlockKind() blocks.Kind {
	switch k {
	case TabRcmds:
		return blocks.KindRcmd
	case TabLinks:
		return blocks.KindLink
	case TabCollections:
		return blocks.KindCollection
	default:
		return ""
	}
}

func tabForDefault(t store.DefaultPageType) (Tab, bool) {
	switch t {
	case store.DefaultPageRcmd:
		return virtualTabs["rcmds"], true
	case store.DefaultPageLink:
		return virtualTabs["links"], true
	case store.DefaultPageCollection:
		return virtualTabs["collections"], true
	default:
		return Tab{}, false
	}
}

func customTab(page store.Page) Tab {
	return Tab{Kind: TabCustom, Slug: page.Slug, Name: page.Name, PageID: page.ID}
}

// Tabs lists custom pages in creation order followed by the virtual tabs.
func Tabs(list []store.Page) []Tab {
	out := make([]Tab, 0, len(list)+3)
	for _, page := range list {
		out = append(out, customTab(page))
	}
	return append(out, VirtualTabs()...)
}

type Store interface {
	GetProfileByHandle(ctx context.Context, handle string) (store.Profile, error)
	ListPages(ctx context.Context, profileID string) ([]store.Page, error)
	ListPageBlocks(ctx context.Context, pageID string) ([]store.BlockRow, error)
	ListBlocksByType(ctx context.Context, profileID, blockType string) ([]store.BlockRow, error)
	ListCollectionItems(ctx context.Context, collectionIDs []string) (map[string][]store.CollectionItem, error)
}

// Resolution is what a (handle, slug) pair points at. Empty is set when the
// profile has no default of any kind; it is a valid state, not an error.
type Resolution struct {
	Profile  store.Profile
	Pages    []store.Page
	Tabs     []Tab
	Selected Tab
	Page     *store.Page
	Blocks   []blocks.Block
	Empty    bool
}

type Resolver struct {
	store Store
}

func NewResolver(s Store) *Resolver {
	return &Resolver{store: s}
}

func (r *Resolver) Resolve(ctx context.Context, handle, slug string) (Resolution, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if handle == "" {
		return Resolution{}, ErrProfileNotFound
	}
	profile, err := r.store.GetProfileByHandle(ctx, handle)
	if errors.Is(err, sql.ErrNoRows) {
		return Resolution{}, ErrProfileNotFound
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("load profile: %w", err)
	}
	return r.ResolveProfile(ctx, profile, slug)
}

// ResolveProfile resolves slug for an already loaded profile.
func (r *Resolver) ResolveProfile(ctx context.Context, profile store.Profile, slug string) (Resolution, error) {
	list, err := r.store.ListPages(ctx, profile.ID)
	if err != nil {
		return Resolution{}, fmt.Errorf("list pages: %w", err)
	}
	res := Resolution{Profile: profile, Pages: list, Tabs: Tabs(list)}

	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return r.resolveDefault(ctx, res)
	}
	if tab, ok := virtualTabs[slug]; ok {
		return r.loadVirtual(ctx, res, tab)
	}
	for i := range list {
		if list[i].Slug == slug {
			return r.loadPage(ctx, res, &list[i])
		}
	}
	return Resolution{}, ErrPageNotFound
}

// resolveDefault applies the root URL rules: an explicit default type wins
// over any page flagged is_default.
func (r *Resolver) resolveDefault(ctx context.Context, res Resolution) (Resolution, error) {
	profile := res.Profile
	if tab, ok := tabForDefault(profile.DefaultPageType); ok {
		return r.loadVirtual(ctx, res, tab)
	}
	if profile.DefaultPageType == store.DefaultPageCustom && profile.DefaultPageID != nil {
		for i := range res.Pages {
			if res.Pages[i].ID == *profile.DefaultPageID {
				return r.loadPage(ctx, res, &res.Pages[i])
			}
		}
	}
	for i := range res.Pages {
		if res.Pages[i].IsDefault {
			return r.loadPage(ctx, res, &res.Pages[i])
		}
	}
	res.Empty = true
	res.Blocks = []blocks.Block{}
	return res, nil
}

func (r *Resolver) loadPage(ctx context.Context, res Resolution, page *store.Page) (Resolution, error) {
	list, err := r.PageBlocks(ctx, page.ID)
	if err != nil {
		return Resolution{}, err
	}
	res.Page = page
	res.Selected = customTab(*page)
	res.Blocks = list
	return res, nil
}

func (r *Resolver) loadVirtual(ctx context.Context, res Resolution, tab Tab) (Resolution, error) {
	rows, err := r.store.ListBlocksByType(ctx, res.Profile.ID, string(tab.Kind.BlockKind()))
	if err != nil {
		return Resolution{}, fmt.Errorf("list %s blocks: %w", tab.Slug, err)
	}
	res.Selected = tab
	res.Blocks, err = r.decode(ctx, rows)
	if err != nil {
		return Resolution{}, err
	}
	return res, nil
}

// PageBlocks loads one page's blocks in display order with collection items
// attached.
func (r *Resolver) PageBlocks(ctx context.Context, pageID string) ([]blocks.Block, error) {
	rows, err := r.store.ListPageBlocks(ctx, pageID)
	if err != nil {
		return nil, fmt.Errorf("list page blocks: %w", err)
	}
	return r.decode(ctx, rows)
}

func (r *Resolver) decode(ctx context.Context, rows []store.BlockRow) ([]blocks.Block, error) {
	list := blocks.FromRows(rows)
	ids := blocks.CollectionIDs(list)
	if len(ids) == 0 {
		return list, nil
	}
	items, err := r.store.ListCollectionItems(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list collection items: %w", err)
	}
	blocks.AttachItems(list, items)
	return list, nil
}
