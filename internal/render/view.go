// Package render turns a page resolution into the view model shown to
// visitors and owners, and renders that model as HTML.
package render

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"folio/api/internal/blocks"
	"folio/api/internal/pages"
	"folio/api/internal/store"
)

type Mode string

const (
	ModePublic   Mode = "public"
	ModeEditable Mode = "editable"
)

func (m Mode) Caps() blocks.Capabilities {
	if m == ModeEditable {
		return blocks.EditableCaps
	}
	return blocks.PublicCaps
}

const EmptyText = "No content yet"

type Social struct {
	Provider string `json:"provider"`
	Username string `json:"username"`
	URL      string `json:"url"`
}

type Header struct {
	Handle    string   `json:"handle"`
	Name      string   `json:"name"`
	Bio       string   `json:"bio,omitempty"`
	Location  string   `json:"location,omitempty"`
	Interests []string `json:"interests"`
	Tags      []string `json:"tags"`
	Social    []Social `json:"social"`
}

type TabView struct {
	pages.Tab
	Href      string `json:"href"`
	Count     int    `json:"count"`
	Selected  bool   `json:"selected"`
	EmptyText string `json:"emptyText,omitempty"`
}

type View struct {
	Mode     Mode              `json:"mode"`
	Header   Header            `json:"profile"`
	Tabs     []TabView         `json:"tabs"`
	Selected pages.Tab         `json:"selected"`
	Blocks   []blocks.Rendered `json:"blocks"`
	Empty    bool              `json:"empty"`
	NotFound bool              `json:"notFound"`
}

// Counts are the per-tab block totals: by page id and by block type.
type Counts struct {
	ByPage map[string]int
	ByType map[string]int
}

// NotFoundView is the state shown for an unknown handle or slug.
func NotFoundView(handle string, mode Mode) View {
	return View{Mode: mode, Header: Header{Handle: handle}, Tabs: []TabView{}, Blocks: []blocks.Rendered{}, NotFound: true}
}

// Compose builds the view from a resolution without touching storage.
func Compose(registry *blocks.Registry, res pages.Resolution, mode Mode, counts Counts, social []store.SocialAccount) View {
	profile := res.Profile
	header := Header{
		Handle:    profile.Handle,
		Name:      profile.DisplayName(),
		Bio:       profile.Bio,
		Location:  profile.Location,
		Interests: nonNil(profile.Interests),
		Tags:      nonNil(profile.Tags),
		Social:    make([]Social, 0, len(social)),
	}
	for _, account := range social {
		header.Social = append(header.Social, Social{Provider: account.Provider, Username: account.Username, URL: account.URL})
	}

	tabs := make([]TabView, 0, len(res.Tabs))
	for _, tab := range res.Tabs {
		view := TabView{Tab: tab, Href: TabHref(profile.Handle, tab)}
		if tab.Kind == pages.TabCustom {
			view.Count = counts.ByPage[tab.PageID]
		} else {
			view.Count = counts.ByType[string(tab.Kind.BlockKind())]
		}
		view.Selected = !res.Empty && tab.Kind == res.Selected.Kind && tab.Slug == res.Selected.Slug
		if view.Count == 0 {
			view.EmptyText = EmptyText
		}
		tabs = append(tabs, view)
	}

	return View{
		Mode:     mode,
		Header:   header,
		Tabs:     tabs,
		Selected: res.Selected,
		Blocks:   registry.RenderAll(res.Blocks, mode.Caps()),
		Empty:    res.Empty,
	}
}

func TabHref(handle string, tab pages.Tab) string {
	return "/" + handle + "/" + tab.Slug
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type Source interface {
	CountBlocksByPage(ctx context.Context, profileID string) (map[string]int, error)
	CountBlocksByType(ctx context.Context, profileID string) (map[string]int, error)
	ListSocialAccounts(ctx context.Context, profileID string) ([]store.SocialAccount, error)
}

type Builder struct {
	registry *blocks.Registry
	source   Source
	logger   zerolog.Logger
}

func NewBuilder(registry *blocks.Registry, source Source, logger zerolog.Logger) *Builder {
	if registry == nil {
		registry = blocks.Default()
	}
	return &Builder{registry: registry, source: source, logger: logger}
}

// BuildView loads the tab counts and social accounts concurrently, then
// composes the view.
func (b *Builder) BuildView(ctx context.Context, res pages.Resolution, mode Mode) (View, error) {
	var counts Counts
	var social []store.SocialAccount
	profileID := res.Profile.ID

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		byPage, err := b.source.CountBlocksByPage(gctx, profileID)
		if err != nil {
			return fmt.Errorf("count page blocks: %w", err)
		}
		counts.ByPage = byPage
		return nil
	})
	group.Go(func() error {
		byType, err := b.source.CountBlocksByType(gctx, profileID)
		if err != nil {
			return fmt.Errorf("count typed blocks: %w", err)
		}
		counts.ByType = byType
		return nil
	})
	group.Go(func() error {
		accounts, err := b.source.ListSocialAccounts(gctx, profileID)
		if err != nil {
			return fmt.Errorf("list social accounts: %w", err)
		}
		social = accounts
		return nil
	})
	if err := group.Wait(); err != nil {
		return View{}, err
	}

	view := Compose(b.registry, res, mode, counts, social)
	b.logger.Debug().
		Str("handle", view.Header.Handle).
		Str("tab", view.Selected.Slug).
		Int("blocks", len(view.Blocks)).
		Str("mode", string(mode)).
		Msg("view built")
	return view, nil
}
