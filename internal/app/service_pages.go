package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"folio/api/internal/blocks"
	"folio/api/internal/pages"
	"folio/api/internal/rbac"
	"folio/api/internal/render"
	"folio/api/internal/store"
	"folio/api/internal/util"
)

type PageInput struct {
	Name string `json:"name"`
}

func (s *Service) ListPages(ctx context.Context, current Session) (map[string]any, error) {
	profile, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListPages(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pages": pagePayloads(list), "limit": s.cfg.MaxCustomPages}, nil
}

// CreatePage adds a custom page. The slug comes from the name; the database
// suffixes it when the profile already has that slug.
func (s *Service) CreatePage(ctx context.Context, current Session, input PageInput) (map[string]any, error) {
	profile, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	name, slug, err := pageName(input.Name)
	if err != nil {
		return nil, err
	}
	count, err := s.store.CountPages(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	if count >= s.cfg.MaxCustomPages {
		return nil, domainError(http.StatusUnprocessableEntity, "PAGE_LIMIT_REACHED",
			fmt.Sprintf("A profile can have at most %d pages", s.cfg.MaxCustomPages), map[string]int{"limit": s.cfg.MaxCustomPages})
	}
	page, err := s.store.InsertPage(ctx, profile.ID, name, slug)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("profile_id", profile.ID).Str("page_id", page.ID).Str("slug", page.Slug).Msg("page created")
	return map[string]any{"page": pagePayload(page)}, nil
}

// RenamePage changes a page's name and regenerates its slug. The page id is
// kept so a custom default keeps pointing at it.
func (s *Service) RenamePage(ctx context.Context, current Session, slug string, input PageInput) (map[string]any, error) {
	profile, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	page, err := s.pageBySlug(ctx, profile, slug)
	if err != nil {
		return nil, err
	}
	name, newSlug, err := pageName(input.Name)
	if err != nil {
		return nil, err
	}
	renamed, err := s.store.RenamePage(ctx, profile.ID, page.ID, name, newSlug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pages.ErrPageNotFound
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"page": pagePayload(renamed)}, nil
}

// DeletePage removes a page together with its blocks.
func (s *Service) DeletePage(ctx context.Context, current Session, slug string) error {
	profile, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return err
	}
	page, err := s.pageBySlug(ctx, profile, slug)
	if err != nil {
		return err
	}
	if err := s.store.DeletePage(ctx, profile.ID, page.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pages.ErrPageNotFound
		}
		return err
	}
	s.logger.Info().Str("profile_id", profile.ID).Str("page_id", page.ID).Msg("page deleted")
	return nil
}

// EditablePage is the owner's view of one page or tab, with edit controls.
func (s *Service) EditablePage(ctx context.Context, current Session, slug string) (render.View, error) {
	profile, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return render.View{}, err
	}
	res, err := s.resolver.ResolveProfile(ctx, profile, slug)
	if err != nil {
		return render.View{}, err
	}
	return s.views.BuildView(ctx, res, render.ModeEditable)
}

// PublicView resolves handle and slug for a visitor. viewerProfileID is the
// signed-in caller's profile, if any; private collections are only shown to
// their owner.
func (s *Service) PublicView(ctx context.Context, handle, slug, viewerProfileID string) (render.View, error) {
	res, err := s.resolver.Resolve(ctx, handle, slug)
	if err != nil {
		return render.View{}, err
	}
	res.Blocks = visibleBlocks(res.Blocks, rbac.RoleFor(viewerProfileID, res.Profile.ID))
	return s.views.BuildView(ctx, res, render.ModePublic)
}

// PublicCollection shows a single collection under the collections tab. ref
// is the short id; a full collection UUID is accepted as a fallback.
func (s *Service) PublicCollection(ctx context.Context, handle, ref, viewerProfileID string) (render.View, error) {
	res, err := s.resolver.Resolve(ctx, handle, string(pages.TabCollections))
	if err != nil {
		return render.View{}, err
	}
	owner := res.Profile

	collection, err := s.store.GetCollectionByShortID(ctx, owner.ID, ref)
	if errors.Is(err, sql.ErrNoRows) && util.IsUUID(ref) {
		collection, err = s.store.GetCollection(ctx, ref)
		if err == nil && collection.OwnerID != owner.ID {
			err = sql.ErrNoRows
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return render.View{}, pages.ErrPageNotFound
	}
	if err != nil {
		return render.View{}, err
	}
	if !rbac.CanView(rbac.RoleFor(viewerProfileID, owner.ID), collection.IsPublic) {
		return render.View{}, pages.ErrPageNotFound
	}

	items, err := s.store.ListCollectionItems(ctx, []string{collection.ID})
	if err != nil {
		return render.View{}, err
	}
	collection.Items = items[collection.ID]
	res.Blocks = []blocks.Block{{
		ID:        collection.ID,
		ProfileID: owner.ID,
		Order:     1,
		CreatedAt: collection.CreatedAt,
		Payload:   blocks.CollectionRef{Collection: &collection},
	}}
	res.Empty = false
	return s.views.BuildView(ctx, res, render.ModePublic)
}

// visibleBlocks drops collections the role may not read.
func visibleBlocks(list []blocks.Block, role rbac.Role) []blocks.Block {
	out := make([]blocks.Block, 0, len(list))
	for _, block := range list {
		if ref, ok := block.Payload.(blocks.CollectionRef); ok && ref.Collection != nil {
			if !rbac.CanView(role, ref.Collection.IsPublic) {
				continue
			}
		}
		out = append(out, block)
	}
	return out
}

func pageName(raw string) (string, string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", "", validationError("name", "name is required")
	}
	if len(name) > 60 {
		return "", "", validationError("name", "name must be at most 60 characters")
	}
	return name, pages.PageSlug(name), nil
}

// pageForActor loads the page by slug and checks the actor owns it.
func (s *Service) pageForActor(ctx context.Context, actor store.Profile, slug string) (store.Page, error) {
	page, err := s.pageBySlug(ctx, actor, slug)
	if err != nil {
		return store.Page{}, err
	}
	if err := authorizeWrite(actor, page.ProfileID); err != nil {
		return store.Page{}, err
	}
	return page, nil
}
