package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"folio/api/internal/blocks"
	"folio/api/internal/pages"
	"folio/api/internal/reorder"
	"folio/api/internal/store"
)

// ReorderInput accepts either the stored 1-based position or a pair of
// 0-based list indexes as sent by a drag and drop.
type ReorderInput struct {
	BlockID     string `json:"blockId"`
	NewOrder    *int   `json:"newOrder"`
	SourceIndex *int   `json:"sourceIndex"`
	TargetIndex *int   `json:"targetIndex"`
}

type ImageUpload struct {
	Body    io.Reader
	Width   int
	Height  int
	Caption string
}

// pageBlocks is the response to every block mutation: the page's full list
// as stored after the write.
func (s *Service) pageBlocks(ctx context.Context, pageID string) (map[string]any, error) {
	list, err := s.resolver.PageBlocks(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"pageId": pageID,
		"blocks": s.registry.RenderAll(list, blocks.EditableCaps),
	}, nil
}

func (s *Service) AddBlock(ctx context.Context, current Session, slug string, input blocks.Input) (map[string]any, error) {
	if field, err := input.Validate(); err != nil {
		return nil, validationError(field, strings.TrimPrefix(err.Error(), blocks.ErrInvalidInput.Error()+": "))
	}
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	page, err := s.pageForActor(ctx, actor, slug)
	if err != nil {
		return nil, err
	}
	blockID, err := s.store.InsertBlock(ctx, input.NewBlock(actor.ID, page.ID))
	if err != nil {
		return nil, insertError(err)
	}
	s.logger.Debug().Str("block_id", blockID).Str("page_id", page.ID).Str("type", string(input.Type)).Msg("block added")
	return s.pageBlocks(ctx, page.ID)
}

// AddImageBlock uploads the image and adds a block pointing at it. The
// object is removed again when the block cannot be written.
func (s *Service) AddImageBlock(ctx context.Context, current Session, slug string, upload ImageUpload) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Image storage not configured", nil)
	}
	if upload.Width < 0 || upload.Height < 0 {
		return nil, validationError("image", "image dimensions must not be negative")
	}
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	page, err := s.pageForActor(ctx, actor, slug)
	if err != nil {
		return nil, err
	}
	stored, err := s.media.StoreImage(ctx, actor.ID, upload.Body)
	if err != nil {
		return nil, err
	}
	input := blocks.Input{
		Type:  blocks.KindImage,
		Image: &blocks.ImagePayload{URL: stored.URL, Width: upload.Width, Height: upload.Height, Caption: strings.TrimSpace(upload.Caption)},
	}
	if _, err := s.store.InsertBlock(ctx, input.NewBlock(actor.ID, page.ID)); err != nil {
		if rmErr := s.media.Remove(ctx, stored.Key); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("key", stored.Key).Msg("remove orphaned image")
		}
		return nil, insertError(err)
	}
	return s.pageBlocks(ctx, page.ID)
}

// UpdateBlock edits a block's payload in place. Its position never changes.
func (s *Service) UpdateBlock(ctx context.Context, current Session, blockID string, patch blocks.Patch) (map[string]any, error) {
	if patch.Empty() {
		return nil, validationError("", "nothing to update")
	}
	actor, err := s.ownedBlock(ctx, current, blockID)
	if err != nil {
		return nil, err
	}
	pageID, err := s.store.UpdateBlockPayload(ctx, actor.ID, blockID, patch.Store())
	if err != nil {
		return nil, blockError(err)
	}
	return s.pageBlocks(ctx, pageID)
}

// DeleteBlock removes the placement. Shared entities it referenced remain.
func (s *Service) DeleteBlock(ctx context.Context, current Session, blockID string) (map[string]any, error) {
	actor, err := s.ownedBlock(ctx, current, blockID)
	if err != nil {
		return nil, err
	}
	pageID, err := s.store.DeleteBlock(ctx, actor.ID, blockID)
	if err != nil {
		return nil, blockError(err)
	}
	s.logger.Debug().Str("block_id", blockID).Str("page_id", pageID).Msg("block deleted")
	return s.pageBlocks(ctx, pageID)
}

// ReorderBlock moves one block on a page. Dropping a block where it already
// is writes nothing.
func (s *Service) ReorderBlock(ctx context.Context, current Session, slug string, input ReorderInput) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	page, err := s.pageForActor(ctx, actor, slug)
	if err != nil {
		return nil, err
	}
	list, err := s.resolver.PageBlocks(ctx, page.ID)
	if err != nil {
		return nil, err
	}

	blockID, newOrder, err := reorderTarget(s.registry.Renderable(list, blocks.EditableCaps), input)
	if err != nil {
		return nil, err
	}
	from := reorder.IndexOf(list, blockID)
	if from < 0 {
		return nil, domainError(http.StatusNotFound, "BLOCK_NOT_FOUND", "Block not found on this page", nil)
	}
	if min(max(newOrder, 1), len(list)) == list[from].Order {
		return s.pageBlocks(ctx, page.ID)
	}

	ok, err := s.store.ReorderBlock(ctx, actor.ID, blockID, newOrder)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusNotFound, "BLOCK_NOT_FOUND", "Block not found", nil)
	}
	s.logger.Debug().Str("block_id", blockID).Int("new_order", newOrder).Msg("block reordered")
	return s.pageBlocks(ctx, page.ID)
}

// reorderTarget resolves the request against visible, the list the editor
// shows. Indexes map to the stored position of the block at targetIndex.
func reorderTarget(visible []blocks.Block, input ReorderInput) (string, int, error) {
	switch {
	case input.SourceIndex != nil || input.TargetIndex != nil:
		if input.SourceIndex == nil || input.TargetIndex == nil {
			return "", 0, validationError("targetIndex", "sourceIndex and targetIndex are both required")
		}
		source, target := *input.SourceIndex, *input.TargetIndex
		if source < 0 || source >= len(visible) {
			return "", 0, validationError("sourceIndex", fmt.Sprintf("sourceIndex must be in [0, %d)", len(visible)))
		}
		if target < 0 || target >= len(visible) {
			return "", 0, validationError("targetIndex", fmt.Sprintf("targetIndex must be in [0, %d)", len(visible)))
		}
		return visible[source].ID, visible[target].Order, nil
	case strings.TrimSpace(input.BlockID) != "":
		if input.NewOrder == nil {
			return "", 0, validationError("newOrder", "newOrder is required")
		}
		if *input.NewOrder < 1 {
			return "", 0, validationError("newOrder", "newOrder is 1-based")
		}
		return strings.TrimSpace(input.BlockID), *input.NewOrder, nil
	default:
		return "", 0, validationError("blockId", "blockId and newOrder, or sourceIndex and targetIndex, are required")
	}
}

func (s *Service) ownedBlock(ctx context.Context, current Session, blockID string) (store.Profile, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return store.Profile{}, err
	}
	row, err := s.store.GetBlock(ctx, blockID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Profile{}, domainError(http.StatusNotFound, "BLOCK_NOT_FOUND", "Block not found", nil)
	}
	if err != nil {
		return store.Profile{}, err
	}
	if err := authorizeWrite(actor, row.ProfileID); err != nil {
		return store.Profile{}, err
	}
	return actor, nil
}

func insertError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return pages.ErrPageNotFound
	case errors.Is(err, store.ErrReferenceNotFound):
		return validationError("", "referenced item does not exist or is not yours")
	default:
		return err
	}
}

func blockError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domainError(http.StatusNotFound, "BLOCK_NOT_FOUND", "Block not found", nil)
	case errors.Is(err, store.ErrReferenceNotFound):
		return validationError("", "referenced item does not exist or is not yours")
	case errors.Is(err, store.ErrPayloadKindMismatch):
		return validationError("", "patch does not match the block type")
	default:
		return err
	}
}
