package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"folio/api/internal/metadata"
	"folio/api/internal/search"
	"folio/api/internal/store"
	"folio/api/internal/util"
)

type RcmdInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	ImageURL    string `json:"imageUrl"`
	Type        string `json:"type"`
}

// LinkInput leaves Title optional; it is filled from the page metadata.
type LinkInput struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type CollectionInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    *bool  `json:"isPublic"`
}

type CollectionItemInput struct {
	ItemType string `json:"itemType"`
	ItemID   string `json:"itemId"`
}

const (
	shortIDLength   = 8
	shortIDAttempts = 3
)

func (s *Service) ListRcmds(ctx context.Context, current Session) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListRcmds(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, rcmdPayload(item))
	}
	return map[string]any{"rcmds": out}, nil
}

func (s *Service) CreateRcmd(ctx context.Context, current Session, input RcmdInput) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	item, err := rcmdFromInput(input)
	if err != nil {
		return nil, err
	}
	item.OwnerID = actor.ID
	created, err := s.store.CreateRcmd(ctx, item)
	if err != nil {
		return nil, err
	}
	s.index(rcmdRecord(actor, created))
	return map[string]any{"rcmd": rcmdPayload(created)}, nil
}

func (s *Service) UpdateRcmd(ctx context.Context, current Session, rcmdID string, input RcmdInput) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	item, err := rcmdFromInput(input)
	if err != nil {
		return nil, err
	}
	item.ID, item.OwnerID = rcmdID, actor.ID
	updated, err := s.store.UpdateRcmd(ctx, item)
	if err != nil {
		return nil, notFound(err, "RCMD_NOT_FOUND", "Rcmd not found")
	}
	s.index(rcmdRecord(actor, updated))
	return map[string]any{"rcmd": rcmdPayload(updated)}, nil
}

// DeleteRcmd removes the rcmd and every block or collection item using it.
func (s *Service) DeleteRcmd(ctx context.Context, current Session, rcmdID string) error {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRcmd(ctx, actor.ID, rcmdID); err != nil {
		return notFound(err, "RCMD_NOT_FOUND", "Rcmd not found")
	}
	s.unindex(search.ResultRcmd, rcmdID)
	return nil
}

func (s *Service) ListLinks(ctx context.Context, current Session) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListLinks(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, linkPayload(item))
	}
	return map[string]any{"links": out}, nil
}

// CreateLink saves a link. A missing title or description is taken from the
// target page's metadata, which degrades to the bare domain.
func (s *Service) CreateLink(ctx context.Context, current Session, input LinkInput) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	target, err := metadata.Normalize(input.URL)
	if err != nil {
		return nil, validationError("url", "url must be an absolute http(s) url")
	}
	item := store.Link{
		OwnerID:     actor.ID,
		Title:       strings.TrimSpace(input.Title),
		URL:         target,
		Description: strings.TrimSpace(input.Description),
	}
	if s.metadata != nil && (item.Title == "" || item.Description == "") {
		meta, err := s.metadata.Fetch(ctx, target)
		if err != nil {
			meta = metadata.Placeholder(target)
		}
		item.Title = firstNonBlank(item.Title, meta.Title)
		item.Description = firstNonBlank(item.Description, meta.Description)
		item.FaviconURL = meta.Favicon
	}
	if item.Title == "" {
		item.Title = metadata.Placeholder(target).Title
	}
	created, err := s.store.CreateLink(ctx, item)
	if err != nil {
		return nil, err
	}
	s.index(linkRecord(actor, created))
	return map[string]any{"link": linkPayload(created)}, nil
}

func (s *Service) UpdateLink(ctx context.Context, current Session, linkID string, input LinkInput) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	target, err := metadata.Normalize(input.URL)
	if err != nil {
		return nil, validationError("url", "url must be an absolute http(s) url")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title", "title is required")
	}
	updated, err := s.store.UpdateLink(ctx, store.Link{
		ID:          linkID,
		OwnerID:     actor.ID,
		Title:       title,
		URL:         target,
		Description: strings.TrimSpace(input.Description),
	})
	if err != nil {
		return nil, notFound(err, "LINK_NOT_FOUND", "Link not found")
	}
	s.index(linkRecord(actor, updated))
	return map[string]any{"link": linkPayload(updated)}, nil
}

func (s *Service) DeleteLink(ctx context.Context, current Session, linkID string) error {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return err
	}
	if err := s.store.DeleteLink(ctx, actor.ID, linkID); err != nil {
		return notFound(err, "LINK_NOT_FOUND", "Link not found")
	}
	s.unindex(search.ResultLink, linkID)
	return nil
}

func (s *Service) ListCollections(ctx context.Context, current Session) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListCollections(ctx, actor.ID, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	members, err := s.store.ListCollectionItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		item.Items = members[item.ID]
		out = append(out, collectionPayload(item))
	}
	return map[string]any{"collections": out}, nil
}

func (s *Service) CreateCollection(ctx context.Context, current Session, input CollectionInput) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("name", "name is required")
	}
	public := true
	if input.IsPublic != nil {
		public = *input.IsPublic
	}
	item := store.Collection{
		OwnerID:     actor.ID,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		IsPublic:    public,
	}
	var created store.Collection
	for attempt := 1; ; attempt++ {
		item.ShortID = util.ShortID(shortIDLength)
		created, err = s.store.CreateCollection(ctx, item)
		if !errors.Is(err, store.ErrShortIDTaken) || attempt == shortIDAttempts {
			break
		}
		s.logger.Debug().Str("short_id", item.ShortID).Int("attempt", attempt).Msg("collection short id taken, retrying")
	}
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.index(collectionRecord(actor, created))
	return map[string]any{"collection": collectionPayload(created)}, nil
}

func (s *Service) UpdateCollection(ctx context.Context, current Session, collectionID string, input CollectionInput) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	existing, err := s.ownedCollection(ctx, actor, collectionID)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(input.Name); name != "" {
		existing.Name = name
	}
	existing.Description = strings.TrimSpace(input.Description)
	if input.IsPublic != nil {
		existing.IsPublic = *input.IsPublic
	}
	updated, err := s.store.UpdateCollection(ctx, existing)
	if err != nil {
		return nil, notFound(err, "COLLECTION_NOT_FOUND", "Collection not found")
	}
	s.index(collectionRecord(actor, updated))
	return map[string]any{"collection": collectionPayload(updated)}, nil
}

func (s *Service) DeleteCollection(ctx context.Context, current Session, collectionID string) error {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return err
	}
	if err := s.store.DeleteCollection(ctx, actor.ID, collectionID); err != nil {
		return notFound(err, "COLLECTION_NOT_FOUND", "Collection not found")
	}
	s.unindex(search.ResultCollection, collectionID)
	return nil
}

// AddCollectionItem appends an rcmd or link the actor owns.
func (s *Service) AddCollectionItem(ctx context.Context, current Session, collectionID string, input CollectionItemInput) (map[string]any, error) {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	itemType := strings.TrimSpace(input.ItemType)
	if itemType != "rcmd" && itemType != "link" {
		return nil, validationError("itemType", "itemType must be rcmd or link")
	}
	if strings.TrimSpace(input.ItemID) == "" {
		return nil, validationError("itemId", "itemId is required")
	}
	item, err := s.store.AddCollectionItem(ctx, actor.ID, collectionID, itemType, strings.TrimSpace(input.ItemID))
	switch {
	case errors.Is(err, store.ErrReferenceNotFound):
		return nil, validationError("itemId", "item does not exist or is not yours")
	case err != nil:
		return nil, notFound(err, "COLLECTION_NOT_FOUND", "Collection not found")
	}
	return map[string]any{"item": map[string]any{
		"id":           item.ID,
		"collectionId": item.CollectionID,
		"itemType":     item.ItemType,
		"orderIndex":   item.OrderIndex,
	}}, nil
}

func (s *Service) RemoveCollectionItem(ctx context.Context, current Session, collectionID, itemID string) error {
	actor, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return err
	}
	if err := s.store.RemoveCollectionItem(ctx, actor.ID, collectionID, itemID); err != nil {
		return notFound(err, "ITEM_NOT_FOUND", "Collection item not found")
	}
	return nil
}

func (s *Service) ownedCollection(ctx context.Context, actor store.Profile, collectionID string) (store.Collection, error) {
	collection, err := s.store.GetCollection(ctx, collectionID)
	if err != nil {
		return store.Collection{}, notFound(err, "COLLECTION_NOT_FOUND", "Collection not found")
	}
	if err := authorizeWrite(actor, collection.OwnerID); err != nil {
		return store.Collection{}, err
	}
	return collection, nil
}

func rcmdFromInput(input RcmdInput) (store.Rcmd, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Rcmd{}, validationError("title", "title is required")
	}
	item := store.Rcmd{
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Type:        strings.ToLower(strings.TrimSpace(input.Type)),
	}
	if raw := strings.TrimSpace(input.URL); raw != "" {
		target, err := metadata.Normalize(raw)
		if err != nil {
			return store.Rcmd{}, validationError("url", "url must be an absolute http(s) url")
		}
		item.URL = target
	}
	if raw := strings.TrimSpace(input.ImageURL); raw != "" {
		if !absoluteURL(raw) {
			return store.Rcmd{}, validationError("imageUrl", "imageUrl must be an absolute http(s) url")
		}
		item.ImageURL = raw
	}
	return item, nil
}

func notFound(err error, code, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domainError(http.StatusNotFound, code, message, nil)
	}
	return err
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

func rcmdRecord(owner store.Profile, item store.Rcmd) search.Record {
	return search.Record{
		ID:     item.ID,
		Type:   search.ResultRcmd,
		Handle: owner.Handle,
		Title:  item.Title,
		Body:   item.Description,
		URL:    item.URL,
		Public: true,
	}
}

func linkRecord(owner store.Profile, item store.Link) search.Record {
	return search.Record{
		ID:     item.ID,
		Type:   search.ResultLink,
		Handle: owner.Handle,
		Title:  item.Title,
		Body:   item.Description,
		URL:    item.URL,
		Public: true,
	}
}

func collectionRecord(owner store.Profile, item store.Collection) search.Record {
	return search.Record{
		ID:     item.ID,
		Type:   search.ResultCollection,
		Handle: owner.Handle,
		Title:  item.Name,
		Body:   item.Description,
		URL:    "/" + owner.Handle + "/collections/" + item.ShortID,
		Public: item.IsPublic,
	}
}

func rcmdPayload(item store.Rcmd) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"description": item.Description,
		"url":         item.URL,
		"imageUrl":    item.ImageURL,
		"type":        item.Type,
		"createdAt":   item.CreatedAt.Format(time.RFC3339),
	}
}

func linkPayload(item store.Link) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"url":         item.URL,
		"description": item.Description,
		"faviconUrl":  item.FaviconURL,
		"createdAt":   item.CreatedAt.Format(time.RFC3339),
	}
}

func collectionPayload(item store.Collection) map[string]any {
	items := make([]map[string]any, 0, len(item.Items))
	for _, member := range item.Items {
		entry := map[string]any{
			"id":         member.ID,
			"itemType":   member.ItemType,
			"orderIndex": member.OrderIndex,
		}
		if member.Rcmd != nil {
			entry["rcmd"] = rcmdPayload(*member.Rcmd)
		}
		if member.Link != nil {
			entry["link"] = linkPayload(*member.Link)
		}
		items = append(items, entry)
	}
	return map[string]any{
		"id":          item.ID,
		"shortId":     item.ShortID,
		"name":        item.Name,
		"description": item.Description,
		"isPublic":    item.IsPublic,
		"items":       items,
		"createdAt":   item.CreatedAt.Format(time.RFC3339),
	}
}
