package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"folio/api/internal/authpw"
	"folio/api/internal/config"
	"folio/api/internal/session"
	"folio/api/internal/store"
)

// fakeStore is an in-memory dataStore. Block orders follow the same rules
// as the SQL functions: appends go to max+1, deletes compact the page and
// reorders clamp to [1, N].
type fakeStore struct {
	mu sync.Mutex

	seq         int
	users       map[string]store.User
	profiles    map[string]store.Profile
	social      []store.SocialAccount
	pages       []store.Page
	blocks      []store.BlockRow
	rcmds       map[string]store.Rcmd
	links       map[string]store.Link
	collections map[string]store.Collection
	items       []store.CollectionItem

	pingFn        func(context.Context) error
	insertBlockFn func(store.NewBlock) error
	collectionFn  func(store.Collection) error

	reorderCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		profiles:    map[string]store.Profile{},
		rcmds:       map[string]store.Rcmd{},
		links:       map[string]store.Link{},
		collections: map[string]store.Collection{},
	}
}

func (f *fakeStore) id(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return store.User{}, store.ErrEmailTaken
		}
	}
	user.ID = f.id("user")
	user.CreatedAt = time.Now()
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) CreateProfile(_ context.Context, profile store.Profile) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.profiles {
		if existing.Handle == profile.Handle {
			return store.Profile{}, store.ErrHandleTaken
		}
	}
	profile.ID = f.id("profile")
	profile.CreatedAt = time.Now()
	profile.UpdatedAt = profile.CreatedAt
	f.profiles[profile.ID] = profile
	return profile, nil
}

func (f *fakeStore) GetProfileByHandle(_ context.Context, handle string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, profile := range f.profiles {
		if profile.Handle == handle {
			return profile, nil
		}
	}
	return store.Profile{}, sql.ErrNoRows
}

func (f *fakeStore) GetProfileByID(_ context.Context, profileID string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[profileID]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return profile, nil
}

func (f *fakeStore) GetProfileByUserID(_ context.Context, userID string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, profile := range f.profiles {
		if profile.AuthUserID == userID {
			return profile, nil
		}
	}
	return store.Profile{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateProfile(_ context.Context, profile store.Profile) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.profiles[profile.ID]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	profile.DefaultPageID, profile.DefaultPageType = existing.DefaultPageID, existing.DefaultPageType
	profile.UpdatedAt = time.Now()
	f.profiles[profile.ID] = profile
	return profile, nil
}

func (f *fakeStore) SetDefaultPage(_ context.Context, profileID string, pageType store.DefaultPageType, pageID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[profileID]
	if !ok {
		return sql.ErrNoRows
	}
	for i := range f.pages {
		if f.pages[i].ProfileID == profileID {
			f.pages[i].IsDefault = pageID != nil && f.pages[i].ID == *pageID
		}
	}
	profile.DefaultPageType, profile.DefaultPageID = pageType, pageID
	f.profiles[profileID] = profile
	return nil
}

func (f *fakeStore) ListSocialAccounts(_ context.Context, profileID string) ([]store.SocialAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.SocialAccount{}
	for _, account := range f.social {
		if account.ProfileID == profileID {
			out = append(out, account)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertSocialAccount(_ context.Context, account store.SocialAccount) (store.SocialAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.social {
		if f.social[i].ProfileID == account.ProfileID && f.social[i].Provider == account.Provider {
			account.ID = f.social[i].ID
			f.social[i] = account
			return account, nil
		}
	}
	account.ID = f.id("social")
	f.social = append(f.social, account)
	return account, nil
}

func (f *fakeStore) DeleteSocialAccount(_ context.Context, profileID, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, account := range f.social {
		if account.ID == accountID && account.ProfileID == profileID {
			f.social = append(f.social[:i], f.social[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListPages(_ context.Context, profileID string) ([]store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Page{}
	for _, page := range f.pages {
		if page.ProfileID == profileID {
			out = append(out, page)
		}
	}
	return out, nil
}

func (f *fakeStore) GetPageBySlug(_ context.Context, profileID, slug string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, page := range f.pages {
		if page.ProfileID == profileID && page.Slug == slug {
			return page, nil
		}
	}
	return store.Page{}, sql.ErrNoRows
}

func (f *fakeStore) CountPages(ctx context.Context, profileID string) (int, error) {
	list, _ := f.ListPages(ctx, profileID)
	return len(list), nil
}

func (f *fakeStore) uniqueSlug(profileID, slug, exceptID string) string {
	taken := func(candidate string) bool {
		for _, page := range f.pages {
			if page.ProfileID == profileID && page.Slug == candidate && page.ID != exceptID {
				return true
			}
		}
		return false
	}
	candidate := slug
	for n := 2; taken(candidate); n++ {
		candidate = fmt.Sprintf("%s-%d", slug, n)
	}
	return candidate
}

func (f *fakeStore) InsertPage(_ context.Context, profileID, name, slug string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := store.Page{ID: f.id("page"), ProfileID: profileID, Name: name, Slug: f.uniqueSlug(profileID, slug, ""), CreatedAt: time.Now()}
	f.pages = append(f.pages, page)
	return page, nil
}

func (f *fakeStore) RenamePage(_ context.Context, profileID, pageID, name, slug string) (store.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.pages {
		if f.pages[i].ID == pageID && f.pages[i].ProfileID == profileID {
			f.pages[i].Name = name
			f.pages[i].Slug = f.uniqueSlug(profileID, slug, pageID)
			return f.pages[i], nil
		}
	}
	return store.Page{}, sql.ErrNoRows
}

func (f *fakeStore) DeletePage(_ context.Context, profileID, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, page := range f.pages {
		if page.ID != pageID || page.ProfileID != profileID {
			continue
		}
		f.pages = append(f.pages[:i], f.pages[i+1:]...)
		kept := f.blocks[:0]
		for _, row := range f.blocks {
			if row.PageID != pageID {
				kept = append(kept, row)
			}
		}
		f.blocks = kept
		profile := f.profiles[profileID]
		if profile.DefaultPageID != nil && *profile.DefaultPageID == pageID {
			profile.DefaultPageID, profile.DefaultPageType = nil, store.DefaultPageNone
			f.profiles[profileID] = profile
		}
		return nil
	}
	return sql.ErrNoRows
}

func (f *fakeStore) pageRows(pageID string) []store.BlockRow {
	out := []store.BlockRow{}
	for _, row := range f.blocks {
		if row.PageID == pageID {
			out = append(out, row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out
}

func (f *fakeStore) setOrders(ordered []store.BlockRow) {
	for n, row := range ordered {
		for i := range f.blocks {
			if f.blocks[i].ID == row.ID {
				f.blocks[i].DisplayOrder = n + 1
			}
		}
	}
}

func (f *fakeStore) ListPageBlocks(_ context.Context, pageID string) ([]store.BlockRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageRows(pageID), nil
}

func (f *fakeStore) ListBlocksByType(_ context.Context, profileID, blockType string) ([]store.BlockRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.BlockRow{}
	for _, row := range f.blocks {
		if row.ProfileID == profileID && row.Type == blockType {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) GetBlock(_ context.Context, blockID string) (store.BlockRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.blocks {
		if row.ID == blockID {
			return row, nil
		}
	}
	return store.BlockRow{}, sql.ErrNoRows
}

func (f *fakeStore) CountBlocksByPage(_ context.Context, profileID string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, row := range f.blocks {
		if row.ProfileID == profileID {
			out[row.PageID]++
		}
	}
	return out, nil
}

func (f *fakeStore) CountBlocksByType(_ context.Context, profileID string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, row := range f.blocks {
		if row.ProfileID == profileID {
			out[row.Type]++
		}
	}
	return out, nil
}

func (f *fakeStore) InsertBlock(_ context.Context, block store.NewBlock) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertBlockFn != nil {
		if err := f.insertBlockFn(block); err != nil {
			return "", err
		}
	}
	owned := false
	for _, page := range f.pages {
		if page.ID == block.PageID && page.ProfileID == block.ProfileID {
			owned = true
		}
	}
	if !owned {
		return "", sql.ErrNoRows
	}
	row := store.BlockRow{
		ID:           f.id("block"),
		ProfileID:    block.ProfileID,
		PageID:       block.PageID,
		Type:         block.Type,
		DisplayOrder: len(f.pageRows(block.PageID)) + 1,
		Text:         block.Text,
	}
	switch block.Type {
	case "image":
		row.ImageURL = &block.Image.URL
		row.ImageWidth, row.ImageHeight, row.ImageCaption = block.Image.Width, block.Image.Height, block.Image.Caption
	case "link":
		link, ok := f.links[block.LinkID]
		if !ok || link.OwnerID != block.ProfileID {
			return "", store.ErrReferenceNotFound
		}
		row.Link = &link
	case "rcmd":
		rcmd, ok := f.rcmds[block.RcmdID]
		if !ok || rcmd.OwnerID != block.ProfileID {
			return "", store.ErrReferenceNotFound
		}
		row.Rcmd = &rcmd
	case "collection":
		collection, ok := f.collections[block.CollectionID]
		if !ok || collection.OwnerID != block.ProfileID {
			return "", store.ErrReferenceNotFound
		}
		row.Collection = &collection
	}
	f.blocks = append(f.blocks, row)
	return row.ID, nil
}

func (f *fakeStore) DeleteBlock(_ context.Context, profileID, blockID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, row := range f.blocks {
		if row.ID == blockID && row.ProfileID == profileID {
			f.blocks = append(f.blocks[:i], f.blocks[i+1:]...)
			f.setOrders(f.pageRows(row.PageID))
			return row.PageID, nil
		}
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) UpdateBlockPayload(_ context.Context, profileID, blockID string, patch store.PayloadPatch) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, row := range f.blocks {
		if row.ID != blockID || row.ProfileID != profileID {
			continue
		}
		if patch.Text != nil {
			if row.Type != "text" {
				return "", store.ErrPayloadKindMismatch
			}
			f.blocks[i].Text = patch.Text
		}
		if patch.ImageCaption != nil {
			f.blocks[i].ImageCaption = *patch.ImageCaption
		}
		return row.PageID, nil
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) ReorderBlock(_ context.Context, profileID, blockID string, newOrder int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reorderCalls++
	var target *store.BlockRow
	for i := range f.blocks {
		if f.blocks[i].ID == blockID && f.blocks[i].ProfileID == profileID {
			target = &f.blocks[i]
		}
	}
	if target == nil {
		return false, nil
	}
	rows := f.pageRows(target.PageID)
	newOrder = min(max(newOrder, 1), len(rows))
	from := 0
	for i, row := range rows {
		if row.ID == blockID {
			from = i
		}
	}
	moved := rows[from]
	rows = append(rows[:from], rows[from+1:]...)
	rows = append(rows[:newOrder-1], append([]store.BlockRow{moved}, rows[newOrder-1:]...)...)
	f.setOrders(rows)
	return true, nil
}

func (f *fakeStore) ListRcmds(_ context.Context, ownerID string) ([]store.Rcmd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Rcmd{}
	for _, item := range f.rcmds {
		if item.OwnerID == ownerID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateRcmd(_ context.Context, item store.Rcmd) (store.Rcmd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.id("rcmd")
	f.rcmds[item.ID] = item
	return item, nil
}

func (f *fakeStore) UpdateRcmd(_ context.Context, item store.Rcmd) (store.Rcmd, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rcmds[item.ID]; !ok || existing.OwnerID != item.OwnerID {
		return store.Rcmd{}, sql.ErrNoRows
	}
	f.rcmds[item.ID] = item
	return item, nil
}

func (f *fakeStore) DeleteRcmd(_ context.Context, ownerID, rcmdID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rcmds[rcmdID]; !ok || existing.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	delete(f.rcmds, rcmdID)
	return nil
}

func (f *fakeStore) ListLinks(_ context.Context, ownerID string) ([]store.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Link{}
	for _, item := range f.links {
		if item.OwnerID == ownerID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateLink(_ context.Context, item store.Link) (store.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.ID = f.id("link")
	f.links[item.ID] = item
	return item, nil
}

func (f *fakeStore) UpdateLink(_ context.Context, item store.Link) (store.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.links[item.ID]; !ok || existing.OwnerID != item.OwnerID {
		return store.Link{}, sql.ErrNoRows
	}
	f.links[item.ID] = item
	return item, nil
}

func (f *fakeStore) DeleteLink(_ context.Context, ownerID, linkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.links[linkID]; !ok || existing.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	delete(f.links, linkID)
	return nil
}

func (f *fakeStore) ListCollections(_ context.Context, ownerID string, publicOnly bool) ([]store.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Collection{}
	for _, item := range f.collections {
		if item.OwnerID == ownerID && (!publicOnly || item.IsPublic) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCollection(_ context.Context, collectionID string) (store.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.collections[collectionID]
	if !ok {
		return store.Collection{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) GetCollectionByShortID(_ context.Context, ownerID, shortID string) (store.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.collections {
		if item.OwnerID == ownerID && item.ShortID == shortID {
			return item, nil
		}
	}
	return store.Collection{}, sql.ErrNoRows
}

func (f *fakeStore) CreateCollection(_ context.Context, item store.Collection) (store.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collectionFn != nil {
		if err := f.collectionFn(item); err != nil {
			return store.Collection{}, err
		}
	}
	for _, existing := range f.collections {
		if item.ShortID != "" && existing.ShortID == item.ShortID {
			return store.Collection{}, store.ErrShortIDTaken
		}
	}
	if item.ID == "" {
		item.ID = f.id("collection")
	}
	f.collections[item.ID] = item
	return item, nil
}

func (f *fakeStore) UpdateCollection(_ context.Context, item store.Collection) (store.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.collections[item.ID]; !ok || existing.OwnerID != item.OwnerID {
		return store.Collection{}, sql.ErrNoRows
	}
	f.collections[item.ID] = item
	return item, nil
}

func (f *fakeStore) DeleteCollection(_ context.Context, ownerID, collectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.collections[collectionID]; !ok || existing.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	delete(f.collections, collectionID)
	return nil
}

func (f *fakeStore) AddCollectionItem(_ context.Context, ownerID, collectionID, itemType, itemID string) (store.CollectionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.collections[collectionID]; !ok || existing.OwnerID != ownerID {
		return store.CollectionItem{}, sql.ErrNoRows
	}
	item := store.CollectionItem{ID: f.id("item"), CollectionID: collectionID, ItemType: itemType}
	switch itemType {
	case "rcmd":
		rcmd, ok := f.rcmds[itemID]
		if !ok || rcmd.OwnerID != ownerID {
			return store.CollectionItem{}, store.ErrReferenceNotFound
		}
		item.Rcmd = &rcmd
	case "link":
		link, ok := f.links[itemID]
		if !ok || link.OwnerID != ownerID {
			return store.CollectionItem{}, store.ErrReferenceNotFound
		}
		item.Link = &link
	}
	for _, existing := range f.items {
		if existing.CollectionID == collectionID {
			item.OrderIndex = max(item.OrderIndex, existing.OrderIndex+1)
		}
	}
	f.items = append(f.items, item)
	return item, nil
}

func (f *fakeStore) RemoveCollectionItem(_ context.Context, ownerID, collectionID, itemID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.collections[collectionID]; !ok || existing.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	for i, item := range f.items {
		if item.ID == itemID && item.CollectionID == collectionID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListCollectionItems(_ context.Context, collectionIDs []string) (map[string][]store.CollectionItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string][]store.CollectionItem{}
	for _, id := range collectionIDs {
		for _, item := range f.items {
			if item.CollectionID == id {
				out[id] = append(out[id], item)
			}
		}
	}
	return out, nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      "test-secret",
		AccessTTL:      time.Hour,
		RefreshTTL:     24 * time.Hour,
		MaxCustomPages: 5,
		MaxUploadBytes: 1 << 20,
	}
}

// newTestService wires a fake store and a miniredis-backed session store.
func newTestService(t *testing.T, fs *fakeStore) *Service {
	t.Helper()
	redisServer := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://" + redisServer.Addr())
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })
	svc := newService(testConfig(), fs, sessions, zerolog.Nop())
	svc.passwords = authpw.NewService(fs, bcrypt.MinCost)
	return svc
}

// seedOwner creates a user with a profile and returns a session for them.
func seedOwner(t *testing.T, svc *Service, fs *fakeStore, handle string) (Session, store.Profile) {
	t.Helper()
	ctx := context.Background()
	user, err := fs.CreateUser(ctx, store.User{Email: handle + "@example.com", DisplayName: handle})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	profile, err := fs.CreateProfile(ctx, store.Profile{AuthUserID: user.ID, Handle: handle, FirstName: handle})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	current, err := svc.issueSession(ctx, user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return current, profile
}

func seedPage(t *testing.T, fs *fakeStore, profile store.Profile, name, slug string) store.Page {
	t.Helper()
	page, err := fs.InsertPage(context.Background(), profile.ID, name, slug)
	if err != nil {
		t.Fatalf("insert page: %v", err)
	}
	return page
}

func seedText(t *testing.T, fs *fakeStore, profile store.Profile, page store.Page, texts ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(texts))
	for _, text := range texts {
		value := text
		id, err := fs.InsertBlock(context.Background(), store.NewBlock{ProfileID: profile.ID, PageID: page.ID, Type: "text", Text: &value})
		if err != nil {
			t.Fatalf("insert block: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestOnboardCreatesProfileAndReissuesSession(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	signedUp, err := svc.SignUp(ctx, "ada@example.com", "correct horse", "Ada")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if signedUp.ProfileID != "" {
		t.Fatalf("expected no profile before onboarding, got %q", signedUp.ProfileID)
	}

	payload, err := svc.Onboard(ctx, signedUp, OnboardInput{Handle: "  Ada_L ", FirstName: "Ada", Tags: []string{"math", " math ", ""}})
	if err != nil {
		t.Fatalf("onboard: %v", err)
	}
	profile := payload["profile"].(map[string]any)
	if profile["handle"] != "ada_l" {
		t.Fatalf("expected normalized handle, got %v", profile["handle"])
	}
	if tags := profile["tags"].([]string); len(tags) != 1 {
		t.Fatalf("expected deduplicated tags, got %v", tags)
	}
	fresh := payload["session"].(map[string]any)
	if fresh["profileId"] != profile["id"] {
		t.Fatalf("expected reissued session to carry profile id, got %v", fresh["profileId"])
	}

	if _, err := svc.Onboard(ctx, signedUp, OnboardInput{Handle: "other", FirstName: "Ada"}); err == nil {
		t.Fatal("expected second onboarding to fail")
	} else if status, code, _, _ := mapError(err); status != 409 || code != "ALREADY_ONBOARDED" {
		t.Fatalf("expected 409 ALREADY_ONBOARDED, got %d %s", status, code)
	}
}

func TestOnboardRejectsReservedHandles(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	for _, handle := range []string{"rcmds", "api", "ab", "has space"} {
		_, err := svc.Onboard(context.Background(), Session{UserID: "user-x"}, OnboardInput{Handle: handle, FirstName: "X"})
		if status, code, _, _ := mapError(err); status != 422 || code != "VALIDATION_ERROR" {
			t.Fatalf("handle %q: expected 422 VALIDATION_ERROR, got %d %s", handle, status, code)
		}
	}
}

func TestCurrentProfileRequiresOnboarding(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	_, err := svc.CurrentProfile(context.Background(), Session{UserID: "nobody"})
	if status, code, _, _ := mapError(err); status != 404 || code != "PROFILE_REQUIRED" {
		t.Fatalf("expected 404 PROFILE_REQUIRED, got %d %s", status, code)
	}
}

func TestCreatePageEnforcesLimitAndReservedSlugs(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	current, _ := seedOwner(t, svc, fs, "maker")
	ctx := context.Background()

	payload, err := svc.CreatePage(ctx, current, PageInput{Name: "Links"})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	if slug := payload["page"].(map[string]any)["slug"]; slug != "links-page" {
		t.Fatalf("expected reserved slug to be suffixed, got %v", slug)
	}

	payload, err = svc.CreatePage(ctx, current, PageInput{Name: "Links!"})
	if err != nil {
		t.Fatalf("create page: %v", err)
	}
	if slug := payload["page"].(map[string]any)["slug"]; slug != "links-page-2" {
		t.Fatalf("expected colliding slug to get -2, got %v", slug)
	}

	for _, name := range []string{"Three", "Four", "Five"} {
		if _, err := svc.CreatePage(ctx, current, PageInput{Name: name}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	_, err = svc.CreatePage(ctx, current, PageInput{Name: "Six"})
	if status, code, _, _ := mapError(err); status != 422 || code != "PAGE_LIMIT_REACHED" {
		t.Fatalf("expected 422 PAGE_LIMIT_REACHED, got %d %s", status, code)
	}
}

func TestRenamePageKeepsIDAndDefault(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	current, profile := seedOwner(t, svc, fs, "maker")
	page := seedPage(t, fs, profile, "About", "about")
	ctx := context.Background()

	slug := "about"
	if _, err := svc.UpdateProfile(ctx, current, ProfileInput{DefaultPageType: ptr("custom"), DefaultPageSlug: &slug}); err != nil {
		t.Fatalf("set default: %v", err)
	}
	payload, err := svc.RenamePage(ctx, current, "about", PageInput{Name: "About Me"})
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	renamed := payload["page"].(map[string]any)
	if renamed["id"] != page.ID || renamed["slug"] != "about-me" {
		t.Fatalf("unexpected rename result %v", renamed)
	}
	view, err := svc.PublicView(ctx, "maker", "", "")
	if err != nil {
		t.Fatalf("public view: %v", err)
	}
	if view.Selected.PageID != page.ID {
		t.Fatalf("expected renamed page to stay the default, got %+v", view.Selected)
	}
}

func TestDeletePageClearsDefault(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	current, profile := seedOwner(t, svc, fs, "maker")
	page := seedPage(t, fs, profile, "About", "about")
	seedText(t, fs, profile, page, "a", "b")
	ctx := context.Background()

	slug := "about"
	if _, err := svc.UpdateProfile(ctx, current, ProfileInput{DefaultPageType: ptr("custom"), DefaultPageSlug: &slug}); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if err := svc.DeletePage(ctx, current, "about"); err != nil {
		t.Fatalf("delete page: %v", err)
	}
	if len(fs.blocks) != 0 {
		t.Fatalf("expected page blocks to be deleted, got %d", len(fs.blocks))
	}
	view, err := svc.PublicView(ctx, "maker", "", "")
	if err != nil {
		t.Fatalf("public view: %v", err)
	}
	if !view.Empty {
		t.Fatalf("expected empty profile after deleting the default page")
	}
}

func TestUpdateProfileRejectsUnknownDefaultPage(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	current, _ := seedOwner(t, svc, fs, "maker")

	_, err := svc.UpdateProfile(context.Background(), current, ProfileInput{DefaultPageType: ptr("gallery")})
	if status, _, _, _ := mapError(err); status != 422 {
		t.Fatalf("expected 422, got %d", status)
	}
	slug := "missing"
	_, err = svc.UpdateProfile(context.Background(), current, ProfileInput{DefaultPageType: ptr("custom"), DefaultPageSlug: &slug})
	if status, code, _, _ := mapError(err); status != 404 || code != "PAGE_NOT_FOUND" {
		t.Fatalf("expected 404 PAGE_NOT_FOUND, got %d %s", status, code)
	}
}

func TestCreateLinkWithoutMetadataUsesDomain(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	current, _ := seedOwner(t, svc, fs, "maker")

	payload, err := svc.CreateLink(context.Background(), current, LinkInput{URL: "www.example.org/path"})
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	link := payload["link"].(map[string]any)
	if link["url"] != "https://www.example.org/path" || link["title"] != "example.org" {
		t.Fatalf("unexpected link %v", link)
	}

	_, err = svc.CreateLink(context.Background(), current, LinkInput{URL: "ftp://example.org"})
	if status, _, _, _ := mapError(err); status != 422 {
		t.Fatalf("expected 422 for non-http url, got %d", status)
	}
}

func TestCollectionItemsRequireOwnedEntities(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	current, _ := seedOwner(t, svc, fs, "maker")
	_, stranger := seedOwner(t, svc, fs, "stranger")
	ctx := context.Background()

	created, err := svc.CreateCollection(ctx, current, CollectionInput{Name: "Reading"})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	collection := created["collection"].(map[string]any)
	if len(collection["shortId"].(string)) != shortIDLength {
		t.Fatalf("expected %d char short id, got %v", shortIDLength, collection["shortId"])
	}

	foreign, _ := fs.CreateRcmd(ctx, store.Rcmd{OwnerID: stranger.ID, Title: "Theirs"})
	_, err = svc.AddCollectionItem(ctx, current, collection["id"].(string), CollectionItemInput{ItemType: "rcmd", ItemID: foreign.ID})
	if status, _, _, _ := mapError(err); status != 422 {
		t.Fatalf("expected 422 for a foreign rcmd, got %d", status)
	}

	own, err := svc.CreateRcmd(ctx, current, RcmdInput{Title: "Mine", URL: "example.com"})
	if err != nil {
		t.Fatalf("create rcmd: %v", err)
	}
	rcmdID := own["rcmd"].(map[string]any)["id"].(string)
	for want := 0; want < 2; want++ {
		added, err := svc.AddCollectionItem(ctx, current, collection["id"].(string), CollectionItemInput{ItemType: "rcmd", ItemID: rcmdID})
		if err != nil {
			t.Fatalf("add item: %v", err)
		}
		if got := added["item"].(map[string]any)["orderIndex"]; got != want {
			t.Fatalf("expected order index %d, got %v", want, got)
		}
	}
}

func ptr[T any](value T) *T { return &value }

func TestCreateCollectionRetriesTakenShortID(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	current, _ := seedOwner(t, svc, fs, "maker")
	ctx := context.Background()

	var tried []string
	fs.collectionFn = func(item store.Collection) error {
		tried = append(tried, item.ShortID)
		if len(tried) < shortIDAttempts {
			return store.ErrShortIDTaken
		}
		return nil
	}
	created, err := svc.CreateCollection(ctx, current, CollectionInput{Name: "Reading"})
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if len(tried) != shortIDAttempts {
		t.Fatalf("expected %d attempts, got %d", shortIDAttempts, len(tried))
	}
	if tried[0] == tried[1] {
		t.Fatalf("expected a fresh short id per attempt, got %v", tried)
	}
	if got := created["collection"].(map[string]any)["shortId"]; got != tried[len(tried)-1] {
		t.Fatalf("expected the last short id %q, got %v", tried[len(tried)-1], got)
	}

	tried = nil
	fs.collectionFn = func(item store.Collection) error {
		tried = append(tried, item.ShortID)
		return store.ErrShortIDTaken
	}
	_, err = svc.CreateCollection(ctx, current, CollectionInput{Name: "Unlucky"})
	if !errors.Is(err, store.ErrShortIDTaken) {
		t.Fatalf("expected ErrShortIDTaken after %d attempts, got %v", shortIDAttempts, err)
	}
	if len(tried) != shortIDAttempts {
		t.Fatalf("expected retries to stop at %d, got %d", shortIDAttempts, len(tried))
	}
}
