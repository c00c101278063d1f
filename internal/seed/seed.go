// Package seed loads a YAML fixture of accounts, profiles, pages and blocks
// into the store for local development.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"folio/api/internal/authpw"
	"folio/api/internal/blocks"
	"folio/api/internal/pages"
	"folio/api/internal/store"
	"folio/api/internal/util"
)

var ErrInvalidFixture = errors.New("invalid seed fixture")

type Fixture struct {
	Accounts []Account `yaml:"accounts"`
}

type Account struct {
	Email       string       `yaml:"email"`
	Password    string       `yaml:"password"`
	DisplayName string       `yaml:"displayName"`
	Profile     Profile      `yaml:"profile"`
	Social      []Social     `yaml:"social"`
	Links       []Link       `yaml:"links"`
	Rcmds       []Rcmd       `yaml:"rcmds"`
	Collections []Collection `yaml:"collections"`
	Pages       []Page       `yaml:"pages"`
	// Default is "rcmd", "link", "collection" or the slug of one of Pages.
	Default string `yaml:"default"`
}

type Profile struct {
	Handle    string   `yaml:"handle"`
	FirstName string   `yaml:"firstName"`
	LastName  string   `yaml:"lastName"`
	Bio       string   `yaml:"bio"`
	Location  string   `yaml:"location"`
	Interests []string `yaml:"interests"`
	Tags      []string `yaml:"tags"`
}

type Social struct {
	Provider string `yaml:"provider"`
	Username string `yaml:"username"`
	URL      string `yaml:"url"`
}

// Links, rcmds and collections carry a fixture-local Key that blocks and
// collection items refer to.
type Link struct {
	Key         string `yaml:"key"`
	Title       string `yaml:"title"`
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
}

type Rcmd struct {
	Key         string `yaml:"key"`
	Title       string `yaml:"title"`
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
	ImageURL    string `yaml:"imageUrl"`
	Type        string `yaml:"type"`
}

type Collection struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Private     bool     `yaml:"private"`
	Links       []string `yaml:"links"`
	Rcmds       []string `yaml:"rcmds"`
}

type Page struct {
	Name   string  `yaml:"name"`
	Blocks []Block `yaml:"blocks"`
}

type Block struct {
	Type       string `yaml:"type"`
	Text       string `yaml:"text"`
	ImageURL   string `yaml:"imageUrl"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Caption    string `yaml:"caption"`
	Link       string `yaml:"link"`
	Rcmd       string `yaml:"rcmd"`
	Collection string `yaml:"collection"`
}

// Parse decodes a fixture and rejects unknown fields.
func Parse(r io.Reader) (Fixture, error) {
	var fx Fixture
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&fx); err != nil {
		return Fixture{}, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	for i, account := range fx.Accounts {
		if strings.TrimSpace(account.Email) == "" || strings.TrimSpace(account.Profile.Handle) == "" {
			return Fixture{}, fmt.Errorf("%w: account %d needs an email and a handle", ErrInvalidFixture, i)
		}
		if len(account.Pages) > pages.MaxCustomPages {
			return Fixture{}, fmt.Errorf("%w: %s has more than %d pages", ErrInvalidFixture, account.Email, pages.MaxCustomPages)
		}
	}
	return fx, nil
}

// Store is the slice of the data store seeding writes through.
type Store interface {
	authpw.UserStore
	CreateProfile(ctx context.Context, profile store.Profile) (store.Profile, error)
	UpsertSocialAccount(ctx context.Context, account store.SocialAccount) (store.SocialAccount, error)
	CreateLink(ctx context.Context, item store.Link) (store.Link, error)
	CreateRcmd(ctx context.Context, item store.Rcmd) (store.Rcmd, error)
	CreateCollection(ctx context.Context, item store.Collection) (store.Collection, error)
	AddCollectionItem(ctx context.Context, ownerID, collectionID, itemType, itemID string) (store.CollectionItem, error)
	InsertPage(ctx context.Context, profileID, name, slug string) (store.Page, error)
	InsertBlock(ctx context.Context, block store.NewBlock) (string, error)
	SetDefaultPage(ctx context.Context, profileID string, pageType store.DefaultPageType, pageID *string) error
}

type Result struct {
	Created []string
	Skipped []string
}

type Seeder struct {
	store     Store
	passwords *authpw.Service
	logger    zerolog.Logger
}

func New(data Store, passwordCost int, logger zerolog.Logger) *Seeder {
	return &Seeder{store: data, passwords: authpw.NewService(data, passwordCost), logger: logger}
}

// Apply creates every account in fx. Accounts whose email is already
// registered are skipped, so re-running a fixture is safe.
func (s *Seeder) Apply(ctx context.Context, fx Fixture) (Result, error) {
	var res Result
	for _, account := range fx.Accounts {
		created, err := s.account(ctx, account)
		if err != nil {
			return res, fmt.Errorf("seed %s: %w", account.Email, err)
		}
		if created {
			res.Created = append(res.Created, account.Profile.Handle)
		} else {
			res.Skipped = append(res.Skipped, account.Profile.Handle)
		}
	}
	return res, nil
}

func (s *Seeder) account(ctx context.Context, account Account) (bool, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:       account.Email,
		Password:    account.Password,
		DisplayName: firstNonEmpty(account.DisplayName, account.Profile.FirstName, account.Profile.Handle),
	})
	if errors.Is(err, authpw.ErrEmailTaken) {
		s.logger.Info().Str("email", account.Email).Msg("account exists, skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	profile, err := s.store.CreateProfile(ctx, store.Profile{
		AuthUserID: user.ID,
		Handle:     strings.ToLower(strings.TrimSpace(account.Profile.Handle)),
		FirstName:  account.Profile.FirstName,
		LastName:   account.Profile.LastName,
		Bio:        account.Profile.Bio,
		Location:   account.Profile.Location,
		Interests:  account.Profile.Interests,
		Tags:       account.Profile.Tags,
	})
	if err != nil {
		return false, fmt.Errorf("create profile: %w", err)
	}

	for _, social := range account.Social {
		if _, err := s.store.UpsertSocialAccount(ctx, store.SocialAccount{
			ProfileID: profile.ID, Provider: social.Provider, Username: social.Username, URL: social.URL,
		}); err != nil {
			return false, fmt.Errorf("social account %s: %w", social.Provider, err)
		}
	}

	known, err := s.entities(ctx, profile.ID, account)
	if err != nil {
		return false, err
	}

	slugs := make(map[string]string, len(account.Pages))
	for _, fixturePage := range account.Pages {
		page, err := s.store.InsertPage(ctx, profile.ID, fixturePage.Name, pages.PageSlug(fixturePage.Name))
		if err != nil {
			return false, fmt.Errorf("page %q: %w", fixturePage.Name, err)
		}
		slugs[page.Slug] = page.ID
		for i, fb := range fixturePage.Blocks {
			input, err := known.input(fb)
			if err != nil {
				return false, fmt.Errorf("page %q block %d: %w", fixturePage.Name, i, err)
			}
			if _, err := input.Validate(); err != nil {
				return false, fmt.Errorf("page %q block %d: %w", fixturePage.Name, i, err)
			}
			if _, err := s.store.InsertBlock(ctx, input.NewBlock(profile.ID, page.ID)); err != nil {
				return false, fmt.Errorf("page %q block %d: %w", fixturePage.Name, i, err)
			}
		}
	}

	if err := s.setDefault(ctx, profile.ID, account.Default, slugs); err != nil {
		return false, err
	}
	s.logger.Info().Str("handle", profile.Handle).Int("pages", len(account.Pages)).Msg("account seeded")
	return true, nil
}

type refs struct {
	links       map[string]string
	rcmds       map[string]string
	collections map[string]string
}

func (s *Seeder) entities(ctx context.Context, profileID string, account Account) (refs, error) {
	r := refs{links: map[string]string{}, rcmds: map[string]string{}, collections: map[string]string{}}
	for _, link := range account.Links {
		created, err := s.store.CreateLink(ctx, store.Link{OwnerID: profileID, Title: link.Title, URL: link.URL, Description: link.Description})
		if err != nil {
			return r, fmt.Errorf("link %q: %w", link.Key, err)
		}
		r.links[link.Key] = created.ID
	}
	for _, rcmd := range account.Rcmds {
		created, err := s.store.CreateRcmd(ctx, store.Rcmd{
			OwnerID: profileID, Title: rcmd.Title, URL: rcmd.URL, Description: rcmd.Description,
			ImageURL: rcmd.ImageURL, Type: firstNonEmpty(rcmd.Type, "other"),
		})
		if err != nil {
			return r, fmt.Errorf("rcmd %q: %w", rcmd.Key, err)
		}
		r.rcmds[rcmd.Key] = created.ID
	}
	for _, collection := range account.Collections {
		created, err := s.store.CreateCollection(ctx, store.Collection{
			OwnerID: profileID, ShortID: util.ShortID(8), Name: collection.Name,
			Description: collection.Description, IsPublic: !collection.Private,
		})
		if err != nil {
			return r, fmt.Errorf("collection %q: %w", collection.Key, err)
		}
		r.collections[collection.Key] = created.ID
		for _, key := range collection.Links {
			if err := s.addItem(ctx, profileID, created.ID, "link", r.links, key); err != nil {
				return r, err
			}
		}
		for _, key := range collection.Rcmds {
			if err := s.addItem(ctx, profileID, created.ID, "rcmd", r.rcmds, key); err != nil {
				return r, err
			}
		}
	}
	return r, nil
}

func (s *Seeder) addItem(ctx context.Context, profileID, collectionID, itemType string, known map[string]string, key string) error {
	id, ok := known[key]
	if !ok {
		return fmt.Errorf("%w: unknown %s %q", ErrInvalidFixture, itemType, key)
	}
	if _, err := s.store.AddCollectionItem(ctx, profileID, collectionID, itemType, id); err != nil {
		return fmt.Errorf("collection item %s %q: %w", itemType, key, err)
	}
	return nil
}

func (r refs) input(fb Block) (blocks.Input, error) {
	in := blocks.Input{Type: blocks.Kind(fb.Type)}
	lookup := func(known map[string]string, key, what string) (string, error) {
		id, ok := known[key]
		if !ok {
			return "", fmt.Errorf("%w: unknown %s %q", ErrInvalidFixture, what, key)
		}
		return id, nil
	}
	var err error
	switch in.Type {
	case blocks.KindText:
		text := fb.Text
		in.Text = &text
	case blocks.KindImage:
		in.Image = &blocks.ImagePayload{URL: fb.ImageURL, Width: fb.Width, Height: fb.Height, Caption: fb.Caption}
	case blocks.KindLink:
		in.LinkID, err = lookup(r.links, fb.Link, "link")
	case blocks.KindRcmd:
		in.RcmdID, err = lookup(r.rcmds, fb.Rcmd, "rcmd")
	case blocks.KindCollection:
		in.CollectionID, err = lookup(r.collections, fb.Collection, "collection")
	}
	return in, err
}

func (s *Seeder) setDefault(ctx context.Context, profileID, value string, slugs map[string]string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	pageType := store.DefaultPageType(value)
	var pageID *string
	if pageType == store.DefaultPageCustom || !pageType.Valid() {
		id, ok := slugs[value]
		if !ok {
			return fmt.Errorf("%w: default %q is neither a tab nor a seeded page", ErrInvalidFixture, value)
		}
		pageType, pageID = store.DefaultPageCustom, &id
	}
	if err := s.store.SetDefaultPage(ctx, profileID, pageType, pageID); err != nil {
		return fmt.Errorf("set default page: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
