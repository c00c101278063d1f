package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"folio/api/internal/pages"
	"folio/api/internal/rbac"
	"folio/api/internal/search"
	"folio/api/internal/store"
)

type OnboardInput struct {
	Handle    string   `json:"handle"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Bio       string   `json:"bio"`
	Location  string   `json:"location"`
	Interests []string `json:"interests"`
	Tags      []string `json:"tags"`
}

// ProfileInput is a partial update; nil fields are left alone.
type ProfileInput struct {
	FirstName       *string   `json:"firstName"`
	LastName        *string   `json:"lastName"`
	Bio             *string   `json:"bio"`
	Location        *string   `json:"location"`
	Interests       *[]string `json:"interests"`
	Tags            *[]string `json:"tags"`
	DefaultPageType *string   `json:"defaultPageType"`
	DefaultPageSlug *string   `json:"defaultPageSlug"`
}

type SocialAccountInput struct {
	Provider string `json:"provider"`
	Username string `json:"username"`
	URL      string `json:"url"`
}

// CurrentProfile loads the signed-in user's profile. Users who have not
// onboarded yet get PROFILE_REQUIRED.
func (s *Service) CurrentProfile(ctx context.Context, current Session) (store.Profile, error) {
	var profile store.Profile
	var err error
	if current.ProfileID != "" {
		profile, err = s.store.GetProfileByID(ctx, current.ProfileID)
	} else {
		profile, err = s.store.GetProfileByUserID(ctx, current.UserID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.Profile{}, domainError(http.StatusNotFound, "PROFILE_REQUIRED", "Complete onboarding to create a profile", nil)
	}
	if err != nil {
		return store.Profile{}, err
	}
	if profile.AuthUserID != current.UserID {
		return store.Profile{}, forbidden()
	}
	return profile, nil
}

// authorizeWrite checks the actor may mutate content owned by ownerProfileID.
func authorizeWrite(actor store.Profile, ownerProfileID string) error {
	if !rbac.Can(rbac.RoleFor(actor.ID, ownerProfileID), rbac.ActionWrite) {
		return forbidden()
	}
	return nil
}

func (s *Service) Onboard(ctx context.Context, current Session, input OnboardInput) (map[string]any, error) {
	handle, err := normalizeHandle(input.Handle)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.FirstName) == "" {
		return nil, validationError("firstName", "firstName is required")
	}
	if _, err := s.store.GetProfileByUserID(ctx, current.UserID); err == nil {
		return nil, domainError(http.StatusConflict, "ALREADY_ONBOARDED", "Profile already exists", nil)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	profile, err := s.store.CreateProfile(ctx, store.Profile{
		AuthUserID: current.UserID,
		Handle:     handle,
		FirstName:  strings.TrimSpace(input.FirstName),
		LastName:   strings.TrimSpace(input.LastName),
		Bio:        strings.TrimSpace(input.Bio),
		Location:   strings.TrimSpace(input.Location),
		Interests:  cleanList(input.Interests),
		Tags:       cleanList(input.Tags),
	})
	if err != nil {
		return nil, err
	}
	s.index(profileRecord(profile))
	s.logger.Info().Str("profile_id", profile.ID).Str("handle", profile.Handle).Msg("profile onboarded")

	user, err := s.store.GetUserByID(ctx, current.UserID)
	if err != nil {
		return nil, err
	}
	// reissue so the access token carries the new profile id
	fresh, err := s.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}
	return map[string]any{"profile": profilePayload(profile), "session": sessionPayload(fresh)}, nil
}

func (s *Service) GetProfile(ctx context.Context, current Session) (map[string]any, error) {
	profile, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.ListSocialAccounts(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	pageList, err := s.store.ListPages(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	payload := profilePayload(profile)
	payload["socialAccounts"] = socialPayloads(accounts)
	payload["pages"] = pagePayloads(pageList)
	return map[string]any{"profile": payload}, nil
}

func (s *Service) UpdateProfile(ctx context.Context, current Session, input ProfileInput) (map[string]any, error) {
	profile, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	if input.FirstName != nil {
		if strings.TrimSpace(*input.FirstName) == "" {
			return nil, validationError("firstName", "firstName must not be empty")
		}
		profile.FirstName = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		profile.LastName = strings.TrimSpace(*input.LastName)
	}
	if input.Bio != nil {
		profile.Bio = strings.TrimSpace(*input.Bio)
	}
	if input.Location != nil {
		profile.Location = strings.TrimSpace(*input.Location)
	}
	if input.Interests != nil {
		profile.Interests = cleanList(*input.Interests)
	}
	if input.Tags != nil {
		profile.Tags = cleanList(*input.Tags)
	}

	if input.DefaultPageType != nil {
		pageType := store.DefaultPageType(strings.TrimSpace(*input.DefaultPageType))
		if !pageType.Valid() {
			return nil, validationError("defaultPageType", "defaultPageType must be one of rcmd, link, collection, custom")
		}
		var pageID *string
		if pageType == store.DefaultPageCustom {
			if input.DefaultPageSlug == nil {
				return nil, validationError("defaultPageSlug", "defaultPageSlug is required for a custom default")
			}
			page, err := s.pageBySlug(ctx, profile, *input.DefaultPageSlug)
			if err != nil {
				return nil, err
			}
			pageID = &page.ID
		}
		if err := s.store.SetDefaultPage(ctx, profile.ID, pageType, pageID); err != nil {
			return nil, err
		}
	}

	updated, err := s.store.UpdateProfile(ctx, profile)
	if err != nil {
		return nil, err
	}
	s.index(profileRecord(updated))
	return map[string]any{"profile": profilePayload(updated)}, nil
}

func (s *Service) ListSocialAccounts(ctx context.Context, current Session) (map[string]any, error) {
	profile, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.ListSocialAccounts(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"socialAccounts": socialPayloads(accounts)}, nil
}

// ConnectSocialAccount adds or replaces the account for a provider.
func (s *Service) ConnectSocialAccount(ctx context.Context, current Session, input SocialAccountInput) (map[string]any, error) {
	profile, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return nil, err
	}
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	username := strings.TrimSpace(input.Username)
	if provider == "" {
		return nil, validationError("provider", "provider is required")
	}
	if username == "" {
		return nil, validationError("username", "username is required")
	}
	link := strings.TrimSpace(input.URL)
	if link != "" && !absoluteURL(link) {
		return nil, validationError("url", "url must be an absolute http(s) url")
	}
	account, err := s.store.UpsertSocialAccount(ctx, store.SocialAccount{ProfileID: profile.ID, Provider: provider, Username: username, URL: link})
	if err != nil {
		return nil, err
	}
	return map[string]any{"socialAccount": socialPayload(account)}, nil
}

func (s *Service) DisconnectSocialAccount(ctx context.Context, current Session, accountID string) error {
	profile, err := s.CurrentProfile(ctx, current)
	if err != nil {
		return err
	}
	return s.store.DeleteSocialAccount(ctx, profile.ID, accountID)
}

func profileRecord(profile store.Profile) search.Record {
	return search.Record{
		ID:     profile.ID,
		Type:   search.ResultProfile,
		Handle: profile.Handle,
		Title:  profile.DisplayName(),
		Body:   strings.Join(append([]string{profile.Bio, profile.Location}, profile.Tags...), " "),
		URL:    "/" + profile.Handle,
		Public: true,
	}
}

func profilePayload(profile store.Profile) map[string]any {
	var defaultType any
	if profile.DefaultPageType != store.DefaultPageNone {
		defaultType = string(profile.DefaultPageType)
	}
	return map[string]any{
		"id":              profile.ID,
		"handle":          profile.Handle,
		"firstName":       profile.FirstName,
		"lastName":        profile.LastName,
		"displayName":     profile.DisplayName(),
		"bio":             profile.Bio,
		"location":        profile.Location,
		"interests":       nonNilStrings(profile.Interests),
		"tags":            nonNilStrings(profile.Tags),
		"defaultPageId":   profile.DefaultPageID,
		"defaultPageType": defaultType,
		"createdAt":       profile.CreatedAt.Format(time.RFC3339),
		"updatedAt":       profile.UpdatedAt.Format(time.RFC3339),
	}
}

func sessionPayload(current Session) map[string]any {
	return map[string]any{
		"accessToken":  current.Token,
		"refreshToken": current.RefreshToken,
		"userId":       current.UserID,
		"userName":     current.UserName,
		"profileId":    nilIfEmpty(current.ProfileID),
		"expiresAt":    current.ExpiresAt.Unix(),
	}
}

func socialPayload(account store.SocialAccount) map[string]any {
	return map[string]any{
		"id":       account.ID,
		"provider": account.Provider,
		"username": account.Username,
		"url":      account.URL,
	}
}

func socialPayloads(accounts []store.SocialAccount) []map[string]any {
	out := make([]map[string]any, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, socialPayload(account))
	}
	return out
}

func pagePayload(page store.Page) map[string]any {
	return map[string]any{
		"id":        page.ID,
		"name":      page.Name,
		"slug":      page.Slug,
		"isDefault": page.IsDefault,
		"createdAt": page.CreatedAt.Format(time.RFC3339),
	}
}

func pagePayloads(list []store.Page) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, page := range list {
		out = append(out, pagePayload(page))
	}
	return out
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(value)]; dup {
			continue
		}
		seen[strings.ToLower(value)] = struct{}{}
		out = append(out, value)
	}
	return out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func absoluteURL(raw string) bool {
	parsed, err := url.Parse(raw)
	return err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// pageBySlug maps a missing page to the resolver's not-found error.
func (s *Service) pageBySlug(ctx context.Context, profile store.Profile, slug string) (store.Page, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	page, err := s.store.GetPageBySlug(ctx, profile.ID, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Page{}, pages.ErrPageNotFound
	}
	return page, err
}
