package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"folio/api/internal/auth"
	"folio/api/internal/authpw"
	"folio/api/internal/blocks"
	"folio/api/internal/config"
	"folio/api/internal/media"
	"folio/api/internal/metadata"
	"folio/api/internal/pages"
	"folio/api/internal/render"
	"folio/api/internal/search"
	"folio/api/internal/session"
	"folio/api/internal/store"
	"folio/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	ProfileID    string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)

	CreateProfile(context.Context, store.Profile) (store.Profile, error)
	GetProfileByHandle(context.Context, string) (store.Profile, error)
	GetProfileByID(context.Context, string) (store.Profile, error)
	GetProfileByUserID(context.Context, string) (store.Profile, error)
	UpdateProfile(context.Context, store.Profile) (store.Profile, error)
	SetDefaultPage(context.Context, string, store.DefaultPageType, *string) error
	ListSocialAccounts(context.Context, string) ([]store.SocialAccount, error)
	UpsertSocialAccount(context.Context, store.SocialAccount) (store.SocialAccount, error)
	DeleteSocialAccount(context.Context, string, string) error

	ListPages(context.Context, string) ([]store.Page, error)
	GetPageBySlug(context.Context, string, string) (store.Page, error)
	CountPages(context.Context, string) (int, error)
	InsertPage(context.Context, string, string, string) (store.Page, error)
	RenamePage(context.Context, string, string, string, string) (store.Page, error)
	DeletePage(context.Context, string, string) error

	ListPageBlocks(context.Context, string) ([]store.BlockRow, error)
	ListBlocksByType(context.Context, string, string) ([]store.BlockRow, error)
	GetBlock(context.Context, string) (store.BlockRow, error)
	CountBlocksByPage(context.Context, string) (map[string]int, error)
	CountBlocksByType(context.Context, string) (map[string]int, error)
	InsertBlock(context.Context, store.NewBlock) (string, error)
	DeleteBlock(context.Context, string, string) (string, error)
	UpdateBlockPayload(context.Context, string, string, store.PayloadPatch) (string, error)
	ReorderBlock(context.Context, string, string, int) (bool, error)

	ListRcmds(context.Context, string) ([]store.Rcmd, error)
	CreateRcmd(context.Context, store.Rcmd) (store.Rcmd, error)
	UpdateRcmd(context.Context, store.Rcmd) (store.Rcmd, error)
	DeleteRcmd(context.Context, string, string) error
	ListLinks(context.Context, string) ([]store.Link, error)
	CreateLink(context.Context, store.Link) (store.Link, error)
	UpdateLink(context.Context, store.Link) (store.Link, error)
	DeleteLink(context.Context, string, string) error
	ListCollections(context.Context, string, bool) ([]store.Collection, error)
	GetCollection(context.Context, string) (store.Collection, error)
	GetCollectionByShortID(context.Context, string, string) (store.Collection, error)
	CreateCollection(context.Context, store.Collection) (store.Collection, error)
	UpdateCollection(context.Context, store.Collection) (store.Collection, error)
	DeleteCollection(context.Context, string, string) error
	AddCollectionItem(context.Context, string, string, string, string) (store.CollectionItem, error)
	RemoveCollectionItem(context.Context, string, string, string) error
	ListCollectionItems(context.Context, []string) (map[string][]store.CollectionItem, error)
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, data session.Session, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.Session, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeUserSessions(ctx context.Context, userID string) (int, error)
	Ping(ctx context.Context) error
}

type imageStore interface {
	StoreImage(ctx context.Context, profileID string, body io.Reader) (media.Stored, error)
	Remove(ctx context.Context, key string) error
}

type metadataFetcher interface {
	Fetch(ctx context.Context, rawURL string) (metadata.Metadata, error)
}

type searchService interface {
	Search(ctx context.Context, q search.Query) search.Response
	Index(record search.Record)
	Delete(rtyp search.ResultType, id string)
	Status() string
}

// Deps are the collaborators wired in by the server command. Nil optional
// services disable the routes that need them.
type Deps struct {
	Store    *store.PostgresStore
	Sessions *session.RedisStore
	Media    *media.Service
	Metadata *metadata.Service
	Search   *search.Service
	Logger   zerolog.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	resolver  *pages.Resolver
	views     *render.Builder
	registry  *blocks.Registry
	media     imageStore
	metadata  metadataFetcher
	search    searchService
	logger    zerolog.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	var sessions sessionStore
	if deps.Sessions != nil {
		sessions = deps.Sessions
	}
	svc := newService(cfg, deps.Store, sessions, deps.Logger)
	if deps.Media != nil {
		svc.media = deps.Media
	}
	if deps.Metadata != nil {
		svc.metadata = deps.Metadata
	}
	if deps.Search != nil {
		svc.search = deps.Search
	}
	return svc
}

func newService(cfg config.Config, data dataStore, sessions sessionStore, logger zerolog.Logger) *Service {
	registry := blocks.Default()
	if cfg.MaxCustomPages <= 0 {
		cfg.MaxCustomPages = pages.MaxCustomPages
	}
	return &Service{
		cfg:       cfg,
		store:     data,
		sessions:  sessions,
		passwords: authpw.NewService(data, 0),
		resolver:  pages.NewResolver(data),
		views:     render.NewBuilder(registry, data, logger),
		registry:  registry,
		logger:    logger,
	}
}

// SignUp creates the account and signs it in.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked before a new pair
// is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if s.sessions == nil {
		return Session{}, session.ErrSessionNotFound
	}
	tokenHash := auth.HashToken(refreshToken)
	stored, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, stored.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	if s.sessions == nil {
		return Session{}, domainError(http.StatusServiceUnavailable, "SESSIONS_UNAVAILABLE", "Session store not configured", nil)
	}
	profileID := ""
	profile, err := s.store.GetProfileByUserID(ctx, user.ID)
	switch {
	case err == nil:
		profileID = profile.ID
	case !errors.Is(err, sql.ErrNoRows):
		return Session{}, err
	}

	now := time.Now()
	jti := util.NewID("jti")
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.DisplayName, profileID, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), session.Session{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		ProfileID:   profileID,
		CreatedAt:   now,
	}, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		ProfileID:    profileID,
		JTI:          jti,
		ExpiresAt:    now.Add(s.cfg.AccessTTL),
	}, nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{
		Token:     token,
		UserID:    claims.Subject,
		UserName:  claims.Name,
		ProfileID: claims.Profile,
		JTI:       claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}

// Logout revokes the given refresh token, or every refresh token the user
// holds when everywhere is set.
func (s *Service) Logout(ctx context.Context, current Session, refreshToken string, everywhere bool) error {
	if s.sessions == nil {
		return nil
	}
	if everywhere && current.UserID != "" {
		n, err := s.sessions.RevokeUserSessions(ctx, current.UserID)
		if err != nil {
			return err
		}
		s.logger.Info().Str("user_id", current.UserID).Int("sessions", n).Msg("signed out everywhere")
		return nil
	}
	if refreshToken != "" {
		return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Ready runs the dependency checks. Search never fails readiness: without
// the primary index queries fall back to Postgres.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ready := true
	checks := map[string]any{}

	if err := s.store.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["database"] = map[string]any{"status": "ok"}
	}

	switch {
	case s.sessions == nil:
		ready = false
		checks["redis"] = map[string]any{"status": "error", "error": "not configured"}
	default:
		if err := s.sessions.Ping(ctx); err != nil {
			ready = false
			checks["redis"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["redis"] = map[string]any{"status": "ok"}
		}
	}

	if s.search != nil {
		checks["search"] = map[string]any{"status": "ok", "backend": s.search.Status()}
	} else {
		checks["search"] = map[string]any{"status": "disabled"}
	}
	return ready, checks
}

// Metadata fetches link preview data. It only fails for URLs it cannot
// parse; everything else degrades to a placeholder.
func (s *Service) Metadata(ctx context.Context, rawURL string) (metadata.Metadata, error) {
	if s.metadata == nil {
		return metadata.Metadata{}, domainError(http.StatusServiceUnavailable, "METADATA_UNAVAILABLE", "Metadata service not configured", nil)
	}
	meta, err := s.metadata.Fetch(ctx, rawURL)
	if errors.Is(err, metadata.ErrInvalidURL) {
		return metadata.Metadata{}, validationError("url", "url must be an absolute http(s) url")
	}
	return meta, err
}

func (s *Service) Search(ctx context.Context, text, filterType string, limit, offset int) (search.Response, error) {
	rtyp, ok := search.ParseResultType(filterType)
	if !ok {
		return search.Response{}, validationError("type", "type must be one of profile, rcmd, link, collection")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search not configured", nil)
	}
	return s.search.Search(ctx, search.Query{Text: text, FilterType: rtyp, Limit: limit, Offset: offset}), nil
}

func (s *Service) index(record search.Record) {
	if s.search != nil {
		s.search.Index(record)
	}
}

func (s *Service) unindex(rtyp search.ResultType, id string) {
	if s.search != nil {
		s.search.Delete(rtyp, id)
	}
}

var handlePattern = regexp.MustCompile(`^[a-z0-9_-]{3,30}$`)

func normalizeHandle(raw string) (string, error) {
	handle := strings.ToLower(strings.TrimSpace(raw))
	if !handlePattern.MatchString(handle) {
		return "", validationError("handle", "handle must be 3-30 characters of a-z, 0-9, _ or -")
	}
	if pages.Reserved(handle) || reservedHandles[handle] {
		return "", validationError("handle", fmt.Sprintf("handle %q is reserved", handle))
	}
	return handle, nil
}

// reservedHandles are top-level paths a handle would shadow.
var reservedHandles = map[string]bool{"api": true, "static": true, "assets": true}
