package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"folio/api/internal/auth"
	"folio/api/internal/authpw"
	"folio/api/internal/blocks"
	"folio/api/internal/media"
	"folio/api/internal/metadata"
	"folio/api/internal/pages"
	"folio/api/internal/render"
	"folio/api/internal/session"
	"folio/api/internal/store"
)

type HTTPServer struct {
	service *Service
	html    *render.HTML
	cors    *cors.Cors
	logger  zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) (*HTTPServer, error) {
	html, err := render.NewHTML()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	origins := []string{"*"}
	if corsOrigin != "" {
		origins = strings.Split(corsOrigin, ",")
	}
	return &HTTPServer{
		service: service,
		html:    html,
		cors: cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         600,
		}),
		logger: service.logger,
	}, nil
}

func (s *HTTPServer) Handler() http.Handler {
	return s.cors.Handler(s.withMiddleware(http.HandlerFunc(s.handle)))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/") {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handlePublicPage(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ready, checks := s.service.Ready(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ready {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     ready,
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		current, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userName":      current.UserName,
			"userId":        current.UserID,
			"profileId":     nilIfEmpty(current.ProfileID),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.RefreshToken) == "" {
			writeError(w, http.StatusBadRequest, "INVALID_REFRESH_TOKEN", "refreshToken is required", nil)
			return
		}
		fresh, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(fresh))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
			Everywhere   bool   `json:"everywhere"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var current Session
		if body.Everywhere {
			var ok bool
			if current, ok = s.requireSession(w, r); !ok {
				return
			}
		}
		if err := s.service.Logout(r.Context(), current, body.RefreshToken, body.Everywhere); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.URL.Path == "/api/metadata" {
		s.handleMetadata(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		resp, err := s.service.Search(r.Context(), query.Get("q"), query.Get("type"), limit, offset)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[1] == "public" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		view, err := s.publicView(r, parts[2:])
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(parts) >= 3 && parts[1] == "protected" && parts[2] == "profile" {
		current, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.handleProfile(w, r, current, parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// publicView serves handle, handle/slug and handle/collections/ref.
func (s *HTTPServer) publicView(r *http.Request, parts []string) (render.View, error) {
	viewer := s.optionalSession(r).ProfileID
	switch {
	case len(parts) == 1:
		return s.service.PublicView(r.Context(), parts[0], "", viewer)
	case len(parts) == 2:
		return s.service.PublicView(r.Context(), parts[0], parts[1], viewer)
	case len(parts) == 3 && parts[1] == string(pages.TabCollections):
		return s.service.PublicCollection(r.Context(), parts[0], parts[2], viewer)
	default:
		return render.View{}, pages.ErrPageNotFound
	}
}

func (s *HTTPServer) handlePublicPage(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"service": "folio"})
		return
	}
	view, err := s.publicView(r, parts)
	if err != nil {
		status, _, _, _ := mapError(err)
		if status != http.StatusNotFound {
			s.logFailure(r, err)
			http.Error(w, http.StatusText(status), status)
			return
		}
		view = render.NotFoundView(parts[0], render.ModePublic)
	}
	status := http.StatusOK
	if view.NotFound {
		status = http.StatusNotFound
	}
	if err := s.html.Write(w, status, view); err != nil {
		s.logFailure(r, err)
	}
}

func (s *HTTPServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	var target string
	switch r.Method {
	case http.MethodGet:
		target = r.URL.Query().Get("url")
	case http.MethodPost:
		var body struct {
			URL string `json:"url"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		target = body.URL
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	meta, err := s.service.Metadata(r.Context(), target)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	created, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(created))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	current, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(current))
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	current, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.logFailure(r, err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return current, true
}

// optionalSession returns the caller's session, or the zero Session for
// anonymous or invalid tokens.
func (s *HTTPServer) optionalSession(r *http.Request) Session {
	token := bearerToken(r)
	if token == "" {
		return Session{}
	}
	current, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		return Session{}
	}
	return current
}

// fail maps err to its response and logs server errors with the request id.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logFailure(r, err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) logFailure(r *http.Request, err error) {
	s.logger.Error().Err(err).
		Str("request_id", requestID(r.Context())).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("request failed")
}

// reply writes payload on success and the mapped error otherwise.
func (s *HTTPServer) reply(w http.ResponseWriter, r *http.Request, status int, payload any, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", id)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		s.logger.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, pages.ErrProfileNotFound):
		return http.StatusNotFound, "PROFILE_NOT_FOUND", "Profile not found", nil
	case errors.Is(err, pages.ErrPageNotFound):
		return http.StatusNotFound, "PAGE_NOT_FOUND", "Page not found", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrHandleTaken):
		return http.StatusConflict, "HANDLE_TAKEN", "Handle already taken", map[string]string{"field": "handle"}
	case errors.Is(err, store.ErrEmailTaken), errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_EXISTS", "Email already registered", map[string]string{"field": "email"}
	case errors.Is(err, store.ErrInvalidDefaultPage):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), map[string]string{"field": "defaultPageSlug"}
	case errors.Is(err, store.ErrUnsupportedBlock), errors.Is(err, store.ErrPayloadKindMismatch),
		errors.Is(err, store.ErrReferenceNotFound), errors.Is(err, blocks.ErrInvalidInput),
		errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, metadata.ErrInvalidURL):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), map[string]string{"field": "url"}
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "Upload exceeds size limit", nil
	case errors.Is(err, media.ErrUnsupportedContent):
		return http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Only jpeg, png, gif and webp images are accepted", nil
	case errors.Is(err, media.ErrEmpty):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Upload is empty", map[string]string{"field": "image"}
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "INVALID_REFRESH_TOKEN", "Refresh token is invalid or expired", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
