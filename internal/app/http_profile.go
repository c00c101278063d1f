package app

import (
	"net/http"
	"strconv"

	"folio/api/internal/blocks"
)

// handleProfile routes /api/protected/profile/... for the signed-in owner.
func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request, current Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetProfile(ctx, current)
			s.reply(w, r, http.StatusOK, payload, err)
		case http.MethodPut:
			var body ProfileInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateProfile(ctx, current, body)
			s.reply(w, r, http.StatusOK, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[0] {
	case "onboard":
		if len(parts) != 1 || r.Method != http.MethodPost {
			break
		}
		var body OnboardInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Onboard(ctx, current, body)
		s.reply(w, r, http.StatusCreated, payload, err)
		return

	case "social-accounts":
		s.handleSocialAccounts(w, r, current, parts[1:])
		return

	case "pages":
		s.handlePages(w, r, current, parts[1:])
		return

	case "blocks":
		if len(parts) != 2 {
			break
		}
		s.handleBlock(w, r, current, parts[1])
		return

	case "rcmds", "links", "collections":
		s.handleEntities(w, r, current, parts[0], parts[1:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSocialAccounts(w http.ResponseWriter, r *http.Request, current Session, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.ListSocialAccounts(ctx, current)
		s.reply(w, r, http.StatusOK, payload, err)
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body SocialAccountInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ConnectSocialAccount(ctx, current, body)
		s.reply(w, r, http.StatusCreated, payload, err)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		err := s.service.DisconnectSocialAccount(ctx, current, parts[0])
		s.reply(w, r, http.StatusOK, map[string]any{"ok": true}, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handlePages(w http.ResponseWriter, r *http.Request, current Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListPages(ctx, current)
			s.reply(w, r, http.StatusOK, payload, err)
		case http.MethodPost:
			var body PageInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreatePage(ctx, current, body)
			s.reply(w, r, http.StatusCreated, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	slug := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.EditablePage(ctx, current, slug)
			s.reply(w, r, http.StatusOK, view, err)
		case http.MethodPut:
			var body PageInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.RenamePage(ctx, current, slug, body)
			s.reply(w, r, http.StatusOK, payload, err)
		case http.MethodDelete:
			err := s.service.DeletePage(ctx, current, slug)
			s.reply(w, r, http.StatusOK, map[string]any{"ok": true}, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if parts[1] != "blocks" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case len(parts) == 2:
		var body blocks.Input
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddBlock(ctx, current, slug, body)
		s.reply(w, r, http.StatusCreated, payload, err)

	case len(parts) == 3 && parts[2] == "image":
		s.handleImageUpload(w, r, current, slug)

	case len(parts) == 3 && parts[2] == "reorder":
		var body ReorderInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ReorderBlock(ctx, current, slug, body)
		s.reply(w, r, http.StatusOK, payload, err)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// handleImageUpload reads a multipart form with an "image" file part and
// optional width, height and caption fields.
func (s *HTTPServer) handleImageUpload(w http.ResponseWriter, r *http.Request, current Session, slug string) {
	limit := s.service.cfg.MaxUploadBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form with an image", nil)
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "image file is required", map[string]string{"field": "image"})
		return
	}
	defer file.Close()

	width, _ := strconv.Atoi(r.FormValue("width"))
	height, _ := strconv.Atoi(r.FormValue("height"))
	payload, err := s.service.AddImageBlock(r.Context(), current, slug, ImageUpload{
		Body:    file,
		Width:   width,
		Height:  height,
		Caption: r.FormValue("caption"),
	})
	s.reply(w, r, http.StatusCreated, payload, err)
}

func (s *HTTPServer) handleBlock(w http.ResponseWriter, r *http.Request, current Session, blockID string) {
	switch r.Method {
	case http.MethodPut:
		var body blocks.Patch
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateBlock(r.Context(), current, blockID, body)
		s.reply(w, r, http.StatusOK, payload, err)
	case http.MethodDelete:
		payload, err := s.service.DeleteBlock(r.Context(), current, blockID)
		s.reply(w, r, http.StatusOK, payload, err)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleEntities(w http.ResponseWriter, r *http.Request, current Session, kind string, parts []string) {
	ctx := r.Context()
	ok := map[string]any{"ok": true}

	if len(parts) == 0 {
		switch {
		case r.Method == http.MethodGet && kind == "rcmds":
			payload, err := s.service.ListRcmds(ctx, current)
			s.reply(w, r, http.StatusOK, payload, err)
		case r.Method == http.MethodGet && kind == "links":
			payload, err := s.service.ListLinks(ctx, current)
			s.reply(w, r, http.StatusOK, payload, err)
		case r.Method == http.MethodGet:
			payload, err := s.service.ListCollections(ctx, current)
			s.reply(w, r, http.StatusOK, payload, err)
		case r.Method == http.MethodPost && kind == "rcmds":
			var body RcmdInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateRcmd(ctx, current, body)
			s.reply(w, r, http.StatusCreated, payload, err)
		case r.Method == http.MethodPost && kind == "links":
			var body LinkInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateLink(ctx, current, body)
			s.reply(w, r, http.StatusCreated, payload, err)
		case r.Method == http.MethodPost:
			var body CollectionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateCollection(ctx, current, body)
			s.reply(w, r, http.StatusCreated, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	id := parts[0]
	if len(parts) == 1 {
		switch {
		case r.Method == http.MethodPut && kind == "rcmds":
			var body RcmdInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateRcmd(ctx, current, id, body)
			s.reply(w, r, http.StatusOK, payload, err)
		case r.Method == http.MethodPut && kind == "links":
			var body LinkInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateLink(ctx, current, id, body)
			s.reply(w, r, http.StatusOK, payload, err)
		case r.Method == http.MethodPut:
			var body CollectionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateCollection(ctx, current, id, body)
			s.reply(w, r, http.StatusOK, payload, err)
		case r.Method == http.MethodDelete && kind == "rcmds":
			s.reply(w, r, http.StatusOK, ok, s.service.DeleteRcmd(ctx, current, id))
		case r.Method == http.MethodDelete && kind == "links":
			s.reply(w, r, http.StatusOK, ok, s.service.DeleteLink(ctx, current, id))
		case r.Method == http.MethodDelete:
			s.reply(w, r, http.StatusOK, ok, s.service.DeleteCollection(ctx, current, id))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if kind != "collections" || parts[1] != "items" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch {
	case len(parts) == 2 && r.Method == http.MethodPost:
		var body CollectionItemInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddCollectionItem(ctx, current, id, body)
		s.reply(w, r, http.StatusCreated, payload, err)
	case len(parts) == 3 && r.Method == http.MethodDelete:
		s.reply(w, r, http.StatusOK, ok, s.service.RemoveCollectionItem(ctx, current, id, parts[2]))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
