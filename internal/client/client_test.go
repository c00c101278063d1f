package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/api/internal/blocks"
	"folio/api/internal/editor"
	"folio/api/internal/reorder"
)

// pageServer serves one page of text blocks behind the protected routes.
type pageServer struct {
	mu       sync.Mutex
	texts    []string
	ids      []string
	reorders []map[string]any
}

func (s *pageServer) rendered() map[string]any {
	list := make([]blocks.Rendered, 0, len(s.ids))
	for i, id := range s.ids {
		list = append(list, blocks.Rendered{ID: id, Kind: blocks.KindText, Order: i + 1, Body: s.texts[i]})
	}
	return map[string]any{"blocks": list}
}

func (s *pageServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/api/auth/signin" {
		_ = json.NewEncoder(w).Encode(map[string]any{"accessToken": "tok"})
		return
	}
	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "UNAUTHORIZED", "error": "Unauthorized"})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/protected/profile/pages/home":
	case r.Method == http.MethodPost && r.URL.Path == "/api/protected/profile/pages/home/blocks/reorder":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.reorders = append(s.reorders, body)
		from := -1
		for i, id := range s.ids {
			if id == body["blockId"] {
				from = i
			}
		}
		to := int(body["newOrder"].(float64)) - 1
		s.ids, _ = reorder.Move(s.ids, from, to)
		s.texts, _ = reorder.Move(s.texts, from, to)
	case r.Method == http.MethodPost && r.URL.Path == "/api/protected/profile/pages/home/blocks":
		var input blocks.Input
		_ = json.NewDecoder(r.Body).Decode(&input)
		s.ids = append(s.ids, "b"+string(rune('0'+len(s.ids)+1)))
		s.texts = append(s.texts, *input.Text)
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodDelete && r.URL.Path == "/api/protected/profile/blocks/missing":
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "BLOCK_NOT_FOUND", "error": "Block not found"})
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(s.rendered())
}

func newPageServer(t *testing.T) (*pageServer, *Client) {
	t.Helper()
	page := &pageServer{ids: []string{"b1", "b2", "b3"}, texts: []string{"A", "B", "C"}}
	server := httptest.NewServer(page)
	t.Cleanup(server.Close)
	c := New(server.URL+"/", WithHTTPClient(server.Client()))
	require.NoError(t, c.SignIn(context.Background(), "a@example.com", "secret123"))
	return page, c
}

func TestSignInStoresToken(t *testing.T) {
	_, c := newPageServer(t)
	assert.Equal(t, "tok", c.Token())
}

func TestFetchDecodesRenderedBlocks(t *testing.T) {
	_, c := newPageServer(t)
	list, err := c.Page("home").Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "b1", list[0].ID)
	assert.Equal(t, 1, list[0].Order)
	assert.Equal(t, blocks.TextPayload{Text: "A"}, list[0].Payload)
}

func TestErrorsCarryCodes(t *testing.T) {
	_, c := newPageServer(t)
	_, err := c.Page("home").DeleteBlock(context.Background(), "missing")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "BLOCK_NOT_FOUND", apiErr.Code)

	anonymous := New(c.baseURL, WithHTTPClient(c.http))
	_, err = anonymous.Page("home").Fetch(context.Background())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestEditorSessionOverHTTP(t *testing.T) {
	page, c := newPageServer(t)
	ctx := context.Background()

	session, err := editor.Open(ctx, c.Page("home"))
	require.NoError(t, err)

	require.NoError(t, session.Move(ctx, 0, 2))
	require.Len(t, page.reorders, 1)
	assert.Equal(t, "b1", page.reorders[0]["blockId"])
	assert.Equal(t, float64(3), page.reorders[0]["newOrder"])
	assert.Equal(t, []int{1, 2, 3}, reorder.Orders(session.Blocks()))
	assert.Equal(t, "b2", session.Blocks()[0].ID)

	require.NoError(t, session.Move(ctx, 1, 1))
	assert.Len(t, page.reorders, 1, "dropping on the same slot must not write")

	require.NoError(t, session.Show(editor.ModalAddText{}))
	text := "D"
	require.NoError(t, session.SubmitAdd(ctx, blocks.Input{Text: &text}))
	list := session.Blocks()
	require.Len(t, list, 4)
	assert.Equal(t, blocks.TextPayload{Text: "D"}, list[3].Payload)
	assert.Equal(t, editor.ModalNone{}, session.Modal())
}
