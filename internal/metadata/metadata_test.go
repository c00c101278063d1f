package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ogPage = `<!doctype html><html><head>
<title>Plain title</title>
<meta property="og:title" content="Dune, by Frank Herbert">
<meta property="og:description" content="A desert planet.">
<meta property="og:image" content="/covers/dune.jpg">
<meta property="og:site_name" content="Books">
<link rel="shortcut icon" href="/static/fav.png">
</head><body><meta property="og:title" content="ignored"></body></html>`

func TestNormalize(t *testing.T) {
	got, err := Normalize("  example.com/a  ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", got)

	got, err = Normalize("http://example.com")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", got)

	for _, bad := range []string{"", "ftp://example.com", "https://"} {
		_, err := Normalize(bad)
		assert.ErrorIs(t, err, ErrInvalidURL, bad)
	}
}

func TestFetchUsesAPITier(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://books.example/dune", r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"title":"Dune","description":"Sci-fi","image":{"url":"https://img.example/d.jpg"},"publisher":"Books"}}`)
	}))
	defer api.Close()

	svc := NewService(Options{APIURL: api.URL}, zerolog.Nop())
	meta, err := svc.Fetch(context.Background(), "books.example/dune")
	require.NoError(t, err)
	assert.Equal(t, SourceAPI, meta.Source)
	assert.Equal(t, "Dune", meta.Title)
	assert.Equal(t, "https://img.example/d.jpg", meta.Image)
	assert.Equal(t, "Books", meta.SiteName)
	assert.False(t, meta.Fallback)
}

func TestFetchFallsBackToHTML(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer api.Close()
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, ogPage)
	}))
	defer site.Close()

	svc := NewService(Options{APIURL: api.URL}, zerolog.Nop())
	meta, err := svc.Fetch(context.Background(), site.URL+"/dune")
	require.NoError(t, err)
	assert.Equal(t, SourceHTML, meta.Source)
	assert.Equal(t, "Dune, by Frank Herbert", meta.Title)
	assert.Equal(t, "A desert planet.", meta.Description)
	assert.Equal(t, site.URL+"/covers/dune.jpg", meta.Image)
	assert.Equal(t, site.URL+"/static/fav.png", meta.Favicon)
	assert.Equal(t, "Books", meta.SiteName)
}

func TestParseHTMLPrefersTitleElementWithoutOpenGraph(t *testing.T) {
	meta, err := parseHTML([]byte(`<html><head><title> Just a page </title><meta name="description" content="desc"></head></html>`), "https://x.example/p")
	require.NoError(t, err)
	assert.Equal(t, "Just a page", firstNonEmpty(meta.Title))
	assert.Equal(t, "desc", meta.Description)
	assert.Equal(t, "https://x.example/favicon.ico", meta.Favicon)
}

func TestScrapeReadsRawMarkup(t *testing.T) {
	body := []byte(`<TITLE>Tom &amp; Jerry</TITLE><meta property="og:image" content="img/a.png">`)
	meta := scrape(body, "https://x.example/show/")
	assert.Equal(t, SourceScrape, meta.Source)
	assert.Equal(t, "Tom & Jerry", meta.Title)
	assert.Equal(t, "https://x.example/show/img/a.png", meta.Image)
}

func TestFetchPlaceholderWhenNothingFound(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer site.Close()

	svc := NewService(Options{}, zerolog.Nop())
	meta, err := svc.Fetch(context.Background(), site.URL)
	require.NoError(t, err)
	assert.Equal(t, SourcePlaceholder, meta.Source)
	assert.True(t, meta.Fallback)
	assert.Equal(t, "127.0.0.1", meta.Title)
}

func TestFetchPlaceholderOnTimeout(t *testing.T) {
	release := make(chan struct{})
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer site.Close()
	defer close(release)

	svc := NewService(Options{Timeout: 50 * time.Millisecond}, zerolog.Nop())
	start := time.Now()
	meta, err := svc.Fetch(context.Background(), site.URL)
	require.NoError(t, err)
	assert.True(t, meta.Fallback)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPlaceholderStripsWWW(t *testing.T) {
	meta := Placeholder("https://www.example.com/a/b")
	assert.Equal(t, "example.com", meta.Title)
	assert.Contains(t, meta.Favicon, "domain=example.com")
}

func TestTimeoutIsCapped(t *testing.T) {
	svc := NewService(Options{Timeout: time.Minute}, zerolog.Nop())
	assert.Equal(t, 8*time.Second, svc.timeout)
}
