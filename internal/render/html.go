package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"net/http"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// HTML renders views with the embedded templates.
type HTML struct {
	profile  *template.Template
	notFound *template.Template
}

func NewHTML() (*HTML, error) {
	funcs := template.FuncMap{"emptyText": func() string { return EmptyText }}
	parse := func(page string) (*template.Template, error) {
		return template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/layout.html.tmpl", "templates/"+page)
	}
	profile, err := parse("profile.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse profile template: %w", err)
	}
	notFound, err := parse("notfound.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse not found template: %w", err)
	}
	return &HTML{profile: profile, notFound: notFound}, nil
}

func (h *HTML) Render(w io.Writer, view View) error {
	tmpl := h.profile
	if view.NotFound {
		tmpl = h.notFound
	}
	return tmpl.ExecuteTemplate(w, "layout", view)
}

// Write sets the status and content type, then renders.
func (h *HTML) Write(w http.ResponseWriter, status int, view View) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return h.Render(w, view)
}
