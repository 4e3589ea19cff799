package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/rs/zerolog"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = []string{"login", "index", "status", "wireless", "credential", "error"}

// page is the data every template receives.
type page struct {
	Title string
	User  string
	CSRF  string
	Error string
	Data  any
}

type errorData struct {
	Code    int
	Message string
}

type views struct {
	t   map[string]*template.Template
	log zerolog.Logger
}

func loadViews(log zerolog.Logger) (*views, error) {
	v := &views{t: map[string]*template.Template{}, log: log}
	for _, name := range pages {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s view: %w", name, err)
		}
		v.t[name] = t
	}
	return v, nil
}

// render executes into a buffer first so a template error still yields a
// clean 500.
func (v *views) render(w http.ResponseWriter, status int, name string, p page) {
	t, ok := v.t[name]
	if !ok {
		http.Error(w, "unknown view", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name+".html", p); err != nil {
		v.log.Error().Err(err).Str("view", name).Msg("render failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (v *views) renderError(w http.ResponseWriter, status int, msg string) {
	v.render(w, status, "error", page{Title: http.StatusText(status), Data: errorData{Code: status, Message: msg}})
}
