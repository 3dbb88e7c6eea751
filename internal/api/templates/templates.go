// Package templates embeds the HTML pages served by the api package.
package templates

import (
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed *.html
var files embed.FS

var funcs = template.FuncMap{
	"datetime": func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
	"percent":  func(r float64) string { return fmt.Sprintf("%.1f%%", r*100) },
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}

// Parse loads every page. Each page is addressed by its file name.
func Parse() (*template.Template, error) {
	return template.New("pages").Funcs(funcs).ParseFS(files, "*.html")
}

// Must is Parse that panics on error.
func Must() *template.Template {
	return template.Must(Parse())
}
