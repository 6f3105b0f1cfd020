package api

import (
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*
var templateFS embed.FS

func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"years": func(from, to int) []int {
			var out []int
			for y := from; y <= to; y++ {
				out = append(out, y)
			}
			return out
		},
		"date": func(t time.Time) string {
			return t.Format("02.01.2006")
		},
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}
