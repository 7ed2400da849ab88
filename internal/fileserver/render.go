package fileserver

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

var listingTemplate = template.Must(template.New("listing").Funcs(template.FuncMap{
	"bytes": func(n int64) string { return humanize.Bytes(uint64(max(n, 0))) },
	"ago": func(s string) string {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return ""
		}

		return humanize.Time(t)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Index of {{.Path}}</title>
</head>
<body>
<h1>Index of {{.Path}}</h1>
<ul>
{{- if .Parent}}
<li><a href="{{.Parent}}">..</a></li>
{{- end}}
{{- range .Entries}}
<li><a href="{{.Href}}">{{.Name}}{{if .IsDir}}/{{end}}</a>{{if not .IsDir}} {{bytes .Size}}{{end}}{{with .Modified}} <time datetime="{{.}}">{{ago .}}</time>{{end}}</li>
{{- end}}
</ul>
</body>
</html>
`))

type listingPage struct {
	Path    string
	Parent  string
	Entries []Entry
}

type jsonListing struct {
	Path        string  `json:"path"`
	Directories []Entry `json:"directories"`
	Files       []Entry `json:"files"`
}

func writeHTMLListing(w http.ResponseWriter, r *http.Request, requestPath string, entries []Entry, logger *slog.Logger) {
	page := listingPage{Path: requestPath, Entries: entries}
	if requestPath != "/" {
		page.Parent = escapePath(path.Dir(requestPath))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	if err := listingTemplate.Execute(w, page); err != nil {
		logger.Warn("rendering listing failed", slog.String("error", err.Error()))
	}
}

func writeJSONListing(w http.ResponseWriter, r *http.Request, requestPath string, entries []Entry) {
	out := jsonListing{
		Path:        requestPath,
		Directories: []Entry{},
		Files:       []Entry{},
	}

	for _, e := range entries {
		if e.IsDir {
			out.Directories = append(out.Directories, e)
		} else {
			out.Files = append(out.Files, e)
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	_ = json.NewEncoder(w).Encode(out)
}

func writeError(w http.ResponseWriter, r *http.Request, status int) {
	if acceptsJSON(r) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(status)})

		return
	}

	http.Error(w, http.StatusText(status), status)
}

// hrefFor builds the absolute, escaped link to a child of requestPath.
// Directory links end in "/".
func hrefFor(requestPath, name string, isDir bool) string {
	href := escapePath(path.Join(requestPath, name))
	if isDir && !strings.HasSuffix(href, "/") {
		href += "/"
	}

	return href
}

func escapePath(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
