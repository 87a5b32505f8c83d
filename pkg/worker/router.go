package worker

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Class is the request class selecting the caching strategy.
type Class string

const (
	ClassNone       Class = "none"
	ClassShell      Class = "shell"
	ClassAsset      Class = "asset"
	ClassAPI        Class = "api"
	ClassImage      Class = "image"
	ClassNavigation Class = "navigation"
)

var (
	imageExtensions = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".svg": true, ".ico": true,
	}
	assetExtensions = map[string]bool{
		".js": true, ".mjs": true, ".css": true, ".woff": true, ".woff2": true, ".ttf": true,
	}
)

// Router assigns every request exactly one class.
type Router struct {
	shell       map[string]bool
	apiOrigin   string
	fontOrigins map[string]bool
}

func NewRouter(m *Manifest) *Router {
	r := &Router{
		shell:       make(map[string]bool, len(m.Shell)),
		apiOrigin:   strings.TrimSuffix(m.APIOrigin, "/"),
		fontOrigins: make(map[string]bool, len(m.FontOrigins)),
	}
	for _, p := range m.Shell {
		r.shell[p] = true
	}
	for _, o := range m.FontOrigins {
		r.fontOrigins[strings.TrimSuffix(o, "/")] = true
	}
	return r
}

// Classify returns the class of req resolved against target. Rules apply in order.
func (r *Router) Classify(req *http.Request, target *url.URL) Class {
	if req.Method != http.MethodGet {
		return ClassNone
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return ClassNone
	}
	origin := target.Scheme + "://" + target.Host
	p := target.Path
	ext := strings.ToLower(path.Ext(p))
	dest := req.Header.Get("Sec-Fetch-Dest")

	switch {
	case origin == r.apiOrigin && strings.Contains(p, "/images/"):
		return ClassImage
	case origin == r.apiOrigin:
		return ClassAPI
	case r.shell[p] || p == "/" || p == "" || ext == ".html":
		return ClassShell
	case dest == "image" || imageExtensions[ext]:
		return ClassImage
	case dest == "script" || dest == "style" || dest == "font" || assetExtensions[ext] || r.fontOrigins[origin]:
		return ClassAsset
	case isNavigation(req):
		return ClassNavigation
	}
	return ClassNone
}

func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
