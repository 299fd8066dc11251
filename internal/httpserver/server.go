// Package httpserver implements ptyshare's external HTTP surface: a
// viewer page per session, the websocket upgrade that attaches a
// browser to that session's Broadcast Hub, and a small embedded static
// asset bundle.
package httpserver

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ptyshare/internal/session"
)

//go:embed assets/index.html
var assetsFS embed.FS

var indexTmpl = template.Must(template.ParseFS(assetsFS, "assets/index.html"))

// Router builds the chi router serving every session in reg.
func Router(reg *session.Registry, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/s/{id}/", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctrl, err := reg.MustGet(id)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		writable := !ctrl.ReadOnly() && r.URL.Query().Get("write") != "0"
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = indexTmpl.Execute(w, map[string]any{
			"Title":    ctrl.Title,
			"WSPath":   "/s/" + id + "/ws",
			"Writable": writable,
		})
	})

	r.Get("/s/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctrl, err := reg.MustGet(id)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			log.Warn("websocket accept failed", "session", id, "err", err)
			return
		}

		viewerWritable := r.URL.Query().Get("write") == "1" && !ctrl.ReadOnly()
		viewerReadOnly := !viewerWritable

		v := ctrl.AttachViewer(conn, viewerReadOnly)
		<-v.Closed()
	})

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(assetsFS))))

	return r
}
