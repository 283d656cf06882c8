package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	httpmw "github.com/cwrk-planet/docsync/internal/transport/http/middleware"
	"github.com/cwrk-planet/docsync/internal/transport/ws"
	"github.com/cwrk-planet/docsync/pkg/httputil"
)

type RouterDeps struct {
	WS      *ws.Server
	Events  StatsSource
	Updates StatsSource

	// Docs and Auth are optional; the document API is mounted only when both are set.
	Docs *Handler
	Auth httpmw.TokenVerifier

	AllowedOrigins []string
}

func NewRouter(d RouterDeps) http.Handler {
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(httputil.MiddlewareRequestID)
	r.Use(httputil.MiddlewareLogging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", httpmw.HeaderToken, httputil.HeaderRequestID},
		ExposedHeaders: []string{httputil.HeaderRequestID},
		MaxAge:         300,
	}))

	// WS endpoints
	r.Get("/ws", d.WS.HandleEvents)
	r.Get("/yjs/{room}", d.WS.HandleUpdates)

	if d.Docs != nil && d.Auth != nil {
		r.Route("/doc", func(dr chi.Router) {
			dr.Use(middlewareChi.Timeout(30 * time.Second))

			dr.Get("/getdoc", d.Docs.GetDoc)
			dr.Post("/getdoc", d.Docs.GetDoc)

			dr.Group(func(pr chi.Router) {
				pr.Use(httpmw.AuthMiddleware(d.Auth))
				pr.Post("/createdoc", d.Docs.CreateDoc)
				pr.Post("/updatedoc", d.Docs.UpdateDoc)
			})
		})
	}

	r.Get("/stats", statsHandler(d.Events, d.Updates))

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}
