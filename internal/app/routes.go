package app

import (
	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-erp/internal/security"
)

// Mount registers the API routes under /api/v1. Draft writes accept an
// Idempotency-Key and submit is rate limited per draft and client.
func (c *Components) Mount(r chi.Router, maxBody int64) {
	r.Route("/api/v1", func(v chi.Router) {
		v.Group(func(g chi.Router) {
			g.Use(security.BodyLimit{Max: maxBody}.Middleware)
			g.Use(c.Idempotency.Middleware)
			c.Drafts.Routes(g, c.SubmitLimit.Middleware)
		})
		if c.Documents != nil {
			v.Get("/documents", c.Documents.List)
			v.Get("/documents/{id}", c.Documents.Get)
		}
	})
}
