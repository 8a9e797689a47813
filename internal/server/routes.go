package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/taskrelay/internal/api/v1"
	"github.com/gosuda/taskrelay/internal/api/ws"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterAutomationRoutes(api, deps.Automations)
	v1.RegisterSessionRoutes(api, deps.Automations)
	v1.RegisterDocumentRoutes(api, deps.Documents)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/sessions/{sessionID}", hub.ServeSession)
	r.Get("/relay/{sessionID}", hub.ServeRelay) // 503 without Redis
}
