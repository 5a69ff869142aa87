package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/registry"
)

// RoomsReader is the read side of the room registry
type RoomsReader interface {
	Rooms() []registry.RoomSummary
	List(roomID core.RoomID, exclude core.ConnectionID) []core.Participant
}

// AppOptions is options of the application
type AppOptions struct {
	Rooms RoomsReader

	router *chi.Mux
}

// App is read-only inspection API of live rooms
type App struct {
	AppOptions
}

// NewApp creates a new API application
func NewApp(options AppOptions) *App {
	options.router = chi.NewRouter()

	app := &App{
		options,
	}
	return app
}

// Router is function for construct http router
func (app *App) Router() http.Handler {
	app.router.Route("/rooms", func(r chi.Router) {
		// GET /api/v1/rooms
		r.Get("/", RoomsIndexHandler(app.Rooms))
		// GET /api/v1/rooms/{id}/participants
		r.Get("/{id}/participants", RoomParticipantsHandler(app.Rooms))
	})

	return app.router
}
