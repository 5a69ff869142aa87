package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/core"
)

func RoomsIndexHandler(rooms RoomsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, rooms.Rooms())
	}
}

func RoomParticipantsHandler(rooms RoomsReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := core.RoomID(chi.URLParam(r, "id"))

		// rooms are deleted once empty
		participants := rooms.List(roomID, "")
		if len(participants) == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		writeJSON(w, participants)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("service", "api").Msg("encode response")
		w.WriteHeader(http.StatusInternalServerError)
	}
}
