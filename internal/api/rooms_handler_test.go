package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/registry"
)

type MockRooms struct {
	Summaries    []registry.RoomSummary
	Participants map[core.RoomID][]core.Participant
}

func (m *MockRooms) Rooms() []registry.RoomSummary {
	return m.Summaries
}

func (m *MockRooms) List(roomID core.RoomID, exclude core.ConnectionID) []core.Participant {
	return m.Participants[roomID]
}

func newMockRooms() *MockRooms {
	return &MockRooms{
		Summaries: []registry.RoomSummary{{RoomID: "abc123", Participants: 2}},
		Participants: map[core.RoomID][]core.Participant{
			"abc123": {
				{ConnectionID: "P1", DisplayName: "Alice"},
				{ConnectionID: "P2", DisplayName: "Bob", IsMuted: true},
			},
		},
	}
}

func TestRoomsIndexHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Mount("/api/v1", NewApp(AppOptions{Rooms: newMockRooms()}).Router())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `[{"roomId":"abc123","participants":2}]`, rr.Body.String())
}

func TestRoomParticipantsHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Mount("/api/v1", NewApp(AppOptions{Rooms: newMockRooms()}).Router())

	t.Run("existing room", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/abc123/participants", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		participants := []core.Participant{}
		assert.Nil(t, json.NewDecoder(rr.Body).Decode(&participants))
		assert.Len(t, participants, 2)
		assert.Equal(t, core.ConnectionID("P1"), participants[0].ConnectionID)
		assert.True(t, participants[1].IsMuted)
	})

	t.Run("unknown room", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/nope/participants", nil)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestRoomsWithRegistry(t *testing.T) {
	reg := registry.New()
	reg.Join("abc123", "P1", "Alice")

	handler := NewApp(AppOptions{Rooms: reg}).Router()

	req := httptest.NewRequest(http.MethodGet, "/rooms/abc123/participants", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"connectionId":"P1","displayName":"Alice","isMuted":false,"isVideoOff":false,"isScreenSharing":false}]`, rr.Body.String())
}
