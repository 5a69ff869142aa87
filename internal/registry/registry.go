package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/telemetry"
)

var ErrParticipantNotFound = errors.New("participant not found")

// RoomSummary is a short description of a live room
type RoomSummary struct {
	RoomID       core.RoomID `json:"roomId"`
	Participants int         `json:"participants"`
}

type room struct {
	id core.RoomID
	// join order
	participants []*core.Participant
}

func (r *room) indexOf(id core.ConnectionID) int {
	for i, p := range r.participants {
		if p.ConnectionID == id {
			return i
		}
	}
	return -1
}

func (r *room) remove(id core.ConnectionID) {
	i := r.indexOf(id)
	if i < 0 {
		return
	}
	r.participants = append(r.participants[:i], r.participants[i+1:]...)
}

func (r *room) snapshot(exclude core.ConnectionID) []core.Participant {
	list := make([]core.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p.ConnectionID == exclude {
			continue
		}
		list = append(list, *p)
	}
	return list
}

// Registry maps rooms to their participants.
// A connection belongs to at most one room, every method is a single critical section.
type Registry struct {
	mu    sync.RWMutex
	rooms map[core.RoomID]*room
	index map[core.ConnectionID]core.RoomID
}

func New() *Registry {
	return &Registry{
		rooms: make(map[core.RoomID]*room),
		index: make(map[core.ConnectionID]core.RoomID),
	}
}

// Join adds the connection to the room, creating the room when absent.
// It returns the members that were in the room before the join, in join order.
// Joining again overwrites the record in place, joining another room moves the connection.
func (reg *Registry) Join(roomID core.RoomID, connID core.ConnectionID, displayName string) []core.Participant {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if current, ok := reg.index[connID]; ok && current != roomID {
		reg.leaveLocked(connID)
	}

	r, ok := reg.rooms[roomID]
	if !ok {
		r = &room{id: roomID}
		reg.rooms[roomID] = r
		log.Debug().Str("service", "registry").Str("roomId", string(roomID)).Msg("room created")
	}

	snapshot := r.snapshot(connID)

	if i := r.indexOf(connID); i >= 0 {
		r.participants[i].DisplayName = displayName
	} else {
		r.participants = append(r.participants, &core.Participant{
			ConnectionID: connID,
			DisplayName:  displayName,
		})
	}
	reg.index[connID] = roomID

	telemetry.RoomsChanged(len(reg.rooms), len(reg.index))

	return snapshot
}

// Leave removes the connection from its room, the room is deleted once empty
func (reg *Registry) Leave(connID core.ConnectionID) (core.RoomID, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	roomID, ok := reg.leaveLocked(connID)
	telemetry.RoomsChanged(len(reg.rooms), len(reg.index))

	return roomID, ok
}

func (reg *Registry) leaveLocked(connID core.ConnectionID) (core.RoomID, bool) {
	roomID, ok := reg.index[connID]
	if !ok {
		return "", false
	}
	delete(reg.index, connID)

	r, ok := reg.rooms[roomID]
	if !ok {
		return roomID, true
	}
	r.remove(connID)

	if len(r.participants) == 0 {
		delete(reg.rooms, roomID)
		log.Debug().Str("service", "registry").Str("roomId", string(roomID)).Msg("room deleted")
	}

	return roomID, true
}

// List returns the participants of the room in join order, without exclude
func (reg *Registry) List(roomID core.RoomID, exclude core.ConnectionID) []core.Participant {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return []core.Participant{}
	}

	return r.snapshot(exclude)
}

func (reg *Registry) UpdateMediaState(connID core.ConnectionID, isMuted, isVideoOff bool) (core.Participant, error) {
	return reg.update(connID, func(p *core.Participant) {
		p.IsMuted = isMuted
		p.IsVideoOff = isVideoOff
	})
}

func (reg *Registry) SetScreenSharing(connID core.ConnectionID, sharing bool) (core.Participant, error) {
	return reg.update(connID, func(p *core.Participant) {
		p.IsScreenSharing = sharing
	})
}

func (reg *Registry) update(connID core.ConnectionID, mutate func(*core.Participant)) (core.Participant, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	roomID, ok := reg.index[connID]
	if !ok {
		return core.Participant{}, ErrParticipantNotFound
	}
	r := reg.rooms[roomID]
	i := r.indexOf(connID)
	if i < 0 {
		return core.Participant{}, ErrParticipantNotFound
	}

	mutate(r.participants[i])

	return *r.participants[i], nil
}

func (reg *Registry) RoomOf(connID core.ConnectionID) (core.RoomID, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	roomID, ok := reg.index[connID]
	return roomID, ok
}

// Rooms returns live rooms sorted by id
func (reg *Registry) Rooms() []RoomSummary {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	list := make([]RoomSummary, 0, len(reg.rooms))
	for id, r := range reg.rooms {
		list = append(list, RoomSummary{RoomID: id, Participants: len(r.participants)})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].RoomID < list[j].RoomID })

	return list
}

// Len returns the number of connections in all rooms
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	return len(reg.index)
}
