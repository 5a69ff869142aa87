package rtc

import (
	"sort"
	"sync"

	"github.com/isqad/livelook-meet/internal/core"
)

// RosterEntry is the client view of a meeting participant
type RosterEntry struct {
	ConnectionID    core.ConnectionID `json:"connectionId"`
	DisplayName     string            `json:"displayName"`
	IsMuted         bool              `json:"isMuted"`
	IsVideoOff      bool              `json:"isVideoOff"`
	IsScreenSharing bool              `json:"isScreenSharing"`
	IsSelf          bool              `json:"isSelf"`
}

func entryFromParticipant(p core.Participant) RosterEntry {
	return RosterEntry{
		ConnectionID:    p.ConnectionID,
		DisplayName:     p.DisplayName,
		IsMuted:         p.IsMuted,
		IsVideoOff:      p.IsVideoOff,
		IsScreenSharing: p.IsScreenSharing,
	}
}

// Roster keeps participants in join order. Writes come from the orchestrator loop only.
type Roster struct {
	lock    sync.RWMutex
	entries []RosterEntry
}

func newRoster() *Roster {
	return &Roster{entries: make([]RosterEntry, 0)}
}

func (r *Roster) Snapshot() []RosterEntry {
	r.lock.RLock()
	defer r.lock.RUnlock()

	entries := make([]RosterEntry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

func (r *Roster) Get(id core.ConnectionID) (RosterEntry, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for _, e := range r.entries {
		if e.ConnectionID == id {
			return e, true
		}
	}
	return RosterEntry{}, false
}

// Remotes returns every participant except self
func (r *Roster) Remotes() []RosterEntry {
	r.lock.RLock()
	defer r.lock.RUnlock()

	remotes := make([]RosterEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.IsSelf {
			remotes = append(remotes, e)
		}
	}
	return remotes
}

func (r *Roster) upsert(entry RosterEntry) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for i := range r.entries {
		if r.entries[i].ConnectionID == entry.ConnectionID {
			r.entries[i] = entry
			return
		}
	}
	r.entries = append(r.entries, entry)
}

// mergeRemotes applies a server snapshot, self goes last. Remotes missing from
// the snapshot survive while keep reports them, a participant-joined can be
// delivered before the snapshot it is not part of.
func (r *Roster) mergeRemotes(participants []core.Participant, self core.ConnectionID, keep func(core.ConnectionID) bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	entries := make([]RosterEntry, 0, len(participants)+len(r.entries))
	listed := make(map[core.ConnectionID]bool, len(participants))
	for _, p := range participants {
		if p.ConnectionID == self || listed[p.ConnectionID] {
			continue
		}
		listed[p.ConnectionID] = true
		entries = append(entries, entryFromParticipant(p))
	}

	var selfEntry *RosterEntry
	for i := range r.entries {
		e := r.entries[i]
		switch {
		case e.IsSelf:
			selfEntry = &e
		case !listed[e.ConnectionID] && keep(e.ConnectionID):
			entries = append(entries, e)
		}
	}
	if selfEntry != nil {
		entries = append(entries, *selfEntry)
	}
	r.entries = entries
}

func (r *Roster) update(id core.ConnectionID, f func(*RosterEntry)) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	for i := range r.entries {
		if r.entries[i].ConnectionID == id {
			f(&r.entries[i])
			return true
		}
	}
	return false
}

func (r *Roster) remove(id core.ConnectionID) {
	r.lock.Lock()
	defer r.lock.Unlock()

	for i := range r.entries {
		if r.entries[i].ConnectionID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

func (r *Roster) reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.entries = make([]RosterEntry, 0)
}

// RemoteStream is the media received from one peer
type RemoteStream struct {
	PeerID core.ConnectionID `json:"peerId"`
	Tracks []RemoteTrack     `json:"tracks"`
}

// StreamMap is the observable set of remote streams keyed by peer
type StreamMap struct {
	lock    sync.RWMutex
	streams map[core.ConnectionID]RemoteStream
	updates chan struct{}
}

func newStreamMap() *StreamMap {
	return &StreamMap{
		streams: make(map[core.ConnectionID]RemoteStream),
		updates: make(chan struct{}, 1),
	}
}

// Snapshot returns streams ordered by peer id
func (m *StreamMap) Snapshot() []RemoteStream {
	m.lock.RLock()
	defer m.lock.RUnlock()

	streams := make([]RemoteStream, 0, len(m.streams))
	for _, s := range m.streams {
		tracks := make([]RemoteTrack, len(s.Tracks))
		copy(tracks, s.Tracks)
		streams = append(streams, RemoteStream{PeerID: s.PeerID, Tracks: tracks})
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].PeerID < streams[j].PeerID })
	return streams
}

func (m *StreamMap) Get(peer core.ConnectionID) (RemoteStream, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	s, ok := m.streams[peer]
	return s, ok
}

// Updates signals that the map changed, notifications are coalesced
func (m *StreamMap) Updates() <-chan struct{} {
	return m.updates
}

func (m *StreamMap) addTrack(peer core.ConnectionID, track RemoteTrack) {
	m.lock.Lock()
	s := m.streams[peer]
	s.PeerID = peer
	replaced := false
	for i := range s.Tracks {
		if s.Tracks[i].ID == track.ID {
			s.Tracks[i] = track
			replaced = true
		}
	}
	if !replaced {
		s.Tracks = append(s.Tracks, track)
	}
	m.streams[peer] = s
	m.lock.Unlock()

	m.notify()
}

func (m *StreamMap) remove(peer core.ConnectionID) {
	m.lock.Lock()
	_, ok := m.streams[peer]
	delete(m.streams, peer)
	m.lock.Unlock()

	if ok {
		m.notify()
	}
}

func (m *StreamMap) clear() {
	m.lock.Lock()
	m.streams = make(map[core.ConnectionID]RemoteStream)
	m.lock.Unlock()

	m.notify()
}

func (m *StreamMap) notify() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}
