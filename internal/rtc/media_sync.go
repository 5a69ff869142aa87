package rtc

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-meet/internal/core"
	"github.com/isqad/livelook-meet/internal/eventbus/rpc"
)

// MediaSync applies local media toggles and tells the room about them.
// Mute and video off only gate samples, screen sharing swaps the video
// source and renegotiates every connected link.
type MediaSync struct {
	o       *Orchestrator
	// loop owned
	sharing *LocalTrack

	lock  sync.RWMutex
	state core.MediaState
}

func NewMediaSync(o *Orchestrator) *MediaSync {
	return &MediaSync{o: o}
}

// State is the last applied local media state
func (m *MediaSync) State() core.MediaState {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.state
}

func (m *MediaSync) SetMuted(muted bool) {
	m.o.post(func() {
		if m.o.media.Audio != nil {
			m.o.media.Audio.SetEnabled(!muted)
		}
		m.apply(func(s *core.MediaState) { s.IsMuted = muted })
		m.announce()
	})
}

func (m *MediaSync) SetVideoOff(off bool) {
	m.o.post(func() {
		if m.o.media.Camera != nil {
			m.o.media.Camera.SetEnabled(!off)
		}
		m.apply(func(s *core.MediaState) { s.IsVideoOff = off })
		m.announce()
	})
}

// StartScreenShare sends track instead of the camera, nil means the screen track of the local media
func (m *MediaSync) StartScreenShare(track *LocalTrack) error {
	if track == nil {
		track = m.o.media.Screen
	}
	if track == nil {
		return ErrNoLocalMedia
	}

	m.o.post(func() {
		if m.o.mediaState.IsScreenSharing {
			return
		}
		track.SetEnabled(true)
		m.sharing = track
		m.o.replaceVideo(track)
		m.apply(func(s *core.MediaState) { s.IsScreenSharing = true })
		m.o.send(rpc.NewConnectionRpc(rpc.ScreenShareStartMethod, m.o.self))
		m.o.renegotiateAll()
	})
	return nil
}

// StopScreenShare returns to the camera track. The shared track stops
// producing samples even when there is no camera to put back.
func (m *MediaSync) StopScreenShare() {
	m.o.post(func() {
		if !m.o.mediaState.IsScreenSharing {
			return
		}
		if m.sharing != nil {
			m.sharing.SetEnabled(false)
			m.sharing = nil
		}
		if m.o.media.Camera != nil {
			m.o.replaceVideo(m.o.media.Camera)
		}
		m.apply(func(s *core.MediaState) { s.IsScreenSharing = false })
		m.o.send(rpc.NewConnectionRpc(rpc.ScreenShareEndMethod, m.o.self))
		m.o.renegotiateAll()
	})
}

// apply runs on the loop and mirrors the state into the own roster entry
func (m *MediaSync) apply(f func(*core.MediaState)) {
	f(&m.o.mediaState)
	state := m.o.mediaState

	m.lock.Lock()
	m.state = state
	m.lock.Unlock()

	m.o.roster.update(m.o.self, func(e *RosterEntry) {
		e.IsMuted = state.IsMuted
		e.IsVideoOff = state.IsVideoOff
		e.IsScreenSharing = state.IsScreenSharing
	})
}

func (m *MediaSync) announce() {
	state := m.o.mediaState
	log.Debug().
		Str("service", "orchestrator").
		Str("connectionId", string(m.o.self)).
		Bool("isMuted", state.IsMuted).
		Bool("isVideoOff", state.IsVideoOff).
		Msg("media state changed")

	m.o.send(rpc.NewMediaStateChangeRpc(m.o.self, state.IsMuted, state.IsVideoOff))
}
