package rtc

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

var ErrNoLocalMedia = errors.New("local media is not available")

// LocalTrack is an outgoing sample track that can be muted without renegotiation.
// Samples written while disabled are dropped, the sender keeps its place in the SDP.
type LocalTrack struct {
	*webrtc.TrackLocalStaticSample
	enabled atomic.Bool
}

func NewLocalTrack(capability webrtc.RTPCodecCapability, id, streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(capability, id, streamID)
	if err != nil {
		return nil, err
	}

	t := &LocalTrack{TrackLocalStaticSample: track}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) WriteSample(sample media.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.TrackLocalStaticSample.WriteSample(sample)
}

func (t *LocalTrack) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}

func (t *LocalTrack) Enabled() bool {
	return t.enabled.Load()
}

// LocalMedia is the set of tracks a client publishes to every link
type LocalMedia struct {
	Audio  *LocalTrack
	Camera *LocalTrack
	Screen *LocalTrack

	lock    sync.Mutex
	sources []*FileSource
}

// NewLocalMedia creates opus audio, camera and screen VP8 tracks in one stream
func NewLocalMedia(streamID string) (*LocalMedia, error) {
	audio, err := NewLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, err
	}
	camera, err := NewLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "camera", streamID)
	if err != nil {
		return nil, err
	}
	screen, err := NewLocalTrack(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", streamID)
	if err != nil {
		return nil, err
	}

	return &LocalMedia{
		Audio:  audio,
		Camera: camera,
		Screen: screen,
	}, nil
}

// Tracks are the initial senders of a new link
func (m *LocalMedia) Tracks() []*LocalTrack {
	tracks := make([]*LocalTrack, 0, 2)
	if m.Audio != nil {
		tracks = append(tracks, m.Audio)
	}
	if m.Camera != nil {
		tracks = append(tracks, m.Camera)
	}
	return tracks
}

// Attach makes the media own the source, it is closed with the media
func (m *LocalMedia) Attach(source *FileSource) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.sources = append(m.sources, source)
}

// Close disables every track and stops attached sources
func (m *LocalMedia) Close() error {
	for _, t := range []*LocalTrack{m.Audio, m.Camera, m.Screen} {
		if t != nil {
			t.SetEnabled(false)
		}
	}

	m.lock.Lock()
	sources := m.sources
	m.sources = nil
	m.lock.Unlock()

	var firstErr error
	for _, s := range sources {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
