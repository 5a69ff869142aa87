package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const (
	oggPageDuration   = 20 * time.Millisecond
	defaultFrameDelay = 33 * time.Millisecond
	opusSampleRate    = 48000
)

var ErrCaptureFailed = errors.New("capture failed")

type sourceKind int

const (
	ivfSource sourceKind = iota
	oggSource
)

// FileSource plays a media file into a local track in a loop, paced like live capture
type FileSource struct {
	path  string
	kind  sourceKind
	track *LocalTrack
	file  *os.File

	closeOnce sync.Once
	done      chan struct{}
}

// OpenIVF opens a VP8 IVF file, failures are reported before anything is sent
func OpenIVF(path string, track *LocalTrack) (*FileSource, error) {
	return openSource(path, ivfSource, track)
}

// OpenOgg opens an Ogg/Opus file
func OpenOgg(path string, track *LocalTrack) (*FileSource, error) {
	return openSource(path, oggSource, track)
}

func openSource(path string, kind sourceKind, track *LocalTrack) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	s := &FileSource{
		path:  path,
		kind:  kind,
		track: track,
		file:  file,
		done:  make(chan struct{}),
	}

	// validate the container header up front
	if err := s.rewind(); err != nil {
		file.Close()
		return nil, err
	}
	switch kind {
	case ivfSource:
		_, _, err = ivfreader.NewWith(file)
	case oggSource:
		_, _, err = oggreader.NewWith(file)
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCaptureFailed, path, err)
	}

	return s, nil
}

// Run sends samples until the context is done or the source is closed
func (s *FileSource) Run(ctx context.Context) error {
	log.Debug().Str("service", "capture").Str("file", s.path).Msg("start file source")

	for {
		var err error
		switch s.kind {
		case ivfSource:
			err = s.playIVF(ctx)
		case oggSource:
			err = s.playOgg(ctx)
		}
		select {
		case <-s.done:
			return nil
		default:
		}
		if !errors.Is(err, io.EOF) {
			return err
		}
		// start over
		if err := s.rewind(); err != nil {
			return err
		}
	}
}

func (s *FileSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	return nil
}

func (s *FileSource) playIVF(ctx context.Context) error {
	ivf, header, err := ivfreader.NewWith(s.file)
	if err != nil {
		return err
	}

	delay := defaultFrameDelay
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		delay = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	// A ticker avoids accumulating skew from parsing time
	ticker := time.NewTicker(delay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := s.track.WriteSample(media.Sample{Data: frame, Duration: delay}); err != nil {
			return err
		}
	}
}

func (s *FileSource) playOgg(ctx context.Context) error {
	ogg, _, err := oggreader.NewWith(s.file)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
		}

		page, pageHeader, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}

		// granule position counts samples, the difference is this page's share
		samples := pageHeader.GranulePosition - lastGranule
		lastGranule = pageHeader.GranulePosition
		duration := time.Duration(float64(samples) / opusSampleRate * float64(time.Second))

		if err := s.track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}

func (s *FileSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.file.Close()
	})
	return err
}
