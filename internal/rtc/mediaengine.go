package rtc

import (
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-meet/internal/config"
)

const (
	opusPayloadType = 111
	vp8PayloadType  = 96
)

// supportedVideoCodecs are offered in this order when enabled by the configuration
var supportedVideoCodecs = []webrtc.RTPCodecParameters{
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		PayloadType:        vp8PayloadType,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=0"},
		PayloadType:        98,
	},
	{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 125,
	},
}

// newMediaEngine registers the enabled codecs and header extensions.
// The interceptor registry is per peer connection and must not be shared.
func newMediaEngine(enabledCodecs []config.CodecSpec, direction config.DirectionConfig) (*webrtc.MediaEngine, *interceptor.Registry, error) {
	me := &webrtc.MediaEngine{}
	if err := registerCodecs(me, enabledCodecs, direction.RTCPFeedback); err != nil {
		return nil, nil, err
	}
	if err := registerHeaderExtensions(me, direction.RTPHeaderExtension); err != nil {
		return nil, nil, err
	}

	registry := &interceptor.Registry{}
	// NACK, RTCP reports and TWCC
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return nil, nil, err
	}

	return me, registry, nil
}

func registerCodecs(me *webrtc.MediaEngine, enabledCodecs []config.CodecSpec, feedback config.RTCPFeedbackConfig) error {
	opus := webrtc.RTPCodecCapability{
		MimeType:     webrtc.MimeTypeOpus,
		ClockRate:    48000,
		Channels:     2,
		SDPFmtpLine:  "minptime=10;useinbandfec=1",
		RTCPFeedback: feedback.Audio,
	}
	if isCodecEnabled(enabledCodecs, opus) {
		if err := me.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: opus,
			PayloadType:        opusPayloadType,
		}, webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}

	for _, codec := range supportedVideoCodecs {
		codec.RTCPFeedback = feedback.Video
		if !isCodecEnabled(enabledCodecs, codec.RTPCodecCapability) {
			continue
		}
		if err := me.RegisterCodec(codec, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}

	return nil
}

func registerHeaderExtensions(me *webrtc.MediaEngine, extensions config.RTPHeaderExtensionConfig) error {
	for _, uri := range extensions.Video {
		if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: uri}, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	for _, uri := range extensions.Audio {
		if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: uri}, webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	return nil
}

// isCodecEnabled matches by mime type, an empty fmtp line in the config matches any profile
func isCodecEnabled(codecs []config.CodecSpec, capability webrtc.RTPCodecCapability) bool {
	for _, codec := range codecs {
		if !strings.EqualFold(codec.Mime, capability.MimeType) {
			continue
		}
		if codec.FmtpLine == "" || strings.EqualFold(codec.FmtpLine, capability.SDPFmtpLine) {
			return true
		}
	}
	return false
}
